package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an opaque identifier (user, conversation, message).
//
// On input it accepts a JSON number or a JSON string. On output a decimal
// integer id is written as a JSON number, anything else as a JSON string,
// so serial database keys round-trip the way browser clients expect.
type ID string

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty after trimming.
func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id: want number or string: %w", err)
		}
		if _, err := n.Int64(); err != nil {
			return fmt.Errorf("id: not an integer: %s", n)
		}
		*id = ID(n.String())
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	s := string(id)
	if isDecimalInt(s) {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// isDecimalInt reports whether s is a canonical base-10 integer
// (optional leading '-', no leading zeros, at most 18 digits so it stays
// exact in JavaScript clients up to 2^53 for realistic serial keys).
func isDecimalInt(s string) bool {
	if s == "" {
		return false
	}
	digits := s
	if digits[0] == '-' {
		digits = digits[1:]
	}
	if digits == "" || len(digits) > 18 {
		return false
	}
	if len(digits) > 1 && digits[0] == '0' {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return s != "-0"
}
