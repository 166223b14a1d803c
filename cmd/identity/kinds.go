package identity

import "errors"

// Sentinel error kinds (stable for errors.Is).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrUnavailable  = errors.New("unavailable")
)
