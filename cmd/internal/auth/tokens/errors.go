package tokens

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when a token fails signature, format or claim validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when a token is past its expiry (beyond clock skew).
	// It matches ErrInvalidToken under errors.Is.
	ErrExpiredToken = fmt.Errorf("%w: expired", ErrInvalidToken)

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid token config")
)
