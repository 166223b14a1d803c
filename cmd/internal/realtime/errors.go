package realtime

import (
	"errors"
	"fmt"
)

// Error kinds (stable for errors.Is). None of them is fatal to the process.
var (
	// ErrAuth: token rejected, identity unknown, or a join gate refused the connection.
	ErrAuth = errors.New("auth_failed")

	// ErrMalformedFrame: undecodable, unknown, or out-of-limits inbound frame.
	ErrMalformedFrame = errors.New("malformed_frame")

	// ErrRateLimited: inbound frame dropped by the per-connection limiter.
	ErrRateLimited = errors.New("rate_limited")

	// ErrPersist: the message store did not commit the message.
	ErrPersist = errors.New("persist_failed")
)

// FrameError ties an error kind to the connection and operation that produced it.
type FrameError struct {
	Op     string
	ConnID string
	Kind   error
	Err    error
}

func (e FrameError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: conn %s: %v", e.Op, e.ConnID, e.Kind)
	}
	return fmt.Sprintf("%s: conn %s: %v: %v", e.Op, e.ConnID, e.Kind, e.Err)
}

func (e FrameError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
