package realtime

import (
	"time"

	"campusconnect/cmd/identity/ids"
)

// NewConnID returns a ULID used as connection id in logs and registry keys.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
