package realtime

import (
	"context"
	"time"
)

// StoredMessage is what the store committed: its id and timestamp are authoritative.
type StoredMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	CommittedAt    time.Time
}

// AppendInput describes a message append request.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Text           string
}

// MessageStore durably appends chat messages.
//
// Requirements:
//   - Append either commits and returns the stored row, or returns an error and commits nothing
//   - Message ids are monotonic per conversation
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (StoredMessage, error)
}
