package realtime

import (
	"time"

	v1 "campusconnect/shared/contracts/chat/v1"
)

// Message is a committed chat message ready for fan-out.
type Message struct {
	ID                string
	ConversationID    string
	SenderID          string
	SenderDisplayName string
	Text              string
	CommittedAt       time.Time
}

// Payload converts the message to its wire payload.
func (m Message) Payload() v1.NewMessagePayload {
	return v1.NewMessagePayload{
		MessageID:      v1.ID(m.ID),
		MessageText:    m.Text,
		CreatedAt:      m.CommittedAt,
		SenderUsername: m.SenderDisplayName,
		SenderID:       v1.ID(m.SenderID),
	}
}
