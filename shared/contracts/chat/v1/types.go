package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type constants (wire-stable).
const (
	// TypeJoin authenticates the socket and joins one conversation (client -> server).
	TypeJoin = "join"
	// TypeMessage sends a chat message into the joined conversation (client -> server).
	TypeMessage = "message"
	// TypeNewMessage broadcasts a committed message to the room (server -> client).
	TypeNewMessage = "newMessage"
)

var (
	// ErrBadJSON is returned when a frame is not a JSON object.
	ErrBadJSON = errors.New("bad json")
	// ErrUnknownType is returned for a missing or unrecognized "type".
	ErrUnknownType = errors.New("unknown frame type")
	// ErrMissingField is returned when a required field is absent or blank.
	ErrMissingField = errors.New("missing field")
)

// Frame is a decoded client -> server frame: JoinFrame or MessageFrame.
type Frame interface {
	FrameType() string
}

// JoinFrame carries the bearer token and the target conversation.
type JoinFrame struct {
	Token          string
	ConversationID ID
}

// FrameType implements Frame.
func (JoinFrame) FrameType() string { return TypeJoin }

// MessageFrame carries the text of one chat message.
type MessageFrame struct {
	Text string
}

// FrameType implements Frame.
func (MessageFrame) FrameType() string { return TypeMessage }

// clientEnvelope is the raw shape shared by every client frame.
type clientEnvelope struct {
	Type           string  `json:"type"`
	Token          string  `json:"token"`
	ConversationID ID      `json:"conversationId"`
	Text           *string `json:"text"`
}

// DecodeClientFrame parses one inbound frame into a typed Frame.
func DecodeClientFrame(data []byte) (Frame, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}

	switch env.Type {
	case TypeJoin:
		token := strings.TrimSpace(env.Token)
		if token == "" {
			return nil, fmt.Errorf("%w: token", ErrMissingField)
		}
		if env.ConversationID.IsZero() {
			return nil, fmt.Errorf("%w: conversationId", ErrMissingField)
		}
		return JoinFrame{Token: token, ConversationID: env.ConversationID}, nil

	case TypeMessage:
		if env.Text == nil {
			return nil, fmt.Errorf("%w: text", ErrMissingField)
		}
		return MessageFrame{Text: *env.Text}, nil

	case "":
		return nil, fmt.Errorf("%w: empty", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// EncodeJoin renders a join frame (used by clients and tests).
func EncodeJoin(token string, conversationID ID) ([]byte, error) {
	return json.Marshal(struct {
		Type           string `json:"type"`
		Token          string `json:"token"`
		ConversationID ID     `json:"conversationId"`
	}{TypeJoin, token, conversationID})
}

// EncodeMessage renders a message frame (used by clients and tests).
func EncodeMessage(text string) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{TypeMessage, text})
}

// NewMessagePayload is the broadcast body; field names match the history rows.
type NewMessagePayload struct {
	MessageID      ID        `json:"message_id"`
	MessageText    string    `json:"message_text"`
	CreatedAt      time.Time `json:"created_at"`
	SenderUsername string    `json:"sender_username"`
	SenderID       ID        `json:"sender_id"`
}

// NewMessageEnvelope is the server -> client broadcast envelope.
type NewMessageEnvelope struct {
	Type    string            `json:"type"`
	Payload NewMessagePayload `json:"payload"`
}

// EncodeNewMessage renders the newMessage envelope once for fan-out.
func EncodeNewMessage(p NewMessagePayload) ([]byte, error) {
	p.CreatedAt = p.CreatedAt.UTC()
	return json.Marshal(NewMessageEnvelope{Type: TypeNewMessage, Payload: p})
}

// DecodeNewMessage parses a server broadcast (used by clients and tests).
func DecodeNewMessage(data []byte) (NewMessagePayload, error) {
	var env NewMessageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return NewMessagePayload{}, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if env.Type != TypeNewMessage {
		return NewMessagePayload{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env.Payload, nil
}
