package realtime

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	memMaxMessagesPerConversation = 10_000
)

// InMemoryStore is a dev-only MessageStore used when no database is configured.
// Ids come from one store-wide counter, like a serial column.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	convs  map[string][]StoredMessage
	now    func() time.Time
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs: make(map[string][]StoredMessage),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append implements MessageStore.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (StoredMessage, error) {
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.SenderID) == "" {
		return StoredMessage{}, errors.New("realtime: invalid append input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg := StoredMessage{
		ID:             strconv.FormatInt(s.nextID, 10),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		CommittedAt:    s.now(),
	}

	msgs := append(s.convs[in.ConversationID], msg)
	// Bound memory to avoid unbounded growth in dev.
	if len(msgs) > memMaxMessagesPerConversation {
		msgs = msgs[len(msgs)-memMaxMessagesPerConversation:]
	}
	s.convs[in.ConversationID] = msgs

	return msg, nil
}

// History returns a copy of the retained messages of a conversation in commit order.
func (s *InMemoryStore) History(conversationID string) []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoredMessage(nil), s.convs[conversationID]...)
}
