package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "campusconnect/shared/contracts/chat/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// joinedConn builds a Joined connection and registers it, the way the gateway does.
func joinedConn(t *testing.T, reg *Registry, id, userID, name, convID string) *Connection {
	t.Helper()
	c := NewConnection(id, wsMinSendQueueSize)
	if !c.join(userID, name, convID) {
		t.Fatalf("join %s: unexpected state %s", id, c.State())
	}
	reg.Join(convID, c)
	return c
}

// drain returns every frame currently queued on c, decoded.
func drain(t *testing.T, c *Connection) []v1.NewMessagePayload {
	t.Helper()
	var out []v1.NewMessagePayload
	for {
		select {
		case b := <-c.frames():
			p, err := v1.DecodeNewMessage(b)
			if err != nil {
				t.Fatalf("decode newMessage: %v", err)
			}
			out = append(out, p)
		default:
			return out
		}
	}
}

// recordingStore is a MessageStore with controllable failure and blocking.
type recordingStore struct {
	mu     sync.Mutex
	inner  *InMemoryStore
	fail   error
	block  chan struct{}
	called chan struct{}
	order  []string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{inner: NewInMemoryStore()}
}

func (s *recordingStore) Append(ctx context.Context, in AppendInput) (StoredMessage, error) {
	s.mu.Lock()
	fail, block, called := s.fail, s.block, s.called
	s.mu.Unlock()

	if called != nil {
		select {
		case called <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return StoredMessage{}, ctx.Err()
		}
	}
	if fail != nil {
		return StoredMessage{}, fail
	}

	m, err := s.inner.Append(ctx, in)
	if err != nil {
		return StoredMessage{}, err
	}
	s.mu.Lock()
	s.order = append(s.order, m.ID)
	s.mu.Unlock()
	return m, nil
}

func (s *recordingStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *recordingStore) committed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

var errStoreDown = errors.New("store down")

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
