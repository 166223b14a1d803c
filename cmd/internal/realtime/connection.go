package realtime

import (
	"sync"
)

// Connection is one client session.
//
// Identity fields are written once, by the join transition, and are read-only afterwards.
// The send queue is never closed; done signals the writer and broadcasters instead,
// so a concurrent Enqueue can never panic.
type Connection struct {
	ID string

	mu             sync.RWMutex
	state          State
	userID         string
	displayName    string
	conversationID string

	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	releaseOnce sync.Once
}

// NewConnection constructs an Unauthenticated connection with a bounded send queue.
func NewConnection(id string, sendQueueSize int) *Connection {
	if sendQueueSize < wsMinSendQueueSize {
		sendQueueSize = wsMinSendQueueSize
	}
	return &Connection{
		ID:    id,
		state: StateUnauthenticated,
		send:  make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
	}
}

// State returns the current protocol state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserID is empty until joined.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// DisplayName is empty until joined.
func (c *Connection) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

// ConversationID is empty until joined.
func (c *Connection) ConversationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conversationID
}

// transition applies ev and reports whether it was legal in the current state.
func (c *Connection) transition(ev stateEvent) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	to, ok := nextState(c.state, ev)
	if !ok {
		return c.state, false
	}
	c.state = to
	return to, true
}

// join binds identity and room and moves to Joined in one step.
// It fails (leaving everything untouched) unless the connection is Unauthenticated.
func (c *Connection) join(userID, displayName, conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	to, ok := nextState(c.state, evJoinOK)
	if !ok {
		return false
	}
	c.state = to
	c.userID = userID
	c.displayName = displayName
	c.conversationID = conversationID
	return true
}

// markClosed moves to Closed and returns the state it left.
func (c *Connection) markClosed() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	c.state = StateClosed
	return prev
}

// Enqueue offers an encoded frame to the writer without blocking.
// It reports false when the queue is full or the connection is shutting down.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Done is closed when the connection is shutting down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close signals shutdown (idempotent). It does not touch registry membership.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Connection) frames() <-chan []byte {
	return c.send
}
