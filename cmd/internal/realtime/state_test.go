package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextState_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from State
		ev   stateEvent
		to   State
		ok   bool
	}{
		{StateUnauthenticated, evJoinOK, StateJoined, true},
		{StateUnauthenticated, evJoinFail, StateClosed, true},
		{StateUnauthenticated, evMessage, StateUnauthenticated, false},
		{StateUnauthenticated, evClose, StateClosed, true},
		{StateJoined, evJoinOK, StateJoined, false},
		{StateJoined, evMessage, StateJoined, true},
		{StateJoined, evClose, StateClosed, true},
		{StateClosed, evJoinOK, StateClosed, false},
		{StateClosed, evMessage, StateClosed, false},
		{StateClosed, evClose, StateClosed, false},
	}
	for _, tc := range cases {
		c := &Connection{state: tc.from}
		got, ok := c.transition(tc.ev)
		assert.Equal(t, tc.ok, ok, "%s + %d", tc.from, tc.ev)
		assert.Equal(t, tc.to, got, "%s + %d", tc.from, tc.ev)
		assert.Equal(t, tc.to, c.State())
	}
}

func TestConnection_JoinOnce(t *testing.T) {
	t.Parallel()

	c := NewConnection("c1", 0)
	assert.Equal(t, StateUnauthenticated, c.State())
	assert.Equal(t, wsMinSendQueueSize, cap(c.send))

	assert.True(t, c.join("7", "alice", "42"))
	assert.Equal(t, StateJoined, c.State())

	assert.False(t, c.join("8", "mallory", "43"), "second join must not rebind identity")
	assert.Equal(t, "7", c.UserID())
	assert.Equal(t, "alice", c.DisplayName())
	assert.Equal(t, "42", c.ConversationID())
}

func TestConnection_EnqueueAfterClose(t *testing.T) {
	t.Parallel()

	c := NewConnection("c1", wsMinSendQueueSize)
	assert.True(t, c.Enqueue([]byte("a")))

	c.Close()
	c.Close()
	assert.False(t, c.Enqueue([]byte("b")))
}

func TestConnection_EnqueueFullQueue(t *testing.T) {
	t.Parallel()

	c := NewConnection("c1", wsMinSendQueueSize)
	for i := 0; i < wsMinSendQueueSize; i++ {
		assert.True(t, c.Enqueue([]byte("x")))
	}
	assert.False(t, c.Enqueue([]byte("overflow")))
}
