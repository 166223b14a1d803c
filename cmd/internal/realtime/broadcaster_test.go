package realtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(convID, id string) Message {
	return Message{
		ID:                id,
		ConversationID:    convID,
		SenderID:          "7",
		SenderDisplayName: "alice",
		Text:              "hi",
		CommittedAt:       time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC),
	}
}

func TestBroadcaster_DeliversToAllMembersIncludingSender(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	sender := joinedConn(t, reg, "a", "7", "alice", "42")
	other := joinedConn(t, reg, "b", "9", "bob", "42")

	rep := NewBroadcaster(discardLogger(), reg, nil).Broadcast(testMessage("42", "100"))
	assert.Equal(t, DeliveryReport{Delivered: 2}, rep)

	for _, c := range []*Connection{sender, other} {
		got := drain(t, c)
		require.Len(t, got, 1, c.ID)
		assert.Equal(t, "100", got[0].MessageID.String())
		assert.Equal(t, "hi", got[0].MessageText)
		assert.Equal(t, "alice", got[0].SenderUsername)
		assert.Equal(t, "7", got[0].SenderID.String())
	}
}

func TestBroadcaster_EmptyRoom(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	rep := NewBroadcaster(discardLogger(), reg, nil).Broadcast(testMessage("42", "1"))
	assert.Equal(t, DeliveryReport{}, rep)
}

// A full or closed member loses the message; everyone else still gets it.
func TestBroadcaster_DropsOnlyForSlowOrClosedMember(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	fast := joinedConn(t, reg, "fast", "1", "u1", "42")
	slow := joinedConn(t, reg, "slow", "2", "u2", "42")
	gone := joinedConn(t, reg, "gone", "3", "u3", "42")

	for i := 0; i < wsMinSendQueueSize; i++ {
		require.True(t, slow.Enqueue([]byte("{}")))
	}
	gone.Close()

	metrics := NewMetrics(prometheus.NewRegistry(), reg)
	rep := NewBroadcaster(discardLogger(), reg, metrics).Broadcast(testMessage("42", "5"))

	assert.Equal(t, DeliveryReport{Delivered: 1, Dropped: 2}, rep)
	assert.Len(t, drain(t, fast), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.delivered))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.dropped))
}

// Broadcasts never leak across rooms.
func TestBroadcaster_IsolationAcrossRooms(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	inA := joinedConn(t, reg, "a", "1", "u1", "A")
	inB := joinedConn(t, reg, "b", "2", "u2", "B")

	b := NewBroadcaster(discardLogger(), reg, nil)
	b.Broadcast(testMessage("A", "1"))
	b.Broadcast(testMessage("A", "2"))

	assert.Len(t, drain(t, inA), 2)
	assert.Empty(t, drain(t, inB))
}
