package realtime

import (
	"log/slog"

	v1 "campusconnect/shared/contracts/chat/v1"
)

// DeliveryReport counts per-member outcomes of one broadcast.
type DeliveryReport struct {
	Delivered int
	Dropped   int
}

// Broadcaster fans committed messages out to the current members of a room.
//
// Delivery is best-effort and never blocks: a member whose queue is full or
// closed is skipped for that message only. The sender is an ordinary member.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
	metrics  *Metrics
}

// NewBroadcaster constructs a Broadcaster over registry. metrics may be nil.
func NewBroadcaster(log *slog.Logger, registry *Registry, metrics *Metrics) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, registry: registry, metrics: metrics}
}

// Broadcast encodes msg once and offers it to every member of its room.
func (b *Broadcaster) Broadcast(msg Message) DeliveryReport {
	var rep DeliveryReport

	members := b.registry.MembersOf(msg.ConversationID)
	if len(members) == 0 {
		return rep
	}

	frame, err := v1.EncodeNewMessage(msg.Payload())
	if err != nil {
		b.log.Error("broadcast.encode.fail", "conversation_id", msg.ConversationID, "message_id", msg.ID, "err", err)
		rep.Dropped = len(members)
		b.metrics.broadcast(rep)
		return rep
	}

	for _, m := range members {
		if m.Enqueue(frame) {
			rep.Delivered++
			continue
		}
		rep.Dropped++
		b.log.Warn("broadcast.drop", "conversation_id", msg.ConversationID, "message_id", msg.ID, "conn_id", m.ID)
	}

	b.metrics.broadcast(rep)
	return rep
}
