package realtime

import (
	"log/slog"
)

// Lifecycle tears down connections. Release is safe to call any number of times,
// from any state, and never panics.
type Lifecycle struct {
	log      *slog.Logger
	registry *Registry
}

// NewLifecycle constructs a Lifecycle over registry.
func NewLifecycle(log *slog.Logger, registry *Registry) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{log: log, registry: registry}
}

// Release closes conn and, if it was Joined, removes it from its room exactly once.
// It reports whether this call performed the release.
func (l *Lifecycle) Release(conn *Connection) (released bool) {
	if conn == nil {
		return false
	}

	conn.releaseOnce.Do(func() {
		released = true

		defer func() {
			if r := recover(); r != nil {
				l.log.Error("conn.release.panic", "conn_id", conn.ID, "panic", r)
			}
		}()

		prev := conn.markClosed()
		conn.Close()

		if prev != StateJoined {
			l.log.Debug("conn.release", "conn_id", conn.ID, "state", prev.String())
			return
		}

		convID := conn.ConversationID()
		if !l.registry.Leave(convID, conn) {
			l.log.Warn("conn.release.not_registered", "conn_id", conn.ID, "conversation_id", convID)
		}
		l.log.Debug("conn.release", "conn_id", conn.ID, "state", prev.String(), "conversation_id", convID)
	})
	return released
}
