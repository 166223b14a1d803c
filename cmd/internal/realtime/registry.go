package realtime

import (
	"log/slog"
	"sync"
)

// Registry maps conversation ids to the Joined connections present in them.
//
// Rooms are created on first join and removed when their last member leaves.
// Join and Leave are idempotent; MembersOf returns a snapshot that later
// mutations never affect.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]*Connection
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		rooms: make(map[string]map[string]*Connection),
	}
}

// Join adds conn to the room. It reports whether membership changed.
func (r *Registry) Join(conversationID string, conn *Connection) bool {
	if conn == nil || conn.ID == "" || conversationID == "" {
		return false
	}

	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	if !ok {
		room = make(map[string]*Connection)
		r.rooms[conversationID] = room
	}
	_, present := room[conn.ID]
	room[conn.ID] = conn
	size := len(room)
	r.mu.Unlock()

	if present {
		return false
	}
	r.log.Info("room.member.join", "conversation_id", conversationID, "conn_id", conn.ID, "members", size)
	return true
}

// Leave removes conn from the room, deleting the room when it becomes empty.
// Removing an absent member is a no-op. It reports whether membership changed.
func (r *Registry) Leave(conversationID string, conn *Connection) bool {
	if conn == nil || conn.ID == "" || conversationID == "" {
		return false
	}

	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, present := room[conn.ID]; !present {
		r.mu.Unlock()
		return false
	}
	delete(room, conn.ID)
	size := len(room)
	if size == 0 {
		delete(r.rooms, conversationID)
	}
	r.mu.Unlock()

	r.log.Info("room.member.leave", "conversation_id", conversationID, "conn_id", conn.ID, "members", size)
	return true
}

// MembersOf returns a snapshot of the room (nil when absent).
func (r *Registry) MembersOf(conversationID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	if len(room) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// Contains reports whether conn is a member of the room.
func (r *Registry) Contains(conversationID string, conn *Connection) bool {
	if conn == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[conversationID][conn.ID]
	return ok
}

// MemberCount returns the room size (0 when absent).
func (r *Registry) MemberCount(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
