package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Identity is the resolved principal attached to a joined connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// Resolver maps a verified user id to a display name.
//
// Resolve returns an error satisfying IsNotFound when the account no longer exists.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Identity, error)
}

// ExistenceChecker is implemented by resolvers that can confirm an account
// still exists more cheaply than a full Resolve.
type ExistenceChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// StaticResolver is an in-memory Resolver for development and tests.
type StaticResolver struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewStaticResolver constructs a StaticResolver from userID -> display name.
func NewStaticResolver(names map[string]string) *StaticResolver {
	cp := make(map[string]string, len(names))
	for id, name := range names {
		cp[strings.TrimSpace(id)] = strings.TrimSpace(name)
	}
	return &StaticResolver{names: cp}
}

// ParseStaticIdentities parses "id:name,id:name" (CHAT_DEV_USERS).
func ParseStaticIdentities(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		name = strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			return nil, OpError{Op: "identity.ParseStaticIdentities", Kind: ErrInvalidInput, Msg: fmt.Sprintf("bad entry %q", part)}
		}
		out[id] = name
	}
	return out, nil
}

// Set adds or replaces one identity.
func (r *StaticResolver) Set(userID, displayName string) {
	r.mu.Lock()
	r.names[strings.TrimSpace(userID)] = strings.TrimSpace(displayName)
	r.mu.Unlock()
}

// Delete removes one identity.
func (r *StaticResolver) Delete(userID string) {
	r.mu.Lock()
	delete(r.names, strings.TrimSpace(userID))
	r.mu.Unlock()
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	const op = "identity.StaticResolver.Resolve"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}

	r.mu.RLock()
	name, ok := r.names[userID]
	r.mu.RUnlock()
	if !ok {
		return Identity{}, NotFoundError{Op: op, UserID: userID}
	}
	return Identity{UserID: userID, DisplayName: name}, nil
}

// Exists implements ExistenceChecker.
func (r *StaticResolver) Exists(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	_, ok := r.names[strings.TrimSpace(userID)]
	r.mu.RUnlock()
	return ok, nil
}
