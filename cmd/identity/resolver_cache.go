package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultCachePrefix = "campusconnect:identity:"
)

// CachedResolver fronts another Resolver with a Redis read-through cache.
//
// Only display names are cached. Every hit re-confirms the account with the
// backing resolver (Exists when it implements ExistenceChecker, else Resolve),
// so a deleted user stops resolving immediately and its entry is dropped.
// Redis failures never fail a resolve: the call falls through to the backing
// resolver and the error is logged. Misses for unknown users are not cached.
type CachedResolver struct {
	next   Resolver
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// CacheOption configures a CachedResolver.
type CacheOption func(*CachedResolver)

// WithCacheTTL overrides the entry lifetime (default 5m). Non-positive values are ignored.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedResolver) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCachePrefix overrides the key prefix.
func WithCachePrefix(prefix string) CacheOption {
	return func(c *CachedResolver) {
		if p := strings.TrimSpace(prefix); p != "" {
			c.prefix = p
		}
	}
}

// WithCacheLogger sets the logger used for cache errors.
func WithCacheLogger(log *slog.Logger) CacheOption {
	return func(c *CachedResolver) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCachedResolver wraps next with rdb. A nil rdb disables caching.
func NewCachedResolver(next Resolver, rdb redis.UniversalClient, opts ...CacheOption) *CachedResolver {
	c := &CachedResolver{
		next:   next,
		rdb:    rdb,
		ttl:    defaultCacheTTL,
		prefix: defaultCachePrefix,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	const op = "identity.CachedResolver.Resolve"

	if c == nil || c.next == nil {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil resolver"}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}
	if c.rdb == nil {
		return c.next.Resolve(ctx, userID)
	}

	key := c.key(userID)
	name, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return c.confirmHit(ctx, op, userID, name)
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("identity.cache.get_failed", "user_id", userID, "err", err)
	}

	id, err := c.next.Resolve(ctx, userID)
	if err != nil {
		return Identity{}, err
	}

	if err := c.rdb.Set(ctx, key, id.DisplayName, c.ttl).Err(); err != nil {
		c.log.Warn("identity.cache.set_failed", "user_id", userID, "err", err)
	}
	return id, nil
}

func (c *CachedResolver) confirmHit(ctx context.Context, op, userID, name string) (Identity, error) {
	checker, ok := c.next.(ExistenceChecker)
	if !ok {
		id, err := c.next.Resolve(ctx, userID)
		if IsNotFound(err) {
			c.drop(ctx, userID)
		}
		return id, err
	}

	exists, err := checker.Exists(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	if !exists {
		c.drop(ctx, userID)
		return Identity{}, NotFoundError{Op: op, UserID: userID}
	}
	return Identity{UserID: userID, DisplayName: name}, nil
}

func (c *CachedResolver) drop(ctx context.Context, userID string) {
	if err := c.rdb.Del(ctx, c.key(userID)).Err(); err != nil {
		c.log.Warn("identity.cache.del_failed", "user_id", userID, "err", err)
	}
}

// Invalidate drops the cached entry for userID.
func (c *CachedResolver) Invalidate(ctx context.Context, userID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.key(strings.TrimSpace(userID))).Err()
}

func (c *CachedResolver) key(userID string) string {
	return c.prefix + userID
}
