package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStaticIdentities(t *testing.T) {
	t.Parallel()

	got, err := ParseStaticIdentities(" 7:alice, 9:bob ,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7": "alice", "9": "bob"}, got)

	for _, raw := range []string{"7", "7:", ":alice"} {
		_, err := ParseStaticIdentities(raw)
		assert.True(t, IsInvalidInput(err), "raw=%q err=%v", raw, err)
	}
}

func TestStaticResolver_Resolve(t *testing.T) {
	t.Parallel()

	r := NewStaticResolver(map[string]string{"7": "alice"})
	ctx := context.Background()

	id, err := r.Resolve(ctx, " 7 ")
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "7", DisplayName: "alice"}, id)

	_, err = r.Resolve(ctx, "8")
	assert.True(t, IsNotFound(err))
	var nf NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "8", nf.UserID)

	_, err = r.Resolve(ctx, "")
	assert.True(t, IsInvalidInput(err))

	r.Delete("7")
	_, err = r.Resolve(ctx, "7")
	assert.True(t, IsNotFound(err))

	r.Set("7", "alice2")
	id, err = r.Resolve(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "alice2", id.DisplayName)
}

func TestStaticResolver_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticResolver(map[string]string{"7": "alice"}).Resolve(ctx, "7")
	assert.ErrorIs(t, err, context.Canceled)
}

type countingResolver struct {
	Resolver
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	c.calls++
	return c.Resolver.Resolve(ctx, userID)
}

func TestCachedResolver_NilClientPassesThrough(t *testing.T) {
	t.Parallel()

	next := &countingResolver{Resolver: NewStaticResolver(map[string]string{"7": "alice"})}
	c := NewCachedResolver(next, nil)

	for i := 0; i < 3; i++ {
		id, err := c.Resolve(context.Background(), "7")
		require.NoError(t, err)
		assert.Equal(t, "alice", id.DisplayName)
	}
	assert.Equal(t, 3, next.calls)
	assert.NoError(t, c.Invalidate(context.Background(), "7"))
}

func TestCachedResolver_RedisDownFallsThrough(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	next := &countingResolver{Resolver: NewStaticResolver(map[string]string{"7": "alice"})}
	c := NewCachedResolver(next, rdb, WithCacheTTL(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.Resolve(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "7", DisplayName: "alice"}, id)
	assert.Equal(t, 1, next.calls)

	_, err = c.Resolve(ctx, "404")
	assert.True(t, IsNotFound(err))
}

// memRedis serves GET/SET/DEL from a map through a go-redis process hook,
// so no server is dialed.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemRedis(t *testing.T) (*redis.Client, *memRedis) {
	t.Helper()

	m := &memRedis{data: make(map[string]string)}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	rdb.AddHook(m)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, m
}

func (m *memRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (m *memRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (m *memRedis) ProcessHook(_ redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		args := cmd.Args()
		switch c := cmd.(type) {
		case *redis.StringCmd:
			v, ok := m.data[fmt.Sprint(args[1])]
			if !ok {
				c.SetErr(redis.Nil)
				return redis.Nil
			}
			c.SetVal(v)
		case *redis.StatusCmd:
			m.data[fmt.Sprint(args[1])] = fmt.Sprint(args[2])
			c.SetVal("OK")
		case *redis.IntCmd:
			var n int64
			for _, k := range args[1:] {
				if _, ok := m.data[fmt.Sprint(k)]; ok {
					delete(m.data, fmt.Sprint(k))
					n++
				}
			}
			c.SetVal(n)
		default:
			err := fmt.Errorf("memRedis: unsupported command %s", cmd.Name())
			cmd.SetErr(err)
			return err
		}
		return nil
	}
}

func (m *memRedis) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// checkingResolver counts Resolve and Exists calls on a StaticResolver.
type checkingResolver struct {
	*StaticResolver
	resolves  int
	exists    int
	existsErr error
}

func (c *checkingResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	c.resolves++
	return c.StaticResolver.Resolve(ctx, userID)
}

func (c *checkingResolver) Exists(ctx context.Context, userID string) (bool, error) {
	c.exists++
	if c.existsErr != nil {
		return false, c.existsErr
	}
	return c.StaticResolver.Exists(ctx, userID)
}

func TestCachedResolver_HitServesNameAfterExistenceCheck(t *testing.T) {
	t.Parallel()

	rdb, mem := newMemRedis(t)
	next := &checkingResolver{StaticResolver: NewStaticResolver(map[string]string{"7": "alice"})}
	c := NewCachedResolver(next, rdb)
	ctx := context.Background()

	id, err := c.Resolve(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "7", DisplayName: "alice"}, id)
	cached, ok := mem.get(defaultCachePrefix + "7")
	require.True(t, ok)
	assert.Equal(t, "alice", cached)

	// Renames show up only after the entry expires or is invalidated.
	next.Set("7", "alice2")
	id, err = c.Resolve(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.DisplayName)
	assert.Equal(t, 1, next.resolves)
	assert.Equal(t, 1, next.exists)

	require.NoError(t, c.Invalidate(ctx, "7"))
	id, err = c.Resolve(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "alice2", id.DisplayName)
	assert.Equal(t, 2, next.resolves)
}

func TestCachedResolver_DeletedUserNotServedFromCache(t *testing.T) {
	t.Parallel()

	rdb, mem := newMemRedis(t)
	next := &checkingResolver{StaticResolver: NewStaticResolver(map[string]string{"7": "alice"})}
	c := NewCachedResolver(next, rdb)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "7")
	require.NoError(t, err)

	next.Delete("7")
	_, err = c.Resolve(ctx, "7")
	assert.True(t, IsNotFound(err), "err=%v", err)
	_, ok := mem.get(defaultCachePrefix + "7")
	assert.False(t, ok, "entry of a deleted user is dropped")
}

func TestCachedResolver_HitWithoutExistenceCheckerResolves(t *testing.T) {
	t.Parallel()

	rdb, mem := newMemRedis(t)
	static := NewStaticResolver(map[string]string{"7": "alice"})
	next := &countingResolver{Resolver: static}
	c := NewCachedResolver(next, rdb)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "7")
	require.NoError(t, err)
	_, err = c.Resolve(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	static.Delete("7")
	_, err = c.Resolve(ctx, "7")
	assert.True(t, IsNotFound(err), "err=%v", err)
	_, ok := mem.get(defaultCachePrefix + "7")
	assert.False(t, ok)
}

func TestCachedResolver_HitFailsClosedWhenCheckFails(t *testing.T) {
	t.Parallel()

	rdb, _ := newMemRedis(t)
	next := &checkingResolver{StaticResolver: NewStaticResolver(map[string]string{"7": "alice"})}
	c := NewCachedResolver(next, rdb)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "7")
	require.NoError(t, err)

	down := OpError{Op: "identity.test", Kind: ErrUnavailable}
	next.existsErr = down
	_, err = c.Resolve(ctx, "7")
	assert.True(t, IsUnavailable(err), "err=%v", err)
}

func TestCachedResolver_EmptyUserID(t *testing.T) {
	t.Parallel()

	c := NewCachedResolver(NewStaticResolver(nil), nil)
	_, err := c.Resolve(context.Background(), "  ")
	assert.True(t, IsInvalidInput(err))
}

func TestOpError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(OpError{Op: "identity.x", Kind: ErrUnavailable, Err: cause})
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "identity.x: unavailable: boom", err.Error())
}

func TestWithSchema_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	r := &PostgresResolver{}
	assert.Error(t, WithSchema("")(r))
	assert.Error(t, WithSchema(`public"; drop table users;--`)(r))
	assert.NoError(t, WithSchema("campus_1")(r))
	assert.Equal(t, "campus_1", r.schema)

	_, err := NewPostgresResolver(nil)
	assert.Error(t, err)
}
