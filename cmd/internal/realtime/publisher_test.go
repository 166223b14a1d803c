package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	v1 "campusconnect/shared/contracts/chat/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(reg *Registry, store MessageStore, opts ...PublisherOption) *Publisher {
	log := discardLogger()
	return NewPublisher(log, store, NewBroadcaster(log, reg, nil), opts...)
}

func TestPublisher_PersistThenBroadcast(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	a := joinedConn(t, reg, "a", "7", "alice", "42")
	b := joinedConn(t, reg, "b", "9", "bob", "42")
	store := newRecordingStore()

	msg, rep, err := newTestPublisher(reg, store).Publish(context.Background(), a, "hi")
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Delivered: 2}, rep)
	assert.Equal(t, []string{msg.ID}, store.committed())

	for _, c := range []*Connection{a, b} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, msg.ID, got[0].MessageID.String())
		assert.Equal(t, "alice", got[0].SenderUsername)
		assert.True(t, got[0].CreatedAt.Equal(msg.CommittedAt))
	}
}

// A failed append broadcasts nothing and reports ErrPersist.
func TestPublisher_PersistFailure_NoBroadcast(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	a := joinedConn(t, reg, "a", "7", "alice", "42")
	b := joinedConn(t, reg, "b", "9", "bob", "42")
	store := newRecordingStore()
	store.fail = errStoreDown

	_, rep, err := newTestPublisher(reg, store).Publish(context.Background(), a, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, errStoreDown)

	var fe FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "a", fe.ConnID)

	assert.Equal(t, DeliveryReport{}, rep)
	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
}

// Concurrent senders in one room: every member sees commit order.
func TestPublisher_OrderingMatchesCommitOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	const senders = 4
	const perSender = 6 // senders*perSender stays below the minimum queue size

	conns := make([]*Connection, senders)
	for i := range conns {
		conns[i] = joinedConn(t, reg, fmt.Sprintf("c%d", i), strconv.Itoa(i+1), fmt.Sprintf("u%d", i+1), "42")
	}
	listener := joinedConn(t, reg, "listener", "99", "quiet", "42")

	store := newRecordingStore()
	pub := newTestPublisher(reg, store)

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, _, err := pub.Publish(context.Background(), c, fmt.Sprintf("%s-%d", c.ID, j))
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	want := store.committed()
	require.Len(t, want, senders*perSender)

	for _, c := range append(conns, listener) {
		got := drain(t, c)
		ids := make([]string, 0, len(got))
		for _, p := range got {
			ids = append(ids, p.MessageID.String())
		}
		assert.Equal(t, want, ids, "member %s", c.ID)
	}
	assert.Equal(t, 0, pub.locks.size())
}

// A sender that disconnects while its append is in flight still gets the
// message stored and delivered to the rest of the room.
func TestPublisher_SenderDisconnectDuringPersist(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	a := joinedConn(t, reg, "a", "7", "alice", "42")
	b := joinedConn(t, reg, "b", "9", "bob", "42")

	store := newRecordingStore()
	store.block = make(chan struct{})
	store.called = make(chan struct{}, 1)
	pub := newTestPublisher(reg, store)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		msg Message
		rep DeliveryReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, r, err := pub.Publish(ctx, a, "bye")
		done <- result{m, r, err}
	}()

	<-store.called
	cancel()
	NewLifecycle(discardLogger(), reg).Release(a)
	close(store.block)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish did not finish")
	}
	require.NoError(t, res.err)
	assert.Equal(t, DeliveryReport{Delivered: 1}, res.rep)

	got := drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, "bye", got[0].MessageText)
	assert.Len(t, store.committed(), 1)
}

func TestPublisher_StoreTimeout(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	a := joinedConn(t, reg, "a", "7", "alice", "42")

	store := newRecordingStore()
	store.block = make(chan struct{})
	pub := newTestPublisher(reg, store, WithStoreTimeout(20*time.Millisecond))

	_, _, err := pub.Publish(context.Background(), a, "hi")
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, drain(t, a))
}

type sinkFunc func(ctx context.Context, conversationID string, p v1.NewMessagePayload) error

func (f sinkFunc) Committed(ctx context.Context, conversationID string, p v1.NewMessagePayload) error {
	return f(ctx, conversationID, p)
}

func TestPublisher_CommitSink(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	a := joinedConn(t, reg, "a", "7", "alice", "42")

	var got []v1.NewMessagePayload
	sink := sinkFunc(func(_ context.Context, convID string, p v1.NewMessagePayload) error {
		assert.Equal(t, "42", convID)
		got = append(got, p)
		return errors.New("bus down")
	})

	msg, _, err := newTestPublisher(reg, newRecordingStore(), WithCommitSink(sink)).Publish(context.Background(), a, "hi")
	require.NoError(t, err, "sink errors never fail a publish")
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].MessageID.String())
}

// slowStore appends after a fixed delay that ignores ctx.
type slowStore struct {
	inner *InMemoryStore
	delay time.Duration
}

func (s slowStore) Append(_ context.Context, in AppendInput) (StoredMessage, error) {
	time.Sleep(s.delay)
	return s.inner.Append(context.Background(), in)
}

// A slow append does not eat into the sink's budget, and a departed sender
// does not cancel the sink.
func TestPublisher_CommitSinkHasOwnDeadline(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	a := joinedConn(t, reg, "a", "7", "alice", "42")

	var sinkErr error
	sink := sinkFunc(func(ctx context.Context, _ string, _ v1.NewMessagePayload) error {
		select {
		case <-ctx.Done():
			sinkErr = ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		return sinkErr
	})

	store := slowStore{inner: NewInMemoryStore(), delay: 150 * time.Millisecond}
	pub := newTestPublisher(reg, store,
		WithStoreTimeout(200*time.Millisecond),
		WithSinkTimeout(time.Second),
		WithCommitSink(sink),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := pub.Publish(ctx, a, "hi")
	require.NoError(t, err)
	assert.NoError(t, sinkErr)
}

func TestPublisher_CommitSinkTimeout(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	a := joinedConn(t, reg, "a", "7", "alice", "42")

	var sinkErr error
	sink := sinkFunc(func(ctx context.Context, _ string, _ v1.NewMessagePayload) error {
		<-ctx.Done()
		sinkErr = ctx.Err()
		return sinkErr
	})

	pub := newTestPublisher(reg, newRecordingStore(), WithSinkTimeout(20*time.Millisecond), WithCommitSink(sink))
	_, _, err := pub.Publish(context.Background(), a, "hi")
	require.NoError(t, err)
	assert.ErrorIs(t, sinkErr, context.DeadlineExceeded)
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	t.Parallel()

	k := newKeyedMutex()
	unlockA := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	// Another key is independent.
	unlockB := k.Lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatal("second holder of key a acquired while first holds it")
	case <-time.After(30 * time.Millisecond):
	}

	unlockA()
	unlockA()
	<-acquired
	waitFor(t, time.Second, func() bool { return k.size() == 0 })
}
