package realtime

import (
	"context"
	"log/slog"
	"time"

	v1 "campusconnect/shared/contracts/chat/v1"
)

const (
	defaultStoreTimeout = 5 * time.Second
	defaultSinkTimeout  = 2 * time.Second
)

// CommitSink receives every committed message after local fan-out (e.g. an event bus).
type CommitSink interface {
	Committed(ctx context.Context, conversationID string, payload v1.NewMessagePayload) error
}

// Publisher runs the message pipeline: persist, then broadcast.
//
// Append and Broadcast for one conversation run under that conversation's lock,
// so members observe messages in commit order. Conversations never share a lock.
// The pipeline is detached from the caller's cancellation: a sender that
// disconnects mid-append still gets its message stored and fanned out.
type Publisher struct {
	log         *slog.Logger
	store       MessageStore
	broadcaster *Broadcaster
	sink        CommitSink
	metrics     *Metrics
	timeout     time.Duration
	sinkTimeout time.Duration

	locks *keyedMutex
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithStoreTimeout bounds one append (default 5s).
func WithStoreTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithSinkTimeout bounds one CommitSink call (default 2s), independent of the append.
func WithSinkTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.sinkTimeout = d
		}
	}
}

// WithCommitSink forwards committed messages to sink. Sink errors are logged only.
func WithCommitSink(sink CommitSink) PublisherOption {
	return func(p *Publisher) { p.sink = sink }
}

// WithPublisherMetrics records persist outcomes.
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher constructs a Publisher.
func NewPublisher(log *slog.Logger, store MessageStore, broadcaster *Broadcaster, opts ...PublisherOption) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		log:         log,
		store:       store,
		broadcaster: broadcaster,
		timeout:     defaultStoreTimeout,
		sinkTimeout: defaultSinkTimeout,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish persists text as sent by conn and, only on success, broadcasts it to the room.
// conn must be Joined; its identity and conversation are read once here.
func (p *Publisher) Publish(ctx context.Context, conn *Connection, text string) (Message, DeliveryReport, error) {
	convID := conn.ConversationID()
	senderID := conn.UserID()

	detached := context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(detached, p.timeout)
	defer cancel()

	unlock := p.locks.Lock(convID)
	defer unlock()

	stored, err := p.store.Append(ctx, AppendInput{
		ConversationID: convID,
		SenderID:       senderID,
		Text:           text,
	})
	if err != nil {
		p.metrics.persist(false)
		return Message{}, DeliveryReport{}, FrameError{Op: "message.persist", ConnID: conn.ID, Kind: ErrPersist, Err: err}
	}
	p.metrics.persist(true)

	msg := Message{
		ID:                stored.ID,
		ConversationID:    convID,
		SenderID:          senderID,
		SenderDisplayName: conn.DisplayName(),
		Text:              stored.Text,
		CommittedAt:       stored.CommittedAt,
	}
	rep := p.broadcaster.Broadcast(msg)

	if p.sink != nil {
		p.notify(detached, msg)
	}

	return msg, rep, nil
}

func (p *Publisher) notify(parent context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(parent, p.sinkTimeout)
	defer cancel()

	if err := p.sink.Committed(ctx, msg.ConversationID, msg.Payload()); err != nil {
		p.log.Warn("message.event.fail", "conversation_id", msg.ConversationID, "message_id", msg.ID, "err", err)
	}
}
