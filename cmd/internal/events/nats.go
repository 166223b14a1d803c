// Package events forwards committed chat messages to NATS so other services
// (notifications, search indexing) can observe them without holding a socket.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	v1 "campusconnect/shared/contracts/chat/v1"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "campusconnect.chat"

// ErrInvalidSubject is returned for conversation ids that cannot form a subject token.
var ErrInvalidSubject = errors.New("events: invalid subject token")

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// ConnectConfig configures the NATS connection.
type ConnectConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Connect dials NATS with unlimited reconnects. Disconnects and reconnects are logged.
func Connect(log *slog.Logger, cfg ConnectConfig) (*nats.Conn, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("events: nats servers missing")
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "campusconnect-chat"
	}
	if log == nil {
		log = slog.Default()
	}

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","),
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats.disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats.reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return nc, nil
}

// Publisher publishes every committed message as a newMessage envelope on
// <prefix>.conversation.<conversationID>.
type Publisher struct {
	conn   Conn
	prefix string
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix overrides the subject prefix. Surrounding dots are trimmed; blank is ignored.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		if s := strings.Trim(strings.TrimSpace(prefix), "."); s != "" {
			p.prefix = s
		}
	}
}

// NewPublisher constructs a Publisher on conn, which must be non-nil.
func NewPublisher(conn Conn, opts ...Option) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("events: nil conn")
	}
	p := &Publisher{conn: conn, prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Subject returns the subject messages of conversationID are published on.
func (p *Publisher) Subject(conversationID string) (string, error) {
	if !validToken(conversationID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, conversationID)
	}
	return p.prefix + ".conversation." + conversationID, nil
}

// Committed implements realtime.CommitSink.
func (p *Publisher) Committed(ctx context.Context, conversationID string, payload v1.NewMessagePayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subj, err := p.Subject(conversationID)
	if err != nil {
		return err
	}
	data, err := v1.EncodeNewMessage(payload)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := p.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subj, err)
	}
	return nil
}

// validToken rejects empty tokens and NATS separators/wildcards.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, ".*> \t\r\n")
}
