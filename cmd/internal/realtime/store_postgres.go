// Package realtime contains the CampusConnect conversation broadcaster: the websocket
// gateway, the room registry, fan-out, and message persistence primitives.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by the messages table.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Concurrency model:
//   - Appends to one conversation are serialized with a transactional advisory lock,
//     so message_id order and commit order agree even across gateway instances.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Append inserts the message and returns the id and timestamp the database assigned.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (StoredMessage, error) {
	if s == nil || s.pool == nil {
		return StoredMessage{}, errors.New("realtime: nil store")
	}
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.SenderID) == "" {
		return StoredMessage{}, errors.New("realtime: invalid append input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return StoredMessage{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "chat:"+in.ConversationID); err != nil {
		return StoredMessage{}, fmt.Errorf("advisory lock: %w", err)
	}

	// clock_timestamp (not now) so timestamps follow lock order, not transaction start.
	var (
		id          string
		committedAt time.Time
	)
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (conversation_id, sender_id, message_text, created_at)
		 VALUES ($1, $2, $3, clock_timestamp())
		 RETURNING message_id::text, created_at`,
		in.ConversationID, in.SenderID, in.Text,
	).Scan(&id, &committedAt); err != nil {
		return StoredMessage{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return StoredMessage{}, err
	}

	return StoredMessage{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		CommittedAt:    committedAt.UTC(),
	}, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
