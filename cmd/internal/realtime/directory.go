package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationDirectory answers join-time questions about conversations.
// It backs the optional conversation and participant gates of the handshake.
type ConversationDirectory interface {
	// Exists reports whether conversationID names a conversation.
	Exists(ctx context.Context, conversationID string) (bool, error)
	// IsParticipant reports whether userID is one of the two sides of conversationID.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// PostgresDirectory reads the conversations table (conversation_id, user1_id, user2_id).
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// DirectoryOption configures PostgresDirectory behavior.
type DirectoryOption func(*PostgresDirectory) error

// WithDirectorySchema sets the DB schema used by the directory (default: "public").
func WithDirectorySchema(schema string) DirectoryOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a directory backed by PostgreSQL.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...DirectoryOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return d, nil
}

// Exists implements ConversationDirectory.
func (d *PostgresDirectory) Exists(ctx context.Context, conversationID string) (bool, error) {
	if d == nil || d.pool == nil {
		return false, errors.New("realtime: nil directory")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	conversations := pgIdent(d.schema, "conversations")

	var one int
	err := d.pool.QueryRow(ctx,
		`SELECT 1 FROM `+conversations+` WHERE conversation_id::text = $1`,
		conversationID,
	).Scan(&one)
	return rowFound(err)
}

// IsParticipant implements ConversationDirectory.
func (d *PostgresDirectory) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if d == nil || d.pool == nil {
		return false, errors.New("realtime: nil directory")
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	conversations := pgIdent(d.schema, "conversations")

	var one int
	err := d.pool.QueryRow(ctx,
		`SELECT 1 FROM `+conversations+`
		  WHERE conversation_id::text = $1
		    AND (user1_id::text = $2 OR user2_id::text = $2)`,
		conversationID, userID,
	).Scan(&one)
	return rowFound(err)
}

func rowFound(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" { // invalid_text_representation
		return false, nil
	}
	return false, err
}
