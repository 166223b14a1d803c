package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResolver resolves identities from the users table.
//
// The pgx pool is owned by the caller; the resolver must NOT close it.
// user_id is compared as text so both integer and text id columns work.
type PostgresResolver struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the resolver.
type PostgresOption func(*PostgresResolver) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema holding the users table (default "public").
func WithSchema(schema string) PostgresOption {
	return func(r *PostgresResolver) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		r.schema = schema
		return nil
	}
}

// NewPostgresResolver constructs a PostgresResolver.
func NewPostgresResolver(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresResolver, error) {
	r := &PostgresResolver{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return r, nil
}

// Resolve implements Resolver.
func (r *PostgresResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	const op = "identity.PostgresResolver.Resolve"

	if r == nil || r.pool == nil {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil resolver"}
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}

	users := pgIdent(r.schema, "users")

	var username string
	err := r.pool.QueryRow(ctx,
		`SELECT username FROM `+users+` WHERE user_id::text = $1`,
		userID,
	).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, NotFoundError{Op: op, UserID: userID}
		}
		return Identity{}, OpError{Op: op, Kind: ErrUnavailable, Err: err}
	}

	return Identity{UserID: userID, DisplayName: username}, nil
}

// Exists implements ExistenceChecker.
func (r *PostgresResolver) Exists(ctx context.Context, userID string) (bool, error) {
	const op = "identity.PostgresResolver.Exists"

	if r == nil || r.pool == nil {
		return false, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil resolver"}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}

	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+pgIdent(r.schema, "users")+` WHERE user_id::text = $1)`,
		userID,
	).Scan(&ok)
	if err != nil {
		return false, OpError{Op: op, Kind: ErrUnavailable, Err: err}
	}
	return ok, nil
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}
