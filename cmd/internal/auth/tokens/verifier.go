package tokens

import (
	"context"
	"time"
)

// Claims is the verified identity carried by a token.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// Verifier validates a bearer token and extracts its identity claim.
type Verifier interface {
	Verify(ctx context.Context, token string, now time.Time) (Claims, error)
}

// Issuer mints tokens for a user id. Used by tooling and tests; the chat
// server never issues tokens.
type Issuer interface {
	Issue(userID string, now time.Time) (token string, exp time.Time, err error)
}

// NewVerifier builds the Verifier selected by cfg.Mode.
func NewVerifier(cfg Config) (Verifier, error) {
	switch cfg.Mode {
	case ModeJWT:
		return NewJWTVerifier(cfg)
	case ModePaseto:
		return NewPasetoVerifier(cfg)
	default:
		return nil, ErrConfig
	}
}
