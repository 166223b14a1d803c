package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"campusconnect/cmd/identity"
	"campusconnect/cmd/internal/auth/tokens"
)

// Auth failure reasons (metrics label and log field).
const (
	authReasonToken        = "token"
	authReasonIdentity     = "identity"
	authReasonConversation = "conversation"
	authReasonParticipant  = "participant"
	authReasonDirectory    = "directory"
)

// Authenticator performs the join handshake checks for one connection.
type Authenticator struct {
	verifier  tokens.Verifier
	resolver  identity.Resolver
	directory ConversationDirectory

	requireConversation bool
	requireParticipant  bool

	now func() time.Time
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithDirectory enables the join gates. Either flag without a directory is ignored.
func WithDirectory(dir ConversationDirectory, requireConversation, requireParticipant bool) AuthOption {
	return func(a *Authenticator) {
		a.directory = dir
		a.requireConversation = requireConversation
		a.requireParticipant = requireParticipant
	}
}

// WithClock overrides the verification clock.
func WithClock(now func() time.Time) AuthOption {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(verifier tokens.Verifier, resolver identity.Resolver, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		resolver: resolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// AuthError is an ErrAuth with the reason that caused it.
type AuthError struct {
	Reason string
	Err    error
}

func (e AuthError) Error() string {
	if e.Err == nil {
		return "auth failed: " + e.Reason
	}
	return "auth failed: " + e.Reason + ": " + e.Err.Error()
}

func (e AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAuth}
	}
	return []error{ErrAuth, e.Err}
}

// Authenticate verifies token, resolves the display name, and applies the optional
// conversation gates. Every failure is an AuthError.
func (a *Authenticator) Authenticate(ctx context.Context, token, conversationID string) (identity.Identity, error) {
	if a == nil || a.verifier == nil || a.resolver == nil {
		return identity.Identity{}, AuthError{Reason: authReasonToken, Err: errors.New("authenticator not configured")}
	}

	claims, err := a.verifier.Verify(ctx, strings.TrimSpace(token), a.now())
	if err != nil {
		return identity.Identity{}, AuthError{Reason: authReasonToken, Err: err}
	}

	id, err := a.resolver.Resolve(ctx, claims.UserID)
	if err != nil {
		return identity.Identity{}, AuthError{Reason: authReasonIdentity, Err: err}
	}

	if a.directory == nil {
		return id, nil
	}

	if a.requireConversation {
		ok, err := a.directory.Exists(ctx, conversationID)
		if err != nil {
			return identity.Identity{}, AuthError{Reason: authReasonDirectory, Err: err}
		}
		if !ok {
			return identity.Identity{}, AuthError{Reason: authReasonConversation}
		}
	}
	if a.requireParticipant {
		ok, err := a.directory.IsParticipant(ctx, conversationID, id.UserID)
		if err != nil {
			return identity.Identity{}, AuthError{Reason: authReasonDirectory, Err: err}
		}
		if !ok {
			return identity.Identity{}, AuthError{Reason: authReasonParticipant}
		}
	}

	return id, nil
}
