package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultJWTTTL = 30 * 24 * time.Hour

// jwtClaims mirrors the account service token: {"user":{"id":N},"iat":..,"exp":..}.
type jwtClaims struct {
	User *jwtUser `json:"user,omitempty"`
	jwt.RegisteredClaims
}

type jwtUser struct {
	ID json.RawMessage `json:"id"`
}

// JWTVerifier verifies HS256 JWTs.
type JWTVerifier struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

// NewJWTVerifier builds a JWTVerifier from cfg.JWTSecret.
func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if cfg.JWTSecret == "" || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	return &JWTVerifier{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
	}, nil
}

// Verify implements Verifier. Only HS256 is accepted; "exp" is required.
func (v *JWTVerifier) Verify(ctx context.Context, token string, now time.Time) (Claims, error) {
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c jwtClaims
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}

	uid := ""
	if c.User != nil {
		uid = userIDFromRaw(c.User.ID)
	}
	if uid == "" {
		uid = strings.TrimSpace(c.Subject)
	}
	if uid == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{UserID: uid, Issuer: c.Issuer}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	return out, nil
}

// JWTIssuer mints HS256 JWTs in the account service format.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWTIssuer builds a JWTIssuer. A non-positive ttl means 30 days.
func NewJWTIssuer(secret, issuer string, ttl time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, ErrConfig
	}
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	return &JWTIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue implements Issuer.
func (i *JWTIssuer) Issue(userID string, now time.Time) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now()
	}
	exp := now.Add(i.ttl)

	c := jwtClaims{
		User: &jwtUser{ID: rawUserID(userID)},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// userIDFromRaw accepts a JSON string or an integer JSON number.
func userIDFromRaw(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if s[0] == '"' {
		var out string
		if err := json.Unmarshal(raw, &out); err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return ""
	}
	return s
}

func rawUserID(userID string) json.RawMessage {
	if n, err := strconv.ParseInt(userID, 10, 64); err == nil && strconv.FormatInt(n, 10) == userID {
		return json.RawMessage(userID)
	}
	b, _ := json.Marshal(userID)
	return b
}
