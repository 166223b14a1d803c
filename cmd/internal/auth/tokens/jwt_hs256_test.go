package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "campus-secret"

func newTestJWTVerifier(t *testing.T, issuer string) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(Config{Mode: ModeJWT, JWTSecret: testSecret, Issuer: issuer, ClockSkew: 30 * time.Second})
	require.NoError(t, err)
	return v
}

func TestJWT_IssueVerify_NumericAndStringIDs(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, err := NewJWTIssuer(testSecret, "", 0)
	require.NoError(t, err)
	v := newTestJWTVerifier(t, "")

	for _, uid := range []string{"42", "u-alice"} {
		tok, exp, err := iss.Issue(uid, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(30*24*time.Hour), exp)

		c, err := v.Verify(context.Background(), tok, now.Add(time.Hour))
		require.NoError(t, err, uid)
		assert.Equal(t, uid, c.UserID)
		assert.True(t, c.ExpiresAt.Equal(exp))
	}
}

func TestJWT_AccountServiceShape(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user": map[string]any{"id": 17},
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	c, err := newTestJWTVerifier(t, "").Verify(context.Background(), tok, now)
	require.NoError(t, err)
	assert.Equal(t, "17", c.UserID)
}

func TestJWT_SubjectFallback(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "99",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	c, err := newTestJWTVerifier(t, "").Verify(context.Background(), tok, now)
	require.NoError(t, err)
	assert.Equal(t, "99", c.UserID)
}

func TestJWT_Rejects(t *testing.T) {
	t.Parallel()

	now := time.Now()
	v := newTestJWTVerifier(t, "")

	sign := func(method jwt.SigningMethod, secret string, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := jwt.MapClaims{"user": map[string]any{"id": 1}, "exp": now.Add(time.Hour).Unix()}

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": sign(jwt.SigningMethodHS256, "other", valid),
		"hs512":        sign(jwt.SigningMethodHS512, testSecret, valid),
		"no exp":       sign(jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"user": map[string]any{"id": 1}}),
		"no user":      sign(jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}),
		"float id":     sign(jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"user": map[string]any{"id": 1.5}, "exp": now.Add(time.Hour).Unix()}),
	}
	for name, tok := range cases {
		_, err := v.Verify(context.Background(), tok, now)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestJWT_ExpiryAndSkew(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, err := NewJWTIssuer(testSecret, "", time.Minute)
	require.NoError(t, err)
	v := newTestJWTVerifier(t, "")

	tok, _, err := iss.Issue("5", now)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, now.Add(time.Minute+10*time.Second))
	assert.NoError(t, err, "inside clock skew")

	_, err = v.Verify(context.Background(), tok, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Issuer(t *testing.T) {
	t.Parallel()

	now := time.Now()
	iss, err := NewJWTIssuer(testSecret, "campusconnect", time.Hour)
	require.NoError(t, err)
	tok, _, err := iss.Issue("5", now)
	require.NoError(t, err)

	c, err := newTestJWTVerifier(t, "campusconnect").Verify(context.Background(), tok, now)
	require.NoError(t, err)
	assert.Equal(t, "campusconnect", c.Issuer)

	_, err = newTestJWTVerifier(t, "someone-else").Verify(context.Background(), tok, now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestJWTVerifier(t, "").Verify(ctx, "x", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
