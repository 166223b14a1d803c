package tokens

import (
	"context"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// PasetoVerifier verifies PASETO v4.public tokens with an Ed25519 public key.
type PasetoVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoVerifier builds a PasetoVerifier from cfg.PasetoV4PublicKeyHex.
func NewPasetoVerifier(cfg Config) (*PasetoVerifier, error) {
	if cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PasetoV4PublicKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &PasetoVerifier{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		public:    public,
	}, nil
}

// Verify implements Verifier.
func (v *PasetoVerifier) Verify(ctx context.Context, token string, now time.Time) (Claims, error) {
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

	// Time rules are checked below against the caller's clock, not the parser's.
	p := paseto.NewParserWithoutExpiryCheck()
	if v.issuer != "" {
		p.AddRule(paseto.IssuedBy(v.issuer))
	}

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if now.Add(-v.clockSkew).After(exp) {
		return Claims{}, ErrExpiredToken
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && nbf.After(now.Add(v.clockSkew)) {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		UserID:    strings.TrimSpace(uid),
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}

// PasetoIssuer signs PASETO v4.public tokens.
type PasetoIssuer struct {
	issuer string
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
}

// NewPasetoIssuer builds a PasetoIssuer from a hex-encoded Ed25519 secret key.
func NewPasetoIssuer(secretKeyHex, issuer string, ttl time.Duration) (*PasetoIssuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PasetoIssuer{issuer: issuer, ttl: ttl, secret: secret}, nil
}

// PublicKeyHex returns the verification key matching this issuer.
func (i *PasetoIssuer) PublicKeyHex() string {
	return i.secret.Public().ExportHex()
}

// Issue implements Issuer.
func (i *PasetoIssuer) Issue(userID string, now time.Time) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now()
	}
	exp := now.Add(i.ttl)

	tok := paseto.NewToken()
	if i.issuer != "" {
		tok.SetIssuer(i.issuer)
	}
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	if err := tok.Set("uid", userID); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(i.secret, nil), exp, nil
}
