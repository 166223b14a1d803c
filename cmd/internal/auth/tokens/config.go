package tokens

import (
	"os"
	"strings"
	"time"
)

// Token formats.
const (
	ModeJWT    = "jwt"
	ModePaseto = "paseto"
)

// Config selects and parameterizes the token format.
type Config struct {
	Mode string

	// Issuer, when set, must match the token "iss" claim.
	Issuer string

	// ClockSkew is tolerated on both expiry and not-before checks.
	ClockSkew time.Duration

	// JWTSecret is the HS256 shared secret (mode jwt).
	JWTSecret string

	// PasetoV4PublicKeyHex is the hex-encoded Ed25519 public key (mode paseto).
	PasetoV4PublicKeyHex string
}

// DefaultConfig returns the defaults used when no env overrides are present.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeJWT,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Optional:
//   - CHAT_AUTH_MODE (jwt|paseto)
//   - CHAT_AUTH_ISSUER
//   - CHAT_AUTH_CLOCK_SKEW
//
// Required by mode:
//   - CHAT_JWT_SECRET (jwt)
//   - CHAT_PASETO_V4_PUBLIC_KEY_HEX (paseto)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("CHAT_AUTH_MODE"))); v != "" {
		cfg.Mode = v
	}
	cfg.Issuer = strings.TrimSpace(os.Getenv("CHAT_AUTH_ISSUER"))

	if v := strings.TrimSpace(os.Getenv("CHAT_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.JWTSecret = os.Getenv("CHAT_JWT_SECRET")
	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("CHAT_PASETO_V4_PUBLIC_KEY_HEX"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the key material for the selected mode is present.
func (c Config) Validate() error {
	if c.ClockSkew < 0 {
		return ErrConfig
	}
	switch c.Mode {
	case ModeJWT:
		if c.JWTSecret == "" {
			return ErrConfig
		}
	case ModePaseto:
		if c.PasetoV4PublicKeyHex == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}
