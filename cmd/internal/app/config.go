package app

import (
	"errors"
	"fmt"
	"time"

	"campusconnect/cmd/internal/auth/tokens"
	"campusconnect/cmd/internal/events"
	"campusconnect/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// Read/write timeouts stay 0 by default: hijacked WebSocket connections
	// keep the deadlines net/http set on them.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	RedisURL         string
	IdentityCacheTTL time.Duration

	NATSServers        []string
	NATSSubjectPrefix  string
	NATSPublishTimeout time.Duration

	// DevUsers seeds the static identity resolver used without a database ("1:alice,2:bob").
	DevUsers string

	RequireConversation bool
	RequireParticipant  bool

	StoreTimeout time.Duration

	Auth    tokens.Config
	Gateway realtime.GatewayConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	authCfg, err := tokens.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("auth config: %w", err)
	}

	cfg := Config{
		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", "0.0.0.0:5000"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_HTTP_READ_TIMEOUT", 0),
		WriteTimeout:      EnvDuration("CHAT_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:       EnvDuration("CHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CHAT_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("CHAT_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("CHAT_DATABASE_URL", ""),
		DBSchema:    EnvString("CHAT_DB_SCHEMA", "public"),
		DBMaxConns:  EnvInt32("CHAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CHAT_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CHAT_READINESS_REQUIRE_DB", false),

		RedisURL:         EnvString("CHAT_REDIS_URL", ""),
		IdentityCacheTTL: EnvDuration("CHAT_IDENTITY_CACHE_TTL", 5*time.Minute),

		NATSServers:        EnvCSV("CHAT_NATS_URL", nil),
		NATSSubjectPrefix:  EnvString("CHAT_NATS_SUBJECT_PREFIX", events.DefaultSubjectPrefix),
		NATSPublishTimeout: EnvDuration("CHAT_NATS_PUBLISH_TIMEOUT", 2*time.Second),

		DevUsers: EnvString("CHAT_DEV_USERS", ""),

		RequireConversation: EnvBool("CHAT_WS_REQUIRE_CONVERSATION", false),
		RequireParticipant:  EnvBool("CHAT_WS_REQUIRE_PARTICIPANT", false),

		StoreTimeout: EnvDuration("CHAT_STORE_TIMEOUT", 5*time.Second),

		Auth:    authCfg,
		Gateway: realtime.GatewayConfigFromEnv(),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot be served.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: CHAT_HTTP_ADDR is empty")
	}
	if (c.RequireConversation || c.RequireParticipant) && c.DatabaseURL == "" {
		return errors.New("config: CHAT_WS_REQUIRE_CONVERSATION/CHAT_WS_REQUIRE_PARTICIPANT need CHAT_DATABASE_URL")
	}
	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		return errors.New("config: CHAT_READINESS_REQUIRE_DB needs CHAT_DATABASE_URL")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	return nil
}
