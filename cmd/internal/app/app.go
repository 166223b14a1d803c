// Package app wires the chat server runtime: config, logging, storage clients,
// HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"campusconnect/cmd/identity"
	"campusconnect/cmd/internal/auth/tokens"
	"campusconnect/cmd/internal/events"
	"campusconnect/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App owns the HTTP server and every dependency the gateway was built from.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  *redis.Client
	nc   *nats.Conn

	metricsReg *prometheus.Registry
	registry   *realtime.Registry
	ws         *realtime.WSGateway

	handler http.Handler
}

// New constructs a fully wired App. Without CHAT_DATABASE_URL messages are kept
// in memory and identities come from CHAT_DEV_USERS.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, resolver, authOpts, err := a.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL != "" {
		a.rdb, err = NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		resolver = identity.NewCachedResolver(resolver, a.rdb,
			identity.WithCacheTTL(cfg.IdentityCacheTTL),
			identity.WithCacheLogger(log),
		)
		log.Info("identity.cache.enabled", "ttl", cfg.IdentityCacheTTL)
	}

	verifier, err := tokens.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}

	a.metricsReg = prometheus.NewRegistry()
	a.metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.registry = realtime.NewRegistry(log)
	metrics := realtime.NewMetrics(a.metricsReg, a.registry)
	broadcaster := realtime.NewBroadcaster(log, a.registry, metrics)

	pubOpts := []realtime.PublisherOption{
		realtime.WithStoreTimeout(cfg.StoreTimeout),
		realtime.WithPublisherMetrics(metrics),
	}
	if len(cfg.NATSServers) > 0 {
		a.nc, err = events.Connect(log, events.ConnectConfig{Servers: cfg.NATSServers})
		if err != nil {
			return nil, err
		}
		sink, err := events.NewPublisher(a.nc, events.WithSubjectPrefix(cfg.NATSSubjectPrefix))
		if err != nil {
			return nil, err
		}
		pubOpts = append(pubOpts,
			realtime.WithCommitSink(sink),
			realtime.WithSinkTimeout(cfg.NATSPublishTimeout),
		)
		log.Info("events.enabled", "servers", cfg.NATSServers, "prefix", cfg.NATSSubjectPrefix)
	}

	a.ws, err = realtime.NewWSGateway(log, cfg.Gateway, realtime.GatewayDeps{
		Registry:  a.registry,
		Auth:      realtime.NewAuthenticator(verifier, resolver, authOpts...),
		Publisher: realtime.NewPublisher(log, store, broadcaster, pubOpts...),
		Lifecycle: realtime.NewLifecycle(log, a.registry),
		Metrics:   metrics,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)
	a.handler = WithSecurityHeaders(WithRequestLogging(mux, log))

	return a, nil
}

// newStorage picks Postgres-backed persistence or the in-memory dev mode.
func (a *App) newStorage(ctx context.Context) (realtime.MessageStore, identity.Resolver, []realtime.AuthOption, error) {
	cfg := a.cfg

	if cfg.DatabaseURL == "" {
		names, err := identity.ParseStaticIdentities(cfg.DevUsers)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("CHAT_DEV_USERS: %w", err)
		}
		if len(names) == 0 {
			a.log.Warn("identity.static.empty", "hint", "set CHAT_DEV_USERS=id:name,... or CHAT_DATABASE_URL")
		}
		a.log.Info("db.disabled.inmemory_store", "dev_users", len(names))
		return realtime.NewInMemoryStore(), identity.NewStaticResolver(names), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	a.pool = pool

	store, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	resolver, err := identity.NewPostgresResolver(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}

	var authOpts []realtime.AuthOption
	if cfg.RequireConversation || cfg.RequireParticipant {
		dir, err := realtime.NewPostgresDirectory(pool, realtime.WithDirectorySchema(cfg.DBSchema))
		if err != nil {
			return nil, nil, nil, err
		}
		authOpts = append(authOpts, realtime.WithDirectory(dir, cfg.RequireConversation, cfg.RequireParticipant))
	}

	a.log.Info("db.enabled.postgres_store",
		"schema", cfg.DBSchema,
		"require_conversation", cfg.RequireConversation,
		"require_participant", cfg.RequireParticipant,
	)
	return store, resolver, authOpts, nil
}

// Handler returns the root HTTP handler (middleware included).
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is canceled or the listener fails, then shuts down.
// WebSocket sessions run on a base context that is canceled once shutdown starts.
func (a *App) Run(ctx context.Context) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		cancelBase()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close releases clients in reverse dependency order. Safe to call more than once.
func (a *App) Close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.log.Warn("nats.drain.fail", "err", err)
		}
		a.nc = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
