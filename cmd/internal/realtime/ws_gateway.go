package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	v1 "campusconnect/shared/contracts/chat/v1"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const (
	wsSubprotocolV1 = "campusconnect.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig holds the transport knobs of the gateway.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept origin verification entirely (dev only).
	DevInsecure bool

	// OriginRequired rejects upgrades without an Origin header.
	// Requests that do carry one are always checked against AllowedOrigins.
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout  time.Duration
	SendQueueSize int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	// HandshakeTimeout closes connections still unauthenticated after this long. 0 disables.
	HandshakeTimeout time.Duration

	// ReadIdleTimeout closes connections that send nothing for this long. 0 disables;
	// liveness is then left to heartbeats so quiet listeners stay connected.
	ReadIdleTimeout time.Duration
}

// DefaultGatewayConfig returns the defaults used when no env overrides are present.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// GatewayConfigFromEnv reads CHAT_WS_* overrides on top of DefaultGatewayConfig.
func GatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	cfg.DevInsecure = envBoolWS("CHAT_WS_DEV_INSECURE", false)
	cfg.OriginRequired = envBoolWS("CHAT_WS_ORIGIN_REQUIRED", false)
	cfg.AllowedOrigins = envCSVWS("CHAT_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	cfg.WriteTimeout = envDurationWS("CHAT_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.SendQueueSize = envIntWS("CHAT_WS_SEND_QUEUE", cfg.SendQueueSize)

	cfg.HeartbeatEvery = envDurationWS("CHAT_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("CHAT_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	cfg.RateEvents = envIntWS("CHAT_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDurationWS("CHAT_WS_RATE_WINDOW", cfg.RateWindow)

	cfg.HandshakeTimeout = envDurationWS("CHAT_WS_HANDSHAKE_TIMEOUT", 0)
	cfg.ReadIdleTimeout = envDurationWS("CHAT_WS_READ_IDLE_TIMEOUT", 0)

	return cfg
}

func (c GatewayConfig) normalized() GatewayConfig {
	def := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = def.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

// WSGateway is the WebSocket entrypoint of the conversation broadcaster.
//
// It enforces origin policy, rate limits and heartbeats, drives the per-connection
// state machine, and routes join/message frames to the Authenticator and Publisher.
type WSGateway struct {
	log       *slog.Logger
	cfg       GatewayConfig
	registry  *Registry
	auth      *Authenticator
	publisher *Publisher
	lifecycle *Lifecycle
	metrics   *Metrics

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// GatewayDeps are the collaborators a gateway routes to.
type GatewayDeps struct {
	Registry  *Registry
	Auth      *Authenticator
	Publisher *Publisher
	Lifecycle *Lifecycle
	Metrics   *Metrics
}

// NewWSGateway constructs a gateway. Registry and Auth are required.
// A nil Publisher falls back to an in-memory store; a nil Lifecycle is derived from Registry.
func NewWSGateway(log *slog.Logger, cfg GatewayConfig, deps GatewayDeps) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Registry == nil {
		return nil, errors.New("realtime: nil registry")
	}
	if deps.Auth == nil {
		return nil, errors.New("realtime: nil authenticator")
	}
	if deps.Publisher == nil {
		deps.Publisher = NewPublisher(log, NewInMemoryStore(), NewBroadcaster(log, deps.Registry, deps.Metrics),
			WithPublisherMetrics(deps.Metrics))
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = NewLifecycle(log, deps.Registry)
	}

	cfg = cfg.normalized()

	return &WSGateway{
		log:       log,
		cfg:       cfg,
		registry:  deps.Registry,
		auth:      deps.Auth,
		publisher: deps.Publisher,
		lifecycle: deps.Lifecycle,
		metrics:   deps.Metrics,

		// websocket.Accept enforces its own origin policy; patterns derived from the
		// allowlist keep the two layers in agreement.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the connection until it closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Offered, never required: plain browser sockets send no subprotocol.
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = ws.Close(websocket.StatusInternalError, "")
		return
	}
	conn := NewConnection(connID, g.cfg.SendQueueSize)

	g.metrics.connOpened()
	defer g.metrics.connClosed()

	g.log.Info("ws.accept.ok", "conn_id", connID, "remote", r.RemoteAddr, "subprotocol", ws.Subprotocol())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Registry cleanup is left to Lifecycle.Release, which
	// runs on this goroutine after the read loop, so it never races a join.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			conn.Close()
			_ = ws.Close(code, reason)
			cancel()
		})
	}
	defer g.lifecycle.Release(conn)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case frame := <-conn.frames():
				if err := writeFrame(ctx, ws, frame, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusGoingAway, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := ws.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	if g.cfg.HandshakeTimeout > 0 {
		timer := time.AfterFunc(g.cfg.HandshakeTimeout, func() {
			if conn.State() == StateUnauthenticated {
				g.log.Info("ws.handshake.timeout", "conn_id", connID)
				shutdown(websocket.StatusPolicyViolation, "")
			}
		})
		defer timer.Stop()
	}

	limiter := rate.NewLimiter(rate.Every(g.cfg.RateWindow/time.Duration(g.cfg.RateEvents)), g.cfg.RateEvents)

readLoop:
	for {
		data, err := g.readFrame(ctx, ws)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusGoingAway, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusGoingAway, "read failed")
			}
			break readLoop
		}

		if !limiter.Allow() {
			g.metrics.frame("any", "rate_limited")
			g.log.Debug("ws.frame.drop", "err", FrameError{Op: "frame.read", ConnID: connID, Kind: ErrRateLimited})
			continue
		}

		frame, err := v1.DecodeClientFrame(data)
		if err != nil {
			g.metrics.frame("any", "malformed")
			g.log.Debug("ws.frame.drop", "err", FrameError{Op: "frame.decode", ConnID: connID, Kind: ErrMalformedFrame, Err: err})
			continue
		}

		switch f := frame.(type) {
		case v1.JoinFrame:
			if !g.onJoin(ctx, conn, f) {
				shutdown(websocket.StatusPolicyViolation, "")
				break readLoop
			}
		case v1.MessageFrame:
			g.onMessage(ctx, conn, f)
		}
	}

	shutdown(websocket.StatusNormalClosure, "")
	g.lifecycle.Release(conn)
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.close", "conn_id", connID)
}

// ---- handlers ----

// onJoin runs the handshake. It returns false when the connection must be torn down.
func (g *WSGateway) onJoin(ctx context.Context, conn *Connection, f v1.JoinFrame) bool {
	if conn.State() != StateUnauthenticated {
		g.metrics.frame(v1.TypeJoin, "ignored")
		g.log.Debug("ws.join.ignored", "conn_id", conn.ID, "state", conn.State().String())
		return true
	}

	convID := f.ConversationID.String()

	id, err := g.auth.Authenticate(ctx, f.Token, convID)
	if err != nil {
		conn.transition(evJoinFail)

		reason := authReasonToken
		var ae AuthError
		if errors.As(err, &ae) {
			reason = ae.Reason
		}
		g.metrics.frame(v1.TypeJoin, "auth_failed")
		g.metrics.authFailure(reason)
		g.log.Info("ws.join.fail", "err", FrameError{Op: "join", ConnID: conn.ID, Kind: ErrAuth, Err: err},
			"conn_id", conn.ID, "conversation_id", convID, "reason", reason)
		return false
	}

	if !conn.join(id.UserID, id.DisplayName, convID) {
		g.metrics.frame(v1.TypeJoin, "ignored")
		return true
	}
	g.registry.Join(convID, conn)

	g.metrics.frame(v1.TypeJoin, "ok")
	g.log.Info("ws.join.ok", "conn_id", conn.ID, "user_id", id.UserID, "conversation_id", convID)
	return true
}

func (g *WSGateway) onMessage(ctx context.Context, conn *Connection, f v1.MessageFrame) {
	if _, ok := conn.transition(evMessage); !ok {
		g.metrics.frame(v1.TypeMessage, "ignored")
		g.log.Debug("ws.message.ignored", "conn_id", conn.ID, "state", conn.State().String())
		return
	}

	if err := validateText(f.Text); err != nil {
		g.metrics.frame(v1.TypeMessage, "malformed")
		g.log.Debug("ws.frame.drop", "err", FrameError{Op: "message.validate", ConnID: conn.ID, Kind: ErrMalformedFrame, Err: err})
		return
	}

	msg, rep, err := g.publisher.Publish(ctx, conn, f.Text)
	if err != nil {
		g.metrics.frame(v1.TypeMessage, "persist_failed")
		g.log.Warn("message.persist.fail", "err", err, "conn_id", conn.ID, "conversation_id", conn.ConversationID())
		return
	}

	g.metrics.frame(v1.TypeMessage, "ok")
	g.log.Debug("message.broadcast", "conn_id", conn.ID, "conversation_id", msg.ConversationID,
		"message_id", msg.ID, "delivered", rep.Delivered, "dropped", rep.Dropped)
}

// validateText bounds message length only. Empty and whitespace-only text is
// stored and broadcast as sent.
func validateText(text string) error {
	if utf8.RuneCountInString(text) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}
	return nil
}

// ---- frame IO ----

func (g *WSGateway) readFrame(ctx context.Context, ws *websocket.Conn) ([]byte, error) {
	if g.cfg.ReadIdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		defer cancel()
	}
	_, data, err := ws.Read(ctx)
	return data, err
}

func writeFrame(parent context.Context, ws *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		// Accept matches against host[:port]; allow any port of an allowed host.
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
