// Package main is a WebSocket smoke test for the chat gateway.
//
// It mints two HS256 tokens, connects two clients, joins both to one
// conversation, sends a message from A and checks that A and B each receive
// exactly one newMessage carrying the committed fields.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	v1 "campusconnect/shared/contracts/chat/v1"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSubprotocol = "campusconnect.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.NewMessagePayload
	errCh chan error
}

func main() {
	var (
		wsURL     = flag.String("url", "ws://127.0.0.1:5000/ws", "WebSocket URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret    = flag.String("jwt-secret", os.Getenv("CHAT_JWT_SECRET"), "HS256 secret used to mint tokens (default $CHAT_JWT_SECRET)")
		issuer    = flag.String("issuer", os.Getenv("CHAT_AUTH_ISSUER"), "Token issuer claim")
		userA     = flag.String("user-a", "1", "User id of client A")
		userB     = flag.String("user-b", "2", "User id of client B")
		convID    = flag.String("conv", "1", "Conversation ID to join")
		text      = flag.String("text", "hello campus 👋", "Message text to send")
		settle    = flag.Duration("settle", 500*time.Millisecond, "Wait after join (the protocol has no join ack)")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		quietTime = flag.Duration("quiet", 1200*time.Millisecond, "Window in which no duplicate may arrive")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *secret == "" {
		fatalf("missing -jwt-secret (or CHAT_JWT_SECRET)")
	}

	iss := tokenMinter{secret: []byte(*secret), issuer: *issuer}

	root := context.Background()

	a := mustConnect(root, "A", *userA, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *userB, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	mustJoin(root, iss, a, *convID, *timeout)
	mustJoin(root, iss, b, *convID, *timeout)
	time.Sleep(*settle)

	if *verbose {
		fmt.Printf("joined: A=user:%s B=user:%s conv_id=%s\n", a.userID, b.userID, *convID)
	}

	msg, err := v1.EncodeMessage(*text)
	if err != nil {
		fatalf("encode message: %v", err)
	}
	mustWriteWithTimeout(root, a.conn, msg, *timeout)

	pa := a.mustReadNew(*timeout)
	pb := b.mustReadNew(*timeout)

	for _, got := range []struct {
		name string
		p    v1.NewMessagePayload
	}{{"A", pa}, {"B", pb}} {
		assertPayload(got.name, got.p, a.userID, *text)
	}
	if pa.MessageID != pb.MessageID {
		fatalf("message_id differs: A=%s B=%s", pa.MessageID, pb.MessageID)
	}

	a.mustStayQuiet(*quietTime)
	b.mustStayQuiet(*quietTime)

	fmt.Printf("OK: conv_id=%s message_id=%s sender=%s(%s) created_at=%s\n",
		*convID, pa.MessageID, pa.SenderUsername, pa.SenderID, pa.CreatedAt.Format(time.RFC3339Nano))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.NewMessagePayload, 64),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != "" && got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unexpected message type: %v", mt))
				return
			}

			p, err := v1.DecodeNewMessage(data)
			if err != nil {
				c.fail(fmt.Errorf("bad frame %s: %w", data, err))
				return
			}

			select {
			case c.inbox <- p:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// tokenMinter signs tokens in the account service format: {"user":{"id":N}} with exp.
type tokenMinter struct {
	secret []byte
	issuer string
}

func (m tokenMinter) mint(userID string, now time.Time) (string, error) {
	var id any = userID
	if n, err := strconv.ParseInt(userID, 10, 64); err == nil {
		id = n
	}
	claims := jwt.MapClaims{
		"user": map[string]any{"id": id},
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	}
	if m.issuer != "" {
		claims["iss"] = m.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func mustJoin(parent context.Context, iss tokenMinter, c *smokeClient, convID string, stepTimeout time.Duration) {
	tok, err := iss.mint(c.userID, time.Now())
	if err != nil {
		fatalf("mint token (%s): %v", c.name, err)
	}
	b, err := v1.EncodeJoin(tok, v1.ID(convID))
	if err != nil {
		fatalf("encode join (%s): %v", c.name, err)
	}
	mustWriteWithTimeout(parent, c.conn, b, stepTimeout)
}

func (c *smokeClient) mustReadNew(stepTimeout time.Duration) v1.NewMessagePayload {
	t := time.NewTimer(stepTimeout)
	defer t.Stop()

	select {
	case p, ok := <-c.inbox:
		if !ok {
			fatalf("connection %s closed: %v", c.name, <-c.errCh)
		}
		return p
	case err := <-c.errCh:
		fatalf("read %s: %v (close status %v)", c.name, err, websocket.CloseStatus(err))
	case <-t.C:
		fatalf("timeout waiting for newMessage on %s", c.name)
	}
	return v1.NewMessagePayload{}
}

func (c *smokeClient) mustStayQuiet(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case p, ok := <-c.inbox:
		if ok {
			fatalf("unexpected extra newMessage on %s: id=%s", c.name, p.MessageID)
		}
	case <-t.C:
	}
}

func assertPayload(name string, p v1.NewMessagePayload, senderID, text string) {
	if p.MessageID.IsZero() {
		fatalf("%s: missing message_id", name)
	}
	if p.MessageText != text {
		fatalf("%s: text mismatch: got=%q want=%q", name, p.MessageText, text)
	}
	if p.SenderID.String() != senderID {
		fatalf("%s: sender_id mismatch: got=%q want=%q", name, p.SenderID, senderID)
	}
	if strings.TrimSpace(p.SenderUsername) == "" {
		fatalf("%s: missing sender_username", name)
	}
	if p.CreatedAt.IsZero() {
		fatalf("%s: missing created_at", name)
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, b []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func closeWS(c *websocket.Conn) {
	if c == nil {
		return
	}
	_ = c.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
