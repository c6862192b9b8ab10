// Package client implements the client side of the relay protocol: a
// connection that keeps itself joined to one room, identity persistence and
// a small client for the room management API.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// ErrNotOpen is returned by Send while the connection is not open.
var ErrNotOpen = errors.New("client: connection is not open")

// State is the lifecycle state of a Conn.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reconnect delays.
const (
	DefaultInitialInterval = 1500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	eventBuffer      = 64
)

// Options configures a Conn.
type Options struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:8080/ws.
	URL      string
	Room     string
	Identity string
	Name     string
	// Origin is sent with the handshake when set.
	Origin string

	Backoff  *backoff.ExponentialBackOff
	Dialer   *websocket.Dialer
	Logger   *slog.Logger
	OnChange func(State)
}

// Conn keeps one join descriptor connected to the relay. It reconnects with
// capped exponential backoff until its context is cancelled. Nothing sent
// while disconnected is queued.
type Conn struct {
	endpoint string
	origin   string
	dialer   *websocket.Dialer
	backoff  *backoff.ExponentialBackOff
	log      *slog.Logger
	onChange func(State)
	events   chan chat.Outbound

	mu    sync.Mutex
	state State
	ws    *websocket.Conn

	writeMu sync.Mutex
}

// New validates the join descriptor and prepares a Conn. Call Run to connect.
func New(opts Options) (*Conn, error) {
	join, err := chat.JoinRequest{Room: opts.Room, Identity: opts.Identity, Name: opts.Name}.Normalize()
	if err != nil {
		return nil, err
	}
	endpoint, err := JoinURL(opts.URL, join)
	if err != nil {
		return nil, err
	}

	b := opts.Backoff
	if b == nil {
		b = NewBackoff()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		endpoint: endpoint,
		origin:   opts.Origin,
		dialer:   dialer,
		backoff:  b,
		log:      logger.With("room", join.Room, "user", join.Name),
		onChange: opts.OnChange,
		events:   make(chan chat.Outbound, eventBuffer),
		state:    Disconnected,
	}, nil
}

// NewBackoff returns the default reconnect policy: 1.5s doubling up to 30s
// with jitter.
func NewBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultInitialInterval
	b.MaxInterval = DefaultMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.Reset()
	return b
}

// JoinURL adds the join descriptor to the relay endpoint as query parameters.
func JoinURL(endpoint string, join chat.JoinRequest) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("room", join.Room)
	q.Set("id", join.Identity)
	q.Set("name", join.Name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// URL returns the full join URL.
func (c *Conn) URL() string {
	return c.endpoint
}

// Events returns the decoded events received from the relay. The channel is
// closed when Run returns.
func (c *Conn) Events() <-chan chat.Outbound {
	return c.events
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State, ws *websocket.Conn) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.ws = ws
	c.mu.Unlock()

	if changed {
		c.log.Debug("connection state changed", "state", s)
		if c.onChange != nil {
			c.onChange(s)
		}
	}
}

// Run connects and keeps reconnecting until ctx is cancelled. It always
// returns ctx.Err().
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.events)

	for {
		c.setState(Connecting, nil)
		ws, err := c.dial(ctx)
		if err == nil {
			c.backoff.Reset()
			c.setState(Open, ws)
			err = c.readLoop(ctx, ws)
			c.setState(Disconnected, nil)
			_ = ws.Close()
		} else {
			c.setState(Disconnected, nil)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.backoff.NextBackOff()
		c.log.Info("connection lost; retrying", "error", err, "in", delay.Round(time.Millisecond))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return ws, nil
}

// readLoop forwards decoded events until the socket fails or ctx ends.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = ws.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := chat.DecodeOutbound(raw)
		if err != nil {
			c.log.Warn("ignoring undecodable event", "error", err)
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send writes ev to the relay. It returns ErrNotOpen when the connection is
// not open; the event is dropped, not queued.
func (c *Conn) Send(ev chat.Inbound) error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()
	if state != Open || ws == nil {
		return ErrNotOpen
	}

	payload, err := chat.EncodeInbound(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, payload)
}

// SendMessage posts text and an optional image data URL.
func (c *Conn) SendMessage(text, image string) error {
	return c.Send(chat.PostMessage{Text: text, Image: image})
}
