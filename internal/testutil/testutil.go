// Package testutil provides helpers shared by the relay and client tests:
// an in-process relay served by httptest, websocket dial helpers and event
// readers.
package testutil

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Origin is the Origin header sent by Dial. It is allowed by default.
const Origin = "http://localhost:8080"

// ReadTimeout bounds every read performed by the helpers.
const ReadTimeout = 3 * time.Second

// Relay is a relay running on an httptest server.
type Relay struct {
	Server *server.Server
	HTTP   *httptest.Server
	Memory *store.Memory
}

// NewRelay starts a relay over an in-memory store. customize may adjust the
// configuration before the hub is built.
func NewRelay(t *testing.T, customize func(cfg *server.Config)) *Relay {
	t.Helper()
	mem := store.NewMemory()
	cfg := server.NewConfig()
	if customize != nil {
		customize(cfg)
	}
	r := NewRelayWith(t, cfg, mem, mem)
	r.Memory = mem
	return r
}

// NewRelayWith starts a relay over the given stores.
func NewRelayWith(t *testing.T, cfg *server.Config, messages store.MessageStore, rooms store.RoomStore) *Relay {
	t.Helper()
	if cfg == nil {
		cfg = server.NewConfig()
	}
	logger := server.NewLogger("error", "text", io.Discard)
	srv := server.NewServer(*cfg, messages, rooms, logger)
	require.NoError(t, srv.Prepare(context.Background()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Hub.Shutdown(2 * time.Second)
		ts.Close()
	})
	return &Relay{Server: srv, HTTP: ts}
}

// URL returns the base http URL of the relay.
func (r *Relay) URL() string {
	return r.HTTP.URL
}

// WSURL returns the join URL for the descriptor.
func (r *Relay) WSURL(room, id, name string) string {
	q := url.Values{}
	q.Set("room", room)
	q.Set("id", id)
	q.Set("name", name)
	return "ws" + strings.TrimPrefix(r.HTTP.URL, "http") + "/ws?" + q.Encode()
}

// Dial joins room and fails the test when the handshake does not succeed.
func (r *Relay) Dial(t *testing.T, room, id, name string) *websocket.Conn {
	t.Helper()
	conn, resp, err := DialURL(r.WSURL(room, id, name), Origin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Join dials room and consumes the history, the join notice and the presence
// event the relay sends on admission. It returns the history.
func (r *Relay) Join(t *testing.T, room, id, name string) (*websocket.Conn, chat.HistoryEvent) {
	t.Helper()
	conn := r.Dial(t, room, id, name)
	history := ReadUntil[chat.HistoryEvent](t, conn)
	ReadUntil[chat.PresenceEvent](t, conn)
	return conn, history
}

// DialURL opens a websocket with the given Origin header.
func DialURL(rawURL, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return dialer.Dial(rawURL, header)
}

// Send writes one inbound event.
func Send(t *testing.T, conn *websocket.Conn, ev chat.Inbound) {
	t.Helper()
	payload, err := chat.EncodeInbound(ev)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// ReadEvent reads and decodes the next event.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (chat.Outbound, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return chat.DecodeOutbound(raw)
}

// ReadUntil skips events until one of type T arrives.
func ReadUntil[T chat.Outbound](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	deadline := time.Now().Add(ReadTimeout)
	for time.Now().Before(deadline) {
		ev, err := ReadEvent(conn, time.Until(deadline))
		require.NoError(t, err)
		if match, ok := ev.(T); ok {
			return match
		}
	}
	var zero T
	t.Fatalf("no %T received within %s", zero, ReadTimeout)
	return zero
}

// ExpectNoEvent fails the test when conn receives a frame within d.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	ev, err := ReadEvent(conn, d)
	if err == nil {
		t.Fatalf("expected no event, got %#v", ev)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("unexpected error while waiting for silence: %v", err)
}

// ExpectClose reads until the connection closes and returns the close code.
func ExpectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	deadline := time.Now().Add(ReadTimeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return closeErr.Code
		}
		t.Fatalf("connection ended without a close frame: %v", err)
		return 0
	}
}

// MakeRequest executes an HTTP request with an optional JSON body.
func MakeRequest(t *testing.T, method, rawURL, body string) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
