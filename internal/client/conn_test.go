package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/client"
	"github.com/Tyrowin/roomchat/internal/testutil"
)

func fastBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func waitFor[T chat.Outbound](t *testing.T, events <-chan chat.Outbound) T {
	t.Helper()
	timeout := time.After(testutil.ReadTimeout)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event stream closed")
			if match, ok := ev.(T); ok {
				return match
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func waitForNotice(t *testing.T, events <-chan chat.Outbound, text string) chat.SystemEvent {
	t.Helper()
	deadline := time.Now().Add(testutil.ReadTimeout)
	for time.Now().Before(deadline) {
		notice := waitFor[chat.SystemEvent](t, events)
		if notice.Text == text {
			return notice
		}
	}
	t.Fatalf("no system notice %q received", text)
	return chat.SystemEvent{}
}

type stateLog struct {
	mu     sync.Mutex
	states []client.State
}

func (l *stateLog) record(s client.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) count(s client.State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.states {
		if got == s {
			n++
		}
	}
	return n
}

type runResult struct {
	err  error
	done chan struct{}
}

func startConn(t *testing.T, relay *testutil.Relay, room, id, name string, log *stateLog) (*client.Conn, context.CancelFunc, *runResult) {
	t.Helper()
	opts := client.Options{
		URL:      relay.URL() + "/ws",
		Room:     room,
		Identity: id,
		Name:     name,
		Origin:   testutil.Origin,
		Backoff:  fastBackoff(),
	}
	if log != nil {
		opts.OnChange = log.record
	}
	conn, err := client.New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := &runResult{done: make(chan struct{})}
	go func() {
		result.err = conn.Run(ctx)
		close(result.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-result.done
	})
	return conn, cancel, result
}

func TestJoinURL(t *testing.T) {
	join := chat.JoinRequest{Room: "sala & co", Identity: "id-1", Name: "Ana Maria"}

	raw, err := client.JoinURL("http://localhost:8080/ws", join)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "ws", u.Scheme)
	require.Equal(t, "sala & co", u.Query().Get("room"))
	require.Equal(t, "id-1", u.Query().Get("id"))
	require.Equal(t, "Ana Maria", u.Query().Get("name"))

	raw, err = client.JoinURL("https://chat.example/ws", join)
	require.NoError(t, err)
	require.Contains(t, raw, "wss://chat.example/ws?")

	_, err = client.JoinURL("ftp://chat.example", join)
	require.Error(t, err)
}

func TestNewRejectsIncompleteDescriptor(t *testing.T) {
	_, err := client.New(client.Options{URL: "ws://localhost/ws", Room: "lobby", Identity: "id"})
	require.ErrorIs(t, err, chat.ErrInvalidJoin)
}

func TestSendWhileDisconnected(t *testing.T) {
	conn, err := client.New(client.Options{URL: "ws://localhost/ws", Room: "lobby", Identity: "id", Name: "ana"})
	require.NoError(t, err)

	require.Equal(t, client.Disconnected, conn.State())
	require.ErrorIs(t, conn.SendMessage("hello", ""), client.ErrNotOpen)
	require.ErrorIs(t, conn.Send(chat.StartTyping{}), client.ErrNotOpen)
}

func TestDroppedSendIsNotReplayed(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	opts := client.Options{
		URL: relay.URL() + "/ws", Room: "lobby", Identity: "id", Name: "ana",
		Origin: testutil.Origin, Backoff: fastBackoff(),
	}
	conn, err := client.New(opts)
	require.NoError(t, err)
	require.ErrorIs(t, conn.SendMessage("too early", ""), client.ErrNotOpen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	history := waitFor[chat.HistoryEvent](t, conn.Events())
	require.Empty(t, history.Messages)
	waitFor[chat.PresenceEvent](t, conn.Events())

	select {
	case ev := <-conn.Events():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestConnExchangesMessages(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	log := &stateLog{}
	conn, _, _ := startConn(t, relay, "lobby", "id-1", "ana", log)

	waitFor[chat.HistoryEvent](t, conn.Events())
	require.Equal(t, client.Open, conn.State())
	require.Equal(t, 1, log.count(client.Open))

	require.NoError(t, conn.SendMessage("hello", ""))
	msg := waitFor[chat.MessageEvent](t, conn.Events())
	require.Equal(t, "hello", msg.Text)
	require.Equal(t, "ana", msg.User)
}

func TestConnReconnectsAfterServerClose(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	rooms := client.NewRoomsAPI(relay.URL(), nil)
	ctx := context.Background()

	_, err := rooms.Create(ctx, "temp", "owner")
	require.NoError(t, err)

	log := &stateLog{}
	conn, _, _ := startConn(t, relay, "temp", "guest", "bia", log)
	waitFor[chat.HistoryEvent](t, conn.Events())

	require.NoError(t, rooms.Delete(ctx, "temp", "owner"))

	// The join notice for bia arrives first; skip to the deletion notice.
	waitForNotice(t, conn.Events(), "room temp was deleted")

	// The connection comes back and joins a fresh room of the same name.
	waitFor[chat.HistoryEvent](t, conn.Events())
	require.GreaterOrEqual(t, log.count(client.Open), 2)
	require.GreaterOrEqual(t, log.count(client.Disconnected), 1)
}

func TestRunRetriesUntilCancelled(t *testing.T) {
	conn, err := client.New(client.Options{
		URL: "ws://127.0.0.1:1/ws", Room: "lobby", Identity: "id", Name: "ana",
		Backoff: fastBackoff(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = conn.Run(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	_, open := <-conn.Events()
	require.False(t, open)
	require.Equal(t, client.Disconnected, conn.State())
}

func TestRunStopsOnCancel(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	conn, cancel, result := startConn(t, relay, "lobby", "id", "ana", nil)
	waitFor[chat.HistoryEvent](t, conn.Events())

	cancel()
	select {
	case <-result.done:
		require.ErrorIs(t, result.err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRoomsAPI(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	api := client.NewRoomsAPI(relay.URL()+"/", &http.Client{Timeout: 2 * time.Second})
	ctx := context.Background()

	room, err := api.Create(ctx, "Books", "owner")
	require.NoError(t, err)
	require.Equal(t, "books", room.Name)

	_, err = api.Create(ctx, "books", "")
	require.ErrorIs(t, err, chat.ErrRoomExists)

	rooms, err := api.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	require.ErrorIs(t, api.Delete(ctx, "books", "someone"), chat.ErrForbidden)
	require.ErrorIs(t, api.Delete(ctx, "geral", "owner"), chat.ErrRoomProtected)
	require.NoError(t, api.Delete(ctx, "books", "owner"))
	require.ErrorIs(t, api.Delete(ctx, "books", "owner"), chat.ErrRoomNotFound)
}
