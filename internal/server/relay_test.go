package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/testutil"
)

func TestHealthAndTestPage(t *testing.T) {
	relay := testutil.NewRelay(t, nil)

	resp := testutil.MakeRequest(t, http.MethodGet, relay.URL()+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "roomchat relay is running!", string(body))

	resp = testutil.MakeRequest(t, http.MethodGet, relay.URL()+"/test", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestJoinRequiresCompleteDescriptor(t *testing.T) {
	relay := testutil.NewRelay(t, nil)

	for _, tc := range []struct{ room, id, name string }{
		{"", "id", "ana"},
		{"lobby", "", "ana"},
		{"lobby", "id", "   "},
		{"a/b", "id", "ana"},
	} {
		conn, resp, err := testutil.DialURL(relay.WSURL(tc.room, tc.id, tc.name), testutil.Origin)
		require.Error(t, err)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestWebSocketRejectsNonGET(t *testing.T) {
	relay := testutil.NewRelay(t, nil)

	resp := testutil.MakeRequest(t, http.MethodPost, relay.URL()+"/ws?room=a&id=b&name=c", "")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	relay := testutil.NewRelay(t, nil)

	for _, origin := range []string{"", "http://evil.example", "not-a-url"} {
		conn, resp, err := testutil.DialURL(relay.WSURL("lobby", "id", "ana"), origin)
		require.Error(t, err, "origin %q", origin)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestJoinReceivesHistoryFirst(t *testing.T) {
	relay := testutil.NewRelay(t, nil)

	first, history := relay.Join(t, "lobby", "u1", "ana")
	require.Empty(t, history.Messages)
	require.Equal(t, "lobby", history.Room)

	testutil.Send(t, first, chat.PostMessage{Text: "hello"})
	testutil.ReadUntil[chat.MessageEvent](t, first)

	second := relay.Dial(t, "Lobby", "u2", "bia")
	ev, err := testutil.ReadEvent(second, testutil.ReadTimeout)
	require.NoError(t, err)
	backlog, ok := ev.(chat.HistoryEvent)
	require.True(t, ok, "first event was %T", ev)
	require.Len(t, backlog.Messages, 1)
	require.Equal(t, "hello", backlog.Messages[0].Text)
	require.Equal(t, "ana", backlog.Messages[0].User)

	joined := testutil.ReadUntil[chat.SystemEvent](t, first)
	require.Equal(t, "bia joined the room", joined.Text)
	presence := testutil.ReadUntil[chat.PresenceEvent](t, first)
	require.Equal(t, 2, presence.Count)
	require.Equal(t, []string{"ana", "bia"}, presence.Users)
}

func TestMessageDeliveredExactlyOnceToRoomOnly(t *testing.T) {
	relay := testutil.NewRelay(t, nil)

	ana, _ := relay.Join(t, "lobby", "u1", "ana")
	bia, _ := relay.Join(t, "lobby", "u2", "bia")
	caio, _ := relay.Join(t, "elsewhere", "u3", "caio")
	testutil.ReadUntil[chat.PresenceEvent](t, ana)

	testutil.Send(t, ana, chat.PostMessage{Text: "  only lobby  "})

	for _, conn := range []*websocket.Conn{ana, bia} {
		msg := testutil.ReadUntil[chat.MessageEvent](t, conn)
		require.Equal(t, "only lobby", msg.Text)
		require.Equal(t, "ana", msg.User)
		require.NotEmpty(t, msg.ID)
		testutil.ExpectNoEvent(t, conn, 150*time.Millisecond)
	}
	testutil.ExpectNoEvent(t, caio, 150*time.Millisecond)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	conn, _ := relay.Join(t, "lobby", "u1", "ana")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","text":"   "}`)))
	testutil.Send(t, conn, chat.PostMessage{Text: "still here"})

	ev, err := testutil.ReadEvent(conn, testutil.ReadTimeout)
	require.NoError(t, err)
	msg, ok := ev.(chat.MessageEvent)
	require.True(t, ok, "got %T", ev)
	require.Equal(t, "still here", msg.Text)
}

func TestRateLimitedMessagesReportError(t *testing.T) {
	relay := testutil.NewRelay(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Minute}
	})
	conn, _ := relay.Join(t, "lobby", "u1", "ana")

	for i := 0; i < 3; i++ {
		testutil.Send(t, conn, chat.PostMessage{Text: "spam"})
	}

	testutil.ReadUntil[chat.MessageEvent](t, conn)
	testutil.ReadUntil[chat.MessageEvent](t, conn)
	errEv := testutil.ReadUntil[chat.ErrorEvent](t, conn)
	require.Equal(t, chat.CodeRateLimited, errEv.Code)

	// Typing signals are not rate limited.
	testutil.Send(t, conn, chat.StartTyping{})
	testutil.ExpectNoEvent(t, conn, 100*time.Millisecond)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	relay := testutil.NewRelay(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 256
	})
	conn, _ := relay.Join(t, "lobby", "u1", "ana")

	payload, err := json.Marshal(map[string]string{"type": "message", "text": strings.Repeat("x", 1024)})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	require.Equal(t, websocket.CloseMessageTooBig, testutil.ExpectClose(t, conn))
}

func TestTypingExpiresAcrossConnections(t *testing.T) {
	relay := testutil.NewRelay(t, func(cfg *server.Config) {
		cfg.TypingTimeout = 100 * time.Millisecond
	})
	ana, _ := relay.Join(t, "lobby", "u1", "ana")
	bia, _ := relay.Join(t, "lobby", "u2", "bia")
	testutil.ReadUntil[chat.PresenceEvent](t, ana)

	testutil.Send(t, ana, chat.StartTyping{})
	typing := testutil.ReadUntil[chat.TypingEvent](t, bia)
	require.Equal(t, []string{"ana"}, typing.Users)

	expired := testutil.ReadUntil[chat.TypingEvent](t, bia)
	require.Empty(t, expired.Users)
	expiredForSender := testutil.ReadUntil[chat.TypingEvent](t, ana)
	require.Empty(t, expiredForSender.Users)
}

func TestLeaveAnnouncesPresence(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	ana, _ := relay.Join(t, "lobby", "u1", "ana")
	bia, _ := relay.Join(t, "lobby", "u2", "bia")
	testutil.ReadUntil[chat.PresenceEvent](t, ana)

	require.NoError(t, bia.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = bia.Close()

	left := testutil.ReadUntil[chat.SystemEvent](t, ana)
	require.Equal(t, "bia left the room", left.Text)
	presence := testutil.ReadUntil[chat.PresenceEvent](t, ana)
	require.Equal(t, []string{"ana"}, presence.Users)
}

func TestClearOverWebSocket(t *testing.T) {
	relay := testutil.NewRelay(t, nil)

	resp := testutil.MakeRequest(t, http.MethodPost, relay.URL()+"/rooms", `{"name":"club","creator":"owner"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	owner, _ := relay.Join(t, "club", "owner", "ana")
	guest, _ := relay.Join(t, "club", "guest", "bia")
	testutil.ReadUntil[chat.PresenceEvent](t, owner)

	testutil.Send(t, guest, chat.ClearRoom{})
	denied := testutil.ReadUntil[chat.ErrorEvent](t, guest)
	require.Equal(t, chat.CodeForbidden, denied.Code)

	testutil.Send(t, owner, chat.ClearRoom{})
	for _, conn := range []*websocket.Conn{owner, guest} {
		ev := testutil.ReadUntil[chat.SystemEvent](t, conn)
		require.True(t, ev.Clear)
		require.Equal(t, "ana cleared the room", ev.Text)
	}
}

func TestShutdownClosesConnectionsWithGoingAway(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	conn, _ := relay.Join(t, "lobby", "u1", "ana")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, relay.Server.Shutdown(ctx))

	require.Equal(t, websocket.CloseGoingAway, testutil.ExpectClose(t, conn))
}

func TestShutdownWithoutClients(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	require.NoError(t, relay.Server.Hub.Shutdown(time.Second))
}
