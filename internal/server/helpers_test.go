package server

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testRoom(name string) chat.Room {
	return chat.NewRoom(name, "creator-id", time.Now())
}

// newTestClient builds a client with no socket. It is active, so deliver
// writes straight to its send channel.
func newTestClient(room chat.Room, identity, name string, buffer int) *Client {
	return &Client{
		send:     make(chan []byte, buffer),
		room:     room,
		identity: identity,
		name:     name,
		log:      discardLogger,
	}
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, payload)
		default:
			return out
		}
	}
}

func decodeAll(t *testing.T, frames [][]byte) []chat.Outbound {
	t.Helper()
	events := make([]chat.Outbound, 0, len(frames))
	for _, raw := range frames {
		ev, err := chat.DecodeOutbound(raw)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}
