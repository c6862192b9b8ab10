// Package server defines shared payload types and utility helpers that are
// reused across client and hub logic.
package server

import (
	"strings"

	"github.com/gorilla/websocket"
)

// outbound is an encoded event held for a connection that is still loading
// its history. messageID is set for message events so duplicates of the
// backlog can be dropped.
type outbound struct {
	payload   []byte
	messageID string
}

// Close codes sent to connections the relay drops on purpose.
const (
	CloseRoomDeleted  = 4004
	CloseSlowConsumer = websocket.ClosePolicyViolation
	CloseShutdown     = websocket.CloseGoingAway
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
