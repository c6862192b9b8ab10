// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	opTimeout  = 10 * time.Second
)

// Client represents one WebSocket connection admitted to a room. Outgoing
// events go through a bounded send channel; a client that cannot keep up is
// dropped instead of slowing the room down.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	addr     string
	room     chat.Room
	identity string
	name     string
	reg      *Registration
	log      *slog.Logger

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	mu          sync.Mutex
	pending     bool
	held        []outbound
	closed      bool
	closeCode   int
	closeReason string
}

// NewClient creates a Client for an upgraded connection joining room. The
// client holds its outgoing events until its history has been delivered.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, room chat.Room, join chat.JoinRequest) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		addr:           addr,
		room:           room,
		identity:       join.Identity,
		name:           join.Name,
		log:            hub.log.With("remote", addr, "room", room.Name, "user", join.Name),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		pending:        true,
	}
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Name returns the display name the client joined with.
func (c *Client) Name() string {
	return c.name
}

// deliver queues payload without blocking. It reports false when the client
// is closed or its queue is full.
func (c *Client) deliver(payload []byte, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.pending {
		if len(c.held) >= cap(c.send) {
			return false
		}
		c.held = append(c.held, outbound{payload: payload, messageID: messageID})
		return true
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// activate queues the history frame, then every held event whose message is
// not already part of the history.
func (c *Client) activate(history []byte, seen map[string]struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.pending = false
	held := c.held
	c.held = nil

	queue := make([][]byte, 0, len(held)+1)
	queue = append(queue, history)
	for _, ev := range held {
		if _, dup := seen[ev.messageID]; ev.messageID != "" && dup {
			continue
		}
		queue = append(queue, ev.payload)
	}

	for _, payload := range queue {
		select {
		case c.send <- payload:
		default:
			return false
		}
	}
	return true
}

// closeSend stops delivery and closes the send channel so the write pump
// sends a close frame with code and reason. It is safe to call repeatedly.
func (c *Client) closeSend(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.held = nil
	close(c.send)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching how expected it
// is. Any read error ends the connection.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", "error", err)
	default:
		c.log.Warn("websocket read error", "error", err)
	}
}

// checkRateLimit reports whether another message may be posted now.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded; discarding message", "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage parses one inbound frame and hands it to the hub. Malformed
// frames are logged and dropped; rejected operations are reported back to
// the client as error events. Frames still arriving on a connection that was
// already dropped are ignored.
func (c *Client) processMessage(raw []byte) bool {
	if c.isClosed() {
		c.log.Debug("ignoring event from closed connection")
		return false
	}

	ev, err := chat.ParseInbound(raw, c.hub.cfg.Limits())
	if err != nil {
		c.log.Warn("discarding malformed event", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, opTimeout)
	defer cancel()

	switch ev := ev.(type) {
	case chat.PostMessage:
		if !c.checkRateLimit() {
			err = chat.ErrRateLimited
			break
		}
		err = c.hub.PostMessage(ctx, c, ev)
	case chat.StartTyping:
		c.hub.StartTyping(c)
	case chat.StopTyping:
		c.hub.StopTyping(c)
	case chat.ClearRoom:
		err = c.hub.ClearRoom(ctx, c)
	}

	if err != nil {
		c.log.Warn("operation rejected", "error", err)
		c.hub.sendTo(c, chat.NewErrorEvent(err))
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("closing connection", "error", err)
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if !c.writeTextMessage(message) {
		return false
	}
	return c.writeQueuedMessages()
}

// writeCloseMessage sends a close frame carrying the reason recorded by closeSend.
func (c *Client) writeCloseMessage() bool {
	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	if code == 0 {
		code = websocket.CloseNormalClosure
	}

	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes one event as its own text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("writing message", "error", err)
		}
		return false
	}
	return true
}

// writeQueuedMessages flushes the events that queued up while the previous
// frame was being written. A closed channel ends the pump with a close frame.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeTextMessage(message) {
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("writing ping", "error", err)
		}
		return false
	}
	return true
}
