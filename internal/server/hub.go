// Package server coordinates room membership, message fan-out, presence and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Hub ties the registry, the room directory, the presence tracker and the
// message store together. Operations triggered by a connection run on that
// connection's read pump; registration and eviction run on the Run loop.
type Hub struct {
	cfg       Config
	log       *slog.Logger
	messages  store.MessageStore
	directory *Directory
	registry  *Registry
	presence  *Presence
	origins   *originPolicy
	upgrader  websocket.Upgrader
	now       func() time.Time

	register   chan *Client
	unregister chan *Client
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// RoomSummary is a room with its live connection count.
type RoomSummary struct {
	chat.Room
	Online int `json:"online"`
}

// NewHub creates a hub over the given stores. The returned Hub is ready to
// run; call EnsureDefaultRoom before serving.
func NewHub(cfg Config, messages store.MessageStore, rooms store.RoomStore, logger *slog.Logger) *Hub {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		log:        logger,
		messages:   messages,
		directory:  NewDirectory(rooms, cfg.DefaultRoom),
		registry:   NewRegistry(),
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
		now:        time.Now,
		register:   make(chan *Client),
		unregister: make(chan *Client, cfg.SendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.presence = NewPresence(h.registry, cfg.TypingTimeout, h.typingExpired)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.checkOrigin,
	}
	return h
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config {
	return h.cfg
}

// Directory exposes the room directory.
func (h *Hub) Directory() *Directory {
	return h.directory
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Presence exposes the presence tracker.
func (h *Hub) Presence() *Presence {
	return h.presence
}

// EnsureDefaultRoom creates the protected default room if it is missing.
func (h *Hub) EnsureDefaultRoom(ctx context.Context) (chat.Room, error) {
	return h.directory.Ensure(ctx, h.cfg.DefaultRoom, chat.SystemCreator)
}

// GetRegisterChan returns the channel used to hand joined clients to the run
// loop, which starts their pumps.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop, starting client pumps and handling
// evictions. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()
			client.log.Info("client registered", "inRoom", h.registry.CountInRoom(client.room.ID))

		case client := <-h.unregister:
			h.leave(client)
		}
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// scheduleEviction queues c for eviction without blocking the caller.
func (h *Hub) scheduleEviction(c *Client) {
	select {
	case h.unregister <- c:
	default:
		go h.unregisterClient(c)
	}
}

// Join admits c, delivers its history and announces it to the room. History
// is always the first event the client receives; events broadcast while it
// loads are held and flushed after it without duplicating the backlog.
func (h *Hub) Join(ctx context.Context, c *Client) error {
	reg, err := h.registry.Admit(c)
	if err != nil {
		return err
	}
	c.reg = reg

	reg.state.lifecycle.RLock()
	history, err := h.messages.History(ctx, c.room.ID, h.cfg.HistoryLimit)
	reg.state.lifecycle.RUnlock()
	if err != nil {
		h.registry.Evict(reg)
		c.closeSend(websocket.CloseInternalServerErr, "history unavailable")
		return fmt.Errorf("load history: %w: %v", chat.ErrStorageUnavailable, err)
	}

	payload, err := chat.EncodeOutbound(chat.NewHistoryEvent(c.room.Name, history))
	if err != nil {
		h.registry.Evict(reg)
		c.closeSend(websocket.CloseInternalServerErr, "")
		return err
	}
	if n := len(history); n > 0 {
		reg.state.observe(history[n-1].CreatedAt)
	}
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		seen[m.ID] = struct{}{}
	}
	if !c.activate(payload, seen) {
		h.removeFailedClients([]*Client{c})
		return nil
	}

	users := h.presence.UsersOnline(c.room.ID)
	h.Broadcast(c.room.ID, chat.NewSystemEvent(fmt.Sprintf("%s joined the room", c.name), users), nil)
	h.Broadcast(c.room.ID, chat.NewPresenceEvent(c.room.Name, users), nil)
	c.log.Info("client joined", "history", len(history), "online", len(users))
	return nil
}

// leave evicts c and announces the new presence. Repeated calls are no-ops.
func (h *Hub) leave(c *Client) {
	c.closeSend(websocket.CloseNormalClosure, "")
	if !h.registry.Evict(c.reg) {
		return
	}

	roomID := c.room.ID
	if h.presence.ClearTyping(roomID, c.name) {
		h.Broadcast(roomID, chat.NewTypingEvent(h.presence.Typing(roomID), ""), nil)
	}
	users := h.presence.UsersOnline(roomID)
	h.Broadcast(roomID, chat.NewSystemEvent(fmt.Sprintf("%s left the room", c.name), users), nil)
	h.Broadcast(roomID, chat.NewPresenceEvent(c.room.Name, users), nil)
	c.log.Info("client unregistered", "online", len(users))
}

// Broadcast delivers ev to every connection in the room except exclude and
// returns how many connections accepted it. Connections whose queue is full
// are dropped.
func (h *Hub) Broadcast(roomID string, ev chat.Outbound, exclude *Client) int {
	payload, err := chat.EncodeOutbound(ev)
	if err != nil {
		h.log.Error("encoding broadcast", "error", err)
		return 0
	}
	messageID := ""
	if m, ok := ev.(chat.MessageEvent); ok {
		messageID = m.ID
	}

	delivered := 0
	var failed []*Client
	h.registry.ForEachInRoom(roomID, func(c *Client) {
		if c == exclude {
			return
		}
		if h.safeSend(c, payload, messageID) {
			delivered++
			return
		}
		failed = append(failed, c)
	})
	h.removeFailedClients(failed)
	return delivered
}

// sendTo delivers ev to a single connection.
func (h *Hub) sendTo(c *Client, ev chat.Outbound) {
	payload, err := chat.EncodeOutbound(ev)
	if err != nil {
		h.log.Error("encoding event", "error", err)
		return
	}
	if !h.safeSend(c, payload, "") {
		h.removeFailedClients([]*Client{c})
	}
}

func (h *Hub) safeSend(c *Client, payload []byte, messageID string) bool {
	return c.deliver(payload, messageID)
}

// removeFailedClients closes the send path of clients that could not take a
// message and queues their eviction.
func (h *Hub) removeFailedClients(clients []*Client) {
	for _, c := range clients {
		if !c.isClosed() {
			c.log.Warn("dropping client with full send buffer")
		}
		c.closeSend(CloseSlowConsumer, "send buffer full")
		h.scheduleEviction(c)
	}
}

// PostMessage persists the message and broadcasts it to the whole room,
// sender included. Nothing is broadcast when persistence fails. Posts to one
// room are stamped, stored and broadcast one at a time, so the live order
// and the stored history agree.
func (h *Hub) PostMessage(ctx context.Context, c *Client, ev chat.PostMessage) error {
	state := c.reg.state
	state.lifecycle.RLock()
	defer state.lifecycle.RUnlock()

	if state.isDeleted() {
		return fmt.Errorf("%w: %s", chat.ErrRoomNotFound, c.room.Name)
	}

	state.appendMu.Lock()
	defer state.appendMu.Unlock()

	msg := chat.NewMessage(c.room.ID, c.identity, c.name, ev.Text, ev.Image, state.stamp(h.now()))
	stored, err := h.messages.Append(ctx, msg)
	if err != nil {
		return fmt.Errorf("append message: %w: %v", chat.ErrStorageUnavailable, err)
	}

	h.Broadcast(c.room.ID, chat.NewMessageEvent(stored), nil)
	if h.presence.ClearTyping(c.room.ID, c.name) {
		h.Broadcast(c.room.ID, chat.NewTypingEvent(h.presence.Typing(c.room.ID), ""), c)
	}
	return nil
}

// StartTyping marks c as typing and tells the rest of the room when the
// typing set changed.
func (h *Hub) StartTyping(c *Client) {
	if c.isClosed() {
		return
	}
	if h.presence.MarkTyping(c.room.ID, c.name) {
		h.Broadcast(c.room.ID, chat.NewTypingEvent(h.presence.Typing(c.room.ID), c.name), c)
	}
}

// StopTyping clears c's typing entry.
func (h *Hub) StopTyping(c *Client) {
	if h.presence.ClearTyping(c.room.ID, c.name) {
		h.Broadcast(c.room.ID, chat.NewTypingEvent(h.presence.Typing(c.room.ID), ""), c)
	}
}

func (h *Hub) typingExpired(roomID, _ string) {
	h.Broadcast(roomID, chat.NewTypingEvent(h.presence.Typing(roomID), ""), nil)
}

// ClearRoom wipes the room history on behalf of its creator and tells every
// connection to drop its local copy.
func (h *Hub) ClearRoom(ctx context.Context, c *Client) error {
	if err := h.directory.Authorize(c.room, c.identity); err != nil {
		return err
	}

	state := c.reg.state
	state.lifecycle.Lock()
	defer state.lifecycle.Unlock()

	if state.isDeleted() {
		return fmt.Errorf("%w: %s", chat.ErrRoomNotFound, c.room.Name)
	}
	if err := h.messages.Clear(ctx, c.room.ID); err != nil {
		return fmt.Errorf("clear room: %w: %v", chat.ErrStorageUnavailable, err)
	}

	users := h.presence.UsersOnline(c.room.ID)
	h.Broadcast(c.room.ID, chat.NewClearedEvent(fmt.Sprintf("%s cleared the room", c.name), users), nil)
	c.log.Info("room cleared")
	return nil
}

// CreateRoom registers a new room.
func (h *Hub) CreateRoom(ctx context.Context, name, creator string) (chat.Room, error) {
	room, err := h.directory.Create(ctx, name, creator)
	if err != nil {
		return chat.Room{}, err
	}
	h.log.Info("room created", "room", room.Name, "creator", room.Creator)
	return room, nil
}

// DeleteRoom removes a room on behalf of requester: its connections are
// closed, its messages purged and its metadata removed. No message appended
// concurrently survives the deletion.
func (h *Hub) DeleteRoom(ctx context.Context, name, requester string) (chat.Room, error) {
	room, err := h.directory.Delete(ctx, name, requester, func(room chat.Room) error {
		return h.purgeRoom(ctx, room)
	})
	if err != nil {
		return chat.Room{}, err
	}
	h.log.Info("room deleted", "room", room.Name, "by", requester)
	return room, nil
}

func (h *Hub) purgeRoom(ctx context.Context, room chat.Room) error {
	state := h.registry.lockRoom(room)
	defer state.lifecycle.Unlock()

	if err := h.messages.DeleteAll(ctx, room.ID); err != nil {
		return fmt.Errorf("purge messages: %w: %v", chat.ErrStorageUnavailable, err)
	}

	h.Broadcast(room.ID, chat.NewSystemEvent(fmt.Sprintf("room %s was deleted", room.Name), nil), nil)
	clients := h.registry.Retire(room.ID)
	h.presence.DropRoom(room.ID)
	for _, c := range clients {
		c.closeSend(CloseRoomDeleted, "room deleted")
	}
	h.log.Info("room purged", "room", room.Name, "evicted", len(clients))
	return nil
}

// ListRooms returns every room with its live connection count.
func (h *Hub) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	rooms, err := h.directory.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, RoomSummary{Room: room, Online: h.registry.CountInRoom(room.ID)})
	}
	return summaries, nil
}

// shutdownClients closes every connection with a going-away frame.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")
	h.presence.Stop()

	clients := h.registry.All()
	for _, c := range clients {
		c.closeSend(CloseShutdown, "server shutting down")
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
