// Package server exposes HTTP handlers, including WebSocket upgrades, room
// management, health checks, and the built-in test page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const maxRequestBody = 4 << 10

// WebSocketHandler upgrades a join request. The query carries room, id and
// name; a request missing any of them is refused with 400 before the upgrade.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	join, err := chat.JoinRequest{Room: q.Get("room"), Identity: q.Get("id"), Name: q.Get("name")}.Normalize()
	if err != nil {
		h.log.Info("refusing join", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.origins.checkOrigin(r) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	room, err := h.directory.Ensure(r.Context(), join.Room, chat.SystemCreator)
	if err != nil {
		h.log.Error("resolving room for join", "room", join.Room, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h, r.RemoteAddr, room, join)

	ctx, cancel := context.WithTimeout(h.ctx, opTimeout)
	defer cancel()
	if err := h.Join(ctx, client); err != nil {
		client.log.Warn("join failed", "error", err)
		h.rejectConn(conn, err)
		return
	}

	// The run loop launches the pump goroutines.
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		h.leave(client)
		_ = conn.Close()
	}
}

// rejectConn reports err to a connection that could not join, then closes it.
func (h *Hub) rejectConn(conn *websocket.Conn, err error) {
	if payload, encErr := chat.EncodeOutbound(chat.NewErrorEvent(err)); encErr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	code := websocket.CloseInternalServerErr
	if errors.Is(err, chat.ErrRoomNotFound) {
		code = CloseRoomDeleted
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, chat.ErrorCode(err)))
	_ = conn.Close()
}

// ListRoomsHandler lists every room with its online count.
func (h *Hub) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.ListRooms(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// CreateRoomHandler creates a room from a {name, creator} body.
func (h *Hub) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req chat.CreateRoomRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", chat.ErrInvalidRoomName, err))
		return
	}

	room, err := h.CreateRoom(r.Context(), req.Name, req.Creator)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "room": room})
}

// DeleteRoomHandler deletes the room named in the path on behalf of the
// requester given by the "by" query parameter or a {"by": ...} body.
func (h *Hub) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	requester := strings.TrimSpace(r.URL.Query().Get("by"))
	if requester == "" && r.ContentLength != 0 {
		var body struct {
			By string `json:"by"`
		}
		if err := decodeBody(w, r, &body); err == nil {
			requester = strings.TrimSpace(body.By)
		}
	}
	if requester == "" {
		h.writeError(w, chat.ErrMissingRequester)
		return
	}

	room, err := h.DeleteRoom(r.Context(), name, requester)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "room": room})
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat relay is running!")
}

type errorBody struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidRoomName), errors.Is(err, chat.ErrInvalidJoin), errors.Is(err, chat.ErrMissingRequester):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrRoomExists), errors.Is(err, chat.ErrRoomProtected):
		return http.StatusConflict
	case errors.Is(err, chat.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Hub) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Code: chat.ErrorCode(err), Error: chat.PublicReason(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
