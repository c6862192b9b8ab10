// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// health check, WebSocket endpoint, room management and the test page.
func SetupRoutes(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)

	rooms := http.NewServeMux()
	rooms.HandleFunc("GET /rooms", h.ListRoomsHandler)
	rooms.HandleFunc("POST /rooms", h.CreateRoomHandler)
	rooms.HandleFunc("DELETE /rooms/{name}", h.DeleteRoomHandler)
	rooms.HandleFunc("OPTIONS /rooms", func(http.ResponseWriter, *http.Request) {})
	rooms.HandleFunc("OPTIONS /rooms/{name}", func(http.ResponseWriter, *http.Request) {})
	withCORS := h.origins.cors(rooms)
	mux.Handle("/rooms", withCORS)
	mux.Handle("/rooms/", withCORS)
	return mux
}
