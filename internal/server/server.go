// Package server implements the relay process: the hub and the HTTP server
// that exposes it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Server bundles the hub and the HTTP server of one relay process.
type Server struct {
	Hub  *Hub
	HTTP *http.Server
	log  *slog.Logger
}

// NewServer builds a relay serving cfg.Port over the given stores.
func NewServer(cfg Config, messages store.MessageStore, rooms store.RoomStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(cfg, messages, rooms, logger)
	return &Server{
		Hub:  hub,
		HTTP: CreateServer(hub.cfg.Port, SetupRoutes(hub)),
		log:  logger,
	}
}

// Handler returns the routes served by the relay.
func (s *Server) Handler() http.Handler {
	return s.HTTP.Handler
}

// Prepare ensures the default room exists and starts the hub loop.
func (s *Server) Prepare(ctx context.Context) error {
	room, err := s.Hub.EnsureDefaultRoom(ctx)
	if err != nil {
		return fmt.Errorf("ensure default room: %w", err)
	}
	go s.Hub.Run()
	s.log.Info("hub started", "defaultRoom", room.Name)
	return nil
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	return StartServer(s.HTTP, s.log)
}

// Shutdown stops accepting requests, then closes every connection and waits
// for the hub to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := ShutdownServer(ctx, s.HTTP, s.log)

	timeout := s.Hub.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := s.Hub.Shutdown(timeout); err != nil {
		return err
	}
	return httpErr
}
