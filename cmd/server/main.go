package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := server.NewConfigFromEnv(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		return 1
	}

	logger := server.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting roomchat relay", "port", cfg.Port, "storage", cfg.Storage.Driver)

	ctx := context.Background()
	opts := cfg.StoreOptions()
	opts.Logger = logger
	backend, err := store.Open(ctx, opts)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return 1
	}

	srv := server.NewServer(*cfg, backend.Messages, backend.Rooms, logger)
	if err := srv.Prepare(ctx); err != nil {
		logger.Error("failed to prepare relay", "error", err)
		_ = backend.Close()
		return 1
	}

	// A listener failure triggers the same shutdown as a signal.
	trigger, stop := context.WithCancel(ctx)
	defer stop()
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("http server stopped", "error", err)
			serveErr <- err
			stop()
		}
	}()

	// Storage must outlive the hub, so both steps share one operation.
	wait := gfshutdown.GracefulShutdown(trigger, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"relay": func(ctx context.Context) error {
			shutdownErr := srv.Shutdown(ctx)
			if err := backend.Close(); err != nil {
				logger.Error("closing storage", "error", err)
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
			return shutdownErr
		},
	})

	exitCode := <-wait
	select {
	case <-serveErr:
		exitCode = 1
	default:
	}
	logger.Info("relay exited", "code", exitCode)
	return exitCode
}
