package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Storage drivers accepted by Open.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Options selects and configures the storage backend.
type Options struct {
	Driver     string
	BadgerPath string
	SQLitePath string
	// RedisAddr, when set, moves room metadata to Redis.
	RedisAddr string
	Logger    *slog.Logger
}

// Backend bundles the message and room stores chosen by Open.
type Backend struct {
	Messages MessageStore
	Rooms    RoomStore
	closers  []io.Closer
}

// Open builds the backend described by opts.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Driver == "" {
		opts.Driver = DriverBadger
	}

	b := &Backend{}
	switch opts.Driver {
	case DriverBadger:
		db, err := OpenBadger(opts.BadgerPath, logger)
		if err != nil {
			return nil, err
		}
		b.Messages, b.Rooms = db, db
		b.closers = append(b.closers, db)
	case DriverSQLite:
		db, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.Messages, b.Rooms = db, db
		b.closers = append(b.closers, db)
	case DriverMemory:
		mem := NewMemory()
		b.Messages, b.Rooms = mem, mem
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}

	if opts.RedisAddr != "" {
		rooms, err := OpenRedisRooms(ctx, opts.RedisAddr)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Rooms = rooms
		b.closers = append(b.closers, rooms)
	}

	logger.Info("storage opened", "driver", opts.Driver, "redisRooms", opts.RedisAddr != "")
	return b, nil
}

// Close closes every underlying store.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}
