//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store defines the persistence contracts of the relay and their
// adapters: badger and SQLite for messages and rooms, Redis for room
// metadata, and an in-memory implementation of both.
package store

import (
	"context"
	"errors"

	"github.com/Tyrowin/roomchat/internal/chat"
)

var (
	// ErrNotFound is returned when a room lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a room name is already taken.
	ErrAlreadyExists = errors.New("already exists")
)

// MessageStore is the durable, append-only history of every room.
type MessageStore interface {
	// Append stores msg and returns it with its Seq assigned.
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	// History returns the newest limit messages of a room in ascending
	// (CreatedAt, Seq) order. A non-positive limit returns everything.
	History(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	// Clear removes every message of a room that stays in use.
	Clear(ctx context.Context, roomID string) error
	// DeleteAll removes every message of a room that is being deleted.
	DeleteAll(ctx context.Context, roomID string) error
}

// RoomStore is the key-value contract for room metadata.
type RoomStore interface {
	CreateRoom(ctx context.Context, room chat.Room) error
	RoomByName(ctx context.Context, name string) (chat.Room, error)
	ListRooms(ctx context.Context) ([]chat.Room, error)
	DeleteRoom(ctx context.Context, id string) error
}
