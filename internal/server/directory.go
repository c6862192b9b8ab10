package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Directory resolves room names to rooms and enforces the lifecycle rules:
// the default room is protected and only a room's creator may clear or
// delete it. Create, ensure and delete are serialized.
type Directory struct {
	rooms       store.RoomStore
	defaultRoom string
	now         func() time.Time

	mu sync.Mutex
}

// NewDirectory returns a directory backed by rooms. defaultRoom must already
// be normalized.
func NewDirectory(rooms store.RoomStore, defaultRoom string) *Directory {
	return &Directory{rooms: rooms, defaultRoom: defaultRoom, now: time.Now}
}

// DefaultRoom returns the name of the protected room.
func (d *Directory) DefaultRoom() string {
	return d.defaultRoom
}

// IsDefault reports whether room is the protected default room.
func (d *Directory) IsDefault(room chat.Room) bool {
	return room.Name == d.defaultRoom
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, chat.ErrStorageUnavailable, err)
}

// Ensure returns the named room, creating it on first reference. An empty
// creator records chat.SystemCreator.
func (d *Directory) Ensure(ctx context.Context, name, creator string) (chat.Room, error) {
	name, err := chat.NormalizeRoomName(name)
	if err != nil {
		return chat.Room{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.rooms.RoomByName(ctx, name)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return chat.Room{}, unavailable("ensure room", err)
	}
	return d.createLocked(ctx, name, creator)
}

// Create registers a new room. It fails with chat.ErrRoomExists when the
// name is taken.
func (d *Directory) Create(ctx context.Context, name, creator string) (chat.Room, error) {
	req, err := chat.CreateRoomRequest{Name: name, Creator: creator}.Validate()
	if err != nil {
		return chat.Room{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createLocked(ctx, req.Name, req.Creator)
}

func (d *Directory) createLocked(ctx context.Context, name, creator string) (chat.Room, error) {
	room := chat.NewRoom(name, creator, d.now())
	if err := d.rooms.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return chat.Room{}, fmt.Errorf("%w: %s", chat.ErrRoomExists, name)
		}
		return chat.Room{}, unavailable("create room", err)
	}
	return room, nil
}

// Get looks a room up by name.
func (d *Directory) Get(ctx context.Context, name string) (chat.Room, error) {
	name, err := chat.NormalizeRoomName(name)
	if err != nil {
		return chat.Room{}, fmt.Errorf("%w: %s", chat.ErrRoomNotFound, err)
	}
	room, err := d.rooms.RoomByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Room{}, fmt.Errorf("%w: %s", chat.ErrRoomNotFound, name)
	}
	if err != nil {
		return chat.Room{}, unavailable("get room", err)
	}
	return room, nil
}

// List returns every room sorted by name.
func (d *Directory) List(ctx context.Context) ([]chat.Room, error) {
	rooms, err := d.rooms.ListRooms(ctx)
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	return rooms, nil
}

// Authorize checks that requester may clear or delete room.
func (d *Directory) Authorize(room chat.Room, requester string) error {
	if d.IsDefault(room) {
		return fmt.Errorf("%w: %s", chat.ErrRoomProtected, room.Name)
	}
	if !room.CreatedBy(requester) {
		return fmt.Errorf("%w: %s", chat.ErrForbidden, room.Name)
	}
	return nil
}

// Delete removes the named room. purge runs after authorization and before
// the metadata is removed; it is expected to evict connections and drop the
// room's messages. A purge error aborts the deletion.
func (d *Directory) Delete(ctx context.Context, name, requester string, purge func(chat.Room) error) (chat.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.Get(ctx, name)
	if err != nil {
		return chat.Room{}, err
	}
	if err := d.Authorize(room, requester); err != nil {
		return chat.Room{}, err
	}
	if purge != nil {
		if err := purge(room); err != nil {
			return chat.Room{}, err
		}
	}
	if err := d.rooms.DeleteRoom(ctx, room.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return chat.Room{}, unavailable("delete room", err)
	}
	return room, nil
}
