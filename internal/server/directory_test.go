package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/mocks"
	"github.com/Tyrowin/roomchat/internal/store"
)

func TestDirectoryEnsureCreatesOnce(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory(), "geral")

	first, err := d.Ensure(ctx, "  Lobby ", "")
	require.NoError(t, err)
	require.Equal(t, "lobby", first.Name)
	require.Equal(t, chat.SystemCreator, first.Creator)

	second, err := d.Ensure(ctx, "lobby", "someone")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = d.Ensure(ctx, "   ", "")
	require.ErrorIs(t, err, chat.ErrInvalidRoomName)
}

func TestDirectoryCreate(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory(), "geral")

	room, err := d.Create(ctx, "Games", "owner")
	require.NoError(t, err)
	require.Equal(t, "games", room.Name)
	require.Equal(t, "owner", room.Creator)

	_, err = d.Create(ctx, "GAMES", "other")
	require.ErrorIs(t, err, chat.ErrRoomExists)

	anon, err := d.Create(ctx, "misc", "")
	require.NoError(t, err)
	require.Equal(t, chat.DefaultCreator, anon.Creator)

	_, err = d.Create(ctx, "a/b", "owner")
	require.ErrorIs(t, err, chat.ErrInvalidRoomName)

	_, err = d.Get(ctx, "missing")
	require.ErrorIs(t, err, chat.ErrRoomNotFound)
}

func TestDirectoryAuthorize(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory(), "geral")
	def, err := d.Ensure(ctx, "geral", "")
	require.NoError(t, err)
	owned, err := d.Create(ctx, "owned", "owner")
	require.NoError(t, err)

	require.ErrorIs(t, d.Authorize(def, chat.SystemCreator), chat.ErrRoomProtected)
	require.ErrorIs(t, d.Authorize(owned, "intruder"), chat.ErrForbidden)
	require.NoError(t, d.Authorize(owned, " owner "))
}

func TestDirectoryDelete(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory(), "geral")
	room, err := d.Create(ctx, "temp", "owner")
	require.NoError(t, err)

	_, err = d.Delete(ctx, "temp", "intruder", func(chat.Room) error {
		t.Fatal("purge must not run for unauthorized requests")
		return nil
	})
	require.ErrorIs(t, err, chat.ErrForbidden)

	boom := errors.New("boom")
	_, err = d.Delete(ctx, "temp", "owner", func(chat.Room) error { return boom })
	require.ErrorIs(t, err, boom)
	_, err = d.Get(ctx, "temp")
	require.NoError(t, err)

	var purged string
	deleted, err := d.Delete(ctx, "temp", "owner", func(r chat.Room) error {
		purged = r.ID
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, room.ID, deleted.ID)
	require.Equal(t, room.ID, purged)

	_, err = d.Get(ctx, "temp")
	require.ErrorIs(t, err, chat.ErrRoomNotFound)
	_, err = d.Delete(ctx, "temp", "owner", nil)
	require.ErrorIs(t, err, chat.ErrRoomNotFound)
}

func TestDirectoryStorageFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	rooms := mocks.NewMockRoomStore(ctrl)
	d := NewDirectory(rooms, "geral")
	ctx := context.Background()

	rooms.EXPECT().RoomByName(gomock.Any(), "lobby").Return(chat.Room{}, errors.New("disk on fire"))
	_, err := d.Ensure(ctx, "lobby", "")
	require.ErrorIs(t, err, chat.ErrStorageUnavailable)

	rooms.EXPECT().RoomByName(gomock.Any(), "lobby").Return(chat.Room{}, store.ErrNotFound)
	rooms.EXPECT().CreateRoom(gomock.Any(), gomock.Any()).Return(errors.New("disk on fire"))
	_, err = d.Ensure(ctx, "lobby", "")
	require.ErrorIs(t, err, chat.ErrStorageUnavailable)

	rooms.EXPECT().ListRooms(gomock.Any()).Return(nil, errors.New("disk on fire"))
	_, err = d.List(ctx)
	require.ErrorIs(t, err, chat.ErrStorageUnavailable)
}
