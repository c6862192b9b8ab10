package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func TestRegistryAdmitRejectsIncompleteDescriptor(t *testing.T) {
	r := NewRegistry()
	room := testRoom("lobby")

	for _, c := range []*Client{
		nil,
		newTestClient(chat.Room{}, "id", "ana", 1),
		newTestClient(room, "", "ana", 1),
		newTestClient(room, "id", "", 1),
	} {
		_, err := r.Admit(c)
		require.ErrorIs(t, err, chat.ErrInvalidJoin)
	}
	require.Zero(t, r.CountInRoom(room.ID))
}

func TestRegistryAdmitAndEvict(t *testing.T) {
	r := NewRegistry()
	room := testRoom("lobby")
	c := newTestClient(room, "id-1", "ana", 1)

	reg, err := r.Admit(c)
	require.NoError(t, err)
	require.Equal(t, 1, r.CountInRoom(room.ID))

	require.True(t, r.Evict(reg))
	require.False(t, r.Evict(reg))
	require.False(t, r.Evict(nil))
	require.Zero(t, r.CountInRoom(room.ID))
}

func TestRegistryNamesAreDistinctAndSorted(t *testing.T) {
	r := NewRegistry()
	room := testRoom("lobby")
	for _, c := range []*Client{
		newTestClient(room, "1", "zoe", 1),
		newTestClient(room, "2", "ana", 1),
		newTestClient(room, "3", "ana", 1),
	} {
		_, err := r.Admit(c)
		require.NoError(t, err)
	}

	require.Equal(t, []string{"ana", "zoe"}, r.Names(room.ID))
	require.Equal(t, 3, r.CountInRoom(room.ID))
	require.Empty(t, r.Names("unknown"))
}

func TestRegistryRoomsAreIsolated(t *testing.T) {
	r := NewRegistry()
	a, b := testRoom("a"), testRoom("b")
	_, err := r.Admit(newTestClient(a, "1", "ana", 1))
	require.NoError(t, err)
	_, err = r.Admit(newTestClient(b, "2", "bia", 1))
	require.NoError(t, err)

	var seen []string
	r.ForEachInRoom(a.ID, func(c *Client) { seen = append(seen, c.name) })
	require.Equal(t, []string{"ana"}, seen)
	require.Len(t, r.All(), 2)
}

func TestRegistryRetireRefusesAdmission(t *testing.T) {
	r := NewRegistry()
	room := testRoom("doomed")
	c := newTestClient(room, "1", "ana", 1)
	reg, err := r.Admit(c)
	require.NoError(t, err)

	members := r.Retire(room.ID)
	require.Equal(t, []*Client{c}, members)
	require.True(t, reg.state.isDeleted())
	require.False(t, r.Evict(reg))

	_, err = r.Admit(newTestClient(room, "2", "bia", 1))
	require.ErrorIs(t, err, chat.ErrRoomNotFound)
	require.Zero(t, r.CountInRoom(room.ID))
}

func TestRegistryConcurrentAdmitEvict(t *testing.T) {
	r := NewRegistry()
	room := testRoom("busy")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := r.Admit(newTestClient(room, "id", "user", 1))
			if err != nil {
				return
			}
			r.Names(room.ID)
			r.Evict(reg)
		}()
	}
	wg.Wait()
	require.Zero(t, r.CountInRoom(room.ID))
	require.Zero(t, r.roomCount())
}

func TestRegistryDropsEmptyRooms(t *testing.T) {
	r := NewRegistry()
	room := testRoom("lobby")

	first, err := r.Admit(newTestClient(room, "1", "ana", 1))
	require.NoError(t, err)
	second, err := r.Admit(newTestClient(room, "2", "bia", 1))
	require.NoError(t, err)

	require.True(t, r.Evict(first))
	require.Equal(t, 1, r.roomCount())
	require.True(t, r.Evict(second))
	require.Zero(t, r.roomCount())
	require.True(t, second.state.isDeleted(), "a dropped state refuses posts")

	again, err := r.Admit(newTestClient(room, "3", "caio", 1))
	require.NoError(t, err)
	require.NotSame(t, second.state, again.state)
	require.Equal(t, 1, r.CountInRoom(room.ID))
}

func TestRegistryKeepsBusyRoomState(t *testing.T) {
	r := NewRegistry()
	room := testRoom("lobby")
	reg, err := r.Admit(newTestClient(room, "1", "ana", 1))
	require.NoError(t, err)

	reg.state.lifecycle.RLock()
	require.True(t, r.Evict(reg))
	reg.state.lifecycle.RUnlock()

	require.Equal(t, 1, r.roomCount())
	require.False(t, reg.state.isDeleted())
}

func TestRegistryForgetsOldTombstones(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }

	old := testRoom("old")
	r.Retire(old.ID)
	_, err := r.Admit(newTestClient(old, "1", "ana", 1))
	require.ErrorIs(t, err, chat.ErrRoomNotFound)

	now = now.Add(retiredTTL + time.Second)
	r.Retire(testRoom("recent").ID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	require.Len(t, r.retired, 1)
	require.NotContains(t, r.retired, old.ID)
}
