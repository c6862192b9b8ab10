package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Memory keeps rooms and messages in process memory.
type Memory struct {
	mu       sync.RWMutex
	seq      uint64
	messages map[string][]chat.Message
	rooms    map[string]chat.Room
	names    map[string]string
}

var (
	_ MessageStore = (*Memory)(nil)
	_ RoomStore    = (*Memory)(nil)
)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string][]chat.Message),
		rooms:    make(map[string]chat.Room),
		names:    make(map[string]string),
	}
}

func (m *Memory) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	msg.Seq = m.seq
	history := append(m.messages[msg.RoomID], msg)
	// Appends normally arrive in order; only a clock step backwards needs a re-sort.
	if n := len(history); n > 1 && msg.Before(history[n-2]) {
		sort.SliceStable(history, func(i, j int) bool { return history[i].Before(history[j]) })
	}
	m.messages[msg.RoomID] = history
	return msg, nil
}

func (m *Memory) History(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.messages[roomID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]chat.Message(nil), history...), nil
}

func (m *Memory) Clear(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, roomID)
	return nil
}

func (m *Memory) DeleteAll(ctx context.Context, roomID string) error {
	return m.Clear(ctx, roomID)
}

func (m *Memory) CreateRoom(_ context.Context, room chat.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.names[room.Name]; taken {
		return ErrAlreadyExists
	}
	m.names[room.Name] = room.ID
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) RoomByName(_ context.Context, name string) (chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.names[name]
	if !ok {
		return chat.Room{}, ErrNotFound
	}
	return m.rooms[id], nil
}

func (m *Memory) ListRooms(_ context.Context) ([]chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]chat.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	sortRooms(rooms)
	return rooms, nil
}

func (m *Memory) DeleteRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.rooms, id)
	delete(m.names, room.Name)
	return nil
}

func sortRooms(rooms []chat.Room) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
}
