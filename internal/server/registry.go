package server

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// retiredTTL bounds how long a deleted room ID keeps refusing admissions.
// Only joins that resolved the room before it was deleted can still carry
// the old ID, and those finish well within it.
const retiredTTL = time.Minute

// roomState is the live state of one room. lifecycle is held shared while a
// message is persisted and broadcast, and exclusively while the room is
// cleared or deleted. appendMu orders posts: timestamps, appends and
// broadcasts of one room happen one message at a time.
type roomState struct {
	room      chat.Room
	lifecycle sync.RWMutex

	appendMu      sync.Mutex
	lastCreatedAt time.Time

	mu      sync.RWMutex
	members map[*Client]struct{}
	deleted bool
	// detached is set once an empty state is dropped from the registry.
	detached bool
}

func newRoomState(room chat.Room) *roomState {
	return &roomState{room: room, members: make(map[*Client]struct{})}
}

func (s *roomState) isDeleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted || s.detached
}

// stamp returns the creation time of the next message of the room, never
// earlier than the previous one. Callers hold appendMu.
func (s *roomState) stamp(now time.Time) time.Time {
	if now.Before(s.lastCreatedAt) {
		now = s.lastCreatedAt
	}
	s.lastCreatedAt = now
	return now
}

// observe raises the room's last creation time to at.
func (s *roomState) observe(at time.Time) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	if at.After(s.lastCreatedAt) {
		s.lastCreatedAt = at
	}
}

func (s *roomState) snapshot() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.members)
}

// Registration is the handle returned by Admit and consumed by Evict.
type Registration struct {
	client   *Client
	state    *roomState
	JoinedAt time.Time
}

// Registry owns every live connection, grouped by room ID.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*roomState
	retired map[string]time.Time
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]*roomState),
		retired: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Admit registers c in its room. It fails with chat.ErrInvalidJoin when the
// room, identity or name is missing and with chat.ErrRoomNotFound when the
// room has been deleted.
func (r *Registry) Admit(c *Client) (*Registration, error) {
	if c == nil || c.room.ID == "" || c.identity == "" || c.name == "" {
		return nil, chat.ErrInvalidJoin
	}

	for {
		r.mu.Lock()
		if _, gone := r.retired[c.room.ID]; gone {
			r.mu.Unlock()
			return nil, chat.ErrRoomNotFound
		}
		state, ok := r.rooms[c.room.ID]
		if !ok {
			state = newRoomState(c.room)
			r.rooms[c.room.ID] = state
		}
		r.mu.Unlock()

		state.mu.Lock()
		if state.detached {
			// Pruned between the lookup and now; a fresh state replaces it.
			state.mu.Unlock()
			continue
		}
		if state.deleted {
			state.mu.Unlock()
			return nil, chat.ErrRoomNotFound
		}
		state.members[c] = struct{}{}
		state.mu.Unlock()
		return &Registration{client: c, state: state, JoinedAt: time.Now()}, nil
	}
}

// Evict removes the registration. It reports false when the connection was
// already gone. The room's state is dropped once its last connection leaves.
func (r *Registry) Evict(reg *Registration) bool {
	if reg == nil {
		return false
	}
	reg.state.mu.Lock()
	if _, ok := reg.state.members[reg.client]; !ok {
		reg.state.mu.Unlock()
		return false
	}
	delete(reg.state.members, reg.client)
	empty := len(reg.state.members) == 0
	reg.state.mu.Unlock()

	if empty {
		r.prune(reg.state)
	}
	return true
}

// prune drops an empty room state. A state whose lifecycle lock is busy is
// left alone; the next eviction from that room retries.
func (r *Registry) prune(state *roomState) {
	if !state.lifecycle.TryLock() {
		return
	}
	defer state.lifecycle.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.members) > 0 || state.deleted || r.rooms[state.room.ID] != state {
		return
	}
	state.detached = true
	delete(r.rooms, state.room.ID)
}

// roomCount reports how many rooms currently hold live state.
func (r *Registry) roomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) state(roomID string) *roomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// ForEachInRoom calls fn for every connection in the room. fn runs without
// any registry lock held.
func (r *Registry) ForEachInRoom(roomID string, fn func(*Client)) {
	state := r.state(roomID)
	if state == nil {
		return
	}
	for _, c := range state.snapshot() {
		fn(c)
	}
}

// CountInRoom returns the number of live connections in the room.
func (r *Registry) CountInRoom(roomID string) int {
	state := r.state(roomID)
	if state == nil {
		return 0
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return len(state.members)
}

// Names returns the distinct display names connected to the room, sorted.
func (r *Registry) Names(roomID string) []string {
	state := r.state(roomID)
	if state == nil {
		return []string{}
	}
	names := lo.Uniq(lo.Map(state.snapshot(), func(c *Client, _ int) string { return c.name }))
	sort.Strings(names)
	return names
}

// All returns every registered connection.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	states := lo.Values(r.rooms)
	r.mu.RUnlock()

	var clients []*Client
	for _, state := range states {
		clients = append(clients, state.snapshot()...)
	}
	return clients
}

// Retire marks the room deleted, refuses further admissions and returns the
// connections that were still in it. The caller closes them.
func (r *Registry) Retire(roomID string) []*Client {
	r.mu.Lock()
	now := r.now()
	for id, at := range r.retired {
		if now.Sub(at) > retiredTTL {
			delete(r.retired, id)
		}
	}
	r.retired[roomID] = now
	state := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()

	if state == nil {
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.deleted = true
	members := lo.Keys(state.members)
	state.members = make(map[*Client]struct{})
	return members
}

// lockRoom takes the exclusive lifecycle lock of a room, creating its state
// if no connection has joined yet.
func (r *Registry) lockRoom(room chat.Room) *roomState {
	for {
		r.mu.Lock()
		state, ok := r.rooms[room.ID]
		if !ok {
			state = newRoomState(room)
			r.rooms[room.ID] = state
		}
		r.mu.Unlock()

		state.lifecycle.Lock()
		state.mu.RLock()
		detached := state.detached
		state.mu.RUnlock()
		if !detached {
			return state
		}
		state.lifecycle.Unlock()
	}
}
