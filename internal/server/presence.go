package server

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultTypingTimeout is how long a typing signal stays live.
const DefaultTypingTimeout = 2 * time.Second

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// Presence derives the online set from the registry and owns the per-room
// typing sets. Every typing entry has its own timer; a renewed signal
// replaces the timer and a generation check turns a stale fire into a no-op.
type Presence struct {
	registry *Registry
	timeout  time.Duration
	onExpire func(roomID, name string)

	mu      sync.Mutex
	typing  map[string]map[string]*typingEntry
	gen     uint64
	stopped bool
}

// NewPresence creates a tracker. onExpire runs, without locks held, when a
// typing entry times out.
func NewPresence(registry *Registry, timeout time.Duration, onExpire func(roomID, name string)) *Presence {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Presence{
		registry: registry,
		timeout:  timeout,
		onExpire: onExpire,
		typing:   make(map[string]map[string]*typingEntry),
	}
}

// UsersOnline returns the distinct names connected to the room.
func (p *Presence) UsersOnline(roomID string) []string {
	return p.registry.Names(roomID)
}

// Typing returns the names currently typing in the room, sorted.
func (p *Presence) Typing(roomID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := lo.Keys(p.typing[roomID])
	sort.Strings(names)
	return names
}

// MarkTyping adds or refreshes the entry for name. It reports whether the
// typing set changed.
func (p *Presence) MarkTyping(roomID, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	room, ok := p.typing[roomID]
	if !ok {
		room = make(map[string]*typingEntry)
		p.typing[roomID] = room
	}

	entry, existed := room[name]
	if existed {
		entry.timer.Stop()
	} else {
		entry = &typingEntry{}
		room[name] = entry
	}
	p.gen++
	gen := p.gen
	entry.gen = gen
	entry.timer = time.AfterFunc(p.timeout, func() { p.expire(roomID, name, gen) })
	return !existed
}

func (p *Presence) expire(roomID, name string, gen uint64) {
	p.mu.Lock()
	entry, ok := p.typing[roomID][name]
	if !ok || entry.gen != gen || p.stopped {
		p.mu.Unlock()
		return
	}
	p.removeLocked(roomID, name)
	p.mu.Unlock()

	if p.onExpire != nil {
		p.onExpire(roomID, name)
	}
}

// ClearTyping removes the entry for name and cancels its timer. It reports
// whether an entry was removed.
func (p *Presence) ClearTyping(roomID, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(roomID, name)
}

func (p *Presence) removeLocked(roomID, name string) bool {
	room := p.typing[roomID]
	entry, ok := room[name]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(room, name)
	if len(room) == 0 {
		delete(p.typing, roomID)
	}
	return true
}

// DropRoom cancels every typing timer of the room.
func (p *Presence) DropRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name := range p.typing[roomID] {
		p.removeLocked(roomID, name)
	}
}

// Stop cancels all timers. Later signals are ignored.
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for roomID, room := range p.typing {
		for _, entry := range room {
			entry.timer.Stop()
		}
		delete(p.typing, roomID)
	}
}

func (p *Presence) pendingTimers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, room := range p.typing {
		n += len(room)
	}
	return n
}
