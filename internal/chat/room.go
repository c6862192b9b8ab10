// Package chat holds the domain model of the relay: rooms, messages, the
// inbound and outbound event variants exchanged over the socket, and the
// error taxonomy shared by every layer.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemCreator is the creator recorded for rooms nobody explicitly created.
const SystemCreator = "system"

// DefaultCreator is used when a create request carries no creator identity.
const DefaultCreator = "anon"

// MaxRoomNameLength bounds room names, counted in runes.
const MaxRoomNameLength = 32

// Room is a named channel. ID is the canonical key; Name is unique and
// stored lower-cased.
type Room struct {
	ID        string    `json:"id" cbor:"1,keyasint"`
	Name      string    `json:"name" cbor:"2,keyasint"`
	Creator   string    `json:"creator" cbor:"3,keyasint"`
	CreatedAt time.Time `json:"createdAt" cbor:"4,keyasint"`
}

// NewRoom builds a room with a fresh ID. name must already be normalized.
func NewRoom(name, creator string, now time.Time) Room {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		creator = SystemCreator
	}
	return Room{
		ID:        uuid.NewString(),
		Name:      name,
		Creator:   creator,
		CreatedAt: now.UTC(),
	}
}

// CreatedBy reports whether requester is the room's creator. Both sides are
// trimmed; no other normalization applies.
func (r Room) CreatedBy(requester string) bool {
	requester = strings.TrimSpace(requester)
	return requester != "" && strings.TrimSpace(r.Creator) == requester
}

// NormalizeRoomName trims and lower-cases name and checks its length.
func NormalizeRoomName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := validate.Var(normalized, fmt.Sprintf("required,max=%d,excludesall=/?#", MaxRoomNameLength)); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	return normalized, nil
}
