package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable chat message. Seq is assigned by the store on
// append and breaks CreatedAt ties.
type Message struct {
	ID        string    `cbor:"1,keyasint"`
	RoomID    string    `cbor:"2,keyasint"`
	AuthorID  string    `cbor:"3,keyasint"`
	Author    string    `cbor:"4,keyasint"`
	Text      string    `cbor:"5,keyasint,omitempty"`
	Image     string    `cbor:"6,keyasint,omitempty"`
	CreatedAt time.Time `cbor:"7,keyasint"`
	Seq       uint64    `cbor:"8,keyasint"`
}

// NewMessage stamps a message with a fresh ID and creation time.
func NewMessage(roomID, authorID, author, text, image string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Author:    author,
		Text:      text,
		Image:     image,
		CreatedAt: now.UTC(),
	}
}

// Before reports whether m sorts before other in room history.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.Seq < other.Seq
}

// View is the wire shape of a message.
func (m Message) View() MessageView {
	return MessageView{
		ID:    m.ID,
		User:  m.Author,
		Text:  m.Text,
		Image: m.Image,
		Time:  m.CreatedAt,
	}
}
