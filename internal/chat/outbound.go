package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound event types sent to clients.
const (
	TypeHistory  = "history"
	TypeSystem   = "system"
	TypePresence = "presence"
	TypeError    = "error"
)

// Outbound is any event the relay sends to a connection.
type Outbound interface {
	Kind() string
}

// MessageView is the wire shape of a stored message.
type MessageView struct {
	ID    string    `json:"id"`
	User  string    `json:"user"`
	Text  string    `json:"text"`
	Image string    `json:"image,omitempty"`
	Time  time.Time `json:"time"`
}

// HistoryEvent carries the room backlog. It is the first event on every
// connection.
type HistoryEvent struct {
	Type     string        `json:"type"`
	Room     string        `json:"room"`
	Messages []MessageView `json:"messages"`
}

// MessageEvent carries one newly stored message.
type MessageEvent struct {
	Type string `json:"type"`
	MessageView
}

// SystemEvent carries join, leave and clear notices.
type SystemEvent struct {
	Type  string   `json:"type"`
	Text  string   `json:"text"`
	Users []string `json:"users,omitempty"`
	Clear bool     `json:"clear,omitempty"`
}

// PresenceEvent carries the online count and names for a room.
type PresenceEvent struct {
	Type  string   `json:"type"`
	Room  string   `json:"room"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// TypingEvent carries the current typing set. User names the connection
// whose signal caused it, when there is one.
type TypingEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
	User  string   `json:"user,omitempty"`
}

// ErrorEvent reports a rejected operation to the requesting connection.
type ErrorEvent struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (HistoryEvent) Kind() string  { return TypeHistory }
func (MessageEvent) Kind() string  { return TypeMessage }
func (SystemEvent) Kind() string   { return TypeSystem }
func (PresenceEvent) Kind() string { return TypePresence }
func (TypingEvent) Kind() string   { return TypeTyping }
func (ErrorEvent) Kind() string    { return TypeError }

// NewHistoryEvent builds the backlog event for room from ordered messages.
func NewHistoryEvent(room string, messages []Message) HistoryEvent {
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, m.View())
	}
	return HistoryEvent{Type: TypeHistory, Room: room, Messages: views}
}

// NewMessageEvent wraps a stored message.
func NewMessageEvent(m Message) MessageEvent {
	return MessageEvent{Type: TypeMessage, MessageView: m.View()}
}

// NewSystemEvent builds a notice carrying the updated presence list.
func NewSystemEvent(text string, users []string) SystemEvent {
	return SystemEvent{Type: TypeSystem, Text: text, Users: users}
}

// NewClearedEvent tells clients to wipe their local history.
func NewClearedEvent(text string, users []string) SystemEvent {
	return SystemEvent{Type: TypeSystem, Text: text, Users: users, Clear: true}
}

// NewPresenceEvent builds the presence event for room.
func NewPresenceEvent(room string, users []string) PresenceEvent {
	if users == nil {
		users = []string{}
	}
	return PresenceEvent{Type: TypePresence, Room: room, Count: len(users), Users: users}
}

// NewTypingEvent builds a typing event. user may be empty.
func NewTypingEvent(users []string, user string) TypingEvent {
	if users == nil {
		users = []string{}
	}
	return TypingEvent{Type: TypeTyping, Users: users, User: user}
}

// NewErrorEvent describes err for the client without leaking storage detail.
func NewErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: ErrorCode(err), Reason: PublicReason(err)}
}

// EncodeOutbound serializes an outbound event.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	return payload, nil
}

// DecodeOutbound parses a frame received from the relay.
func DecodeOutbound(raw []byte) (Outbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Outbound
	var err error
	switch head.Type {
	case TypeHistory:
		var e HistoryEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case TypeMessage:
		var e MessageEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case TypeSystem:
		var e SystemEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case TypePresence:
		var e PresenceEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case TypeTyping:
		var e TypingEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}
