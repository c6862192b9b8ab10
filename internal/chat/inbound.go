package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Inbound event types accepted from clients.
const (
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeClear      = "clear"
)

// Inbound is one of PostMessage, StartTyping, StopTyping or ClearRoom.
type Inbound interface {
	inbound()
}

// PostMessage asks the relay to persist and broadcast a message.
type PostMessage struct {
	Text  string
	Image string
}

// StartTyping refreshes the sender's typing indicator.
type StartTyping struct{}

// StopTyping drops the sender's typing indicator.
type StopTyping struct{}

// ClearRoom asks the relay to wipe the room history. Creator only.
type ClearRoom struct{}

func (PostMessage) inbound() {}
func (StartTyping) inbound() {}
func (StopTyping) inbound()  {}
func (ClearRoom) inbound()   {}

// Limits bounds the payload of inbound messages.
type Limits struct {
	MaxTextLength int
	MaxImageBytes int
}

type inboundEnvelope struct {
	Type  string `json:"type" validate:"required,oneof=message typing stop_typing clear"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// ParseInbound decodes a raw frame into its variant. Every failure wraps
// ErrMalformedEvent.
func ParseInbound(raw []byte, limits Limits) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
	}

	switch env.Type {
	case TypeTyping:
		return StartTyping{}, nil
	case TypeStopTyping:
		return StopTyping{}, nil
	case TypeClear:
		return ClearRoom{}, nil
	}

	text := strings.TrimSpace(env.Text)
	if text == "" && env.Image == "" {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedEvent)
	}
	if limits.MaxTextLength > 0 && utf8.RuneCountInString(text) > limits.MaxTextLength {
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrMalformedEvent, limits.MaxTextLength)
	}
	if env.Image != "" {
		if err := ValidateImage(env.Image, limits.MaxImageBytes); err != nil {
			return nil, err
		}
	}
	return PostMessage{Text: text, Image: env.Image}, nil
}

// EncodeInbound serializes ev the way ParseInbound expects it.
func EncodeInbound(ev Inbound) ([]byte, error) {
	var env inboundEnvelope
	switch ev := ev.(type) {
	case PostMessage:
		env = inboundEnvelope{Type: TypeMessage, Text: ev.Text, Image: ev.Image}
	case StartTyping:
		env.Type = TypeTyping
	case StopTyping:
		env.Type = TypeStopTyping
	case ClearRoom:
		env.Type = TypeClear
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrMalformedEvent, ev)
	}
	return json.Marshal(env)
}
