package chat

import "errors"

// Sentinel errors shared by the relay, the storage adapters and the HTTP
// management layer. Callers match them with errors.Is.
var (
	ErrInvalidJoin        = errors.New("invalid join: room, identity and name are required")
	ErrInvalidRoomName    = errors.New("invalid room name")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomExists         = errors.New("room already exists")
	ErrRoomProtected      = errors.New("room is protected")
	ErrForbidden          = errors.New("only the room creator can do that")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrMalformedEvent     = errors.New("malformed event")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrMissingRequester   = errors.New("requester identity is required")
)

// Wire codes carried by error events and HTTP error bodies.
const (
	CodeInvalidJoin        = "invalid_join"
	CodeInvalidRoomName    = "invalid_room_name"
	CodeRoomNotFound       = "not_found"
	CodeRoomExists         = "already_exists"
	CodeRoomProtected      = "protected"
	CodeForbidden          = "forbidden"
	CodeStorageUnavailable = "storage_unavailable"
	CodeMalformedEvent     = "malformed_event"
	CodeRateLimited        = "rate_limited"
	CodeMissingRequester   = "missing_requester"
	CodeInternal           = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidJoin, CodeInvalidJoin},
	{ErrInvalidRoomName, CodeInvalidRoomName},
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrRoomExists, CodeRoomExists},
	{ErrRoomProtected, CodeRoomProtected},
	{ErrForbidden, CodeForbidden},
	{ErrStorageUnavailable, CodeStorageUnavailable},
	{ErrMalformedEvent, CodeMalformedEvent},
	{ErrRateLimited, CodeRateLimited},
	{ErrMissingRequester, CodeMissingRequester},
}

// ErrorCode maps err onto its wire code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// PublicReason is the text shown to clients for err. Storage and unexpected
// failures are reduced to a fixed message; their detail belongs in logs.
func PublicReason(err error) string {
	switch code := ErrorCode(err); code {
	case CodeStorageUnavailable:
		return ErrStorageUnavailable.Error()
	case CodeInternal:
		return "internal error"
	default:
		return err.Error()
	}
}

// ErrorFromCode maps a wire code back onto its sentinel error. Unknown codes
// yield nil.
func ErrorFromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
