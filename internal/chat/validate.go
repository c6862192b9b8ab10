package chat

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// JoinRequest is the descriptor a connection presents when it opens.
type JoinRequest struct {
	Room     string `validate:"required"`
	Identity string `validate:"required,max=128"`
	Name     string `validate:"required,max=64"`
}

// Normalize trims every field, normalizes the room name and validates the
// result. Failures wrap ErrInvalidJoin.
func (j JoinRequest) Normalize() (JoinRequest, error) {
	out := JoinRequest{
		Room:     strings.TrimSpace(j.Room),
		Identity: strings.TrimSpace(j.Identity),
		Name:     strings.TrimSpace(j.Name),
	}
	if err := validate.Struct(out); err != nil {
		return JoinRequest{}, fmt.Errorf("%w: %v", ErrInvalidJoin, err)
	}
	room, err := NormalizeRoomName(out.Room)
	if err != nil {
		return JoinRequest{}, fmt.Errorf("%w: %v", ErrInvalidJoin, err)
	}
	out.Room = room
	return out, nil
}

// CreateRoomRequest is the body of a room creation call.
type CreateRoomRequest struct {
	Name    string `json:"name"`
	Creator string `json:"creator" validate:"max=128"`
}

// Validate normalizes the request. An empty creator becomes DefaultCreator.
func (c CreateRoomRequest) Validate() (CreateRoomRequest, error) {
	name, err := NormalizeRoomName(c.Name)
	if err != nil {
		return CreateRoomRequest{}, err
	}
	out := CreateRoomRequest{Name: name, Creator: strings.TrimSpace(c.Creator)}
	if out.Creator == "" {
		out.Creator = DefaultCreator
	}
	if err := validate.Struct(out); err != nil {
		return CreateRoomRequest{}, fmt.Errorf("%w: %v", ErrInvalidRoomName, err)
	}
	return out, nil
}
