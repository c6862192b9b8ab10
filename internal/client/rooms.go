package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// RoomInfo is a room as listed by the relay.
type RoomInfo struct {
	chat.Room
	Online int `json:"online"`
}

// RoomsAPI calls the relay's room management endpoints.
type RoomsAPI struct {
	base string
	http *http.Client
}

// NewRoomsAPI creates a client for the relay at baseURL (http or https).
// A nil hc uses a client with a 10s timeout.
func NewRoomsAPI(baseURL string, hc *http.Client) *RoomsAPI {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &RoomsAPI{base: strings.TrimRight(baseURL, "/"), http: hc}
}

type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// List returns every room with its online count.
func (a *RoomsAPI) List(ctx context.Context) ([]RoomInfo, error) {
	var out struct {
		Rooms []RoomInfo `json:"rooms"`
	}
	if err := a.do(ctx, http.MethodGet, "/rooms", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// Create registers a room owned by creator.
func (a *RoomsAPI) Create(ctx context.Context, name, creator string) (chat.Room, error) {
	var out struct {
		Room chat.Room `json:"room"`
	}
	body := chat.CreateRoomRequest{Name: name, Creator: creator}
	if err := a.do(ctx, http.MethodPost, "/rooms", body, http.StatusCreated, &out); err != nil {
		return chat.Room{}, err
	}
	return out.Room, nil
}

// Delete removes the room on behalf of requester.
func (a *RoomsAPI) Delete(ctx context.Context, name, requester string) error {
	path := "/rooms/" + url.PathEscape(name) + "?" + url.Values{"by": {requester}}.Encode()
	return a.do(ctx, http.MethodDelete, path, nil, http.StatusOK, nil)
}

func (a *RoomsAPI) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if sentinel := chat.ErrorFromCode(apiErr.Code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
