package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateIdentity returns the identity stored at path, generating and
// persisting a new one when the file is missing or does not hold a UUID.
func LoadOrCreateIdentity(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id, parseErr := uuid.Parse(strings.TrimSpace(string(data))); parseErr == nil {
			return id.String(), nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read identity: %w", err)
	}

	id := uuid.NewString()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	return id, nil
}

// DefaultIdentityPath is where cmd/chat keeps its identity.
func DefaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".roomchat-identity"
	}
	return filepath.Join(dir, "roomchat", "identity")
}
