package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/brojonat/revolut-feed/service/revolut"
)

// TokenStore persists the access token between runs.
type TokenStore interface {
	Load() (*revolut.AccessToken, error)
	Save(token *revolut.AccessToken) error
}

// FileStore keeps the token as JSON in a file.
type FileStore struct {
	Path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the token. A missing or unreadable token file yields
// (nil, nil) so the caller falls back to a fresh login.
func (s *FileStore) Load() (*revolut.AccessToken, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token revolut.AccessToken
	if err := json.Unmarshal(data, &token); err != nil || token.AccessToken == "" {
		return nil, nil
	}
	return &token, nil
}

// Save writes the token with owner-only permissions.
func (s *FileStore) Save(token *revolut.AccessToken) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
