// Package file persists the client session as a JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
)

type document struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// SessionStorage keeps the token and the serialized user in a single file so that both
// are always written and cleared together.
type SessionStorage struct {
	path string
	mu   sync.Mutex
}

func NewSessionStorage(path string) *SessionStorage {
	return &SessionStorage{path: path}
}

func (s *SessionStorage) Save(_ context.Context, session entity.Session) error {
	const op = "storage.file.SessionStorage.Save"

	user, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("%s: failed to encode user: %w", op, err)
	}

	data, err := json.MarshalIndent(document{Token: session.Token, User: user}, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: failed to encode session: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%s: failed to create session dir: %w", op, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%s: failed to write session: %w", op, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%s: failed to replace session: %w", op, err)
	}

	return nil
}

func (s *SessionStorage) Load(_ context.Context) (entity.Session, bool, error) {
	const op = "storage.file.SessionStorage.Load"

	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return entity.Session{}, false, nil
	}
	if err != nil {
		return entity.Session{}, false, fmt.Errorf("%s: failed to read session: %w", op, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return entity.Session{}, false, fmt.Errorf("%s: failed to decode session: %w", op, err)
	}
	if doc.Token == "" {
		return entity.Session{}, false, nil
	}

	session := entity.Session{Token: doc.Token}
	if len(doc.User) > 0 {
		if err := json.Unmarshal(doc.User, &session.User); err != nil {
			return entity.Session{}, false, fmt.Errorf("%s: failed to decode user: %w", op, err)
		}
	}

	return session, true, nil
}

func (s *SessionStorage) Clear(_ context.Context) error {
	const op = "storage.file.SessionStorage.Clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: failed to remove session: %w", op, err)
	}

	return nil
}
