// Package sqlite persists the client session in a sqlite key/value table.
package sqlite

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
	"github.com/vadimbarashkov/url-shortener-client/pkg/sqlite"
)

const (
	keyToken = "token"
	keyUser  = "user"
)

//go:embed migrations/*.sql
var migrations embed.FS

type entry struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

type SessionStorage struct {
	db *sqlx.DB
}

func NewSessionStorage(db *sqlx.DB) *SessionStorage {
	return &SessionStorage{
		db: db,
	}
}

// Migrate brings the schema up to date.
func (s *SessionStorage) Migrate(ctx context.Context) error {
	const op = "storage.sqlite.SessionStorage.Migrate"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := sqlite.RunMigrations(s.db, migrations, "migrations"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SessionStorage) Save(ctx context.Context, session entity.Session) error {
	const op = "storage.sqlite.SessionStorage.Save"

	user, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("%s: failed to encode user: %w", op, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer tx.Rollback()

	query := `INSERT INTO client_storage(key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	for _, e := range []entry{{Key: keyToken, Value: session.Token}, {Key: keyUser, Value: string(user)}} {
		if _, err := tx.ExecContext(ctx, query, e.Key, e.Value); err != nil {
			return fmt.Errorf("%s: failed to save %s: %w", op, e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	return nil
}

func (s *SessionStorage) Load(ctx context.Context) (entity.Session, bool, error) {
	const op = "storage.sqlite.SessionStorage.Load"

	var entries []entry
	query := `SELECT key, value FROM client_storage WHERE key IN (?, ?)`

	if err := s.db.SelectContext(ctx, &entries, query, keyToken, keyUser); err != nil {
		return entity.Session{}, false, fmt.Errorf("%s: failed to load session: %w", op, err)
	}

	var session entity.Session
	for _, e := range entries {
		switch e.Key {
		case keyToken:
			session.Token = e.Value
		case keyUser:
			if err := json.Unmarshal([]byte(e.Value), &session.User); err != nil {
				return entity.Session{}, false, fmt.Errorf("%s: failed to decode user: %w", op, err)
			}
		}
	}

	if session.Token == "" {
		return entity.Session{}, false, nil
	}

	return session, true, nil
}

func (s *SessionStorage) Clear(ctx context.Context) error {
	const op = "storage.sqlite.SessionStorage.Clear"

	query := `DELETE FROM client_storage WHERE key IN (?, ?)`

	if _, err := s.db.ExecContext(ctx, query, keyToken, keyUser); err != nil {
		return fmt.Errorf("%s: failed to clear session: %w", op, err)
	}

	return nil
}
