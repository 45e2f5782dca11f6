package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
)

func TestSessionStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("load without file", func(t *testing.T) {
		s := NewSessionStorage(filepath.Join(t.TempDir(), "session.json"))

		session, ok, err := s.Load(ctx)

		assert.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, session.IsZero())
	})

	t.Run("save and load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "session.json")
		s := NewSessionStorage(path)
		want := entity.Session{
			Token: "token",
			User:  entity.User{ID: 3, Username: "bob", Email: "bob@example.com"},
		}

		require.NoError(t, s.Save(ctx, want))

		got, ok, err := s.Load(ctx)

		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want.Token, got.Token)
		assert.Equal(t, want.User.ID, got.User.ID)
		assert.Equal(t, want.User.Email, got.User.Email)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("clear removes both keys", func(t *testing.T) {
		s := NewSessionStorage(filepath.Join(t.TempDir(), "session.json"))
		require.NoError(t, s.Save(ctx, entity.Session{Token: "token"}))

		require.NoError(t, s.Clear(ctx))
		require.NoError(t, s.Clear(ctx))

		_, ok, err := s.Load(ctx)

		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("corrupted file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, ok, err := NewSessionStorage(path).Load(ctx)

		assert.Error(t, err)
		assert.False(t, ok)
	})
}
