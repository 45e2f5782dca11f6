package devserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore() *Store {
	s := NewStore(6, func() time.Time { return testNow })
	s.bcryptCst = bcrypt.MinCost
	return s
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()

	t.Run("create and authenticate", func(t *testing.T) {
		s := newTestStore()

		u, err := s.CreateUser(ctx, "alice", "alice@example.com", "password")
		require.NoError(t, err)
		assert.Equal(t, int64(1), u.ID)

		got, err := s.Authenticate(ctx, "ALICE@example.com", "password")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		_, err = s.Authenticate(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, err = s.Authenticate(ctx, "nobody", "password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("duplicate", func(t *testing.T) {
		s := newTestStore()
		_, err := s.CreateUser(ctx, "alice", "alice@example.com", "password")
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, "bob", "Alice@Example.com", "password")

		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := newTestStore().User(ctx, 42)

		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestStore_URLs(t *testing.T) {
	ctx := context.Background()

	t.Run("generated codes are unique", func(t *testing.T) {
		s := newTestStore()
		seen := make(map[string]bool)

		for i := 0; i < 50; i++ {
			u, err := s.CreateURL(ctx, 1, "https://example.com", "", nil)
			require.NoError(t, err)
			assert.Len(t, u.ShortCode, 6)
			assert.False(t, seen[u.ShortCode])
			seen[u.ShortCode] = true
		}
	})

	t.Run("custom code taken", func(t *testing.T) {
		s := newTestStore()
		_, err := s.CreateURL(ctx, 1, "https://example.com", "mine", nil)
		require.NoError(t, err)

		_, err = s.CreateURL(ctx, 2, "https://example.com", "mine", nil)

		assert.ErrorIs(t, err, entity.ErrShortCodeExists)
		assert.False(t, s.CodeAvailable(ctx, "mine"))
	})

	t.Run("expiration is copied", func(t *testing.T) {
		s := newTestStore()
		exp := testNow.Add(time.Hour)

		u, err := s.CreateURL(ctx, 1, "https://example.com", "", &exp)
		require.NoError(t, err)
		exp = exp.Add(time.Hour)

		assert.True(t, u.ExpirationDate.Equal(testNow.Add(time.Hour)))
	})

	t.Run("clicks, stats and analytics", func(t *testing.T) {
		s := newTestStore()
		u, err := s.CreateURL(ctx, 1, "https://example.com", "abc", nil)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, owner, err := s.RecordClick(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, int64(1), owner)
		}

		urls, clicks := s.Stats(ctx, 1)
		assert.Equal(t, int64(1), urls)
		assert.Equal(t, int64(3), clicks)

		a, err := s.Analytics(ctx, 1, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), a.TotalClicks)
		assert.Equal(t, []entity.DailyClicks{{Date: "2026-10-17", Clicks: 3}}, a.ClicksByDay)
		require.NotNil(t, a.LastClickedAt)

		_, err = s.Analytics(ctx, 2, u.ID)
		assert.ErrorIs(t, err, entity.ErrURLNotFound)
	})

	t.Run("delete frees the code", func(t *testing.T) {
		s := newTestStore()
		u, err := s.CreateURL(ctx, 1, "https://example.com", "abc", nil)
		require.NoError(t, err)

		_, err = s.DeleteURL(ctx, 2, u.ID)
		assert.ErrorIs(t, err, entity.ErrURLNotFound)

		_, err = s.DeleteURL(ctx, 1, u.ID)
		require.NoError(t, err)

		assert.Empty(t, s.ListURLs(ctx, 1))
		assert.True(t, s.CodeAvailable(ctx, "abc"))
		_, _, err = s.RecordClick(ctx, "abc")
		assert.ErrorIs(t, err, entity.ErrURLNotFound)
	})
}
