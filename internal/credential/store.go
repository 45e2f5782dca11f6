// Package credential holds the signed-in session of the client process.
//
// The Store is the single owner of the session token and current user. It persists
// them through a Storage backend, reports whether the token is still valid by decoding
// its expiry claim, and notifies subscribers synchronously on every transition.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
)

// Storage persists the session token and the serialized user together.
type Storage interface {
	// Save writes both the token and the user, replacing any previous values.
	Save(ctx context.Context, s entity.Session) error

	// Load returns the persisted session. The boolean is false when nothing is stored.
	Load(ctx context.Context) (entity.Session, bool, error)

	// Clear removes both the token and the user.
	Clear(ctx context.Context) error
}

// Authenticator issues sessions and refreshes the current user. The request gateway
// implements it.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (entity.Session, error)
	Register(ctx context.Context, username, email, password string) (entity.Session, error)
	Me(ctx context.Context) (*entity.User, error)
}

// ChangeKind names a session transition.
type ChangeKind string

const (
	ChangeLogin   ChangeKind = "login"
	ChangeLogout  ChangeKind = "logout"
	ChangeRefresh ChangeKind = "refresh"
	ChangeExpired ChangeKind = "expired"
)

// Change is delivered to subscribers after a transition. Session is zero after a logout.
type Change struct {
	Kind    ChangeKind
	Session entity.Session
}

type subscriber struct {
	id uint64
	fn func(Change)
}

// Timer is the part of *time.Timer the store needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the default.
type AfterFunc func(d time.Duration, f func()) Timer

// Store is the process-wide credential store. Construct it once in the composition root.
type Store struct {
	storage   Storage
	auth      Authenticator
	logger    *slog.Logger
	now       func() time.Time
	afterFunc AfterFunc

	mu      sync.RWMutex
	session entity.Session
	expiry  Timer
	subs    []subscriber
	nextID  uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithAfterFunc replaces the timer that expires the session at its exp claim.
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Store) {
		s.afterFunc = fn
	}
}

// NewStore creates an empty store. Call Restore to pick up a persisted session.
func NewStore(storage Storage, auth Authenticator, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		auth:    auth,
		logger:  logger,
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetAuthenticator wires the authenticator after construction. The gateway reads tokens
// from the store, so the two reference each other.
func (s *Store) SetAuthenticator(auth Authenticator) {
	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()
}

// Login authenticates against the backend and replaces the current session.
func (s *Store) Login(ctx context.Context, identifier, password string) (entity.Session, error) {
	const op = "credential.Store.Login"

	session, err := s.authenticator().Login(ctx, identifier, password)
	if err != nil {
		return entity.Session{}, fmt.Errorf("%s: failed to login: %w", op, err)
	}

	if err := s.replace(ctx, session); err != nil {
		return entity.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

// Register creates an account and replaces the current session with it.
func (s *Store) Register(ctx context.Context, username, email, password string) (entity.Session, error) {
	const op = "credential.Store.Register"

	session, err := s.authenticator().Register(ctx, username, email, password)
	if err != nil {
		return entity.Session{}, fmt.Errorf("%s: failed to register: %w", op, err)
	}

	if err := s.replace(ctx, session); err != nil {
		return entity.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

// Logout clears the in-memory session and the durable copy.
func (s *Store) Logout(ctx context.Context) error {
	return s.clear(ctx, ChangeLogout)
}

// Invalidate forces a logout after the backend rejected the token.
func (s *Store) Invalidate(ctx context.Context) {
	if err := s.clear(ctx, ChangeLogout); err != nil {
		s.logger.Warn("failed to clear rejected session", slog.Any("err", err))
	}
}

// Restore loads a persisted session. Expired sessions are discarded and a session that
// cannot be read is treated as a logout. When refresh is true the user is fetched again
// and a rejected token logs the client out.
func (s *Store) Restore(ctx context.Context, refresh bool) error {
	const op = "credential.Store.Restore"

	session, ok, err := s.storage.Load(ctx)
	if err != nil {
		s.logger.Warn("discarding unreadable session", slog.Any("err", err))
		if err := s.clear(ctx, ChangeLogout); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	if !ok {
		return nil
	}

	if IsExpired(session.Token, s.now()) {
		s.logger.Info("stored session expired", slog.Int64("user_id", session.User.ID))
		if err := s.storage.Clear(ctx); err != nil {
			return fmt.Errorf("%s: failed to clear expired session: %w", op, err)
		}
		s.notify(Change{Kind: ChangeExpired})
		return nil
	}

	s.mu.Lock()
	s.session = session
	s.armExpiryLocked(session.Token)
	s.mu.Unlock()

	if !refresh {
		s.notify(Change{Kind: ChangeRefresh, Session: session})
		return nil
	}

	user, err := s.authenticator().Me(ctx)
	if err != nil {
		if errors.Is(err, entity.ErrUnauthorized) {
			if clearErr := s.clear(ctx, ChangeLogout); clearErr != nil {
				return fmt.Errorf("%s: %w", op, clearErr)
			}
			return nil
		}
		return fmt.Errorf("%s: failed to refresh user: %w", op, err)
	}

	session.User = *user
	if err := s.storage.Save(ctx, session); err != nil {
		return fmt.Errorf("%s: failed to save session: %w", op, err)
	}

	s.mu.Lock()
	s.session = session
	s.armExpiryLocked(session.Token)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRefresh, Session: session})

	return nil
}

// Session returns the current session, or a zero session when signed out.
func (s *Store) Session() entity.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Token returns the current bearer token, or "" when there is none or it has expired.
// The first call that sees the token expired clears the session and notifies
// subscribers with ChangeExpired.
func (s *Store) Token() string {
	s.mu.RLock()
	token := s.session.Token
	s.mu.RUnlock()

	if token == "" {
		return ""
	}
	if IsExpired(token, s.now()) {
		s.expire(token)
		return ""
	}
	return token
}

// UserID returns the current user's id, or 0 when signed out.
func (s *Store) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.User.ID
}

// IsAuthenticated reports whether a token is present and its expiry claim is in the future.
func (s *Store) IsAuthenticated() bool {
	return s.Token() != ""
}

// Subscribe registers fn for session changes. The returned func removes exactly this
// registration.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) authenticator() Authenticator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth
}

func (s *Store) replace(ctx context.Context, session entity.Session) error {
	if err := s.storage.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	s.session = session
	s.armExpiryLocked(session.Token)
	s.mu.Unlock()

	s.logger.Info("signed in", slog.Int64("user_id", session.User.ID))
	s.notify(Change{Kind: ChangeLogin, Session: session})

	return nil
}

func (s *Store) clear(ctx context.Context, kind ChangeKind) error {
	s.mu.Lock()
	s.session = entity.Session{}
	s.stopExpiryLocked()
	s.mu.Unlock()

	err := s.storage.Clear(ctx)
	s.notify(Change{Kind: kind})

	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// expire drops the session if token is still the current one. Concurrent callers race
// on the comparison, so subscribers hear about an expiry once.
func (s *Store) expire(token string) {
	s.mu.Lock()
	if s.session.Token != token {
		s.mu.Unlock()
		return
	}
	userID := s.session.User.ID
	s.session = entity.Session{}
	s.stopExpiryLocked()
	s.mu.Unlock()

	s.logger.Info("session expired", slog.Int64("user_id", userID))
	if err := s.storage.Clear(context.Background()); err != nil {
		s.logger.Warn("failed to clear expired session", slog.Any("err", err))
	}
	s.notify(Change{Kind: ChangeExpired})
}

// armExpiryLocked schedules an expiry check at the token's exp claim.
func (s *Store) armExpiryLocked(token string) {
	s.stopExpiryLocked()

	exp, ok := expiresAt(token)
	if !ok {
		return
	}

	s.expiry = s.afterFunc(max(exp.Sub(s.now()), 0), func() {
		s.Token()
	})
}

func (s *Store) stopExpiryLocked() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(c)
	}
}

// IsExpired decodes the token's exp claim without verifying the signature and reports
// whether it is not after now. There is no leeway for clock skew. Tokens that cannot be
// decoded count as expired; tokens without an exp claim never expire.
func IsExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims

	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}

	return !claims.ExpiresAt.Time.After(now)
}

func expiresAt(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims

	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}
