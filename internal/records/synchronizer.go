// Package records keeps the client-local replica of the user's short URLs.
//
// Local writes go through the backend first. Pushed events are applied with idempotent
// rules (absolute click counts, existence checks before insert and delete) so that
// duplicate, missing or reordered deliveries never corrupt the replica beyond what a
// full Load repairs.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/url-shortener-client/internal/channel"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
	"github.com/vadimbarashkov/url-shortener-client/internal/gateway"
)

// Gateway is the part of the request gateway the synchronizer writes through.
type Gateway interface {
	ListURLs(ctx context.Context) ([]entity.URL, error)
	CreateURL(ctx context.Context, req gateway.CreateURLRequest) (*entity.URL, error)
	DeleteURL(ctx context.Context, id int64) error
}

// SessionInvalidator drops the current session after the backend rejected its token.
type SessionInvalidator interface {
	Invalidate(ctx context.Context)
}

// Subscriber is the part of the push channel the synchronizer listens on.
type Subscriber interface {
	Subscribe(event string, h channel.Handler) (unsubscribe func())
}

// ErrLoadSuperseded is returned by a Load whose response was discarded because a newer
// Load or a Reset was issued while it was in flight. The collection is then whatever the
// newer call leaves, so callers that need fresh data wait on that call instead.
var ErrLoadSuperseded = errors.New("load superseded")

type observer struct {
	id uint64
	fn func([]entity.URL)
}

type Option func(*Synchronizer)

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// Synchronizer owns the local collection. It is safe for concurrent use: pushed events
// arrive on the channel's reader goroutine while calls come from the caller's.
type Synchronizer struct {
	gateway  Gateway
	sessions SessionInvalidator
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate

	mu        sync.Mutex
	urls      []entity.URL
	loadSeq   uint64
	observers []observer
	nextID    uint64
}

func New(gw Gateway, sessions SessionInvalidator, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		gateway:  gw,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
		urls:     []entity.URL{},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.validate = NewValidator(func() time.Time { return s.now() })

	return s
}

// Load replaces the collection with the backend's. When several loads overlap only the
// most recently issued one is applied; older ones return ErrLoadSuperseded.
func (s *Synchronizer) Load(ctx context.Context) error {
	const op = "records.Synchronizer.Load"

	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	urls, err := s.gateway.ListURLs(ctx)
	if err != nil {
		s.checkUnauthorized(ctx, err)
		return fmt.Errorf("%s: failed to list urls: %w", op, err)
	}

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		s.logger.Debug("discarding stale load response", slog.Uint64("seq", seq))
		return fmt.Errorf("%s: %w", op, ErrLoadSuperseded)
	}

	s.urls = make([]entity.URL, 0, len(urls))
	for _, u := range urls {
		s.urls = append(s.urls, u.Clone())
	}
	s.mu.Unlock()

	s.notify()

	return nil
}

// Create validates input, creates the record on the backend and prepends it. On any
// failure the collection is left unchanged.
func (s *Synchronizer) Create(ctx context.Context, input CreateInput) (entity.URL, error) {
	const op = "records.Synchronizer.Create"

	if err := s.Validate(input); err != nil {
		return entity.URL{}, fmt.Errorf("%s: %w", op, err)
	}

	created, err := s.gateway.CreateURL(ctx, gateway.CreateURLRequest{
		OriginalURL:    input.OriginalURL,
		CustomCode:     input.CustomCode,
		ExpirationDate: input.ExpirationDate,
	})
	if err != nil {
		s.checkUnauthorized(ctx, err)
		return entity.URL{}, fmt.Errorf("%s: failed to create url: %w", op, err)
	}

	if s.insert(*created) {
		s.notify()
	}

	return created.Clone(), nil
}

// Validate checks input without touching the network.
func (s *Synchronizer) Validate(input CreateInput) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return toValidationError(verrs)
	}

	return err
}

// Remove deletes the record on the backend and only then drops it locally.
func (s *Synchronizer) Remove(ctx context.Context, id int64) error {
	const op = "records.Synchronizer.Remove"

	if err := s.gateway.DeleteURL(ctx, id); err != nil {
		s.checkUnauthorized(ctx, err)
		return fmt.Errorf("%s: failed to delete url: %w", op, err)
	}

	if s.delete(id) {
		s.notify()
	}

	return nil
}

// Reconcile applies a pushed event. It is idempotent and ignores events it does not
// handle.
func (s *Synchronizer) Reconcile(ev channel.Event) {
	var changed bool

	switch e := ev.(type) {
	case channel.ClickUpdate:
		changed = s.setClicks(e.URLID, e.Clicks)
	case channel.RecordCreated:
		changed = s.insert(e.URL)
	case channel.RecordDeleted:
		changed = s.delete(e.URLID)
	default:
		return
	}

	if changed {
		s.notify()
	}
}

// Attach subscribes Reconcile to the record events of sub. The returned func detaches
// all of them and must be called on teardown.
func (s *Synchronizer) Attach(sub Subscriber) (detach func()) {
	unsubs := []func(){
		sub.Subscribe(channel.EventClickUpdate, s.Reconcile),
		sub.Subscribe(channel.EventURLCreated, s.Reconcile),
		sub.Subscribe(channel.EventURLDeleted, s.Reconcile),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Reset empties the collection, typically after a logout. In-flight loads are discarded.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.loadSeq++
	s.urls = []entity.URL{}
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a deep copy of the collection, newest first.
func (s *Synchronizer) Snapshot() []entity.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// TotalClicks sums the click counters of all records.
func (s *Synchronizer) TotalClicks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, u := range s.urls {
		total += u.Clicks
	}
	return total
}

// Partition splits the collection into active and expired records as of now.
func (s *Synchronizer) Partition(now time.Time) (active, expired []entity.URL) {
	active, expired = []entity.URL{}, []entity.URL{}

	for _, u := range s.Snapshot() {
		if u.IsExpired(now) {
			expired = append(expired, u)
		} else {
			active = append(active, u)
		}
	}

	return active, expired
}

// OnChange registers fn to receive a snapshot after every change to the collection.
func (s *Synchronizer) OnChange(fn func([]entity.URL)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, o := range s.observers {
				if o.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Synchronizer) insert(u entity.URL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(u.ID) >= 0 {
		return false
	}

	s.urls = append([]entity.URL{u.Clone()}, s.urls...)
	return true
}

func (s *Synchronizer) delete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}

	s.urls = append(s.urls[:i:i], s.urls[i+1:]...)
	return true
}

// setClicks stores an absolute count. Counts lower than the current one are stale
// deliveries and are ignored since counters never decrease.
func (s *Synchronizer) setClicks(id, clicks int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 || clicks <= s.urls[i].Clicks {
		return false
	}

	s.urls[i].Clicks = clicks
	return true
}

func (s *Synchronizer) indexLocked(id int64) int {
	for i, u := range s.urls {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) snapshotLocked() []entity.URL {
	out := make([]entity.URL, len(s.urls))
	for i, u := range s.urls {
		out[i] = u.Clone()
	}
	return out
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	if len(s.observers) == 0 {
		s.mu.Unlock()
		return
	}
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	for _, o := range observers {
		o.fn(snapshot)
	}
}

func (s *Synchronizer) checkUnauthorized(ctx context.Context, err error) {
	if s.sessions != nil && errors.Is(err, entity.ErrUnauthorized) {
		s.logger.Warn("backend rejected the session token")
		s.sessions.Invalidate(ctx)
	}
}
