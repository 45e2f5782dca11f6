package devserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
	"github.com/vadimbarashkov/url-shortener-client/internal/records"
	"golang.org/x/crypto/bcrypt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrUserExists         = errors.New("email or username are already taken")
	ErrInvalidCredentials = errors.New("invalid identifier or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrURLExpired         = errors.New("url expired")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")
)

type user struct {
	entity.User
	passwordHash []byte
}

type urlRecord struct {
	entity.URL
	ownerID       int64
	clicksByDay   map[string]int64
	lastClickedAt *time.Time
}

// Store keeps users and short URLs in memory. It is safe for concurrent use.
type Store struct {
	now             func() time.Time
	shortCodeLength int

	mu        sync.RWMutex
	users     map[int64]*user
	urls      map[int64]*urlRecord
	codes     map[string]int64
	nextUser  int64
	nextURL   int64
	bcryptCst int
}

func NewStore(shortCodeLength int, now func() time.Time) *Store {
	return &Store{
		now:             now,
		shortCodeLength: shortCodeLength,
		users:           make(map[int64]*user),
		urls:            make(map[int64]*urlRecord),
		codes:           make(map[string]int64),
		bcryptCst:       bcrypt.DefaultCost,
	}
}

func (s *Store) CreateUser(_ context.Context, username, email, password string) (*entity.User, error) {
	const op = "devserver.Store.CreateUser"

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCst)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to hash password: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
	}

	s.nextUser++
	u := &user{
		User: entity.User{
			ID:        s.nextUser,
			Username:  username,
			Email:     email,
			CreatedAt: s.now(),
		},
		passwordHash: hash,
	}
	s.users[u.ID] = u

	out := u.User
	return &out, nil
}

// Authenticate matches identifier against usernames and emails.
func (s *Store) Authenticate(_ context.Context, identifier, password string) (*entity.User, error) {
	const op = "devserver.Store.Authenticate"

	s.mu.RLock()
	var found *user
	for _, u := range s.users {
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			found = u
			break
		}
	}
	s.mu.RUnlock()

	if found == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(found.passwordHash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	out := found.User
	return &out, nil
}

func (s *Store) User(_ context.Context, id int64) (*entity.User, error) {
	const op = "devserver.Store.User"

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}

	out := u.User
	return &out, nil
}

// ListURLs returns the owner's URLs, newest first.
func (s *Store) ListURLs(_ context.Context, ownerID int64) []entity.URL {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []entity.URL{}
	for _, r := range s.urls {
		if r.ownerID == ownerID {
			out = append(out, r.URL.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID > out[j].ID
	})

	return out
}

// CreateURL stores a new URL. Without a custom code a random one is generated, growing
// longer on every collision.
func (s *Store) CreateURL(_ context.Context, ownerID int64, originalURL, customCode string, exp *time.Time) (*entity.URL, error) {
	const op = "devserver.Store.CreateURL"
	const maxRetries = 5

	s.mu.Lock()
	defer s.mu.Unlock()

	code := customCode
	if code == "" {
		length := s.shortCodeLength
		for i := 0; ; i++ {
			if i == maxRetries {
				return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
			}

			generated, err := gonanoid.New(length)
			if err != nil {
				return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
			}

			if _, taken := s.codes[generated]; !taken && !records.IsReserved(generated) {
				code = generated
				break
			}
			length++
		}
	} else if _, taken := s.codes[code]; taken {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrShortCodeExists)
	}

	s.nextURL++
	r := &urlRecord{
		URL: entity.URL{
			ID:          s.nextURL,
			OriginalURL: originalURL,
			ShortCode:   code,
			CreatedAt:   s.now(),
		},
		ownerID:     ownerID,
		clicksByDay: make(map[string]int64),
	}
	if exp != nil {
		t := *exp
		r.ExpirationDate = &t
	}

	s.urls[r.ID] = r
	s.codes[code] = r.ID

	out := r.URL.Clone()
	return &out, nil
}

func (s *Store) DeleteURL(_ context.Context, ownerID, id int64) (*entity.URL, error) {
	const op = "devserver.Store.DeleteURL"

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.urls[id]
	if !ok || r.ownerID != ownerID {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	delete(s.urls, id)
	delete(s.codes, r.ShortCode)

	out := r.URL.Clone()
	return &out, nil
}

// RecordClick counts a visit of code and returns the updated URL with its owner.
func (s *Store) RecordClick(_ context.Context, code string) (*entity.URL, int64, error) {
	const op = "devserver.Store.RecordClick"

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	r := s.urls[id]
	now := s.now()
	if r.IsExpired(now) {
		return nil, 0, fmt.Errorf("%s: %w", op, ErrURLExpired)
	}

	r.Clicks++
	r.clicksByDay[now.UTC().Format(time.DateOnly)]++
	r.lastClickedAt = &now

	out := r.URL.Clone()
	return &out, r.ownerID, nil
}

func (s *Store) Analytics(_ context.Context, ownerID, id int64) (*entity.Analytics, error) {
	const op = "devserver.Store.Analytics"

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.urls[id]
	if !ok || r.ownerID != ownerID {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	days := make([]entity.DailyClicks, 0, len(r.clicksByDay))
	for date, clicks := range r.clicksByDay {
		days = append(days, entity.DailyClicks{Date: date, Clicks: clicks})
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Date < days[j].Date
	})

	a := &entity.Analytics{
		URLID:       r.ID,
		ShortCode:   r.ShortCode,
		TotalClicks: r.Clicks,
		ClicksByDay: days,
	}
	if r.lastClickedAt != nil {
		t := *r.lastClickedAt
		a.LastClickedAt = &t
	}

	return a, nil
}

// CodeAvailable reports whether code could be used as a custom code right now.
func (s *Store) CodeAvailable(_ context.Context, code string) bool {
	if !records.ValidShortCode(code) || records.IsReserved(code) {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, taken := s.codes[code]
	return !taken
}

// Stats returns the number of URLs and the sum of their clicks for the owner.
func (s *Store) Stats(_ context.Context, ownerID int64) (urls, clicks int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.urls {
		if r.ownerID == ownerID {
			urls++
			clicks += r.Clicks
		}
	}

	return urls, clicks
}
