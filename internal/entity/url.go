// Package entity defines the entities and errors shared by the client components.
// It includes the URL record as the backend reports it, the signed-in user and session,
// and per-URL analytics.
package entity

import (
	"errors"
	"time"
)

var (
	// ErrShortCodeExists is returned when the requested custom code is already taken.
	ErrShortCodeExists = errors.New("short code exists")
	// ErrURLNotFound is returned when a URL with the specified id or short code cannot be found.
	ErrURLNotFound = errors.New("url not found")
	// ErrUnauthorized is returned when the backend rejects the current credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// URL represents a shortened URL owned by the signed-in user.
type URL struct {
	ID             int64      `json:"id"`             // ID is the server-assigned, immutable identifier.
	OriginalURL    string     `json:"originalUrl"`    // OriginalURL is the destination the short code resolves to.
	ShortCode      string     `json:"shortCode"`      // ShortCode is unique per tenant.
	ExpirationDate *time.Time `json:"expirationDate"` // ExpirationDate is nil for links that never expire.
	Clicks         int64      `json:"clicks"`         // Clicks never decreases from the client's perspective.
	CreatedAt      time.Time  `json:"createdAt"`      // CreatedAt is the timestamp when the URL was created.
}

// IsExpired reports whether the URL has an expiration date that is not after now.
func (u *URL) IsExpired(now time.Time) bool {
	return u.ExpirationDate != nil && !u.ExpirationDate.After(now)
}

// Clone returns a copy of u that shares no pointers with it.
func (u URL) Clone() URL {
	if u.ExpirationDate != nil {
		exp := *u.ExpirationDate
		u.ExpirationDate = &exp
	}
	return u
}

// DailyClicks is the number of clicks a URL received on a single day.
type DailyClicks struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

// Analytics contains click statistics for a single URL.
type Analytics struct {
	URLID         int64         `json:"urlId"`
	ShortCode     string        `json:"shortCode"`
	TotalClicks   int64         `json:"totalClicks"`
	ClicksByDay   []DailyClicks `json:"clicksByDay"`
	LastClickedAt *time.Time    `json:"lastClickedAt"`
}
