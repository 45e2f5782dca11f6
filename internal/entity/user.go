package entity

import "time"

// User is the account the client is signed in as.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session pairs a bearer token with the user it was issued for.
// At most one Session is live per client process.
type Session struct {
	Token string
	User  User
}

// IsZero reports whether s holds no credentials.
func (s Session) IsZero() bool {
	return s.Token == ""
}
