package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and verifies HS256 session tokens carrying the user id and an expiry.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration, now func() time.Time) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    now,
	}
}

type claims struct {
	ID int64 `json:"id"`
	jwt.RegisteredClaims
}

func (t *Tokens) Issue(userID int64) (string, error) {
	const op = "devserver.Tokens.Issue"

	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("%s: failed to sign token: %w", op, err)
	}

	return signed, nil
}

// Verify checks the signature and expiry and returns the user id.
func (t *Tokens) Verify(raw string) (int64, error) {
	const op = "devserver.Tokens.Verify"

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	if c.ID == 0 {
		return 0, fmt.Errorf("%s: %w: missing id claim", op, ErrInvalidToken)
	}

	return c.ID, nil
}
