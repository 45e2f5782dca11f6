// Package gateway translates typed client operations into backend HTTP calls.
//
// The gateway is stateless apart from its configuration. Every request reads the current
// bearer token from a TokenSource, and every failure is normalized into *Error. No retries
// are performed here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
)

const defaultTimeout = 15 * time.Second

// TokenSource supplies the bearer token of the current session. An empty token sends the
// request unauthenticated.
type TokenSource interface {
	Token() string
}

// CreateURLRequest is the payload for creating a short URL.
type CreateURLRequest struct {
	OriginalURL    string     `json:"originalUrl"`
	CustomCode     string     `json:"customCode,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

type dataEnvelope[T any] struct {
	Data T         `json:"data"`
	Meta *listMeta `json:"meta,omitempty"`
}

type listMeta struct {
	Total int `json:"total"`
}

type authResponse struct {
	JWT  string      `json:"jwt"`
	User entity.User `json:"user"`
}

type clickResponse struct {
	Clicks int64 `json:"clicks"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

// Client is the HTTP request gateway.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) {
		g.http = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(g *Client) {
		g.http.Timeout = d
	}
}

func New(baseURL string, tokens TokenSource, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, identifier, password string) (entity.Session, error) {
	const op = "gateway.Client.Login"

	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/local", body, &resp); err != nil {
		return entity.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return entity.Session{Token: resp.JWT, User: resp.User}, nil
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, username, email, password string) (entity.Session, error) {
	const op = "gateway.Client.Register"

	body := map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}

	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/local/register", body, &resp); err != nil {
		return entity.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return entity.Session{Token: resp.JWT, User: resp.User}, nil
}

// Me fetches the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (*entity.User, error) {
	const op = "gateway.Client.Me"

	var user entity.User
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// ListURLs returns every URL of the current user.
func (c *Client) ListURLs(ctx context.Context) ([]entity.URL, error) {
	const op = "gateway.Client.ListURLs"

	var resp dataEnvelope[[]entity.URL]
	if err := c.do(ctx, http.MethodGet, "/api/short-urls", nil, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.Data == nil {
		return []entity.URL{}, nil
	}

	return resp.Data, nil
}

// CreateURL creates a short URL.
func (c *Client) CreateURL(ctx context.Context, req CreateURLRequest) (*entity.URL, error) {
	const op = "gateway.Client.CreateURL"

	var resp dataEnvelope[entity.URL]
	if err := c.do(ctx, http.MethodPost, "/api/short-urls", dataEnvelope[CreateURLRequest]{Data: req}, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &resp.Data, nil
}

// DeleteURL deletes the URL with the given id.
func (c *Client) DeleteURL(ctx context.Context, id int64) error {
	const op = "gateway.Client.DeleteURL"

	path := "/api/short-urls/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RecordClick registers a visit of the short code and returns the new click count.
func (c *Client) RecordClick(ctx context.Context, shortCode string) (int64, error) {
	const op = "gateway.Client.RecordClick"

	var resp dataEnvelope[clickResponse]
	path := "/api/short-urls/" + url.PathEscape(shortCode) + "/click"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return resp.Data.Clicks, nil
}

// Analytics fetches click statistics for the URL with the given id.
func (c *Client) Analytics(ctx context.Context, id int64) (*entity.Analytics, error) {
	const op = "gateway.Client.Analytics"

	var resp dataEnvelope[entity.Analytics]
	path := "/api/short-urls/" + strconv.FormatInt(id, 10) + "/analytics"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &resp.Data, nil
}

// CheckAvailability reports whether a custom short code is still free.
func (c *Client) CheckAvailability(ctx context.Context, code string) (bool, error) {
	const op = "gateway.Client.CheckAvailability"

	var resp dataEnvelope[availabilityResponse]
	path := "/api/short-urls/check/" + url.PathEscape(code)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return resp.Data.Available, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Any("err", err),
		)
		return newNetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return newNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseError(resp.StatusCode, data)
		c.logger.Debug("request rejected",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", apiErr.Status),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &Error{
			Status:  resp.StatusCode,
			Name:    "DecodeError",
			Message: "Unexpected response from server.",
			cause:   err,
		}
	}

	return nil
}

// IsNetworkError reports whether err is a gateway error produced without any response.
func IsNetworkError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == 0
}
