// Package app is the composition root of the client. It builds every component once per
// process from the config and wires them to each other.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/url-shortener-client/internal/channel"
	"github.com/vadimbarashkov/url-shortener-client/internal/config"
	"github.com/vadimbarashkov/url-shortener-client/internal/credential"
	"github.com/vadimbarashkov/url-shortener-client/internal/gateway"
	"github.com/vadimbarashkov/url-shortener-client/internal/records"
	"github.com/vadimbarashkov/url-shortener-client/internal/storage/file"
	"github.com/vadimbarashkov/url-shortener-client/pkg/sqlite"

	sqlitestorage "github.com/vadimbarashkov/url-shortener-client/internal/storage/sqlite"
)

// Client holds the process-wide components.
type Client struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *credential.Store
	Gateway *gateway.Client
	Channel *channel.Manager
	Records *records.Synchronizer

	db          *sqlx.DB
	unsubscribe func()
}

type Option func(*options)

type options struct {
	transport channel.Transport
}

// WithTransport replaces the websocket transport of the push channel.
func WithTransport(t channel.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// New builds the client and restores a persisted session without contacting the backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	const op = "app.New"

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = channel.NewWebSocketTransport(cfg.Channel.URL)
	}

	c := &Client{
		Config: cfg,
		Logger: logger,
	}

	storage, err := c.openStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.Store = credential.NewStore(storage, nil, logger.With(slog.String("component", "credential")))
	c.Gateway = gateway.New(
		cfg.API.BaseURL,
		c.Store,
		logger.With(slog.String("component", "gateway")),
		gateway.WithTimeout(cfg.API.Timeout),
	)
	c.Store.SetAuthenticator(c.Gateway)

	c.Channel = channel.New(
		o.transport,
		c.Store,
		logger.With(slog.String("component", "channel")),
		channel.WithReconnect(cfg.Channel.ReconnectBaseDelay, cfg.Channel.MaxReconnectAttempts),
		channel.WithDialTimeout(cfg.Channel.DialTimeout),
	)

	c.Records = records.New(c.Gateway, c.Store, logger.With(slog.String("component", "records")))

	// The channel and the replica belong to one user: they are torn down when the
	// session ends or another user signs in.
	var current atomic.Int64
	c.unsubscribe = c.Store.Subscribe(func(change credential.Change) {
		switch change.Kind {
		case credential.ChangeLogin:
			if prev := current.Swap(change.Session.User.ID); prev != change.Session.User.ID {
				c.Channel.Disconnect()
				c.Records.Reset()
			}
		case credential.ChangeRefresh:
			current.Store(change.Session.User.ID)
		case credential.ChangeLogout, credential.ChangeExpired:
			current.Store(0)
			c.Channel.Disconnect()
			c.Records.Reset()
		}
	})

	if err := c.Store.Restore(ctx, false); err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return c, nil
}

func (c *Client) openStorage(ctx context.Context) (credential.Storage, error) {
	path := c.Config.Storage.Path

	switch c.Config.Storage.Driver {
	case config.StorageSQLite:
		db, err := sqlite.New(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}

		storage := sqlitestorage.NewSessionStorage(db)
		if err := storage.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}

		c.db = db
		return storage, nil
	default:
		return file.NewSessionStorage(path), nil
	}
}

// Availability returns a debounced custom-code checker backed by the gateway.
func (c *Client) Availability(onResult func(records.AvailabilityResult)) *records.AvailabilityChecker {
	return records.NewAvailabilityChecker(
		c.Gateway.CheckAvailability,
		c.Config.Availability.Debounce,
		c.Logger.With(slog.String("component", "availability")),
		onResult,
	)
}

// Close disconnects the push channel and releases storage.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.Channel != nil {
		c.Channel.Disconnect()
	}

	var errs []error
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app.Client.Close: failed to close storage: %w", err))
		}
		c.db = nil
	}

	return errors.Join(errs...)
}
