// Package channel owns the single push connection to the backend event stream.
//
// The Manager authenticates the connection with the current session token, joins the
// user's room, fans inbound events out to subscribers as typed events and reconnects with
// exponential backoff after unexpected drops. Failures never surface as returned errors
// from background work: they are logged and delivered as events.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
	defaultDialTimeout = 10 * time.Second
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TokenSource exposes the current session. It is read on every dial so a connection
// never uses a token captured before a login or logout.
type TokenSource interface {
	Token() string
	UserID() int64
}

// Timer is the part of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the default.
type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Manager)

// WithReconnect sets the base delay and the maximum number of reconnect attempts.
func WithReconnect(base time.Duration, maxAttempts int) Option {
	return func(m *Manager) {
		m.baseDelay = base
		m.maxAttempts = maxAttempts
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.dialTimeout = d
	}
}

// WithAfterFunc replaces the timer used to schedule reconnects.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) {
		m.afterFunc = fn
	}
}

// Manager is the push channel manager. Construct one per process in the composition root.
type Manager struct {
	transport   Transport
	tokens      TokenSource
	logger      *slog.Logger
	baseDelay   time.Duration
	maxAttempts int
	dialTimeout time.Duration
	afterFunc   AfterFunc
	registry    *registry

	// dispatchMu keeps handlers from running in parallel with each other.
	dispatchMu sync.Mutex

	mu       sync.Mutex
	state    State
	conn     Conn
	room     string
	gen      uint64
	policy   backoff.BackOff
	attempts int
	timer    Timer
}

func New(transport Transport, tokens TokenSource, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		transport:   transport,
		tokens:      tokens,
		logger:      logger,
		baseDelay:   defaultBaseDelay,
		maxAttempts: defaultMaxAttempts,
		dialTimeout: defaultDialTimeout,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		registry: newRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.policy = newPolicy(m.baseDelay, m.maxAttempts)

	return m
}

// newPolicy yields base, 2*base, 4*base, ... and stops after maxAttempts delays.
func newPolicy(base time.Duration, maxAttempts int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0

	policy := backoff.WithMaxRetries(exp, uint64(maxAttempts))
	policy.Reset()

	return policy
}

// Delay returns the wait before reconnect attempt n (1-based): base * 2^(n-1).
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base << (attempt - 1)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a connection is established.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Connect starts connecting in the background. It is a no-op while a connection exists
// or is being established. Without a session token it only logs. A manual Connect after
// the attempts were exhausted starts a fresh reconnect budget.
func (m *Manager) Connect() {
	// Token may notify session observers, which can call back into the manager.
	token := m.tokens.Token()

	m.mu.Lock()

	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}

	if token == "" {
		m.mu.Unlock()
		m.logger.Warn("push channel not connected: no session token")
		return
	}

	m.stopTimerLocked()
	m.resetPolicyLocked()
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.mu.Unlock()

	go m.dial(gen, token)
}

// Disconnect tears the connection down, clears every subscriber and resets the reconnect
// counters. It never triggers a reconnect and is safe to call when not connected. The
// leave message names the room joined on connect, not the current session's, so it stays
// correct after the session was already cleared.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	conn := m.conn
	wasConnected := m.state == StateConnected
	room := m.room
	m.conn = nil
	m.room = ""
	m.state = StateDisconnected
	m.stopTimerLocked()
	m.resetPolicyLocked()
	m.mu.Unlock()

	if conn != nil {
		if wasConnected && room != "" {
			if msg, err := Encode(EventLeaveRoom, roomPayload{Room: room}); err == nil {
				_ = conn.Write(msg)
			}
		}
		if err := conn.Close(); err != nil {
			m.logger.Debug("failed to close push connection", slog.Any("err", err))
		}
	}

	m.registry.clear()
}

// Subscribe registers h for events named event. The returned func removes exactly this
// registration and may be called more than once.
func (m *Manager) Subscribe(event string, h Handler) (unsubscribe func()) {
	return m.registry.add(event, h)
}

// Publish sends an event to the backend. Nothing is queued: when not connected the event
// is dropped with a warning and false is returned.
func (m *Manager) Publish(event string, payload any) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.logger.Warn("push channel not connected, dropping event", slog.String("event", event))
		return false
	}

	msg, err := Encode(event, payload)
	if err != nil {
		m.logger.Error("failed to encode event", slog.String("event", event), slog.Any("err", err))
		return false
	}

	if err := conn.Write(msg); err != nil {
		m.logger.Warn("failed to publish event", slog.String("event", event), slog.Any("err", err))
		return false
	}

	return true
}

// RequestUserStats asks the backend to push a userStats event.
func (m *Manager) RequestUserStats() bool {
	return m.Publish(EventRequestUserStats, struct{}{})
}

func (m *Manager) dial(gen uint64, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	conn, err := m.transport.Dial(ctx, token)
	cancel()

	userID := m.tokens.UserID()
	if err == nil {
		// The room is joined before the connection is visible, so nothing published
		// afterwards can overtake the join.
		if err = m.join(conn, userID); err != nil {
			conn.Close()
			conn = nil
		}
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()

		m.logger.Warn("push channel connection failed", slog.Any("err", err))
		m.emit(ConnectError{Err: err})
		m.scheduleReconnect(gen)
		return
	}

	m.conn = conn
	m.room = RoomForUser(userID)
	m.state = StateConnected
	m.resetPolicyLocked()
	m.mu.Unlock()

	m.logger.Info("push channel connected", slog.Int64("user_id", userID))

	go m.readLoop(gen, conn)

	m.emit(ConnectionState{Connected: true})
}

func (m *Manager) join(conn Conn, userID int64) error {
	msg, err := Encode(EventJoinRoom, roomPayload{Room: RoomForUser(userID)})
	if err != nil {
		return err
	}
	if err := conn.Write(msg); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	return nil
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		msg, err := conn.Read()
		if errors.Is(err, ErrMalformedMessage) {
			m.logger.Warn("dropping malformed frame", slog.Any("err", err))
			continue
		}
		if err != nil {
			m.drop(gen, conn, err.Error())
			return
		}

		if msg.Event == EventDisconnect {
			var p disconnectPayload
			if len(msg.Data) > 0 {
				_ = json.Unmarshal(msg.Data, &p)
			}
			if p.Reason == "" {
				p.Reason = "server disconnect"
			}
			m.drop(gen, conn, p.Reason)
			return
		}

		ev, err := Decode(msg)
		if err != nil {
			m.logger.Warn("dropping malformed event", slog.String("event", msg.Event), slog.Any("err", err))
			continue
		}
		if _, ok := ev.(Unknown); ok {
			m.logger.Debug("received unknown event", slog.String("event", msg.Event))
		}

		m.emit(ev)
	}
}

// drop handles an unexpected loss of the connection of generation gen.
func (m *Manager) drop(gen uint64, conn Conn, reason string) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.room = ""
	m.state = StateDisconnected
	m.mu.Unlock()

	conn.Close()

	m.logger.Warn("push channel disconnected", slog.String("reason", reason))
	m.emit(ConnectionState{Connected: false, Reason: reason})
	m.scheduleReconnect(gen)
}

func (m *Manager) scheduleReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		attempts := m.attempts
		m.state = StateDisconnected
		m.mu.Unlock()

		m.logger.Error("push channel gave up reconnecting", slog.Int("attempts", attempts))
		m.emit(ReconnectFailed{Attempts: attempts})
		return
	}

	m.attempts++
	attempt := m.attempts
	m.state = StateReconnecting
	m.timer = m.afterFunc(delay, func() {
		m.reconnect(gen)
	})
	m.mu.Unlock()

	m.logger.Info("push channel reconnect scheduled",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

func (m *Manager) reconnect(gen uint64) {
	token := m.tokens.Token()

	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}

	if token == "" {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.logger.Warn("push channel reconnect aborted: no session token")
		return
	}

	m.state = StateConnecting
	m.timer = nil
	m.mu.Unlock()

	m.dial(gen, token)
}

func (m *Manager) emit(ev Event) {
	handlers := m.registry.handlers(ev.EventName())
	if len(handlers) == 0 {
		return
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	for _, h := range handlers {
		m.call(h, ev)
	}
}

func (m *Manager) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked",
				slog.String("event", ev.EventName()),
				slog.Any("panic", r),
			)
		}
	}()

	h(ev)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) resetPolicyLocked() {
	m.policy.Reset()
	m.attempts = 0
}
