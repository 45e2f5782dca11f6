package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second
)

// ErrMalformedMessage is returned by Conn.Read for a frame that is not a valid message.
// The connection stays usable and the caller may keep reading.
var ErrMalformedMessage = errors.New("malformed message")

// Conn is one established duplex connection.
type Conn interface {
	// Read blocks until the next inbound message or a transport error.
	Read() (Message, error)
	Write(msg Message) error
	Close() error
}

// Transport opens connections authenticated with a bearer token.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// WebSocketTransport dials the backend event stream over a websocket. The token is sent
// as a bearer header and as the token query parameter for servers that only read the
// handshake URL.
type WebSocketTransport struct {
	url      string
	dialer   *websocket.Dialer
	pongWait time.Duration
}

type TransportOption func(*WebSocketTransport)

// WithKeepalive sets how long a connection may stay silent before reads fail. Pings are
// sent at nine tenths of that interval and every pong extends the deadline.
func WithKeepalive(pongWait time.Duration) TransportOption {
	return func(t *WebSocketTransport) {
		t.pongWait = pongWait
	}
}

func NewWebSocketTransport(rawURL string, opts ...TransportOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		pongWait: defaultPongWait,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocketTransport) Dial(ctx context.Context, token string) (Conn, error) {
	const op = "channel.WebSocketTransport.Dial"

	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid url: %w", op, err)
	}

	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%s: handshake failed with status %d: %w", op, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c := &wsConn{
		ws:       ws,
		pongWait: t.pongWait,
		done:     make(chan struct{}),
	}

	_ = ws.SetReadDeadline(time.Now().Add(c.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	go c.ping(c.pongWait * 9 / 10)

	return c, nil
}

type wsConn struct {
	ws       *websocket.Conn
	pongWait time.Duration
	writeMu  sync.Mutex
	once     sync.Once
	done     chan struct{}
}

func (c *wsConn) Read() (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return msg, nil
}

func (c *wsConn) ping(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) Write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
