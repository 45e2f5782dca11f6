package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vadimbarashkov/url-shortener-client/internal/channel"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

type statsFunc func(ctx context.Context, userID int64) (urls, clicks int64)

// Hub fans record events out to the websocket clients that joined a user's room.
type Hub struct {
	tokens   *Tokens
	stats    statsFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
	closed  bool
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan channel.Message

	mu     sync.Mutex
	closed bool
}

func NewHub(tokens *Tokens, stats statsFunc, logger *slog.Logger) *Hub {
	return &Hub{
		tokens: tokens,
		stats:  stats,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP authenticates the handshake with the token query parameter or the bearer
// header and then upgrades the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	userID, err := h.tokens.Verify(raw)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan channel.Message, sendBuffer),
	}

	if !h.register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Publish sends an event to every client in the user's room.
func (h *Hub) Publish(userID int64, event string, payload any) {
	msg, err := channel.Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("event", event), slog.Any("err", err))
		return
	}

	h.mu.Lock()
	members := make([]*client, 0, len(h.rooms[channel.RoomForUser(userID)]))
	for c := range h.rooms[channel.RoomForUser(userID)] {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		c.enqueue(msg)
	}
}

// Close sends a disconnect event to every client and closes their connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.enqueue(channel.Message{Event: channel.EventDisconnect, Data: json.RawMessage(`{"reason":"server shutting down"}`)})
		c.close()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	for name, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
}

func (h *Hub) join(c *client, room string) bool {
	// A client may only join its own room.
	if room != channel.RoomForUser(c.userID) {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	return true
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

type roomRequest struct {
	Room string `json:"room"`
}

func (c *client) handle(msg channel.Message) {
	switch msg.Event {
	case channel.EventJoinRoom, channel.EventLeaveRoom:
		var req roomRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.hub.logger.Debug("invalid room request", slog.Any("err", err))
			return
		}

		if msg.Event == channel.EventLeaveRoom {
			c.hub.leave(c, req.Room)
			return
		}
		if !c.hub.join(c, req.Room) {
			c.hub.logger.Warn("rejected room join",
				slog.Int64("user_id", c.userID),
				slog.String("room", req.Room),
			)
		}
	case channel.EventRequestUserStats:
		urls, clicks := c.hub.stats(context.Background(), c.userID)
		msg, err := channel.Encode(channel.EventUserStats, channel.UserStats{TotalURLs: urls, TotalClicks: clicks})
		if err != nil {
			return
		}
		c.enqueue(msg)
	default:
		c.hub.logger.Debug("ignoring client event", slog.String("event", msg.Event))
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg channel.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", slog.Any("err", err))
			}
			return
		}

		c.handle(msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message when the client is gone or not keeping up.
func (c *client) enqueue(msg channel.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		c.hub.logger.Warn("client send buffer full, dropping event", slog.String("event", msg.Event))
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
