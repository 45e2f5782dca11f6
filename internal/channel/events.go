package channel

import (
	"encoding/json"
	"fmt"

	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
)

// Inbound event names, including the lifecycle names the manager emits itself.
const (
	EventClickUpdate          = "clickUpdate"
	EventURLCreated           = "urlCreated"
	EventURLDeleted           = "urlDeleted"
	EventUserStats            = "userStats"
	EventConnect              = "connect"
	EventDisconnect           = "disconnect"
	EventConnectError         = "connect_error"
	EventMaxReconnectAttempts = "maxReconnectAttemptsReached"
)

// Outbound event names.
const (
	EventJoinRoom         = "joinRoom"
	EventLeaveRoom        = "leaveRoom"
	EventRequestUserStats = "requestUserStats"
)

// Event is a closed union of everything the manager delivers to subscribers.
// Only the types in this package implement it.
type Event interface {
	EventName() string
	isEvent()
}

// ClickUpdate carries the absolute click count of a URL.
type ClickUpdate struct {
	URLID  int64 `json:"urlId"`
	Clicks int64 `json:"clicks"`
}

// RecordCreated announces a URL created for the user, possibly on another device.
type RecordCreated struct {
	URL entity.URL
}

// RecordDeleted announces that a URL no longer exists.
type RecordDeleted struct {
	URLID int64 `json:"urlId"`
}

// UserStats carries aggregate counters for the user.
type UserStats struct {
	TotalURLs   int64 `json:"totalUrls"`
	TotalClicks int64 `json:"totalClicks"`
}

// ConnectionState reports that the connection went up or down.
type ConnectionState struct {
	Connected bool
	Reason    string
}

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Err error
}

// ReconnectFailed is emitted once when the reconnect attempts are exhausted.
type ReconnectFailed struct {
	Attempts int
}

// Unknown wraps inbound events with names this client does not understand.
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (ClickUpdate) EventName() string     { return EventClickUpdate }
func (RecordCreated) EventName() string   { return EventURLCreated }
func (RecordDeleted) EventName() string   { return EventURLDeleted }
func (UserStats) EventName() string       { return EventUserStats }
func (ConnectError) EventName() string    { return EventConnectError }
func (ReconnectFailed) EventName() string { return EventMaxReconnectAttempts }
func (u Unknown) EventName() string       { return u.Name }

func (s ConnectionState) EventName() string {
	if s.Connected {
		return EventConnect
	}
	return EventDisconnect
}

func (ClickUpdate) isEvent()     {}
func (RecordCreated) isEvent()   {}
func (RecordDeleted) isEvent()   {}
func (UserStats) isEvent()       {}
func (ConnectionState) isEvent() {}
func (ConnectError) isEvent()    {}
func (ReconnectFailed) isEvent() {}
func (Unknown) isEvent()         {}

// Message is the wire envelope in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomPayload struct {
	Room string `json:"room"`
}

type disconnectPayload struct {
	Reason string `json:"reason"`
}

// RoomForUser is the server-side room that scopes push events to one user.
func RoomForUser(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Decode turns an inbound message into a typed event.
func Decode(msg Message) (Event, error) {
	switch msg.Event {
	case EventClickUpdate:
		var ev ClickUpdate
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return ev, nil
	case EventURLCreated:
		var ev RecordCreated
		if err := json.Unmarshal(msg.Data, &ev.URL); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return ev, nil
	case EventURLDeleted:
		var ev RecordDeleted
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return ev, nil
	case EventUserStats:
		var ev UserStats
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return ev, nil
	default:
		return Unknown{Name: msg.Event, Data: msg.Data}, nil
	}
}

// Encode builds an outbound message.
func Encode(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", event, err)
	}

	return Message{Event: event, Data: data}, nil
}
