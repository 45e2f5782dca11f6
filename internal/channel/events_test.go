package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want Event
	}{
		{
			name: "click update",
			msg:  Message{Event: EventClickUpdate, Data: json.RawMessage(`{"urlId":1,"clicks":12}`)},
			want: ClickUpdate{URLID: 1, Clicks: 12},
		},
		{
			name: "url deleted",
			msg:  Message{Event: EventURLDeleted, Data: json.RawMessage(`{"urlId":9}`)},
			want: RecordDeleted{URLID: 9},
		},
		{
			name: "user stats",
			msg:  Message{Event: EventUserStats, Data: json.RawMessage(`{"totalUrls":3,"totalClicks":40}`)},
			want: UserStats{TotalURLs: 3, TotalClicks: 40},
		},
		{
			name: "unknown",
			msg:  Message{Event: "somethingNew", Data: json.RawMessage(`{}`)},
			want: Unknown{Name: "somethingNew", Data: json.RawMessage(`{}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.msg)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.msg.Event, got.EventName())
		})
	}

	t.Run("url created", func(t *testing.T) {
		got, err := Decode(Message{
			Event: EventURLCreated,
			Data:  json.RawMessage(`{"id":4,"originalUrl":"https://example.com","shortCode":"abcd","clicks":0}`),
		})

		require.NoError(t, err)
		created, ok := got.(RecordCreated)
		require.True(t, ok)
		assert.Equal(t, int64(4), created.URL.ID)
		assert.Equal(t, "https://example.com", created.URL.OriginalURL)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := Decode(Message{Event: EventClickUpdate, Data: json.RawMessage(`[1,2]`)})

		assert.Error(t, err)
	})
}

func TestEncode(t *testing.T) {
	t.Run("with payload", func(t *testing.T) {
		msg, err := Encode(EventJoinRoom, roomPayload{Room: RoomForUser(12)})

		require.NoError(t, err)
		assert.Equal(t, EventJoinRoom, msg.Event)
		assert.JSONEq(t, `{"room":"user:12"}`, string(msg.Data))
	})

	t.Run("without payload", func(t *testing.T) {
		msg, err := Encode(EventRequestUserStats, nil)

		require.NoError(t, err)
		assert.Nil(t, msg.Data)

		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"requestUserStats"}`, string(raw))
	})
}

func TestConnectionState_EventName(t *testing.T) {
	assert.Equal(t, EventConnect, ConnectionState{Connected: true}.EventName())
	assert.Equal(t, EventDisconnect, ConnectionState{Reason: "io error"}.EventName())
}
