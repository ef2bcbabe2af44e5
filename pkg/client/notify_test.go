package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msniranjan18/chit-call/pkg/events"
)

func TestNotifications(t *testing.T) {
	n := NewNotifications()

	var seen []Notification
	unsubscribe := n.Subscribe(func(note Notification) { seen = append(seen, note) })

	first := n.Push("send message", "connection refused")
	n.Push("call", "user offline")
	require.Len(t, seen, 2)
	assert.Equal(t, first.ID, seen[0].ID)

	unsubscribe()
	n.Push("call", "no answer")
	assert.Len(t, seen, 2, "unsubscribed callbacks are not called")

	assert.True(t, n.Dismiss(first.ID))
	assert.False(t, n.Dismiss(first.ID))

	list := n.List()
	require.Len(t, list, 2)
	assert.Equal(t, "user offline", list[0].Message)
	assert.Equal(t, "no answer", list[1].Message)
}

func TestRosterTracksPresence(t *testing.T) {
	r := NewRoster(discardLogger())
	var changes []events.UserStatus
	r.OnChange(func(s events.UserStatus) { changes = append(changes, s) })

	r.Reset([]string{"bob", "alice"})
	assert.Equal(t, []string{"alice", "bob"}, r.Online())

	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.Apply(events.UserStatus{UserID: "bob", IsOnline: false, LastSeen: seen})
	r.Apply(events.UserStatus{UserID: "carol", IsOnline: true})

	assert.False(t, r.IsOnline("bob"))
	assert.True(t, r.IsOnline("carol"))
	got, ok := r.LastSeen("bob")
	require.True(t, ok)
	assert.Equal(t, seen, got)
	assert.Len(t, changes, 2)

	r.Reset(nil)
	assert.Empty(t, r.Online())
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/ws?token=abc"},
		{base: "https://chat.example.com/", want: "wss://chat.example.com/ws?token=abc"},
		{base: "wss://chat.example.com/app", want: "wss://chat.example.com/app/ws?token=abc"},
		{base: "ftp://chat.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := WebSocketURL(tt.base, "abc")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
