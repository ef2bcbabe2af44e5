package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/presence/presencetest"
)

const wait = time.Second
const tick = 5 * time.Millisecond

type lastSeenLog struct {
	mu    sync.Mutex
	users []string
}

func (l *lastSeenLog) UpdateUserLastSeen(_ context.Context, userID string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = append(l.users, userID)
	return nil
}

func (l *lastSeenLog) written() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.users...)
}

type harness struct {
	hub      *Hub
	clock    *clock.Mock
	lastSeen *lastSeenLog
	cancel   context.CancelFunc
}

func startHub(t *testing.T) *harness {
	t.Helper()
	mock := clock.NewMock()
	ls := &lastSeenLog{}
	h := NewHub(ls, Options{RingTimeout: 30 * time.Second, Clock: mock},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return &harness{hub: h, clock: mock, lastSeen: ls, cancel: cancel}
}

func (hs *harness) connect(t *testing.T, userID string) *presencetest.Conn {
	t.Helper()
	c := presencetest.NewConn(userID)
	require.True(t, hs.hub.Connect(c))
	require.Eventually(t, func() bool { return hs.hub.Registry().IsCurrent(c) }, wait, tick)
	return c
}

func envelope(t *testing.T, typ events.Type, payload any) events.Envelope {
	t.Helper()
	env, err := events.New(typ, "", payload)
	require.NoError(t, err)
	return env
}

func hasType(c *presencetest.Conn, typ events.Type) func() bool {
	return func() bool { return len(c.OfType(typ)) > 0 }
}

func TestConnectBroadcastsOnlineUsers(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")
	hs.connect(t, "bob")

	require.Eventually(t, func() bool {
		frames := alice.OfType(events.TypeOnlineUsers)
		if len(frames) == 0 {
			return false
		}
		var snap events.OnlineUsers
		return frames[len(frames)-1].Decode(&snap) == nil && len(snap.UserIDs) == 2
	}, wait, tick)
}

func TestCallFlowThroughHub(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")
	bob := hs.connect(t, "bob")

	offer := json.RawMessage(`{"type":"offer","sdp":"o"}`)
	hs.hub.Dispatch(alice, envelope(t, events.TypeCallInitiate, events.CallInitiate{CalleeID: "bob", Offer: offer}))
	require.Eventually(t, hasType(bob, events.TypeCallInitiate), wait, tick)
	assert.Equal(t, "alice", bob.OfType(events.TypeCallInitiate)[0].From)

	hs.hub.Dispatch(bob, envelope(t, events.TypeCallAnswer, events.CallAnswer{Answer: json.RawMessage(`{"type":"answer"}`)}))
	require.Eventually(t, hasType(alice, events.TypeCallAnswer), wait, tick)

	hs.hub.Dispatch(bob, envelope(t, events.TypeICECandidate, events.ICECandidate{To: "alice", Candidate: json.RawMessage(`{"candidate":"c1"}`)}))
	require.Eventually(t, hasType(alice, events.TypeICECandidate), wait, tick)

	hs.hub.Dispatch(alice, envelope(t, events.TypeCallEnd, events.CallEnd{To: "bob"}))
	require.Eventually(t, hasType(bob, events.TypeCallEnd), wait, tick)

	var end events.CallEnd
	require.NoError(t, bob.OfType(events.TypeCallEnd)[0].Decode(&end))
	assert.Equal(t, models.EndReasonUser, end.Reason)
	assert.Zero(t, hs.hub.Calls().ActiveCount())
}

func TestCallToOfflineUserReportsError(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")

	hs.hub.Dispatch(alice, envelope(t, events.TypeCallInitiate,
		events.CallInitiate{CalleeID: "bob", Offer: json.RawMessage(`{}`)}))
	require.Eventually(t, hasType(alice, events.TypeCallError), wait, tick)

	var callErr events.CallError
	require.NoError(t, alice.OfType(events.TypeCallError)[0].Decode(&callErr))
	assert.Equal(t, events.TypeCallInitiate, callErr.Action)
	assert.Equal(t, events.CodeCalleeOffline, callErr.Code)
	assert.Zero(t, hs.hub.Calls().ActiveCount())
}

func TestInvalidEventsAreReportedToSender(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")

	hs.hub.Dispatch(alice, events.Envelope{Type: events.TypeCallInitiate, Payload: json.RawMessage(`{"callee_id":"bob"}`)})
	require.Eventually(t, hasType(alice, events.TypeCallError), wait, tick)
	var callErr events.CallError
	require.NoError(t, alice.OfType(events.TypeCallError)[0].Decode(&callErr))
	assert.Equal(t, events.CodeInvalidPayload, callErr.Code)

	hs.hub.Dispatch(alice, events.Envelope{Type: "dance"})
	require.Eventually(t, hasType(alice, events.TypeError), wait, tick)
	var e events.Error
	require.NoError(t, alice.OfType(events.TypeError)[0].Decode(&e))
	assert.Equal(t, events.CodeUnknownEvent, e.Code)

	assert.False(t, alice.Closed(), "a bad event never closes the connection")
}

func TestDisconnectEndsCallsAndClearsTyping(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")
	bob := hs.connect(t, "bob")

	hs.hub.Dispatch(bob, envelope(t, events.TypeTyping, events.Typing{ConversationID: "c1", To: "alice", IsTyping: true}))
	require.Eventually(t, hasType(alice, events.TypeTyping), wait, tick)

	hs.hub.Dispatch(alice, envelope(t, events.TypeCallInitiate,
		events.CallInitiate{CalleeID: "bob", Offer: json.RawMessage(`{}`)}))
	require.Eventually(t, hasType(bob, events.TypeCallInitiate), wait, tick)
	alice.Reset()

	hs.hub.Disconnect(bob)

	require.Eventually(t, hasType(alice, events.TypeCallEnd), wait, tick)
	var end events.CallEnd
	require.NoError(t, alice.OfType(events.TypeCallEnd)[0].Decode(&end))
	assert.Equal(t, models.EndReasonOffline, end.Reason)

	require.Eventually(t, hasType(alice, events.TypeTyping), wait, tick)
	var typing events.Typing
	require.NoError(t, alice.OfType(events.TypeTyping)[0].Decode(&typing))
	assert.False(t, typing.IsTyping)
	assert.Equal(t, "bob", alice.OfType(events.TypeTyping)[0].From)

	require.Eventually(t, func() bool {
		for _, env := range alice.OfType(events.TypeUserStatus) {
			var st events.UserStatus
			if env.Decode(&st) == nil && st.UserID == "bob" && !st.IsOnline {
				return true
			}
		}
		return false
	}, wait, tick)
	assert.Contains(t, hs.lastSeen.written(), "bob")
	assert.True(t, bob.Closed())
}

func TestTypingRelaysOnlyChanges(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")
	bob := hs.connect(t, "bob")

	for i := 0; i < 3; i++ {
		hs.hub.Dispatch(bob, envelope(t, events.TypeTyping, events.Typing{ConversationID: "c1", To: "alice", IsTyping: true}))
	}
	hs.hub.Dispatch(bob, envelope(t, events.TypeTyping, events.Typing{ConversationID: "c1", To: "alice", IsTyping: false}))

	require.Eventually(t, func() bool { return len(alice.OfType(events.TypeTyping)) == 2 }, wait, tick)
	assert.Never(t, func() bool { return len(alice.OfType(events.TypeTyping)) > 2 }, 50*time.Millisecond, tick)
}

func TestReconnectIgnoresStaleDisconnect(t *testing.T) {
	hs := startHub(t)
	observer := hs.connect(t, "carol")
	old := hs.connect(t, "alice")
	fresh := hs.connect(t, "alice")
	require.Eventually(t, old.Closed, wait, tick)

	observer.Reset()
	hs.hub.Disconnect(old)

	assert.Never(t, func() bool {
		for _, env := range observer.OfType(events.TypeUserStatus) {
			var st events.UserStatus
			if env.Decode(&st) == nil && st.UserID == "alice" && !st.IsOnline {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, tick)
	assert.True(t, hs.hub.Registry().IsCurrent(fresh))
}

func TestRingTimeoutThroughHub(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")
	bob := hs.connect(t, "bob")

	hs.hub.Dispatch(alice, envelope(t, events.TypeCallInitiate,
		events.CallInitiate{CalleeID: "bob", Offer: json.RawMessage(`{}`)}))
	require.Eventually(t, hasType(bob, events.TypeCallInitiate), wait, tick)

	hs.clock.Add(31 * time.Second)
	require.Eventually(t, hasType(alice, events.TypeCallEnd), wait, tick)
	require.Eventually(t, hasType(bob, events.TypeCallEnd), wait, tick)

	var end events.CallEnd
	require.NoError(t, alice.OfType(events.TypeCallEnd)[0].Decode(&end))
	assert.Equal(t, models.EndReasonNoAnswer, end.Reason)
}

func TestShutdownEndsCallsAndClosesConnections(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")
	bob := hs.connect(t, "bob")

	hs.hub.Dispatch(alice, envelope(t, events.TypeCallInitiate,
		events.CallInitiate{CalleeID: "bob", Offer: json.RawMessage(`{}`)}))
	require.Eventually(t, hasType(bob, events.TypeCallInitiate), wait, tick)

	hs.cancel()
	<-hs.hub.Done()

	for _, c := range []*presencetest.Conn{alice, bob} {
		var end events.CallEnd
		frames := c.OfType(events.TypeCallEnd)
		require.Len(t, frames, 1)
		require.NoError(t, frames[0].Decode(&end))
		assert.Equal(t, models.EndReasonShutdown, end.Reason)
		assert.True(t, c.Closed())
	}
	assert.False(t, hs.hub.Connect(presencetest.NewConn("late")))
}

func TestHandleRelayed(t *testing.T) {
	hs := startHub(t)
	alice := hs.connect(t, "alice")
	hs.hub.relay = &Relay{instanceID: "self", logger: hs.hub.logger}

	frame, err := events.Encode(events.TypeNewMessage, "bob", models.Message{ID: "m1"})
	require.NoError(t, err)

	own, _ := json.Marshal(relayMessage{Origin: "self", Target: "alice", Frame: frame})
	hs.hub.handleRelayed(own)
	assert.Empty(t, alice.OfType(events.TypeNewMessage))

	remote, _ := json.Marshal(relayMessage{Origin: "other", Target: "alice", Frame: frame})
	hs.hub.handleRelayed(remote)
	assert.Len(t, alice.OfType(events.TypeNewMessage), 1)

	status, _ := json.Marshal(relayMessage{Origin: "other", Status: &events.UserStatus{UserID: "zed", IsOnline: true}})
	hs.hub.handleRelayed(status)
	assert.NotEmpty(t, alice.OfType(events.TypeUserStatus))
}
