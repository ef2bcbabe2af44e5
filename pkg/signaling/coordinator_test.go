package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/presence"
	"github.com/msniranjan18/chit-call/pkg/presence/presencetest"
)

var (
	offer     = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	answerSDP = json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
)

type fixture struct {
	clock    *clock.Mock
	registry *presence.Registry
	coord    *Coordinator
	conns    map[string]*presencetest.Conn
}

func newFixture(t *testing.T, online ...string) *fixture {
	t.Helper()
	mock := clock.NewMock()
	registry := presence.NewRegistry(mock)
	f := &fixture{
		clock:    mock,
		registry: registry,
		coord: NewCoordinator(registry, slog.New(slog.NewTextHandler(io.Discard, nil)),
			WithClock(mock), WithRingTimeout(30*time.Second)),
		conns: make(map[string]*presencetest.Conn),
	}
	for _, u := range online {
		f.connect(u)
	}
	return f
}

func (f *fixture) connect(userID string) *presencetest.Conn {
	c := presencetest.NewConn(userID)
	f.registry.Register(userID, c)
	f.conns[userID] = c
	return c
}

func endReasons(t *testing.T, conn *presencetest.Conn) []string {
	t.Helper()
	var reasons []string
	for _, env := range conn.OfType(events.TypeCallEnd) {
		var end events.CallEnd
		require.NoError(t, env.Decode(&end))
		reasons = append(reasons, end.Reason)
	}
	return reasons
}

func TestInitiateOfflineCalleeCreatesNothing(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.ErrorIs(t, err, ErrCalleeOffline)

	assert.Zero(t, f.coord.ActiveCount())
	_, ok := f.coord.Attempt("alice")
	assert.False(t, ok)

	f.clock.Add(time.Minute)
	assert.Empty(t, f.conns["alice"].Envelopes(), "no timer may fire for a call that was never created")
}

func TestInitiateSelfCall(t *testing.T) {
	f := newFixture(t, "alice")
	_, err := f.coord.Initiate("alice", "alice", offer)
	assert.ErrorIs(t, err, ErrSelfCall)
}

func TestInitiateRelaysOffer(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	attempt, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	assert.Equal(t, models.CallStateRinging, attempt.State)

	got := f.conns["bob"].OfType(events.TypeCallInitiate)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].From)

	var relayed events.CallInitiate
	require.NoError(t, got[0].Decode(&relayed))
	assert.Equal(t, attempt.ID, relayed.CallID)
	assert.JSONEq(t, string(offer), string(relayed.Offer))
}

func TestAnswerClearsRingTimeout(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	f.clock.Add(10 * time.Second)

	attempt, err := f.coord.Answer("bob", "", answerSDP)
	require.NoError(t, err)
	assert.Equal(t, models.CallStateAnswered, attempt.State)
	require.Len(t, f.conns["alice"].OfType(events.TypeCallAnswer), 1)

	f.clock.Add(time.Minute)
	assert.Never(t, func() bool {
		return len(f.conns["alice"].OfType(events.TypeCallEnd)) > 0 ||
			len(f.conns["bob"].OfType(events.TypeCallEnd)) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	live, ok := f.coord.Attempt("alice")
	require.True(t, ok)
	assert.Equal(t, models.CallStateAnswered, live.State)
}

func TestAnswerWithoutRingingCall(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Answer("bob", "", answerSDP)
	assert.ErrorIs(t, err, ErrNoPendingCall)

	_, err = f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	_, err = f.coord.Answer("bob", "", answerSDP)
	require.NoError(t, err)

	_, err = f.coord.Answer("bob", "", answerSDP)
	assert.ErrorIs(t, err, ErrNoPendingCall, "an answered call cannot be answered again")
}

func TestAnswerToDepartedCaller(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	f.registry.Unregister(f.conns["alice"])

	attempt, err := f.coord.Answer("bob", "alice", answerSDP)
	require.ErrorIs(t, err, ErrPeerOffline)
	assert.Equal(t, models.CallStateEnded, attempt.State)
	assert.Zero(t, f.coord.ActiveCount())
}

func TestRingTimeoutNotifiesBothParties(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)

	f.clock.Add(29 * time.Second)
	assert.Empty(t, f.conns["bob"].OfType(events.TypeCallEnd))

	f.clock.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.conns["alice"].OfType(events.TypeCallEnd)) == 1 &&
			len(f.conns["bob"].OfType(events.TypeCallEnd)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{models.EndReasonNoAnswer}, endReasons(t, f.conns["alice"]))
	assert.Equal(t, []string{models.EndReasonTimeout}, endReasons(t, f.conns["bob"]))
	assert.Zero(t, f.coord.ActiveCount())
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	_, err = f.coord.Answer("bob", "alice", answerSDP)
	require.NoError(t, err)

	assert.True(t, f.coord.End("alice", "bob", ""))
	assert.False(t, f.coord.End("bob", "alice", models.EndReasonUser), "racing hangup from the other side")
	assert.False(t, f.coord.End("alice", "bob", ""))

	assert.Equal(t, []string{models.EndReasonUser}, endReasons(t, f.conns["bob"]))
	assert.Empty(t, endReasons(t, f.conns["alice"]))
}

func TestRejectIsIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)

	assert.True(t, f.coord.Reject("bob", ""))
	assert.False(t, f.coord.Reject("bob", "alice"))
	assert.Len(t, f.conns["alice"].OfType(events.TypeCallReject), 1)

	f.clock.Add(time.Minute)
	assert.Never(t, func() bool {
		return len(f.conns["alice"].OfType(events.TypeCallEnd)) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSecondInitiateSupersedesFirst(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	first, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	second, err := f.coord.Initiate("alice", "carol", offer)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, []string{models.EndReasonSuperseded}, endReasons(t, f.conns["bob"]))
	assert.Equal(t, 1, f.coord.ActiveCount())

	_, err = f.coord.Answer("bob", "alice", answerSDP)
	assert.ErrorIs(t, err, ErrNoPendingCall)

	f.clock.Add(31 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.conns["carol"].OfType(events.TypeCallEnd)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.conns["bob"].OfType(events.TypeCallEnd), 1, "the superseded timer must not fire")
}

func TestRelayICECandidate(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	_, err = f.coord.Answer("bob", "", answerSDP)
	require.NoError(t, err)

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`)
	assert.True(t, f.coord.RelayICECandidate("bob", "alice", cand))

	got := f.conns["alice"].OfType(events.TypeICECandidate)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].From)

	attempt, ok := f.coord.Attempt("alice")
	require.True(t, ok)
	assert.Equal(t, models.CallStateActive, attempt.State)
	assert.Len(t, attempt.ICECandidates, 1)

	f.registry.Unregister(f.conns["alice"])
	assert.False(t, f.coord.RelayICECandidate("bob", "alice", cand))
}

func TestDropUserEndsCalls(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)

	assert.Equal(t, 1, f.coord.DropUser("bob"))
	assert.Equal(t, []string{models.EndReasonOffline}, endReasons(t, f.conns["alice"]))
	assert.Zero(t, f.coord.DropUser("bob"))
}

func TestShutdownEndsEveryCall(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol", "dave")

	_, err := f.coord.Initiate("alice", "bob", offer)
	require.NoError(t, err)
	_, err = f.coord.Initiate("carol", "dave", offer)
	require.NoError(t, err)

	assert.Equal(t, 2, f.coord.Shutdown())
	for _, u := range []string{"alice", "bob", "carol", "dave"} {
		assert.Equal(t, []string{models.EndReasonShutdown}, endReasons(t, f.conns[u]), u)
	}
}
