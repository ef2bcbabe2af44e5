package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/hub"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/routes"
	"github.com/msniranjan18/chit-call/pkg/store"
)

type testServer struct {
	URL string
	Hub *hub.Hub
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Load()
	logger := discardLogger()
	auth.InitJWT("integration-secret", time.Hour)

	st := store.NewMemoryStore(clock.New(), logger)
	h := hub.NewHub(st, hub.Options{WebSocket: cfg.WebSocket, RingTimeout: cfg.Call.RingTimeout}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(routes.NewRouter(h, st, cfg, logger))
	t.Cleanup(func() {
		cancel()
		<-h.Done()
		srv.Close()
	})
	return &testServer{URL: srv.URL, Hub: h}
}

type peer struct {
	User     models.User
	API      *API
	Socket   *Socket
	Delivery *Delivery
	Calls    *CallController
	Peers    *fakeFactory
	Notes    *Notifications
}

func connectPeer(t *testing.T, srv *testServer, username string) *peer {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()

	api := NewAPI(srv.URL, nil)
	resp, err := api.Register(ctx, username, "password123", "")
	require.NoError(t, err)

	sock, err := Dial(ctx, srv.URL, api.Token(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	notes := NewNotifications()
	p := &peer{
		User:     resp.User,
		API:      api,
		Socket:   sock,
		Delivery: NewDelivery(api, resp.User.ID, NewConversationList(resp.User.ID), notes, nil, logger),
		Peers:    &fakeFactory{},
		Notes:    notes,
	}
	p.Calls = NewCallController(sock, &fakeMedia{}, p.Peers, notes, logger, WithLocalUser(resp.User.ID))
	p.Delivery.Bind(sock)
	p.Calls.Bind(sock)

	require.Eventually(t, func() bool { return srv.Hub.Registry().IsOnline(resp.User.ID) },
		2*time.Second, 10*time.Millisecond)
	return p
}

func TestMessageReachesPeerOnce(t *testing.T) {
	srv := startServer(t)
	alice := connectPeer(t, srv, "alice")
	bob := connectPeer(t, srv, "bob")
	ctx := context.Background()

	received := make(chan struct{}, 4)
	bob.Socket.On(events.TypeNewMessage, func(events.Envelope) { received <- struct{}{} })

	conv, err := alice.API.OpenConversation(ctx, bob.User.ID)
	require.NoError(t, err)

	_, err = alice.Delivery.Send(ctx, conv.ID, "hi", nil)
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the message")
	}
	require.Eventually(t, func() bool { return bob.Delivery.List(conv.ID).Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(received) > 0 }, 100*time.Millisecond, 10*time.Millisecond, "delivered exactly once")

	got := bob.Delivery.List(conv.ID).Entries()[0]
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, alice.User.ID, got.SenderID)

	sent := alice.Delivery.List(conv.ID).Entries()
	require.Len(t, sent, 1)
	assert.Equal(t, got.ID, sent[0].ID)
	assert.Equal(t, StatusSent, sent[0].Status)

	// Bob reads; alice sees the receipt.
	receipt, err := bob.API.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{got.ID}, receipt.MessageIDs)
	require.Eventually(t, func() bool {
		e, ok := alice.Delivery.List(conv.ID).Get(got.ID)
		return ok && e.IsReadBy(bob.User.ID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCallSignalingThroughServer(t *testing.T) {
	srv := startServer(t)
	alice := connectPeer(t, srv, "alice")
	bob := connectPeer(t, srv, "bob")
	ctx := context.Background()

	ringing := make(chan CallInfo, 1)
	bob.Calls.OnIncoming(func(info CallInfo) { ringing <- info })

	require.NoError(t, alice.Calls.Call(ctx, bob.User.ID, false))

	var incoming CallInfo
	select {
	case incoming = <-ringing:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never rang")
	}
	assert.Equal(t, alice.User.ID, incoming.PeerID)
	assert.NotEmpty(t, incoming.CallID)

	require.NoError(t, bob.Calls.Accept(ctx, false))
	require.Eventually(t, func() bool { return alice.Calls.State() == CallConnecting }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, incoming.CallID, alice.Calls.Info().CallID)

	alice.Calls.Hangup()
	require.Eventually(t, func() bool {
		return bob.Calls.State() == CallIdle && bob.Calls.Info().EndReason == models.EndReasonUser
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, bob.Notes.List(), "a normal hangup raises no notification")
	assert.Equal(t, 1, bob.Peers.last().closeCount())
}

func TestCallToOfflineUser(t *testing.T) {
	srv := startServer(t)
	alice := connectPeer(t, srv, "alice")

	api := NewAPI(srv.URL, nil)
	carol, err := api.Register(context.Background(), "carol", "password123", "")
	require.NoError(t, err)

	require.NoError(t, alice.Calls.Call(context.Background(), carol.User.ID, false))
	require.Eventually(t, func() bool { return alice.Calls.State() == CallIdle }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.EndReasonOffline, alice.Calls.Info().EndReason)
}
