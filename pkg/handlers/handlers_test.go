package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/store"
)

type pushed struct {
	To      string
	Type    events.Type
	From    string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []pushed
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, t events.Type, from string, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, pushed{To: userID, Type: t, From: from, Payload: payload})
	return true
}

func (n *recordingNotifier) ofType(t events.Type) []pushed {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []pushed
	for _, p := range n.pushes {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

type staticPresence map[string]bool

func (p staticPresence) IsOnline(userID string) bool { return p[userID] }

func (p staticPresence) Snapshot() []string {
	var ids []string
	for id, on := range p {
		if on {
			ids = append(ids, id)
		}
	}
	return ids
}

type testServer struct {
	srv      *httptest.Server
	store    *store.MemoryStore
	notifier *recordingNotifier
	presence staticPresence
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	auth.InitJWT("handlers-test-secret", time.Hour)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore(clock.New(), logger)
	notifier := &recordingNotifier{}
	presence := staticPresence{}

	authHandler := NewAuthHandler(st, logger)
	userHandler := NewUserHandler(st, presence, logger)
	convHandler := NewConversationHandler(st, st, notifier, logger)
	msgHandler := NewMessageHandler(st, notifier, config.MessagesConfig{PageSize: 20, MaxPageSize: 50}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/auth/refresh", authHandler.RefreshToken)
	api.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	api.HandleFunc("GET /api/auth/verify", authHandler.Verify)
	api.HandleFunc("GET /api/users/me", userHandler.GetCurrentUser)
	api.HandleFunc("GET /api/users/search", userHandler.SearchUsers)
	api.HandleFunc("GET /api/users/online", userHandler.GetOnlineUsers)
	api.HandleFunc("GET /api/users/{id}", userHandler.GetUser)
	api.HandleFunc("GET /api/conversations", convHandler.GetConversations)
	api.HandleFunc("POST /api/conversations", convHandler.CreateConversation)
	api.HandleFunc("GET /api/conversations/{id}", convHandler.GetConversation)
	api.HandleFunc("POST /api/conversations/{id}/read", convHandler.MarkRead)
	api.HandleFunc("GET /api/messages", msgHandler.GetMessages)
	api.HandleFunc("POST /api/messages", msgHandler.SendMessage)
	mux.Handle("/api/", auth.AuthMiddleware(st)(api))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: st, notifier: notifier, presence: presence}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) register(t *testing.T, username string) models.AuthResponse {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{
		Username: username, Password: "correct horse", DisplayName: username,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.AuthResponse](t, resp)
}

func (ts *testServer) open(t *testing.T, token, peerID string) models.Conversation {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/conversations", token, models.ConversationRequest{ParticipantID: peerID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[models.Conversation](t, resp)
}

func TestRegisterLoginLogout(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.register(t, "alice")
	assert.NotEmpty(t, alice.Token)
	assert.Equal(t, "alice", alice.User.Username)

	dup := ts.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{Username: "Alice", Password: "another password"})
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	short := ts.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{Username: "bob", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, short.StatusCode)

	bad := ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Username: "alice", Password: "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	login := ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Username: "alice", Password: "correct horse"})
	require.Equal(t, http.StatusOK, login.StatusCode)
	session := decode[models.AuthResponse](t, login)

	verify := ts.do(t, http.MethodGet, "/api/auth/verify", session.Token, nil)
	require.Equal(t, http.StatusOK, verify.StatusCode)
	assert.Equal(t, alice.User.ID, decode[models.User](t, verify).ID)

	refresh := ts.do(t, http.MethodPost, "/api/auth/refresh", session.Token, nil)
	require.Equal(t, http.StatusOK, refresh.StatusCode)

	logout := ts.do(t, http.MethodPost, "/api/auth/logout", session.Token, nil)
	require.Equal(t, http.StatusOK, logout.StatusCode)

	revoked := ts.do(t, http.MethodGet, "/api/auth/verify", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, revoked.StatusCode)

	other := ts.do(t, http.MethodGet, "/api/auth/verify", alice.Token, nil)
	assert.Equal(t, http.StatusOK, other.StatusCode, "logout revokes only its own session")
}

func TestUsersReportPresence(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")
	ts.presence[bob.User.ID] = true

	resp := ts.do(t, http.MethodGet, "/api/users/"+bob.User.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.User](t, resp).IsOnline)

	missing := ts.do(t, http.MethodGet, "/api/users/nobody", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	online := ts.do(t, http.MethodGet, "/api/users/online", alice.Token, nil)
	require.Equal(t, http.StatusOK, online.StatusCode)
	assert.Equal(t, []string{bob.User.ID}, decode[models.OnlineUsersResponse](t, online).UserIDs)

	search := ts.do(t, http.MethodGet, "/api/users/search?q=b", alice.Token, nil)
	require.Equal(t, http.StatusOK, search.StatusCode)
	found := decode[[]models.User](t, search)
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].Username)

	anon := ts.do(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)
}

func TestConversationIsSharedByPair(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")
	carol := ts.register(t, "carol")

	first := ts.open(t, alice.Token, bob.User.ID)
	second := ts.open(t, bob.Token, alice.User.ID)
	assert.Equal(t, first.ID, second.ID)

	self := ts.do(t, http.MethodPost, "/api/conversations", alice.Token, models.ConversationRequest{ParticipantID: alice.User.ID})
	assert.Equal(t, http.StatusBadRequest, self.StatusCode)

	ghost := ts.do(t, http.MethodPost, "/api/conversations", alice.Token, models.ConversationRequest{ParticipantID: "ghost"})
	assert.Equal(t, http.StatusNotFound, ghost.StatusCode)

	outsider := ts.do(t, http.MethodGet, "/api/conversations/"+first.ID, carol.Token, nil)
	assert.Equal(t, http.StatusNotFound, outsider.StatusCode)

	member := ts.do(t, http.MethodGet, "/api/conversations/"+first.ID, bob.Token, nil)
	assert.Equal(t, http.StatusOK, member.StatusCode)
}

func TestSendMessageEchoesClientIDAndNotifiesPeer(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")
	conv := ts.open(t, alice.Token, bob.User.ID)

	resp := ts.do(t, http.MethodPost, "/api/messages", alice.Token, models.MessageRequest{
		ConversationID: conv.ID, Content: "hello", ClientID: "tmp-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[models.MessageResponse](t, resp)
	assert.Equal(t, "tmp-1", sent.ClientID)
	assert.Equal(t, "hello", sent.Message.Content)
	assert.Equal(t, []string{alice.User.ID}, sent.Message.ReadBy)

	pushes := ts.notifier.ofType(events.TypeNewMessage)
	require.Len(t, pushes, 1)
	assert.Equal(t, bob.User.ID, pushes[0].To, "only the peer is notified")
	assert.Equal(t, alice.User.ID, pushes[0].From)

	empty := ts.do(t, http.MethodPost, "/api/messages", alice.Token, models.MessageRequest{ConversationID: conv.ID, Content: "   "})
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)

	carol := ts.register(t, "carol")
	intruder := ts.do(t, http.MethodPost, "/api/messages", carol.Token, models.MessageRequest{ConversationID: conv.ID, Content: "hi"})
	assert.Equal(t, http.StatusNotFound, intruder.StatusCode)
	assert.Len(t, ts.notifier.ofType(events.TypeNewMessage), 1)
}

func TestGetMessagesPagesBackwards(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")
	conv := ts.open(t, alice.Token, bob.User.ID)

	for i := 1; i <= 25; i++ {
		resp := ts.do(t, http.MethodPost, "/api/messages", alice.Token, models.MessageRequest{
			ConversationID: conv.ID, Content: fmt.Sprintf("m%d", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	first := decode[models.MessagePage](t, ts.do(t, http.MethodGet, "/api/messages?conversation_id="+conv.ID, bob.Token, nil))
	require.Len(t, first.Messages, 20)
	assert.True(t, first.HasMore)
	assert.Equal(t, "m6", first.Messages[0].Content)
	assert.Equal(t, "m25", first.Messages[19].Content)

	second := decode[models.MessagePage](t, ts.do(t, http.MethodGet, "/api/messages?conversation_id="+conv.ID+"&page=2", bob.Token, nil))
	require.Len(t, second.Messages, 5)
	assert.False(t, second.HasMore)
	assert.Equal(t, "m1", second.Messages[0].Content)

	capped := decode[models.MessagePage](t, ts.do(t, http.MethodGet, "/api/messages?conversation_id="+conv.ID+"&limit=500", bob.Token, nil))
	assert.Equal(t, 50, capped.Limit)
	assert.Len(t, capped.Messages, 25)
}

func TestMarkReadNotifiesSenderOnce(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")
	conv := ts.open(t, alice.Token, bob.User.ID)

	for _, text := range []string{"one", "two"} {
		ts.do(t, http.MethodPost, "/api/messages", alice.Token, models.MessageRequest{ConversationID: conv.ID, Content: text})
	}

	resp := ts.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/read", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	receipt := decode[models.ReadReceipt](t, resp)
	assert.Len(t, receipt.MessageIDs, 2)
	assert.Equal(t, bob.User.ID, receipt.ReadBy)

	again := ts.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/read", bob.Token, nil)
	require.Equal(t, http.StatusOK, again.StatusCode)
	assert.Empty(t, decode[models.ReadReceipt](t, again).MessageIDs)

	pushes := ts.notifier.ofType(events.TypeMessagesRead)
	require.Len(t, pushes, 1)
	assert.Equal(t, alice.User.ID, pushes[0].To)

	list := decode[models.ConversationListResponse](t, ts.do(t, http.MethodGet, "/api/conversations", bob.Token, nil))
	require.Len(t, list.Conversations, 1)
	assert.Zero(t, list.Conversations[0].UnreadCount)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, "two", list.Conversations[0].LastMessage.Content)
}

func TestGetIPAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", getIPAddress(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getIPAddress(r))
}
