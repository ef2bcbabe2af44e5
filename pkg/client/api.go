// Package client is the Go SDK for the chit-call server: a REST client, a
// websocket socket, optimistic message delivery, history pagination and the
// per-call WebRTC session controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msniranjan18/chit-call/pkg/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// API talks to the REST endpoints. It is safe for concurrent use.
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (a *API) BaseURL() string { return a.baseURL }

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Register creates an account and keeps the returned token.
func (a *API) Register(ctx context.Context, username, password, displayName string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/register", models.RegisterRequest{
		Username: username, Password: password, DisplayName: displayName,
	}, &out)
	if err != nil {
		return nil, err
	}
	a.SetToken(out.Token)
	return &out, nil
}

// Login authenticates and keeps the returned token.
func (a *API) Login(ctx context.Context, username, password string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	a.SetToken(out.Token)
	return &out, nil
}

func (a *API) Logout(ctx context.Context) error {
	if err := a.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	a.SetToken("")
	return nil
}

func (a *API) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := a.do(ctx, http.MethodGet, "/api/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) User(ctx context.Context, userID string) (*models.User, error) {
	var out models.User
	if err := a.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) OnlineUsers(ctx context.Context) ([]string, error) {
	var out models.OnlineUsersResponse
	if err := a.do(ctx, http.MethodGet, "/api/users/online", nil, &out); err != nil {
		return nil, err
	}
	return out.UserIDs, nil
}

func (a *API) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var out []models.User
	if err := a.do(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenConversation returns the conversation with peerID, creating it on
// first use.
func (a *API) OpenConversation(ctx context.Context, peerID string) (*models.Conversation, error) {
	var out models.Conversation
	if err := a.do(ctx, http.MethodPost, "/api/conversations", models.ConversationRequest{ParticipantID: peerID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out models.ConversationListResponse
	if err := a.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (a *API) SendMessage(ctx context.Context, req models.MessageRequest) (*models.MessageResponse, error) {
	var out models.MessageResponse
	if err := a.do(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Messages(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("page", strconv.Itoa(page))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out models.MessagePage
	if err := a.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) MarkRead(ctx context.Context, conversationID string) (*models.ReadReceipt, error) {
	var out models.ReadReceipt
	if err := a.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
