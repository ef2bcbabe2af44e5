// Package events defines the websocket wire protocol shared by the server and
// the client SDK. Every frame is an Envelope whose Type selects exactly one
// payload struct; inbound frames are decoded and validated here before any
// handler sees them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/msniranjan18/chit-call/pkg/models"
)

type Type string

const (
	TypeCallInitiate Type = "call-initiate"
	TypeCallAnswer   Type = "call-answer"
	TypeICECandidate Type = "ice-candidate"
	TypeCallEnd      Type = "call-end"
	TypeCallReject   Type = "call-reject"
	TypeCallError    Type = "call-error"
	TypeTyping       Type = "typing"
	TypeOnlineUsers  Type = "online-users"
	TypeUserStatus   Type = "user-status-update"
	TypeNewMessage   Type = "new-message"
	TypeMessagesRead Type = "messages-read"
	TypeError        Type = "error"
)

// Envelope is a single websocket frame. From is stamped by the server with the
// authenticated sender; any client-supplied value is discarded.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"`
}

// New wraps payload into an envelope of type t.
func New(t Type, from string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data, From: from}, nil
}

// Encode returns the wire form of an envelope of type t.
func Encode(t Type, from string, payload any) ([]byte, error) {
	env, err := New(t, from, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if isEmpty(e.Payload) {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidPayload, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
	}
	return nil
}

// CallInitiate starts a call. Inbound it names the callee; relayed to the
// callee it carries the server-assigned CallID.
type CallInitiate struct {
	CalleeID string          `json:"callee_id,omitempty"`
	CallID   string          `json:"call_id,omitempty"`
	Offer    json.RawMessage `json:"offer"`
}

type CallAnswer struct {
	// To optionally selects the caller when several calls ring at once.
	To     string          `json:"to,omitempty"`
	CallID string          `json:"call_id,omitempty"`
	Answer json.RawMessage `json:"answer"`
}

type ICECandidate struct {
	To        string          `json:"to,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallEnd struct {
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type CallReject struct {
	To string `json:"to,omitempty"`
}

type Typing struct {
	ConversationID string `json:"conversation_id"`
	To             string `json:"to,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

type OnlineUsers struct {
	UserIDs []string `json:"user_ids"`
}

type UserStatus struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// CallError reports a signaling action that could not be carried out.
type CallError struct {
	Action  Type   `json:"action"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Call error codes.
const (
	CodeCalleeOffline  = "callee_offline"
	CodeNoPendingCall  = "no_pending_call"
	CodePeerOffline    = "peer_offline"
	CodeInvalidPayload = "invalid_payload"
	CodeSelfCall       = "self_call"
	CodeUnknownEvent   = "unknown_event"
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage and MessagesRead reuse the storage models on the wire.
type (
	NewMessage   = models.Message
	MessagesRead = models.ReadReceipt
)

func isEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
