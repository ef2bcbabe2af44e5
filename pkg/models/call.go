package models

import (
	"encoding/json"
	"time"
)

type CallState string

const (
	CallStateRinging  CallState = "ringing"
	CallStateAnswered CallState = "answered"
	CallStateActive   CallState = "active"
	CallStateEnded    CallState = "ended"
)

// End reasons carried by call-end events.
const (
	EndReasonUser       = "ended by user"
	EndReasonRejected   = "rejected"
	EndReasonTimeout    = "timeout"
	EndReasonNoAnswer   = "no answer"
	EndReasonOffline    = "offline"
	EndReasonLost       = "connection lost"
	EndReasonSuperseded = "superseded"
	EndReasonShutdown   = "server shutdown"
)

// CallAttempt is the server-side record of one call between a caller and a
// callee. Offer and Answer are opaque session descriptions.
type CallAttempt struct {
	ID            string            `json:"id"`
	CallerID      string            `json:"caller_id"`
	CalleeID      string            `json:"callee_id"`
	Offer         json.RawMessage   `json:"offer,omitempty"`
	Answer        json.RawMessage   `json:"answer,omitempty"`
	ICECandidates []json.RawMessage `json:"ice_candidates,omitempty"`
	State         CallState         `json:"state"`
	EndReason     string            `json:"end_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	AnsweredAt    time.Time         `json:"answered_at,omitempty"`
	EndedAt       time.Time         `json:"ended_at,omitempty"`
}

// Involves reports whether userID is the caller or the callee.
func (a *CallAttempt) Involves(userID string) bool {
	return a.CallerID == userID || a.CalleeID == userID
}

// Other returns the party that is not userID.
func (a *CallAttempt) Other(userID string) string {
	if a.CallerID == userID {
		return a.CalleeID
	}
	return a.CallerID
}

// Duration is the time spent after answer, zero for unanswered calls.
func (a *CallAttempt) Duration() time.Duration {
	if a.AnsweredAt.IsZero() || a.EndedAt.IsZero() {
		return 0
	}
	return a.EndedAt.Sub(a.AnsweredAt)
}
