package models

import (
	"time"
)

// Message is immutable once stored except for ReadBy, which only grows.
// The sender is always a member of ReadBy.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	SenderID       string    `json:"sender_id" db:"sender_id"`
	Content        string    `json:"content" db:"content"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	ReadBy         []string  `json:"read_by" db:"-"`
	ReplyTo        *string   `json:"reply_to,omitempty" db:"reply_to"`
}

// IsReadBy reports whether userID is in ReadBy.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// AddReader adds userID to ReadBy and reports whether it was new.
func (m *Message) AddReader(userID string) bool {
	if m.IsReadBy(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

type MessageRequest struct {
	ConversationID string  `json:"conversation_id"`
	Content        string  `json:"content"`
	ReplyTo        *string `json:"reply_to,omitempty"`
	// ClientID is an opaque correlation id chosen by the sender; it is echoed
	// back in the response and never stored.
	ClientID string `json:"client_id,omitempty"`
}

type MessageResponse struct {
	Message  Message `json:"message"`
	ClientID string  `json:"client_id,omitempty"`
}

// MessagePage is one page of a backwards-paginated history. Messages are in
// chronological order; page 1 holds the newest messages.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	HasMore  bool      `json:"has_more"`
}

type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadBy         string    `json:"read_by"`
	ReadAt         time.Time `json:"read_at"`
}
