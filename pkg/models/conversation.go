package models

import (
	"time"
)

// Conversation is a two-party conversation. ParticipantIDs is always sorted
// so the pair has one canonical form.
type Conversation struct {
	ID             string    `json:"id" db:"id"`
	ParticipantIDs []string  `json:"participant_ids" db:"-"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
	LastMessage    *Message  `json:"last_message,omitempty" db:"-"`
	UnreadCount    int       `json:"unread_count,omitempty" db:"-"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID string) string {
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// ActivityAt is the ordering key for conversation lists: the later of the
// last message time and UpdatedAt.
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}

type ConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
