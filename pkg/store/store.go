// Package store persists users, login sessions, conversations and messages.
// Two drivers implement the same Store interface: Postgres for deployments
// and an in-memory map for tests and single-binary demos.
package store

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/models"
)

type UserStore interface {
	// CreateUser fills ID and timestamps. ErrUsernameTaken if the name exists.
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
	UpdateUserLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, session *models.UserSession) error
	GetSession(ctx context.Context, sessionID string) (*models.UserSession, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
	// DeleteExpiredSessions removes sessions idle since before and returns
	// how many were removed.
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// ConversationStore is the boundary the real-time layer consumes.
type ConversationStore interface {
	// FindOrCreateConversation returns the single conversation for an
	// unordered pair of participants, creating it if needed. Racing
	// creators converge on one row.
	FindOrCreateConversation(ctx context.Context, participantIDs []string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	// ListConversations returns userID's conversations with LastMessage and
	// UnreadCount filled, most recently active first.
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	// AppendMessage stores a message. A replyTo that does not name a message
	// in the same conversation is dropped rather than failing the send.
	AppendMessage(ctx context.Context, conversationID, senderID, content string, replyTo *string) (*models.Message, error)
	// ListMessages pages backwards from the newest message. Page 1 holds the
	// newest limit messages; each page is returned in chronological order.
	ListMessages(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error)
	// MarkRead adds readerID to ReadBy of every message in the conversation
	// not sent by readerID and returns the ids that actually changed.
	MarkRead(ctx context.Context, conversationID, readerID string) ([]string, error)
}

type Store interface {
	UserStore
	SessionStore
	ConversationStore
	Close() error
}

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMemory   Driver = "memory"
)

// NewStore opens the store selected by driver. rdb is optional; when set the
// Postgres driver caches conversation lists in Redis.
func NewStore(ctx context.Context, driver Driver, db config.DatabaseConfig, rdb *redis.Client, logger *slog.Logger) (Store, error) {
	switch driver {
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, db, NewCache(rdb, logger), logger)
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil

	case DriverMemory:
		logger.Info("Using in-memory store")
		return NewMemoryStore(clock.New(), logger), nil

	default:
		return nil, ErrInvalidStoreType
	}
}

// participantPair validates a two-party participant list and returns it in
// canonical order.
func participantPair(ids []string) (string, string, error) {
	if len(ids) != 2 || ids[0] == "" || ids[1] == "" || ids[0] == ids[1] {
		return "", "", ErrInvalidParticipants
	}
	pair := []string{ids[0], ids[1]}
	sort.Strings(pair)
	return pair[0], pair[1], nil
}

func sortByActivity(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].ActivityAt().After(convs[j].ActivityAt())
	})
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	return page, limit
}

const DefaultPageSize = 20
