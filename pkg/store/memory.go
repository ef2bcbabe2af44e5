package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/msniranjan18/chit-call/pkg/models"
)

type memConversation struct {
	conv     models.Conversation
	messages []*models.Message // chronological
}

// MemoryStore implements Store with mutex-guarded maps. Values handed out are
// copies.
type MemoryStore struct {
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.RWMutex
	users         map[string]*models.User
	usernames     map[string]string
	sessions      map[string]*models.UserSession
	conversations map[string]*memConversation
	pairs         map[[2]string]string
	messages      map[string]*models.Message
}

func NewMemoryStore(clk clock.Clock, logger *slog.Logger) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:         clk,
		logger:        logger,
		users:         make(map[string]*models.User),
		usernames:     make(map[string]string),
		sessions:      make(map[string]*models.UserSession),
		conversations: make(map[string]*memConversation),
		pairs:         make(map[[2]string]string),
		messages:      make(map[string]*models.Message),
	}
}

func (s *MemoryStore) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, taken := s.usernames[key]; taken {
		return ErrUsernameTaken
	}

	now := s.now()
	user.ID = uuid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastSeen = now

	u := *user
	s.users[u.ID] = &u
	s.usernames[key] = u.ID
	s.logger.Info("User created successfully", "user_id", u.ID, "username", u.Username)
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, query string, limit int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	users := []models.User{}
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryStore) UpdateUserLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok && u.LastSeen.Before(lastSeen) {
		u.LastSeen = lastSeen
	}
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, session *models.UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	session.CreatedAt = now
	session.LastActive = now

	cp := *session
	s.sessions[cp.SessionID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.UserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.LastActive = at
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.sessions {
		if sess.LastActive.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindOrCreateConversation(_ context.Context, participantIDs []string) (*models.Conversation, error) {
	low, high, err := participantPair(participantIDs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{low, high}
	if id, ok := s.pairs[key]; ok {
		return s.conversationLocked(s.conversations[id], ""), nil
	}

	now := s.now()
	mc := &memConversation{conv: models.Conversation{
		ID:             uuid.New().String(),
		ParticipantIDs: []string{low, high},
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	s.conversations[mc.conv.ID] = mc
	s.pairs[key] = mc.conv.ID

	s.logger.Info("Conversation created", "conversation_id", mc.conv.ID, "user_low", low, "user_high", high)
	return s.conversationLocked(mc, ""), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.conversationLocked(mc, ""), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := []models.Conversation{}
	for _, mc := range s.conversations {
		if mc.conv.HasParticipant(userID) {
			convs = append(convs, *s.conversationLocked(mc, userID))
		}
	}
	sortByActivity(convs)
	return convs, nil
}

// conversationLocked copies mc. A non-empty viewer fills LastMessage and the
// viewer's UnreadCount.
func (s *MemoryStore) conversationLocked(mc *memConversation, viewer string) *models.Conversation {
	conv := mc.conv
	conv.ParticipantIDs = append([]string(nil), mc.conv.ParticipantIDs...)
	if viewer == "" {
		return &conv
	}

	if n := len(mc.messages); n > 0 {
		last := copyMessage(mc.messages[n-1])
		conv.LastMessage = &last
	}
	for _, m := range mc.messages {
		if m.SenderID != viewer && !m.IsReadBy(viewer) {
			conv.UnreadCount++
		}
	}
	return &conv
}

func (s *MemoryStore) AppendMessage(_ context.Context, conversationID, senderID, content string, replyTo *string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	if replyTo != nil {
		target, ok := s.messages[*replyTo]
		if !ok || target.ConversationID != conversationID {
			s.logger.Debug("Dropping reply to missing message", "reply_to", *replyTo)
			replyTo = nil
		} else {
			id := *replyTo
			replyTo = &id
		}
	}

	now := s.now()
	// Keep per-conversation order strictly increasing even if the clock is not.
	if n := len(mc.messages); n > 0 && !now.After(mc.messages[n-1].CreatedAt) {
		now = mc.messages[n-1].CreatedAt.Add(time.Microsecond)
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
		ReadBy:         []string{senderID},
		ReplyTo:        replyTo,
	}
	mc.messages = append(mc.messages, msg)
	mc.conv.UpdatedAt = now
	s.messages[msg.ID] = msg

	s.logger.Info("Message saved successfully",
		"message_id", msg.ID, "conversation_id", conversationID, "sender_id", senderID)
	out := copyMessage(msg)
	return &out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, page, limit int) (*models.MessagePage, error) {
	page, limit = normalizePage(page, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	total := len(mc.messages)
	end := total - (page-1)*limit
	start := end - limit
	if start < 0 {
		start = 0
	}

	messages := []models.Message{}
	if end > 0 {
		for _, m := range mc.messages[start:end] {
			messages = append(messages, copyMessage(m))
		}
	}

	return &models.MessagePage{
		Messages: messages,
		Page:     page,
		Limit:    limit,
		HasMore:  start > 0,
	}, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, readerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	ids := []string{}
	for _, m := range mc.messages {
		if m.SenderID == readerID {
			continue
		}
		if m.AddReader(readerID) {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyMessage(m *models.Message) models.Message {
	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	if m.ReplyTo != nil {
		id := *m.ReplyTo
		cp.ReplyTo = &id
	}
	return cp
}
