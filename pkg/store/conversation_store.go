package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/msniranjan18/chit-call/pkg/models"
)

func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	low, high, err := participantPair(participantIDs)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Finding or creating conversation", "user_low", low, "user_high", high)

	conv := &models.Conversation{ParticipantIDs: []string{low, high}}
	now := time.Now().UTC()

	// Losers of a concurrent insert get no row back and read the winner's.
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO conversations (id, user_low, user_high, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_low, user_high) DO NOTHING
		RETURNING id, created_at, updated_at`,
		uuid.New().String(), low, high, now,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)

	switch {
	case err == nil:
		s.logger.Info("Conversation created", "conversation_id", conv.ID, "user_low", low, "user_high", high)
		s.cache.InvalidateConversations(ctx, low, high)
		return conv, nil
	case errors.Is(err, sql.ErrNoRows):
	case isForeignKeyViolation(err) || isInvalidText(err):
		return nil, ErrNotFound
	default:
		s.logger.Error("Failed to insert conversation", "error", err, "user_low", low, "user_high", high)
		return nil, err
	}

	err = s.DB.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at FROM conversations
		WHERE user_low = $1 AND user_high = $2`,
		low, high,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		s.logger.Error("Failed to load existing conversation", "error", err, "user_low", low, "user_high", high)
		return nil, err
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var low, high string
	conv := &models.Conversation{}

	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_low, user_high, created_at, updated_at
		FROM conversations WHERE id = $1`,
		conversationID,
	).Scan(&conv.ID, &low, &high, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get conversation", "error", err, "conversation_id", conversationID)
		return nil, err
	}

	conv.ParticipantIDs = []string{low, high}
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	if convs, ok := s.cache.GetCachedConversations(ctx, userID); ok {
		s.logger.Debug("Conversation list served from cache", "user_id", userID)
		return convs, nil
	}

	query := `
		SELECT c.id, c.user_low, c.user_high, c.created_at, c.updated_at,
		       lm.id, lm.sender_id, lm.content, lm.created_at, lm.reply_to,
		       ARRAY(SELECT r.user_id::text FROM message_reads r WHERE r.message_id = lm.id),
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id <> $1
		           AND NOT EXISTS (
		               SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $1))
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT id, sender_id, content, created_at, reply_to
			FROM messages WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.user_low = $1 OR c.user_high = $1
		ORDER BY GREATEST(c.updated_at, COALESCE(lm.created_at, c.updated_at)) DESC`

	rows, err := s.DB.QueryContext(ctx, query, userID)
	if isInvalidText(err) {
		return []models.Conversation{}, nil
	}
	if err != nil {
		s.logger.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		var (
			conv      models.Conversation
			low, high string
			msgID     sql.NullString
			senderID  sql.NullString
			content   sql.NullString
			sentAt    sql.NullTime
			replyTo   sql.NullString
			readBy    []string
		)
		err := rows.Scan(
			&conv.ID, &low, &high, &conv.CreatedAt, &conv.UpdatedAt,
			&msgID, &senderID, &content, &sentAt, &replyTo,
			pq.Array(&readBy), &conv.UnreadCount,
		)
		if err != nil {
			s.logger.Error("Failed to scan conversation row", "error", err)
			return nil, err
		}

		conv.ParticipantIDs = []string{low, high}
		if msgID.Valid {
			conv.LastMessage = &models.Message{
				ID:             msgID.String,
				ConversationID: conv.ID,
				SenderID:       senderID.String,
				Content:        content.String,
				CreatedAt:      sentAt.Time,
				ReadBy:         readBy,
				ReplyTo:        nullStringPtr(replyTo),
			}
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache.CacheConversations(ctx, userID, convs)
	s.logger.Debug("Conversations listed", "user_id", userID, "count", len(convs))
	return convs, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
