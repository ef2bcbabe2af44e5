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

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, senderID, content string, replyTo *string) (*models.Message, error) {
	s.logger.Info("Saving message",
		"conversation_id", conversationID, "sender_id", senderID, "has_reply", replyTo != nil)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction for AppendMessage", "error", err)
		return nil, err
	}
	defer tx.Rollback()

	var low, high string
	err = tx.QueryRowContext(ctx,
		`SELECT user_low, user_high FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&low, &high)
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to lock conversation", "error", err, "conversation_id", conversationID)
		return nil, err
	}

	if replyTo != nil {
		ok, err := replyTargetExists(ctx, tx, conversationID, *replyTo)
		if err != nil {
			s.logger.Error("Failed to check reply target", "error", err, "reply_to", *replyTo)
			return nil, err
		}
		if !ok {
			s.logger.Debug("Dropping reply to missing message", "reply_to", *replyTo)
			replyTo = nil
		}
	}

	now := time.Now().UTC()
	message := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
		ReadBy:         []string{senderID},
		ReplyTo:        replyTo,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at, reply_to)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		message.ID, message.ConversationID, message.SenderID, message.Content, message.CreatedAt, message.ReplyTo,
	)
	if err != nil {
		s.logger.Error("Failed to insert message",
			"error", err, "conversation_id", conversationID, "sender_id", senderID)
		return nil, err
	}

	// The sender has always read their own message.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)`,
		message.ID, senderID, now,
	)
	if err != nil {
		s.logger.Error("Failed to insert sender read row", "error", err, "message_id", message.ID)
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, now, conversationID)
	if err != nil {
		s.logger.Error("Failed to update conversation activity", "error", err, "conversation_id", conversationID)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction for AppendMessage", "error", err)
		return nil, err
	}

	s.cache.InvalidateConversations(ctx, low, high)

	s.logger.Info("Message saved successfully",
		"message_id", message.ID, "conversation_id", conversationID, "sender_id", senderID)
	return message, nil
}

func replyTargetExists(ctx context.Context, tx *sql.Tx, conversationID, messageID string) (bool, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return false, nil
	}
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2)`,
		messageID, conversationID,
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error) {
	page, limit = normalizePage(page, limit)
	s.logger.Debug("Listing messages", "conversation_id", conversationID, "page", page, "limit", limit)

	// One extra row tells whether an older page exists.
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.reply_to,
		       ARRAY(SELECT r.user_id::text FROM message_reads r WHERE r.message_id = m.id ORDER BY r.read_at)
		FROM messages m
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.DB.QueryContext(ctx, query, conversationID, limit+1, (page-1)*limit)
	if isInvalidText(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to list messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit+1)
	for rows.Next() {
		var (
			msg     models.Message
			replyTo sql.NullString
		)
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
			&replyTo, pq.Array(&msg.ReadBy),
		)
		if err != nil {
			s.logger.Error("Failed to scan message row", "error", err)
			return nil, err
		}
		msg.ReplyTo = nullStringPtr(replyTo)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &models.MessagePage{Messages: messages, Page: page, Limit: limit, HasMore: hasMore}, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	s.logger.Debug("Marking messages read", "conversation_id", conversationID, "reader_id", readerID)

	rows, err := s.DB.QueryContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, $3 FROM messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO NOTHING
		RETURNING message_id`,
		conversationID, readerID, time.Now().UTC(),
	)
	if isInvalidText(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to mark messages read",
			"error", err, "conversation_id", conversationID, "reader_id", readerID)
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if conv, err := s.GetConversation(ctx, conversationID); err == nil {
			s.cache.InvalidateConversations(ctx, conv.ParticipantIDs...)
		} else {
			s.cache.InvalidateConversations(ctx, readerID)
		}
		s.logger.Info("Messages marked read",
			"conversation_id", conversationID, "reader_id", readerID, "count", len(ids))
	}
	return ids, nil
}
