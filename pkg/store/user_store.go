package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/msniranjan18/chit-call/pkg/models"
)

const userColumns = `id, username, display_name, password_hash, last_seen, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }, user *models.User) error {
	return row.Scan(
		&user.ID, &user.Username, &user.DisplayName, &user.PasswordHash,
		&user.LastSeen, &user.CreatedAt, &user.UpdatedAt,
	)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	s.logger.Info("Creating user", "username", user.Username)

	now := time.Now().UTC()
	user.ID = uuid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastSeen = now

	query := `
		INSERT INTO users (id, username, display_name, password_hash, last_seen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.DB.ExecContext(ctx, query,
		user.ID, user.Username, user.DisplayName, user.PasswordHash,
		user.LastSeen, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		s.logger.Error("Failed to create user", "error", err, "username", user.Username)
		return err
	}

	s.logger.Info("User created successfully", "user_id", user.ID, "username", user.Username)
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	s.logger.Debug("Getting user by ID", "user_id", userID)

	user := &models.User{}
	err := scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID), user)
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get user by ID", "error", err, "user_id", userID)
		return nil, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.logger.Debug("Getting user by username", "username", username)

	user := &models.User{}
	err := scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username), user)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get user by username", "error", err, "username", username)
		return nil, err
	}
	return user, nil
}

func (s *PostgresStore) SearchUsers(ctx context.Context, queryStr string, limit int) ([]models.User, error) {
	s.logger.Info("Searching users", "query", queryStr, "limit", limit)

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username ILIKE $1 OR display_name ILIKE $1
		ORDER BY username
		LIMIT $2`

	rows, err := s.DB.QueryContext(ctx, query, "%"+queryStr+"%", limit)
	if err != nil {
		s.logger.Error("Failed to search users", "error", err, "query", queryStr)
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			s.logger.Error("Failed to scan user row", "error", err)
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("User search completed", "query", queryStr, "results", len(users))
	return users, nil
}

// UpdateUserLastSeen only moves last_seen forward; a late write from an older
// disconnect is ignored.
func (s *PostgresStore) UpdateUserLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	s.logger.Debug("Updating user last seen", "user_id", userID, "last_seen", lastSeen)

	query := `
		UPDATE users SET last_seen = $1
		WHERE id = $2 AND (last_seen IS NULL OR last_seen < $1)`
	_, err := s.DB.ExecContext(ctx, query, lastSeen, userID)
	if err != nil {
		s.logger.Error("Failed to update user last seen", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.UserSession) error {
	s.logger.Info("Creating user session", "user_id", session.UserID, "session_id", session.SessionID)

	now := time.Now().UTC()
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	session.CreatedAt = now
	session.LastActive = now

	query := `
		INSERT INTO user_sessions (session_id, user_id, device_info, ip_address, last_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.DB.ExecContext(ctx, query,
		session.SessionID, session.UserID, session.DeviceInfo[:min(len(session.DeviceInfo), 255)],
		session.IPAddress, session.LastActive, session.CreatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to create user session",
			"error", err, "user_id", session.UserID, "session_id", session.SessionID)
		return err
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*models.UserSession, error) {
	query := `
		SELECT session_id, user_id, COALESCE(device_info, ''), COALESCE(ip_address, ''), last_active, created_at
		FROM user_sessions WHERE session_id = $1`

	session := &models.UserSession{}
	err := s.DB.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID, &session.UserID, &session.DeviceInfo,
		&session.IPAddress, &session.LastActive, &session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get user session", "error", err, "session_id", sessionID)
		return nil, err
	}
	return session, nil
}

func (s *PostgresStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE user_sessions SET last_active = $1 WHERE session_id = $2`, at, sessionID)
	if err != nil {
		s.logger.Error("Failed to touch user session", "error", err, "session_id", sessionID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.logger.Info("Deleting user session", "session_id", sessionID)

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM user_sessions WHERE session_id = $1`, sessionID); err != nil {
		s.logger.Error("Failed to delete user session", "error", err, "session_id", sessionID)
		return err
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM user_sessions WHERE last_active < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
