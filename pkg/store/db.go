package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/msniranjan18/chit-call/config"
)

const connectAttempts = 5

type PostgresStore struct {
	DB     *sql.DB
	cache  *Cache
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, cache *Cache, logger *slog.Logger) (*PostgresStore, error) {
	var db *sql.DB
	var err error

	logger.Info("Initializing store", "postgres_conn", cfg.URL[:min(len(cfg.URL), 50)])

	for i := 0; i < connectAttempts; i++ {
		db, err = sql.Open("postgres", cfg.URL)
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				logger.Info("PostgreSQL connection successful", "attempt", i+1)
				break
			}
			db.Close()
		}
		logger.Warn("Waiting for PostgreSQL...", "attempt", i+1, "max_attempts", connectAttempts, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL", "error", err)
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	logger.Debug("PostgreSQL connection pool configured",
		"max_open_conns", cfg.MaxOpenConns, "max_idle_conns", cfg.MaxIdleConns, "max_idle_time", cfg.MaxIdleTime)

	return &PostgresStore{DB: db, cache: cache, logger: logger}, nil
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	s.logger.Info("Initializing database schema")

	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			display_name VARCHAR(100) NOT NULL,
			password_hash TEXT NOT NULL,
			last_seen TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen);

		CREATE TABLE IF NOT EXISTS user_sessions (
			session_id UUID PRIMARY KEY,
			user_id UUID REFERENCES users(id) ON DELETE CASCADE,
			device_info TEXT,
			ip_address TEXT,
			last_active TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_user_sessions_last_active ON user_sessions(last_active);

		-- One row per unordered pair; user_low < user_high is the canonical order.
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			user_low UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_high UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_low, user_high),
			CHECK (user_low < user_high)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_high ON conversations(user_high);

		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			reply_to UUID REFERENCES messages(id) ON DELETE SET NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id UUID REFERENCES messages(id) ON DELETE CASCADE,
			user_id UUID REFERENCES users(id) ON DELETE CASCADE,
			read_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_message_reads_user_id ON message_reads(user_id);
	`

	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		s.logger.Error("Failed to initialize schema", "error", err)
		return fmt.Errorf("init schema: %w", err)
	}

	s.logger.Info("Database schema initialized successfully")
	return nil
}

func (s *PostgresStore) Close() error {
	s.logger.Info("Closing store connections")

	if err := s.DB.Close(); err != nil {
		s.logger.Error("Failed to close PostgreSQL connection", "error", err)
		return fmt.Errorf("postgres close: %w", err)
	}

	s.logger.Info("Store connections closed successfully")
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a Postgres foreign_key_violation.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// isInvalidText reports whether err is a Postgres invalid_text_representation,
// which is what a malformed UUID produces.
func isInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
