package store

import (
	"context"
	"log/slog"
	"time"
)

// StartCleanupWorker deletes login sessions idle for longer than maxAge every
// interval until ctx is cancelled.
func StartCleanupWorker(ctx context.Context, sessions SessionStore, interval, maxAge time.Duration, logger *slog.Logger) {
	logger.Info("Starting cleanup worker", "interval", interval, "max_age", maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cleanup worker stopped")
			return
		case <-ticker.C:
		}

		logger.Debug("Running cleanup cycle")
		rows, err := sessions.DeleteExpiredSessions(ctx, time.Now().Add(-maxAge))
		if err != nil {
			logger.Error("Error cleaning up sessions", "error", err)
			continue
		}
		if rows > 0 {
			logger.Debug("Cleaned up expired sessions", "deleted_rows", rows)
		}
	}
}
