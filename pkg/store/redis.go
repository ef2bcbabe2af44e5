package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/models"
)

const conversationsTTL = 10 * time.Minute

// InitRedis connects to Redis. A rediss:// URL enables TLS.
func InitRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}

	opt.PoolSize = 100
	opt.MinIdleConns = 10
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis connected successfully", "addr", opt.Addr, "db", opt.DB)
	return client, nil
}

// Cache is a read-through cache for per-user conversation lists. A nil
// client turns every method into a miss or a no-op.
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewCache(rdb *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, logger: logger}
}

func userConversationsKey(userID string) string {
	return fmt.Sprintf("conversations:%s", userID)
}

func (c *Cache) enabled() bool {
	return c != nil && c.rdb != nil
}

func (c *Cache) CacheConversations(ctx context.Context, userID string, convs []models.Conversation) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(convs)
	if err != nil {
		c.logger.Warn("Failed to encode conversations for cache", "error", err, "user_id", userID)
		return
	}
	if err := c.rdb.Set(ctx, userConversationsKey(userID), data, conversationsTTL).Err(); err != nil {
		c.logger.Warn("Failed to cache conversations", "error", err, "user_id", userID)
	}
}

// GetCachedConversations returns nil, false on a miss.
func (c *Cache) GetCachedConversations(ctx context.Context, userID string) ([]models.Conversation, bool) {
	if !c.enabled() {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, userConversationsKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read conversation cache", "error", err, "user_id", userID)
		}
		return nil, false
	}

	var convs []models.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		c.logger.Warn("Discarding corrupt conversation cache", "error", err, "user_id", userID)
		return nil, false
	}
	return convs, true
}

func (c *Cache) InvalidateConversations(ctx context.Context, userIDs ...string) {
	if !c.enabled() || len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = userConversationsKey(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Failed to invalidate conversation cache", "error", err, "user_ids", userIDs)
	}
}
