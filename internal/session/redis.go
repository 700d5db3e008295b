package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zaimline/funnelbot/internal/models"
)

// WithRedisAddr sets the Redis server address for RedisStore.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithRedisPassword sets the Redis password for RedisStore.
func WithRedisPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithRedisDB selects the Redis database for RedisStore.
func WithRedisDB(db int) Option {
	return func(o *Opts) { o.DB = db }
}

// RedisStore keeps conversations in Redis so attribution survives process
// restarts. Values are JSON-encoded under "conv:<id>" with a TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis address not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("RedisStore ping failed", "error", err, "addr", cfg.Addr)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("RedisStore connected", "addr", cfg.Addr, "db", cfg.DB, "ttl", cfg.TTL)
	return &RedisStore{rdb: rdb, ttl: cfg.TTL}, nil
}

func convKey(userID int64) string {
	return fmt.Sprintf("conv:%d", userID)
}

// GetOrCreate loads the conversation from Redis or inserts a fresh one.
func (s *RedisStore) GetOrCreate(ctx context.Context, userID int64) (*models.Conversation, error) {
	raw, err := s.rdb.Get(ctx, convKey(userID)).Bytes()
	if err == redis.Nil {
		conv := &models.Conversation{}
		if err := s.Save(ctx, userID, conv); err != nil {
			return nil, err
		}
		slog.Debug("RedisStore created conversation", "userID", userID)
		return conv, nil
	}
	if err != nil {
		slog.Error("RedisStore GetOrCreate failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation %d: %w", userID, err)
	}

	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		// A corrupt value should not strand the user: start over.
		slog.Error("RedisStore conversation unmarshal failed, resetting", "error", err, "userID", userID)
		conv = models.Conversation{}
	}
	return &conv, nil
}

// Save writes the conversation back with a refreshed TTL.
func (s *RedisStore) Save(ctx context.Context, userID int64, conv *models.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		slog.Error("RedisStore Save marshal failed", "error", err, "userID", userID)
		return err
	}
	if err := s.rdb.Set(ctx, convKey(userID), raw, s.ttl).Err(); err != nil {
		slog.Error("RedisStore Save failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save conversation %d: %w", userID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
