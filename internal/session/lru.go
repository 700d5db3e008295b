package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zaimline/funnelbot/internal/models"
)

// Defaults for the in-process conversation cache. Eviction only forgets
// attribution for long-idle users, who re-enter the funnel via /start.
const (
	DefaultCapacity = 16384
	DefaultTTL      = 72 * time.Hour
)

// Opts holds backend configuration shared by the session stores.
type Opts struct {
	Capacity int
	TTL      time.Duration
	Addr     string
	Password string
	DB       int
}

// Option configures a session store.
type Option func(*Opts)

// WithCapacity bounds the number of conversations kept in memory.
func WithCapacity(n int) Option {
	return func(o *Opts) { o.Capacity = n }
}

// WithTTL sets how long an idle conversation is retained.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// LRUStore is the default in-process backend: a bounded LRU with TTL.
type LRUStore struct {
	cache *expirable.LRU[int64, *models.Conversation]
}

// NewLRUStore creates a bounded in-process conversation store.
func NewLRUStore(opts ...Option) *LRUStore {
	cfg := Opts{Capacity: DefaultCapacity, TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating LRUStore", "capacity", cfg.Capacity, "ttl", cfg.TTL)
	return &LRUStore{
		cache: expirable.NewLRU[int64, *models.Conversation](cfg.Capacity, nil, cfg.TTL),
	}
}

// GetOrCreate returns the cached conversation or inserts a fresh one.
func (s *LRUStore) GetOrCreate(ctx context.Context, userID int64) (*models.Conversation, error) {
	if conv, ok := s.cache.Get(userID); ok {
		return conv, nil
	}
	conv := &models.Conversation{}
	s.cache.Add(userID, conv)
	slog.Debug("LRUStore created conversation", "userID", userID, "len", s.cache.Len())
	return conv, nil
}

// Save refreshes the entry. Callers share the pointer returned by
// GetOrCreate, so this mainly resets the TTL.
func (s *LRUStore) Save(ctx context.Context, userID int64, conv *models.Conversation) error {
	s.cache.Add(userID, conv)
	return nil
}

// Len reports how many conversations are currently cached.
func (s *LRUStore) Len() int {
	return s.cache.Len()
}
