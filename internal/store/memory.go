package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zaimline/funnelbot/internal/models"
)

// InMemoryRegistry is a map-backed Registry for tests and development.
type InMemoryRegistry struct {
	mu    sync.Mutex
	users map[int64]*models.RegisteredUser
	now   func() time.Time
}

// NewInMemoryRegistry creates an empty in-memory registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		users: make(map[int64]*models.RegisteredUser),
		now:   time.Now,
	}
}

// SetClock overrides the clock (for tests).
func (r *InMemoryRegistry) SetClock(now func() time.Time) {
	r.now = now
}

// UpsertSeen refreshes an existing user or inserts a new one.
func (r *InMemoryRegistry) UpsertSeen(ctx context.Context, id int64, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if u, ok := r.users[id]; ok {
		u.UpdatedAt = now
		if alias != "" {
			u.Alias = alias
		}
		return nil
	}
	r.users[id] = &models.RegisteredUser{
		ID:        id,
		Alias:     alias,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// ListPendingFollowUps returns users below the final status, oldest first.
func (r *InMemoryRegistry) ListPendingFollowUps(ctx context.Context) ([]models.RegisteredUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.RegisteredUser
	for _, u := range r.users {
		if u.MessageStatus < models.MaxMessageStatus {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AdvanceStatus sets the status and reports whether the user existed.
func (r *InMemoryRegistry) AdvanceStatus(ctx context.Context, id int64, status int) (bool, error) {
	if status < 0 || status > models.MaxMessageStatus {
		return false, models.ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	u.MessageStatus = status
	u.UpdatedAt = r.now()
	return true, nil
}

// SeedUser inserts a fully specified user record (for tests).
func (r *InMemoryRegistry) SeedUser(u models.RegisteredUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := u
	r.users[u.ID] = &copied
}

// Close is a no-op for the in-memory registry.
func (r *InMemoryRegistry) Close() error {
	return nil
}
