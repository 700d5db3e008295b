// Package session keeps per-user conversation state for the funnel.
//
// State lives for the lifetime of a funnel pass and is not part of the
// durable user registry. Two backends are provided: a bounded in-process
// LRU with TTL, and Redis for deployments that want state to survive
// restarts.
package session

import (
	"context"
	"log/slog"

	"github.com/zaimline/funnelbot/internal/models"
)

// Store is the pluggable conversation state backend.
type Store interface {
	// GetOrCreate returns the existing conversation for the user, or a fresh
	// empty one after inserting it.
	GetOrCreate(ctx context.Context, userID int64) (*models.Conversation, error)
	// Save persists a mutated conversation.
	Save(ctx context.Context, userID int64, conv *models.Conversation) error
}

// Manager implements the conversation state operations over a Store backend.
type Manager struct {
	store Store
}

// NewManager creates a Manager backed by the given Store.
func NewManager(store Store) *Manager {
	slog.Debug("Creating session Manager")
	return &Manager{store: store}
}

// GetOrCreate returns the user's conversation, creating it when absent.
func (m *Manager) GetOrCreate(ctx context.Context, userID int64) (*models.Conversation, error) {
	return m.store.GetOrCreate(ctx, userID)
}

// EnsureInitialized applies attribution defaults: the subject falls back to
// fallbackSubject when unset, and the channel becomes a defined (possibly
// empty) value. Calling it repeatedly never overwrites already-set values.
func (m *Manager) EnsureInitialized(ctx context.Context, userID int64, fallbackSubject string) (*models.Conversation, error) {
	conv, err := m.store.GetOrCreate(ctx, userID)
	if err != nil {
		slog.Error("EnsureInitialized get error", "error", err, "userID", userID)
		return nil, err
	}
	changed := false
	if conv.Subject == "" {
		conv.Subject = fallbackSubject
		changed = true
	}
	if !conv.Initialized {
		conv.Initialized = true
		changed = true
	}
	if changed {
		if err := m.store.Save(ctx, userID, conv); err != nil {
			slog.Error("EnsureInitialized save error", "error", err, "userID", userID)
			return nil, err
		}
	}
	slog.Debug("EnsureInitialized", "userID", userID, "subject", conv.Subject, "changed", changed)
	return conv, nil
}

// RecordDelivery stores the id of the message just delivered to the user so
// the next reply can delete it first.
func (m *Manager) RecordDelivery(ctx context.Context, userID int64, messageID int) error {
	conv, err := m.store.GetOrCreate(ctx, userID)
	if err != nil {
		slog.Error("RecordDelivery get error", "error", err, "userID", userID)
		return err
	}
	conv.LastMessageID = messageID
	if err := m.store.Save(ctx, userID, conv); err != nil {
		slog.Error("RecordDelivery save error", "error", err, "userID", userID)
		return err
	}
	slog.Debug("RecordDelivery", "userID", userID, "messageID", messageID)
	return nil
}

// Update fetches the user's conversation, applies fn to it and saves the
// result. Funnel step handlers use it for all state mutation.
func (m *Manager) Update(ctx context.Context, userID int64, fn func(*models.Conversation)) (*models.Conversation, error) {
	conv, err := m.store.GetOrCreate(ctx, userID)
	if err != nil {
		slog.Error("Update get error", "error", err, "userID", userID)
		return nil, err
	}
	fn(conv)
	if err := m.store.Save(ctx, userID, conv); err != nil {
		slog.Error("Update save error", "error", err, "userID", userID)
		return nil, err
	}
	return conv, nil
}
