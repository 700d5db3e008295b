// Package store provides storage backends for the user registry.
//
// It includes an in-memory registry for tests and development, plus SQLite
// and PostgreSQL backends selected by DSN.
package store

import (
	"context"
	"strings"

	"github.com/zaimline/funnelbot/internal/models"
)

// Registry is the durable record of every user the bot has seen, together
// with the scheduled follow-up status.
type Registry interface {
	// UpsertSeen refreshes updated_at (and the alias when non-empty) for an
	// existing user, or creates the row with message status 0.
	UpsertSeen(ctx context.Context, id int64, alias string) error
	// ListPendingFollowUps returns users whose message status has not yet
	// reached the final stage, oldest accounts first.
	ListPendingFollowUps(ctx context.Context) ([]models.RegisteredUser, error)
	// AdvanceStatus unconditionally sets the message status and bumps
	// updated_at, reporting whether a row was affected. It is the only
	// writer of the status column and is always called with current+1.
	AdvanceStatus(ctx context.Context, id int64, status int) (bool, error)
	// Close releases the backend.
	Close() error
}

// Opts holds registry backend configuration.
type Opts struct {
	DSN string
}

// Option configures a registry backend.
type Option func(*Opts)

// WithDSN sets the database DSN (SQLite file path or Postgres URL).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite3"
// for everything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
