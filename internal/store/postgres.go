// PostgreSQL-backed user registry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/zaimline/funnelbot/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresRegistry stores users in PostgreSQL.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry connects to PostgreSQL and applies migrations.
func NewPostgresRegistry(opts ...Option) (*PostgresRegistry, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresRegistry invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresRegistry DSN not set")
		return nil, models.ErrEmptyDSN
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresRegistry{db: db}, nil
}

// UpsertSeen updates an existing row, inserting it when no row matched.
// Update-first keeps created_at immutable; the narrow insert race for a
// brand-new id is accepted at this contention level.
func (r *PostgresRegistry) UpsertSeen(ctx context.Context, id int64, alias string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET updated_at = now(), alias = COALESCE(NULLIF($2, ''), alias)
		WHERE id = $1`, id, alias)
	if err != nil {
		slog.Error("PostgresRegistry UpsertSeen update failed", "error", err, "id", id)
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		slog.Debug("PostgresRegistry UpsertSeen updated", "id", id)
		return nil
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, alias, message_status)
		VALUES ($1, $2, 0)`, id, nilIfEmpty(alias))
	if err != nil {
		slog.Error("PostgresRegistry UpsertSeen insert failed", "error", err, "id", id)
		return fmt.Errorf("failed to insert user %d: %w", id, err)
	}
	slog.Info("PostgresRegistry registered new user", "id", id, "alias_set", alias != "")
	return nil
}

// ListPendingFollowUps returns users below the final status, oldest first.
func (r *PostgresRegistry) ListPendingFollowUps(ctx context.Context) ([]models.RegisteredUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alias, created_at, updated_at, message_status
		FROM users
		WHERE message_status < $1
		ORDER BY created_at ASC`, models.MaxMessageStatus)
	if err != nil {
		slog.Error("PostgresRegistry ListPendingFollowUps query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending users: %w", err)
	}
	defer rows.Close()

	var users []models.RegisteredUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			slog.Error("PostgresRegistry ListPendingFollowUps scan failed", "error", err)
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresRegistry ListPendingFollowUps rows iteration failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresRegistry ListPendingFollowUps succeeded", "count", len(users))
	return users, nil
}

// AdvanceStatus sets the message status and reports whether a row changed.
func (r *PostgresRegistry) AdvanceStatus(ctx context.Context, id int64, status int) (bool, error) {
	if status < 0 || status > models.MaxMessageStatus {
		return false, models.ErrInvalidStatus
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET message_status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		slog.Error("PostgresRegistry AdvanceStatus failed", "error", err, "id", id, "status", status)
		return false, fmt.Errorf("failed to advance status for user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("PostgresRegistry AdvanceStatus", "id", id, "status", status, "affected", affected)
	return affected > 0, nil
}

// Close closes the Postgres connection pool.
func (r *PostgresRegistry) Close() error {
	slog.Debug("Closing Postgres connection pool")
	return r.db.Close()
}
