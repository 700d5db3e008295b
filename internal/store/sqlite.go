// SQLite-backed user registry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zaimline/funnelbot/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteRegistry stores users in a SQLite database file.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (creating if needed) the SQLite database at the
// DSN path and applies migrations.
func NewSQLiteRegistry(opts ...Option) (*SQLiteRegistry, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteRegistry invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("SQLiteRegistry DSN not set")
		return nil, models.ErrEmptyDSN
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if err := migrateSQLite(db); err != nil {
		return nil, err
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteRegistry{db: db}, nil
}

// migrateSQLite applies the base schema, then the message_status revision.
// SQLite has no ADD COLUMN IF NOT EXISTS, so a duplicate-column error on
// re-run is expected and ignored.
func migrateSQLite(db *sql.DB) error {
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run base migration", "error", err)
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	_, err := db.Exec(`ALTER TABLE users ADD COLUMN message_status INTEGER NOT NULL DEFAULT 0`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		slog.Error("Failed to run message_status migration", "error", err)
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// UpsertSeen updates an existing row, inserting it when no row matched.
func (r *SQLiteRegistry) UpsertSeen(ctx context.Context, id int64, alias string) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET updated_at = ?, alias = COALESCE(NULLIF(?, ''), alias)
		WHERE id = ?`, now, alias, id)
	if err != nil {
		slog.Error("SQLiteRegistry UpsertSeen update failed", "error", err, "id", id)
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		slog.Debug("SQLiteRegistry UpsertSeen updated", "id", id)
		return nil
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, alias, created_at, updated_at, message_status)
		VALUES (?, ?, ?, ?, 0)`, id, nilIfEmpty(alias), now, now)
	if err != nil {
		slog.Error("SQLiteRegistry UpsertSeen insert failed", "error", err, "id", id)
		return fmt.Errorf("failed to insert user %d: %w", id, err)
	}
	slog.Info("SQLiteRegistry registered new user", "id", id, "alias_set", alias != "")
	return nil
}

// ListPendingFollowUps returns users below the final status, oldest first.
func (r *SQLiteRegistry) ListPendingFollowUps(ctx context.Context) ([]models.RegisteredUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alias, created_at, updated_at, message_status
		FROM users
		WHERE message_status < ?
		ORDER BY created_at ASC`, models.MaxMessageStatus)
	if err != nil {
		slog.Error("SQLiteRegistry ListPendingFollowUps query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending users: %w", err)
	}
	defer rows.Close()

	var users []models.RegisteredUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			slog.Error("SQLiteRegistry ListPendingFollowUps scan failed", "error", err)
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteRegistry ListPendingFollowUps rows iteration failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteRegistry ListPendingFollowUps succeeded", "count", len(users))
	return users, nil
}

// AdvanceStatus sets the message status and reports whether a row changed.
func (r *SQLiteRegistry) AdvanceStatus(ctx context.Context, id int64, status int) (bool, error) {
	if status < 0 || status > models.MaxMessageStatus {
		return false, models.ErrInvalidStatus
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET message_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteRegistry AdvanceStatus failed", "error", err, "id", id, "status", status)
		return false, fmt.Errorf("failed to advance status for user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("SQLiteRegistry AdvanceStatus", "id", id, "status", status, "affected", affected)
	return affected > 0, nil
}

// Close closes the SQLite database connection.
func (r *SQLiteRegistry) Close() error {
	slog.Debug("Closing SQLite database connection")
	return r.db.Close()
}
