package store

import (
	"database/sql"
	"fmt"

	"github.com/zaimline/funnelbot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanUser scans a RegisteredUser from sql.Rows.
func scanUser(rows *sql.Rows) (models.RegisteredUser, error) {
	var u models.RegisteredUser
	var alias sql.NullString
	if err := rows.Scan(&u.ID, &alias, &u.CreatedAt, &u.UpdatedAt, &u.MessageStatus); err != nil {
		return u, fmt.Errorf("scan user failed: %w", err)
	}
	u.Alias = alias.String
	return u, nil
}
