package db

import (
	"strings"

	"github.com/phiacta/phiacta/errors"
)

// ErrDatabaseClosed marks operations attempted after the connection was
// closed, usually a shutdown race between the outbox worker and main.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is gone. The
// sqlite3 driver surfaces this as its own error types, so string matching
// is the only portable classification.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "sql: database is closed")
}

// IsUniqueViolation checks if an error is a SQLite UNIQUE constraint
// failure. The sqlite3 driver reports these as its own error type, so a
// message check is the portable way to classify them; callers map the
// result onto errors.ErrConflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
