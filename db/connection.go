// Package db manages the Phiacta SQLite database: connection settings,
// embedded schema migrations, and driver-level error classification.
package db

import (
	"database/sql"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/phiacta/phiacta/errors"
)

func init() {
	// Register the sqlite-vec extension with the sqlite3 driver so every
	// connection can use vec0 virtual tables and vec_distance_L2.
	sqlite_vec.Auto()
}

// Open opens the SQLite database at path with WAL journaling, foreign
// keys enforced, and a 5s busy timeout.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "apply %s", pragma)
		}
	}

	if logger != nil {
		logger.Debugw("Database opened", "path", path)
	}
	return db, nil
}
