package store

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// Store provides entity persistence over a SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// New creates a new entity store.
func New(db *sql.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database for callers that need to compose
// their own transaction boundaries (the bundle pipeline).
func (s *Store) DB() *sql.DB {
	return s.db
}

// execer abstracts *sql.DB and *sql.Tx so every write can run either
// standalone or inside a bundle transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
