// Package outbox implements the consistency outbox: a durable work queue
// that guarantees eventual, retried application of store-side writes to an
// external system. Entries move pending -> processing -> completed, or
// back to pending with backoff, or to failed after max_attempts.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phiacta/phiacta/errors"
)

// Entry status values
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Entry is one unit of deferred external work.
type Entry struct {
	ID          string          `json:"id"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	RetryAfter  *time.Time      `json:"retry_after,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Store persists outbox entries.
type Store struct {
	db          *sql.DB
	maxAttempts int
	backoffCap  time.Duration
	logger      *zap.SugaredLogger
}

// NewStore creates an outbox store with the given retry policy.
func NewStore(db *sql.DB, maxAttempts, backoffCapSeconds int, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffCapSeconds < 1 {
		backoffCapSeconds = 60
	}
	return &Store{
		db:          db,
		maxAttempts: maxAttempts,
		backoffCap:  time.Duration(backoffCapSeconds) * time.Second,
		logger:      logger,
	}
}

// Enqueue inserts a pending entry.
func (s *Store) Enqueue(ctx context.Context, operation string, payload any) (string, error) {
	return s.enqueue(ctx, s.db, operation, payload)
}

// EnqueueTx inserts a pending entry inside an existing transaction, so the
// entry commits atomically with the write it mirrors.
func (s *Store) EnqueueTx(ctx context.Context, tx *sql.Tx, operation string, payload any) (string, error) {
	return s.enqueue(ctx, tx, operation, payload)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) enqueue(ctx context.Context, q execer, operation string, payload any) (string, error) {
	if operation == "" {
		return "", errors.New("outbox operation must not be empty")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal outbox payload")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox (id, operation, payload, status, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		id, operation, string(data), StatusPending, s.maxAttempts, now, now,
	)
	if err != nil {
		return "", errors.Wrap(err, "enqueue outbox entry")
	}
	return id, nil
}

// ClaimNext atomically claims the oldest due pending entry, moving it to
// processing and incrementing its attempt counter. Returns nil, nil when
// nothing is due. The conditional update guarantees no two workers claim
// the same entry.
func (s *Store) ClaimNext(ctx context.Context) (*Entry, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin claim tx")
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM outbox
		WHERE status = ? AND (retry_after IS NULL OR retry_after <= ?)
		ORDER BY created_at ASC
		LIMIT 1`, StatusPending, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select next outbox entry")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE outbox
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusProcessing, now, id, StatusPending,
	)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox entry")
	}
	if n == 0 {
		// Another worker won the race.
		return nil, nil
	}

	entry, err := getEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit claim tx")
	}
	return entry, nil
}

// Get returns an entry by id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	return getEntry(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntry(ctx context.Context, q querier, id string) (*Entry, error) {
	var e Entry
	var payload string
	var lastError sql.NullString
	var retryAfter, processedAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, operation, payload, status, attempts, max_attempts,
			last_error, retry_after, processed_at, created_at, updated_at
		FROM outbox WHERE id = ?`, id).Scan(
		&e.ID, &e.Operation, &payload, &e.Status, &e.Attempts, &e.MaxAttempts,
		&lastError, &retryAfter, &processedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "outbox entry %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query outbox entry")
	}

	e.Payload = json.RawMessage(payload)
	e.LastError = lastError.String
	if retryAfter.Valid {
		t := retryAfter.Time
		e.RetryAfter = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return &e, nil
}

// MarkCompleted finishes an entry.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, processed_at = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, now, now, id,
	)
	if err != nil {
		return errors.Wrap(err, "mark outbox entry completed")
	}
	return nil
}

// MarkFailure records a failed attempt. Below the attempt cap the entry
// goes back to pending with capped exponential backoff; at the cap it is
// terminally failed. Returns true when the failure is terminal.
func (s *Store) MarkFailure(ctx context.Context, e *Entry, attemptErr error) (terminal bool, err error) {
	now := time.Now().UTC()
	msg := attemptErr.Error()

	if e.Attempts >= e.MaxAttempts {
		_, err := s.db.ExecContext(ctx, `
			UPDATE outbox SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			StatusFailed, msg, now, e.ID,
		)
		if err != nil {
			return false, errors.Wrap(err, "mark outbox entry failed")
		}
		s.logger.Errorw("Outbox entry terminally failed",
			"entry_id", e.ID,
			"operation", e.Operation,
			"attempts", e.Attempts,
			"error", msg,
		)
		return true, nil
	}

	retryAfter := now.Add(s.backoff(e.Attempts))
	_, err = s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, last_error = ?, retry_after = ?, updated_at = ? WHERE id = ?`,
		StatusPending, msg, retryAfter, now, e.ID,
	)
	if err != nil {
		return false, errors.Wrap(err, "mark outbox entry for retry")
	}
	s.logger.Warnw("Outbox entry will retry",
		"entry_id", e.ID,
		"operation", e.Operation,
		"attempts", e.Attempts,
		"retry_after", retryAfter,
		"error", msg,
	)
	return false, nil
}

// backoff is min(2^attempts seconds, cap).
func (s *Store) backoff(attempts int) time.Duration {
	if attempts > 30 {
		return s.backoffCap
	}
	d := time.Duration(math.Pow(2, float64(attempts))) * time.Second
	if d > s.backoffCap {
		return s.backoffCap
	}
	return d
}

// PendingCount reports how many entries are waiting.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE status = ?`, StatusPending).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count pending outbox entries")
	}
	return n, nil
}
