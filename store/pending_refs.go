package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/errors"
)

// CreatePendingReferenceTx records a forward reference to a claim that does
// not exist yet, inside the ingestion transaction. createdBy is the agent
// asserting the deferred relationship; the materialized edge carries it.
func (s *Store) CreatePendingReferenceTx(ctx context.Context, tx *sql.Tx, sourceClaimID, externalRef, edgeType, createdBy string) (*PendingReference, error) {
	if externalRef == "" {
		return nil, errors.Wrap(errors.ErrValidation, "pending reference external ref must not be empty")
	}

	ref := &PendingReference{
		ID:            uuid.NewString(),
		SourceClaimID: sourceClaimID,
		ExternalRef:   externalRef,
		EdgeType:      edgeType,
		CreatedBy:     createdBy,
		Status:        PendingStatusPending,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_references (id, source_claim_id, external_ref, edge_type, created_by, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.SourceClaimID, ref.ExternalRef, ref.EdgeType, ref.CreatedBy, ref.Status, ref.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert pending reference")
	}
	return ref, nil
}

// PendingByExternalRef returns unresolved references waiting on the given
// external identifier, oldest first.
func (s *Store) PendingByExternalRef(ctx context.Context, externalRef string) ([]*PendingReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_claim_id, external_ref, edge_type, created_by, status, resolved_to, created_at, resolved_at
		FROM pending_references
		WHERE external_ref = ? AND status = ?
		ORDER BY created_at ASC`, externalRef, PendingStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "query pending references")
	}
	defer rows.Close()
	return scanPendingReferences(rows)
}

// PendingForClaim returns all references originating from a claim version,
// whatever their status.
func (s *Store) PendingForClaim(ctx context.Context, sourceClaimID string) ([]*PendingReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_claim_id, external_ref, edge_type, created_by, status, resolved_to, created_at, resolved_at
		FROM pending_references
		WHERE source_claim_id = ?
		ORDER BY created_at ASC`, sourceClaimID)
	if err != nil {
		return nil, errors.Wrap(err, "query pending references")
	}
	defer rows.Close()
	return scanPendingReferences(rows)
}

// ResolvePendingReference marks a pending reference resolved to a concrete
// claim. Only pending references can transition; anything else is
// ErrInvalidState.
func (s *Store) ResolvePendingReference(ctx context.Context, id, claimID string) error {
	return s.resolvePendingReference(ctx, s.db, id, claimID)
}

// ResolvePendingReferenceTx is ResolvePendingReference inside an existing
// transaction.
func (s *Store) ResolvePendingReferenceTx(ctx context.Context, tx *sql.Tx, id, claimID string) error {
	return s.resolvePendingReference(ctx, tx, id, claimID)
}

func (s *Store) resolvePendingReference(ctx context.Context, q execer, id, claimID string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE pending_references
		SET status = ?, resolved_to = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		PendingStatusResolved, claimID, time.Now().UTC(), id, PendingStatusPending,
	)
	if err != nil {
		return errors.Wrap(err, "resolve pending reference")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "resolve pending reference")
	}
	if n == 0 {
		var status string
		err := q.QueryRowContext(ctx, `SELECT status FROM pending_references WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(errors.ErrNotFound, "pending reference %s", id)
		}
		if err != nil {
			return errors.Wrap(err, "resolve pending reference")
		}
		return errors.Wrapf(errors.ErrInvalidState, "pending reference %s is %s, not pending", id, status)
	}
	return nil
}

// ExpirePendingReferences marks pending references created before the
// cutoff as expired and returns how many were affected.
func (s *Store) ExpirePendingReferences(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_references
		SET status = ?
		WHERE status = ? AND created_at < ?`,
		PendingStatusExpired, PendingStatusPending, olderThan,
	)
	if err != nil {
		return 0, errors.Wrap(err, "expire pending references")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "expire pending references")
	}
	return n, nil
}

func scanPendingReferences(rows *sql.Rows) ([]*PendingReference, error) {
	var out []*PendingReference
	for rows.Next() {
		var ref PendingReference
		var resolvedTo sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&ref.ID, &ref.SourceClaimID, &ref.ExternalRef, &ref.EdgeType,
			&ref.CreatedBy, &ref.Status, &resolvedTo, &ref.CreatedAt, &resolvedAt); err != nil {
			return nil, errors.Wrap(err, "scan pending reference")
		}
		ref.ResolvedTo = resolvedTo.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			ref.ResolvedAt = &t
		}
		out = append(out, &ref)
	}
	return out, rows.Err()
}
