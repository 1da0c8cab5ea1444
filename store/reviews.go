package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
)

// NewReview carries caller-supplied fields for review creation.
type NewReview struct {
	ClaimID    string
	ReviewerID string
	Verdict    string
	Confidence float64
	Comment    string
}

// CreateReview records an agent's assessment of a claim version. One
// review per (claim, reviewer); a second attempt is a conflict.
func (s *Store) CreateReview(ctx context.Context, nr NewReview) (*Review, error) {
	switch nr.Verdict {
	case VerdictEndorse, VerdictDispute, VerdictNeutral:
	default:
		return nil, errors.Wrapf(errors.ErrValidation, "unknown verdict %q", nr.Verdict)
	}
	if nr.Confidence < 0 || nr.Confidence > 1 {
		return nil, errors.Wrapf(errors.ErrValidation,
			"review confidence %.3f outside [0,1]", nr.Confidence)
	}

	review := &Review{
		ID:         uuid.NewString(),
		ClaimID:    nr.ClaimID,
		ReviewerID: nr.ReviewerID,
		Verdict:    nr.Verdict,
		Confidence: nr.Confidence,
		Comment:    nr.Comment,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, claim_id, reviewer_id, verdict, confidence, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		review.ID, review.ClaimID, review.ReviewerID, review.Verdict,
		review.Confidence, nullable(review.Comment), review.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.Wrapf(errors.ErrConflict,
				"agent %s already reviewed claim %s", nr.ReviewerID, nr.ClaimID)
		}
		return nil, errors.Wrap(err, "insert review")
	}
	return review, nil
}

// WithdrawReview soft-deletes a review. Reviews are never hard-deleted;
// withdrawal preserves the audit history.
func (s *Store) WithdrawReview(ctx context.Context, reviewID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET withdrawn_at = ? WHERE id = ? AND withdrawn_at IS NULL`,
		time.Now().UTC(), reviewID)
	if err != nil {
		return errors.Wrap(err, "withdraw review")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "active review %s", reviewID)
	}
	return nil
}

// ReviewsForClaim returns reviews on a claim version, excluding
// withdrawn ones unless includeWithdrawn is set.
func (s *Store) ReviewsForClaim(ctx context.Context, claimID string, includeWithdrawn bool) ([]*Review, error) {
	query := `
		SELECT id, claim_id, reviewer_id, verdict, confidence, comment, withdrawn_at, created_at
		FROM reviews WHERE claim_id = ?`
	if !includeWithdrawn {
		query += ` AND withdrawn_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, errors.Wrap(err, "query reviews")
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		var r Review
		var comment sql.NullString
		var withdrawnAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.ClaimID, &r.ReviewerID, &r.Verdict,
			&r.Confidence, &comment, &withdrawnAt, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan review")
		}
		r.Comment = comment.String
		if withdrawnAt.Valid {
			t := withdrawnAt.Time
			r.WithdrawnAt = &t
		}
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}
