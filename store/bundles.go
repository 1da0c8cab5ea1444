package store

import (
	"context"
	"database/sql"

	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
)

// Bundle status values
const (
	BundleStatusAccepted   = "accepted"
	BundleStatusRejected   = "rejected"
	BundleStatusProcessing = "processing"
)

// GetBundleByKey looks up a bundle by its idempotency key. Used to detect
// replays before the ingestion pipeline does any work.
func (s *Store) GetBundleByKey(ctx context.Context, key string) (*Bundle, error) {
	var b Bundle
	var extensionID, result sql.NullString
	var attrsJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, payload_hash, submitted_by, extension_id,
			status, claim_count, edge_count, artifact_count, result, submitted_at, attrs
		FROM bundles WHERE idempotency_key = ?`, key).Scan(
		&b.ID, &b.IdempotencyKey, &b.PayloadHash, &b.SubmittedBy, &extensionID,
		&b.Status, &b.ClaimCount, &b.EdgeCount, &b.ArtifactCount, &result,
		&b.SubmittedAt, &attrsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "bundle with idempotency key %q", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query bundle")
	}

	b.ExtensionID = extensionID.String
	b.Result = result.String
	b.Attrs, err = unmarshalAttrs(attrsJSON)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBundleTx records an accepted bundle inside the ingestion
// transaction, so the bundle row commits atomically with its contents.
func (s *Store) InsertBundleTx(ctx context.Context, tx *sql.Tx, b *Bundle) error {
	attrsJSON, err := marshalAttrs(b.Attrs)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bundles (id, idempotency_key, payload_hash, submitted_by, extension_id,
			status, claim_count, edge_count, artifact_count, result, submitted_at, attrs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.IdempotencyKey, b.PayloadHash, b.SubmittedBy, nullable(b.ExtensionID),
		b.Status, b.ClaimCount, b.EdgeCount, b.ArtifactCount, nullable(b.Result),
		b.SubmittedAt, attrsJSON,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(errors.ErrConflict, "bundle with idempotency key %q already exists", b.IdempotencyKey)
		}
		return errors.Wrap(err, "insert bundle")
	}
	return nil
}
