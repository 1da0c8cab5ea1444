package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/errors"
)

// NewArtifact carries caller-supplied fields for an artifact.
type NewArtifact struct {
	BundleID    string
	Kind        string
	MediaType   string
	URI         string
	ContentHash string
	Attrs       map[string]any
}

// CreateArtifactTx inserts an artifact inside the ingestion transaction.
func (s *Store) CreateArtifactTx(ctx context.Context, tx *sql.Tx, na NewArtifact) (*Artifact, error) {
	if na.URI == "" {
		return nil, errors.Wrap(errors.ErrValidation, "artifact uri must not be empty")
	}
	if na.Kind == "" {
		return nil, errors.Wrap(errors.ErrValidation, "artifact kind must not be empty")
	}

	art := &Artifact{
		ID:          uuid.NewString(),
		BundleID:    na.BundleID,
		Kind:        na.Kind,
		MediaType:   na.MediaType,
		URI:         na.URI,
		ContentHash: na.ContentHash,
		Attrs:       na.Attrs,
		CreatedAt:   time.Now().UTC(),
	}

	attrsJSON, err := marshalAttrs(art.Attrs)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (id, bundle_id, kind, media_type, uri, content_hash, attrs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		art.ID, nullable(art.BundleID), art.Kind, nullable(art.MediaType),
		art.URI, nullable(art.ContentHash), attrsJSON, art.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert artifact")
	}
	return art, nil
}

// LinkArtifactClaimTx associates an artifact with a claim version.
func (s *Store) LinkArtifactClaimTx(ctx context.Context, tx *sql.Tx, artifactID, claimID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifact_claims (artifact_id, claim_id) VALUES (?, ?)`,
		artifactID, claimID,
	)
	if err != nil {
		return errors.Wrap(err, "link artifact to claim")
	}
	return nil
}

// ArtifactsForClaim returns artifacts linked to a claim version.
func (s *Store) ArtifactsForClaim(ctx context.Context, claimID string) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.bundle_id, a.kind, a.media_type, a.uri, a.content_hash, a.attrs, a.created_at
		FROM artifacts a
		JOIN artifact_claims ac ON ac.artifact_id = a.id
		WHERE ac.claim_id = ?
		ORDER BY a.created_at ASC`, claimID)
	if err != nil {
		return nil, errors.Wrap(err, "query artifacts")
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		var art Artifact
		var bundleID, mediaType, contentHash sql.NullString
		var attrsJSON string
		if err := rows.Scan(&art.ID, &bundleID, &art.Kind, &mediaType,
			&art.URI, &contentHash, &attrsJSON, &art.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan artifact")
		}
		art.BundleID = bundleID.String
		art.MediaType = mediaType.String
		art.ContentHash = contentHash.String
		art.Attrs, err = unmarshalAttrs(attrsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, &art)
	}
	return out, rows.Err()
}
