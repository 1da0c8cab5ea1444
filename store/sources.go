package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/errors"
)

// NewSource carries caller-supplied fields for source creation.
type NewSource struct {
	SourceType  string
	Title       string
	ExternalRef string
	ContentHash string
	SubmittedBy string
	Attrs       map[string]any
}

// CreateSource records a new source descriptor.
func (s *Store) CreateSource(ctx context.Context, ns NewSource) (*Source, error) {
	return createSource(ctx, s.db, ns)
}

// CreateSourceTx inserts a source inside an existing transaction.
func (s *Store) CreateSourceTx(ctx context.Context, tx *sql.Tx, ns NewSource) (*Source, error) {
	return createSource(ctx, tx, ns)
}

func createSource(ctx context.Context, q execer, ns NewSource) (*Source, error) {
	if ns.SourceType == "" {
		return nil, errors.Wrap(errors.ErrValidation, "source type must not be empty")
	}

	src := &Source{
		ID:          uuid.NewString(),
		SourceType:  ns.SourceType,
		Title:       ns.Title,
		ExternalRef: ns.ExternalRef,
		ContentHash: ns.ContentHash,
		SubmittedBy: ns.SubmittedBy,
		Attrs:       ns.Attrs,
		CreatedAt:   time.Now().UTC(),
	}

	attrsJSON, err := marshalAttrs(src.Attrs)
	if err != nil {
		return nil, err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO sources (id, source_type, title, external_ref, content_hash, submitted_by, attrs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.SourceType, nullable(src.Title), nullable(src.ExternalRef),
		nullable(src.ContentHash), src.SubmittedBy, attrsJSON, src.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert source")
	}
	return src, nil
}

// FindSourceByExternalRef returns the earliest source with the given
// external identifier, or ErrNotFound.
func (s *Store) FindSourceByExternalRef(ctx context.Context, ref string) (*Source, error) {
	var src Source
	var title, externalRef, contentHash sql.NullString
	var attrsJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_type, title, external_ref, content_hash, submitted_by, attrs, created_at
		FROM sources WHERE external_ref = ? ORDER BY created_at ASC LIMIT 1`, ref).Scan(
		&src.ID, &src.SourceType, &title, &externalRef, &contentHash,
		&src.SubmittedBy, &attrsJSON, &src.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "source with external ref %q", ref)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query source")
	}

	src.Title = title.String
	src.ExternalRef = externalRef.String
	src.ContentHash = contentHash.String
	src.Attrs, err = unmarshalAttrs(attrsJSON)
	if err != nil {
		return nil, err
	}
	return &src, nil
}
