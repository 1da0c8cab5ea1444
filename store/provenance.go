package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/errors"
)

// NewProvenance carries caller-supplied fields for a provenance record.
type NewProvenance struct {
	ClaimID              string
	SourceID             string
	ExtractedBy          string
	ExtractionMethod     string
	Location             string
	ExtractionConfidence float64
	Attrs                map[string]any
}

// AddProvenance links a claim to the source it was extracted from.
func (s *Store) AddProvenance(ctx context.Context, np NewProvenance) (*Provenance, error) {
	return addProvenance(ctx, s.db, np)
}

// AddProvenanceTx inserts a provenance record inside an existing transaction.
func (s *Store) AddProvenanceTx(ctx context.Context, tx *sql.Tx, np NewProvenance) (*Provenance, error) {
	return addProvenance(ctx, tx, np)
}

func addProvenance(ctx context.Context, q execer, np NewProvenance) (*Provenance, error) {
	if np.ExtractionConfidence < 0.0 || np.ExtractionConfidence > 1.0 {
		return nil, errors.Wrapf(errors.ErrValidation,
			"extraction confidence %.3f outside [0,1]", np.ExtractionConfidence)
	}
	if np.ExtractionMethod == "" {
		return nil, errors.Wrap(errors.ErrValidation, "extraction method must not be empty")
	}

	prov := &Provenance{
		ID:                   uuid.NewString(),
		ClaimID:              np.ClaimID,
		SourceID:             np.SourceID,
		ExtractedBy:          np.ExtractedBy,
		ExtractionMethod:     np.ExtractionMethod,
		Location:             np.Location,
		ExtractionConfidence: np.ExtractionConfidence,
		Attrs:                np.Attrs,
		CreatedAt:            time.Now().UTC(),
	}

	attrsJSON, err := marshalAttrs(prov.Attrs)
	if err != nil {
		return nil, err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO provenance (id, claim_id, source_id, extracted_by, extraction_method,
			location, extraction_confidence, attrs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prov.ID, prov.ClaimID, prov.SourceID, prov.ExtractedBy, prov.ExtractionMethod,
		nullable(prov.Location), prov.ExtractionConfidence, attrsJSON, prov.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert provenance")
	}
	return prov, nil
}

// ProvenanceForClaim returns all provenance records for a claim version,
// oldest first.
func (s *Store) ProvenanceForClaim(ctx context.Context, claimID string) ([]*Provenance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, claim_id, source_id, extracted_by, extraction_method,
			location, extraction_confidence, attrs, created_at
		FROM provenance WHERE claim_id = ? ORDER BY created_at ASC`, claimID)
	if err != nil {
		return nil, errors.Wrap(err, "query provenance")
	}
	defer rows.Close()

	var out []*Provenance
	for rows.Next() {
		var prov Provenance
		var location sql.NullString
		var attrsJSON string
		if err := rows.Scan(&prov.ID, &prov.ClaimID, &prov.SourceID, &prov.ExtractedBy,
			&prov.ExtractionMethod, &location, &prov.ExtractionConfidence,
			&attrsJSON, &prov.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan provenance")
		}
		prov.Location = location.String
		prov.Attrs, err = unmarshalAttrs(attrsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, &prov)
	}
	return out, rows.Err()
}
