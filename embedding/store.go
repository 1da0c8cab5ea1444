package embedding

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phiacta/phiacta/errors"
)

// SourceTypeClaim is the source_type used for claim content embeddings.
const SourceTypeClaim = "claim"

// Model is a stored embedding row.
type Model struct {
	ID         string    `json:"id"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	Text       string    `json:"text"`
	Embedding  []byte    `json:"-"` // serialized FLOAT32 blob
	ModelName  string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists embeddings in the metadata table and mirrors them into
// the vec0 virtual table for similarity search.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates an embedding store.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: db, logger: logger}
}

// Save upserts an embedding. Virtual tables don't support UPSERT, so the
// vec mirror is delete-then-insert.
func (s *Store) Save(ctx context.Context, m *Model) error {
	if m == nil {
		return errors.New("embedding is nil")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, source_type, source_id, text, embedding,
			model, dimensions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_type, source_id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			model = excluded.model,
			dimensions = excluded.dimensions,
			updated_at = excluded.updated_at`,
		m.ID, m.SourceType, m.SourceID, m.Text, m.Embedding,
		m.ModelName, m.Dimensions, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "save embedding for %s:%s", m.SourceType, m.SourceID)
	}

	// The upsert may have kept a pre-existing row id; mirror against the
	// id actually stored.
	var storedID string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM embeddings WHERE source_type = ? AND source_id = ?`,
		m.SourceType, m.SourceID,
	).Scan(&storedID)
	if err != nil {
		return errors.Wrap(err, "look up stored embedding id")
	}
	m.ID = storedID

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM vec_embeddings WHERE embedding_id = ?`, m.ID); err != nil {
		return errors.Wrapf(err, "clear stale vec_embeddings row for %s", m.ID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vec_embeddings (embedding_id, embedding) VALUES (?, ?)`,
		m.ID, m.Embedding,
	)
	if err != nil {
		return errors.Wrapf(err, "mirror embedding %s into vec_embeddings", m.ID)
	}

	s.logger.Debugw("Saved embedding",
		"id", m.ID,
		"source_type", m.SourceType,
		"source_id", m.SourceID,
		"dimensions", m.Dimensions,
	)
	return nil
}

// GetBySource retrieves an embedding by its source. Returns nil, nil when
// no embedding exists.
func (s *Store) GetBySource(ctx context.Context, sourceType, sourceID string) (*Model, error) {
	var m Model
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_type, source_id, text, embedding, model, dimensions, created_at, updated_at
		FROM embeddings WHERE source_type = ? AND source_id = ?`,
		sourceType, sourceID,
	).Scan(&m.ID, &m.SourceType, &m.SourceID, &m.Text, &m.Embedding,
		&m.ModelName, &m.Dimensions, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get embedding for %s:%s", sourceType, sourceID)
	}
	return &m, nil
}

// Similar is a similarity search hit.
type Similar struct {
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Text       string  `json:"text"`
	Distance   float32 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// SimilarClaims finds stored claim embeddings near the query vector.
// L2 distance on normalized vectors ranges 0..2; similarity is
// 1 - distance/2, clamped at zero. Hits below threshold are dropped.
func (s *Store) SimilarClaims(ctx context.Context, query []float32, limit int, threshold float64) ([]Similar, error) {
	if len(query) == 0 {
		return nil, errors.New("query embedding is empty")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.source_type, e.source_id, e.text,
			vec_distance_L2(v.embedding, ?) AS distance
		FROM vec_embeddings v
		JOIN embeddings e ON v.embedding_id = e.id
		WHERE e.source_type = ?
		ORDER BY distance
		LIMIT ?`,
		Serialize(query), SourceTypeClaim, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "vector search")
	}
	defer rows.Close()

	var out []Similar
	for rows.Next() {
		var hit Similar
		if err := rows.Scan(&hit.SourceType, &hit.SourceID, &hit.Text, &hit.Distance); err != nil {
			return nil, errors.Wrap(err, "scan search result")
		}
		hit.Similarity = 1.0 - float64(hit.Distance)/2.0
		if hit.Similarity < 0 {
			hit.Similarity = 0
		}
		if hit.Similarity >= threshold {
			out = append(out, hit)
		}
	}
	return out, rows.Err()
}

// DeleteBySource removes an embedding and its vec mirror.
func (s *Store) DeleteBySource(ctx context.Context, sourceType, sourceID string) error {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM embeddings WHERE source_type = ? AND source_id = ?`,
		sourceType, sourceID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "find embedding for %s:%s", sourceType, sourceID)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE embedding_id = ?`, id); err != nil {
		return errors.Wrapf(err, "delete vec mirror for %s", id)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE source_type = ? AND source_id = ?`,
		sourceType, sourceID); err != nil {
		return errors.Wrapf(err, "delete embedding for %s:%s", sourceType, sourceID)
	}
	return nil
}
