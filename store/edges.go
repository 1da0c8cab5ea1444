package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
)

// Traversal directions
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
	DirectionBoth     = "both"
)

const (
	edgeColumns = `id, source_id, target_id, edge_type, strength, created_by,
		source_provenance, attrs, created_at`

	edgeInsertQuery = `
		INSERT INTO edges (id, source_id, target_id, edge_type, strength,
			created_by, source_provenance, attrs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// NewEdge carries caller-supplied fields for edge creation.
type NewEdge struct {
	SourceID         string
	TargetID         string
	EdgeType         string
	Strength         *float64
	CreatedBy        string
	SourceProvenance string
	Attrs            map[string]any
}

// CreateEdge asserts a typed, directed relationship between two claim
// versions. Recording a contradiction is a normal edge insert; the
// system never suppresses or merges contradicting claims.
func (s *Store) CreateEdge(ctx context.Context, ne NewEdge) (*Edge, error) {
	return createEdge(ctx, s.db, ne)
}

// CreateEdgeTx inserts an edge inside an existing transaction.
func (s *Store) CreateEdgeTx(ctx context.Context, tx *sql.Tx, ne NewEdge) (*Edge, error) {
	return createEdge(ctx, tx, ne)
}

func createEdge(ctx context.Context, q execer, ne NewEdge) (*Edge, error) {
	if ne.Strength != nil && (*ne.Strength < 0 || *ne.Strength > 1) {
		return nil, errors.Wrapf(errors.ErrValidation,
			"edge strength %.3f outside [0,1]", *ne.Strength)
	}
	if _, err := getEdgeType(ctx, q, ne.EdgeType); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.Wrapf(errors.ErrValidation,
				"edge type %q is not registered", ne.EdgeType)
		}
		return nil, err
	}

	edge := &Edge{
		ID:               uuid.NewString(),
		SourceID:         ne.SourceID,
		TargetID:         ne.TargetID,
		EdgeType:         ne.EdgeType,
		Strength:         ne.Strength,
		CreatedBy:        ne.CreatedBy,
		SourceProvenance: ne.SourceProvenance,
		Attrs:            ne.Attrs,
		CreatedAt:        time.Now().UTC(),
	}

	attrsJSON, err := marshalAttrs(edge.Attrs)
	if err != nil {
		return nil, err
	}

	var strength any
	if edge.Strength != nil {
		strength = *edge.Strength
	}

	_, err = q.ExecContext(ctx, edgeInsertQuery,
		edge.ID, edge.SourceID, edge.TargetID, edge.EdgeType, strength,
		edge.CreatedBy, nullable(edge.SourceProvenance), attrsJSON, edge.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.Wrapf(errors.ErrConflict,
				"edge %s -[%s]-> %s already asserted by %s",
				edge.SourceID, edge.EdgeType, edge.TargetID, edge.CreatedBy)
		}
		return nil, errors.Wrap(err, "insert edge")
	}
	return edge, nil
}

// EdgesFor returns edges incident to a claim version, filtered by
// direction and optionally by edge type names. Edges referencing
// superseded or retracted versions still appear; they are queryable as
// stale but never rewritten.
func (s *Store) EdgesFor(ctx context.Context, claimID, direction string, typeFilter []string) ([]*Edge, error) {
	var where string
	args := []any{}

	switch direction {
	case DirectionOutgoing:
		where = `source_id = ?`
		args = append(args, claimID)
	case DirectionIncoming:
		where = `target_id = ?`
		args = append(args, claimID)
	case DirectionBoth:
		where = `(source_id = ? OR target_id = ?)`
		args = append(args, claimID, claimID)
	default:
		return nil, errors.Wrapf(errors.ErrValidation, "unknown direction %q", direction)
	}

	if len(typeFilter) > 0 {
		where += ` AND edge_type IN (?` + repeatPlaceholder(len(typeFilter)-1) + `)`
		for _, t := range typeFilter {
			args = append(args, t)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE `+where+` ORDER BY created_at ASC`,
		args...)
	if err != nil {
		return nil, errors.Wrap(err, "query edges")
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func scanEdge(row rowScanner) (*Edge, error) {
	var e Edge
	var strength sql.NullFloat64
	var sourceProv sql.NullString
	var attrsJSON string

	err := row.Scan(
		&e.ID, &e.SourceID, &e.TargetID, &e.EdgeType, &strength,
		&e.CreatedBy, &sourceProv, &attrsJSON, &e.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "scan edge")
	}

	if strength.Valid {
		v := strength.Float64
		e.Strength = &v
	}
	e.SourceProvenance = sourceProv.String

	e.Attrs, err = unmarshalAttrs(attrsJSON)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
