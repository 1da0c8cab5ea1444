package store

import (
	"context"
	"database/sql"

	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
)

// GetEdgeType looks up a registry entry by name.
func (s *Store) GetEdgeType(ctx context.Context, name string) (*EdgeType, error) {
	return getEdgeType(ctx, s.db, name)
}

func getEdgeType(ctx context.Context, q execer, name string) (*EdgeType, error) {
	var et EdgeType
	var inverse sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT name, description, inverse_name, is_transitive, is_symmetric, category
		FROM edge_types WHERE name = ?`, name).Scan(
		&et.Name, &et.Description, &inverse, &et.IsTransitive, &et.IsSymmetric, &et.Category,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "edge type %q", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query edge type")
	}
	et.InverseName = inverse.String
	return &et, nil
}

// ListEdgeTypes returns all registry entries, optionally filtered by
// category.
func (s *Store) ListEdgeTypes(ctx context.Context, category string) ([]*EdgeType, error) {
	query := `SELECT name, description, inverse_name, is_transitive, is_symmetric, category
		FROM edge_types`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query edge types")
	}
	defer rows.Close()

	var types []*EdgeType
	for rows.Next() {
		var et EdgeType
		var inverse sql.NullString
		if err := rows.Scan(&et.Name, &et.Description, &inverse,
			&et.IsTransitive, &et.IsSymmetric, &et.Category); err != nil {
			return nil, errors.Wrap(err, "scan edge type")
		}
		et.InverseName = inverse.String
		types = append(types, &et)
	}
	return types, rows.Err()
}

// EdgeTypeMap loads the whole registry keyed by name. Traversal consults
// this instead of hardcoding per-type behavior.
func (s *Store) EdgeTypeMap(ctx context.Context) (map[string]*EdgeType, error) {
	types, err := s.ListEdgeTypes(ctx, "")
	if err != nil {
		return nil, err
	}
	m := make(map[string]*EdgeType, len(types))
	for _, et := range types {
		m[et.Name] = et
	}
	return m, nil
}

// RegisterEdgeType adds a new relationship kind at runtime. Adding a
// type is a data insert, not a schema change.
func (s *Store) RegisterEdgeType(ctx context.Context, et EdgeType) error {
	switch et.Category {
	case CategoryEvidential, CategoryLogical, CategoryStructural, CategoryEditorial:
	default:
		return errors.Wrapf(errors.ErrValidation, "unknown edge type category %q", et.Category)
	}
	if et.Name == "" {
		return errors.Wrap(errors.ErrValidation, "edge type name must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edge_types (name, description, inverse_name, is_transitive, is_symmetric, category)
		VALUES (?, ?, ?, ?, ?, ?)`,
		et.Name, et.Description, nullable(et.InverseName),
		et.IsTransitive, et.IsSymmetric, et.Category,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(errors.ErrConflict, "edge type %q already registered", et.Name)
		}
		return errors.Wrap(err, "insert edge type")
	}

	s.logger.Infow("edge type registered",
		"name", et.Name,
		"category", et.Category,
		"symmetric", et.IsSymmetric,
		"transitive", et.IsTransitive,
	)
	return nil
}
