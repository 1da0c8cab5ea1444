package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
)

// NewAgent carries caller-supplied fields for agent creation.
type NewAgent struct {
	Kind        string
	DisplayName string
	ExternalID  string
	TrustScore  float64 // defaults to 1.0 when zero
	Attrs       map[string]any
}

// CreateAgent registers a contributor identity.
func (s *Store) CreateAgent(ctx context.Context, na NewAgent) (*Agent, error) {
	switch na.Kind {
	case AgentKindHuman, AgentKindAI, AgentKindOrganization, AgentKindPipeline:
	default:
		return nil, errors.Wrapf(errors.ErrValidation, "unknown agent kind %q", na.Kind)
	}
	if na.DisplayName == "" {
		return nil, errors.Wrap(errors.ErrValidation, "agent display name must not be empty")
	}

	trust := na.TrustScore
	if trust == 0 {
		trust = 1.0
	}

	agent := &Agent{
		ID:          uuid.NewString(),
		Kind:        na.Kind,
		DisplayName: na.DisplayName,
		ExternalID:  na.ExternalID,
		TrustScore:  trust,
		Attrs:       na.Attrs,
		CreatedAt:   time.Now().UTC(),
	}

	attrsJSON, err := marshalAttrs(agent.Attrs)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, kind, display_name, external_id, trust_score, attrs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Kind, agent.DisplayName, nullable(agent.ExternalID),
		agent.TrustScore, attrsJSON, agent.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.Wrap(errors.ErrConflict, "agent already exists")
		}
		return nil, errors.Wrap(err, "insert agent")
	}
	return agent, nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	var externalID sql.NullString
	var attrsJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, display_name, external_id, trust_score, attrs, created_at
		FROM agents WHERE id = ?`, id).Scan(
		&a.ID, &a.Kind, &a.DisplayName, &externalID, &a.TrustScore, &attrsJSON, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "agent %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query agent")
	}

	a.ExternalID = externalID.String
	a.Attrs, err = unmarshalAttrs(attrsJSON)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// TrustScores fetches trust scores for a set of agents in one query.
// Missing agents are simply absent from the result map.
func (s *Store) TrustScores(ctx context.Context, agentIDs []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(agentIDs))
	if len(agentIDs) == 0 {
		return scores, nil
	}

	query := `SELECT id, trust_score FROM agents WHERE id IN (?` +
		repeatPlaceholder(len(agentIDs)-1) + `)`
	args := make([]any, len(agentIDs))
	for i, id := range agentIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query trust scores")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, errors.Wrap(err, "scan trust score")
		}
		scores[id] = score
	}
	return scores, rows.Err()
}

// repeatPlaceholder returns n copies of ", ?" for IN clauses.
func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
