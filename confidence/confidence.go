// Package confidence computes per-claim confidence at read time.
// Confidence is never stored; it is a pure function of the review set,
// reviewer trust, and optionally the evidential neighborhood.
package confidence

import (
	"context"

	"go.uber.org/zap"

	"github.com/phiacta/phiacta/config"
	"github.com/phiacta/phiacta/graph"
	"github.com/phiacta/phiacta/store"
)

// Epistemic status values, derived per request and never persisted.
const (
	StatusUnverified  = "unverified"
	StatusDisputed    = "disputed"
	StatusEndorsed    = "endorsed"
	StatusUnderReview = "under_review"
)

// Store is the slice of the entity store the engine reads. It never
// writes.
type Store interface {
	GetClaim(ctx context.Context, id string) (*store.Claim, error)
	ReviewsForClaim(ctx context.Context, claimID string, includeWithdrawn bool) ([]*store.Review, error)
	TrustScores(ctx context.Context, agentIDs []string) (map[string]float64, error)
	ListEdgeTypes(ctx context.Context, category string) ([]*store.EdgeType, error)
}

// Options tunes a single computation.
type Options struct {
	// TrustOverrides substitutes per-agent weights for this computation
	// only, replacing the stored trust score where present.
	TrustOverrides map[string]float64
	// PropagateThroughEvidence additionally blends in the confidence of
	// claims connected through evidential edges.
	PropagateThroughEvidence bool
}

// Components breaks an assessment into its parts.
type Components struct {
	Direct         *float64 `json:"direct,omitempty"`
	Evidence       *float64 `json:"evidence,omitempty"`
	EvidenceClaims int      `json:"evidence_claims"`
}

// Assessment is the computed confidence for one claim version. A nil
// Score means no qualifying signal exists, which is distinct from zero.
type Assessment struct {
	ClaimID           string     `json:"claim_id"`
	Score             *float64   `json:"score,omitempty"`
	EpistemicStatus   string     `json:"epistemic_status"`
	Components        Components `json:"components"`
	ReviewsConsidered int        `json:"reviews_considered"`
}

// Engine computes assessments.
type Engine struct {
	store     Store
	traverser *graph.Traverser
	cfg       config.ConfidenceConfig
	logger    *zap.SugaredLogger
}

// NewEngine creates a confidence engine. The traverser is only consulted
// when propagation is requested.
func NewEngine(s Store, traverser *graph.Traverser, cfg config.ConfidenceConfig, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{store: s, traverser: traverser, cfg: cfg, logger: logger}
}

// Compute assesses a claim. A missing claim is ErrNotFound.
func (e *Engine) Compute(ctx context.Context, claimID string, opts Options) (*Assessment, error) {
	if _, err := e.store.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}

	direct, endorsements, disputes, considered, err := e.directScore(ctx, claimID, opts.TrustOverrides)
	if err != nil {
		return nil, err
	}

	a := &Assessment{
		ClaimID:           claimID,
		Components:        Components{Direct: direct},
		ReviewsConsidered: considered,
	}

	score := direct
	if opts.PropagateThroughEvidence {
		evidence, evidenceClaims, err := e.evidenceScore(ctx, claimID, opts.TrustOverrides)
		if err != nil {
			return nil, err
		}
		a.Components.Evidence = evidence
		a.Components.EvidenceClaims = evidenceClaims
		score = blend(direct, evidence, e.cfg.DirectWeight, e.cfg.EvidenceWeight)
	}
	a.Score = score
	a.EpistemicStatus = e.classify(direct, endorsements, disputes, considered)

	return a, nil
}

// directScore is the trust-weighted mean of endorsing review confidences:
// sum(confidence_i * weight_i) / sum(weight_i). Withdrawn reviews never
// count. Returns nil when no endorsing review exists.
func (e *Engine) directScore(ctx context.Context, claimID string, overrides map[string]float64) (score *float64, endorsements, disputes, considered int, err error) {
	reviews, err := e.store.ReviewsForClaim(ctx, claimID, false)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	if len(reviews) == 0 {
		return nil, 0, 0, 0, nil
	}

	agentIDs := make([]string, 0, len(reviews))
	for _, r := range reviews {
		agentIDs = append(agentIDs, r.ReviewerID)
	}
	trust, err := e.store.TrustScores(ctx, agentIDs)
	if err != nil {
		return nil, 0, 0, 0, err
	}

	var weightedSum, weightTotal float64
	for _, r := range reviews {
		considered++
		switch r.Verdict {
		case store.VerdictEndorse:
			endorsements++
		case store.VerdictDispute:
			disputes++
		default:
			continue
		}
		if r.Verdict != store.VerdictEndorse {
			continue
		}

		weight, ok := overrides[r.ReviewerID]
		if !ok {
			weight = trust[r.ReviewerID]
		}
		if weight <= 0 {
			continue
		}
		weightedSum += r.Confidence * weight
		weightTotal += weight
	}

	if weightTotal == 0 {
		return nil, endorsements, disputes, considered, nil
	}
	s := weightedSum / weightTotal
	return &s, endorsements, disputes, considered, nil
}

// evidenceScore averages the direct scores of claims connected through
// evidential edges, within the configured depth.
func (e *Engine) evidenceScore(ctx context.Context, claimID string, overrides map[string]float64) (*float64, int, error) {
	if e.traverser == nil {
		return nil, 0, nil
	}

	evidential, err := e.store.ListEdgeTypes(ctx, store.CategoryEvidential)
	if err != nil {
		return nil, 0, err
	}
	if len(evidential) == 0 {
		return nil, 0, nil
	}
	typeNames := make([]string, len(evidential))
	for i, et := range evidential {
		typeNames[i] = et.Name
	}

	depth := e.cfg.EvidenceDepth
	if depth > 5 {
		depth = 5
	}

	res, err := e.traverser.Traverse(ctx, claimID, graph.Options{
		MaxDepth:  depth,
		Direction: store.DirectionBoth,
		EdgeTypes: typeNames,
	})
	if err != nil {
		return nil, 0, err
	}

	var sum float64
	var counted int
	for _, node := range res.Nodes {
		if node.Claim.ID == claimID {
			continue
		}
		direct, _, _, _, err := e.directScore(ctx, node.Claim.ID, overrides)
		if err != nil {
			return nil, 0, err
		}
		if direct == nil {
			continue
		}
		sum += *direct
		counted++
	}
	if counted == 0 {
		return nil, 0, nil
	}
	mean := sum / float64(counted)
	return &mean, counted, nil
}

// blend combines direct and evidence scores with the configured weights.
// Either side alone passes through unweighted; both absent stays nil.
func blend(direct, evidence *float64, directWeight, evidenceWeight float64) *float64 {
	switch {
	case direct != nil && evidence != nil:
		combined := directWeight**direct + evidenceWeight**evidence
		return &combined
	case direct != nil:
		return direct
	case evidence != nil:
		return evidence
	}
	return nil
}

// classify derives epistemic status from direct signals. Precedence
// matters: disputed is checked before endorsed.
func (e *Engine) classify(direct *float64, endorsements, disputes, considered int) string {
	switch {
	case considered == 0:
		return StatusUnverified
	case endorsements > 0 && disputes > 0:
		return StatusDisputed
	case direct != nil && *direct > e.cfg.EndorsementThreshold && endorsements > disputes:
		return StatusEndorsed
	}
	return StatusUnderReview
}
