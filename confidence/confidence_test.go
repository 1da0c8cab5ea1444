package confidence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/confidence"
	"github.com/phiacta/phiacta/config"
	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/graph"
	phitest "github.com/phiacta/phiacta/internal/testing"
	"github.com/phiacta/phiacta/store"
)

type fixture struct {
	store  *store.Store
	engine *confidence.Engine
	author *store.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := phitest.CreateTestDB(t)
	s := store.New(db, nil)

	author, err := s.CreateAgent(context.Background(), store.NewAgent{
		Kind:        store.AgentKindPipeline,
		DisplayName: "ingest-pipeline",
	})
	require.NoError(t, err)

	traverser := graph.NewTraverser(s, config.TraversalConfig{
		DefaultMaxDepth: 3,
		DefaultMaxNodes: 100,
		HardMaxDepth:    10,
		HardMaxNodes:    500,
	}, nil)

	cfg := config.ConfidenceConfig{
		DirectWeight:         0.7,
		EvidenceWeight:       0.3,
		EndorsementThreshold: 0.6,
		EvidenceDepth:        2,
	}
	return &fixture{
		store:  s,
		engine: confidence.NewEngine(s, traverser, cfg, nil),
		author: author,
	}
}

func (f *fixture) claim(t *testing.T, content string) *store.Claim {
	t.Helper()
	c, err := f.store.CreateClaim(context.Background(), store.NewClaim{
		Content:   content,
		ClaimType: "empirical",
		CreatedBy: f.author.ID,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) reviewer(t *testing.T, name string, trust float64) *store.Agent {
	t.Helper()
	a, err := f.store.CreateAgent(context.Background(), store.NewAgent{
		Kind:        store.AgentKindHuman,
		DisplayName: name,
		TrustScore:  trust,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) review(t *testing.T, claim *store.Claim, reviewer *store.Agent, verdict string, conf float64) *store.Review {
	t.Helper()
	r, err := f.store.CreateReview(context.Background(), store.NewReview{
		ClaimID:    claim.ID,
		ReviewerID: reviewer.ID,
		Verdict:    verdict,
		Confidence: conf,
	})
	require.NoError(t, err)
	return r
}

func TestCompute_NoReviewsIsUnverified(t *testing.T) {
	f := newFixture(t)
	claim := f.claim(t, "unreviewed claim")

	a, err := f.engine.Compute(context.Background(), claim.ID, confidence.Options{})
	require.NoError(t, err)

	assert.Nil(t, a.Score, "No signal is nil, not zero")
	assert.Equal(t, confidence.StatusUnverified, a.EpistemicStatus)
	assert.Zero(t, a.ReviewsConsidered)
}

func TestCompute_UnknownClaim(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Compute(context.Background(), "no-such-claim", confidence.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCompute_TrustWeightedMean(t *testing.T) {
	f := newFixture(t)
	claim := f.claim(t, "weighted claim")

	// (0.9*2.0 + 0.5*1.0) / 3.0 = 0.7666...
	heavy := f.reviewer(t, "heavyweight", 2.0)
	light := f.reviewer(t, "lightweight", 1.0)
	f.review(t, claim, heavy, store.VerdictEndorse, 0.9)
	f.review(t, claim, light, store.VerdictEndorse, 0.5)

	a, err := f.engine.Compute(context.Background(), claim.ID, confidence.Options{})
	require.NoError(t, err)

	require.NotNil(t, a.Score)
	assert.InDelta(t, 0.76667, *a.Score, 0.0001)
	assert.Equal(t, confidence.StatusEndorsed, a.EpistemicStatus)
	assert.Equal(t, 2, a.ReviewsConsidered)
}

func TestCompute_TrustOverridesReplaceStoredScores(t *testing.T) {
	f := newFixture(t)
	claim := f.claim(t, "overridden claim")

	r1 := f.reviewer(t, "reviewer-1", 1.0)
	r2 := f.reviewer(t, "reviewer-2", 1.0)
	f.review(t, claim, r1, store.VerdictEndorse, 1.0)
	f.review(t, claim, r2, store.VerdictEndorse, 0.0)

	// With equal stored trust the mean is 0.5; overriding r1 to 3x pulls
	// it to (1.0*3 + 0.0*1)/4 = 0.75.
	a, err := f.engine.Compute(context.Background(), claim.ID, confidence.Options{
		TrustOverrides: map[string]float64{r1.ID: 3.0},
	})
	require.NoError(t, err)
	require.NotNil(t, a.Score)
	assert.InDelta(t, 0.75, *a.Score, 0.0001)
}

func TestCompute_WithdrawnReviewsNeverCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim := f.claim(t, "withdrawn claim")

	r1 := f.reviewer(t, "reviewer-1", 1.0)
	rev := f.review(t, claim, r1, store.VerdictEndorse, 0.9)
	require.NoError(t, f.store.WithdrawReview(ctx, rev.ID))

	a, err := f.engine.Compute(ctx, claim.ID, confidence.Options{})
	require.NoError(t, err)
	assert.Nil(t, a.Score)
	assert.Equal(t, confidence.StatusUnverified, a.EpistemicStatus)
}

func TestCompute_DisputedTakesPrecedenceOverEndorsed(t *testing.T) {
	f := newFixture(t)
	claim := f.claim(t, "contested claim")

	// High endorsement confidence, but any dispute alongside any
	// endorsement classifies as disputed.
	f.review(t, claim, f.reviewer(t, "supporter", 1.0), store.VerdictEndorse, 0.95)
	f.review(t, claim, f.reviewer(t, "skeptic", 1.0), store.VerdictDispute, 0.8)

	a, err := f.engine.Compute(context.Background(), claim.ID, confidence.Options{})
	require.NoError(t, err)
	assert.Equal(t, confidence.StatusDisputed, a.EpistemicStatus)
	assert.NotNil(t, a.Score, "Disputed claims still carry a score")
}

func TestCompute_BelowThresholdIsUnderReview(t *testing.T) {
	f := newFixture(t)
	claim := f.claim(t, "weak claim")

	f.review(t, claim, f.reviewer(t, "tepid", 1.0), store.VerdictEndorse, 0.4)

	a, err := f.engine.Compute(context.Background(), claim.ID, confidence.Options{})
	require.NoError(t, err)
	require.NotNil(t, a.Score)
	assert.InDelta(t, 0.4, *a.Score, 0.0001)
	assert.Equal(t, confidence.StatusUnderReview, a.EpistemicStatus, "0.4 is under the 0.6 threshold")
}

func TestCompute_NeutralReviewsCountWithoutScoring(t *testing.T) {
	f := newFixture(t)
	claim := f.claim(t, "neutral claim")

	f.review(t, claim, f.reviewer(t, "bystander", 1.0), store.VerdictNeutral, 0.5)

	a, err := f.engine.Compute(context.Background(), claim.ID, confidence.Options{})
	require.NoError(t, err)
	assert.Nil(t, a.Score, "Neutral verdicts carry no confidence weight")
	assert.Equal(t, 1, a.ReviewsConsidered)
	assert.Equal(t, confidence.StatusUnderReview, a.EpistemicStatus)
}

func TestCompute_EvidencePropagationBlendsNeighborScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim := f.claim(t, "hypothesis")
	evidence := f.claim(t, "supporting trial")
	_, err := f.store.CreateEdge(ctx, store.NewEdge{
		SourceID:  evidence.ID,
		TargetID:  claim.ID,
		EdgeType:  "supports",
		CreatedBy: f.author.ID,
	})
	require.NoError(t, err)

	f.review(t, claim, f.reviewer(t, "direct-reviewer", 1.0), store.VerdictEndorse, 0.8)
	f.review(t, evidence, f.reviewer(t, "trial-reviewer", 1.0), store.VerdictEndorse, 0.6)

	a, err := f.engine.Compute(ctx, claim.ID, confidence.Options{PropagateThroughEvidence: true})
	require.NoError(t, err)

	require.NotNil(t, a.Components.Direct)
	assert.InDelta(t, 0.8, *a.Components.Direct, 0.0001)
	require.NotNil(t, a.Components.Evidence)
	assert.InDelta(t, 0.6, *a.Components.Evidence, 0.0001)
	assert.Equal(t, 1, a.Components.EvidenceClaims)

	// 0.7*0.8 + 0.3*0.6 = 0.74
	require.NotNil(t, a.Score)
	assert.InDelta(t, 0.74, *a.Score, 0.0001)
}

func TestCompute_EvidenceAloneDoesNotFabricateDirectScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim := f.claim(t, "unreviewed hypothesis")
	evidence := f.claim(t, "reviewed trial")
	_, err := f.store.CreateEdge(ctx, store.NewEdge{
		SourceID:  evidence.ID,
		TargetID:  claim.ID,
		EdgeType:  "supports",
		CreatedBy: f.author.ID,
	})
	require.NoError(t, err)

	f.review(t, evidence, f.reviewer(t, "trial-reviewer", 1.0), store.VerdictEndorse, 0.9)

	a, err := f.engine.Compute(ctx, claim.ID, confidence.Options{PropagateThroughEvidence: true})
	require.NoError(t, err)

	assert.Nil(t, a.Components.Direct)
	require.NotNil(t, a.Components.Evidence)
	require.NotNil(t, a.Score, "Evidence alone passes through unblended")
	assert.InDelta(t, 0.9, *a.Score, 0.0001)
	assert.Equal(t, confidence.StatusUnverified, a.EpistemicStatus, "Status reflects direct reviews only")
}
