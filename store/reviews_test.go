package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/store"
)

func createReviewer(t *testing.T, s *store.Store, name string, trust float64) *store.Agent {
	t.Helper()
	agent, err := s.CreateAgent(context.Background(), store.NewAgent{
		Kind:        store.AgentKindHuman,
		DisplayName: name,
		TrustScore:  trust,
	})
	require.NoError(t, err)
	return agent
}

func TestCreateReview_OnePerReviewerPerClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, s)
	claim, _ := createClaimPair(t, s, agent.ID)
	reviewer := createReviewer(t, s, "Dr. Osei", 0.9)

	_, err := s.CreateReview(ctx, store.NewReview{
		ClaimID:    claim.ID,
		ReviewerID: reviewer.ID,
		Verdict:    store.VerdictEndorse,
		Confidence: 0.85,
	})
	require.NoError(t, err)

	// The same reviewer cannot review the same claim version twice.
	_, err = s.CreateReview(ctx, store.NewReview{
		ClaimID:    claim.ID,
		ReviewerID: reviewer.ID,
		Verdict:    store.VerdictDispute,
		Confidence: 0.5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestCreateReview_UnknownVerdictRejected(t *testing.T) {
	s := newTestStore(t)
	agent := seedAgent(t, s)
	claim, _ := createClaimPair(t, s, agent.ID)
	reviewer := createReviewer(t, s, "Dr. Osei", 0.9)

	_, err := s.CreateReview(context.Background(), store.NewReview{
		ClaimID:    claim.ID,
		ReviewerID: reviewer.ID,
		Verdict:    "maybe",
		Confidence: 0.5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestWithdrawReview_ExcludedFromDefaultListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, s)
	claim, _ := createClaimPair(t, s, agent.ID)
	r1 := createReviewer(t, s, "Dr. Osei", 0.9)
	r2 := createReviewer(t, s, "Dr. Lindqvist", 0.7)

	rev1, err := s.CreateReview(ctx, store.NewReview{
		ClaimID: claim.ID, ReviewerID: r1.ID, Verdict: store.VerdictEndorse, Confidence: 0.9,
	})
	require.NoError(t, err)
	_, err = s.CreateReview(ctx, store.NewReview{
		ClaimID: claim.ID, ReviewerID: r2.ID, Verdict: store.VerdictDispute, Confidence: 0.6,
	})
	require.NoError(t, err)

	require.NoError(t, s.WithdrawReview(ctx, rev1.ID))

	active, err := s.ReviewsForClaim(ctx, claim.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, r2.ID, active[0].ReviewerID)

	all, err := s.ReviewsForClaim(ctx, claim.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTrustScores_BatchLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r1 := createReviewer(t, s, "Dr. Osei", 0.9)
	r2 := createReviewer(t, s, "Dr. Lindqvist", 0.7)

	scores, err := s.TrustScores(ctx, []string{r1.ID, r2.ID, "missing-agent"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, scores[r1.ID])
	assert.Equal(t, 0.7, scores[r2.ID])
	_, found := scores["missing-agent"]
	assert.False(t, found, "Unknown agents are simply absent")
}
