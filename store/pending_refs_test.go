package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/store"
)

func createPendingRef(t *testing.T, s *store.Store, sourceClaimID, externalRef, createdBy string) *store.PendingReference {
	t.Helper()
	ctx := context.Background()

	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)

	ref, err := s.CreatePendingReferenceTx(ctx, tx, sourceClaimID, externalRef, "supports", createdBy)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return ref
}

func TestPendingReference_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, s)
	a, b := createClaimPair(t, s, agent.ID)

	ref := createPendingRef(t, s, a.ID, "doi:10.1000/future-paper", agent.ID)
	assert.Equal(t, store.PendingStatusPending, ref.Status)

	pending, err := s.PendingByExternalRef(ctx, "doi:10.1000/future-paper")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].SourceClaimID)
	assert.Equal(t, agent.ID, pending[0].CreatedBy)

	require.NoError(t, s.ResolvePendingReference(ctx, ref.ID, b.ID))

	// Resolved references no longer show up as pending.
	pending, err = s.PendingByExternalRef(ctx, "doi:10.1000/future-paper")
	require.NoError(t, err)
	assert.Empty(t, pending)

	forClaim, err := s.PendingForClaim(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, forClaim, 1)
	assert.Equal(t, store.PendingStatusResolved, forClaim[0].Status)
	assert.Equal(t, b.ID, forClaim[0].ResolvedTo)
	assert.NotNil(t, forClaim[0].ResolvedAt)
}

func TestResolvePendingReference_AlreadyResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, s)
	a, b := createClaimPair(t, s, agent.ID)

	ref := createPendingRef(t, s, a.ID, "doi:10.1000/once", agent.ID)
	require.NoError(t, s.ResolvePendingReference(ctx, ref.ID, b.ID))

	err := s.ResolvePendingReference(ctx, ref.ID, b.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestResolvePendingReference_Unknown(t *testing.T) {
	s := newTestStore(t)
	agent := seedAgent(t, s)
	_, b := createClaimPair(t, s, agent.ID)

	err := s.ResolvePendingReference(context.Background(), "no-such-ref", b.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestExpirePendingReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, s)
	a, _ := createClaimPair(t, s, agent.ID)

	createPendingRef(t, s, a.ID, "doi:10.1000/stale", agent.ID)

	// Nothing is older than a cutoff in the past.
	n, err := s.ExpirePendingReferences(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// A future cutoff sweeps the reference.
	n, err = s.ExpirePendingReferences(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	pending, err := s.PendingByExternalRef(ctx, "doi:10.1000/stale")
	require.NoError(t, err)
	assert.Empty(t, pending)

	forClaim, err := s.PendingForClaim(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, forClaim, 1)
	assert.Equal(t, store.PendingStatusExpired, forClaim[0].Status)
}
