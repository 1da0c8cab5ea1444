package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/errors"
	phitest "github.com/phiacta/phiacta/internal/testing"
	"github.com/phiacta/phiacta/outbox"
)

type notePayload struct {
	Note string `json:"note"`
}

func TestEnqueueAndClaimNext(t *testing.T) {
	db := phitest.CreateTestDB(t)
	s := outbox.NewStore(db, 3, 60, nil)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync_thing", notePayload{Note: "hello"})
	require.NoError(t, err)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, "sync_thing", entry.Operation)
	assert.Equal(t, outbox.StatusProcessing, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.JSONEq(t, `{"note":"hello"}`, string(entry.Payload))

	// The only entry is processing now; nothing else is claimable.
	next, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	db := phitest.CreateTestDB(t)
	s := outbox.NewStore(db, 3, 60, nil)

	entry, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestClaimNext_OldestFirst(t *testing.T) {
	db := phitest.CreateTestDB(t)
	s := outbox.NewStore(db, 3, 60, nil)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, "sync_thing", notePayload{Note: "first"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.Enqueue(ctx, "sync_thing", notePayload{Note: "second"})
	require.NoError(t, err)

	entry, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, first, entry.ID)
}

func TestMarkCompleted(t *testing.T) {
	db := phitest.CreateTestDB(t)
	s := outbox.NewStore(db, 3, 60, nil)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync_thing", nil)
	require.NoError(t, err)
	entry, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)

	require.NoError(t, s.MarkCompleted(ctx, entry.ID))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)
}

func TestMarkFailure_RetriesWithBackoffUntilCap(t *testing.T) {
	db := phitest.CreateTestDB(t)
	s := outbox.NewStore(db, 3, 60, nil)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync_thing", nil)
	require.NoError(t, err)
	entry, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)

	terminal, err := s.MarkFailure(ctx, entry, errors.New("upstream down"))
	require.NoError(t, err)
	assert.False(t, terminal, "Attempt 1 of 3 is not terminal")

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPending, got.Status)
	assert.Equal(t, "upstream down", got.LastError)
	require.NotNil(t, got.RetryAfter)
	assert.True(t, got.RetryAfter.After(time.Now().UTC()), "Retry is deferred into the future")

	// Deferred entries are not claimable until their retry time passes.
	next, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestMarkFailure_TerminalAtAttemptCap(t *testing.T) {
	db := phitest.CreateTestDB(t)
	s := outbox.NewStore(db, 2, 60, nil)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync_thing", nil)
	require.NoError(t, err)
	entry, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)

	// Simulate the final attempt failing.
	entry.Attempts = entry.MaxAttempts
	terminal, err := s.MarkFailure(ctx, entry, errors.New("still down"))
	require.NoError(t, err)
	assert.True(t, terminal)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, got.Status)
	assert.Equal(t, "still down", got.LastError)

	// Failed entries are never claimed again.
	next, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestGet_Unknown(t *testing.T) {
	db := phitest.CreateTestDB(t)
	s := outbox.NewStore(db, 3, 60, nil)

	_, err := s.Get(context.Background(), "no-such-entry")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
