package outbox_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/contentrepo"
	"github.com/phiacta/phiacta/outbox"
	"github.com/phiacta/phiacta/store"
)

// provisionClaim runs the create_repo sequence so the claim has a live
// repository for the follow-up operations under test.
func provisionClaim(t *testing.T, s *store.Store, repos *contentrepo.GitRepository, claim *store.Claim) *store.Claim {
	t.Helper()
	ctx := context.Background()

	payload, err := json.Marshal(outbox.CreateRepoPayload{ClaimID: claim.ID})
	require.NoError(t, err)
	require.NoError(t, outbox.NewCreateRepoHandler(s, repos, nil).Execute(ctx, payload))

	got, err := s.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	return got
}

func TestCommitFilesHandler_CommitsNewVersionContent(t *testing.T) {
	s, repos, claim := provisioningFixture(t)
	ctx := context.Background()
	v1 := provisionClaim(t, s, repos, claim)

	v2, err := s.Supersede(ctx, claim.ID, "Metformin lowers fasting glucose by 25-30 mg/dL", "added effect size")
	require.NoError(t, err)
	// New versions inherit the lineage repository but not its head.
	require.NoError(t, s.SetRepoState(ctx, v2.ID, v1.RepoPath, "", store.RepoStatusProvisioning))

	payload, err := json.Marshal(outbox.RepoOpPayload{ClaimID: v2.ID})
	require.NoError(t, err)
	require.NoError(t, outbox.NewCommitFilesHandler(s, repos, nil).Execute(ctx, payload))

	got, err := s.GetClaim(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RepoStatusReady, got.RepoStatus)
	assert.NotEmpty(t, got.HeadSHA)
	assert.NotEqual(t, v1.HeadSHA, got.HeadSHA, "New content produces a new commit")

	content, err := repos.ReadFile(ctx, got.RepoPath, "", "claim.md")
	require.NoError(t, err)
	assert.Contains(t, string(content), "25-30 mg/dL")
}

func TestCommitFilesHandler_UnchangedContentKeepsHead(t *testing.T) {
	s, repos, claim := provisioningFixture(t)
	ctx := context.Background()
	v1 := provisionClaim(t, s, repos, claim)

	payload, err := json.Marshal(outbox.RepoOpPayload{ClaimID: claim.ID})
	require.NoError(t, err)
	require.NoError(t, outbox.NewCommitFilesHandler(s, repos, nil).Execute(ctx, payload))

	got, err := s.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.HeadSHA, got.HeadSHA, "Identical content is a no-op")
}

func TestCommitFilesHandler_NonDefaultBranchLeavesClaimHead(t *testing.T) {
	s, repos, claim := provisioningFixture(t)
	ctx := context.Background()
	v1 := provisionClaim(t, s, repos, claim)

	branchPayload, err := json.Marshal(outbox.RepoOpPayload{ClaimID: claim.ID, Branch: "proposal"})
	require.NoError(t, err)
	require.NoError(t, outbox.NewCreateBranchHandler(s, repos, nil).Execute(ctx, branchPayload))
	require.NoError(t, outbox.NewCommitFilesHandler(s, repos, nil).Execute(ctx, branchPayload))

	got, err := s.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.HeadSHA, got.HeadSHA, "Branch commits never move the recorded head")
}

func TestCommitFilesHandler_ClaimWithoutRepository(t *testing.T) {
	s, repos, claim := provisioningFixture(t)

	payload, err := json.Marshal(outbox.RepoOpPayload{ClaimID: claim.ID})
	require.NoError(t, err)

	err = outbox.NewCommitFilesHandler(s, repos, nil).Execute(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no repository")
}

func TestCreateBranchHandler_Idempotent(t *testing.T) {
	s, repos, claim := provisioningFixture(t)
	ctx := context.Background()
	provisionClaim(t, s, repos, claim)

	payload, err := json.Marshal(outbox.RepoOpPayload{ClaimID: claim.ID, Branch: "proposal"})
	require.NoError(t, err)

	handler := outbox.NewCreateBranchHandler(s, repos, nil)
	require.NoError(t, handler.Execute(ctx, payload))
	require.NoError(t, handler.Execute(ctx, payload), "Existing branch is left untouched")
}

func TestCreateBranchHandler_MissingBranch(t *testing.T) {
	s, repos, claim := provisioningFixture(t)

	payload, err := json.Marshal(outbox.RepoOpPayload{ClaimID: claim.ID})
	require.NoError(t, err)

	err = outbox.NewCreateBranchHandler(s, repos, nil).Execute(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing branch")
}
