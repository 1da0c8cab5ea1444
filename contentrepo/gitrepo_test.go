package contentrepo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/contentrepo"
	"github.com/phiacta/phiacta/errors"
)

func newRepos(t *testing.T) *contentrepo.GitRepository {
	t.Helper()
	return contentrepo.NewGitRepository(t.TempDir(), nil)
}

func TestCreateRepo_Idempotent(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()

	exists, err := repos.RepoExists(ctx, "claims/lineage-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"), "Second create is a no-op")

	exists, err = repos.RepoExists(ctx, "claims/lineage-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCommitFiles_AndReadBack(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))

	sha, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
		"Store claim", "phiacta", []contentrepo.File{
			{Path: "claim.md", Content: []byte("the claim text\n")},
		})
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	content, err := repos.ReadFile(ctx, "claims/lineage-1", "", "claim.md")
	require.NoError(t, err)
	assert.Equal(t, "the claim text\n", string(content))

	// The content is also readable pinned to the commit SHA.
	pinned, err := repos.ReadFile(ctx, "claims/lineage-1", sha, "claim.md")
	require.NoError(t, err)
	assert.Equal(t, "the claim text\n", string(pinned))
}

func TestCommitFiles_UnchangedContentReturnsExistingHead(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))

	files := []contentrepo.File{{Path: "claim.md", Content: []byte("stable content\n")}}
	first, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch, "Store claim", "phiacta", files)
	require.NoError(t, err)

	second, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch, "Store claim again", "phiacta", files)
	require.NoError(t, err)
	assert.Equal(t, first, second, "Identical content creates no new commit")

	commits, err := repos.ListCommits(ctx, "claims/lineage-1", 0)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestReadFile_Missing(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))
	_, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
		"Store claim", "phiacta", []contentrepo.File{
			{Path: "claim.md", Content: []byte("x\n")},
		})
	require.NoError(t, err)

	_, err = repos.ReadFile(ctx, "claims/lineage-1", "", "no-such-file.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = repos.ReadFile(ctx, "claims/lineage-1", "not-a-ref", "claim.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestListCommits_NewestFirstWithLimit(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))

	for _, rev := range []string{"v1\n", "v2\n", "v3\n"} {
		_, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
			"Store "+rev, "phiacta", []contentrepo.File{
				{Path: "claim.md", Content: []byte(rev)},
			})
		require.NoError(t, err)
	}

	commits, err := repos.ListCommits(ctx, "claims/lineage-1", 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Contains(t, commits[0].Message, "v3", "Newest commit first")
	assert.Contains(t, commits[1].Message, "v2")
}

func TestMergeBranch_FastForward(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))

	_, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
		"Initial claim", "phiacta", []contentrepo.File{
			{Path: "claim.md", Content: []byte("v1\n")},
		})
	require.NoError(t, err)

	// Commit a revision on a proposal branch ahead of main.
	proposalSHA, err := repos.CommitFiles(ctx, "claims/lineage-1", "proposal",
		"Propose revision", "reviewer", []contentrepo.File{
			{Path: "claim.md", Content: []byte("v2\n")},
		})
	require.NoError(t, err)

	merged, err := repos.MergeBranch(ctx, "claims/lineage-1", "proposal")
	require.NoError(t, err)
	assert.Equal(t, proposalSHA, merged)
}

func TestMergeBranch_DivergedHistoryRejected(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))

	_, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
		"Initial claim", "phiacta", []contentrepo.File{
			{Path: "claim.md", Content: []byte("v1\n")},
		})
	require.NoError(t, err)

	// Branch off at v1, then advance main past the branch point.
	require.NoError(t, repos.CreateBranch(ctx, "claims/lineage-1", "proposal"))
	_, err = repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
		"Advance main", "phiacta", []contentrepo.File{
			{Path: "claim.md", Content: []byte("v2-main\n")},
		})
	require.NoError(t, err)

	_, err = repos.CommitFiles(ctx, "claims/lineage-1", "proposal",
		"Advance proposal", "reviewer", []contentrepo.File{
			{Path: "claim.md", Content: []byte("v2-proposal\n")},
		})
	require.NoError(t, err)

	_, err = repos.MergeBranch(ctx, "claims/lineage-1", "proposal")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestMergeBranch_UnknownBranch(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))
	_, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
		"Initial claim", "phiacta", []contentrepo.File{
			{Path: "claim.md", Content: []byte("v1\n")},
		})
	require.NoError(t, err)

	_, err = repos.MergeBranch(ctx, "claims/lineage-1", "no-such-branch")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestEnsureBranchProtection_Idempotent(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.CreateRepo(ctx, "claims/lineage-1"))
	_, err := repos.CommitFiles(ctx, "claims/lineage-1", contentrepo.DefaultBranch,
		"Initial claim", "phiacta", []contentrepo.File{
			{Path: "claim.md", Content: []byte("v1\n")},
		})
	require.NoError(t, err)

	require.NoError(t, repos.EnsureBranchProtection(ctx, "claims/lineage-1", contentrepo.DefaultBranch))
	after, err := repos.HeadSHA(ctx, "claims/lineage-1")
	require.NoError(t, err)

	require.NoError(t, repos.EnsureBranchProtection(ctx, "claims/lineage-1", contentrepo.DefaultBranch))
	again, err := repos.HeadSHA(ctx, "claims/lineage-1")
	require.NoError(t, err)
	assert.Equal(t, after, again, "Re-applying protection creates no new commit")

	rules, err := repos.ReadFile(ctx, "claims/lineage-1", "", ".phiacta/protection-main.json")
	require.NoError(t, err)
	assert.Contains(t, string(rules), "forbid_force_push")
}
