package contentrepo

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/phiacta/phiacta/errors"
)

// metaDir holds repository metadata (protections, webhooks) as committed
// files, so their presence is checkable and the operations idempotent.
const metaDir = ".phiacta"

// GitRepository implements Repository with local git repositories under a
// root directory, via go-git.
type GitRepository struct {
	root   string
	logger *zap.SugaredLogger
}

// NewGitRepository creates a git-backed content repository rooted at root.
func NewGitRepository(root string, logger *zap.SugaredLogger) *GitRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &GitRepository{root: root, logger: logger}
}

func (g *GitRepository) fullPath(path string) string {
	return filepath.Join(g.root, filepath.Clean(path))
}

// RepoExists reports whether an initialized repository exists at path.
func (g *GitRepository) RepoExists(_ context.Context, path string) (bool, error) {
	_, err := git.PlainOpen(g.fullPath(path))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "open repository %s", path)
	}
	return true, nil
}

// CreateRepo initializes a repository. Already-existing repositories are
// a no-op.
func (g *GitRepository) CreateRepo(ctx context.Context, path string) error {
	exists, err := g.RepoExists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	full := g.fullPath(path)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return errors.Wrapf(err, "create repository directory %s", path)
	}
	if _, err := git.PlainInitWithOptions(full, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch),
		},
	}); err != nil {
		return errors.Wrapf(err, "init repository %s", path)
	}

	g.logger.Infow("Initialized content repository", "path", path)
	return nil
}

// CommitFiles writes and commits files on branch. If the worktree is
// clean after writing, the content already matches head and the existing
// SHA is returned.
func (g *GitRepository) CommitFiles(_ context.Context, path, branch, message, author string, files []File) (string, error) {
	repo, err := git.PlainOpen(g.fullPath(path))
	if err != nil {
		return "", errors.Wrapf(err, "open repository %s", path)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", errors.Wrap(err, "open worktree")
	}

	if branch != "" && branch != DefaultBranch {
		if err := checkout(wt, branch); err != nil {
			return "", err
		}
	}

	for _, f := range files {
		full := filepath.Join(g.fullPath(path), filepath.Clean(f.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", errors.Wrapf(err, "create directory for %s", f.Path)
		}
		if err := os.WriteFile(full, f.Content, 0o644); err != nil {
			return "", errors.Wrapf(err, "write %s", f.Path)
		}
		if _, err := wt.Add(f.Path); err != nil {
			return "", errors.Wrapf(err, "stage %s", f.Path)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return "", errors.Wrap(err, "worktree status")
	}
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return "", errors.Wrap(err, "resolve head")
		}
		return head.Hash().String(), nil
	}

	if author == "" {
		author = "phiacta"
	}
	sha, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name: author,
			When: time.Now().UTC(),
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "commit to %s", path)
	}
	return sha.String(), nil
}

func checkout(wt *git.Worktree, branch string) error {
	ref := plumbing.NewBranchReferenceName(branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref}); err == nil {
		return nil
	}
	// Branch may not exist yet; create it from head.
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: true}); err != nil {
		return errors.Wrapf(err, "checkout branch %s", branch)
	}
	return nil
}

// ReadFile returns file content at ref. Empty ref reads head.
func (g *GitRepository) ReadFile(_ context.Context, path, ref, filePath string) ([]byte, error) {
	repo, err := git.PlainOpen(g.fullPath(path))
	if err != nil {
		return nil, errors.Wrapf(err, "open repository %s", path)
	}

	var hash plumbing.Hash
	if ref == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, errors.Wrap(err, "resolve head")
		}
		hash = head.Hash()
	} else {
		h, err := repo.ResolveRevision(plumbing.Revision(ref))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrNotFound, "ref %q in %s", ref, path)
		}
		hash = *h
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, errors.Wrapf(err, "load commit %s", hash)
	}
	file, err := commit.File(filePath)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, errors.Wrapf(errors.ErrNotFound, "file %q at %s", filePath, hash)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load file %s", filePath)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, errors.Wrapf(err, "read file %s", filePath)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// ListCommits returns up to limit commits from head, newest first.
func (g *GitRepository) ListCommits(_ context.Context, path string, limit int) ([]Commit, error) {
	repo, err := git.PlainOpen(g.fullPath(path))
	if err != nil {
		return nil, errors.Wrapf(err, "open repository %s", path)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, errors.Wrap(err, "resolve head")
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errors.Wrap(err, "read log")
	}
	defer iter.Close()

	var out []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return storer.ErrStop
		}
		out = append(out, Commit{
			SHA:     c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "iterate log")
	}
	return out, nil
}

// CreateBranch creates a branch at head. Existing branches are a no-op.
func (g *GitRepository) CreateBranch(_ context.Context, path, name string) error {
	repo, err := git.PlainOpen(g.fullPath(path))
	if err != nil {
		return errors.Wrapf(err, "open repository %s", path)
	}

	refName := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(refName, false); err == nil {
		return nil
	}

	head, err := repo.Head()
	if err != nil {
		return errors.Wrap(err, "resolve head")
	}
	ref := plumbing.NewHashReference(refName, head.Hash())
	if err := repo.Storer.SetReference(ref); err != nil {
		return errors.Wrapf(err, "create branch %s", name)
	}
	return nil
}

// MergeBranch fast-forwards the default branch to name. Divergent history
// is an InvalidState error; there is no merge-commit path.
func (g *GitRepository) MergeBranch(_ context.Context, path, name string) (string, error) {
	repo, err := git.PlainOpen(g.fullPath(path))
	if err != nil {
		return "", errors.Wrapf(err, "open repository %s", path)
	}

	branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		return "", errors.Wrapf(errors.ErrNotFound, "branch %q in %s", name, path)
	}
	mainRefName := plumbing.NewBranchReferenceName(DefaultBranch)
	mainRef, err := repo.Reference(mainRefName, true)
	if err != nil {
		return "", errors.Wrap(err, "resolve default branch")
	}

	if branchRef.Hash() == mainRef.Hash() {
		return mainRef.Hash().String(), nil
	}

	branchCommit, err := repo.CommitObject(branchRef.Hash())
	if err != nil {
		return "", errors.Wrap(err, "load branch commit")
	}
	mainCommit, err := repo.CommitObject(mainRef.Hash())
	if err != nil {
		return "", errors.Wrap(err, "load default branch commit")
	}

	ancestor, err := mainCommit.IsAncestor(branchCommit)
	if err != nil {
		return "", errors.Wrap(err, "ancestry check")
	}
	if !ancestor {
		return "", errors.Wrapf(errors.ErrInvalidState,
			"branch %q has diverged from %s, cannot fast-forward", name, DefaultBranch)
	}

	if err := repo.Storer.SetReference(
		plumbing.NewHashReference(mainRefName, branchRef.Hash())); err != nil {
		return "", errors.Wrapf(err, "fast-forward %s", DefaultBranch)
	}
	return branchRef.Hash().String(), nil
}

type protectionRules struct {
	Branch            string `json:"branch"`
	RequireLinearHead bool   `json:"require_linear_head"`
	ForbidForcePush   bool   `json:"forbid_force_push"`
}

// EnsureBranchProtection records protection rules as a committed metadata
// file. An existing file means the effect already holds.
func (g *GitRepository) EnsureBranchProtection(ctx context.Context, path, branch string) error {
	metaPath := filepath.Join(metaDir, "protection-"+branch+".json")
	if _, err := g.ReadFile(ctx, path, "", metaPath); err == nil {
		return nil
	}

	rules, err := json.MarshalIndent(protectionRules{
		Branch:            branch,
		RequireLinearHead: true,
		ForbidForcePush:   true,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal protection rules")
	}

	_, err = g.CommitFiles(ctx, path, DefaultBranch,
		"Configure protection for "+branch, "phiacta",
		[]File{{Path: metaPath, Content: rules}})
	return err
}

type webhookRegistration struct {
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// EnsureWebhook records a webhook registration as a committed metadata
// file, keyed by nothing but its fixed path so re-registration is a no-op.
func (g *GitRepository) EnsureWebhook(ctx context.Context, path, url string) error {
	metaPath := filepath.Join(metaDir, "webhook.json")
	if _, err := g.ReadFile(ctx, path, "", metaPath); err == nil {
		return nil
	}

	reg, err := json.MarshalIndent(webhookRegistration{
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal webhook registration")
	}

	_, err = g.CommitFiles(ctx, path, DefaultBranch,
		"Register webhook", "phiacta",
		[]File{{Path: metaPath, Content: reg}})
	return err
}

// HeadSHA returns the head commit of the default branch.
func (g *GitRepository) HeadSHA(_ context.Context, path string) (string, error) {
	repo, err := git.PlainOpen(g.fullPath(path))
	if err != nil {
		return "", errors.Wrapf(err, "open repository %s", path)
	}
	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "resolve head")
	}
	return head.Hash().String(), nil
}
