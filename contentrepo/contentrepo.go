// Package contentrepo abstracts the external content repository. The
// outbox worker is the only caller; nothing on the synchronous request
// path touches these operations.
package contentrepo

import (
	"context"
	"time"
)

// DefaultBranch is the branch claim content lives on.
const DefaultBranch = "main"

// File is one path/content pair to commit.
type File struct {
	Path    string
	Content []byte
}

// Commit is a single commit in a repository's history.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Repository is the content-repository contract. Every operation must be
// idempotent: it first checks whether its effect already exists, so the
// outbox worker can safely re-run a compound sequence after a partial
// failure.
type Repository interface {
	// CreateRepo initializes the repository at path. Existing repositories
	// are left untouched.
	CreateRepo(ctx context.Context, path string) error

	// RepoExists reports whether a repository exists at path.
	RepoExists(ctx context.Context, path string) (bool, error)

	// CommitFiles writes files on branch and commits them, returning the
	// resulting head SHA. Committing content identical to the current head
	// is a no-op that returns the existing SHA.
	CommitFiles(ctx context.Context, path, branch, message, author string, files []File) (string, error)

	// ReadFile returns a file's content at the given ref ("" means head).
	ReadFile(ctx context.Context, path, ref, filePath string) ([]byte, error)

	// ListCommits returns up to limit commits, newest first.
	ListCommits(ctx context.Context, path string, limit int) ([]Commit, error)

	// CreateBranch creates a branch at the current head. Existing branches
	// are left untouched.
	CreateBranch(ctx context.Context, path, name string) error

	// MergeBranch fast-forwards the default branch to the named branch.
	MergeBranch(ctx context.Context, path, name string) (string, error)

	// EnsureBranchProtection records protection rules for a branch.
	EnsureBranchProtection(ctx context.Context, path, branch string) error

	// EnsureWebhook records a webhook registration.
	EnsureWebhook(ctx context.Context, path, url string) error

	// HeadSHA returns the current head commit of the default branch.
	HeadSHA(ctx context.Context, path string) (string, error)
}
