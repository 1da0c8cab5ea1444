package outbox

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/phiacta/phiacta/contentrepo"
	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/store"
)

// OperationCommitFiles re-renders a claim's files and commits them to a
// branch of its repository. Enqueued when a claim version changes after
// the repository was provisioned.
const OperationCommitFiles = "commit_files"

// OperationCreateBranch creates a branch in a claim's repository, used
// to stage proposed revisions away from the default branch.
const OperationCreateBranch = "create_branch"

// RepoOpPayload addresses a claim's repository and a branch within it.
type RepoOpPayload struct {
	ClaimID string `json:"claim_id"`
	Branch  string `json:"branch,omitempty"`
}

func decodeRepoOp(raw json.RawMessage, op string) (*RepoOpPayload, error) {
	var payload RepoOpPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrapf(err, "decode %s payload", op)
	}
	if payload.ClaimID == "" {
		return nil, errors.Newf("%s payload missing claim_id", op)
	}
	return &payload, nil
}

// CommitFilesHandler refreshes a claim's repository content. Committing
// content identical to the current head is a no-op in the repository
// layer, so re-runs are safe.
type CommitFilesHandler struct {
	claims ClaimStore
	repos  contentrepo.Repository
	logger *zap.SugaredLogger
}

// NewCommitFilesHandler wires the handler.
func NewCommitFilesHandler(claims ClaimStore, repos contentrepo.Repository, logger *zap.SugaredLogger) *CommitFilesHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CommitFilesHandler{claims: claims, repos: repos, logger: logger}
}

func (h *CommitFilesHandler) Operation() string { return OperationCommitFiles }

// Execute commits the claim's current files to the requested branch.
func (h *CommitFilesHandler) Execute(ctx context.Context, raw json.RawMessage) error {
	payload, err := decodeRepoOp(raw, OperationCommitFiles)
	if err != nil {
		return err
	}

	claim, err := h.claims.GetClaim(ctx, payload.ClaimID)
	if err != nil {
		return err
	}
	if claim.RepoPath == "" {
		return errors.Newf("claim %s has no repository", claim.ID)
	}

	branch := payload.Branch
	if branch == "" {
		branch = contentrepo.DefaultBranch
	}

	headSHA, err := h.repos.CommitFiles(ctx, claim.RepoPath, branch,
		"Update claim "+claim.ID, "phiacta", claimFiles(claim))
	if err != nil {
		return errors.Wrap(err, "commit claim files")
	}

	// Only default-branch commits move the claim's recorded head.
	if branch == contentrepo.DefaultBranch {
		if err := h.claims.SetRepoState(ctx, claim.ID, claim.RepoPath, headSHA, store.RepoStatusReady); err != nil {
			return errors.Wrap(err, "record claim head")
		}
	}

	h.logger.Infow("Committed claim files",
		"claim_id", claim.ID,
		"branch", branch,
		"head_sha", headSHA,
	)
	return nil
}

// OnTerminalFailure logs the exhausted entry; the claim's recorded head
// is untouched, so a later commit re-renders the same content.
func (h *CommitFilesHandler) OnTerminalFailure(ctx context.Context, raw json.RawMessage, lastErr error) {
	h.logger.Errorw("Claim file commit terminally failed",
		"payload", string(raw),
		"error", lastErr,
	)
}

// CreateBranchHandler creates a branch in a claim's repository.
type CreateBranchHandler struct {
	claims ClaimStore
	repos  contentrepo.Repository
	logger *zap.SugaredLogger
}

// NewCreateBranchHandler wires the handler.
func NewCreateBranchHandler(claims ClaimStore, repos contentrepo.Repository, logger *zap.SugaredLogger) *CreateBranchHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CreateBranchHandler{claims: claims, repos: repos, logger: logger}
}

func (h *CreateBranchHandler) Operation() string { return OperationCreateBranch }

// Execute creates the branch at the repository's current head. Existing
// branches are left untouched.
func (h *CreateBranchHandler) Execute(ctx context.Context, raw json.RawMessage) error {
	payload, err := decodeRepoOp(raw, OperationCreateBranch)
	if err != nil {
		return err
	}
	if payload.Branch == "" {
		return errors.New("create_branch payload missing branch")
	}

	claim, err := h.claims.GetClaim(ctx, payload.ClaimID)
	if err != nil {
		return err
	}
	if claim.RepoPath == "" {
		return errors.Newf("claim %s has no repository", claim.ID)
	}

	if err := h.repos.CreateBranch(ctx, claim.RepoPath, payload.Branch); err != nil {
		return errors.Wrap(err, "create branch")
	}

	h.logger.Infow("Created repository branch",
		"claim_id", claim.ID,
		"branch", payload.Branch,
	)
	return nil
}

// OnTerminalFailure logs the exhausted entry; branch creation is
// re-runnable, so no claim state needs repair.
func (h *CreateBranchHandler) OnTerminalFailure(ctx context.Context, raw json.RawMessage, lastErr error) {
	h.logger.Errorw("Branch creation terminally failed",
		"payload", string(raw),
		"error", lastErr,
	)
}
