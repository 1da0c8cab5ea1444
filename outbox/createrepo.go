package outbox

import (
	"context"
	"encoding/json"
	"path"

	"go.uber.org/zap"

	"github.com/phiacta/phiacta/contentrepo"
	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/store"
)

// OperationCreateRepo provisions an external content repository for a
// claim: create the repository, commit the claim files, configure branch
// protection, register the webhook, then mark the claim ready.
const OperationCreateRepo = "create_repo"

// CreateRepoPayload is the payload for OperationCreateRepo.
type CreateRepoPayload struct {
	ClaimID    string `json:"claim_id"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// ClaimStore is the slice of the entity store the handler needs.
type ClaimStore interface {
	GetClaim(ctx context.Context, id string) (*store.Claim, error)
	SetRepoState(ctx context.Context, id, repoPath, headSHA, repoStatus string) error
}

// CreateRepoHandler executes the create_repo compound operation. Every
// sub-step checks for its effect before acting, so a re-run after partial
// failure picks up where the last attempt stopped.
type CreateRepoHandler struct {
	claims ClaimStore
	repos  contentrepo.Repository
	logger *zap.SugaredLogger
}

// NewCreateRepoHandler wires the handler.
func NewCreateRepoHandler(claims ClaimStore, repos contentrepo.Repository, logger *zap.SugaredLogger) *CreateRepoHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CreateRepoHandler{claims: claims, repos: repos, logger: logger}
}

func (h *CreateRepoHandler) Operation() string { return OperationCreateRepo }

// Execute runs the compound sequence.
func (h *CreateRepoHandler) Execute(ctx context.Context, raw json.RawMessage) error {
	var payload CreateRepoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errors.Wrap(err, "decode create_repo payload")
	}
	if payload.ClaimID == "" {
		return errors.New("create_repo payload missing claim_id")
	}

	claim, err := h.claims.GetClaim(ctx, payload.ClaimID)
	if err != nil {
		return err
	}

	repoPath := claim.RepoPath
	if repoPath == "" {
		repoPath = path.Join("claims", claim.LineageID)
	}

	if err := h.repos.CreateRepo(ctx, repoPath); err != nil {
		return errors.Wrap(err, "create repository")
	}

	headSHA, err := h.repos.CommitFiles(ctx, repoPath, contentrepo.DefaultBranch,
		"Store claim "+claim.ID, "phiacta", claimFiles(claim))
	if err != nil {
		return errors.Wrap(err, "commit claim files")
	}

	if err := h.repos.EnsureBranchProtection(ctx, repoPath, contentrepo.DefaultBranch); err != nil {
		return errors.Wrap(err, "configure branch protection")
	}

	if payload.WebhookURL != "" {
		if err := h.repos.EnsureWebhook(ctx, repoPath, payload.WebhookURL); err != nil {
			return errors.Wrap(err, "register webhook")
		}
	}

	// Protection and webhook commits move head past the claim commit.
	if sha, err := h.repos.HeadSHA(ctx, repoPath); err == nil {
		headSHA = sha
	}

	if err := h.claims.SetRepoState(ctx, claim.ID, repoPath, headSHA, store.RepoStatusReady); err != nil {
		return errors.Wrap(err, "mark claim repository ready")
	}

	h.logger.Infow("Provisioned content repository",
		"claim_id", claim.ID,
		"repo_path", repoPath,
		"head_sha", headSHA,
	)
	return nil
}

// OnTerminalFailure marks the owning claim so the inconsistency is
// visible to callers instead of silent.
func (h *CreateRepoHandler) OnTerminalFailure(ctx context.Context, raw json.RawMessage, lastErr error) {
	var payload CreateRepoPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ClaimID == "" {
		return
	}
	if err := h.claims.SetRepoState(ctx, payload.ClaimID, "", "", store.RepoStatusError); err != nil {
		h.logger.Errorw("Failed to mark claim repo_status after terminal outbox failure",
			"claim_id", payload.ClaimID,
			"error", err,
		)
		return
	}
	h.logger.Errorw("Claim repository provisioning terminally failed",
		"claim_id", payload.ClaimID,
		"error", lastErr,
	)
}

// claimFiles renders the repository content for one claim version.
func claimFiles(c *store.Claim) []contentrepo.File {
	meta, _ := json.MarshalIndent(c, "", "  ")
	files := []contentrepo.File{
		{Path: "claim.md", Content: []byte(c.Content + "\n")},
		{Path: "claim.json", Content: meta},
	}
	if c.FormalContent != "" {
		files = append(files, contentrepo.File{Path: "claim.formal", Content: []byte(c.FormalContent + "\n")})
	}
	return files
}
