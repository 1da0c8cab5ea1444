package bundle

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/phiacta/phiacta/config"
	"github.com/phiacta/phiacta/embedding"
	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/outbox"
	"github.com/phiacta/phiacta/store"
)

// EmbeddingStore is the slice of the embedding layer the pipeline uses:
// similarity lookups during duplicate detection and persistence after
// commit.
type EmbeddingStore interface {
	Save(ctx context.Context, m *embedding.Model) error
	SimilarClaims(ctx context.Context, query []float32, limit int, threshold float64) ([]embedding.Similar, error)
}

// Enqueuer defers external work into the outbox inside the bundle's
// transaction.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx *sql.Tx, operation string, payload any) (string, error)
}

// Pipeline is the bundle ingestion pipeline. It is the only component
// that opens write transactions spanning multiple entities.
type Pipeline struct {
	store      *store.Store
	embedder   embedding.Embedder
	embeddings EmbeddingStore
	outbox     Enqueuer
	limiter    *rate.Limiter
	cfg        config.BundleConfig
	logger     *zap.SugaredLogger
}

// NewPipeline wires the pipeline. embedder and embeddings may be nil only
// when degrade_without_embeddings is configured; outbox may be nil when
// no external content repository is in play.
func NewPipeline(s *store.Store, embedder embedding.Embedder, embeddings EmbeddingStore, enqueuer Enqueuer, cfg config.BundleConfig, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	perMinute := cfg.SubmitsPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Pipeline{
		store:      s,
		embedder:   embedder,
		embeddings: embeddings,
		outbox:     enqueuer,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		cfg:        cfg,
		logger:     logger,
	}
}

// Submit runs the full ingestion sequence for one bundle. The bundle
// either commits in its entirety or leaves no trace; warnings never block
// acceptance. Replays with the same key and payload return the cached
// result without re-executing side effects.
func (p *Pipeline) Submit(ctx context.Context, idempotencyKey, submittedBy, extensionID string, payload *Payload) (*Result, error) {
	if idempotencyKey == "" {
		return nil, errors.Wrap(errors.ErrValidation, "idempotency key must not be empty")
	}
	if !p.limiter.Allow() {
		return nil, errors.Wrap(errors.ErrRateLimited, "bundle submission rate exceeded")
	}

	hash, err := payload.Hash()
	if err != nil {
		return nil, err
	}

	if cached, err := p.replay(ctx, idempotencyKey, hash); err != nil || cached != nil {
		return cached, err
	}

	if err := p.validate(ctx, payload); err != nil {
		return nil, err
	}

	vectors, err := p.embedClaims(ctx, payload.Claims)
	if err != nil {
		return nil, err
	}

	warnings, err := p.duplicateWarnings(ctx, payload.Claims, vectors)
	if err != nil {
		return nil, err
	}

	result, err := p.commit(ctx, idempotencyKey, hash, submittedBy, extensionID, payload, warnings)
	if err != nil {
		return nil, err
	}

	p.afterCommit(ctx, payload, result, vectors)

	p.logger.Infow("Bundle accepted",
		"bundle_id", result.BundleID,
		"claims", len(result.ClaimIDs),
		"edges", len(result.EdgeIDs),
		"pending_references", len(result.PendingReferences),
		"warnings", len(result.Warnings),
	)
	return result, nil
}

// replay returns the cached result when the key has already been accepted
// with an identical payload, and IdempotencyConflict when the key is
// bound to different content. nil, nil means a fresh submission.
func (p *Pipeline) replay(ctx context.Context, key, hash string) (*Result, error) {
	existing, err := p.store.GetBundleByKey(ctx, key)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if existing.PayloadHash != hash {
		return nil, errors.Wrapf(errors.ErrIdempotencyConflict,
			"idempotency key %q was used with a different payload", key)
	}

	var result Result
	if err := json.Unmarshal([]byte(existing.Result), &result); err != nil {
		return nil, errors.Wrap(err, "decode cached bundle result")
	}
	result.Status = StatusAlreadyAccepted
	return &result, nil
}

// embedClaims computes one vector per claim. An unavailable embedding
// function aborts the bundle unless degradation is configured, in which
// case the affected claims commit without vectors.
func (p *Pipeline) embedClaims(ctx context.Context, claims []ClaimPayload) ([][]float32, error) {
	vectors := make([][]float32, len(claims))
	if p.embedder == nil {
		if p.cfg.DegradeWithoutEmbeddings {
			return vectors, nil
		}
		return nil, errors.Wrap(errors.ErrUpstreamUnavailable, "no embedding function configured")
	}

	for i, c := range claims {
		vec, err := p.embedder.Embed(ctx, c.Content)
		if err != nil {
			if p.cfg.DegradeWithoutEmbeddings {
				p.logger.Warnw("Committing claim without embedding",
					"temp_id", c.TempID,
					"error", err,
				)
				continue
			}
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// duplicateWarnings attaches a warning for every existing claim whose
// embedding sits at or above the similarity threshold. High similarity
// never blocks insertion.
func (p *Pipeline) duplicateWarnings(ctx context.Context, claims []ClaimPayload, vectors [][]float32) ([]Warning, error) {
	if p.embeddings == nil {
		return nil, nil
	}

	var warnings []Warning
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		hits, err := p.embeddings.SimilarClaims(ctx, vec, 5, p.cfg.DuplicateSimilarityThreshold)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			warnings = append(warnings, Warning{
				TempID:         claims[i].TempID,
				SimilarClaimID: hit.SourceID,
				Similarity:     hit.Similarity,
			})
		}
	}
	return warnings, nil
}

// commit runs the single all-or-nothing transaction.
func (p *Pipeline) commit(ctx context.Context, key, hash, submittedBy, extensionID string, payload *Payload, warnings []Warning) (*Result, error) {
	tx, err := p.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin bundle tx")
	}
	defer tx.Rollback()

	result := &Result{
		BundleID: uuid.NewString(),
		Status:   StatusAccepted,
		ClaimIDs: make(map[string]string, len(payload.Claims)),
		Warnings: warnings,
	}

	var sourceID string
	if payload.Source != nil {
		src, err := p.store.CreateSourceTx(ctx, tx, store.NewSource{
			SourceType:  payload.Source.SourceType,
			Title:       payload.Source.Title,
			ExternalRef: payload.Source.ExternalRef,
			ContentHash: payload.Source.ContentHash,
			SubmittedBy: submittedBy,
			Attrs:       payload.Source.Attrs,
		})
		if err != nil {
			return nil, err
		}
		sourceID = src.ID
		result.SourceID = sourceID
	}

	createdClaims := make([]*store.Claim, 0, len(payload.Claims))
	for _, cp := range payload.Claims {
		nc := store.NewClaim{
			Content:       cp.Content,
			FormalContent: cp.FormalContent,
			ClaimType:     cp.ClaimType,
			ExternalRef:   cp.ExternalRef,
			CreatedBy:     submittedBy,
			Attrs:         cp.Attrs,
		}

		var claim *store.Claim
		if cp.LineageID != "" {
			claim, err = p.store.ExtendLineageTx(ctx, tx, cp.LineageID, nc)
		} else {
			claim, err = p.store.CreateClaimTx(ctx, tx, nc)
		}
		if err != nil {
			return nil, err
		}
		result.ClaimIDs[cp.TempID] = claim.ID
		createdClaims = append(createdClaims, claim)

		if sourceID != "" && cp.ExtractionMethod != "" {
			if _, err := p.store.AddProvenanceTx(ctx, tx, store.NewProvenance{
				ClaimID:              claim.ID,
				SourceID:             sourceID,
				ExtractedBy:          submittedBy,
				ExtractionMethod:     cp.ExtractionMethod,
				Location:             cp.Location,
				ExtractionConfidence: cp.ExtractionConfidence,
			}); err != nil {
				return nil, err
			}
		}
	}

	for _, ep := range payload.Edges {
		srcID := p.resolveRef(ep.Source, result.ClaimIDs)

		if ep.Target.ExternalRef != "" {
			ref, err := p.store.CreatePendingReferenceTx(ctx, tx, srcID, ep.Target.ExternalRef, ep.EdgeType, submittedBy)
			if err != nil {
				return nil, err
			}
			result.PendingReferences = append(result.PendingReferences, PendingRef{
				ID:            ref.ID,
				SourceClaimID: srcID,
				ExternalRef:   ref.ExternalRef,
				EdgeType:      ref.EdgeType,
			})
			continue
		}

		edge, err := p.store.CreateEdgeTx(ctx, tx, store.NewEdge{
			SourceID:         srcID,
			TargetID:         p.resolveRef(ep.Target, result.ClaimIDs),
			EdgeType:         ep.EdgeType,
			Strength:         ep.Strength,
			CreatedBy:        submittedBy,
			SourceProvenance: sourceID,
			Attrs:            ep.Attrs,
		})
		if err != nil {
			return nil, err
		}
		result.EdgeIDs = append(result.EdgeIDs, edge.ID)
	}

	for _, ap := range payload.Artifacts {
		art, err := p.store.CreateArtifactTx(ctx, tx, store.NewArtifact{
			BundleID:    result.BundleID,
			Kind:        ap.Kind,
			MediaType:   ap.MediaType,
			URI:         ap.URI,
			ContentHash: ap.ContentHash,
			Attrs:       ap.Attrs,
		})
		if err != nil {
			return nil, err
		}
		result.ArtifactIDs = append(result.ArtifactIDs, art.ID)

		for _, ref := range ap.Claims {
			if err := p.store.LinkArtifactClaimTx(ctx, tx, art.ID, p.resolveRef(ref, result.ClaimIDs)); err != nil {
				return nil, err
			}
		}
	}

	if p.outbox != nil {
		for _, claim := range createdClaims {
			if _, err := p.outbox.EnqueueTx(ctx, tx, outbox.OperationCreateRepo,
				outbox.CreateRepoPayload{ClaimID: claim.ID}); err != nil {
				return nil, err
			}
		}
		for _, claim := range createdClaims {
			if err := setRepoStatusTx(ctx, tx, claim.ID, store.RepoStatusProvisioning); err != nil {
				return nil, err
			}
		}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "marshal bundle result")
	}
	if err := p.store.InsertBundleTx(ctx, tx, &store.Bundle{
		ID:             result.BundleID,
		IdempotencyKey: key,
		PayloadHash:    hash,
		SubmittedBy:    submittedBy,
		ExtensionID:    extensionID,
		Status:         store.BundleStatusAccepted,
		ClaimCount:     len(result.ClaimIDs),
		EdgeCount:      len(result.EdgeIDs),
		ArtifactCount:  len(result.ArtifactIDs),
		Result:         string(resultJSON),
		SubmittedAt:    time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit bundle tx")
	}
	return result, nil
}

// resolveRef maps a validated reference to a concrete claim id. Callers
// run after validation, so unresolvable refs cannot reach here.
func (p *Pipeline) resolveRef(ref Ref, claimIDs map[string]string) string {
	if ref.TempID != "" {
		return claimIDs[ref.TempID]
	}
	return ref.ClaimID
}

func setRepoStatusTx(ctx context.Context, tx *sql.Tx, claimID, status string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE claims SET repo_status = ? WHERE id = ?`, status, claimID)
	if err != nil {
		return errors.Wrap(err, "update claim repo status")
	}
	return nil
}

// afterCommit runs the best-effort post-commit work: persisting
// embeddings, sweeping pending references against the new claims, and
// expiring stale pending references. Failures here never undo the
// committed bundle; they are logged and recoverable on later submissions.
func (p *Pipeline) afterCommit(ctx context.Context, payload *Payload, result *Result, vectors [][]float32) {
	if p.embeddings != nil && p.embedder != nil {
		for i, cp := range payload.Claims {
			if vectors[i] == nil {
				continue
			}
			m := &embedding.Model{
				SourceType: embedding.SourceTypeClaim,
				SourceID:   result.ClaimIDs[cp.TempID],
				Text:       cp.Content,
				Embedding:  embedding.Serialize(vectors[i]),
				ModelName:  p.embedder.Model(),
				Dimensions: p.embedder.Dimensions(),
			}
			if err := p.embeddings.Save(ctx, m); err != nil {
				p.logger.Warnw("Failed to persist claim embedding",
					"claim_id", m.SourceID,
					"error", err,
				)
			}
		}
	}

	p.resolutionSweep(ctx, payload, result)

	if ttl := p.cfg.PendingReferenceTTLDays; ttl > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -ttl)
		if n, err := p.store.ExpirePendingReferences(ctx, cutoff); err != nil {
			p.logger.Warnw("Pending-reference expiry failed", "error", err)
		} else if n > 0 {
			p.logger.Infow("Expired pending references", "count", n)
		}
	}
}

// resolutionSweep matches waiting pending references against the external
// identifiers carried by newly created claims, materializing the deferred
// edges.
func (p *Pipeline) resolutionSweep(ctx context.Context, payload *Payload, result *Result) {
	for _, cp := range payload.Claims {
		if cp.ExternalRef == "" {
			continue
		}
		claimID := result.ClaimIDs[cp.TempID]

		waiting, err := p.store.PendingByExternalRef(ctx, cp.ExternalRef)
		if err != nil {
			p.logger.Warnw("Pending-reference sweep failed",
				"external_ref", cp.ExternalRef,
				"error", err,
			)
			continue
		}

		for _, ref := range waiting {
			// The edge belongs to the agent who asserted the deferred
			// relationship, not whoever happened to resolve it.
			if _, err := p.store.CreateEdge(ctx, store.NewEdge{
				SourceID:  ref.SourceClaimID,
				TargetID:  claimID,
				EdgeType:  ref.EdgeType,
				CreatedBy: ref.CreatedBy,
			}); err != nil && !errors.Is(err, errors.ErrConflict) {
				p.logger.Warnw("Failed to materialize deferred edge",
					"pending_reference_id", ref.ID,
					"error", err,
				)
				continue
			}
			if err := p.store.ResolvePendingReference(ctx, ref.ID, claimID); err != nil {
				p.logger.Warnw("Failed to resolve pending reference",
					"pending_reference_id", ref.ID,
					"error", err,
				)
				continue
			}
			p.logger.Infow("Resolved pending reference",
				"pending_reference_id", ref.ID,
				"external_ref", ref.ExternalRef,
				"claim_id", claimID,
			)
		}
	}
}
