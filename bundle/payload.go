// Package bundle implements the ingestion pipeline: the single write path
// by which external collaborators submit batches of claims, edges and
// artifacts. A bundle commits atomically or not at all.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/phiacta/phiacta/errors"
)

// Ref names another entity from inside a bundle: a temporary id assigned
// by the caller to an item in the same bundle, an existing claim id, or
// an external reference string to be deferred as a pending reference.
// Exactly one field must be set.
type Ref struct {
	TempID      string `json:"temp_id,omitempty"`
	ClaimID     string `json:"claim_id,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// IsZero reports whether no field is set.
func (r Ref) IsZero() bool {
	return r.TempID == "" && r.ClaimID == "" && r.ExternalRef == ""
}

func (r Ref) setCount() int {
	n := 0
	if r.TempID != "" {
		n++
	}
	if r.ClaimID != "" {
		n++
	}
	if r.ExternalRef != "" {
		n++
	}
	return n
}

// SourcePayload describes where the bundle's claims were extracted from.
type SourcePayload struct {
	SourceType  string         `json:"source_type"`
	Title       string         `json:"title,omitempty"`
	ExternalRef string         `json:"external_ref,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// ClaimPayload is one claim to create. LineageID, when set, extends an
// existing lineage with the next version instead of starting a new one.
type ClaimPayload struct {
	TempID        string         `json:"temp_id"`
	Content       string         `json:"content"`
	FormalContent string         `json:"formal_content,omitempty"`
	ClaimType     string         `json:"claim_type"`
	LineageID     string         `json:"lineage_id,omitempty"`
	ExternalRef   string         `json:"external_ref,omitempty"`
	Attrs         map[string]any `json:"attrs,omitempty"`

	// Extraction metadata becomes a provenance record when the bundle
	// carries a source.
	ExtractionMethod     string  `json:"extraction_method,omitempty"`
	ExtractionConfidence float64 `json:"extraction_confidence,omitempty"`
	Location             string  `json:"location,omitempty"`
}

// EdgePayload is one edge to create. Target may carry an external
// reference, which defers the edge as a pending reference; Source must
// resolve inside the store.
type EdgePayload struct {
	Source   Ref            `json:"source"`
	Target   Ref            `json:"target"`
	EdgeType string         `json:"edge_type"`
	Strength *float64       `json:"strength,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// ArtifactPayload is a supplementary blob and the claims it attaches to.
type ArtifactPayload struct {
	Kind        string         `json:"kind"`
	MediaType   string         `json:"media_type,omitempty"`
	URI         string         `json:"uri"`
	ContentHash string         `json:"content_hash,omitempty"`
	Claims      []Ref          `json:"claims,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// Payload is the full bundle submission.
type Payload struct {
	Source    *SourcePayload    `json:"source,omitempty"`
	Claims    []ClaimPayload    `json:"claims"`
	Edges     []EdgePayload     `json:"edges,omitempty"`
	Artifacts []ArtifactPayload `json:"artifacts,omitempty"`
}

// Hash returns the canonical SHA-256 of the payload, used to distinguish
// an idempotent replay from a key reuse with different content.
func (p *Payload) Hash() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "marshal payload for hashing")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Result statuses
const (
	StatusAccepted        = "accepted"
	StatusAlreadyAccepted = "already_accepted"
)

// Warning is a non-fatal finding attached to an accepted bundle.
type Warning struct {
	TempID         string  `json:"temp_id"`
	SimilarClaimID string  `json:"similar_claim_id"`
	Similarity     float64 `json:"similarity"`
}

// PendingRef reports a deferred edge created as a pending reference.
type PendingRef struct {
	ID            string `json:"id"`
	SourceClaimID string `json:"source_claim_id"`
	ExternalRef   string `json:"external_ref"`
	EdgeType      string `json:"edge_type"`
}

// Result is the outcome of an accepted bundle. Replays of the same key
// and payload return the original Result with StatusAlreadyAccepted.
type Result struct {
	BundleID          string            `json:"bundle_id"`
	Status            string            `json:"status"`
	ClaimIDs          map[string]string `json:"claim_ids"` // temp id -> created claim id
	SourceID          string            `json:"source_id,omitempty"`
	EdgeIDs           []string          `json:"edge_ids,omitempty"`
	ArtifactIDs       []string          `json:"artifact_ids,omitempty"`
	PendingReferences []PendingRef      `json:"pending_references,omitempty"`
	Warnings          []Warning         `json:"warnings,omitempty"`
}
