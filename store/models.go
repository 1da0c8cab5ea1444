// Package store provides the Phiacta entity store: durable SQLite
// persistence for agents, sources, claims, edges, provenance, reviews,
// bundles, pending references and artifacts, plus the versioning engine
// for claim lineages.
package store

import (
	"encoding/json"
	"time"

	"github.com/phiacta/phiacta/errors"
)

// Claim status values
const (
	ClaimStatusDraft      = "draft"
	ClaimStatusActive     = "active"
	ClaimStatusDeprecated = "deprecated"
	ClaimStatusRetracted  = "retracted"
)

// Repo status values for the external content repository lifecycle
const (
	RepoStatusNone         = "none"
	RepoStatusProvisioning = "provisioning"
	RepoStatusReady        = "ready"
	RepoStatusError        = "error"
)

// Agent kinds
const (
	AgentKindHuman        = "human"
	AgentKindAI           = "ai"
	AgentKindOrganization = "organization"
	AgentKindPipeline     = "pipeline"
)

// Review verdicts
const (
	VerdictEndorse = "endorse"
	VerdictDispute = "dispute"
	VerdictNeutral = "neutral"
)

// Edge type categories
const (
	CategoryEvidential = "evidential"
	CategoryLogical    = "logical"
	CategoryStructural = "structural"
	CategoryEditorial  = "editorial"
)

// Pending reference status values
const (
	PendingStatusPending  = "pending"
	PendingStatusResolved = "resolved"
	PendingStatusExpired  = "expired"
)

// Claim is an atomic, versioned knowledge assertion. Content, version and
// lineage are immutable once created; editing always inserts a new version
// with Supersedes pointing at the predecessor.
type Claim struct {
	ID            string         `json:"id"`
	LineageID     string         `json:"lineage_id"`
	Version       int            `json:"version"`
	Content       string         `json:"content"`
	FormalContent string         `json:"formal_content,omitempty"`
	ClaimType     string         `json:"claim_type"`
	Status        string         `json:"status"`
	Supersedes    string         `json:"supersedes,omitempty"`
	ExternalRef   string         `json:"external_ref,omitempty"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	Attrs         map[string]any `json:"attrs,omitempty"`

	RepoPath   string `json:"repo_path,omitempty"`
	HeadSHA    string `json:"head_sha,omitempty"`
	RepoStatus string `json:"repo_status"`
}

// Agent is a contributor identity. TrustScore is read by the confidence
// engine and written by an external trust provider, never computed here.
type Agent struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	DisplayName string         `json:"display_name"`
	ExternalID  string         `json:"external_id,omitempty"`
	TrustScore  float64        `json:"trust_score"`
	Attrs       map[string]any `json:"attrs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Source describes where claims were extracted from.
type Source struct {
	ID          string         `json:"id"`
	SourceType  string         `json:"source_type"`
	Title       string         `json:"title,omitempty"`
	ExternalRef string         `json:"external_ref,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	SubmittedBy string         `json:"submitted_by"`
	Attrs       map[string]any `json:"attrs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EdgeType is a registry entry describing relationship semantics.
// Traversal and reasoning consult these flags instead of hardcoding
// per-type behavior.
type EdgeType struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	InverseName  string `json:"inverse_name,omitempty"`
	IsTransitive bool   `json:"is_transitive"`
	IsSymmetric  bool   `json:"is_symmetric"`
	Category     string `json:"category"`
}

// Edge is a typed, directed relationship between two specific claim
// versions. Edges are never rewritten when a target is superseded.
type Edge struct {
	ID               string         `json:"id"`
	SourceID         string         `json:"source_id"`
	TargetID         string         `json:"target_id"`
	EdgeType         string         `json:"edge_type"`
	Strength         *float64       `json:"strength,omitempty"`
	CreatedBy        string         `json:"created_by"`
	SourceProvenance string         `json:"source_provenance,omitempty"`
	Attrs            map[string]any `json:"attrs,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Provenance links a claim to the source it was extracted from.
// ExtractionConfidence is about the extraction, distinct from claim
// confidence.
type Provenance struct {
	ID                   string         `json:"id"`
	ClaimID              string         `json:"claim_id"`
	SourceID             string         `json:"source_id"`
	ExtractedBy          string         `json:"extracted_by"`
	ExtractionMethod     string         `json:"extraction_method"`
	Location             string         `json:"location,omitempty"`
	ExtractionConfidence float64        `json:"extraction_confidence"`
	Attrs                map[string]any `json:"attrs,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Review is an agent's assessment of a claim version. Reviews are never
// hard-deleted; withdrawal sets WithdrawnAt.
type Review struct {
	ID          string     `json:"id"`
	ClaimID     string     `json:"claim_id"`
	ReviewerID  string     `json:"reviewer_id"`
	Verdict     string     `json:"verdict"`
	Confidence  float64    `json:"confidence"`
	Comment     string     `json:"comment,omitempty"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Bundle records an atomically committed batch.
type Bundle struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	PayloadHash    string         `json:"payload_hash"`
	SubmittedBy    string         `json:"submitted_by"`
	ExtensionID    string         `json:"extension_id,omitempty"`
	Status         string         `json:"status"`
	ClaimCount     int            `json:"claim_count"`
	EdgeCount      int            `json:"edge_count"`
	ArtifactCount  int            `json:"artifact_count"`
	Result         string         `json:"-"` // cached submit result JSON
	SubmittedAt    time.Time      `json:"submitted_at"`
	Attrs          map[string]any `json:"attrs,omitempty"`
}

// PendingReference is a forward reference awaiting resolution to a real
// claim.
type PendingReference struct {
	ID            string     `json:"id"`
	SourceClaimID string     `json:"source_claim_id"`
	ExternalRef   string     `json:"external_ref"`
	EdgeType      string     `json:"edge_type"`
	CreatedBy     string     `json:"created_by"`
	Status        string     `json:"status"`
	ResolvedTo    string     `json:"resolved_to,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Artifact is a supplementary file or blob attached to a bundle.
type Artifact struct {
	ID          string         `json:"id"`
	BundleID    string         `json:"bundle_id,omitempty"`
	Kind        string         `json:"kind"`
	MediaType   string         `json:"media_type,omitempty"`
	URI         string         `json:"uri"`
	ContentHash string         `json:"content_hash,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// marshalAttrs serializes an attribute map for a TEXT column. Nil maps
// become the empty object so the column's DEFAULT semantics hold.
func marshalAttrs(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", errors.Wrap(err, "marshal attrs")
	}
	return string(data), nil
}

// unmarshalAttrs deserializes an attribute TEXT column.
func unmarshalAttrs(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, errors.Wrap(err, "unmarshal attrs")
	}
	return attrs, nil
}
