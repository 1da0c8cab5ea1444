// Package config manages Phiacta core configuration via Viper.
//
// Every constant the design leaves tunable (duplicate-similarity
// threshold, confidence blend weights, traversal caps, outbox retry
// policy, pending-reference expiry) lives here rather than in code.
package config

// Config is the root configuration structure
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Bundle      BundleConfig      `mapstructure:"bundle"`
	Confidence  ConfidenceConfig  `mapstructure:"confidence"`
	Traversal   TraversalConfig   `mapstructure:"traversal"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	ContentRepo ContentRepoConfig `mapstructure:"content_repo"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// BundleConfig holds ingestion pipeline settings
type BundleConfig struct {
	// MaxClaims bounds claims per bundle so no single submit can run unbounded
	MaxClaims int `mapstructure:"max_claims"`
	// DuplicateSimilarityThreshold: similarity at or above this attaches a
	// non-fatal warning naming the similar claim. Never blocks insertion.
	DuplicateSimilarityThreshold float64 `mapstructure:"duplicate_similarity_threshold"`
	// DegradeWithoutEmbeddings commits bundles even when the embedding
	// function is down. Off by default: embedding failure aborts the bundle.
	DegradeWithoutEmbeddings bool `mapstructure:"degrade_without_embeddings"`
	// SubmitsPerMinute caps bundle submissions per pipeline instance
	SubmitsPerMinute int `mapstructure:"submits_per_minute"`
	// PendingReferenceTTLDays: 0 means pending references never expire
	PendingReferenceTTLDays int `mapstructure:"pending_reference_ttl_days"`
}

// ConfidenceConfig holds confidence-aggregation settings
type ConfidenceConfig struct {
	// DirectWeight and EvidenceWeight blend direct review confidence with
	// propagated evidence confidence. Must sum to 1.0.
	DirectWeight   float64 `mapstructure:"direct_weight"`
	EvidenceWeight float64 `mapstructure:"evidence_weight"`
	// EndorsementThreshold: aggregate above this (with endorsements
	// outnumbering disputes) classifies a claim as endorsed
	EndorsementThreshold float64 `mapstructure:"endorsement_threshold"`
	// EvidenceDepth bounds propagation through evidential edges (max 5)
	EvidenceDepth int `mapstructure:"evidence_depth"`
}

// TraversalConfig holds graph traversal bounds
type TraversalConfig struct {
	DefaultMaxDepth int `mapstructure:"default_max_depth"`
	DefaultMaxNodes int `mapstructure:"default_max_nodes"`
	// HardMaxDepth and HardMaxNodes cap caller-supplied bounds
	HardMaxDepth int `mapstructure:"hard_max_depth"`
	HardMaxNodes int `mapstructure:"hard_max_nodes"`
}

// OutboxConfig holds outbox worker settings
type OutboxConfig struct {
	Workers             int `mapstructure:"workers"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts"`
	BackoffCapSeconds   int `mapstructure:"backoff_cap_seconds"`
}

// EmbeddingsConfig describes the external embedding function
type EmbeddingsConfig struct {
	// URL of the embedding service. Empty disables embedding generation,
	// which the pipeline treats as the service being unavailable unless
	// bundle.degrade_without_embeddings is set.
	URL string `mapstructure:"url"`
	// Dimensions must match the vec0 column in the embeddings migration
	Dimensions int    `mapstructure:"dimensions"`
	Model      string `mapstructure:"model"`
}

// ContentRepoConfig holds the optional external content repository settings
type ContentRepoConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Root is the directory holding per-claim git repositories
	Root string `mapstructure:"root"`
}
