package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "phiacta.db")

	// Bundle ingestion defaults
	v.SetDefault("bundle.max_claims", 500)
	v.SetDefault("bundle.duplicate_similarity_threshold", 0.92)
	v.SetDefault("bundle.degrade_without_embeddings", false)
	v.SetDefault("bundle.submits_per_minute", 60)
	v.SetDefault("bundle.pending_reference_ttl_days", 0) // never expire

	// Confidence defaults. 0.7/0.3 is a documented default, not a law.
	v.SetDefault("confidence.direct_weight", 0.7)
	v.SetDefault("confidence.evidence_weight", 0.3)
	v.SetDefault("confidence.endorsement_threshold", 0.7)
	v.SetDefault("confidence.evidence_depth", 5)

	// Traversal defaults: bounded always
	v.SetDefault("traversal.default_max_depth", 3)
	v.SetDefault("traversal.default_max_nodes", 200)
	v.SetDefault("traversal.hard_max_depth", 10)
	v.SetDefault("traversal.hard_max_nodes", 2000)

	// Outbox defaults
	v.SetDefault("outbox.workers", 1)
	v.SetDefault("outbox.poll_interval_seconds", 5)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.backoff_cap_seconds", 60)

	// Embedding function output shape
	v.SetDefault("embeddings.url", "")
	v.SetDefault("embeddings.dimensions", 384)
	v.SetDefault("embeddings.model", "all-MiniLM-L6-v2")

	// External content repository (disabled unless configured)
	v.SetDefault("content_repo.enabled", false)
	v.SetDefault("content_repo.root", "repos")
}
