package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/config"
)

func TestDefault_CarriesDocumentedDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "phiacta.db", cfg.Database.Path)
	assert.Equal(t, 500, cfg.Bundle.MaxClaims)
	assert.Equal(t, 0.92, cfg.Bundle.DuplicateSimilarityThreshold)
	assert.False(t, cfg.Bundle.DegradeWithoutEmbeddings)
	assert.Equal(t, 0, cfg.Bundle.PendingReferenceTTLDays, "Pending references never expire by default")

	assert.Equal(t, 0.7, cfg.Confidence.DirectWeight)
	assert.Equal(t, 0.3, cfg.Confidence.EvidenceWeight)
	assert.Equal(t, 0.7, cfg.Confidence.EndorsementThreshold)
	assert.Equal(t, 5, cfg.Confidence.EvidenceDepth)

	assert.Equal(t, 3, cfg.Traversal.DefaultMaxDepth)
	assert.Equal(t, 10, cfg.Traversal.HardMaxDepth)
	assert.Equal(t, 2000, cfg.Traversal.HardMaxNodes)

	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)
	assert.Equal(t, 60, cfg.Outbox.BackoffCapSeconds)

	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Empty(t, cfg.Embeddings.URL, "No embedding service unless configured")
	assert.False(t, cfg.ContentRepo.Enabled)

	require.NoError(t, cfg.Validate(), "Defaults must validate")
}

func TestLoadFromFile_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phiacta.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/var/lib/phiacta/phiacta.db"

[bundle]
max_claims = 50

[confidence]
endorsement_threshold = 0.8

[content_repo]
enabled = true
root = "/var/lib/phiacta/repos"
`), 0o644))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/phiacta/phiacta.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Bundle.MaxClaims)
	assert.Equal(t, 0.8, cfg.Confidence.EndorsementThreshold)
	assert.True(t, cfg.ContentRepo.Enabled)
	assert.Equal(t, "/var/lib/phiacta/repos", cfg.ContentRepo.Root)

	// Untouched keys keep their defaults.
	assert.Equal(t, 0.92, cfg.Bundle.DuplicateSimilarityThreshold)
	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)
}

func TestLoadFromFile_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phiacta.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[confidence]
direct_weight = 0.9
evidence_weight = 0.5
`), 0o644))

	_, err := config.LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidate_Bounds(t *testing.T) {
	cfg := config.Default()
	cfg.Confidence.EvidenceDepth = 9
	require.Error(t, cfg.Validate(), "Evidence depth is capped at 5")

	cfg = config.Default()
	cfg.Bundle.DuplicateSimilarityThreshold = 1.5
	require.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Outbox.MaxAttempts = 0
	require.Error(t, cfg.Validate())

	// Depth zero is a legal default (start node only); negative is not.
	cfg = config.Default()
	cfg.Traversal.DefaultMaxDepth = 0
	require.NoError(t, cfg.Validate())

	cfg = config.Default()
	cfg.Traversal.DefaultMaxDepth = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative")

	cfg = config.Default()
	cfg.Traversal.DefaultMaxNodes = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive")
}
