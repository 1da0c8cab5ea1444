package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/phiacta/phiacta/errors"
)

// Load reads configuration from phiacta.toml (working directory), with
// PHIACTA_-prefixed environment variables taking precedence. A missing
// config file is fine; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("phiacta")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PHIACTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	return LoadWithViper(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from a provided
// Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with all defaults and no file input.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are known-good; unmarshal cannot fail on them.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if w := c.Confidence.DirectWeight + c.Confidence.EvidenceWeight; w < 0.999 || w > 1.001 {
		return errors.Newf("confidence blend weights must sum to 1.0, got %.3f", w)
	}
	if t := c.Bundle.DuplicateSimilarityThreshold; t < 0 || t > 1 {
		return errors.Newf("duplicate similarity threshold must be in [0,1], got %.3f", t)
	}
	if c.Confidence.EvidenceDepth < 1 || c.Confidence.EvidenceDepth > 5 {
		return errors.Newf("confidence evidence depth must be in [1,5], got %d", c.Confidence.EvidenceDepth)
	}
	if c.Traversal.DefaultMaxDepth < 0 {
		return errors.New("traversal default_max_depth must be non-negative")
	}
	if c.Traversal.DefaultMaxNodes < 1 {
		return errors.New("traversal default_max_nodes must be positive")
	}
	if c.Outbox.MaxAttempts < 1 {
		return errors.New("outbox max_attempts must be at least 1")
	}
	return nil
}
