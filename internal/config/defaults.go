package config

import (
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".kioku/index.db"
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "hash"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.Weights == (models.Weights{}) {
		cfg.Search.Weights = models.DefaultWeights
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 500
	}
	if cfg.Search.DefaultGranularity == "" {
		cfg.Search.DefaultGranularity = models.KindSlide
	}
	if cfg.Feedback.BoostRate == 0 {
		cfg.Feedback.BoostRate = 0.1
	}
	if cfg.Feedback.ReviewRatio == 0 {
		cfg.Feedback.ReviewRatio = 3
	}
	if cfg.Enrichment.Workers == 0 {
		cfg.Enrichment.Workers = 4
	}
	if cfg.Enrichment.Timeout == 0 {
		cfg.Enrichment.Timeout = 30 * time.Second
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".yaml", ".yml", ".json"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
