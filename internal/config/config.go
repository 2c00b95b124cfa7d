// Package config provides configuration loading and structs for the kioku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kioku/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Watch      WatchConfig      `yaml:"watch"`
}

// WatchConfig holds drop-folder watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the index database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" validate:"required"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=hash onnx"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions" validate:"min=1"`
	MaxTokens  int    `yaml:"max_tokens" validate:"min=1"`
	CacheSize  int    `yaml:"cache_size" validate:"min=0"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultLimit       int              `yaml:"default_limit" validate:"min=1"`
	MaxLimit           int              `yaml:"max_limit" validate:"gtefield=DefaultLimit"`
	MinScore           float64          `yaml:"min_score" validate:"min=0,max=1"`
	Weights            models.Weights   `yaml:"weights"`
	TopKCandidates     int              `yaml:"top_k_candidates" validate:"min=1"`
	DefaultGranularity models.ChunkKind `yaml:"default_granularity" validate:"oneof=deck slide element"`
}

// FeedbackConfig tunes the feedback processor.
type FeedbackConfig struct {
	// BoostRate is the EMA rate applied to an embedding on keep.
	BoostRate   float64 `yaml:"boost_rate" validate:"gt=0,lte=0.5"`
	ReviewRatio int     `yaml:"review_ratio" validate:"min=1"`
}

// EnrichmentConfig sizes the enrichment worker pool.
type EnrichmentConfig struct {
	Workers int           `yaml:"workers" validate:"min=1"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Load reads and parses the config file at path, applies defaults, expands
// paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	w := c.Search.Weights
	if w.Semantic < 0 || w.Structural < 0 || w.Keyword < 0 || w.Semantic+w.Structural+w.Keyword == 0 {
		return fmt.Errorf("invalid config: search.weights must be non-negative and not all zero")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
