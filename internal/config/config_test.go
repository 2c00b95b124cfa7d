package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
search:
  weights:
    semantic: 0.5
    structural: 0.3
    keyword: 0.2
feedback:
  boost_rate: 0.25
enrichment:
  workers: 2
  timeout: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
	assert.False(t, cfg.Debug)
	assert.Equal(t, models.Weights{Semantic: 0.5, Structural: 0.3, Keyword: 0.2}, cfg.Search.Weights)
	assert.InDelta(t, 0.25, cfg.Feedback.BoostRate, 1e-9)
	assert.Equal(t, 2, cfg.Enrichment.Workers)
	assert.Equal(t, 5*time.Second, cfg.Enrichment.Timeout)
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/index.db"
watch:
  directories: ["./decks"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "index.db"), cfg.Storage.DatabasePath)
	require.Len(t, cfg.Watch.Directories, 1)
	assert.Equal(t, filepath.Join(dir, "decks"), cfg.Watch.Directories[0])
	assert.True(t, cfg.Watch.RecursiveOrDefault())
}

func TestLoad_rejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"boost rate above half", "feedback:\n  boost_rate: 0.9\n"},
		{"negative weight", "search:\n  weights:\n    semantic: -1\n    keyword: 1\n"},
		{"unknown backend", "embedding:\n  backend: word2vec\n"},
		{"unknown granularity", "search:\n  default_granularity: paragraph\n"},
		{"max below default limit", "search:\n  default_limit: 20\n  max_limit: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "hash", cfg.Embedding.Backend)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.Equal(t, 500, cfg.Search.TopKCandidates)
	assert.Equal(t, models.DefaultWeights, cfg.Search.Weights)
	assert.Equal(t, models.KindSlide, cfg.Search.DefaultGranularity)
	assert.InDelta(t, 0.1, cfg.Feedback.BoostRate, 1e-9)
	assert.Equal(t, 3, cfg.Feedback.ReviewRatio)
	assert.Equal(t, 4, cfg.Enrichment.Workers)
	assert.Equal(t, 30*time.Second, cfg.Enrichment.Timeout)
	assert.Equal(t, []string{".yaml", ".yml", ".json"}, cfg.Watch.Extensions)
	assert.Nil(t, cfg.Watch.Recursive)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/decks"}}}
	ApplyDefaults(cfg)
	require.NotNil(t, cfg.Watch.Recursive)
	assert.True(t, *cfg.Watch.Recursive)
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	yes, no := true, false
	assert.True(t, (&WatchConfig{}).RecursiveOrDefault())
	assert.True(t, (&WatchConfig{Recursive: &yes}).RecursiveOrDefault())
	assert.False(t, (&WatchConfig{Recursive: &no}).RecursiveOrDefault())
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Storage.DatabasePath = "/tmp/kioku.db"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, "/tmp/kioku.db", loaded.Storage.DatabasePath)
	assert.Equal(t, cfg.Enrichment.Timeout, loaded.Enrichment.Timeout)
}
