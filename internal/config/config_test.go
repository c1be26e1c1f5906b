package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ".notesync", cfg.Paths.DataDir)
	assert.Equal(t, 0.4, cfg.Search.LexicalWeight)
	assert.Equal(t, 0.6, cfg.Search.SemanticWeight)
	assert.Equal(t, "sqlite", cfg.Search.LexicalBackend)
	assert.Equal(t, "hnsw", cfg.Search.VectorBackend)
	assert.Equal(t, 30*time.Second, cfg.Retry.Base.Std())
	assert.Equal(t, time.Hour, cfg.Retry.MaxInterval.Std())
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notesync.yaml")
	content := `
search:
  lexical_weight: 0.5
  semantic_weight: 0.5
  vector_backend: qdrant
  qdrant_addr: qdrant.internal:6334
retry:
  base: 10s
  max_interval: 30m
  max_attempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Search.LexicalWeight)
	assert.Equal(t, "qdrant", cfg.Search.VectorBackend)
	assert.Equal(t, "qdrant.internal:6334", cfg.Search.QdrantAddr)
	assert.Equal(t, 10*time.Second, cfg.Retry.Base.Std())
	assert.Equal(t, 30*time.Minute, cfg.Retry.MaxInterval.Std())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	// Untouched fields keep their defaults.
	assert.Equal(t, "sqlite", cfg.Search.LexicalBackend)
}

func TestLoad_RejectsMalformedDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notesync.yaml")
	content := `
retry:
  base: soon
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("NOTESYNC_EMBED_PROVIDER", "static")
	t.Setenv("NOTESYNC_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights must sum to one", func(c *Config) { c.Search.LexicalWeight = 0.9 }},
		{"negative weight", func(c *Config) {
			c.Search.LexicalWeight = -0.2
			c.Search.SemanticWeight = 1.2
		}},
		{"unknown lexical backend", func(c *Config) { c.Search.LexicalBackend = "elastic" }},
		{"unknown vector backend", func(c *Config) { c.Search.VectorBackend = "faiss" }},
		{"zero chunk size", func(c *Config) { c.Search.MaxChunkChars = 0 }},
		{"retry base zero", func(c *Config) { c.Retry.Base = 0 }},
		{"max interval below base", func(c *Config) { c.Retry.MaxInterval = Duration(time.Second) }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"zero batch size", func(c *Config) { c.Reindex.BatchSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
