// Package config loads and validates engine configuration.
//
// Precedence, lowest to highest:
//  1. Hardcoded defaults (NewConfig)
//  2. Config file (notesync.yaml)
//  3. Environment variables (NOTESYNC_*)
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML-decodes from Go duration strings
// ("30s", "1h") and integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config represents the complete engine configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retry      RetryConfig      `yaml:"retry"`
	Reindex    ReindexConfig    `yaml:"reindex"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir is where the SQLite database, vector index, and logs live.
	DataDir string `yaml:"data_dir"`
}

// SearchConfig configures hybrid search parameters.
type SearchConfig struct {
	// LexicalWeight is the weight for full-text matching (0.0-1.0).
	// Must sum to 1.0 with SemanticWeight.
	LexicalWeight float64 `yaml:"lexical_weight"`

	// SemanticWeight is the weight for semantic similarity (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight"`

	// LexicalBackend selects the full-text backend: "sqlite" (default) or "bleve".
	LexicalBackend string `yaml:"lexical_backend"`

	// VectorBackend selects the vector backend: "hnsw" (default) or "qdrant".
	VectorBackend string `yaml:"vector_backend"`

	// QdrantAddr is the Qdrant gRPC address (vector_backend: qdrant).
	QdrantAddr string `yaml:"qdrant_addr"`

	// QdrantCollection is the Qdrant collection name.
	QdrantCollection string `yaml:"qdrant_collection"`

	// MaxChunkChars bounds the length of a single embedding chunk.
	MaxChunkChars int `yaml:"max_chunk_chars"`

	// MaxResults caps results returned per entity-type group.
	MaxResults int `yaml:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" (default) or "static" (offline, hash-based).
	Provider string `yaml:"provider"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// Dimensions is the embedding dimension. 0 means autodetect.
	Dimensions int `yaml:"dimensions"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// Timeout bounds a single embedding request ("60s", "2m").
	Timeout Duration `yaml:"timeout"`

	// CacheSize is the LRU cache capacity for query embeddings.
	CacheSize int `yaml:"cache_size"`
}

// RetryConfig configures the durable retry queue schedule.
// next_retry_at = now + base * 2^attempt_count, capped at max_interval.
type RetryConfig struct {
	Base        Duration `yaml:"base"`
	MaxInterval Duration `yaml:"max_interval"`
	MaxAttempts int      `yaml:"max_attempts"`

	// SweepLimit caps items claimed per sweep invocation.
	SweepLimit int `yaml:"sweep_limit"`
}

// ReindexConfig configures bulk reindex behavior.
type ReindexConfig struct {
	// BatchSize is the page size for cursor pagination.
	BatchSize int `yaml:"batch_size"`

	// Parallelism bounds concurrent record processing within a page.
	// 0 means GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: ".notesync",
		},
		Search: SearchConfig{
			LexicalWeight:    0.4,
			SemanticWeight:   0.6,
			LexicalBackend:   "sqlite",
			VectorBackend:    "hnsw",
			QdrantAddr:       "localhost:6334",
			QdrantCollection: "worknotes",
			MaxChunkChars:    2000,
			MaxResults:       20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
			Timeout:    Duration(60 * time.Second),
			CacheSize:  1000,
		},
		Retry: RetryConfig{
			Base:        Duration(30 * time.Second),
			MaxInterval: Duration(time.Hour),
			MaxAttempts: 5,
			SweepLimit:  50,
		},
		Reindex: ReindexConfig{
			BatchSize:   100,
			Parallelism: runtime.GOMAXPROCS(0),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given file path (optional) and applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies NOTESYNC_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOTESYNC_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("NOTESYNC_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("NOTESYNC_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("NOTESYNC_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.LexicalWeight = f
		}
	}
	if v := os.Getenv("NOTESYNC_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("NOTESYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.LexicalWeight < 0 || c.Search.SemanticWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	sum := c.Search.LexicalWeight + c.Search.SemanticWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("search weights must sum to 1.0, got %.2f", sum)
	}
	switch c.Search.LexicalBackend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("unknown lexical backend: %s", c.Search.LexicalBackend)
	}
	switch c.Search.VectorBackend {
	case "hnsw", "qdrant":
	default:
		return fmt.Errorf("unknown vector backend: %s", c.Search.VectorBackend)
	}
	if c.Search.MaxChunkChars <= 0 {
		return fmt.Errorf("max_chunk_chars must be positive")
	}
	if c.Retry.Base <= 0 || c.Retry.MaxInterval < c.Retry.Base {
		return fmt.Errorf("retry base must be positive and max_interval >= base")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Reindex.BatchSize <= 0 {
		return fmt.Errorf("reindex batch_size must be positive")
	}
	return nil
}
