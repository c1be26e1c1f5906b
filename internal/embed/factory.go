package embed

import (
	"context"
	"fmt"

	"github.com/kadragon/notesync/internal/config"
)

// NewFromConfig builds the configured embedder, wrapped in the LRU cache.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder

	switch cfg.Provider {
	case "ollama", "":
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		inner = ollama

	case "static":
		inner = NewStaticEmbedder()

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
