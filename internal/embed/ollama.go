package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// Ollama API constants.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model for prose notes.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the initial health check.
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize for the HTTP connection pool.
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize for batch embedding requests (default: 32).
	BatchSize int

	// Timeout for a single API request (default: 60s).
	Timeout time.Duration

	// SkipHealthCheck skips the initial availability probe (for testing).
	SkipHealthCheck bool
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	retry     syncerrors.RetryConfig
	dims      int
}

// Verify interface implementation at compile time.
var _ Embedder = (*OllamaEmbedder)(nil)

// embedRequest is the /api/embed request body.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the /api/embed response body.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		MaxConnsPerHost:     OllamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: per-request context timeouts are applied in
	// doEmbed so a client-level deadline never overrides them.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		retry:     syncerrors.DefaultRetryConfig(),
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
		defer cancel()
		if !e.Available(checkCtx) {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("ollama is not reachable at %s", cfg.Host)
		}
	}

	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	return e, nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.doEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, syncerrors.ProviderError(
			fmt.Sprintf("expected 1 embedding, got %d", len(vectors)), nil)
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// BatchSize-bounded requests.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.doEmbed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// doEmbed calls /api/embed, retrying transient provider failures in place
// with short jittered backoff. Anything still failing after that is returned
// classified, and the durable retry queue takes over.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	return syncerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		return e.embedOnce(ctx, texts)
	})
}

// embedOnce performs a single /api/embed call with a per-request timeout.
// Failures are classified so the retry layers can decide what to do.
func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, syncerrors.ProviderError("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, syncerrors.ProviderError("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, syncerrors.New(syncerrors.ErrCodeProviderTimeout,
				fmt.Sprintf("embedding request timed out after %s", e.config.Timeout), err)
		}
		return nil, syncerrors.ProviderError("embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, syncerrors.New(syncerrors.ErrCodeProviderRateLimited,
				"embedding provider rate limited", nil).
				WithDetail("body", string(respBody))
		}
		return nil, syncerrors.ProviderError(
			fmt.Sprintf("embedding failed with status %d", resp.StatusCode), nil).
			WithDetail("body", string(respBody))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, syncerrors.ProviderError("decode embed response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, syncerrors.ProviderError(
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Embeddings)), nil)
	}

	for i, vec := range parsed.Embeddings {
		parsed.Embeddings[i] = normalizeVector(vec)
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available checks if the Ollama server responds.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases HTTP connections.
func (e *OllamaEmbedder) Close() error {
	e.transport.CloseIdleConnections()
	return nil
}
