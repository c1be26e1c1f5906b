package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// VectorBackend selects the vector store implementation.
type VectorBackend string

const (
	// VectorBackendHNSW is an in-process HNSW graph (default). Pure Go,
	// persisted as a gob snapshot under the data directory.
	VectorBackendHNSW VectorBackend = "hnsw"

	// VectorBackendQdrant talks to an external Qdrant instance over gRPC.
	VectorBackendQdrant VectorBackend = "qdrant"
)

// VectorStoreOptions carries backend-specific settings for NewVectorStore.
type VectorStoreOptions struct {
	// Dimensions is the embedding dimension, required by both backends.
	Dimensions int

	// DataDir is where the hnsw backend persists its snapshot.
	// Empty keeps the index memory-only.
	DataDir string

	// QdrantAddr is the gRPC host:port for the qdrant backend.
	QdrantAddr string

	// QdrantCollection is the collection name for the qdrant backend.
	QdrantCollection string
}

// HNSWSnapshotPath returns the on-disk snapshot location for the hnsw backend.
func HNSWSnapshotPath(dataDir string) string {
	return filepath.Join(dataDir, "vectors.hnsw")
}

// NewVectorStore creates a VectorStore using the configured backend.
// The hnsw backend loads a prior snapshot when one exists.
func NewVectorStore(ctx context.Context, backend string, opts VectorStoreOptions) (VectorStore, error) {
	switch backend {
	case string(VectorBackendHNSW), "":
		s, err := NewHNSWStore(HNSWConfig{Dimensions: opts.Dimensions})
		if err != nil {
			return nil, err
		}
		if opts.DataDir != "" {
			path := HNSWSnapshotPath(opts.DataDir)
			if _, statErr := os.Stat(path); statErr == nil {
				if err := s.Load(path); err != nil {
					return nil, fmt.Errorf("load vector snapshot: %w", err)
				}
			}
		}
		return s, nil

	case string(VectorBackendQdrant):
		if opts.QdrantAddr == "" {
			return nil, fmt.Errorf("qdrant backend requires an address")
		}
		collection := opts.QdrantCollection
		if collection == "" {
			collection = "worknotes"
		}
		return NewQdrantStore(ctx, opts.QdrantAddr, collection, opts.Dimensions)

	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, qdrant)", backend)
	}
}
