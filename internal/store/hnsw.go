package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// HNSWConfig configures the in-process vector index.
type HNSWConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 20).
	EfSearch int
}

// HNSWStore implements VectorStore with a pure Go HNSW graph; no external
// service needed. Chunk ids map to internal uint64 keys.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap   map[string]uint64            // chunk id -> internal key
	keyMap  map[uint64]string            // internal key -> chunk id
	meta    map[string]map[string]string // chunk id -> payload
	nextKey uint64

	closed bool
}

// hnswMetadata stores id mappings and payloads for persistence.
type hnswMetadata struct {
	IDMap   map[string]uint64
	Meta    map[string]map[string]string
	NextKey uint64
	Config  HNSWConfig
}

// Verify interface implementation at compile time.
var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates a new HNSW-based vector store.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]map[string]string),
	}, nil
}

// Upsert inserts or replaces entries by id.
func (s *HNSWStore) Upsert(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return syncerrors.VectorError("store is closed", nil)
	}

	for _, e := range entries {
		if len(e.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(e.Vector)}
		}
	}

	for _, e := range entries {
		// Lazy deletion on replace: orphan the old key instead of removing
		// the node, which coder/hnsw handles poorly for the last node.
		if existingKey, exists := s.idMap[e.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, e.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[e.ID] = key
		s.keyMap[key] = e.ID
		s.meta[e.ID] = e.Metadata
	}

	return nil
}

// Search finds the k nearest neighbors to the query vector.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, syncerrors.VectorError("store is closed", nil)
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes still in the graph.
	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(normalized, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}

		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Score:    1.0 - distance/2.0, // cosine distance 0-2 -> similarity 0-1
			Metadata: s.meta[id],
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes vectors by id. Absent ids are ignored.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return syncerrors.VectorError("store is closed", nil)
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.meta, id)
		}
	}

	return nil
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, syncerrors.VectorError("store is closed", nil)
	}
	return len(s.idMap), nil
}

// Save persists the index to disk atomically (temp file + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		Meta:    s.meta,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load loads the index from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.meta = meta.Meta
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	if s.meta == nil {
		s.meta = make(map[string]map[string]string)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
