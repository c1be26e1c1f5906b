// Package store provides the persistence adapters of the sync engine: the
// relational record store (source of truth), the derived vector index, the
// lexical full-text index, and the chunk catalog that tracks which chunk ids
// are currently indexed per record.
package store

import (
	"context"
	"fmt"
	"time"
)

// EntityType identifies a searchable entity class.
type EntityType string

const (
	EntityTypeWorkNote   EntityType = "work_note"
	EntityTypePerson     EntityType = "person"
	EntityTypeDepartment EntityType = "department"
)

// SearchableEntityTypes lists every entity type the hybrid search fans out to.
var SearchableEntityTypes = []EntityType{
	EntityTypeWorkNote,
	EntityTypePerson,
	EntityTypeDepartment,
}

// HasSemanticIndex reports whether an entity type is embedded into the
// vector index. Only work notes carry embeddings; persons and departments
// are lexical-only.
func (t EntityType) HasSemanticIndex() bool {
	return t == EntityTypeWorkNote
}

// Snapshot is a point-in-time read of a source record. UpdatedAt is the
// optimistic-concurrency token for the guarded embedded_at update.
type Snapshot struct {
	WorkID     string
	Title      string
	ContentRaw string
	Scope      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	EmbeddedAt *time.Time // nil means never embedded or stale
}

// RecordStore is the engine's view of the relational source of truth.
// CRUD on records is owned elsewhere; the engine only reads snapshots and
// performs the guarded embedded_at update.
type RecordStore interface {
	// GetSnapshot reads one record. Returns ErrCodeRecordNotFound if absent.
	GetSnapshot(ctx context.Context, workID string) (*Snapshot, error)

	// GetSnapshotsBatch reads many records in one round trip.
	// Missing ids are simply absent from the result map.
	GetSnapshotsBatch(ctx context.Context, workIDs []string) (map[string]*Snapshot, error)

	// ListIDPage returns up to pageSize record ids after the cursor in
	// stable (creation) order, plus the next cursor. Empty next cursor
	// means the listing is exhausted.
	ListIDPage(ctx context.Context, cursor string, pageSize int) ([]string, string, error)

	// SetEmbeddedAtIfUpdatedAtMatches sets embedded_at only if the record's
	// updated_at still equals expected. Reports whether the write took
	// effect; false means the record changed mid-embedding.
	SetEmbeddedAtIfUpdatedAtMatches(ctx context.Context, workID string, expected time.Time, embeddedAt time.Time) (bool, error)

	Close() error
}

// VectorEntry is one chunk to upsert into the vector index.
type VectorEntry struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string
	Score    float32 // normalized similarity, higher is better
	Metadata map[string]string
}

// VectorStore is the derived semantic index. Upserts and deletes are
// idempotent so at-least-once delivery is safe.
type VectorStore interface {
	// Upsert inserts or replaces entries by id.
	Upsert(ctx context.Context, entries []VectorEntry) error

	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by id. Absent ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of vectors.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Document is a record to index for full-text search.
type Document struct {
	ID         string
	EntityType EntityType
	Content    string
	UpdatedAt  time.Time
}

// LexicalResult is a single full-text search hit.
type LexicalResult struct {
	ID        string
	Score     float64
	UpdatedAt time.Time
}

// LexicalIndex provides keyword search over indexed documents.
// The engine treats its internals as opaque: query in, ranked ids out.
type LexicalIndex interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents of one entity type matching the query.
	// An unparseable or empty query yields empty results, not an error.
	Search(ctx context.Context, query string, entityType EntityType, limit int) ([]*LexicalResult, error)

	// Delete removes documents by id. Absent ids are not an error.
	Delete(ctx context.Context, ids []string) error

	Close() error
}

// ChunkCatalog tracks the chunk-id set currently indexed per work record,
// so re-embedding can delete exactly the ids that fell out of the new set.
type ChunkCatalog interface {
	// ChunkIDs returns the indexed chunk ids for a record, ordered by index.
	ChunkIDs(ctx context.Context, workID string) ([]string, error)

	// Replace atomically swaps a record's chunk-id set.
	Replace(ctx context.Context, workID string, chunkIDs []string) error

	// Remove clears a record's chunk-id set.
	Remove(ctx context.Context, workID string) error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
