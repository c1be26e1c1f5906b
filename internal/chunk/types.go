// Package chunk splits work-note text into bounded-length chunks with stable
// ids suitable for the vector index.
package chunk

import "strconv"

// Chunk size defaults.
const (
	// DefaultMaxChars bounds a single chunk's length.
	DefaultMaxChars = 2000

	// MinChunkChars is the minimum useful chunk size; paragraphs are packed
	// together until at least this much text accumulates.
	MinChunkChars = 200
)

// Chunk is a single embeddable unit of a work note.
type Chunk struct {
	// ID is "<workID>#chunk<N>" where N is the zero-based chunk index.
	// Regenerated wholesale on every (re)embed of the record.
	ID   string
	Text string

	// Metadata travels with the vector into the index.
	Metadata Metadata
}

// Metadata is the per-chunk payload stored alongside the vector.
type Metadata struct {
	WorkID          string
	Scope           string
	ChunkIndex      int
	CreatedAtBucket string // "YYYY-MM" of the source record's creation
	UpdatedAt       string // RFC3339, for query-time tie-breaking
}

// Map returns the metadata as a flat string map for index payloads.
func (m Metadata) Map() map[string]string {
	return map[string]string{
		"work_id":           m.WorkID,
		"scope":             m.Scope,
		"chunk_index":       strconv.Itoa(m.ChunkIndex),
		"created_at_bucket": m.CreatedAtBucket,
		"updated_at":        m.UpdatedAt,
	}
}
