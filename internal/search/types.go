// Package search implements the hybrid search service: concurrent lexical
// and semantic queries per entity type, fused into one deterministic ranking.
package search

import "github.com/kadragon/notesync/internal/store"

// Source tags which retrieval path produced a result.
type Source string

const (
	SourceLexical  Source = "lexical"
	SourceSemantic Source = "semantic"
	SourceHybrid   Source = "hybrid"
)

// Result is one ranked search hit. Ephemeral, produced fresh per query.
type Result struct {
	EntityID   string           `json:"entity_id"`
	EntityType store.EntityType `json:"entity_type"`
	Score      float64          `json:"score"`
	Source     Source           `json:"source"`
}

// UnifiedResult groups ranked results by entity type. Groups for types
// with no hits are empty slices, not absent keys.
type UnifiedResult struct {
	Groups map[store.EntityType][]Result `json:"groups"`

	// Degraded lists entity types where one retrieval path failed and
	// the other's results were returned alone.
	Degraded []store.EntityType `json:"degraded,omitempty"`
}

// Options tunes one search invocation.
type Options struct {
	// Limit caps results per entity-type group (default 20).
	Limit int

	// EntityTypes restricts the fan-out; empty means all searchable types.
	EntityTypes []store.EntityType
}
