package search

import (
	"sort"
	"time"

	"github.com/kadragon/notesync/internal/store"
)

// Default fusion weights. Semantic similarity carries more signal for
// note-style prose, so it gets the larger share.
const (
	DefaultLexicalWeight  = 0.4
	DefaultSemanticWeight = 0.6
)

// SemanticHit is a vector search hit already collapsed to its parent entity.
type SemanticHit struct {
	ID        string
	Score     float64
	UpdatedAt time.Time
}

type candidate struct {
	id        string
	lexNorm   float64
	semNorm   float64
	hasLex    bool
	hasSem    bool
	updatedAt time.Time
}

// Fuse merges one entity type's lexical and semantic hits into a single
// deterministic ranking. Each source's scores are min-max normalized within
// its own result set, then combined as a weighted sum (a source that didn't
// return the id contributes zero). Ties break by updatedAt descending, then
// id ascending, so identical queries always produce identical orderings.
func Fuse(entityType store.EntityType, lexical []*store.LexicalResult, semantic []SemanticHit,
	lexWeight, semWeight float64, limit int) []Result {

	if lexWeight <= 0 && semWeight <= 0 {
		lexWeight, semWeight = DefaultLexicalWeight, DefaultSemanticWeight
	}

	byID := make(map[string]*candidate, len(lexical)+len(semantic))

	lexScores := make([]float64, len(lexical))
	for i, hit := range lexical {
		lexScores[i] = hit.Score
	}
	lexNorm := minMaxNormalize(lexScores)
	for i, hit := range lexical {
		byID[hit.ID] = &candidate{
			id:        hit.ID,
			lexNorm:   lexNorm[i],
			hasLex:    true,
			updatedAt: hit.UpdatedAt,
		}
	}

	semScores := make([]float64, len(semantic))
	for i, hit := range semantic {
		semScores[i] = hit.Score
	}
	semNorm := minMaxNormalize(semScores)
	for i, hit := range semantic {
		c, ok := byID[hit.ID]
		if !ok {
			c = &candidate{id: hit.ID, updatedAt: hit.UpdatedAt}
			byID[hit.ID] = c
		}
		c.semNorm = semNorm[i]
		c.hasSem = true
		if hit.UpdatedAt.After(c.updatedAt) {
			c.updatedAt = hit.UpdatedAt
		}
	}

	results := make([]Result, 0, len(byID))
	order := make([]candidate, 0, len(byID))
	for _, c := range byID {
		order = append(order, *c)
	}
	sort.Slice(order, func(i, j int) bool {
		si := fusedScore(order[i], lexWeight, semWeight)
		sj := fusedScore(order[j], lexWeight, semWeight)
		if si != sj {
			return si > sj
		}
		if !order[i].updatedAt.Equal(order[j].updatedAt) {
			return order[i].updatedAt.After(order[j].updatedAt)
		}
		return order[i].id < order[j].id
	})

	for _, c := range order {
		results = append(results, Result{
			EntityID:   c.id,
			EntityType: entityType,
			Score:      fusedScore(c, lexWeight, semWeight),
			Source:     sourceTag(c),
		})
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func fusedScore(c candidate, lexWeight, semWeight float64) float64 {
	return lexWeight*c.lexNorm + semWeight*c.semNorm
}

func sourceTag(c candidate) Source {
	switch {
	case c.hasLex && c.hasSem:
		return SourceHybrid
	case c.hasSem:
		return SourceSemantic
	default:
		return SourceLexical
	}
}

// minMaxNormalize maps scores into [0, 1] within the result set. A set
// with no spread (single result, or all scores equal) normalizes to all
// ones: presence in the set is still a full-strength signal.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	span := max - min
	for i, s := range scores {
		out[i] = (s - min) / span
	}
	return out
}
