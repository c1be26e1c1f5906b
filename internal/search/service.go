package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadragon/notesync/internal/chunk"
	"github.com/kadragon/notesync/internal/embed"
	syncerrors "github.com/kadragon/notesync/internal/errors"
	"github.com/kadragon/notesync/internal/store"
)

// DefaultLimit caps results per entity-type group when the caller doesn't.
const DefaultLimit = 20

// Service answers hybrid queries: lexical and semantic retrieval fan out
// concurrently per entity type, and each group is fused independently.
type Service struct {
	lexical  store.LexicalIndex
	vectors  store.VectorStore
	embedder embed.Embedder
	logger   *slog.Logger

	lexWeight float64
	semWeight float64
}

// ServiceConfig wires a search Service.
type ServiceConfig struct {
	Lexical        store.LexicalIndex
	Vectors        store.VectorStore
	Embedder       embed.Embedder
	LexicalWeight  float64
	SemanticWeight float64
	Logger         *slog.Logger
}

// NewService creates the hybrid search service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.LexicalWeight <= 0 && cfg.SemanticWeight <= 0 {
		cfg.LexicalWeight = DefaultLexicalWeight
		cfg.SemanticWeight = DefaultSemanticWeight
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		lexical:   cfg.Lexical,
		vectors:   cfg.Vectors,
		embedder:  cfg.Embedder,
		logger:    cfg.Logger.With(slog.String("component", "search")),
		lexWeight: cfg.LexicalWeight,
		semWeight: cfg.SemanticWeight,
	}
}

// Search runs the hybrid query. Entity types with a semantic index get
// both retrieval paths; the rest are lexical-only. If one path fails for a
// type, the other's results are returned alone and the type is reported as
// degraded; only both paths failing surfaces an error.
func (s *Service) Search(ctx context.Context, query string, opts Options) (*UnifiedResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	types := opts.EntityTypes
	if len(types) == 0 {
		types = store.SearchableEntityTypes
	}

	out := &UnifiedResult{Groups: make(map[store.EntityType][]Result, len(types))}
	for _, t := range types {
		out.Groups[t] = []Result{}
	}

	if strings.TrimSpace(query) == "" {
		return out, nil
	}

	sanitized := Sanitize(query)

	// The query embedding is shared across every semantic group.
	var queryVec []float32
	var embedErr error
	needSemantic := false
	for _, t := range types {
		if t.HasSemanticIndex() {
			needSemantic = true
			break
		}
	}
	if needSemantic {
		queryVec, embedErr = s.embedder.Embed(ctx, query)
		if embedErr != nil {
			s.logger.Warn("query_embedding_failed",
				slog.String("error", embedErr.Error()))
		}
	}

	var mu sync.Mutex
	var failures []error
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range types {
		g.Go(func() error {
			results, degraded, err := s.searchType(gctx, t, sanitized, queryVec, embedErr, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One broken entity type shouldn't blank the others;
				// only total failure surfaces to the caller.
				s.logger.Warn("entity_type_search_failed",
					slog.String("entity_type", string(t)),
					slog.String("error", err.Error()))
				failures = append(failures, err)
				out.Degraded = append(out.Degraded, t)
				return nil
			}
			out.Groups[t] = results
			if degraded {
				out.Degraded = append(out.Degraded, t)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failures) == len(types) {
		return nil, syncerrors.New(syncerrors.ErrCodeLexicalUnavailable,
			"all retrieval paths failed", failures[0])
	}
	return out, nil
}

// searchType runs both paths for one entity type and fuses the outcome.
func (s *Service) searchType(ctx context.Context, t store.EntityType, sanitized string,
	queryVec []float32, embedErr error, limit int) ([]Result, bool, error) {

	var (
		lexHits []*store.LexicalResult
		semHits []SemanticHit
		lexErr  error
		semErr  error
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lexHits, lexErr = s.lexical.Search(ctx, sanitized, t, limit)
	}()

	if t.HasSemanticIndex() {
		if embedErr != nil {
			semErr = embedErr
		} else {
			// Over-fetch: several chunks can collapse to one record.
			raw, err := s.vectors.Search(ctx, queryVec, limit*4)
			if err != nil {
				semErr = err
			} else {
				semHits = collapseChunkHits(raw)
			}
		}
	}
	wg.Wait()

	switch {
	case lexErr != nil && t.HasSemanticIndex() && semErr != nil:
		return nil, false, syncerrors.New(syncerrors.ErrCodeLexicalUnavailable,
			"both retrieval paths failed", lexErr)
	case lexErr != nil && !t.HasSemanticIndex():
		return nil, false, lexErr
	case lexErr != nil:
		return Fuse(t, nil, semHits, s.lexWeight, s.semWeight, limit), true, nil
	case semErr != nil:
		return Fuse(t, lexHits, nil, s.lexWeight, s.semWeight, limit), true, nil
	default:
		return Fuse(t, lexHits, semHits, s.lexWeight, s.semWeight, limit), false, nil
	}
}

// collapseChunkHits groups chunk-level vector hits under their parent
// record, keeping each record's best chunk score.
func collapseChunkHits(hits []*store.VectorResult) []SemanticHit {
	best := make(map[string]*SemanticHit, len(hits))
	var order []string
	for _, hit := range hits {
		workID := hit.Metadata["work_id"]
		if workID == "" {
			workID = chunk.WorkIDFromChunkID(hit.ID)
		}
		var updatedAt time.Time
		if raw := hit.Metadata["updated_at"]; raw != "" {
			updatedAt, _ = time.Parse(time.RFC3339Nano, raw)
		}
		score := float64(hit.Score)
		if cur, ok := best[workID]; ok {
			if score > cur.Score {
				cur.Score = score
			}
			if updatedAt.After(cur.UpdatedAt) {
				cur.UpdatedAt = updatedAt
			}
			continue
		}
		best[workID] = &SemanticHit{ID: workID, Score: score, UpdatedAt: updatedAt}
		order = append(order, workID)
	}

	out := make([]SemanticHit, 0, len(best))
	for _, id := range order {
		out = append(out, *best[id])
	}
	return out
}
