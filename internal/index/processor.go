// Package index implements the embedding processor: it derives chunk
// embeddings and lexical documents from source records and reconciles the
// derived indexes with the relational source of truth.
package index

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadragon/notesync/internal/chunk"
	"github.com/kadragon/notesync/internal/embed"
	syncerrors "github.com/kadragon/notesync/internal/errors"
	"github.com/kadragon/notesync/internal/store"
)

// Processor performs one record's embedding pass: snapshot, chunk, embed,
// upsert, stale-chunk cleanup, then the guarded embedded_at update.
// It implements retryq.Runner so the sweep can replay failed operations.
type Processor struct {
	records  store.RecordStore
	vectors  store.VectorStore
	lexical  store.LexicalIndex
	catalog  store.ChunkCatalog
	embedder embed.Embedder
	chunker  *chunk.Chunker
	logger   *slog.Logger

	// parallelism bounds concurrent embedding calls within one record.
	parallelism int

	now func() time.Time // test hook
}

// ProcessorConfig wires a Processor's dependencies.
type ProcessorConfig struct {
	Records     store.RecordStore
	Vectors     store.VectorStore
	Lexical     store.LexicalIndex
	Catalog     store.ChunkCatalog
	Embedder    embed.Embedder
	Chunker     *chunk.Chunker
	Parallelism int
	Logger      *slog.Logger
}

// NewProcessor creates an embedding processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.New()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.GOMAXPROCS(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		records:     cfg.Records,
		vectors:     cfg.Vectors,
		lexical:     cfg.Lexical,
		catalog:     cfg.Catalog,
		embedder:    cfg.Embedder,
		chunker:     cfg.Chunker,
		logger:      cfg.Logger.With(slog.String("component", "processor")),
		parallelism: cfg.Parallelism,
		now:         time.Now,
	}
}

// Embed re-derives one record's embedding state. A record that disappeared
// since enqueue has its derived state removed instead. Losing the guarded
// update race is a soft success: the newer version will embed on its own
// pass, so no error and no retry item.
func (p *Processor) Embed(ctx context.Context, workID string) error {
	snap, err := p.records.GetSnapshot(ctx, workID)
	if err != nil {
		if syncerrors.GetCode(err) == syncerrors.ErrCodeRecordNotFound {
			p.logger.Info("record_gone_removing_derived_state",
				slog.String("work_id", workID))
			return p.Remove(ctx, workID)
		}
		return err
	}
	return p.EmbedSnapshot(ctx, snap)
}

// EmbedSnapshot runs the embedding pass against an already-fetched snapshot.
// Bulk reindex uses this to avoid per-record re-reads.
func (p *Processor) EmbedSnapshot(ctx context.Context, snap *store.Snapshot) error {
	chunks := p.chunker.Split(chunk.Input{
		WorkID:    snap.WorkID,
		Title:     snap.Title,
		Content:   snap.ContentRaw,
		Scope:     snap.Scope,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	})
	if len(chunks) == 0 {
		// Unembeddable text is permanent: clear whatever was indexed
		// before and report it so callers skip the retry queue.
		if err := p.Remove(ctx, snap.WorkID); err != nil {
			return err
		}
		p.logger.Warn("record_has_no_embeddable_text",
			slog.String("work_id", snap.WorkID))
		return syncerrors.EmptyTextError(snap.WorkID)
	}

	entries, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	// Upserts must land before the guarded update so a successful pass
	// never marks a record embedded with missing chunks.
	if err := p.vectors.Upsert(ctx, entries); err != nil {
		return err
	}

	if err := p.reconcileChunks(ctx, snap.WorkID, chunks); err != nil {
		return err
	}

	if err := p.lexical.Index(ctx, []*store.Document{{
		ID:         snap.WorkID,
		EntityType: store.EntityTypeWorkNote,
		Content:    lexicalContent(snap),
		UpdatedAt:  snap.UpdatedAt,
	}}); err != nil {
		return err
	}

	ok, err := p.records.SetEmbeddedAtIfUpdatedAtMatches(ctx, snap.WorkID, snap.UpdatedAt, p.now())
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Info("embed_race_lost",
			slog.String("work_id", snap.WorkID),
			slog.Time("snapshot_updated_at", snap.UpdatedAt))
		return nil
	}

	p.logger.Debug("record_embedded",
		slog.String("work_id", snap.WorkID),
		slog.Int("chunks", len(chunks)))
	return nil
}

// Remove deletes one record's derived index state. Idempotent: removing a
// record that was never indexed is a no-op.
func (p *Processor) Remove(ctx context.Context, workID string) error {
	chunkIDs, err := p.catalog.ChunkIDs(ctx, workID)
	if err != nil {
		return err
	}
	if len(chunkIDs) > 0 {
		if err := p.vectors.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}
	if err := p.catalog.Remove(ctx, workID); err != nil {
		return err
	}
	if err := p.lexical.Delete(ctx, []string{workID}); err != nil {
		return err
	}
	p.logger.Debug("record_unindexed",
		slog.String("work_id", workID),
		slog.Int("chunks_removed", len(chunkIDs)))
	return nil
}

// embedChunks embeds chunk texts with bounded parallelism, preserving order.
func (p *Processor) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([]store.VectorEntry, error) {
	entries := make([]store.VectorEntry, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, c.Text)
			if err != nil {
				return err
			}
			entries[i] = store.VectorEntry{
				ID:       c.ID,
				Vector:   vec,
				Metadata: c.Metadata.Map(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// reconcileChunks deletes chunk ids that fell out of the new set (a record
// that shrank from 5 chunks to 3 leaves no orphans) and records the new set.
func (p *Processor) reconcileChunks(ctx context.Context, workID string, chunks []chunk.Chunk) error {
	prev, err := p.catalog.ChunkIDs(ctx, workID)
	if err != nil {
		return err
	}

	current := make(map[string]bool, len(chunks))
	newIDs := make([]string, len(chunks))
	for i, c := range chunks {
		current[c.ID] = true
		newIDs[i] = c.ID
	}

	var stale []string
	for _, id := range prev {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := p.vectors.Delete(ctx, stale); err != nil {
			return err
		}
		p.logger.Debug("stale_chunks_removed",
			slog.String("work_id", workID),
			slog.Int("count", len(stale)))
	}

	return p.catalog.Replace(ctx, workID, newIDs)
}

func lexicalContent(snap *store.Snapshot) string {
	if snap.Title == "" {
		return snap.ContentRaw
	}
	if snap.ContentRaw == "" {
		return snap.Title
	}
	return snap.Title + "\n\n" + snap.ContentRaw
}
