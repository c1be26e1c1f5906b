// Package notesync is the embedding sync engine's public facade. It wires
// the record store, the derived indexes, the embedding processor, the retry
// queue, and hybrid search into one handle.
package notesync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kadragon/notesync/internal/chunk"
	"github.com/kadragon/notesync/internal/config"
	"github.com/kadragon/notesync/internal/embed"
	syncerrors "github.com/kadragon/notesync/internal/errors"
	"github.com/kadragon/notesync/internal/index"
	"github.com/kadragon/notesync/internal/retryq"
	"github.com/kadragon/notesync/internal/search"
	"github.com/kadragon/notesync/internal/store"
)

// Note is a work note as seen by callers of the facade.
type Note struct {
	WorkID    string    `json:"work_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine owns the full sync pipeline. One Engine per data directory.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB
	records  *store.SQLiteRecordStore
	catalog  store.ChunkCatalog
	lexical  store.LexicalIndex
	vectors  store.VectorStore
	embedder embed.Embedder

	processor *index.Processor
	reindexer *index.Reindexer
	queue     *retryq.Queue
	searcher  *search.Service
}

// Open builds an Engine from configuration. The data directory is created
// if missing.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := cfg.Paths.DataDir
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
		}
	}

	var dbPath string
	if dataDir != "" {
		dbPath = filepath.Join(dataDir, "notesync.db")
	}
	db, err := store.OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: logger, db: db}
	if err := e.wire(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) wire(ctx context.Context) error {
	records, err := store.NewSQLiteRecordStore(e.db)
	if err != nil {
		return err
	}
	e.records = records

	catalog, err := store.NewSQLiteChunkCatalog(e.db)
	if err != nil {
		return err
	}
	e.catalog = catalog

	lexical, err := store.NewLexicalIndex(e.cfg.Search.LexicalBackend, e.db, e.cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	e.lexical = lexical

	embedder, err := embed.NewFromConfig(ctx, e.cfg.Embeddings)
	if err != nil {
		return err
	}
	e.embedder = embedder

	vectors, err := store.NewVectorStore(ctx, e.cfg.Search.VectorBackend, store.VectorStoreOptions{
		Dimensions:       embedder.Dimensions(),
		DataDir:          e.cfg.Paths.DataDir,
		QdrantAddr:       e.cfg.Search.QdrantAddr,
		QdrantCollection: e.cfg.Search.QdrantCollection,
	})
	if err != nil {
		return err
	}
	e.vectors = vectors

	e.processor = index.NewProcessor(index.ProcessorConfig{
		Records:     records,
		Vectors:     vectors,
		Lexical:     lexical,
		Catalog:     catalog,
		Embedder:    embedder,
		Chunker:     chunk.NewWithOptions(chunk.Options{MaxChars: e.cfg.Search.MaxChunkChars}),
		Parallelism: e.cfg.Reindex.Parallelism,
		Logger:      e.logger,
	})

	queue, err := retryq.New(e.db, e.processor, retryq.Options{
		Base:        e.cfg.Retry.Base.Std(),
		MaxInterval: e.cfg.Retry.MaxInterval.Std(),
		MaxAttempts: e.cfg.Retry.MaxAttempts,
	}, e.logger)
	if err != nil {
		return err
	}
	e.queue = queue

	e.reindexer = index.NewReindexer(e.processor, queue, e.cfg.Reindex.Parallelism, e.logger)

	e.searcher = search.NewService(search.ServiceConfig{
		Lexical:        lexical,
		Vectors:        vectors,
		Embedder:       embedder,
		LexicalWeight:  e.cfg.Search.LexicalWeight,
		SemanticWeight: e.cfg.Search.SemanticWeight,
		Logger:         e.logger,
	})
	return nil
}

// SaveNote persists a note and runs its embedding pass. The save itself
// never fails because of embedding: a retryable embedding failure is
// enqueued for the sweep and the save still succeeds.
func (e *Engine) SaveNote(ctx context.Context, note Note) error {
	// A failure on a first-time save is queued as a create so operators can
	// tell new records from edits when inspecting the queue.
	op := retryq.OperationUpdate
	if _, err := e.records.GetSnapshot(ctx, note.WorkID); err != nil {
		if syncerrors.GetCode(err) != syncerrors.ErrCodeRecordNotFound {
			return err
		}
		op = retryq.OperationCreate
	}

	snap := &store.Snapshot{
		WorkID:     note.WorkID,
		Title:      note.Title,
		ContentRaw: note.Content,
		Scope:      note.Scope,
		CreatedAt:  note.CreatedAt,
		UpdatedAt:  note.UpdatedAt,
	}
	if err := e.records.SaveRecord(ctx, snap); err != nil {
		return err
	}

	if err := e.processor.Embed(ctx, note.WorkID); err != nil {
		e.handleEmbedFailure(ctx, note.WorkID, op, err)
	}
	return nil
}

// DeleteNote removes a note and its derived index state. Like SaveNote,
// index cleanup failures are retried by the sweep, not surfaced here.
func (e *Engine) DeleteNote(ctx context.Context, workID string) error {
	if err := e.records.DeleteRecord(ctx, workID); err != nil {
		return err
	}

	if err := e.processor.Remove(ctx, workID); err != nil {
		e.handleEmbedFailure(ctx, workID, retryq.OperationDelete, err)
	}
	return nil
}

func (e *Engine) handleEmbedFailure(ctx context.Context, workID string, op retryq.Operation, cause error) {
	if !syncerrors.IsRetryable(cause) {
		e.logger.Warn("embedding_skipped_permanent",
			slog.String("work_id", workID),
			slog.String("operation", string(op)),
			slog.String("error", cause.Error()))
		return
	}
	e.logger.Warn("embedding_failed_enqueueing",
		slog.String("work_id", workID),
		slog.String("operation", string(op)),
		slog.String("error", cause.Error()))
	if err := e.queue.Enqueue(ctx, workID, op, cause); err != nil {
		e.logger.Error("enqueue_failed",
			slog.String("work_id", workID),
			slog.String("error", err.Error()))
	}
}

// GetNote reads one note.
func (e *Engine) GetNote(ctx context.Context, workID string) (*Note, error) {
	snap, err := e.records.GetSnapshot(ctx, workID)
	if err != nil {
		return nil, err
	}
	return &Note{
		WorkID:    snap.WorkID,
		Title:     snap.Title,
		Content:   snap.ContentRaw,
		Scope:     snap.Scope,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}, nil
}

// Embed runs one record's embedding pass synchronously.
func (e *Engine) Embed(ctx context.Context, workID string) error {
	return e.processor.Embed(ctx, workID)
}

// IndexDocument indexes a lexical-only entity (person, department).
func (e *Engine) IndexDocument(ctx context.Context, doc *store.Document) error {
	return e.lexical.Index(ctx, []*store.Document{doc})
}

// ReindexAll re-embeds every record in batches.
func (e *Engine) ReindexAll(ctx context.Context) (*index.Report, error) {
	return e.reindexer.ReindexAll(ctx, e.cfg.Reindex.BatchSize)
}

// Sweep replays due retry-queue items once.
func (e *Engine) Sweep(ctx context.Context) (*retryq.SweepReport, error) {
	return e.queue.ProcessDue(ctx, e.cfg.Retry.SweepLimit)
}

// DeadLetterItems lists parked retry items for operator review.
func (e *Engine) DeadLetterItems(ctx context.Context) ([]*retryq.Item, error) {
	return e.queue.ListDeadLetters(ctx)
}

// RetryDeadLetter resurrects one dead-lettered item.
func (e *Engine) RetryDeadLetter(ctx context.Context, id string) error {
	return e.queue.RetryDeadLetter(ctx, id)
}

// Search runs a hybrid query across all searchable entity types.
func (e *Engine) Search(ctx context.Context, query string, opts search.Options) (*search.UnifiedResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = e.cfg.Search.MaxResults
	}
	return e.searcher.Search(ctx, query, opts)
}

// Close persists the vector snapshot (hnsw backend) and releases every
// resource. Safe to call once.
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if hnswStore, ok := e.vectors.(*store.HNSWStore); ok && e.cfg.Paths.DataDir != "" {
		record(hnswStore.Save(store.HNSWSnapshotPath(e.cfg.Paths.DataDir)))
	}
	if e.vectors != nil {
		record(e.vectors.Close())
	}
	if e.lexical != nil {
		record(e.lexical.Close())
	}
	if e.embedder != nil {
		record(e.embedder.Close())
	}
	if e.db != nil {
		record(e.db.Close())
	}
	return firstErr
}
