package notesync

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadragon/notesync/internal/chunk"
	"github.com/kadragon/notesync/internal/config"
	syncerrors "github.com/kadragon/notesync/internal/errors"
	"github.com/kadragon/notesync/internal/index"
	"github.com/kadragon/notesync/internal/retryq"
	"github.com/kadragon/notesync/internal/store"
)

// failingVectors rejects every call with a retryable vector error.
type failingVectors struct{}

func (failingVectors) Upsert(ctx context.Context, entries []store.VectorEntry) error {
	return syncerrors.VectorError("vector index offline", nil)
}

func (failingVectors) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return nil, syncerrors.VectorError("vector index offline", nil)
}

func (failingVectors) Delete(ctx context.Context, ids []string) error {
	return syncerrors.VectorError("vector index offline", nil)
}

func (failingVectors) Count(ctx context.Context) (int, error) {
	return 0, syncerrors.VectorError("vector index offline", nil)
}

func (failingVectors) Close() error { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Embeddings.Provider = "static"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// breakEmbedding swaps the engine's processor for one whose vector store
// always fails, so every embedding pass lands in the retry queue.
func breakEmbedding(eng *Engine) {
	eng.processor = index.NewProcessor(index.ProcessorConfig{
		Records:  eng.records,
		Vectors:  failingVectors{},
		Lexical:  eng.lexical,
		Catalog:  eng.catalog,
		Embedder: eng.embedder,
		Chunker:  chunk.New(),
		Logger:   eng.logger,
	})
}

func TestEngine_FirstSaveFailureEnqueuesCreate(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	breakEmbedding(eng)

	err := eng.SaveNote(ctx, Note{
		WorkID:  "note-new",
		Title:   "Quarterly plan",
		Content: "Rollout schedule for the new quarter.",
	})
	require.NoError(t, err, "save must succeed even when embedding fails")

	item, err := eng.queue.ActiveItem(ctx, "note-new", retryq.OperationCreate)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, retryq.OperationCreate, item.Operation)
}

func TestEngine_ResaveFailureEnqueuesUpdate(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	note := Note{
		WorkID:  "note-edit",
		Title:   "Standup notes",
		Content: "Discussed the rollout plan.",
	}
	require.NoError(t, eng.SaveNote(ctx, note))

	breakEmbedding(eng)
	note.Content = "Discussed the revised rollout plan."
	require.NoError(t, eng.SaveNote(ctx, note))

	item, err := eng.queue.ActiveItem(ctx, "note-edit", retryq.OperationUpdate)
	require.NoError(t, err)
	require.NotNil(t, item)

	created, err := eng.queue.ActiveItem(ctx, "note-edit", retryq.OperationCreate)
	require.NoError(t, err)
	assert.Nil(t, created)
}
