package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadragon/notesync/internal/embed"
	syncerrors "github.com/kadragon/notesync/internal/errors"
	"github.com/kadragon/notesync/internal/store"
)

var searchNoon = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// failingLexical rejects every query.
type failingLexical struct{}

func (failingLexical) Index(ctx context.Context, docs []*store.Document) error { return nil }
func (failingLexical) Search(ctx context.Context, query string, entityType store.EntityType, limit int) ([]*store.LexicalResult, error) {
	return nil, fmt.Errorf("lexical index unavailable")
}
func (failingLexical) Delete(ctx context.Context, ids []string) error { return nil }
func (failingLexical) Close() error                                   { return nil }

// failingVectors rejects every query.
type failingVectors struct{}

func (failingVectors) Upsert(ctx context.Context, entries []store.VectorEntry) error { return nil }
func (failingVectors) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return nil, fmt.Errorf("vector index unavailable")
}
func (failingVectors) Delete(ctx context.Context, ids []string) error { return nil }
func (failingVectors) Count(ctx context.Context) (int, error)         { return 0, nil }
func (failingVectors) Close() error                                   { return nil }

type searchEnv struct {
	lexical  store.LexicalIndex
	vectors  store.VectorStore
	embedder embed.Embedder
	svc      *Service
}

func newSearchEnv(t *testing.T) *searchEnv {
	t.Helper()
	db, err := store.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lexical, err := store.NewSQLiteLexicalIndex(db)
	require.NoError(t, err)
	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWStore(store.HNSWConfig{Dimensions: embedder.Dimensions()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	env := &searchEnv{lexical: lexical, vectors: vectors, embedder: embedder}
	env.svc = NewService(ServiceConfig{
		Lexical:  lexical,
		Vectors:  vectors,
		Embedder: embedder,
	})
	return env
}

func indexDoc(t *testing.T, lexical store.LexicalIndex, id string, entityType store.EntityType, content string) {
	t.Helper()
	require.NoError(t, lexical.Index(context.Background(), []*store.Document{{
		ID:         id,
		EntityType: entityType,
		Content:    content,
		UpdatedAt:  searchNoon,
	}}))
}

func upsertNoteVector(t *testing.T, vectors store.VectorStore, embedder embed.Embedder, workID, text string) {
	t.Helper()
	vec, err := embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(context.Background(), []store.VectorEntry{{
		ID:     workID + "#chunk0",
		Vector: vec,
		Metadata: map[string]string{
			"work_id":    workID,
			"updated_at": searchNoon.Format(time.RFC3339Nano),
		},
	}}))
}

func TestService_HybridSearch(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()
	text := "Quarterly budget review for the engineering team"
	indexDoc(t, env.lexical, "note-1", store.EntityTypeWorkNote, text)
	upsertNoteVector(t, env.vectors, env.embedder, "note-1", text)

	result, err := env.svc.Search(ctx, "quarterly budget", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Degraded)

	// The note matched both paths, so the hit fuses to hybrid.
	notes := result.Groups[store.EntityTypeWorkNote]
	require.Len(t, notes, 1)
	assert.Equal(t, "note-1", notes[0].EntityID)
	assert.Equal(t, SourceHybrid, notes[0].Source)
	assert.Equal(t, store.EntityTypeWorkNote, notes[0].EntityType)
}

func TestService_LexicalOnlyEntityType(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()
	indexDoc(t, env.lexical, "person-1", store.EntityTypePerson, "Alice Johnson engineering lead")

	result, err := env.svc.Search(ctx, "Alice", Options{
		EntityTypes: []store.EntityType{store.EntityTypePerson},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Degraded)

	people := result.Groups[store.EntityTypePerson]
	require.Len(t, people, 1)
	assert.Equal(t, "person-1", people[0].EntityID)
	assert.Equal(t, SourceLexical, people[0].Source)
}

func TestService_EmptyQueryReturnsEmptyGroups(t *testing.T) {
	env := newSearchEnv(t)
	indexDoc(t, env.lexical, "note-1", store.EntityTypeWorkNote, "meeting notes")

	result, err := env.svc.Search(context.Background(), "   ", Options{})
	require.NoError(t, err)

	require.Len(t, result.Groups, len(store.SearchableEntityTypes))
	for _, group := range result.Groups {
		assert.Empty(t, group)
	}
	assert.Empty(t, result.Degraded)
}

func TestService_PunctuationOnlyQuery(t *testing.T) {
	env := newSearchEnv(t)
	indexDoc(t, env.lexical, "person-1", store.EntityTypePerson, "Alice Johnson")

	result, err := env.svc.Search(context.Background(), `!!! ((( )))`, Options{
		EntityTypes: []store.EntityType{store.EntityTypePerson},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Groups[store.EntityTypePerson])
}

func TestService_VectorFailureDegradesToLexical(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()
	indexDoc(t, env.lexical, "note-1", store.EntityTypeWorkNote, "incident postmortem draft")

	svc := NewService(ServiceConfig{
		Lexical:  env.lexical,
		Vectors:  failingVectors{},
		Embedder: env.embedder,
	})

	result, err := svc.Search(ctx, "postmortem", Options{
		EntityTypes: []store.EntityType{store.EntityTypeWorkNote},
	})
	require.NoError(t, err)

	// Lexical hits still come back, flagged as a degraded group.
	notes := result.Groups[store.EntityTypeWorkNote]
	require.Len(t, notes, 1)
	assert.Equal(t, "note-1", notes[0].EntityID)
	assert.Equal(t, SourceLexical, notes[0].Source)
	assert.Equal(t, []store.EntityType{store.EntityTypeWorkNote}, result.Degraded)
}

func TestService_LexicalFailureDegradesToSemantic(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()
	text := "Quarterly budget review"
	upsertNoteVector(t, env.vectors, env.embedder, "note-1", text)

	svc := NewService(ServiceConfig{
		Lexical:  failingLexical{},
		Vectors:  env.vectors,
		Embedder: env.embedder,
	})

	result, err := svc.Search(ctx, "quarterly budget", Options{})
	require.NoError(t, err)

	// Work notes survive on the semantic path alone.
	notes := result.Groups[store.EntityTypeWorkNote]
	require.Len(t, notes, 1)
	assert.Equal(t, "note-1", notes[0].EntityID)
	assert.Equal(t, SourceSemantic, notes[0].Source)

	// Lexical-only groups have no fallback, so they fail and come back empty.
	assert.Empty(t, result.Groups[store.EntityTypePerson])
	assert.Empty(t, result.Groups[store.EntityTypeDepartment])
	assert.ElementsMatch(t, store.SearchableEntityTypes, result.Degraded)
}

func TestService_AllPathsFailing(t *testing.T) {
	env := newSearchEnv(t)

	svc := NewService(ServiceConfig{
		Lexical:  failingLexical{},
		Vectors:  failingVectors{},
		Embedder: env.embedder,
	})

	_, err := svc.Search(context.Background(), "anything", Options{})
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeLexicalUnavailable, syncerrors.GetCode(err))
}

func TestService_ChunkHitsCollapseToRecord(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	// Two chunks of the same note must collapse to one result.
	for i, text := range []string{
		"Quarterly budget review part one",
		"Quarterly budget review part two",
	} {
		vec, err := env.embedder.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, env.vectors.Upsert(ctx, []store.VectorEntry{{
			ID:     fmt.Sprintf("note-1#chunk%d", i),
			Vector: vec,
			Metadata: map[string]string{
				"work_id":    "note-1",
				"updated_at": searchNoon.Format(time.RFC3339Nano),
			},
		}}))
	}
	indexDoc(t, env.lexical, "note-1", store.EntityTypeWorkNote, "Quarterly budget review")

	result, err := env.svc.Search(ctx, "quarterly budget review", Options{})
	require.NoError(t, err)

	notes := result.Groups[store.EntityTypeWorkNote]
	require.Len(t, notes, 1)
	assert.Equal(t, "note-1", notes[0].EntityID)
}
