package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexical(t *testing.T) *SQLiteLexicalIndex {
	t.Helper()
	idx, err := NewSQLiteLexicalIndex(newTestDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func lexDoc(id string, entityType EntityType, content string) *Document {
	return &Document{
		ID:         id,
		EntityType: entityType,
		Content:    content,
		UpdatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteLexical_IndexAndSearch(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		lexDoc("note-1", EntityTypeWorkNote, "quarterly budget review meeting"),
		lexDoc("note-2", EntityTypeWorkNote, "onboarding checklist for new hires"),
		lexDoc("note-3", EntityTypeWorkNote, "budget approval workflow"),
	}))

	results, err := idx.Search(ctx, "budget", EntityTypeWorkNote, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	ids := []string{results[0].ID, results[1].ID}
	assert.ElementsMatch(t, []string{"note-1", "note-3"}, ids)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSQLiteLexical_EntityTypeFilter(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		lexDoc("note-1", EntityTypeWorkNote, "Kim Minsoo wrote the migration plan"),
		lexDoc("person-1", EntityTypePerson, "Kim Minsoo, platform team engineer"),
	}))

	people, err := idx.Search(ctx, "Minsoo", EntityTypePerson, 10)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "person-1", people[0].ID)

	notes, err := idx.Search(ctx, "Minsoo", EntityTypeWorkNote, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "note-1", notes[0].ID)
}

func TestSQLiteLexical_ReindexReplacesDocument(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		lexDoc("note-1", EntityTypeWorkNote, "old topic about printers"),
	}))
	require.NoError(t, idx.Index(ctx, []*Document{
		lexDoc("note-1", EntityTypeWorkNote, "new topic about scanners"),
	}))

	old, err := idx.Search(ctx, "printers", EntityTypeWorkNote, 10)
	require.NoError(t, err)
	assert.Empty(t, old)

	fresh, err := idx.Search(ctx, "scanners", EntityTypeWorkNote, 10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "note-1", fresh[0].ID)
}

func TestSQLiteLexical_PunctuationOnlyQueryIsEmpty(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		lexDoc("note-1", EntityTypeWorkNote, "anything at all"),
	}))

	// Operator soup must not produce a parse error.
	results, err := idx.Search(ctx, `!!! ((( )))`, EntityTypeWorkNote, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "   ", EntityTypeWorkNote, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteLexical_Delete(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		lexDoc("note-1", EntityTypeWorkNote, "retention policy draft"),
		lexDoc("note-2", EntityTypeWorkNote, "retention schedule final"),
	}))
	require.NoError(t, idx.Delete(ctx, []string{"note-1"}))

	results, err := idx.Search(ctx, "retention", EntityTypeWorkNote, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "note-2", results[0].ID)

	// Deleting an absent id is fine.
	assert.NoError(t, idx.Delete(ctx, []string{"ghost"}))
}

func TestSQLiteLexical_ResultsCarryUpdatedAt(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	doc := lexDoc("note-1", EntityTypeWorkNote, "timestamped entry")
	require.NoError(t, idx.Index(ctx, []*Document{doc}))

	results, err := idx.Search(ctx, "timestamped", EntityTypeWorkNote, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].UpdatedAt.Equal(doc.UpdatedAt))
}
