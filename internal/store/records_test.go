package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRecords(t *testing.T) *SQLiteRecordStore {
	t.Helper()
	records, err := NewSQLiteRecordStore(newTestDB(t))
	require.NoError(t, err)
	return records
}

func sampleSnapshot(workID string, updated time.Time) *Snapshot {
	return &Snapshot{
		WorkID:     workID,
		Title:      "Title " + workID,
		ContentRaw: "Content for " + workID,
		Scope:      "team-a",
		CreatedAt:  updated.Add(-time.Hour),
		UpdatedAt:  updated,
	}
}

func TestRecordStore_SaveAndGet(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, records.SaveRecord(ctx, sampleSnapshot("note-1", updated)))

	snap, err := records.GetSnapshot(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, "Title note-1", snap.Title)
	assert.True(t, snap.UpdatedAt.Equal(updated))
	assert.Nil(t, snap.EmbeddedAt)
}

func TestRecordStore_GetMissingReturnsNotFound(t *testing.T) {
	records := newTestRecords(t)

	_, err := records.GetSnapshot(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeRecordNotFound, syncerrors.GetCode(err))
}

func TestRecordStore_GuardedUpdateLands(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, records.SaveRecord(ctx, sampleSnapshot("note-1", updated)))

	embeddedAt := updated.Add(time.Minute)
	ok, err := records.SetEmbeddedAtIfUpdatedAtMatches(ctx, "note-1", updated, embeddedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := records.GetSnapshot(ctx, "note-1")
	require.NoError(t, err)
	require.NotNil(t, snap.EmbeddedAt)
	assert.True(t, snap.EmbeddedAt.Equal(embeddedAt))
}

func TestRecordStore_GuardedUpdateLosesRace(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, records.SaveRecord(ctx, sampleSnapshot("note-1", updated)))

	// The record changes after the snapshot was taken.
	newer := updated.Add(5 * time.Second)
	require.NoError(t, records.SaveRecord(ctx, sampleSnapshot("note-1", newer)))

	ok, err := records.SetEmbeddedAtIfUpdatedAtMatches(ctx, "note-1", updated, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	// embedded_at stays unset; the newer version embeds on its own pass.
	snap, err := records.GetSnapshot(ctx, "note-1")
	require.NoError(t, err)
	assert.Nil(t, snap.EmbeddedAt)
}

func TestRecordStore_SaveClearsEmbeddedAt(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, records.SaveRecord(ctx, sampleSnapshot("note-1", updated)))

	ok, err := records.SetEmbeddedAtIfUpdatedAtMatches(ctx, "note-1", updated, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	// An edit marks the record stale again.
	require.NoError(t, records.SaveRecord(ctx, sampleSnapshot("note-1", updated.Add(time.Minute))))

	snap, err := records.GetSnapshot(ctx, "note-1")
	require.NoError(t, err)
	assert.Nil(t, snap.EmbeddedAt)
}

func TestRecordStore_GetSnapshotsBatch(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("note-%d", i)
		require.NoError(t, records.SaveRecord(ctx, sampleSnapshot(id, base.Add(time.Duration(i)*time.Minute))))
	}

	snaps, err := records.GetSnapshotsBatch(ctx, []string{"note-0", "note-3", "missing"})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	assert.Contains(t, snaps, "note-0")
	assert.Contains(t, snaps, "note-3")
	assert.NotContains(t, snaps, "missing")
}

func TestRecordStore_ListIDPageWalksAllRecords(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	total := 7
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("note-%02d", i)
		snap := sampleSnapshot(id, base.Add(time.Duration(i)*time.Minute))
		snap.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, records.SaveRecord(ctx, snap))
	}

	var seen []string
	cursor := ""
	for {
		ids, next, err := records.ListIDPage(ctx, cursor, 3)
		require.NoError(t, err)
		seen = append(seen, ids...)
		if next == "" {
			break
		}
		cursor = next
	}

	require.Len(t, seen, total)
	for i, id := range seen {
		assert.Equal(t, fmt.Sprintf("note-%02d", i), id)
	}
}

func TestRecordStore_ListIDPageStableUnderEqualCreatedAt(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Same created_at for every record forces the id tie-break.
	for _, id := range []string{"c", "a", "b", "d"} {
		snap := sampleSnapshot(id, base)
		snap.CreatedAt = base
		require.NoError(t, records.SaveRecord(ctx, snap))
	}

	first, next, err := records.ListIDPage(ctx, "", 2)
	require.NoError(t, err)
	require.NotEmpty(t, next)
	rest, _, err := records.ListIDPage(ctx, next, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, []string{"c", "d"}, rest)
}

func TestRecordStore_DeleteRecord(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	require.NoError(t, records.SaveRecord(ctx, sampleSnapshot("note-1", time.Now())))

	require.NoError(t, records.DeleteRecord(ctx, "note-1"))

	_, err := records.GetSnapshot(ctx, "note-1")
	assert.Equal(t, syncerrors.ErrCodeRecordNotFound, syncerrors.GetCode(err))
}
