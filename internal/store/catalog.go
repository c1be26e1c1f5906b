package store

import (
	"context"
	"database/sql"
	"fmt"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// SQLiteChunkCatalog implements ChunkCatalog. It is the engine's own record
// of which chunk ids are currently in the vector index, so shrinkage after a
// re-chunk deletes exactly the stale ids and nothing else.
type SQLiteChunkCatalog struct {
	db *sql.DB
}

// Verify interface implementation at compile time.
var _ ChunkCatalog = (*SQLiteChunkCatalog)(nil)

// NewSQLiteChunkCatalog creates the catalog and its schema.
func NewSQLiteChunkCatalog(db *sql.DB) (*SQLiteChunkCatalog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	c := &SQLiteChunkCatalog{db: db}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("init chunk catalog schema: %w", err)
	}
	return c, nil
}

func (c *SQLiteChunkCatalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexed_chunks (
		chunk_id    TEXT PRIMARY KEY,
		work_id     TEXT NOT NULL,
		chunk_index INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_indexed_chunks_work ON indexed_chunks(work_id, chunk_index);
	`
	_, err := c.db.Exec(schema)
	return err
}

// ChunkIDs returns the indexed chunk ids for a record, ordered by index.
func (c *SQLiteChunkCatalog) ChunkIDs(ctx context.Context, workID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT chunk_id FROM indexed_chunks WHERE work_id = ? ORDER BY chunk_index
	`, workID)
	if err != nil {
		return nil, syncerrors.StoreError("query chunk catalog", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, syncerrors.StoreError("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.StoreError("chunk catalog rows", err)
	}
	return ids, nil
}

// Replace atomically swaps a record's chunk-id set.
func (c *SQLiteChunkCatalog) Replace(ctx context.Context, workID string, chunkIDs []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.StoreError("begin catalog replace", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM indexed_chunks WHERE work_id = ?`, workID); err != nil {
		return syncerrors.StoreError("clear chunk catalog", err)
	}

	for i, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO indexed_chunks (chunk_id, work_id, chunk_index) VALUES (?, ?, ?)
		`, id, workID, i); err != nil {
			return syncerrors.StoreError("insert chunk catalog entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return syncerrors.StoreError("commit catalog replace", err)
	}
	return nil
}

// Remove clears a record's chunk-id set. Idempotent.
func (c *SQLiteChunkCatalog) Remove(ctx context.Context, workID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM indexed_chunks WHERE work_id = ?`, workID); err != nil {
		return syncerrors.StoreError("remove chunk catalog entries", err)
	}
	return nil
}
