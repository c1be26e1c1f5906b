package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// SQLiteRecordStore implements RecordStore over the work_notes table.
// The CRUD surface (Save/Delete) exists so the CLI and tests can drive the
// engine end to end; in production the surrounding application owns it.
type SQLiteRecordStore struct {
	db *sql.DB
}

// Verify interface implementation at compile time.
var _ RecordStore = (*SQLiteRecordStore)(nil)

// NewSQLiteRecordStore creates the store and its schema.
func NewSQLiteRecordStore(db *sql.DB) (*SQLiteRecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQLiteRecordStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init record schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteRecordStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_notes (
		work_id     TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		content_raw TEXT NOT NULL DEFAULT '',
		scope       TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		embedded_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_work_notes_created ON work_notes(created_at, work_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRecord inserts or updates a record, bumping updated_at and clearing
// embedded_at (the record is stale until the next embedding pass).
func (s *SQLiteRecordStore) SaveRecord(ctx context.Context, snap *Snapshot) error {
	now := time.Now()
	created := snap.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_notes (work_id, title, content_raw, scope, created_at, updated_at, embedded_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(work_id) DO UPDATE SET
			title = excluded.title,
			content_raw = excluded.content_raw,
			scope = excluded.scope,
			updated_at = excluded.updated_at,
			embedded_at = NULL
	`, snap.WorkID, snap.Title, snap.ContentRaw, snap.Scope,
		created.UnixNano(), updated.UnixNano())
	if err != nil {
		return syncerrors.StoreError("save record", err)
	}
	return nil
}

// DeleteRecord removes a record.
func (s *SQLiteRecordStore) DeleteRecord(ctx context.Context, workID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM work_notes WHERE work_id = ?`, workID); err != nil {
		return syncerrors.StoreError("delete record", err)
	}
	return nil
}

// GetSnapshot reads one record.
func (s *SQLiteRecordStore) GetSnapshot(ctx context.Context, workID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT work_id, title, content_raw, scope, created_at, updated_at, embedded_at
		FROM work_notes WHERE work_id = ?
	`, workID)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, syncerrors.NotFoundError(workID)
	}
	if err != nil {
		return nil, syncerrors.StoreError("get snapshot", err)
	}
	return snap, nil
}

// GetSnapshotsBatch reads many records in one round trip.
func (s *SQLiteRecordStore) GetSnapshotsBatch(ctx context.Context, workIDs []string) (map[string]*Snapshot, error) {
	result := make(map[string]*Snapshot, len(workIDs))
	if len(workIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT work_id, title, content_raw, scope, created_at, updated_at, embedded_at
		FROM work_notes WHERE work_id IN (` + placeholders(len(workIDs)) + `)`
	args := make([]any, len(workIDs))
	for i, id := range workIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerrors.StoreError("batch snapshot query", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, syncerrors.StoreError("scan snapshot", err)
		}
		result[snap.WorkID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.StoreError("batch snapshot rows", err)
	}
	return result, nil
}

// ListIDPage pages record ids in creation order using a keyset cursor of the
// form "<created_at_unixnano>|<work_id>".
func (s *SQLiteRecordStore) ListIDPage(ctx context.Context, cursor string, pageSize int) ([]string, string, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT work_id, created_at FROM work_notes
			ORDER BY created_at, work_id LIMIT ?`, pageSize)
	} else {
		createdAt, workID, perr := parseCursor(cursor)
		if perr != nil {
			return nil, "", perr
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT work_id, created_at FROM work_notes
			WHERE (created_at, work_id) > (?, ?)
			ORDER BY created_at, work_id LIMIT ?`, createdAt, workID, pageSize)
	}
	if err != nil {
		return nil, "", syncerrors.StoreError("list id page", err)
	}
	defer rows.Close()

	var ids []string
	var lastCreated int64
	var lastID string
	for rows.Next() {
		if err := rows.Scan(&lastID, &lastCreated); err != nil {
			return nil, "", syncerrors.StoreError("scan id page", err)
		}
		ids = append(ids, lastID)
	}
	if err := rows.Err(); err != nil {
		return nil, "", syncerrors.StoreError("id page rows", err)
	}

	next := ""
	if len(ids) == pageSize {
		next = formatCursor(lastCreated, lastID)
	}
	return ids, next, nil
}

// SetEmbeddedAtIfUpdatedAtMatches is the guarded update: it only lands when
// the record's updated_at still equals the snapshot taken at the start of
// the embedding pass. Zero rows affected means the record changed mid-pass.
func (s *SQLiteRecordStore) SetEmbeddedAtIfUpdatedAtMatches(ctx context.Context, workID string, expected time.Time, embeddedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_notes SET embedded_at = ?
		WHERE work_id = ? AND updated_at = ?
	`, embeddedAt.UnixNano(), workID, expected.UnixNano())
	if err != nil {
		return false, syncerrors.StoreError("guarded embedded_at update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, syncerrors.StoreError("guarded update rows affected", err)
	}
	return affected == 1, nil
}

// Close is a no-op; the shared *sql.DB is owned by the caller.
func (s *SQLiteRecordStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var createdAt, updatedAt int64
	var embeddedAt sql.NullInt64
	if err := row.Scan(&snap.WorkID, &snap.Title, &snap.ContentRaw, &snap.Scope,
		&createdAt, &updatedAt, &embeddedAt); err != nil {
		return nil, err
	}
	snap.CreatedAt = time.Unix(0, createdAt)
	snap.UpdatedAt = time.Unix(0, updatedAt)
	if embeddedAt.Valid {
		t := time.Unix(0, embeddedAt.Int64)
		snap.EmbeddedAt = &t
	}
	return &snap, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func formatCursor(createdAt int64, workID string) string {
	return fmt.Sprintf("%d|%s", createdAt, workID)
}

func parseCursor(cursor string) (int64, string, error) {
	var createdAt int64
	var workID string
	if _, err := fmt.Sscanf(cursor, "%d|%s", &createdAt, &workID); err != nil {
		return 0, "", syncerrors.New(syncerrors.ErrCodeInvalidInput,
			"malformed pagination cursor", err).WithDetail("cursor", cursor)
	}
	return createdAt, workID, nil
}
