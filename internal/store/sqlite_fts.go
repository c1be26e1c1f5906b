package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// SQLiteLexicalIndex implements LexicalIndex using SQLite FTS5.
// Shares the engine database; WAL mode gives concurrent readers.
type SQLiteLexicalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Verify interface implementation at compile time.
var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewSQLiteLexicalIndex creates an FTS5-backed lexical index.
func NewSQLiteLexicalIndex(db *sql.DB) (*SQLiteLexicalIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	idx := &SQLiteLexicalIndex{db: db}
	if err := idx.initSchema(); err != nil {
		return nil, fmt.Errorf("init lexical schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteLexicalIndex) initSchema() error {
	// entity_type and updated_at are UNINDEXED: stored for filtering and
	// tie-breaking, not searchable text.
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_entities USING fts5(
		doc_id UNINDEXED,
		entity_type UNINDEXED,
		updated_at UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Index adds or replaces documents.
// FTS5 virtual tables don't support upsert, so existing rows are deleted first.
func (s *SQLiteLexicalIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return syncerrors.LexicalError("index is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.LexicalError("begin index transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_entities WHERE doc_id = ?`)
	if err != nil {
		return syncerrors.LexicalError("prepare delete statement", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fts_entities(doc_id, entity_type, updated_at, content)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return syncerrors.LexicalError("prepare insert statement", err)
	}
	defer insertStmt.Close()

	for _, doc := range docs {
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return syncerrors.LexicalError(fmt.Sprintf("delete existing document %s", doc.ID), err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, string(doc.EntityType),
			doc.UpdatedAt.UTC().Format(time.RFC3339Nano), doc.Content); err != nil {
			return syncerrors.LexicalError(fmt.Sprintf("index document %s", doc.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return syncerrors.LexicalError("commit index transaction", err)
	}
	return nil
}

// Search returns documents of one entity type matching the query, best first.
// Queries should already be sanitized by the caller; as a second line of
// defense, FTS5 syntax errors yield empty results rather than an error.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, queryStr string, entityType EntityType, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, syncerrors.LexicalError("index is closed", nil)
	}

	terms := strings.Fields(strings.TrimSpace(queryStr))
	if len(terms) == 0 {
		return []*LexicalResult{}, nil
	}
	// Quote terms so remaining punctuation can't reach the FTS5 parser.
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	matchQuery := strings.Join(quoted, " ")

	// FTS5 bm25() is negative where lower is better; ORDER BY score ascending
	// puts best matches first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_entities) AS score, updated_at
		FROM fts_entities
		WHERE content MATCH ? AND entity_type = ?
		ORDER BY score
		LIMIT ?
	`, matchQuery, string(entityType), limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, syncerrors.LexicalError("lexical search", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var docID, updatedAt string
		var score float64
		if err := rows.Scan(&docID, &score, &updatedAt); err != nil {
			return nil, syncerrors.LexicalError("scan lexical result", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, updatedAt)
		results = append(results, &LexicalResult{
			ID:        docID,
			Score:     -score, // higher is better
			UpdatedAt: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.LexicalError("lexical rows", err)
	}
	return results, nil
}

// Delete removes documents by id. Absent ids are not an error.
func (s *SQLiteLexicalIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return syncerrors.LexicalError("index is closed", nil)
	}

	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM fts_entities WHERE doc_id IN ("+placeholders(len(docIDs))+")", args...); err != nil {
		return syncerrors.LexicalError("delete from fts", err)
	}
	return nil
}

// Close closes the index. Idempotent. The shared *sql.DB stays open for the
// other components using it.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
