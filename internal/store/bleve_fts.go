package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// BleveLexicalIndex implements LexicalIndex backed by Bleve v2.
// Alternative to the FTS5 backend for deployments that want the index
// on a separate path from the engine database.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// bleveEntityDoc is the document structure Bleve indexes.
type bleveEntityDoc struct {
	Content    string `json:"content"`
	EntityType string `json:"entity_type"`
	UpdatedAt  string `json:"updated_at"`
}

// validateBleveIntegrity checks an on-disk Bleve index before opening.
// A missing or unparseable index_meta.json means the index is corrupt
// and should be cleared and rebuilt.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

func isBleveCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveLexicalIndex creates a Bleve-backed lexical index.
// If path is empty an in-memory index is created.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	indexMapping := createEntityMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open lexical index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

func createEntityMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", contentField)

	// entity_type is a filter, not searchable text.
	typeField := bleve.NewTextFieldMapping()
	typeField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("entity_type", typeField)

	updatedField := bleve.NewTextFieldMapping()
	updatedField.Analyzer = keyword.Name
	updatedField.Index = false
	updatedField.Store = true
	docMapping.AddFieldMappingsAt("updated_at", updatedField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Index adds or replaces documents. Bleve batches overwrite by id.
func (b *BleveLexicalIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return syncerrors.LexicalError("index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		entry := bleveEntityDoc{
			Content:    doc.Content,
			EntityType: string(doc.EntityType),
			UpdatedAt:  doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := batch.Index(doc.ID, entry); err != nil {
			return syncerrors.LexicalError(fmt.Sprintf("index document %s", doc.ID), err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return syncerrors.LexicalError("execute index batch", err)
	}
	return nil
}

// Search returns documents of one entity type matching the query, best first.
func (b *BleveLexicalIndex) Search(ctx context.Context, queryStr string, entityType EntityType, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, syncerrors.LexicalError("index is closed", nil)
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	typeQuery := bleve.NewTermQuery(string(entityType))
	typeQuery.SetField("entity_type")

	conj := bleve.NewConjunctionQuery([]query.Query{matchQuery, typeQuery}...)

	req := bleve.NewSearchRequest(conj)
	req.Size = limit
	req.Fields = []string{"updated_at"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, syncerrors.LexicalError("lexical search", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var ts time.Time
		if raw, ok := hit.Fields["updated_at"].(string); ok {
			ts, _ = time.Parse(time.RFC3339Nano, raw)
		}
		results = append(results, &LexicalResult{
			ID:        hit.ID,
			Score:     hit.Score,
			UpdatedAt: ts,
		})
	}
	return results, nil
}

// Delete removes documents by id. Absent ids are not an error.
func (b *BleveLexicalIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return syncerrors.LexicalError("index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return syncerrors.LexicalError("execute delete batch", err)
	}
	return nil
}

// Close closes the index. Idempotent.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}
