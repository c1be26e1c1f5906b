package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
)

// LexicalBackend selects the lexical index implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite uses SQLite FTS5 (default). Shares the engine
	// database, so WAL mode gives concurrent multi-process access.
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve uses Bleve v2. Exclusive file locking via
	// BoltDB, so single process only.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// NewLexicalIndex creates a LexicalIndex using the configured backend.
// The sqlite backend indexes into db; the bleve backend writes a
// directory under dataDir. An empty dataDir makes bleve in-memory.
func NewLexicalIndex(backend string, db *sql.DB, dataDir string) (LexicalIndex, error) {
	switch backend {
	case string(LexicalBackendSQLite), "":
		return NewSQLiteLexicalIndex(db)

	case string(LexicalBackendBleve):
		var path string
		if dataDir != "" {
			path = filepath.Join(dataDir, "lexical.bleve")
		}
		return NewBleveLexicalIndex(path)

	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", backend)
	}
}
