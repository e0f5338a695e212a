package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// KeywordDoc is one chunk as seen by a keyword index.
type KeywordDoc struct {
	ID         string // record id
	DocumentID string
	Content    string
}

// KeywordHit is a keyword search result. Higher scores are better.
type KeywordHit struct {
	ID           string
	DocumentID   string
	Score        float64
	MatchedTerms []string
}

// KeywordConfig configures keyword tokenization.
type KeywordConfig struct {
	StopWords []string
}

// DefaultKeywordConfig uses the English prose stop list.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{StopWords: DefaultProseStopWords}
}

// KeywordIndex is a BM25 full-text index over chunk text, used alongside
// the vector store for hybrid retrieval.
type KeywordIndex interface {
	// Index adds or replaces chunks by id.
	Index(ctx context.Context, docs []*KeywordDoc) error

	// Search matches any query term and returns up to limit hits.
	Search(ctx context.Context, query string, limit int) ([]*KeywordHit, error)

	DeleteByDocument(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error

	// Count returns the number of indexed chunks.
	Count() int

	Close() error
}

// Keyword index backends.
const (
	// KeywordBackendSQLite uses SQLite FTS5 (default). WAL mode allows
	// concurrent readers from other processes.
	KeywordBackendSQLite = "sqlite"

	// KeywordBackendBleve uses Bleve v2. Its BoltDB file is locked by a
	// single process.
	KeywordBackendBleve = "bleve"
)

// KeywordIndexPath returns where a backend keeps its files in dataDir.
func KeywordIndexPath(dataDir, backend string) string {
	base := filepath.Join(dataDir, "keyword")
	if backend == KeywordBackendBleve {
		return base + ".bleve"
	}
	return base + ".db"
}

// OpenKeywordIndex opens the keyword index for backend in dataDir. An
// empty dataDir gives an in-memory index.
func OpenKeywordIndex(dataDir, backend string, cfg KeywordConfig, logger *slog.Logger) (KeywordIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var path string
	if dataDir != "" {
		path = KeywordIndexPath(dataDir, backend)
	}

	switch backend {
	case KeywordBackendSQLite, "":
		return NewSQLiteKeywordIndex(path, cfg, logger)
	case KeywordBackendBleve:
		return NewBleveKeywordIndex(path, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown keyword backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// documentOf recovers the document id from a record id, falling back to
// the id itself.
func documentOf(id string) string {
	if doc, _, err := ParseRecordID(id); err == nil {
		return doc
	}
	return id
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
