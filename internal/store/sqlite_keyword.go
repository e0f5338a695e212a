package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// SQLiteKeywordIndex implements KeywordIndex using SQLite FTS5.
type SQLiteKeywordIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	closed    bool
	stopWords map[string]struct{}
}

var _ KeywordIndex = (*SQLiteKeywordIndex)(nil)

// NewSQLiteKeywordIndex opens an FTS5 index at path. An empty path gives
// an in-memory index.
func NewSQLiteKeywordIndex(path string, cfg KeywordConfig, logger *slog.Logger) (*SQLiteKeywordIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openSQLite(path, "fts_content", logger)
	if err != nil {
		return nil, err
	}

	idx := &SQLiteKeywordIndex{
		db:        db,
		path:      path,
		stopWords: BuildStopWordMap(cfg.StopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteKeywordIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- content holds pre-tokenized text; id and document_id are stored only
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		id UNINDEXED,
		document_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Index adds chunks, replacing any existing entry with the same id.
func (s *SQLiteKeywordIndex) Index(ctx context.Context, docs []*KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 virtual tables don't support REPLACE, so delete first.
	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_content(id, document_id, content) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		content := strings.Join(analyze(doc.Content, s.stopWords), " ")
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing chunk %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, doc.DocumentID, content); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search ranks chunks matching any query term by BM25.
func (s *SQLiteKeywordIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := uniqueTerms(analyze(query, s.stopWords))
	if len(terms) == 0 || limit <= 0 {
		return []*KeywordHit{}, nil
	}

	// Tokens are letters, digits and underscores only, so quoting is safe.
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	match := strings.Join(quoted, " OR ")

	// bm25() is negative, lower is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, bm25(fts_content) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*KeywordHit{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := []*KeywordHit{}
	for rows.Next() {
		var hit KeywordHit
		var score float64
		if err := rows.Scan(&hit.ID, &hit.DocumentID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hit.Score = -score
		hit.MatchedTerms = terms
		results = append(results, &hit)
	}
	return results, rows.Err()
}

// DeleteByDocument removes every chunk of a document.
func (s *SQLiteKeywordIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM fts_content WHERE document_id = ?`, documentID)
	return err
}

// Clear empties the index.
func (s *SQLiteKeywordIndex) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM fts_content`)
	return err
}

// Count returns the number of indexed chunks, or 0 on error.
func (s *SQLiteKeywordIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_content`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close checkpoints the WAL and closes the database. It is idempotent.
func (s *SQLiteKeywordIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
