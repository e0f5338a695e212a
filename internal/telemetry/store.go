package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// DefaultFileName is the telemetry database under the data directory.
const DefaultFileName = "telemetry.db"

// maxStoredMisses bounds the zero_result_queries table.
const maxStoredMisses = 100

const schema = `
CREATE TABLE IF NOT EXISTS query_daily (
	date TEXT NOT NULL,
	dimension TEXT NOT NULL,
	key TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, dimension, key)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	kind TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
`

// Dimensions of query_daily.
const (
	dimKind    = "kind"
	dimBackend = "backend"
	dimLatency = "latency"
	dimOutcome = "outcome"

	outcomeZero = "zero"
)

// SQLiteStore implements Store in its own SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens or creates the database at path. An empty path
// opens an in-memory database.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init telemetry schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, date string, d *Delta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	daily, err := tx.PrepareContext(ctx, `
		INSERT INTO query_daily (date, dimension, key, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, dimension, key) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer daily.Close()

	add := func(dim, key string, n int64) error {
		if n == 0 {
			return nil
		}
		if _, err := daily.ExecContext(ctx, date, dim, key, n); err != nil {
			return fmt.Errorf("save %s counts: %w", dim, err)
		}
		return nil
	}
	for k, n := range d.Kinds {
		if err := add(dimKind, k, n); err != nil {
			return err
		}
	}
	for k, n := range d.Backends {
		if err := add(dimBackend, k, n); err != nil {
			return err
		}
	}
	for k, n := range d.Latency {
		if err := add(dimLatency, string(k), n); err != nil {
			return err
		}
	}
	if err := add(dimOutcome, outcomeZero, d.Zero); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for term, n := range d.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = excluded.last_seen
		`, term, n, now); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	for _, m := range d.Misses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zero_result_queries (query, kind, timestamp) VALUES (?, ?, ?)`,
			m.Query, m.Kind, m.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}
	if len(d.Misses) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
		`, maxStoredMisses); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Summary implements Store. Term counts and misses are kept for all time;
// the daily counters are filtered by from.
func (s *SQLiteStore) Summary(ctx context.Context, from string, topTerms, misses int) (*Summary, error) {
	sum := &Summary{
		Kinds:    make(map[string]int64),
		Backends: make(map[string]int64),
		Latency:  make(map[LatencyBucket]int64),
	}

	if err := s.dailyCounts(ctx, from, sum); err != nil {
		return nil, err
	}

	var first sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(date) FROM query_daily WHERE date >= ?`, from).Scan(&first); err != nil {
		return nil, fmt.Errorf("query first date: %w", err)
	}
	if first.Valid {
		sum.Since, _ = time.Parse(time.DateOnly, first.String)
	}

	var err error
	if sum.TopTerms, err = s.topTerms(ctx, topTerms); err != nil {
		return nil, err
	}
	if sum.Misses, err = s.recentMisses(ctx, misses); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *SQLiteStore) dailyCounts(ctx context.Context, from string, sum *Summary) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dimension, key, SUM(count)
		FROM query_daily
		WHERE date >= ?
		GROUP BY dimension, key
	`, from)
	if err != nil {
		return fmt.Errorf("query daily counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dim, key string
		var n int64
		if err := rows.Scan(&dim, &key, &n); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		switch dim {
		case dimKind:
			sum.Kinds[key] = n
			sum.Total += n
		case dimBackend:
			sum.Backends[key] = n
		case dimLatency:
			sum.Latency[LatencyBucket(key)] = n
		case dimOutcome:
			if key == outcomeZero {
				sum.ZeroResults = n
			}
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) topTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term, count FROM query_terms ORDER BY count DESC, term ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

func (s *SQLiteStore) recentMisses(ctx context.Context, limit int) ([]ZeroResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, kind, timestamp FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var out []ZeroResult
	for rows.Next() {
		var z ZeroResult
		var ts string
		if err := rows.Scan(&z.Query, &z.Kind, &ts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		z.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, z)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
