package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// sqlitePragmas are applied to every connection. DSN parameters are not
// reliably honoured by modernc.org/sqlite, so they are set as statements.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -65536",
	"PRAGMA temp_store = MEMORY",
}

// validateSQLiteIntegrity checks an existing database file before it is
// opened for writing. A missing file is valid; it will be created.
func validateSQLiteIntegrity(path, requiredTable string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, requiredTable).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("table %q missing", requiredTable)
	}
	return nil
}

// openSQLite opens (or creates) a database at path, or an in-memory one
// when path is empty. A corrupted file is removed so the caller starts
// from an empty index.
func openSQLite(path, requiredTable string, logger *slog.Logger) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path, requiredTable); validErr != nil {
			logger.Warn("sqlite_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, err, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			logger.Info("sqlite_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; an in-memory database also lives on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

// sqlitePersister stores records in a single SQLite file.
type sqlitePersister struct {
	db   *sql.DB
	path string
}

const sqliteVectorSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	ordinal     INTEGER NOT NULL,
	content     TEXT NOT NULL,
	vector      BLOB NOT NULL,
	breadcrumb  TEXT NOT NULL DEFAULT '[]',
	tags        TEXT NOT NULL DEFAULT '[]',
	mod_time    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_document ON records(document_id);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// NewSQLiteStore opens a SQLite-backed store at path. An empty path gives
// an in-memory database.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*Store, error) {
	probe := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}

	db, err := openSQLite(path, "records", probe.logger)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteVectorSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return newStore(ctx, &sqlitePersister{db: db, path: path}, opts...)
}

func (p *sqlitePersister) name() string { return BackendSQLite }

// load streams records in rowid order. INSERT OR REPLACE gives a replaced
// row a new rowid, so this matches the mirror's insertion order.
func (p *sqlitePersister) load(ctx context.Context, fn func(*VectorRecord)) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, content, vector, breadcrumb, tags, mod_time
		FROM records ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                   VectorRecord
			blob                  []byte
			breadcrumbJSON, tagsJ string
			modNanos              int64
		)
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Ordinal, &rec.Content,
			&blob, &breadcrumbJSON, &tagsJ, &modNanos); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		if rec.Vector, err = decodeVector(blob); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(breadcrumbJSON), &rec.Breadcrumb); err != nil {
			return fmt.Errorf("record %s breadcrumb: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(tagsJ), &rec.Tags); err != nil {
			return fmt.Errorf("record %s tags: %w", rec.ID, err)
		}
		rec.ModTime = time.Unix(0, modNanos)
		fn(&rec)
	}
	return rows.Err()
}

func (p *sqlitePersister) put(ctx context.Context, records []*VectorRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO records
			(id, document_id, ordinal, content, vector, breadcrumb, tags, mod_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		breadcrumb, err := marshalStrings(r.Breadcrumb)
		if err != nil {
			return err
		}
		tags, err := marshalStrings(r.Tags)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.DocumentID, r.Ordinal, r.Content,
			encodeVector(r.Vector), breadcrumb, tags, r.ModTime.UnixNano()); err != nil {
			return fmt.Errorf("failed to write record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (p *sqlitePersister) deleteDocument(ctx context.Context, documentID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM records WHERE document_id = ?`, documentID)
	return err
}

func (p *sqlitePersister) clear(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, StateKeyLastUpdated); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *sqlitePersister) getState(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (p *sqlitePersister) setState(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO state(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// close checkpoints the WAL before closing.
func (p *sqlitePersister) close() error {
	if p.path != "" {
		_, _ = p.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return p.db.Close()
}

func marshalStrings(s []string) (string, error) {
	if s == nil {
		s = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}
