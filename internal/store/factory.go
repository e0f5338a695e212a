package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Vector store backends.
const (
	// BackendSQLite keeps records in vectors.db (default).
	BackendSQLite = "sqlite"

	// BackendBadger keeps records in a BadgerDB directory.
	BackendBadger = "badger"

	// BackendMemory keeps nothing on disk.
	BackendMemory = "memory"
)

// Open opens the vector store for backend under dataDir.
func Open(ctx context.Context, backend, dataDir, searchMode string, logger *slog.Logger) (*Store, error) {
	opts := []Option{WithLogger(logger), WithSearchMode(searchMode)}

	switch backend {
	case BackendSQLite, "":
		return NewSQLiteStore(ctx, filepath.Join(dataDir, "vectors.db"), opts...)
	case BackendBadger:
		return NewBadgerStore(ctx, filepath.Join(dataDir, "vectors.badger"), opts...)
	case BackendMemory:
		return NewMemoryStore(opts...), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (valid options: sqlite, badger, memory)", backend)
	}
}
