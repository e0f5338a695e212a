package index

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sync"

	"github.com/Aman-CERP/vaultrag/internal/corpus"
	"github.com/Aman-CERP/vaultrag/internal/watcher"
)

// EventSource resolves watcher paths to documents.
type EventSource interface {
	corpus.Getter

	// Includes reports whether a vault-relative path is a note that would
	// be listed.
	Includes(rel string) bool
}

type gitignoreInvalidator interface {
	InvalidateGitignoreCache()
}

// Coordinator applies batches of file events to the index. Batches are
// processed one at a time under the write lock, which serializes writes to
// any one document with every other holder of that lock.
type Coordinator struct {
	indexer *Indexer
	source  EventSource
	logger  *slog.Logger
	writes  sync.Locker
	dataDir string
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWriteLock shares l with other writers of the same index, such as a
// background corpus job. By default the coordinator has a lock of its own.
func WithWriteLock(l sync.Locker) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.writes = l
		}
	}
}

// WithDataDir makes every batch hold the data directory's file lock, so
// other processes cannot index the store at the same time.
func WithDataDir(dir string) CoordinatorOption {
	return func(c *Coordinator) { c.dataDir = dir }
}

// NewCoordinator creates a coordinator that updates indexer from events
// resolved against source.
func NewCoordinator(indexer *Indexer, source EventSource, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{indexer: indexer, source: source, logger: logger, writes: &sync.Mutex{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleEvents processes a batch of file events. Failures are logged per
// event and never stop the batch.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	if len(events) == 0 {
		return nil
	}
	c.writes.Lock()
	defer c.writes.Unlock()

	if c.dataDir != "" {
		lock := NewFileLock(c.dataDir)
		if err := lock.LockContext(ctx); err != nil {
			return err
		}
		defer func() { _ = lock.Unlock() }()
	}

	var processed int
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.handleEvent(ctx, event); err != nil {
			c.logger.Warn("watch_event_failed",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
			continue
		}
		processed++
	}

	if processed > 0 {
		c.logger.Debug("watch_batch_applied", slog.Int("events", processed))
	}
	return nil
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) error {
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		if event.IsDir {
			return nil
		}
		return c.indexPath(ctx, event.Path)
	case watcher.OpDelete:
		if event.IsDir {
			return c.removeFolder(ctx, event.Path)
		}
		return c.indexer.RemoveDocument(ctx, event.Path)
	case watcher.OpRename:
		if event.OldPath != "" {
			if err := c.indexer.RemoveDocument(ctx, event.OldPath); err != nil {
				return err
			}
		}
		return c.indexPath(ctx, event.Path)
	case watcher.OpGitignoreChange, watcher.OpConfigChange:
		return c.reconcile(ctx, event)
	default:
		return nil
	}
}

// indexPath indexes one note, or removes it when it is no longer indexable.
func (c *Coordinator) indexPath(ctx context.Context, rel string) error {
	if !c.source.Includes(rel) || c.indexer.Excluded(rel) {
		return c.indexer.RemoveDocument(ctx, rel)
	}

	doc, err := c.source.Get(ctx, rel)
	if errors.Is(err, corpus.ErrNotFound) {
		return c.indexer.RemoveDocument(ctx, rel)
	}
	if err != nil {
		return err
	}

	n, err := c.indexer.IndexDocument(ctx, doc, false)
	if err != nil {
		return err
	}
	c.logger.Info("watch_document_indexed",
		slog.String("document", doc.ID()),
		slog.Int("chunks", n))
	return nil
}

// removeFolder drops every stored document under a deleted folder.
func (c *Coordinator) removeFolder(ctx context.Context, dir string) error {
	ids, err := c.indexer.Store().Documents(ctx)
	if err != nil {
		return err
	}
	prefix := path.Clean(dir) + "/"
	for _, id := range ids {
		if len(id) > len(prefix) && id[:len(prefix)] == prefix {
			if err := c.indexer.RemoveDocument(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcile runs an incremental corpus pass so newly ignored notes are
// pruned and newly visible ones indexed.
func (c *Coordinator) reconcile(ctx context.Context, event watcher.FileEvent) error {
	if inv, ok := c.source.(gitignoreInvalidator); ok {
		inv.InvalidateGitignoreCache()
	}
	c.logger.Info("watch_reconcile_started",
		slog.String("trigger", event.Path),
		slog.String("operation", event.Operation.String()))

	res, err := c.indexer.IndexCorpus(ctx, false, nil)
	if err != nil {
		return err
	}
	c.logger.Info("watch_reconcile_complete",
		slog.Int("indexed", res.Indexed),
		slog.Int("pruned", res.Pruned))
	return nil
}
