package async

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/internal/index"
)

// incompleteMarker is written to the data directory for the duration of a
// run and removed when it finishes, even with errors. Finding it at startup
// means a previous process died mid-run.
const incompleteMarker = "indexing.incomplete"

// CorpusIndexer is the work the background job runs.
type CorpusIndexer interface {
	IndexCorpus(ctx context.Context, force bool, onProgress index.ProgressFunc) (*index.Result, error)
}

// IndexerConfig configures the BackgroundIndexer.
type IndexerConfig struct {
	// DataDir, when set, is locked for the duration of a run so that other
	// processes cannot index the same store.
	DataDir string

	// WriteLock, when set, is held for the duration of a run. Share it
	// with any other writer of the same index in this process.
	WriteLock sync.Locker

	Logger *slog.Logger
}

// job is one run of the corpus indexer.
type job struct {
	id       string
	progress *Progress
	cancel   context.CancelFunc
	done     chan struct{}
	result   *index.Result
	err      error
}

// BackgroundIndexer runs corpus indexing in a background goroutine, one
// job at a time.
type BackgroundIndexer struct {
	config  IndexerConfig
	indexer CorpusIndexer
	logger  *slog.Logger

	mu      sync.Mutex
	current *job
}

// ErrJobRunning is returned by Start while a job is in progress.
var ErrJobRunning = vrerrors.New(vrerrors.ErrCodeIndexLocked, "an indexing job is already running", nil)

// NewBackgroundIndexer creates a background indexer around ix.
func NewBackgroundIndexer(ix CorpusIndexer, cfg IndexerConfig) *BackgroundIndexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundIndexer{config: cfg, indexer: ix, logger: logger}
}

// Start begins a corpus run and returns its job id immediately. The job
// lives until it finishes, Cancel is called, or parent is cancelled.
func (b *BackgroundIndexer) Start(parent context.Context, force bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil && !b.current.finished() {
		return "", ErrJobRunning
	}

	ctx, cancel := context.WithCancel(parent)
	j := &job{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	j.progress = NewProgress(j.id, force)
	b.current = j

	go b.run(ctx, j, force)
	return j.id, nil
}

func (b *BackgroundIndexer) run(ctx context.Context, j *job, force bool) {
	defer close(j.done)
	defer j.cancel()

	b.logger.Info("index_job_started", slog.String("job_id", j.id), slog.Bool("force", force))

	if l := b.config.WriteLock; l != nil {
		l.Lock()
		defer l.Unlock()
	}

	if b.config.DataDir != "" {
		lock := index.NewFileLock(b.config.DataDir)
		if err := lock.TryLock(); err != nil {
			j.err = err
			j.progress.SetError(err.Error())
			b.logger.Warn("index_job_locked", slog.String("job_id", j.id), vrerrors.LogAttr(err))
			return
		}
		defer func() { _ = lock.Unlock() }()

		marker := filepath.Join(b.config.DataDir, incompleteMarker)
		if err := os.WriteFile(marker, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
			b.logger.Warn("index_marker_write_failed", slog.String("error", err.Error()))
		}
		defer func() { _ = os.Remove(marker) }()
	}

	result, err := b.indexer.IndexCorpus(ctx, force, j.progress.Update)
	j.result, j.err = result, err

	switch {
	case err == nil:
		j.progress.Complete(StatusCompleted, result.Indexed, result.Skipped, result.Failed, result.Chunks, result.Pruned)
		b.logger.Info("index_job_complete", slog.String("job_id", j.id))
	case errors.Is(err, context.Canceled):
		if result != nil {
			j.progress.Complete(StatusCancelled, result.Indexed, result.Skipped, result.Failed, result.Chunks, result.Pruned)
		} else {
			j.progress.Complete(StatusCancelled, 0, 0, 0, 0, 0)
		}
		b.logger.Info("index_job_cancelled", slog.String("job_id", j.id))
	default:
		j.progress.SetError(err.Error())
		b.logger.Warn("index_job_failed", slog.String("job_id", j.id), vrerrors.LogAttr(err))
	}
}

// Cancel stops the running job between documents. It does nothing when no
// job is running.
func (b *BackgroundIndexer) Cancel() {
	b.mu.Lock()
	j := b.current
	b.mu.Unlock()
	if j != nil {
		j.cancel()
	}
}

// Stop cancels the running job and waits for it to end.
func (b *BackgroundIndexer) Stop() {
	b.Cancel()
	_, _ = b.Wait()
}

// Wait blocks until the current job ends and returns its outcome. With no
// job it returns immediately.
func (b *BackgroundIndexer) Wait() (*index.Result, error) {
	b.mu.Lock()
	j := b.current
	b.mu.Unlock()
	if j == nil {
		return nil, nil
	}
	<-j.done
	return j.result, j.err
}

// IsRunning reports whether a job is in progress.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil && !b.current.finished()
}

// Status returns the progress of the current or last job.
func (b *BackgroundIndexer) Status() Snapshot {
	b.mu.Lock()
	j := b.current
	b.mu.Unlock()
	if j == nil {
		return Snapshot{Status: string(StatusIdle)}
	}
	return j.progress.Snapshot()
}

func (j *job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// HasIncompleteRun reports whether a run in dataDir ended without cleaning
// up, for example because the process was killed.
func HasIncompleteRun(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, incompleteMarker))
	return err == nil
}
