package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

// lockRetryDelay is how often LockContext retries a held lock.
const lockRetryDelay = 50 * time.Millisecond

// LockFileName is created inside the data directory while indexing.
const LockFileName = ".index.lock"

// FileLock is a cross-process lock on a data directory. It keeps two
// vaultrag processes from writing the same index at once.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock for dataDir. Nothing is created on disk until
// Lock or TryLock.
func NewFileLock(dataDir string) *FileLock {
	path := filepath.Join(dataDir, LockFileName)
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Lock blocks until the lock is acquired.
func (l *FileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// LockContext waits for the lock until ctx is done.
func (l *FileLock) LockContext(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return ctx.Err()
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without blocking. When another process holds
// it, an ERR_207 error is returned.
func (l *FileLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return vrerrors.New(vrerrors.ErrCodeIndexLocked, "index is being written by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("wait for the other indexing run to finish")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// IsLocked reports whether this FileLock holds the lock.
func (l *FileLock) IsLocked() bool { return l.locked }
