package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/internal/index"
)

// fakeCorpus walks n documents, calling step between them.
type fakeCorpus struct {
	docs  int
	step  func(ctx context.Context, i int) error
	calls atomic.Int32
	force atomic.Bool
}

func (f *fakeCorpus) IndexCorpus(ctx context.Context, force bool, onProgress index.ProgressFunc) (*index.Result, error) {
	f.calls.Add(1)
	f.force.Store(force)
	res := &index.Result{Documents: f.docs}
	for i := 0; i < f.docs; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		onProgress(i+1, f.docs, "doc.md")
		if f.step != nil {
			if err := f.step(ctx, i); err != nil {
				return nil, err
			}
		}
		res.Indexed++
		res.Chunks += 2
	}
	return res, nil
}

func TestBackgroundIndexer_IdleStatus(t *testing.T) {
	b := NewBackgroundIndexer(&fakeCorpus{}, IndexerConfig{})

	assert.False(t, b.IsRunning())
	assert.Equal(t, string(StatusIdle), b.Status().Status)

	res, err := b.Wait()
	assert.NoError(t, err)
	assert.Nil(t, res)
	b.Cancel()
}

func TestBackgroundIndexer_RunsToCompletion(t *testing.T) {
	// Given: a three-document corpus
	fc := &fakeCorpus{docs: 3}
	b := NewBackgroundIndexer(fc, IndexerConfig{DataDir: t.TempDir()})

	// When: starting a forced job
	id, err := b.Start(context.Background(), true)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "job ids are uuids")

	res, err := b.Wait()

	// Then: the result and final snapshot agree
	require.NoError(t, err)
	assert.Equal(t, 3, res.Indexed)
	assert.True(t, fc.force.Load())

	snap := b.Status()
	assert.Equal(t, id, snap.JobID)
	assert.Equal(t, string(StatusCompleted), snap.Status)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 6, snap.Chunks)
	assert.Equal(t, 100.0, snap.ProgressPct)
	assert.False(t, b.IsRunning())
}

func TestBackgroundIndexer_RejectsConcurrentJobs(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeCorpus{docs: 1, step: func(ctx context.Context, _ int) error {
		<-release
		return nil
	}}
	b := NewBackgroundIndexer(fc, IndexerConfig{})

	_, err := b.Start(context.Background(), false)
	require.NoError(t, err)

	_, err = b.Start(context.Background(), false)
	require.ErrorIs(t, err, ErrJobRunning)
	assert.Equal(t, vrerrors.ErrCodeIndexLocked, vrerrors.GetCode(err))

	close(release)
	_, err = b.Wait()
	require.NoError(t, err)

	// A finished job frees the slot.
	_, err = b.Start(context.Background(), false)
	require.NoError(t, err)
	_, _ = b.Wait()
	assert.Equal(t, int32(2), fc.calls.Load())
}

func TestBackgroundIndexer_CancelStopsBetweenDocuments(t *testing.T) {
	started := make(chan struct{})
	fc := &fakeCorpus{docs: 100, step: func(ctx context.Context, i int) error {
		if i == 0 {
			close(started)
		}
		time.Sleep(time.Millisecond)
		return nil
	}}
	b := NewBackgroundIndexer(fc, IndexerConfig{})

	_, err := b.Start(context.Background(), false)
	require.NoError(t, err)
	<-started

	b.Stop()

	res, err := b.Wait()
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Less(t, res.Indexed, 100)

	snap := b.Status()
	assert.Equal(t, string(StatusCancelled), snap.Status)
	assert.False(t, b.IsRunning())
}

func TestBackgroundIndexer_ParentContextCancels(t *testing.T) {
	fc := &fakeCorpus{docs: 1, step: func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	b := NewBackgroundIndexer(fc, IndexerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := b.Start(ctx, false)
	require.NoError(t, err)
	cancel()

	_, err = b.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, string(StatusCancelled), b.Status().Status)
}

func TestBackgroundIndexer_FailureIsReported(t *testing.T) {
	boom := vrerrors.New(vrerrors.ErrCodeNetworkUnavailable, "embedding provider is not available", nil)
	fc := &fakeCorpus{docs: 1, step: func(context.Context, int) error { return boom }}
	b := NewBackgroundIndexer(fc, IndexerConfig{})

	_, err := b.Start(context.Background(), false)
	require.NoError(t, err)
	_, err = b.Wait()

	require.True(t, errors.Is(err, boom))
	snap := b.Status()
	assert.Equal(t, string(StatusFailed), snap.Status)
	assert.Contains(t, snap.ErrorMessage, "ERR_302")
}

func TestBackgroundIndexer_DataDirLockAndMarker(t *testing.T) {
	dataDir := t.TempDir()

	var markerSeen atomic.Bool
	fc := &fakeCorpus{docs: 1, step: func(context.Context, int) error {
		markerSeen.Store(HasIncompleteRun(dataDir))
		return nil
	}}
	b := NewBackgroundIndexer(fc, IndexerConfig{DataDir: dataDir})

	// Another process holds the data directory.
	other := index.NewFileLock(dataDir)
	require.NoError(t, other.TryLock())

	_, err := b.Start(context.Background(), false)
	require.NoError(t, err)
	_, err = b.Wait()
	assert.Equal(t, vrerrors.ErrCodeIndexLocked, vrerrors.GetCode(err))
	assert.Zero(t, fc.calls.Load())

	require.NoError(t, other.Unlock())

	_, err = b.Start(context.Background(), false)
	require.NoError(t, err)
	_, err = b.Wait()
	require.NoError(t, err)

	assert.True(t, markerSeen.Load(), "marker present during the run")
	assert.False(t, HasIncompleteRun(dataDir), "marker removed afterwards")
}

func TestBackgroundIndexer_HoldsWriteLockForRun(t *testing.T) {
	// Given: a write lock held by another writer
	fc := &fakeCorpus{docs: 2}
	var writes sync.Mutex
	b := NewBackgroundIndexer(fc, IndexerConfig{WriteLock: &writes})
	writes.Lock()

	// When: a job starts
	_, err := b.Start(context.Background(), false)
	require.NoError(t, err)

	// Then: it does not index until the lock is released
	assert.Never(t, func() bool { return fc.calls.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	writes.Unlock()
	res, err := b.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)

	// And the lock is free again afterwards
	assert.True(t, writes.TryLock())
	writes.Unlock()
}
