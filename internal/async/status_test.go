package async

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgress(t *testing.T) {
	// Given/When: creating a new progress tracker
	p := NewProgress("job-1", true)

	// Then: should be running with no documents seen
	require.NotNil(t, p)
	snap := p.Snapshot()
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, string(StatusRunning), snap.Status)
	assert.True(t, snap.Force)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.ProgressPct)
	assert.Equal(t, StatusRunning, p.Status())
}

func TestProgress_Percentages(t *testing.T) {
	tests := []struct {
		name           string
		current, total int
		want           float64
	}{
		{name: "no documents", current: 0, total: 0, want: 0},
		{name: "first of four", current: 1, total: 4, want: 25},
		{name: "half", current: 50, total: 100, want: 50},
		{name: "last", current: 7, total: 7, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgress("j", false)
			p.Update(tt.current, tt.total, "a.md")
			assert.InDelta(t, tt.want, p.Snapshot().ProgressPct, 0.001)
		})
	}
}

func TestProgress_Complete(t *testing.T) {
	p := NewProgress("j", false)
	p.Update(2, 3, "b.md")
	assert.Equal(t, "b.md", p.Snapshot().Document)

	p.Complete(StatusCompleted, 2, 1, 0, 9, 1)

	snap := p.Snapshot()
	assert.Equal(t, string(StatusCompleted), snap.Status)
	assert.Equal(t, 100.0, snap.ProgressPct)
	assert.Empty(t, snap.Document)
	assert.Equal(t, 2, snap.Indexed)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 9, snap.Chunks)
	assert.Equal(t, 1, snap.Pruned)
}

func TestProgress_SetError(t *testing.T) {
	p := NewProgress("j", false)
	p.SetError("provider down")

	snap := p.Snapshot()
	assert.Equal(t, string(StatusFailed), snap.Status)
	assert.Equal(t, "provider down", snap.ErrorMessage)
}

func TestProgress_ConcurrentAccess(t *testing.T) {
	p := NewProgress("j", false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			p.Update(n, 10, "x.md")
		}(i)
		go func() {
			defer wg.Done()
			_ = p.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, p.Snapshot().Total)
}
