package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, d *Debouncer, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_SingleEventPassesThrough(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "Daily/2026-03-01.md", Operation: OpCreate, Timestamp: time.Now()})

	batch := receiveBatch(t, d, time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, "Daily/2026-03-01.md", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncer_RepeatedSavesCoalesce(t *testing.T) {
	// Given: an editor saving the same note five times in a row
	d := NewDebouncer(80*time.Millisecond, nil)
	defer d.Stop()

	for range 5 {
		d.Add(FileEvent{Path: "note.md", Operation: OpModify, Timestamp: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}

	// Then: one MODIFY comes out
	batch := receiveBatch(t, d, time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
	}{
		{name: "create then modify", ops: []Operation{OpCreate, OpModify}, want: OpCreate},
		{name: "modify then delete", ops: []Operation{OpModify, OpDelete}, want: OpDelete},
		{name: "delete then create", ops: []Operation{OpDelete, OpCreate}, want: OpModify},
		{name: "modify then modify", ops: []Operation{OpModify, OpModify}, want: OpModify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20*time.Millisecond, nil)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "a.md", Operation: op})
			}

			batch := receiveBatch(t, d, time.Second)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.want, batch[0].Operation)
		})
	}
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	// Given: a temp file created and removed by an editor
	d.Add(FileEvent{Path: "note.md~", Operation: OpCreate})
	d.Add(FileEvent{Path: "note.md~", Operation: OpDelete})
	d.Add(FileEvent{Path: "note.md", Operation: OpModify})

	// Then: only the real note is reported
	batch := receiveBatch(t, d, time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, "note.md", batch[0].Path)
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	for _, p := range []string{"c.md", "a.md", "b.md"} {
		d.Add(FileEvent{Path: p, Operation: OpModify})
	}

	batch := receiveBatch(t, d, time.Second)
	require.Len(t, batch, 3)
	assert.Equal(t, "a.md", batch[0].Path)
	assert.Equal(t, "b.md", batch[1].Path)
	assert.Equal(t, "c.md", batch[2].Path)
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour, nil)
	d.Add(FileEvent{Path: "a.md", Operation: OpModify})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "b.md", Operation: OpModify})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
