package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveAccumulates(t *testing.T) {
	// Given: two deltas saved on the same day
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := newDelta()
	first.Kinds["search"] = 2
	first.Backends["local"] = 2
	first.Latency[BucketP10] = 2
	first.Terms["garden"] = 2
	first.Zero = 1
	first.Misses = []ZeroResult{{Query: "orchids", Kind: "search", Timestamp: ts}}
	require.NoError(t, s.Save(ctx, "2026-03-01", first))

	second := newDelta()
	second.Kinds["context"] = 1
	second.Backends["local"] = 1
	second.Latency[BucketP50] = 1
	second.Terms["garden"] = 1
	second.Terms["roses"] = 1
	require.NoError(t, s.Save(ctx, "2026-03-01", second))

	// When: summarising
	sum, err := s.Summary(ctx, "2026-01-01", 10, 10)
	require.NoError(t, err)

	// Then: counters are added, not replaced
	assert.EqualValues(t, 3, sum.Total)
	assert.EqualValues(t, 1, sum.ZeroResults)
	assert.Equal(t, map[string]int64{"search": 2, "context": 1}, sum.Kinds)
	assert.EqualValues(t, 3, sum.Backends["local"])
	assert.EqualValues(t, 1, sum.Latency[BucketP50])
	assert.Equal(t, []TermCount{{"garden", 3}, {"roses", 1}}, sum.TopTerms)
	require.Len(t, sum.Misses, 1)
	assert.Equal(t, "orchids", sum.Misses[0].Query)
	assert.True(t, ts.Equal(sum.Misses[0].Timestamp))
	assert.Equal(t, "2026-03-01", sum.Since.Format(time.DateOnly))
}

func TestSQLiteStore_SummaryFiltersByDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := newDelta()
	old.Kinds["search"] = 5
	require.NoError(t, s.Save(ctx, "2026-01-01", old))
	recent := newDelta()
	recent.Kinds["search"] = 2
	require.NoError(t, s.Save(ctx, "2026-03-01", recent))

	sum, err := s.Summary(ctx, "2026-02-01", 10, 10)
	require.NoError(t, err)

	assert.EqualValues(t, 2, sum.Total)
}

func TestSQLiteStore_MissesAreTrimmed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := newDelta()
	d.Kinds["search"] = maxStoredMisses + 5
	for i := range maxStoredMisses + 5 {
		d.Misses = append(d.Misses, ZeroResult{Query: string(rune('a' + i%26)), Kind: "search", Timestamp: time.Now()})
	}
	require.NoError(t, s.Save(ctx, "2026-03-01", d))

	sum, err := s.Summary(ctx, "2026-01-01", 0, 1000)
	require.NoError(t, err)
	assert.Len(t, sum.Misses, maxStoredMisses)
}

func TestSQLiteStore_EmptySummary(t *testing.T) {
	s := openTestStore(t)

	sum, err := s.Summary(context.Background(), "2026-01-01", 10, 10)

	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.True(t, sum.Since.IsZero())
	assert.Empty(t, sum.TopTerms)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	// Given: a recorder flushing into a file store
	path := filepath.Join(t.TempDir(), DefaultFileName)
	ctx := context.Background()
	s, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	r := NewRecorder(s, Config{})
	r.ObserveQuery("search", "garden", "local", 0, 0)
	require.NoError(t, r.Close())
	require.NoError(t, s.Close())

	// When: reopening
	s2, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	sum, err := s2.Summary(ctx, "2000-01-01", 5, 5)

	// Then: the query is still there
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.Total)
	require.Len(t, sum.Misses, 1)
	assert.Equal(t, "garden", sum.Misses[0].Query)
}

func TestOpenSQLiteStore_InMemory(t *testing.T) {
	s, err := OpenSQLiteStore(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
