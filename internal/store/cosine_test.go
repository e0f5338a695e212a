package store

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []float32
		expect float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expect: 1},
		{name: "scaled", a: []float32{1, 2, 3}, b: []float32{2, 4, 6}, expect: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, expect: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, expect: -1},
		{name: "dimension mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, expect: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, expect: 0},
		{name: "empty", a: nil, b: nil, expect: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expect, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	v := []float32{0, 1.5, -2.25, float32(math.Pi)}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func randomVector(r *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return v
}

func TestANNIndex_CandidatesContainExactNeighbour(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ann := newANNIndex()
	vectors := make(map[string][]float32)
	for i := 0; i < 300; i++ {
		id := fmt.Sprintf("doc-%d.md#0", i)
		vectors[id] = randomVector(r, 16)
		ann.add(id, vectors[id])
	}

	target := "doc-42.md#0"
	ids := ann.candidates(vectors[target], 10)

	assert.Contains(t, ids, target)
	assert.LessOrEqual(t, len(ids), 10)
}

func TestANNIndex_SkipsUnusableVectors(t *testing.T) {
	ann := newANNIndex()
	ann.add("a", []float32{1, 0, 0})
	ann.add("zero", []float32{0, 0, 0})
	ann.add("short", []float32{1, 0})
	ann.add("empty", nil)

	assert.Equal(t, 1, ann.len())
	assert.Nil(t, ann.candidates([]float32{1, 0}, 5), "wrong dimension query")
	assert.Nil(t, ann.candidates([]float32{0, 0, 0}, 5), "zero query")
}

func TestANNIndex_RemoveHidesOrphans(t *testing.T) {
	ann := newANNIndex()
	ann.add("a", []float32{1, 0})
	ann.add("b", []float32{0.9, 0.1})
	ann.remove("a")

	ids := ann.candidates([]float32{1, 0}, 2)
	assert.Equal(t, []string{"b"}, ids)

	ann.reset()
	assert.Zero(t, ann.len())
}

func TestStore_HNSWModeMatchesExact(t *testing.T) {
	ctx := context.Background()
	r := rand.New(rand.NewSource(11))

	exact := NewMemoryStore(WithSearchMode(SearchModeExact))
	approx := NewMemoryStore(WithSearchMode(SearchModeHNSW))

	var records []*VectorRecord
	for i := 0; i < annMinRecords+100; i++ {
		records = append(records, rec(fmt.Sprintf("n%04d.md", i), 0, randomVector(r, 8)...))
	}
	require.NoError(t, exact.Upsert(ctx, records))
	require.NoError(t, approx.Upsert(ctx, records))

	query := records[123].Vector
	want, err := exact.Search(ctx, query, 1, SearchOptions{})
	require.NoError(t, err)
	got, err := approx.Search(ctx, query, 1, SearchOptions{})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, want[0].Record.ID, got[0].Record.ID)
	assert.InDelta(t, want[0].Score, got[0].Score, 1e-9, "scores are always exact")

	// Folder filters bypass the graph.
	filtered, err := approx.Search(ctx, query, 5, SearchOptions{FolderPrefix: "n0001"})
	require.NoError(t, err)
	for _, s := range filtered {
		assert.Contains(t, s.Record.DocumentID, "n0001")
	}
}
