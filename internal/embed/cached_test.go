package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a test double that counts calls
type mockEmbedder struct {
	embedCalls atomic.Int64
	queryCalls atomic.Int64
	batchCalls atomic.Int64
	batchItems atomic.Int64
	dimensions int
	zeroFor    string
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dimensions: dims}
}

func (m *mockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dimensions)
	if text != m.zeroFor {
		vec[0] = float32(len(text)) + 1
	}
	return vec
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vector(text), nil
}

func (m *mockEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	m.queryCalls.Add(1)
	return m.vector("q:" + text), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchItems.Add(int64(len(texts)))
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.vector(text)
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int                  { return m.dimensions }
func (m *mockEmbedder) ModelName() string                { return "mock-model" }
func (m *mockEmbedder) Available(_ context.Context) bool { return true }
func (m *mockEmbedder) Close() error                     { return nil }

func TestCachedEmbedder_Embed_CachesRepeatedText(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)

	first, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_QueryAndDocumentCachedSeparately(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	doc, _ := cached.Embed(ctx, "hello")
	query, _ := EmbedQuery(ctx, cached, "hello")
	_, _ = EmbedQuery(ctx, cached, "hello")

	assert.NotEqual(t, doc, query)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, int64(1), inner.queryCalls.Load())
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedder_EmbedBatch_OnlySendsMisses(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	vecs, err := cached.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	assert.Equal(t, int64(2), inner.batchCalls.Load())
	assert.Equal(t, int64(3), inner.batchItems.Load())
}

func TestCachedEmbedder_ZeroVectorsNotCached(t *testing.T) {
	inner := newMockEmbedder(4)
	inner.zeroFor = "broken"
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, _ = cached.EmbedBatch(ctx, []string{"broken"})
	_, _ = cached.EmbedBatch(ctx, []string{"broken"})

	assert.Equal(t, int64(2), inner.batchItems.Load())
	assert.Equal(t, 0, cached.Len())
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	_, _ = cached.Embed(ctx, "a")
	_, _ = cached.Embed(ctx, "b")
	_, _ = cached.Embed(ctx, "c")
	_, _ = cached.Embed(ctx, "a")

	assert.Equal(t, int64(4), inner.embedCalls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 8, cached.Dimensions())
	assert.Equal(t, "mock-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
	assert.NoError(t, cached.Close())
}
