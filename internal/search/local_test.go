package search

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultrag/internal/chunk"
	"github.com/Aman-CERP/vaultrag/internal/corpus"
	"github.com/Aman-CERP/vaultrag/internal/embed"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/store"
)

type toggleEmbedder struct {
	*embed.StaticEmbedder
	down atomic.Bool
}

func (e *toggleEmbedder) Available(ctx context.Context) bool {
	return !e.down.Load() && e.StaticEmbedder.Available(ctx)
}

type localFixture struct {
	source   *corpus.MemorySource
	embedder *toggleEmbedder
	store    store.VectorStore
	keyword  store.KeywordIndex
	indexer  *index.Indexer
}

func newLocalFixture(t *testing.T) *localFixture {
	t.Helper()
	chunker, err := chunk.New(chunk.Config{Strategy: chunk.StrategyHeading, MaxTokens: 512})
	require.NoError(t, err)
	kw, err := store.OpenKeywordIndex("", store.KeywordBackendSQLite, store.DefaultKeywordConfig(), nil)
	require.NoError(t, err)

	f := &localFixture{
		source:   corpus.NewMemorySource(),
		embedder: &toggleEmbedder{StaticEmbedder: embed.NewStaticEmbedder()},
		store:    store.NewMemoryStore(),
		keyword:  kw,
	}
	t.Cleanup(func() {
		_ = f.store.Close()
		_ = f.keyword.Close()
	})

	f.indexer, err = index.New(index.Dependencies{
		Source:   f.source,
		Chunker:  chunker,
		Embedder: f.embedder,
		Store:    f.store,
		Keyword:  f.keyword,
	})
	require.NoError(t, err)

	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.source.Put(&corpus.MemDocument{Path: "Garden/log.md", Modified: mod,
		Text: "# Intro\nPlanted tomatoes and basil.\n\n# Details\nWater every morning before work.\n"})
	f.source.Put(&corpus.MemDocument{Path: "Work/standup.md", Modified: mod,
		Text: "# Standup\nDiscussed the quarterly roadmap and hiring plan.\n"})
	f.source.Put(&corpus.MemDocument{Path: "Recipes/pesto.md", Modified: mod,
		Text: "# Pesto\nBlend basil, garlic, pine nuts and parmesan.\n"})

	_, err = f.indexer.IndexCorpus(context.Background(), false, nil)
	require.NoError(t, err)
	return f
}

func (f *localFixture) backend(withKeyword bool) *LocalBackend {
	cfg := LocalConfig{}
	if withKeyword {
		cfg.Keyword = f.keyword
	}
	return NewLocalBackend(f.indexer, cfg)
}

func (f *localFixture) record(t *testing.T, doc string, ordinal int) *store.VectorRecord {
	t.Helper()
	recs, err := f.store.Records(context.Background(), doc)
	require.NoError(t, err)
	require.Greater(t, len(recs), ordinal)
	return recs[ordinal]
}

func TestLocalBackend_ExactChunkRanksFirst(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(false)
	target := f.record(t, "Garden/log.md", 1)

	// When: searching with a chunk's own text
	results, err := b.Search(context.Background(), target.Content, Options{TopK: 3})
	require.NoError(t, err)

	// Then: that chunk is first with a score of about 1
	require.NotEmpty(t, results)
	assert.Equal(t, "Garden/log.md", results[0].DocumentID)
	require.NotNil(t, results[0].Ordinal)
	assert.Equal(t, 1, *results[0].Ordinal)
	assert.Equal(t, []string{"Details"}, results[0].Breadcrumb)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestLocalBackend_ThresholdAboveOneReturnsNothing(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(false)
	target := f.record(t, "Garden/log.md", 0)

	results, err := b.Search(context.Background(), target.Content, Options{TopK: 5, Threshold: Float(1.01)})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLocalBackend_FolderPrefix(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(false)

	results, err := b.Search(context.Background(), "basil", Options{TopK: 10, FolderPrefix: "Recipes/"})
	require.NoError(t, err)

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "Recipes/pesto.md", r.DocumentID)
	}
}

func TestLocalBackend_TopKZero(t *testing.T) {
	f := newLocalFixture(t)

	results, err := f.backend(false).Search(context.Background(), "basil", Options{TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLocalBackend_HybridIncludesKeywordOnlyHits(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(true)

	// Given: a threshold no vector hit can reach
	opts := Options{TopK: 5, Threshold: Float(0.999), Hybrid: Bool(true)}

	// When: searching for a word only one chunk contains
	results, err := b.Search(context.Background(), "roadmap", opts)
	require.NoError(t, err)

	// Then: the keyword hit is resolved to its stored chunk
	require.Len(t, results, 1)
	assert.Equal(t, "Work/standup.md", results[0].DocumentID)
	assert.Equal(t, []string{"Standup"}, results[0].Breadcrumb)
	assert.Contains(t, results[0].Content, "roadmap")
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestLocalBackend_ThresholdSkipsKeywordHitsInHybrid(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(true)
	ctx := context.Background()

	// Given: a threshold no cosine score reaches
	threshold := Float(0.999)

	// When: searching the same word with and without hybrid
	plain, err := b.Search(ctx, "basil", Options{TopK: 5, Threshold: threshold, Hybrid: Bool(false)})
	require.NoError(t, err)
	hybrid, err := b.Search(ctx, "basil", Options{TopK: 5, Threshold: threshold, Hybrid: Bool(true)})
	require.NoError(t, err)

	// Then: vector search drops everything while keyword hits survive fusion
	assert.Empty(t, plain)
	docs := make([]string, 0, len(hybrid))
	for _, r := range hybrid {
		docs = append(docs, r.DocumentID)
		assert.Greater(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0+1e-9)
	}
	assert.ElementsMatch(t, []string{"Garden/log.md", "Recipes/pesto.md"}, docs)
}

func TestLocalBackend_HybridRespectsFolderPrefix(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(true)

	results, err := b.Search(context.Background(), "basil", Options{
		TopK:         10,
		Threshold:    Float(0),
		Hybrid:       Bool(true),
		FolderPrefix: "Garden/",
	})
	require.NoError(t, err)

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "Garden/log.md", r.DocumentID)
	}
}

func TestLocalBackend_HybridWithoutKeywordIndexUsesVectors(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(false)
	target := f.record(t, "Recipes/pesto.md", 0)

	results, err := b.Search(context.Background(), target.Content, Options{TopK: 1, Hybrid: Bool(true)})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "Recipes/pesto.md", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
}

func TestLocalBackend_FindRelated(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(false)
	target := f.record(t, "Work/standup.md", 0)

	results, err := b.FindRelated(context.Background(), target.Content, 2)
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "Work/standup.md", results[0].DocumentID)
	assert.LessOrEqual(t, len(results), 2)

	empty, err := b.FindRelated(context.Background(), "  ", 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalBackend_AvailableFollowsEmbedder(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(false)
	ctx := context.Background()

	assert.True(t, b.Available(ctx))
	f.embedder.down.Store(true)
	assert.False(t, b.Available(ctx))
}

func TestLocalBackend_ReindexAndStats(t *testing.T) {
	f := newLocalFixture(t)
	b := f.backend(true)
	ctx := context.Background()

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 4, stats.Chunks)

	var progress []string
	res, err := b.Reindex(ctx, true, func(_, _ int, doc string) {
		progress = append(progress, doc)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Indexed)
	assert.Len(t, progress, 3)
}

func TestLocalBackend_ThroughOrchestrator(t *testing.T) {
	f := newLocalFixture(t)
	o := NewOrchestrator([]Backend{f.backend(true)}, Settings{Enabled: true, TopK: 3, Threshold: 0})
	ctx := context.Background()

	results := o.Search(ctx, "tomatoes basil", nil)
	require.NotEmpty(t, results)
	assert.Equal(t, "local", results[0].Backend)

	text := o.GetContextForQuery(ctx, "standup roadmap", &Options{TopK: 1, Hybrid: Bool(true)})
	assert.Contains(t, text, "### Work/standup.md > Standup\n")
}
