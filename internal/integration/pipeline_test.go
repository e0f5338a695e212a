// Package integration exercises the indexing pipeline, the search
// orchestrator and the watcher together against real files.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultrag/internal/chunk"
	"github.com/Aman-CERP/vaultrag/internal/corpus"
	"github.com/Aman-CERP/vaultrag/internal/embed"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/search"
	"github.com/Aman-CERP/vaultrag/internal/store"
)

// pipeline is a vault wired the same way the CLI wires it, with the
// offline static embedder and a sqlite store.
type pipeline struct {
	root    string
	source  *corpus.FSSource
	indexer *index.Indexer
	orch    *search.Orchestrator
}

func newPipeline(t *testing.T, root string, hybrid bool) *pipeline {
	t.Helper()
	ctx := context.Background()
	dataDir := filepath.Join(root, ".vaultrag")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	source, err := corpus.NewFSSource(corpus.FSOptions{Root: root, RespectGitignore: true})
	require.NoError(t, err)

	vectors, err := store.Open(ctx, store.BackendSQLite, dataDir, "exact", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	var keyword store.KeywordIndex
	if hybrid {
		keyword, err = store.OpenKeywordIndex(dataDir, "sqlite", store.DefaultKeywordConfig(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = keyword.Close() })
	}

	chunker, err := chunk.New(chunk.Config{})
	require.NoError(t, err)

	indexer, err := index.New(index.Dependencies{
		Source:   source,
		Chunker:  chunker,
		Embedder: embed.NewStaticEmbedder(),
		Store:    vectors,
		Keyword:  keyword,
	})
	require.NoError(t, err)

	local := search.NewLocalBackend(indexer, search.LocalConfig{Keyword: keyword})
	orch := search.NewOrchestrator([]search.Backend{local}, search.Settings{
		Enabled:   true,
		Backends:  []string{"local"},
		TopK:      5,
		Threshold: 0.01,
		Hybrid:    hybrid,
	})

	return &pipeline{root: root, source: source, indexer: indexer, orch: orch}
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// createTestVault writes a small vault with three unrelated topics.
func createTestVault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeNote(t, root, "Garden/tomatoes.md", `---
tags: [garden, vegetables]
---
# Tomatoes

## Planting

Tomatoes need full sun, staking and deep watering twice a week.

## Harvest

Pick tomatoes when they are fully red and slightly soft.
`)
	writeNote(t, root, "Work/standup.md", `# Standup

## Sprint

Deploy pipeline review, sprint planning and release retro.
`)
	writeNote(t, root, "Recipes/bread.md", `# Sourdough

Feed the starter, mix flour and water, then proof the dough overnight.
`)
	writeNote(t, root, ".gitignore", "Private/\n")
	writeNote(t, root, "Private/diary.md", "# Diary\n\nTomatoes everywhere today.\n")
	return root
}

func TestIntegration_IndexAndSearch_FindsResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed vault
	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx := context.Background()

	result, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Documents, "gitignored notes are not listed")
	assert.Equal(t, 3, result.Indexed)
	assert.Positive(t, result.Chunks)

	// When: searching for garden vocabulary
	results := p.orch.Search(ctx, "staking tomatoes watering", nil)

	// Then: the tomato note ranks first with its heading path and tags
	require.NotEmpty(t, results)
	top := results[0]
	assert.Equal(t, "Garden/tomatoes.md", top.DocumentID)
	assert.Equal(t, "local", top.Backend)
	assert.Contains(t, top.Breadcrumb, "Planting")
	assert.ElementsMatch(t, []string{"garden", "vegetables"}, top.Tags)
	for _, r := range results {
		assert.NotEqual(t, "Private/diary.md", r.DocumentID)
	}
}

func TestIntegration_HybridSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	root := createTestVault(t)
	p := newPipeline(t, root, true)
	ctx := context.Background()
	_, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)

	results := p.orch.Search(ctx, "sourdough starter", nil)

	require.NotEmpty(t, results)
	assert.Equal(t, "Recipes/bread.md", results[0].DocumentID)
}

func TestIntegration_FolderFilter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx := context.Background()
	_, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)

	results := p.orch.Search(ctx, "tomatoes sprint", &search.Options{FolderPrefix: "Work"})

	for _, r := range results {
		assert.Equal(t, "Work/standup.md", r.DocumentID)
	}
}

func TestIntegration_RelatedAndContext(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed vault
	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx := context.Background()
	_, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)

	// When: asking for notes related to a tomato passage
	related := p.orch.FindRelated(ctx, "Harvest the tomatoes when red and soft", 3)

	// Then: the tomato note is found
	require.NotEmpty(t, related)
	assert.Equal(t, "Garden/tomatoes.md", related[0].DocumentID)

	// When: building prompt context
	text := p.orch.GetContextForQuery(ctx, "tomatoes staking", nil)

	// Then: each chunk is headed by its note and heading path
	assert.Contains(t, text, "### Garden/tomatoes.md > Tomatoes")
}

func TestIntegration_ReindexSkipsUnchangedAndPrunes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed vault
	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx := context.Background()
	_, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)

	// When: one note is deleted and nothing else changes
	require.NoError(t, os.Remove(filepath.Join(root, "Recipes", "bread.md")))
	result, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)

	// Then: the rest are skipped and the deleted note is pruned
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 1, result.Pruned)

	stats, err := p.orch.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	for _, r := range p.orch.Search(ctx, "sourdough starter", nil) {
		assert.NotEqual(t, "Recipes/bread.md", r.DocumentID)
	}
}

func TestIntegration_ForceReindexRewritesEverything(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx := context.Background()
	_, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)

	result, err := p.orch.Reindex(ctx, true, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Indexed)
	assert.Equal(t, 0, result.Skipped)
}

func TestIntegration_ReindexHonoursCancellation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a cancelled context
	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: reindexing
	_, err := p.orch.Reindex(ctx, false, nil)

	// Then: the run stops with the context error
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIntegration_ProgressReported(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	root := createTestVault(t)
	p := newPipeline(t, root, false)

	var calls, lastTotal int
	deadline := time.Now().Add(10 * time.Second)
	_, err := p.orch.Reindex(context.Background(), false, func(current, total int, _ string) {
		calls++
		lastTotal = total
		assert.LessOrEqual(t, current, total)
		assert.True(t, time.Now().Before(deadline))
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, lastTotal)
}
