package integration

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/search"
	"github.com/Aman-CERP/vaultrag/internal/watcher"
)

// startWatch applies watcher batches to p until the test ends.
func startWatch(t *testing.T, p *pipeline, opts watcher.Options) {
	t.Helper()
	w, err := watcher.New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	coord := index.NewCoordinator(p.indexer, p.source, nil)

	started := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		close(started)
		_ = w.Start(ctx, p.root)
	}()
	go func() {
		for batch := range w.Events() {
			_ = coord.HandleEvents(ctx, batch)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	<-started
	// Give fsnotify time to register the tree.
	time.Sleep(300 * time.Millisecond)
}

func documentIDs(results []search.Result) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.DocumentID)
	}
	return ids
}

func TestIntegration_WatchIndexesNewAndDeletedNotes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed vault under watch
	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx := context.Background()
	_, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)
	startWatch(t, p, watcher.Options{DebounceWindow: 100 * time.Millisecond})

	// When: a new note is written
	writeNote(t, root, "Garden/peppers.md", "# Peppers\n\nJalapeno peppers ripen late in the greenhouse.\n")

	// Then: it becomes searchable without a reindex
	require.Eventually(t, func() bool {
		ids := documentIDs(p.orch.Search(ctx, "jalapeno peppers greenhouse", nil))
		return slices.Contains(ids, "Garden/peppers.md")
	}, 10*time.Second, 100*time.Millisecond)

	// When: the note is deleted
	require.NoError(t, os.Remove(filepath.Join(root, "Garden", "peppers.md")))

	// Then: it drops out of the results
	require.Eventually(t, func() bool {
		ids := documentIDs(p.orch.Search(ctx, "jalapeno peppers greenhouse", nil))
		return !slices.Contains(ids, "Garden/peppers.md")
	}, 10*time.Second, 100*time.Millisecond)
}

func TestIntegration_WatchGitignoreChangePrunes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed vault under watch
	root := createTestVault(t)
	p := newPipeline(t, root, false)
	ctx := context.Background()
	_, err := p.orch.Reindex(ctx, false, nil)
	require.NoError(t, err)
	startWatch(t, p, watcher.Options{DebounceWindow: 100 * time.Millisecond})

	// When: the Recipes folder is added to .gitignore
	writeNote(t, root, ".gitignore", "Private/\nRecipes/\n")

	// Then: the reconcile pass prunes the now-ignored note
	require.Eventually(t, func() bool {
		stats, err := p.orch.Stats(ctx)
		return err == nil && stats.Documents == 2
	}, 10*time.Second, 100*time.Millisecond)
}
