package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keywordBackends(t *testing.T, fn func(t *testing.T, idx KeywordIndex)) {
	t.Helper()
	for _, backend := range []string{KeywordBackendSQLite, KeywordBackendBleve} {
		t.Run(backend, func(t *testing.T) {
			idx, err := OpenKeywordIndex("", backend, DefaultKeywordConfig(), nil)
			require.NoError(t, err)
			defer func() { _ = idx.Close() }()
			fn(t, idx)
		})
	}
}

func kdoc(doc string, ord int, content string) *KeywordDoc {
	return &KeywordDoc{ID: RecordID(doc, ord), DocumentID: doc, Content: content}
}

func TestKeywordIndex_IndexAndSearch(t *testing.T) {
	keywordBackends(t, func(t *testing.T, idx KeywordIndex) {
		ctx := context.Background()

		// Given: three chunks
		require.NoError(t, idx.Index(ctx, []*KeywordDoc{
			kdoc("garden.md", 0, "Planted tomatoes and basil in the raised garden bed."),
			kdoc("garden.md", 1, "Compost schedule for the garden."),
			kdoc("work.md", 0, "Quarterly planning meeting notes."),
		}))
		assert.Equal(t, 3, idx.Count())

		// When: searching a term in two chunks
		hits, err := idx.Search(ctx, "garden", 10)
		require.NoError(t, err)

		// Then: both are found, scored positive
		require.Len(t, hits, 2)
		for _, h := range hits {
			assert.Equal(t, "garden.md", h.DocumentID)
			assert.Greater(t, h.Score, 0.0)
			assert.NotEmpty(t, h.MatchedTerms)
		}
	})
}

func TestKeywordIndex_AnyTermMatches(t *testing.T) {
	keywordBackends(t, func(t *testing.T, idx KeywordIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, []*KeywordDoc{
			kdoc("a.md", 0, "tomatoes"),
			kdoc("b.md", 0, "quarterly"),
		}))

		hits, err := idx.Search(ctx, "tomatoes quarterly unicorn", 10)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})
}

func TestKeywordIndex_MoreMatchesRankHigher(t *testing.T) {
	keywordBackends(t, func(t *testing.T, idx KeywordIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, []*KeywordDoc{
			kdoc("one.md", 0, "basil harvest"),
			kdoc("both.md", 0, "basil tomatoes harvest"),
			kdoc("other.md", 0, "meeting agenda"),
		}))

		hits, err := idx.Search(ctx, "basil tomatoes", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "both.md", hits[0].DocumentID)
	})
}

func TestKeywordIndex_StopWordsAndEmptyQueries(t *testing.T) {
	keywordBackends(t, func(t *testing.T, idx KeywordIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, []*KeywordDoc{kdoc("a.md", 0, "the garden of the house")}))

		for _, q := range []string{"", "   ", "the of"} {
			hits, err := idx.Search(ctx, q, 10)
			require.NoError(t, err, q)
			assert.Empty(t, hits, q)
		}
	})
}

func TestKeywordIndex_ReindexReplacesContent(t *testing.T) {
	keywordBackends(t, func(t *testing.T, idx KeywordIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, []*KeywordDoc{kdoc("a.md", 0, "original draft")}))
		require.NoError(t, idx.Index(ctx, []*KeywordDoc{kdoc("a.md", 0, "revised version")}))

		assert.Equal(t, 1, idx.Count())

		hits, err := idx.Search(ctx, "draft", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)

		hits, err = idx.Search(ctx, "revised", 10)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})
}

func TestKeywordIndex_DeleteByDocumentAndClear(t *testing.T) {
	keywordBackends(t, func(t *testing.T, idx KeywordIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, []*KeywordDoc{
			kdoc("a.md", 0, "alpha notes"),
			kdoc("a.md", 1, "alpha more"),
			kdoc("b.md", 0, "alpha elsewhere"),
		}))

		require.NoError(t, idx.DeleteByDocument(ctx, "a.md"))
		hits, err := idx.Search(ctx, "alpha", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b.md", hits[0].DocumentID)

		require.NoError(t, idx.DeleteByDocument(ctx, "missing.md"))

		require.NoError(t, idx.Clear(ctx))
		assert.Zero(t, idx.Count())
	})
}

func TestKeywordIndex_ClosedIndex(t *testing.T) {
	keywordBackends(t, func(t *testing.T, idx KeywordIndex) {
		require.NoError(t, idx.Close())
		require.NoError(t, idx.Close())

		_, err := idx.Search(context.Background(), "anything", 5)
		assert.Error(t, err)
		assert.Zero(t, idx.Count())
	})
}

func TestKeywordIndex_PersistsAcrossReopen(t *testing.T) {
	for _, backend := range []string{KeywordBackendSQLite, KeywordBackendBleve} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			idx, err := OpenKeywordIndex(dir, backend, DefaultKeywordConfig(), nil)
			require.NoError(t, err)
			require.NoError(t, idx.Index(ctx, []*KeywordDoc{kdoc("a.md", 0, "persistent content")}))
			require.NoError(t, idx.Close())

			reopened, err := OpenKeywordIndex(dir, backend, DefaultKeywordConfig(), nil)
			require.NoError(t, err)
			defer func() { _ = reopened.Close() }()

			hits, err := reopened.Search(ctx, "persistent", 5)
			require.NoError(t, err)
			assert.Len(t, hits, 1)
		})
	}
}

func TestSQLiteKeywordIndex_CorruptedFileIsCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))

	idx, err := NewSQLiteKeywordIndex(path, DefaultKeywordConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	assert.Zero(t, idx.Count())
}

func TestBleveKeywordIndex_CorruptedMetaIsCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.bleve")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{bad"), 0o644))

	idx, err := NewBleveKeywordIndex(path, DefaultKeywordConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	assert.Zero(t, idx.Count())
}

func TestOpenKeywordIndex_UnknownBackend(t *testing.T) {
	_, err := OpenKeywordIndex("", "lucene", DefaultKeywordConfig(), nil)
	assert.Error(t, err)
}

func TestKeywordIndexPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "keyword.db"), KeywordIndexPath("data", KeywordBackendSQLite))
	assert.Equal(t, filepath.Join("data", "keyword.bleve"), KeywordIndexPath("data", KeywordBackendBleve))
}
