// Package index turns corpus documents into stored vector records:
// chunk, batch embed, replace.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Aman-CERP/vaultrag/internal/chunk"
	"github.com/Aman-CERP/vaultrag/internal/corpus"
	"github.com/Aman-CERP/vaultrag/internal/embed"
	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/internal/gitignore"
	"github.com/Aman-CERP/vaultrag/internal/store"
)

// ProgressFunc is called once per document during a corpus run, before the
// document is processed. current is 1-based.
type ProgressFunc func(current, total int, documentID string)

// Dependencies holds the collaborators of an Indexer.
type Dependencies struct {
	Source   corpus.Source
	Chunker  chunk.Chunker
	Embedder embed.Embedder
	Store    store.VectorStore

	// Keyword mirrors chunk text for hybrid search. Optional.
	Keyword store.KeywordIndex

	// Exclude lists folder prefixes or gitignore-style patterns matched
	// against document ids.
	Exclude []string

	Logger *slog.Logger
}

// Result summarises a corpus run.
type Result struct {
	Documents int // Documents listed after exclusions
	Indexed   int // Documents (re)written
	Skipped   int // Documents already up to date
	Failed    int // Documents that errored and were left as they were
	Chunks    int // Chunks written
	Pruned    int // Documents removed because they left the corpus
	Duration  time.Duration
}

// Indexer drives Chunker, Embedder and VectorStore for single documents and
// whole corpus runs.
type Indexer struct {
	source   corpus.Source
	chunker  chunk.Chunker
	embedder embed.Embedder
	store    store.VectorStore
	keyword  store.KeywordIndex
	exclude  *gitignore.Matcher
	logger   *slog.Logger
}

// New validates deps and returns an Indexer.
func New(deps Dependencies) (*Indexer, error) {
	if deps.Source == nil {
		return nil, vrerrors.ConfigError("corpus source is required", nil)
	}
	if deps.Chunker == nil {
		return nil, vrerrors.ConfigError("chunker is required", nil)
	}
	if deps.Embedder == nil {
		return nil, vrerrors.ConfigError("embedding provider is required", nil).
			WithSuggestion("set embeddings.provider to ollama, openai or static")
	}
	if deps.Store == nil {
		return nil, vrerrors.ConfigError("vector store is required", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		source:   deps.Source,
		chunker:  deps.Chunker,
		embedder: deps.Embedder,
		store:    deps.Store,
		keyword:  deps.Keyword,
		exclude:  gitignore.Compile(deps.Exclude...),
		logger:   logger,
	}, nil
}

// Store returns the vector store the indexer writes to.
func (ix *Indexer) Store() store.VectorStore { return ix.store }

// Embedder returns the embedding provider.
func (ix *Indexer) Embedder() embed.Embedder { return ix.embedder }

// Source returns the corpus source.
func (ix *Indexer) Source() corpus.Source { return ix.source }

// Excluded reports whether a document id falls under an exclusion rule.
func (ix *Indexer) Excluded(documentID string) bool {
	return !ix.exclude.Empty() && ix.exclude.Match(documentID, false)
}

// IndexDocument chunks, embeds and stores one document, replacing any
// previous records of it. Unless force is set, documents whose records are
// newer than their modification time are skipped and 0 is returned.
//
// Calls for the same document must not overlap.
func (ix *Indexer) IndexDocument(ctx context.Context, doc corpus.Document, force bool) (int, error) {
	n, _, err := ix.indexDocument(ctx, doc, force)
	return n, err
}

func (ix *Indexer) indexDocument(ctx context.Context, doc corpus.Document, force bool) (chunks int, skipped bool, err error) {
	id := doc.ID()
	if !force {
		needs, err := ix.store.NeedsReindex(ctx, id, doc.ModTime())
		if err != nil {
			return 0, false, err
		}
		if !needs {
			return 0, true, nil
		}
	}

	text, err := doc.Read(ctx)
	if err != nil {
		return 0, false, vrerrors.New(vrerrors.ErrCodeIndexFailed, "failed to read document", err).
			WithDetail("document", id)
	}
	outline, err := doc.Outline(ctx)
	if err != nil {
		return 0, false, vrerrors.New(vrerrors.ErrCodeIndexFailed, "failed to read document outline", err).
			WithDetail("document", id)
	}
	if outline == nil {
		outline = &corpus.Outline{}
	}

	pieces, err := ix.chunker.Chunk(ctx, &chunk.Input{Text: text, Headings: outline.Headings})
	if err != nil {
		return 0, false, vrerrors.New(vrerrors.ErrCodeChunkingFailed, "failed to chunk document", err).
			WithDetail("document", id)
	}

	if len(pieces) == 0 {
		// Nothing left to embed; drop whatever an earlier version stored.
		if err := ix.removeRecords(ctx, id); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, false, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed, "failed to embed document", err).
			WithDetail("document", id)
	}
	if len(vectors) != len(pieces) {
		return 0, false, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces)), nil).
			WithDetail("document", id)
	}

	modTime := doc.ModTime()
	records := make([]*store.VectorRecord, len(pieces))
	keywordDocs := make([]*store.KeywordDoc, len(pieces))
	zero := 0
	for i, p := range pieces {
		records[i] = &store.VectorRecord{
			ID:         store.RecordID(id, p.Ordinal),
			DocumentID: id,
			Ordinal:    p.Ordinal,
			Content:    p.Content,
			Vector:     vectors[i],
			Breadcrumb: p.Breadcrumb,
			Tags:       outline.Tags,
			ModTime:    modTime,
		}
		keywordDocs[i] = &store.KeywordDoc{ID: records[i].ID, DocumentID: id, Content: p.Content}
		if embed.IsZero(vectors[i]) {
			zero++
		}
	}
	if zero > 0 {
		ix.logger.Warn("index_document_zero_vectors",
			slog.String("document", id),
			slog.Int("zero", zero),
			slog.Int("chunks", len(pieces)))
	}

	if err := ix.removeRecords(ctx, id); err != nil {
		return 0, false, err
	}
	if err := ix.store.Upsert(ctx, records); err != nil {
		return 0, false, err
	}
	if ix.keyword != nil {
		if err := ix.keyword.Index(ctx, keywordDocs); err != nil {
			// Vector records are the source of truth; keyword hits for this
			// document stay missing until its next reindex.
			ix.logger.Warn("keyword_index_failed",
				slog.String("document", id),
				slog.String("error", err.Error()))
		}
	}

	ix.logger.Debug("index_document_complete",
		slog.String("document", id),
		slog.Int("chunks", len(records)))
	return len(records), false, nil
}

// RemoveDocument deletes every record of a document. Unknown ids are a no-op.
func (ix *Indexer) RemoveDocument(ctx context.Context, documentID string) error {
	if err := ix.removeRecords(ctx, documentID); err != nil {
		return err
	}
	ix.logger.Debug("index_document_removed", slog.String("document", documentID))
	return nil
}

func (ix *Indexer) removeRecords(ctx context.Context, documentID string) error {
	if err := ix.store.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	if ix.keyword != nil {
		if err := ix.keyword.DeleteByDocument(ctx, documentID); err != nil {
			ix.logger.Warn("keyword_delete_failed",
				slog.String("document", documentID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// IndexCorpus indexes every non-excluded document of the source.
//
// The embedding provider must be available before anything is touched: an
// unreachable provider would otherwise write zero vectors for the whole
// corpus. In that case an ERR_302 error is returned and the store is left
// unchanged. With force, the store is cleared and every document re-embedded.
//
// A failing document is logged and counted without stopping the run.
// Cancellation is checked between documents; records written before it
// stay in place.
func (ix *Indexer) IndexCorpus(ctx context.Context, force bool, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()

	if !ix.embedder.Available(ctx) {
		return nil, vrerrors.New(vrerrors.ErrCodeNetworkUnavailable,
			"embedding provider is not available", nil).
			WithDetail("model", ix.embedder.ModelName()).
			WithSuggestion("start the embedding server or check embeddings.endpoint, then retry")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := ix.source.List(ctx)
	if err != nil {
		return nil, vrerrors.New(vrerrors.ErrCodeIndexFailed, "failed to list corpus documents", err)
	}

	if force {
		if err := ix.clear(ctx); err != nil {
			return nil, err
		}
	}

	docs = ix.filter(docs)
	total := len(docs)
	result := &Result{Documents: total}

	ix.logger.Info("index_corpus_started",
		slog.Int("documents", total),
		slog.Bool("force", force),
		slog.String("model", ix.embedder.ModelName()))

	present := make(map[string]struct{}, total)
	for i, doc := range docs {
		present[doc.ID()] = struct{}{}
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			ix.logger.Info("index_corpus_cancelled",
				slog.Int("processed", i),
				slog.Int("documents", total))
			return result, err
		}
		if onProgress != nil {
			onProgress(i+1, total, doc.ID())
		}

		n, skipped, err := ix.indexDocument(ctx, doc, force)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result.Duration = time.Since(start)
				return result, err
			}
			result.Failed++
			ix.logger.Warn("index_document_failed",
				slog.String("document", doc.ID()),
				vrerrors.LogAttr(err))
		case skipped:
			result.Skipped++
		default:
			result.Indexed++
			result.Chunks += n
		}
	}

	pruned, err := ix.prune(ctx, present)
	if err != nil {
		ix.logger.Warn("index_prune_failed", slog.String("error", err.Error()))
	}
	result.Pruned = pruned

	if err := ix.store.SetLastUpdated(ctx, time.Now()); err != nil {
		ix.logger.Warn("index_set_last_updated_failed", slog.String("error", err.Error()))
	}
	ix.recordEmbeddingInfo(ctx)

	result.Duration = time.Since(start)
	ix.logger.Info("index_corpus_complete",
		slog.Int("documents", result.Documents),
		slog.Int("indexed", result.Indexed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("chunks", result.Chunks),
		slog.Int("pruned", result.Pruned),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))
	return result, nil
}

// Stats returns the store statistics.
func (ix *Indexer) Stats(ctx context.Context) (*store.Stats, error) {
	return ix.store.Stats(ctx)
}

// IndexedModel returns the embedding model and dimension recorded by the
// last corpus run, or zero values when none was recorded.
func (ix *Indexer) IndexedModel(ctx context.Context) (model string, dims int, err error) {
	model, err = ix.store.GetState(ctx, store.StateKeyModel)
	if err != nil {
		return "", 0, err
	}
	raw, err := ix.store.GetState(ctx, store.StateKeyDimensions)
	if err != nil {
		return "", 0, err
	}
	if raw != "" {
		dims, _ = strconv.Atoi(raw)
	}
	return model, dims, nil
}

func (ix *Indexer) filter(docs []corpus.Document) []corpus.Document {
	if ix.exclude.Empty() {
		return docs
	}
	kept := docs[:0:0]
	for _, d := range docs {
		if ix.Excluded(d.ID()) {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func (ix *Indexer) clear(ctx context.Context) error {
	if err := ix.store.Clear(ctx); err != nil {
		return err
	}
	if ix.keyword != nil {
		if err := ix.keyword.Clear(ctx); err != nil {
			ix.logger.Warn("keyword_clear_failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// prune removes documents that are stored but no longer listed.
func (ix *Indexer) prune(ctx context.Context, present map[string]struct{}) (int, error) {
	stored, err := ix.store.Documents(ctx)
	if err != nil {
		return 0, err
	}
	var pruned int
	for _, id := range stored {
		if _, ok := present[id]; ok {
			continue
		}
		if err := ix.removeRecords(ctx, id); err != nil {
			return pruned, err
		}
		pruned++
		ix.logger.Debug("index_document_pruned", slog.String("document", id))
	}
	return pruned, nil
}

// recordEmbeddingInfo stores the model and dimension so a later model
// switch can be detected.
func (ix *Indexer) recordEmbeddingInfo(ctx context.Context) {
	if err := ix.store.SetState(ctx, store.StateKeyModel, ix.embedder.ModelName()); err != nil {
		ix.logger.Warn("index_state_save_failed", slog.String("key", store.StateKeyModel), slog.String("error", err.Error()))
		return
	}
	if err := ix.store.SetState(ctx, store.StateKeyDimensions, strconv.Itoa(ix.embedder.Dimensions())); err != nil {
		ix.logger.Warn("index_state_save_failed", slog.String("key", store.StateKeyDimensions), slog.String("error", err.Error()))
	}
}
