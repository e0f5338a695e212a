package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/vaultrag/internal/config"
	"github.com/Aman-CERP/vaultrag/internal/embed"
	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/store"
)

// hybridCandidates is how many hits per list are fused for each result
// requested.
const hybridCandidates = 4

// LocalConfig configures a LocalBackend.
type LocalConfig struct {
	// Keyword enables hybrid search. Optional.
	Keyword store.KeywordIndex

	// RRFConstant is the fusion k. 0 means DefaultRRFConstant.
	RRFConstant int

	// Weights for hybrid fusion. Zero means DefaultWeights.
	Weights Weights

	Logger *slog.Logger
}

// LocalBackend searches the vector store built by this process.
type LocalBackend struct {
	indexer *index.Indexer
	keyword store.KeywordIndex
	fusion  *RRFFusion
	weights Weights
	logger  *slog.Logger
}

var (
	_ Backend       = (*LocalBackend)(nil)
	_ RelatedFinder = (*LocalBackend)(nil)
	_ Maintainer    = (*LocalBackend)(nil)
)

// NewLocalBackend creates the internal backend around ix.
func NewLocalBackend(ix *index.Indexer, cfg LocalConfig) *LocalBackend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &LocalBackend{
		indexer: ix,
		keyword: cfg.Keyword,
		fusion:  NewRRFFusionWithK(cfg.RRFConstant),
		weights: weights,
		logger:  logger,
	}
}

// Name implements Backend.
func (l *LocalBackend) Name() string { return config.BackendLocal }

// Available reports whether queries can be embedded.
func (l *LocalBackend) Available(ctx context.Context) bool {
	return l.indexer.Embedder().Available(ctx)
}

// Search implements Backend.
func (l *LocalBackend) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, vrerrors.New(vrerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if opts.TopK <= 0 {
		return []Result{}, nil
	}
	if opts.hybrid() && l.keyword != nil {
		return l.hybridSearch(ctx, query, opts)
	}

	vec, err := l.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := l.vectorSearch(ctx, vec, opts.TopK, opts)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = toResult(h.Record, h.Score)
	}
	return results, nil
}

// FindRelated embeds content as a document and returns its nearest chunks.
func (l *LocalBackend) FindRelated(ctx context.Context, content string, topK int) ([]Result, error) {
	if strings.TrimSpace(content) == "" || topK <= 0 {
		return []Result{}, nil
	}
	vec, err := l.indexer.Embedder().Embed(ctx, content)
	if err != nil {
		return nil, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed, "failed to embed content", err)
	}
	if embed.IsZero(vec) {
		return nil, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed, "content could not be embedded", nil)
	}
	hits, err := l.indexer.Store().Search(ctx, vec, topK, store.SearchOptions{})
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = toResult(h.Record, h.Score)
	}
	return results, nil
}

// Reindex implements Maintainer.
func (l *LocalBackend) Reindex(ctx context.Context, force bool, onProgress index.ProgressFunc) (*index.Result, error) {
	return l.indexer.IndexCorpus(ctx, force, onProgress)
}

// Stats implements Maintainer.
func (l *LocalBackend) Stats(ctx context.Context) (*store.Stats, error) {
	return l.indexer.Stats(ctx)
}

func (l *LocalBackend) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := embed.EmbedQuery(ctx, l.indexer.Embedder(), query)
	if err != nil {
		return nil, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}
	if embed.IsZero(vec) {
		return nil, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed, "query could not be embedded", nil)
	}
	return vec, nil
}

func (l *LocalBackend) vectorSearch(ctx context.Context, vec []float32, k int, opts Options) ([]*store.ScoredRecord, error) {
	return l.indexer.Store().Search(ctx, vec, k, store.SearchOptions{
		FolderPrefix:   opts.FolderPrefix,
		ScoreThreshold: store.Threshold(opts.threshold()),
	})
}

// hybridSearch runs keyword and vector search concurrently and fuses the
// rankings. One side failing degrades to the other; the threshold applies
// to cosine scores only, so keyword-only hits always qualify.
func (l *LocalBackend) hybridSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	k := max(opts.TopK*hybridCandidates, 20)

	g, gctx := errgroup.WithContext(ctx)
	var (
		keywordHits        []*store.KeywordHit
		vecHits            []*store.ScoredRecord
		keywordErr, vecErr error
	)

	g.Go(func() error {
		hits, err := l.keyword.Search(gctx, query, k)
		if err != nil {
			keywordErr = err
			return nil
		}
		keywordHits = filterKeyword(hits, opts.FolderPrefix)
		return nil
	})

	g.Go(func() error {
		vec, err := l.embedQuery(gctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		vecHits, vecErr = l.vectorSearch(gctx, vec, k, opts)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if keywordErr != nil && vecErr != nil {
		return nil, vrerrors.New(vrerrors.ErrCodeSearchFailed, "hybrid search failed", errors.Join(keywordErr, vecErr))
	}
	if keywordErr != nil {
		l.logger.Warn("keyword_search_failed", slog.String("error", keywordErr.Error()))
	}
	if vecErr != nil {
		l.logger.Warn("vector_search_failed", vrerrors.LogAttr(vecErr))
	}

	fused := l.fusion.Fuse(keywordHits, vecHits, l.weights)
	results := make([]Result, 0, min(len(fused), opts.TopK))
	records := make(map[string][]*store.VectorRecord)
	for _, f := range fused {
		if len(results) == opts.TopK {
			break
		}
		rec := f.Record
		if rec == nil {
			rec = l.lookup(ctx, records, f.ID)
			if rec == nil {
				continue
			}
		}
		results = append(results, toResult(rec, f.RRFScore))
	}

	l.logger.Debug("hybrid_search_complete",
		slog.Int("keyword_hits", len(keywordHits)),
		slog.Int("vector_hits", len(vecHits)),
		slog.Int("results", len(results)))
	return results, nil
}

// lookup resolves a keyword hit to its vector record, caching the
// document's records in cache.
func (l *LocalBackend) lookup(ctx context.Context, cache map[string][]*store.VectorRecord, id string) *store.VectorRecord {
	docID, ordinal, err := store.ParseRecordID(id)
	if err != nil {
		return nil
	}
	recs, ok := cache[docID]
	if !ok {
		recs, err = l.indexer.Store().Records(ctx, docID)
		if err != nil {
			l.logger.Debug("record_lookup_failed", slog.String("id", id), slog.String("error", err.Error()))
		}
		cache[docID] = recs
	}
	for _, r := range recs {
		if r.Ordinal == ordinal {
			return r
		}
	}
	return nil
}

func filterKeyword(hits []*store.KeywordHit, prefix string) []*store.KeywordHit {
	if prefix == "" {
		return hits
	}
	kept := hits[:0:0]
	for _, h := range hits {
		if strings.HasPrefix(h.DocumentID, prefix) {
			kept = append(kept, h)
		}
	}
	return kept
}

func toResult(r *store.VectorRecord, score float64) Result {
	ordinal := r.Ordinal
	return Result{
		DocumentID: r.DocumentID,
		Content:    r.Content,
		Score:      score,
		Ordinal:    &ordinal,
		Breadcrumb: r.Breadcrumb,
		Tags:       r.Tags,
	}
}
