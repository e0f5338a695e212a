package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// NoteTokenizerName is the registered name of the note tokenizer.
	NoteTokenizerName = "note_tokenizer"

	// NoteStopFilterName is the registered name of the prose stop filter.
	NoteStopFilterName = "note_stop"

	// NoteAnalyzerName is the analyzer applied to chunk content.
	NoteAnalyzerName = "note_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(NoteTokenizerName, noteTokenizerConstructor)
	_ = registry.RegisterTokenFilter(NoteStopFilterName, noteStopFilterConstructor)
}

// BleveKeywordIndex implements KeywordIndex on Bleve v2.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ KeywordIndex = (*BleveKeywordIndex)(nil)

// bleveChunk is the document shape stored in Bleve.
type bleveChunk struct {
	Document string `json:"document"`
	Content  string `json:"content"`
}

// validateBleveIntegrity checks index_meta.json of an existing index.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError reports whether a Bleve open error means the files
// on disk are unusable.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		errors.Is(err, bleve.ErrorIndexMetaCorrupt)
}

// NewBleveKeywordIndex opens or creates a Bleve index at path. An empty
// path gives an in-memory index. A corrupted index is removed and
// recreated empty.
func NewBleveKeywordIndex(path string, cfg KeywordConfig, logger *slog.Logger) (*BleveKeywordIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	indexMapping, err := createNoteMapping(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			logger.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if err := os.RemoveAll(path); err != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w (original error: %v)", path, err, validErr)
			}
			logger.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		switch {
		case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
			idx, err = bleve.New(path, indexMapping)
		case err != nil && isCorruptionError(err):
			logger.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveKeywordIndex{index: idx, path: path}, nil
}

// createNoteMapping maps content through the note analyzer and keeps the
// document id as a single keyword term so it can be deleted by.
func createNoteMapping(cfg KeywordConfig) (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	stopWords := cfg.StopWords
	if stopWords == nil {
		stopWords = DefaultProseStopWords
	}

	err := indexMapping.AddCustomTokenFilter(NoteStopFilterName+"_cfg", map[string]any{
		"type":       NoteStopFilterName,
		"stop_words": stopWords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add stop filter: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(NoteAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     NoteTokenizerName,
		"token_filters": []string{NoteStopFilterName + "_cfg"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	docField := bleve.NewTextFieldMapping()
	docField.Analyzer = keyword.Name
	docField.IncludeTermVectors = false

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = NoteAnalyzerName

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("document", docField)
	chunkMapping.AddFieldMappingsAt("content", contentField)

	indexMapping.DefaultMapping = chunkMapping
	indexMapping.DefaultAnalyzer = NoteAnalyzerName
	return indexMapping, nil
}

// Index adds or replaces chunks by id.
func (b *BleveKeywordIndex) Index(_ context.Context, docs []*KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if err := batch.Index(doc.ID, bleveChunk{Document: doc.DocumentID, Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs a match query (terms OR-ed) over chunk content.
func (b *BleveKeywordIndex) Search(ctx context.Context, queryText string, limit int) ([]*KeywordHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryText) == "" || limit <= 0 {
		return []*KeywordHit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryText)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]*KeywordHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, &KeywordHit{
			ID:           hit.ID,
			DocumentID:   documentOf(hit.ID),
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return hits, nil
}

// DeleteByDocument removes every chunk whose document field equals documentID.
func (b *BleveKeywordIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	q := bleve.NewTermQuery(documentID)
	q.SetField("document")
	return b.deleteMatching(ctx, q)
}

// Clear removes every chunk.
func (b *BleveKeywordIndex) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}
	return b.deleteMatching(ctx, bleve.NewMatchAllQuery())
}

func (b *BleveKeywordIndex) deleteMatching(ctx context.Context, q query.Query) error {
	count, err := b.index.DocCount()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	req := bleve.NewSearchRequest(q)
	req.Size = int(count)
	req.Fields = []string{}
	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to find chunks: %w", err)
	}
	if len(result.Hits) == 0 {
		return nil
	}

	batch := b.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveKeywordIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close closes the index. It is idempotent.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func extractMatchedTerms(hit *search.DocumentMatch) []string {
	var terms []string
	for term := range hit.Locations["content"] {
		terms = append(terms, term)
	}
	return terms
}

func noteTokenizerConstructor(map[string]any, *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveNoteTokenizer{}, nil
}

// bleveNoteTokenizer feeds Tokenize output to Bleve with byte offsets.
type bleveNoteTokenizer struct{}

func (t *bleveNoteTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for pos, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := min(start+len(token), len(text))

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return result
}

func noteStopFilterConstructor(config map[string]any, _ *registry.Cache) (analysis.TokenFilter, error) {
	words := DefaultProseStopWords
	if raw, ok := config["stop_words"].([]any); ok {
		words = make([]string, 0, len(raw))
		for _, w := range raw {
			if s, ok := w.(string); ok {
				words = append(words, s)
			}
		}
	} else if list, ok := config["stop_words"].([]string); ok {
		words = list
	}
	return &bleveStopFilter{stopWords: BuildStopWordMap(words)}, nil
}

type bleveStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
