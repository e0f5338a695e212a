package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/pkg/version"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport // Store for connection cleanup
	config    OllamaConfig
	prompts   prompts
	pool      *ants.Pool
	logger    *slog.Logger

	mu        sync.RWMutex
	dims      int
	dimsFixed bool // dims confirmed by config or by a real response
	closed    bool
}

// Verify interface implementation at compile time
var (
	_ Embedder      = (*OllamaEmbedder)(nil)
	_ QueryEmbedder = (*OllamaEmbedder)(nil)
)

// statusError is returned for non-200 responses from the server.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("embedding failed with status %d: %s", e.status, e.body)
}

// retryable reports whether err is worth another attempt. Client errors
// (bad model name, malformed input) will not improve by retrying.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// NewOllamaEmbedder creates a new Ollama embedder. It does not contact the
// server; use Available to probe it.
func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	// Apply defaults
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = DefaultAvailabilityTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Retry.ShouldRetry = retryable

	pool, err := newFallbackPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	// IdleConnTimeout is short because CLI indexing is short-lived.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		// No client-level timeout: per-request contexts carry it.
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		prompts:   promptsFor(cfg.Model),
		pool:      pool,
		logger:    cfg.Logger.With(slog.String("component", "ollama-embedder")),
		dims:      cfg.Dimensions,
		dimsFixed: cfg.Dimensions > 0,
	}
	if e.dims == 0 {
		e.dims = guessDimensions(cfg.Model)
	}
	return e, nil
}

// guessDimensions looks a model up in the known table, ignoring its tag.
func guessDimensions(model string) int {
	base := baseModelName(model)
	for name, dims := range knownOllamaDimensions {
		if strings.HasPrefix(base, name) {
			return dims
		}
	}
	return DefaultDimensions
}

// baseModelName lowercases a model name and strips its ":tag".
func baseModelName(name string) string {
	name = strings.ToLower(name)
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	return name
}

// listModels gets available models from Ollama
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	url := e.config.Host + "/api/tags"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Models, nil
}

// hasModel reports whether models contains the configured model. Tags
// are ignored on both sides.
func (e *OllamaEmbedder) hasModel(models []OllamaModelInfo) bool {
	want := baseModelName(e.config.Model)
	for _, m := range models {
		if baseModelName(m.Name) == want {
			return true
		}
	}
	return false
}

// Embed generates a document-side embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embedSingle(ctx, e.prompts.forDocument(text), text)
}

// EmbedQuery generates a query-side embedding for a single text
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedSingle(ctx, e.prompts.forQuery(text), text)
}

func (e *OllamaEmbedder) embedSingle(ctx context.Context, prompt, raw string) ([]float32, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	// Handle empty/whitespace input
	if strings.TrimSpace(raw) == "" {
		return make([]float32, e.Dimensions()), nil
	}

	vec, err := e.embedOne(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed, "ollama embedding failed", err).
			WithDetail("model", e.config.Model)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch
// API. A failed batch request is retried item by item; items that still
// fail become zero vectors.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// Track which indices need API calls vs zero vectors
	var pending []int
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pending = append(pending, i)
	}

	// Process in batches
	for start := 0; start < len(pending); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.config.BatchSize, len(pending))
		batch := pending[start:end]
		inputs := make([]string, len(batch))
		for i, idx := range batch {
			inputs[i] = e.prompts.forDocument(texts[idx])
		}

		embeddings, err := e.embedWithRetry(ctx, inputs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("embedding_batch_failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))

			embeddings, err = embedEach(ctx, e.pool, inputs, e.Dimensions, e.embedOne, e.logger)
			if err != nil {
				return nil, err
			}
		}

		for i, emb := range embeddings {
			results[batch[i]] = emb
		}
	}

	// Zero vectors are sized after any dimension detection above.
	dims := e.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	return results, nil
}

// embedOne embeds one prompt with retries.
func (e *OllamaEmbedder) embedOne(ctx context.Context, prompt string) ([]float32, error) {
	embeddings, err := e.embedWithRetry(ctx, []string{prompt})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// embedWithRetry performs embedding with exponential backoff. Each attempt
// gets its own request timeout.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	attempt := 0
	return vrerrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
		attempt++
		timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		embeddings, err := e.doEmbed(timeoutCtx, texts)
		if err != nil {
			e.logger.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.String("error", err.Error()))
		}
		return embeddings, err
	})
}

// doEmbed performs a single batch embedding request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	url := e.config.Host + "/api/embed"

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var apiResult OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResult.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResult.Embeddings))
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		if len(emb) == 0 {
			return nil, fmt.Errorf("empty embedding returned")
		}
		embeddings[i] = normalizeVector(toFloat32(emb))
	}
	e.observeDimensions(len(embeddings[0]))

	return embeddings, nil
}

// observeDimensions records the real output size the first time the
// server answers, unless dimensions were configured explicitly.
func (e *OllamaEmbedder) observeDimensions(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimsFixed {
		return
	}
	if n != e.dims {
		e.logger.Debug("embedding_dimensions_detected",
			slog.Int("guessed", e.dims),
			slog.Int("actual", n))
	}
	e.dims = n
	e.dimsFixed = true
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks that Ollama answers within the availability timeout
// and has the configured model installed.
func (e *OllamaEmbedder) Available(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	if e.isClosed() {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.config.AvailabilityTimeout)
	defer cancel()

	models, err := e.listModels(probeCtx)
	if err != nil {
		e.logger.Debug("ollama_unavailable", slog.String("error", err.Error()))
		return false
	}
	if !e.hasModel(models) {
		e.logger.Debug("ollama_model_missing", slog.String("model", e.config.Model))
		return false
	}
	return true
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	e.pool.Release()
	// Close idle connections to release resources immediately
	e.transport.CloseIdleConnections()
	return nil
}
