package embed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

const (
	// DefaultOpenAIBaseURL is the public OpenAI API.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is the default cloud embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"
)

// knownOpenAIDimensions avoids a probe request for common models.
var knownOpenAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	// BaseURL is the API root, including the version segment.
	BaseURL string

	// APIKey is sent as a bearer token. Local compatible servers accept any value.
	APIKey string

	Model string

	// Dimensions overrides the known table and probing (0 = auto).
	Dimensions int

	BatchSize int

	// RateLimit caps requests per second (0 = unlimited).
	RateLimit float64

	Timeout             time.Duration
	AvailabilityTimeout time.Duration
	PoolSize            int
	Logger              *slog.Logger
}

// OpenAIEmbedder generates embeddings through an OpenAI-compatible API.
type OpenAIEmbedder struct {
	embedder   embeddings.Embedder
	httpClient *http.Client
	config     OpenAIConfig
	prompts    prompts
	limiter    *rate.Limiter
	pool       *ants.Pool
	logger     *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

var (
	_ Embedder      = (*OpenAIEmbedder)(nil)
	_ QueryEmbedder = (*OpenAIEmbedder)(nil)
)

// NewOpenAIEmbedder creates a cloud embedder. Like the Ollama adapter it
// does not contact the server until first use.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.APIKey == "" {
		// langchaingo refuses an empty token; local servers ignore it.
		cfg.APIKey = "none"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = DefaultAvailabilityTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, vrerrors.ConfigError("failed to create openai client", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		return nil, vrerrors.ConfigError("failed to create openai embedder", err)
	}

	pool, err := newFallbackPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = knownOpenAIDimensions[strings.ToLower(cfg.Model)]
	}

	return &OpenAIEmbedder{
		embedder:   embedder,
		httpClient: httpClient,
		config:     cfg,
		prompts:    promptsFor(cfg.Model),
		limiter:    rate.NewLimiter(limit, 1),
		pool:       pool,
		logger:     cfg.Logger.With(slog.String("component", "openai-embedder")),
		dims:       dims,
	}, nil
}

// Embed generates a document-side embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embedSingle(ctx, e.prompts.forDocument(text), text)
}

// EmbedQuery generates a query-side embedding for a single text.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedSingle(ctx, e.prompts.forQuery(text), text)
}

func (e *OpenAIEmbedder) embedSingle(ctx context.Context, prompt, raw string) ([]float32, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(raw) == "" {
		return make([]float32, e.Dimensions()), nil
	}

	vec, err := e.embedOne(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, vrerrors.New(vrerrors.ErrCodeEmbeddingFailed, "openai embedding failed", err).
			WithDetail("model", e.config.Model)
	}
	return vec, nil
}

// EmbedBatch embeds texts in request-sized groups. A failed group is
// retried item by item on the worker pool.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var pending []int
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			pending = append(pending, i)
		}
	}

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

		vectors, err := e.request(ctx, inputs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("embedding_batch_failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))

			vectors, err = embedEach(ctx, e.pool, inputs, e.Dimensions, e.embedOne, e.logger)
			if err != nil {
				return nil, err
			}
		}

		for i, vec := range vectors {
			results[batch[i]] = vec
		}
	}

	dims := e.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedOne(ctx context.Context, input string) ([]float32, error) {
	vectors, err := e.request(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// request sends one rate-limited embeddings call.
func (e *OpenAIEmbedder) request(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(vectors))
	}

	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding returned")
		}
		vectors[i] = normalizeVector(v)
	}
	e.observeDimensions(len(vectors[0]))
	return vectors, nil
}

func (e *OpenAIEmbedder) observeDimensions(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = n
	}
}

// Dimensions returns the embedding dimension. Models missing from the
// known table are probed once with a short request.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	dims := e.dims
	e.mu.RUnlock()
	if dims > 0 {
		return dims
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.AvailabilityTimeout)
	defer cancel()
	if _, err := e.request(ctx, []string{"dimension probe"}); err != nil {
		e.logger.Debug("embedding_dimension_probe_failed", slog.String("error", err.Error()))
		return DefaultDimensions
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available lists models with the configured credentials.
func (e *OpenAIEmbedder) Available(ctx context.Context) (ok bool) {
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

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.config.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Debug("openai_unavailable", slog.String("error", err.Error()))
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		e.logger.Debug("openai_unavailable", slog.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func (e *OpenAIEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close releases the worker pool and idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.pool.Release()
	e.httpClient.CloseIdleConnections()
	return nil
}
