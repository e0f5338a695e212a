package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

// Common embedding constants
const (
	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for a single embedding request
	DefaultTimeout = 60 * time.Second

	// DefaultAvailabilityTimeout bounds every Available probe.
	DefaultAvailabilityTimeout = 3 * time.Second

	// DefaultPoolSize is the number of workers used for per-item fallback.
	DefaultPoolSize = 4

	// DefaultDimensions is used when a model's dimension is not yet known.
	DefaultDimensions = 768

	// StaticDimensions is the embedding dimension for static embedder
	StaticDimensions = 256
)

// ErrClosed is returned when an embedder is used after Close.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
//
// EmbedBatch returns exactly one vector per input, in input order. An item
// that cannot be embedded yields an all-zero vector of Dimensions() length;
// only cancellation of ctx fails the whole batch.
type Embedder interface {
	// Embed generates a document-side embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates document-side embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available reports whether the provider can serve requests right now.
	// It is bounded in time and never panics.
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// QueryEmbedder is implemented by providers whose models embed queries
// differently from documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedQuery embeds text as a search query, using the query-side
// encoding when the provider has one.
func EmbedQuery(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if qe, ok := e.(QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, text)
	}
	return e.Embed(ctx, text)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
