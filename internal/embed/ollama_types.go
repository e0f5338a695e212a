package embed

import (
	"log/slog"
	"time"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general text model suited to prose notes
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// knownOllamaDimensions lists output sizes for common embedding models so a
// zero vector of the right size can be produced before the first successful call.
var knownOllamaDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"embeddinggemma":         768,
	"qwen3-embedding":        1024,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
}

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model is the embedding model to use (default: nomic-embed-text)
	Model string

	// Dimensions can be set to override detection (0 = detect on first call)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// Timeout for a single API request (default: 60s)
	Timeout time.Duration

	// AvailabilityTimeout bounds Available (default: 3s)
	AvailabilityTimeout time.Duration

	// Retry is the backoff policy for transient failures
	Retry vrerrors.RetryConfig

	// PoolSize for HTTP connections and per-item fallback workers (default: 4)
	PoolSize int

	Logger *slog.Logger
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:                DefaultOllamaHost,
		Model:               DefaultOllamaModel,
		BatchSize:           DefaultBatchSize,
		Timeout:             DefaultTimeout,
		AvailabilityTimeout: DefaultAvailabilityTimeout,
		Retry:               vrerrors.DefaultRetryConfig(),
		PoolSize:            OllamaPoolSize,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request
type OllamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OllamaEmbedResponse is the Ollama /api/embed response
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes an installed model
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
