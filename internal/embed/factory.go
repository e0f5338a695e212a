package embed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server (default)
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible cloud API
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings (offline, tests)
	ProviderStatic ProviderType = "static"
)

// ParseProvider maps a configuration string to a provider. Empty means Ollama.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProviderOllama, nil
	case ProviderOllama, ProviderOpenAI, ProviderStatic:
		return p, nil
	default:
		return "", vrerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", s), nil).
			WithSuggestion("use one of: ollama, openai, static")
	}
}

// Options carries provider-neutral settings into NewEmbedder.
type Options struct {
	Endpoint   string
	Model      string
	APIKey     string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	RateLimit  float64

	// CacheSize bounds the query cache. Negative disables caching.
	CacheSize int

	Logger *slog.Logger
}

// NewEmbedder creates an embedder for provider. It never contacts the
// provider; callers check Available before relying on it.
//
// Caching is enabled unless opts.CacheSize is negative or
// VAULTRAG_EMBED_CACHE is set to false.
func NewEmbedder(provider ProviderType, opts Options) (Embedder, error) {
	var embedder Embedder

	switch provider {
	case ProviderOllama, "":
		cfg := DefaultOllamaConfig()
		if opts.Endpoint != "" {
			cfg.Host = opts.Endpoint
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		cfg.Dimensions = opts.Dimensions
		if opts.BatchSize > 0 {
			cfg.BatchSize = opts.BatchSize
		}
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		cfg.Logger = opts.Logger

		e, err := NewOllamaEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		embedder = e

	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    opts.Endpoint,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			RateLimit:  opts.RateLimit,
			Timeout:    opts.Timeout,
			Logger:     opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		embedder = e

	case ProviderStatic:
		embedder = NewStaticEmbedderWithDimensions(opts.Dimensions)

	default:
		return nil, vrerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", provider), nil)
	}

	if opts.CacheSize >= 0 && !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("VAULTRAG_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
