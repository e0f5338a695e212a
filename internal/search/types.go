// Package search routes retrieval requests to the first available search
// backend: the local vector index, or an external search service.
package search

import (
	"context"

	"github.com/Aman-CERP/vaultrag/internal/config"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/store"
)

// Result is one retrieved chunk or document.
type Result struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`

	// Score is cosine similarity, or the fused rank score for hybrid
	// results.
	Score      float64  `json:"score"`
	Ordinal    *int     `json:"ordinal,omitempty"`
	Breadcrumb []string `json:"breadcrumb,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	// Backend names the backend that produced the result.
	Backend string `json:"backend,omitempty"`
}

// Options configures one search. The orchestrator fills unset fields from
// Settings before a backend sees them.
type Options struct {
	// TopK is the maximum number of results. 0 means the default.
	TopK int

	// Threshold drops results scoring below it. Nil means the default.
	// With Hybrid on it applies to the cosine side before fusion: Score is
	// then a fused rank score, and keyword-only hits skip the threshold.
	Threshold *float64

	// Hybrid fuses keyword and vector rankings. Nil means the default.
	// Backends without a keyword index ignore it.
	Hybrid *bool

	// FolderPrefix keeps only documents whose id starts with it.
	FolderPrefix string
}

// Float returns a pointer to v, for Options.Threshold.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for Options.Hybrid.
func Bool(v bool) *bool { return &v }

func (o Options) threshold() float64 {
	if o.Threshold == nil {
		return 0
	}
	return *o.Threshold
}

func (o Options) hybrid() bool {
	return o.Hybrid != nil && *o.Hybrid
}

// Backend is a search service the orchestrator can route to.
type Backend interface {
	// Name identifies the backend in configuration and results.
	Name() string

	// Available reports whether the backend can serve searches. It is
	// bounded in time and never panics.
	Available(ctx context.Context) bool

	// Search returns up to opts.TopK results by descending score.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// RelatedFinder is implemented by backends with a native relatedness
// lookup.
type RelatedFinder interface {
	FindRelated(ctx context.Context, content string, topK int) ([]Result, error)
}

// Maintainer is implemented by the internal backend, the only one whose
// index this process builds and can inspect.
type Maintainer interface {
	Reindex(ctx context.Context, force bool, onProgress index.ProgressFunc) (*index.Result, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Settings are the orchestrator defaults.
type Settings struct {
	Enabled bool

	// Backends is the priority list of backend names. Empty means the
	// order the backends were given in.
	Backends []string

	TopK      int
	Threshold float64
	Hybrid    bool

	// RelatedPrefixChars bounds the query used by FindRelated on backends
	// without a native lookup.
	RelatedPrefixChars int
}

// Defaults used when Settings fields are zero.
const (
	DefaultTopK               = 5
	DefaultRelatedPrefixChars = 500
)

// SettingsFromConfig extracts orchestrator settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Enabled:            cfg.IsEnabled(),
		Backends:           append([]string(nil), cfg.Backends...),
		TopK:               cfg.Search.TopK,
		Threshold:          cfg.SearchThreshold(),
		Hybrid:             cfg.HybridEnabled(),
		RelatedPrefixChars: cfg.Search.RelatedPrefixChars,
	}
}

func (s Settings) withDefaults() Settings {
	if s.TopK <= 0 {
		s.TopK = DefaultTopK
	}
	if s.RelatedPrefixChars <= 0 {
		s.RelatedPrefixChars = DefaultRelatedPrefixChars
	}
	return s
}
