package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/store"
)

// Orchestrator routes searches to the first available backend in priority
// order. The selection is made on first use and kept until UpdateSettings,
// so a backend that comes up later is not noticed until then.
//
// Search, FindRelated and GetContextForQuery never return errors: a
// disabled subsystem, no available backend or a failing backend all yield
// empty results.
type Orchestrator struct {
	backends []Backend
	logger   *slog.Logger

	observer QueryObserver

	mu       sync.Mutex
	settings Settings
	selected Backend
}

// Query kinds reported to a QueryObserver.
const (
	KindSearch  = "search"
	KindRelated = "related"
	KindContext = "context"
)

// QueryObserver is told about every query a backend answered, including
// failed ones as zero results. Queries refused before reaching a backend
// are not reported.
type QueryObserver interface {
	ObserveQuery(kind, query, backend string, results int, elapsed time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver reports answered queries to obs.
func WithObserver(obs QueryObserver) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// NewOrchestrator creates an orchestrator over backends.
func NewOrchestrator(backends []Backend, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backends: backends,
		settings: settings.withDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// UpdateSettings applies s and forgets the selected backend.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = s.withDefaults()
	o.selected = nil
	o.logger.Info("search_settings_updated",
		slog.Bool("enabled", s.Enabled),
		slog.String("backends", strings.Join(s.Backends, ",")))
}

// ActiveBackend returns the name of the selected backend, or "" when none
// has been selected yet.
func (o *Orchestrator) ActiveBackend() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selected == nil {
		return ""
	}
	return o.selected.Name()
}

// Backends lists the configured backends in priority order.
func (o *Orchestrator) Backends() []Backend {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.ordered())
}

// Search runs query on the selected backend.
func (o *Orchestrator) Search(ctx context.Context, query string, overrides *Options) []Result {
	return o.search(ctx, KindSearch, query, overrides)
}

func (o *Orchestrator) search(ctx context.Context, kind, query string, overrides *Options) []Result {
	settings, backend := o.route(ctx)
	if backend == nil {
		return []Result{}
	}
	if strings.TrimSpace(query) == "" {
		return []Result{}
	}

	start := time.Now()
	opts := merge(settings, overrides)
	results, err := guarded(func() ([]Result, error) { return backend.Search(ctx, query, opts) })
	if err != nil {
		o.logger.Warn("search_failed",
			slog.String("backend", backend.Name()),
			vrerrors.LogAttr(err))
		results = nil
	}
	results = finish(results, backend.Name(), opts.TopK)
	o.observe(kind, query, backend.Name(), len(results), time.Since(start))
	return results
}

func (o *Orchestrator) observe(kind, query, backend string, n int, elapsed time.Duration) {
	if o.observer != nil {
		o.observer.ObserveQuery(kind, query, backend, n, elapsed)
	}
}

// FindRelated returns results similar to content. Backends without a
// native lookup are searched with a prefix of content as the query.
func (o *Orchestrator) FindRelated(ctx context.Context, content string, topK int) []Result {
	settings, backend := o.route(ctx)
	if backend == nil {
		return []Result{}
	}
	if topK <= 0 {
		topK = settings.TopK
	}

	if rf, ok := backend.(RelatedFinder); ok {
		start := time.Now()
		results, err := guarded(func() ([]Result, error) { return rf.FindRelated(ctx, content, topK) })
		if err != nil {
			o.logger.Warn("find_related_failed",
				slog.String("backend", backend.Name()),
				vrerrors.LogAttr(err))
			results = nil
		}
		kept := results[:0:0]
		for _, r := range results {
			if r.Score >= settings.Threshold {
				kept = append(kept, r)
			}
		}
		kept = finish(kept, backend.Name(), topK)
		o.observe(KindRelated, content, backend.Name(), len(kept), time.Since(start))
		return kept
	}

	query := truncateRunes(strings.TrimSpace(content), settings.RelatedPrefixChars)
	return o.search(ctx, KindRelated, query, &Options{TopK: topK})
}

// GetContextForQuery searches and formats the results as a context block
// for a prompt. It returns "" when nothing is found.
func (o *Orchestrator) GetContextForQuery(ctx context.Context, query string, overrides *Options) string {
	return FormatContext(o.search(ctx, KindContext, query, overrides))
}

// Reindex rebuilds the internal index. External backends are never
// touched.
func (o *Orchestrator) Reindex(ctx context.Context, force bool, onProgress index.ProgressFunc) (*index.Result, error) {
	m, err := o.maintainer()
	if err != nil {
		return nil, err
	}
	return m.Reindex(ctx, force, onProgress)
}

// IndexCorpus is Reindex under the name background jobs expect.
func (o *Orchestrator) IndexCorpus(ctx context.Context, force bool, onProgress index.ProgressFunc) (*index.Result, error) {
	return o.Reindex(ctx, force, onProgress)
}

// Stats reports on the internal index.
func (o *Orchestrator) Stats(ctx context.Context) (*store.Stats, error) {
	m, err := o.maintainer()
	if err != nil {
		return nil, err
	}
	return m.Stats(ctx)
}

func (o *Orchestrator) maintainer() (Maintainer, error) {
	for _, b := range o.backends {
		if m, ok := b.(Maintainer); ok {
			return m, nil
		}
	}
	return nil, vrerrors.New(vrerrors.ErrCodeBackendUnavailable, "no internal index is configured", nil).
		WithSuggestion("add \"local\" to backends")
}

// route returns the settings and the backend to use, selecting one when
// nothing is cached. A nil backend means retrieval is off or nothing is up.
func (o *Orchestrator) route(ctx context.Context) (Settings, Backend) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.settings.Enabled {
		return o.settings, nil
	}
	if o.selected != nil {
		return o.settings, o.selected
	}

	for _, b := range o.ordered() {
		if probe(ctx, b) {
			o.selected = b
			o.logger.Info("search_backend_selected", slog.String("backend", b.Name()))
			return o.settings, b
		}
		o.logger.Debug("search_backend_unavailable", slog.String("backend", b.Name()))
	}
	o.logger.Warn("search_no_backend_available", slog.Int("backends", len(o.backends)))
	return o.settings, nil
}

// guarded runs a backend call, turning a panic into an error.
func guarded(call func() ([]Result, error)) (results []Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()
	return call()
}

// probe reports b as unavailable when its availability check panics.
func probe(ctx context.Context, b Backend) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return b.Available(ctx)
}

// ordered lists the backends in priority order. Names in the priority list
// without a matching backend are skipped.
func (o *Orchestrator) ordered() []Backend {
	if len(o.settings.Backends) == 0 {
		return o.backends
	}
	byName := make(map[string]Backend, len(o.backends))
	for _, b := range o.backends {
		byName[b.Name()] = b
	}
	out := make([]Backend, 0, len(o.settings.Backends))
	for _, name := range o.settings.Backends {
		if b, ok := byName[name]; ok {
			out = append(out, b)
		}
	}
	return out
}

// merge fills unset overrides from settings.
func merge(s Settings, overrides *Options) Options {
	opts := Options{
		TopK:      s.TopK,
		Threshold: Float(s.Threshold),
		Hybrid:    Bool(s.Hybrid),
	}
	if overrides == nil {
		return opts
	}
	if overrides.TopK > 0 {
		opts.TopK = overrides.TopK
	}
	if overrides.Threshold != nil {
		opts.Threshold = Float(*overrides.Threshold)
	}
	if overrides.Hybrid != nil {
		opts.Hybrid = Bool(*overrides.Hybrid)
	}
	opts.FolderPrefix = overrides.FolderPrefix
	return opts
}

// finish caps results at topK and stamps the backend name.
func finish(results []Result, backend string, topK int) []Result {
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]Result, len(results))
	for i, r := range results {
		if r.Backend == "" {
			r.Backend = backend
		}
		out[i] = r
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
