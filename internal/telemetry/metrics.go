// Package telemetry keeps local statistics about the queries a vault
// answers: how many, how fast, which terms recur and which queries found
// nothing. All data stays under the vault's data directory.
package telemetry

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// Buckets lists the latency buckets from fastest to slowest.
var Buckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one answered query.
type QueryEvent struct {
	Kind      string // search, related or context
	Query     string
	Backend   string
	Results   int
	Latency   time.Duration
	Timestamp time.Time
}

// ZeroResult is a query that found nothing.
type ZeroResult struct {
	Query     string    `json:"query"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// TermCount is a query term and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Summary aggregates query statistics over a period.
type Summary struct {
	Total       int64                   `json:"total"`
	ZeroResults int64                   `json:"zero_results"`
	Kinds       map[string]int64        `json:"kinds"`
	Backends    map[string]int64        `json:"backends"`
	Latency     map[LatencyBucket]int64 `json:"latency"`
	TopTerms    []TermCount             `json:"top_terms"`
	Misses      []ZeroResult            `json:"recent_misses"` // newest first
	Since       time.Time               `json:"since,omitzero"`
}

// ZeroResultRate is the share of queries that found nothing, 0 to 1.
func (s *Summary) ZeroResultRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ZeroResults) / float64(s.Total)
}

// ExtractTerms lowercases query and returns its words of at least three
// letters. Related lookups are not split into terms because their query is
// note text.
func ExtractTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) >= 3 {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}

// Store persists query statistics.
type Store interface {
	// Save adds delta to the stored totals for date (YYYY-MM-DD).
	Save(ctx context.Context, date string, delta *Delta) error

	// Summary aggregates everything stored from date onwards.
	Summary(ctx context.Context, from string, topTerms, misses int) (*Summary, error)

	Close() error
}

// Delta is what was recorded since the last flush.
type Delta struct {
	Kinds    map[string]int64
	Backends map[string]int64
	Latency  map[LatencyBucket]int64
	Zero     int64
	Terms    map[string]int64
	Misses   []ZeroResult
}

func newDelta() *Delta {
	return &Delta{
		Kinds:    make(map[string]int64),
		Backends: make(map[string]int64),
		Latency:  make(map[LatencyBucket]int64),
		Terms:    make(map[string]int64),
	}
}

func (d *Delta) empty() bool {
	return len(d.Kinds) == 0
}

// Config configures a Recorder.
type Config struct {
	TopTermsCapacity    int           // terms tracked in memory, default 100
	ZeroResultsCapacity int           // misses kept, default 100
	FlushInterval       time.Duration // 0 flushes only on Close
	Logger              *slog.Logger
}

// DefaultConfig returns the defaults used by serve.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// Recorder aggregates query events in memory and flushes them to a Store.
// It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	total    int64
	zero     int64
	kinds    map[string]int64
	backends map[string]int64
	latency  map[LatencyBucket]int64
	terms    *lru.Cache[string, int64]
	misses   *ring[ZeroResult]
	since    time.Time

	pending *Delta

	store  Store
	logger *slog.Logger
	now    func() time.Time
	stopCh chan struct{}
	done   chan struct{}
	closed bool
}

// NewRecorder creates a Recorder. With a nil store, statistics live only
// for the life of the process.
func NewRecorder(store Store, cfg Config) *Recorder {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	r := &Recorder{
		kinds:    make(map[string]int64),
		backends: make(map[string]int64),
		latency:  make(map[LatencyBucket]int64),
		terms:    terms,
		misses:   newRing[ZeroResult](cfg.ZeroResultsCapacity),
		since:    time.Now(),
		pending:  newDelta(),
		store:    store,
		logger:   cfg.Logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		go r.flushLoop(cfg.FlushInterval)
	} else {
		close(r.done)
	}
	return r
}

func (r *Recorder) flushLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(context.Background()); err != nil {
				r.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-r.stopCh:
			return
		}
	}
}

// ObserveQuery records one answered query. It satisfies the search
// orchestrator's observer interface.
func (r *Recorder) ObserveQuery(kind, query, backend string, results int, elapsed time.Duration) {
	r.Record(QueryEvent{
		Kind:      kind,
		Query:     query,
		Backend:   backend,
		Results:   results,
		Latency:   elapsed,
		Timestamp: r.now(),
	})
}

// Record adds event to the statistics.
func (r *Recorder) Record(event QueryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	bucket := LatencyToBucket(event.Latency)

	r.total++
	r.kinds[event.Kind]++
	r.backends[event.Backend]++
	r.latency[bucket]++
	r.pending.Kinds[event.Kind]++
	r.pending.Backends[event.Backend]++
	r.pending.Latency[bucket]++

	if event.Kind != "related" {
		for _, term := range ExtractTerms(event.Query) {
			count, _ := r.terms.Get(term)
			r.terms.Add(term, count+1)
			r.pending.Terms[term]++
		}
	}

	if event.Results == 0 {
		miss := ZeroResult{Query: event.Query, Kind: event.Kind, Timestamp: event.Timestamp}
		r.zero++
		r.pending.Zero++
		r.misses.Add(miss)
		r.pending.Misses = append(r.pending.Misses, miss)
	}
}

// Snapshot summarises what this Recorder has seen since it was created.
func (r *Recorder) Snapshot() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var top []TermCount
	for _, term := range r.terms.Keys() {
		if count, ok := r.terms.Peek(term); ok {
			top = append(top, TermCount{Term: term, Count: count})
		}
	}
	sortTerms(top)

	misses := r.misses.Items()
	slices.Reverse(misses)

	return &Summary{
		Total:       r.total,
		ZeroResults: r.zero,
		Kinds:       maps.Clone(r.kinds),
		Backends:    maps.Clone(r.backends),
		Latency:     maps.Clone(r.latency),
		TopTerms:    top,
		Misses:      misses,
		Since:       r.since,
	}
}

// Flush writes everything recorded since the previous flush. On failure
// the delta is kept and retried on the next flush.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	delta := r.pending
	if delta.empty() {
		r.mu.Unlock()
		return nil
	}
	r.pending = newDelta()
	r.mu.Unlock()

	if err := r.store.Save(ctx, r.now().Format(time.DateOnly), delta); err != nil {
		r.mu.Lock()
		r.pending.merge(delta)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the flush loop and writes what is pending. The store is
// not closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.done
	return r.Flush(context.Background())
}

func (d *Delta) merge(other *Delta) {
	for k, v := range other.Kinds {
		d.Kinds[k] += v
	}
	for k, v := range other.Backends {
		d.Backends[k] += v
	}
	for k, v := range other.Latency {
		d.Latency[k] += v
	}
	for k, v := range other.Terms {
		d.Terms[k] += v
	}
	d.Zero += other.Zero
	d.Misses = append(other.Misses, d.Misses...)
}

func sortTerms(terms []TermCount) {
	slices.SortFunc(terms, func(a, b TermCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Term, b.Term)
	})
}
