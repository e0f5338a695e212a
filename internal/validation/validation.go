// Package validation runs a data-driven query suite against a vault and
// reports whether the expected notes come back near the top.
//
// Suites are YAML so they can be edited alongside the vault without
// rebuilding:
//
//	queries:
//	  - id: garden-1
//	    query: when to stake tomatoes
//	    expected: [Garden/tomatoes.md]
//	negative:
//	  - query: "!!!"
package validation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/vaultrag/internal/search"
)

// DefaultTopK is how deep a query may match when a suite does not say.
const DefaultTopK = 5

// QuerySpec is one query and the notes it should find.
type QuerySpec struct {
	ID       string   `yaml:"id" json:"id"`
	Query    string   `yaml:"query" json:"query"`
	Expected []string `yaml:"expected" json:"expected,omitempty"` // note paths, or folder prefixes ending in "/"
	Notes    string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Suite is a set of positive and negative queries.
type Suite struct {
	TopK    int         `yaml:"top_k,omitempty"`
	Queries []QuerySpec `yaml:"queries"`
	// Negative queries pass when they return without error or panic,
	// whatever the results.
	Negative []QuerySpec `yaml:"negative"`
}

// LoadSuite reads a suite from path.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query suite %s: %w", path, err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes a YAML suite, numbering queries without an id.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse query suite: %w", err)
	}
	if s.TopK <= 0 {
		s.TopK = DefaultTopK
	}
	for i := range s.Queries {
		q := &s.Queries[i]
		if q.ID == "" {
			q.ID = fmt.Sprintf("Q%d", i+1)
		}
		if strings.TrimSpace(q.Query) == "" {
			return nil, fmt.Errorf("query %s is empty", q.ID)
		}
		if len(q.Expected) == 0 {
			return nil, fmt.Errorf("query %s has no expected notes", q.ID)
		}
	}
	for i := range s.Negative {
		if s.Negative[i].ID == "" {
			s.Negative[i].ID = fmt.Sprintf("N%d", i+1)
		}
	}
	return &s, nil
}

// Searcher is the part of the orchestrator a run needs.
type Searcher interface {
	Search(ctx context.Context, query string, overrides *search.Options) []search.Result
}

// TestResult is the outcome of one query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // 1-based rank of the first hit, 0 if none
	Error      string        `json:"error,omitempty"`
}

// Report is the outcome of a full run.
type Report struct {
	Timestamp time.Time    `json:"timestamp"`
	TopK      int          `json:"top_k"`
	Queries   []TestResult `json:"queries"`
	Negative  []TestResult `json:"negative"`
	Passed    int          `json:"passed"`
	Total     int          `json:"total"`
	NegPassed int          `json:"negative_passed"`
	NegTotal  int          `json:"negative_total"`
	MRR       float64      `json:"mrr"` // mean reciprocal rank of positive queries
}

// HitRate is the share of positive queries that passed, 0 to 1.
func (r *Report) HitRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// OK reports whether every query passed.
func (r *Report) OK() bool {
	return r.Passed == r.Total && r.NegPassed == r.NegTotal
}

// Run executes every query in s against searcher. A cancelled context
// stops the run and returns what was collected so far.
func Run(ctx context.Context, searcher Searcher, s *Suite) (*Report, error) {
	r := &Report{Timestamp: time.Now(), TopK: s.TopK}
	opts := &search.Options{TopK: s.TopK}

	var rrSum float64
	for _, q := range s.Queries {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		res := runOne(ctx, searcher, q, opts)
		res.MatchedAt = firstMatch(res.TopResults, q.Expected)
		res.Passed = res.Error == "" && res.MatchedAt > 0
		if res.Passed {
			r.Passed++
			rrSum += 1 / float64(res.MatchedAt)
		}
		r.Total++
		r.Queries = append(r.Queries, res)
	}
	if r.Total > 0 {
		r.MRR = rrSum / float64(r.Total)
	}

	for _, q := range s.Negative {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		res := runOne(ctx, searcher, q, opts)
		res.Passed = res.Error == ""
		if res.Passed {
			r.NegPassed++
		}
		r.NegTotal++
		r.Negative = append(r.Negative, res)
	}
	return r, nil
}

// runOne runs a query, turning a panic into a failed result.
func runOne(ctx context.Context, searcher Searcher, q QuerySpec, opts *search.Options) (res TestResult) {
	res.Spec = q
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if p := recover(); p != nil {
			res.Error = fmt.Sprintf("panic: %v", p)
		}
	}()

	res.TopResults = notePaths(searcher.Search(ctx, q.Query, opts))
	return res
}

// notePaths lists the distinct notes in results, in rank order.
func notePaths(results []search.Result) []string {
	paths := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if !seen[r.DocumentID] {
			seen[r.DocumentID] = true
			paths = append(paths, r.DocumentID)
		}
	}
	return paths
}

// firstMatch returns the 1-based rank of the first path matching any
// expectation, or 0.
func firstMatch(paths, expected []string) int {
	for i, p := range paths {
		for _, want := range expected {
			if p == want || (strings.HasSuffix(want, "/") && strings.HasPrefix(p, want)) {
				return i + 1
			}
		}
	}
	return 0
}
