package search

import (
	"sort"

	"github.com/Aman-CERP/vaultrag/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// Weights configures the relative importance of keyword vs semantic rankings.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights favours meaning over exact wording, which suits prose notes.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.35, Semantic: 0.65}
}

// FusedResult represents a single record after RRF fusion.
type FusedResult struct {
	ID           string   // Record id
	RRFScore     float64  // Combined RRF score (normalized 0-1)
	KeywordScore float64  // Original keyword score
	KeywordRank  int      // Position in keyword list (1-indexed, 0 if absent)
	VecScore     float64  // Original cosine similarity
	VecRank      int      // Position in vector list (1-indexed, 0 if absent)
	InBothLists  bool     // Record appeared in both lists
	MatchedTerms []string // Keyword terms that matched

	// Record is set when the record came from the vector list.
	Record *store.VectorRecord
}

// RRFFusion combines keyword and vector rankings using Reciprocal Rank
// Fusion.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = position in ranked list i (1-indexed)
//   - weight_i = weight for search source i
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines keyword and vector results.
//
// Records appearing in only one list use missing_rank = max(len(keyword), len(vec)) + 1
// for the missing source's contribution.
//
// Results are sorted by: RRFScore (desc) → InBothLists (true first) → KeywordScore (desc) → ID (asc)
func (f *RRFFusion) Fuse(keyword []*store.KeywordHit, vec []*store.ScoredRecord, weights Weights) []*FusedResult {
	if len(keyword) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(keyword)+len(vec))

	for rank, r := range keyword {
		result := f.getOrCreate(scores, r.ID)
		result.KeywordScore = r.Score
		result.KeywordRank = rank + 1
		result.MatchedTerms = r.MatchedTerms
		result.RRFScore += weights.Keyword / float64(f.K+rank+1)
	}

	for rank, r := range vec {
		result := f.getOrCreate(scores, r.Record.ID)
		result.Record = r.Record
		result.VecScore = r.Score
		result.VecRank = rank + 1
		result.RRFScore += weights.Semantic / float64(f.K+rank+1)
		if result.KeywordRank > 0 {
			result.InBothLists = true
		}
	}

	missingRank := max(len(keyword), len(vec)) + 1
	for _, r := range scores {
		if r.KeywordRank == 0 && r.VecRank > 0 {
			r.RRFScore += weights.Keyword / float64(f.K+missingRank)
		}
		if r.VecRank == 0 && r.KeywordRank > 0 {
			r.RRFScore += weights.Semantic / float64(f.K+missingRank)
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	f.normalize(results)
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ID: id}
	m[id] = r
	return r
}

// compare implements deterministic comparison for sorting.
// Returns true if a should rank before b.
//
// Priority:
//  1. Higher RRF score
//  2. In both lists (true before false)
//  3. Higher keyword score (exact match indicator)
//  4. Lexicographically smaller ID
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	return a.ID < b.ID
}

// normalize scales all RRF scores to 0-1 range, the first (maximum) score
// becoming 1.0.
func (f *RRFFusion) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore = r.RRFScore / maxScore
	}
}
