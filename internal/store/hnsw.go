package store

import (
	"github.com/coder/hnsw"
)

// Search modes.
const (
	// SearchModeExact scans every record (default).
	SearchModeExact = "exact"

	// SearchModeHNSW draws candidates from an HNSW graph and rescores
	// them exactly.
	SearchModeHNSW = "hnsw"
)

const (
	// annMinRecords is the size below which the graph is skipped and the
	// exact scan used instead.
	annMinRecords = 2000

	// annOversample widens the candidate set fetched from the graph.
	annOversample = 4

	// annMinCandidates floors the candidate set size.
	annMinCandidates = 64
)

// annIndex generates approximate nearest-neighbour candidates using
// coder/hnsw. Scores are never taken from the graph: Store rescores
// every candidate with CosineSimilarity.
type annIndex struct {
	graph *hnsw.Graph[uint64]
	dims  int

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

func newANNIndex() *annIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &annIndex{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts or replaces a vector. Zero vectors and vectors whose
// dimension differs from the first one added are left out of the graph;
// they can still be found by the exact scan.
func (a *annIndex) add(id string, vector []float32) {
	a.remove(id)

	if len(vector) == 0 {
		return
	}
	if a.dims == 0 {
		a.dims = len(vector)
	}
	if len(vector) != a.dims {
		return
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeVectorInPlace(vec)
	if isZeroVector(vec) {
		return
	}

	key := a.nextKey
	a.nextKey++
	a.graph.Add(hnsw.MakeNode(key, vec))
	a.idMap[id] = key
	a.keyMap[key] = id
}

// remove forgets an id. The node stays in the graph (lazy deletion)
// because coder/hnsw misbehaves when its last node is deleted.
func (a *annIndex) remove(id string) {
	if key, ok := a.idMap[id]; ok {
		delete(a.keyMap, key)
		delete(a.idMap, id)
	}
}

// len returns the number of live ids.
func (a *annIndex) len() int {
	return len(a.idMap)
}

// candidates returns ids of up to k approximate neighbours of query, or
// nil when the query cannot be used against the graph.
func (a *annIndex) candidates(query []float32, k int) []string {
	if len(query) != a.dims || a.graph.Len() == 0 {
		return nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)
	if isZeroVector(q) {
		return nil
	}

	// Orphaned nodes take slots in the result; ask for enough to cover them.
	want := k + (a.graph.Len() - len(a.idMap))
	nodes := a.graph.Search(q, want)

	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if id, ok := a.keyMap[node.Key]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *annIndex) reset() {
	*a = *newANNIndex()
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
