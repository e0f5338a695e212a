package store

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// mirror is the in-memory copy of every record that searches scan. It is
// not synchronized; Store guards it.
type mirror struct {
	records map[string]*entry
	byDoc   map[string]map[string]struct{}
	seq     uint64
}

type entry struct {
	rec *VectorRecord
	seq uint64 // insertion order, used to break score ties
}

func newMirror() *mirror {
	return &mirror{
		records: make(map[string]*entry),
		byDoc:   make(map[string]map[string]struct{}),
	}
}

// put inserts or replaces a record. A replaced record moves to the end
// of the insertion order, matching what a reload from disk would produce.
func (m *mirror) put(rec *VectorRecord) {
	if old, ok := m.records[rec.ID]; ok && old.rec.DocumentID != rec.DocumentID {
		m.unlinkDoc(old.rec)
	}
	m.seq++
	m.records[rec.ID] = &entry{rec: rec, seq: m.seq}

	ids := m.byDoc[rec.DocumentID]
	if ids == nil {
		ids = make(map[string]struct{})
		m.byDoc[rec.DocumentID] = ids
	}
	ids[rec.ID] = struct{}{}
}

func (m *mirror) unlinkDoc(rec *VectorRecord) {
	ids := m.byDoc[rec.DocumentID]
	delete(ids, rec.ID)
	if len(ids) == 0 {
		delete(m.byDoc, rec.DocumentID)
	}
}

// deleteDocument removes a document's records and returns their ids.
func (m *mirror) deleteDocument(documentID string) []string {
	ids := m.byDoc[documentID]
	removed := make([]string, 0, len(ids))
	for id := range ids {
		delete(m.records, id)
		removed = append(removed, id)
	}
	delete(m.byDoc, documentID)
	return removed
}

func (m *mirror) reset() {
	m.records = make(map[string]*entry)
	m.byDoc = make(map[string]map[string]struct{})
	m.seq = 0
}

// newest returns the latest ModTime among a document's records.
func (m *mirror) newest(documentID string) (time.Time, bool) {
	ids, ok := m.byDoc[documentID]
	if !ok || len(ids) == 0 {
		return time.Time{}, false
	}
	var newest time.Time
	for id := range ids {
		if t := m.records[id].rec.ModTime; t.After(newest) {
			newest = t
		}
	}
	return newest, true
}

func (m *mirror) documentRecords(documentID string) []*VectorRecord {
	ids := m.byDoc[documentID]
	out := make([]*VectorRecord, 0, len(ids))
	for id := range ids {
		out = append(out, cloneRecord(m.records[id].rec))
	}
	slices.SortFunc(out, func(a, b *VectorRecord) int { return a.Ordinal - b.Ordinal })
	return out
}

func (m *mirror) documents() []string {
	docs := make([]string, 0, len(m.byDoc))
	for doc := range m.byDoc {
		docs = append(docs, doc)
	}
	sort.Strings(docs)
	return docs
}

func (m *mirror) dimensions() int {
	for _, e := range m.records {
		if len(e.rec.Vector) > 0 {
			return len(e.rec.Vector)
		}
	}
	return 0
}

// candidates returns entries in insertion order, restricted to ids when
// ids is non-nil and to documents under prefix.
func (m *mirror) candidates(ids []string, prefix string) []*entry {
	var out []*entry
	keep := func(e *entry) {
		if prefix == "" || strings.HasPrefix(e.rec.DocumentID, prefix) {
			out = append(out, e)
		}
	}

	if ids != nil {
		for _, id := range ids {
			if e, ok := m.records[id]; ok {
				keep(e)
			}
		}
	} else {
		out = make([]*entry, 0, len(m.records))
		for _, e := range m.records {
			keep(e)
		}
	}

	slices.SortFunc(out, func(a, b *entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// rank scores candidates exactly and keeps the best topK, ties in
// insertion order.
func rank(query []float32, cands []*entry, topK int, threshold *float64) []*ScoredRecord {
	if topK <= 0 {
		return []*ScoredRecord{}
	}

	scored := make([]*ScoredRecord, 0, len(cands))
	for _, e := range cands {
		score := CosineSimilarity(query, e.rec.Vector)
		if threshold != nil && score < *threshold {
			continue
		}
		scored = append(scored, &ScoredRecord{Record: e.rec, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	for _, s := range scored {
		s.Record = cloneRecord(s.Record)
	}
	return scored
}

// cloneRecord copies a record so callers cannot mutate stored state.
func cloneRecord(r *VectorRecord) *VectorRecord {
	c := *r
	c.Vector = slices.Clone(r.Vector)
	c.Breadcrumb = slices.Clone(r.Breadcrumb)
	c.Tags = slices.Clone(r.Tags)
	return &c
}
