// Package store provides durable vector record storage with exact cosine
// search, plus the keyword indexes used for hybrid retrieval.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State keys persisted next to the records.
const (
	StateKeyLastUpdated = "last_updated"
	StateKeyModel       = "embedding_model"
	StateKeyDimensions  = "embedding_dimensions"
)

// VectorRecord is one embedded chunk of a document.
type VectorRecord struct {
	ID         string    // RecordID(DocumentID, Ordinal)
	DocumentID string    // Vault-relative path
	Ordinal    int       // 0-based, contiguous per document
	Content    string    // Chunk text
	Vector     []float32 // Document-side embedding
	Breadcrumb []string  // Heading path, outermost first
	Tags       []string  // Document tags at indexing time
	ModTime    time.Time // Document mod time when indexed
}

// RecordID builds the deterministic id of a document's chunk.
func RecordID(documentID string, ordinal int) string {
	return documentID + "#" + strconv.Itoa(ordinal)
}

// ParseRecordID splits a record id into document id and ordinal. Document
// ids may themselves contain '#', so the last one wins.
func ParseRecordID(id string) (documentID string, ordinal int, err error) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return "", 0, fmt.Errorf("record id %q has no ordinal", id)
	}
	ordinal, err = strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("record id %q: %w", id, err)
	}
	return id[:i], ordinal, nil
}

// ScoredRecord is a search hit.
type ScoredRecord struct {
	Record *VectorRecord
	Score  float64
}

// SearchOptions narrows a vector search.
type SearchOptions struct {
	// FolderPrefix keeps only records whose document id starts with it.
	FolderPrefix string

	// ScoreThreshold drops hits scoring below it. Nil means no floor.
	ScoreThreshold *float64
}

// Threshold is a convenience for building SearchOptions.ScoreThreshold.
func Threshold(v float64) *float64 { return &v }

// Stats summarises the stored index.
type Stats struct {
	Documents   int
	Chunks      int
	Dimensions  int
	LastUpdated time.Time
	Backend     string
}

// VectorStore persists VectorRecords and searches them by cosine similarity.
//
// Implementations are safe for concurrent use. Concurrent searches and
// upserts for different documents are fine; callers serialize writes to
// the same document.
type VectorStore interface {
	// Upsert inserts or replaces records by id, atomically.
	Upsert(ctx context.Context, records []*VectorRecord) error

	// DeleteByDocument removes every record of a document. Unknown ids are a no-op.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Search returns up to topK records by descending cosine similarity.
	// Ties keep insertion order.
	Search(ctx context.Context, query []float32, topK int, opts SearchOptions) ([]*ScoredRecord, error)

	// NeedsReindex reports whether a document has no records or its newest
	// record predates modTime.
	NeedsReindex(ctx context.Context, documentID string, modTime time.Time) (bool, error)

	// Records returns a document's records ordered by ordinal.
	Records(ctx context.Context, documentID string) ([]*VectorRecord, error)

	// Documents lists the ids of all stored documents, sorted.
	Documents(ctx context.Context) ([]string, error)

	Stats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
	SetLastUpdated(ctx context.Context, t time.Time) error

	// GetState and SetState hold small runtime values such as the model
	// the index was built with.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'vaultrag index --force')", e.Expected, e.Got)
}
