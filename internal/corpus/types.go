package corpus

import (
	"context"
	"errors"
	"time"

	"github.com/Aman-CERP/vaultrag/internal/chunk"
)

// ErrNotFound is returned when a document id does not exist in the source.
var ErrNotFound = errors.New("document not found")

// Document is a read-only view of one note.
type Document interface {
	// ID is the vault-relative path using forward slashes.
	ID() string

	// ModTime is the last modification time, used for staleness checks.
	ModTime() time.Time

	// Read returns the full text.
	Read(ctx context.Context) (string, error)

	// Outline returns the heading outline and tags.
	Outline(ctx context.Context) (*Outline, error)
}

// Outline is the structural metadata of a document.
type Outline struct {
	Headings []chunk.Heading
	Tags     []string
}

// Source lists the documents of a corpus.
type Source interface {
	List(ctx context.Context) ([]Document, error)
}

// Getter is implemented by sources that can look up a single document.
type Getter interface {
	Get(ctx context.Context, id string) (Document, error)
}
