package corpus

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemDocument is an in-memory Document. Its outline is parsed from Text.
type MemDocument struct {
	Path     string
	Text     string
	Modified time.Time

	// ReadErr, when set, is returned by Read.
	ReadErr error
}

var _ Document = (*MemDocument)(nil)

func (d *MemDocument) ID() string         { return d.Path }
func (d *MemDocument) ModTime() time.Time { return d.Modified }

func (d *MemDocument) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.ReadErr != nil {
		return "", d.ReadErr
	}
	return d.Text, nil
}

func (d *MemDocument) Outline(ctx context.Context) (*Outline, error) {
	text, err := d.Read(ctx)
	if err != nil {
		return nil, err
	}
	return ParseOutline(text), nil
}

// MemorySource is a mutable in-memory Source, safe for concurrent use.
type MemorySource struct {
	mu   sync.RWMutex
	docs map[string]*MemDocument
}

var (
	_ Source = (*MemorySource)(nil)
	_ Getter = (*MemorySource)(nil)
)

// NewMemorySource returns a source holding docs.
func NewMemorySource(docs ...*MemDocument) *MemorySource {
	s := &MemorySource{docs: make(map[string]*MemDocument)}
	for _, d := range docs {
		s.Put(d)
	}
	return s
}

// Put adds or replaces a document.
func (s *MemorySource) Put(d *MemDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.Path] = d
}

// Remove deletes a document.
func (s *MemorySource) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

// List returns documents sorted by id.
func (s *MemorySource) List(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Document, len(ids))
	for i, id := range ids {
		out[i] = s.docs[id]
	}
	return out, nil
}

// Get returns one document or ErrNotFound.
func (s *MemorySource) Get(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.docs[id]; ok {
		return d, nil
	}
	return nil, ErrNotFound
}
