package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

// persister is the durable half of a Store. Every method is called with
// the Store's write lock held, and the mirror is only updated after the
// persister call succeeds.
type persister interface {
	name() string
	load(ctx context.Context, fn func(*VectorRecord)) error
	put(ctx context.Context, records []*VectorRecord) error
	deleteDocument(ctx context.Context, documentID string) error
	clear(ctx context.Context) error
	getState(ctx context.Context, key string) (string, error)
	setState(ctx context.Context, key, value string) error
	close() error
}

// Store implements VectorStore over a persister, answering searches from
// an in-memory mirror of every record.
type Store struct {
	mu          sync.RWMutex
	p           persister
	mirror      *mirror
	ann         *annIndex // nil in exact mode
	lastUpdated time.Time
	logger      *slog.Logger
	closed      bool
}

var _ VectorStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSearchMode selects exact scanning or HNSW candidate generation.
func WithSearchMode(mode string) Option {
	return func(s *Store) {
		if mode == SearchModeHNSW {
			s.ann = newANNIndex()
		} else {
			s.ann = nil
		}
	}
}

// newStore wraps p and loads its records into memory.
func newStore(ctx context.Context, p persister, opts ...Option) (*Store, error) {
	s := &Store{
		p:      p,
		mirror: newMirror(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	start := time.Now()
	err := p.load(ctx, func(rec *VectorRecord) {
		s.mirror.put(rec)
		if s.ann != nil {
			s.ann.add(rec.ID, rec.Vector)
		}
	})
	if err != nil {
		_ = p.close()
		return nil, vrerrors.New(vrerrors.ErrCodeCorruptIndex, "failed to load vector records", err).
			WithDetail("backend", p.name())
	}

	if v, err := p.getState(ctx, StateKeyLastUpdated); err == nil && v != "" {
		if nanos, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.lastUpdated = time.Unix(0, nanos)
		}
	}

	s.logger.Debug("vector_store_loaded",
		slog.String("backend", p.name()),
		slog.Int("records", len(s.mirror.records)),
		slog.Duration("duration", time.Since(start)))
	return s, nil
}

// NewMemoryStore returns a Store that keeps nothing on disk.
func NewMemoryStore(opts ...Option) *Store {
	s, _ := newStore(context.Background(), newMemoryPersister(), opts...)
	return s
}

func (s *Store) checkOpen() error {
	if s.closed {
		return vrerrors.New(vrerrors.ErrCodeStoreOpen, "vector store is closed", nil)
	}
	return nil
}

// Upsert inserts or replaces records in one atomic write.
func (s *Store) Upsert(ctx context.Context, records []*VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.ID == "" || r.DocumentID == "" {
			return vrerrors.ValidationError("record requires an id and a document id", nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	stored := make([]*VectorRecord, len(records))
	for i, r := range records {
		stored[i] = cloneRecord(r)
	}

	if err := s.p.put(ctx, stored); err != nil {
		return vrerrors.New(vrerrors.ErrCodeStoreWrite, "failed to write vector records", err).
			WithDetail("document", records[0].DocumentID)
	}
	for _, r := range stored {
		s.mirror.put(r)
		if s.ann != nil {
			s.ann.add(r.ID, r.Vector)
		}
	}
	return nil
}

// DeleteByDocument removes every record of a document.
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, ok := s.mirror.byDoc[documentID]; !ok {
		return nil
	}
	if err := s.p.deleteDocument(ctx, documentID); err != nil {
		return vrerrors.New(vrerrors.ErrCodeStoreWrite, "failed to delete document records", err).
			WithDetail("document", documentID)
	}
	for _, id := range s.mirror.deleteDocument(documentID) {
		if s.ann != nil {
			s.ann.remove(id)
		}
	}
	return nil
}

// Search ranks records by cosine similarity to query.
func (s *Store) Search(ctx context.Context, query []float32, topK int, opts SearchOptions) ([]*ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var ids []string
	// Folder-filtered searches use the exact scan: the graph's neighbours
	// may all lie outside the folder.
	if s.ann != nil && opts.FolderPrefix == "" && s.ann.len() >= annMinRecords {
		ids = s.ann.candidates(query, max(topK*annOversample, annMinCandidates))
	}

	return rank(query, s.mirror.candidates(ids, opts.FolderPrefix), topK, opts.ScoreThreshold), nil
}

// NeedsReindex reports whether documentID is missing or older than modTime.
func (s *Store) NeedsReindex(_ context.Context, documentID string, modTime time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	newest, ok := s.mirror.newest(documentID)
	if !ok {
		return true, nil
	}
	return newest.Before(modTime), nil
}

// Records returns a document's records ordered by ordinal.
func (s *Store) Records(_ context.Context, documentID string) ([]*VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.mirror.documentRecords(documentID), nil
}

// Documents lists stored document ids, sorted.
func (s *Store) Documents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.mirror.documents(), nil
}

// Stats returns counts and the last-updated time.
func (s *Store) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return &Stats{
		Documents:   len(s.mirror.byDoc),
		Chunks:      len(s.mirror.records),
		Dimensions:  s.mirror.dimensions(),
		LastUpdated: s.lastUpdated,
		Backend:     s.p.name(),
	}, nil
}

// Clear removes every record and resets the last-updated time.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.p.clear(ctx); err != nil {
		return vrerrors.New(vrerrors.ErrCodeStoreWrite, "failed to clear vector store", err)
	}
	s.mirror.reset()
	if s.ann != nil {
		s.ann.reset()
	}
	s.lastUpdated = time.Time{}
	return nil
}

// SetLastUpdated records when the index was last refreshed.
func (s *Store) SetLastUpdated(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.p.setState(ctx, StateKeyLastUpdated, strconv.FormatInt(t.UnixNano(), 10)); err != nil {
		return vrerrors.New(vrerrors.ErrCodeStoreWrite, "failed to save last-updated time", err)
	}
	s.lastUpdated = t
	return nil
}

// GetState reads a runtime value. Missing keys return "".
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	return s.p.getState(ctx, key)
}

// SetState writes a runtime value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.p.setState(ctx, key, value); err != nil {
		return vrerrors.New(vrerrors.ErrCodeStoreWrite, fmt.Sprintf("failed to save state %q", key), err)
	}
	return nil
}

// Close releases the persister. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.p.close()
}

// memoryPersister keeps only state; records live in the mirror.
type memoryPersister struct {
	state map[string]string
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{state: make(map[string]string)}
}

func (m *memoryPersister) name() string                                    { return BackendMemory }
func (m *memoryPersister) load(context.Context, func(*VectorRecord)) error { return nil }
func (m *memoryPersister) put(context.Context, []*VectorRecord) error      { return nil }
func (m *memoryPersister) deleteDocument(context.Context, string) error    { return nil }
func (m *memoryPersister) close() error                                    { return nil }

func (m *memoryPersister) clear(context.Context) error {
	delete(m.state, StateKeyLastUpdated)
	return nil
}

func (m *memoryPersister) getState(_ context.Context, key string) (string, error) {
	return m.state[key], nil
}

func (m *memoryPersister) setState(_ context.Context, key, value string) error {
	m.state[key] = value
	return nil
}
