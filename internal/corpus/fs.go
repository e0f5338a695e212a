package corpus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/vaultrag/internal/gitignore"
)

const (
	// DefaultMaxFileSize skips notes larger than 10MB.
	DefaultMaxFileSize = 10 * 1024 * 1024

	// gitignoreCacheSize bounds the number of cached per-directory matchers.
	gitignoreCacheSize = 1000
)

// DefaultExtensions are the note file types listed by FSSource.
var DefaultExtensions = []string{".md", ".markdown"}

// FSOptions configures an FSSource.
type FSOptions struct {
	// Root is the vault directory.
	Root string

	// Extensions to include, with leading dot. Empty means DefaultExtensions.
	Extensions []string

	// RespectGitignore skips files matched by .gitignore files in the vault.
	RespectGitignore bool

	// MaxFileSize in bytes. 0 means DefaultMaxFileSize.
	MaxFileSize int64

	Logger *slog.Logger
}

// FSSource lists markdown notes under a directory. Directories whose name
// starts with '.' (.git, .obsidian, .trash) are never entered.
type FSSource struct {
	root       string
	extensions map[string]struct{}
	opts       FSOptions
	logger     *slog.Logger

	// gitignoreCache holds parsed matchers by directory.
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

var (
	_ Source = (*FSSource)(nil)
	_ Getter = (*FSSource)(nil)
)

// NewFSSource validates the root and returns a source over it.
func NewFSSource(opts FSOptions) (*FSSource, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat vault directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path is not a directory: %s", absRoot)
	}

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(e)] = struct{}{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}

	return &FSSource{
		root:           absRoot,
		extensions:     extSet,
		opts:           opts,
		logger:         logger,
		gitignoreCache: cache,
	}, nil
}

// Root returns the absolute vault directory.
func (s *FSSource) Root() string { return s.root }

// List walks the vault and returns notes sorted by id.
func (s *FSSource) List(ctx context.Context) ([]Document, error) {
	var docs []Document

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Debug("vault_walk_skip", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || s.isGitignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !s.Includes(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > s.opts.MaxFileSize {
			s.logger.Debug("vault_file_too_large", slog.String("path", rel), slog.Int64("size", info.Size()))
			return nil
		}
		if isBinaryFile(path) {
			return nil
		}

		docs = append(docs, &fsDocument{id: filepath.ToSlash(rel), path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs, nil
}

// Get returns the note with the given id, or ErrNotFound.
func (s *FSSource) Get(_ context.Context, id string) (Document, error) {
	rel := filepath.FromSlash(id)
	if id == "" || filepath.IsAbs(rel) || strings.HasPrefix(filepath.Clean(rel), "..") {
		return nil, fmt.Errorf("invalid document id %q", id)
	}
	if !s.Includes(rel) {
		return nil, ErrNotFound
	}

	path := filepath.Join(s.root, rel)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return &fsDocument{id: filepath.ToSlash(filepath.Clean(rel)), path: path, modTime: info.ModTime()}, nil
}

// Includes reports whether a vault-relative path would be listed, based on
// its name alone: extension, hidden path segments and .gitignore rules.
func (s *FSSource) Includes(rel string) bool {
	rel = filepath.Clean(rel)
	if _, ok := s.extensions[strings.ToLower(filepath.Ext(rel))]; !ok {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	return !s.isGitignored(rel, false)
}

// RelPath converts an absolute path inside the vault to a document id.
func (s *FSSource) RelPath(abs string) (string, bool) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// InvalidateGitignoreCache drops cached matchers after a .gitignore change.
func (s *FSSource) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

// isGitignored checks the root .gitignore and every nested one on the
// path to rel.
func (s *FSSource) isGitignored(rel string, isDir bool) bool {
	if !s.opts.RespectGitignore {
		return false
	}
	rel = filepath.ToSlash(rel)

	if m := s.gitignoreMatcher(s.root, ""); m != nil && m.Match(rel, isDir) {
		return true
	}

	dir := s.root
	base := ""
	parent := filepath.ToSlash(filepath.Dir(rel))
	if parent == "." {
		return false
	}
	for _, part := range strings.Split(parent, "/") {
		dir = filepath.Join(dir, part)
		if base == "" {
			base = part
		} else {
			base = base + "/" + part
		}
		if m := s.gitignoreMatcher(dir, base); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// gitignoreMatcher returns the cached matcher for dir. A missing
// .gitignore is cached as nil so it is not re-stat'ed.
func (s *FSSource) gitignoreMatcher(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	m, ok := s.gitignoreCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return m
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		m = gitignore.New()
		if err := m.AddFile(path, base); err != nil {
			s.logger.Warn("gitignore_parse_failed", slog.String("path", path), slog.String("error", err.Error()))
			m = nil
		}
	}

	s.cacheMu.Lock()
	s.gitignoreCache.Add(dir, m)
	s.cacheMu.Unlock()
	return m
}

// isBinaryFile reports whether the first 512 bytes contain a NUL.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

// fsDocument is a note on disk. Text is read once and reused by Outline.
type fsDocument struct {
	id      string
	path    string
	modTime time.Time

	once sync.Once
	text string
	err  error
}

func (d *fsDocument) ID() string         { return d.id }
func (d *fsDocument) ModTime() time.Time { return d.modTime }

func (d *fsDocument) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.once.Do(func() {
		b, err := os.ReadFile(d.path)
		if err != nil {
			d.err = fmt.Errorf("read %s: %w", d.id, err)
			return
		}
		d.text = string(b)
	})
	return d.text, d.err
}

func (d *fsDocument) Outline(ctx context.Context) (*Outline, error) {
	text, err := d.Read(ctx)
	if err != nil {
		return nil, err
	}
	return ParseOutline(text), nil
}
