package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/vaultrag/internal/gitignore"
)

// Watcher watches a vault with fsnotify, or by polling when fsnotify is
// unavailable, and emits debounced batches of events.
type Watcher struct {
	opts      Options
	logger    *slog.Logger
	debouncer *Debouncer
	fsw       *fsnotify.Watcher
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	dropped   atomic.Uint64

	mu      sync.RWMutex
	root    string
	ignore  *gitignore.Matcher
	dirs    map[string]struct{} // watched directories, relative
	stopped bool
}

// New creates a watcher. It falls back to polling when fsnotify cannot be
// initialised or opts.ForcePolling is set.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	w := &Watcher{
		opts:      opts,
		logger:    opts.Logger,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.Logger),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 16),
		stopCh:    make(chan struct{}),
		ignore:    gitignore.Compile(opts.IgnorePatterns...),
		dirs:      make(map[string]struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("fsnotify_unavailable_using_polling", slog.String("error", err.Error()))
		} else {
			w.fsw = fsw
		}
	}
	return w, nil
}

// Start watches root until ctx is done or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", root)
	}

	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()
	w.loadGitignore()

	go w.forward(ctx)

	w.logger.Info("watcher_started", slog.String("root", abs), slog.String("mode", w.Mode()))
	if w.fsw != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	if err := w.addTree(w.root, false); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsnotify(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) error {
	p := NewPollingWatcher(w.opts.PollInterval, w.ignored, w.handle)
	err := p.Run(ctx, w.root, w.stopCh, w.emitError)
	if ctx.Err() != nil {
		_ = w.Stop()
	}
	return err
}

// handleFsnotify translates one fsnotify event. A rename reports only the
// old name; the new name arrives as a separate create.
func (w *Watcher) handleFsnotify(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Has(fsnotify.Create):
		isDir := false
		if info, err := os.Stat(ev.Name); err == nil {
			isDir = info.IsDir()
		}
		if isDir && !w.ignored(rel, true) {
			// A folder moved into the vault arrives as one create; its
			// contents are reported individually.
			if err := w.addTree(ev.Name, true); err != nil {
				w.emitError(err)
			}
		}
		w.handle(FileEvent{Path: rel, Operation: OpCreate, IsDir: isDir, Timestamp: time.Now()})
	case ev.Has(fsnotify.Write):
		w.handle(FileEvent{Path: rel, Operation: OpModify, Timestamp: time.Now()})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.handle(FileEvent{Path: rel, Operation: OpDelete, IsDir: w.forgetDir(rel), Timestamp: time.Now()})
	}
}

// handle classifies an event and queues it for debouncing.
func (w *Watcher) handle(ev FileEvent) {
	if ev.Path == "" || ev.Path == "." || reserved(ev.Path) {
		return
	}

	switch {
	case path.Base(ev.Path) == ".gitignore":
		w.loadGitignore()
		ev.Operation = OpGitignoreChange
		ev.IsDir = false
	case w.opts.isConfigFile(ev.Path):
		ev.Operation = OpConfigChange
		ev.IsDir = false
	case w.ignored(ev.Path, ev.IsDir):
		return
	}
	w.debouncer.Add(ev)
}

// ignored reports whether rel is reserved or matched by ignore rules.
func (w *Watcher) ignored(rel string, isDir bool) bool {
	if reserved(rel) {
		return true
	}
	w.mu.RLock()
	m := w.ignore
	w.mu.RUnlock()
	return m.Match(rel, isDir)
}

// addTree watches dir and every non-ignored directory below it. When
// emitFiles is set, files found are reported as creates.
func (w *Watcher) addTree(dir string, emitFiles bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !d.IsDir() {
			if emitFiles {
				w.handle(FileEvent{Path: rel, Operation: OpCreate, Timestamp: time.Now()})
			}
			return nil
		}
		if rel != "." && w.ignored(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", rel, err)
		}
		w.mu.Lock()
		w.dirs[rel] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

// forgetDir drops rel and its subdirectories from the watched set and
// reports whether rel was a watched directory.
func (w *Watcher) forgetDir(rel string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, was := w.dirs[rel]
	if !was {
		return false
	}
	prefix := rel + "/"
	for d := range w.dirs {
		if d == rel || (len(d) > len(prefix) && d[:len(prefix)] == prefix) {
			delete(w.dirs, d)
		}
	}
	return true
}

// loadGitignore rebuilds the matcher from the configured patterns and
// every .gitignore in the vault.
func (w *Watcher) loadGitignore() {
	w.mu.RLock()
	root := w.root
	w.mu.RUnlock()

	m := gitignore.Compile(w.opts.IgnorePatterns...)
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("gitignore_scan_skipped", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			if rel != "." && reserved(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" {
			return nil
		}
		base, _ := filepath.Rel(root, filepath.Dir(p))
		if base == "." {
			base = ""
		}
		if err := m.AddFile(p, filepath.ToSlash(base)); err != nil {
			w.logger.Warn("gitignore_read_failed", slog.String("path", p), slog.String("error", err.Error()))
		}
		return nil
	})

	w.mu.Lock()
	w.ignore = m
	w.mu.Unlock()
}

func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emit(batch)
		}
	}
}

func (w *Watcher) emit(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped || len(batch) == 0 {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("watcher_buffer_full",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops watching and closes the Events and Errors channels. Safe to
// call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced batches.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// DroppedBatches counts batches lost to a full Events buffer.
func (w *Watcher) DroppedBatches() uint64 { return w.dropped.Load() }

// Mode is "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}
