package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

// PollingWatcher detects changes by rescanning the tree on an interval.
// It is the fallback when fsnotify is unavailable.
type PollingWatcher struct {
	interval time.Duration
	skip     func(rel string, isDir bool) bool
	emit     func(FileEvent)
	state    map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a poller that reports each change to emit.
// Paths for which skip returns true are not scanned; a skipped directory
// is not descended into. skip may be nil.
func NewPollingWatcher(interval time.Duration, skip func(rel string, isDir bool) bool, emit func(FileEvent)) *PollingWatcher {
	if skip == nil {
		skip = func(string, bool) bool { return false }
	}
	return &PollingWatcher{
		interval: interval,
		skip:     skip,
		emit:     emit,
		state:    make(map[string]fileSnapshot),
	}
}

// Run scans root once as a baseline, then every interval until ctx is
// done or stop is closed. Scan errors are returned only for the baseline.
func (p *PollingWatcher) Run(ctx context.Context, root string, stop <-chan struct{}, onError func(error)) error {
	baseline, err := p.scan(root)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.state = baseline

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(root); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

func (p *PollingWatcher) scan(root string) (map[string]fileSnapshot, error) {
	current := make(map[string]fileSnapshot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if p.skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		current[rel] = fileSnapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return current, err
}

// detectChanges diffs a fresh scan against the last one.
func (p *PollingWatcher) detectChanges(root string) error {
	current, err := p.scan(root)
	if err != nil {
		return fmt.Errorf("rescan %s: %w", root, err)
	}
	now := time.Now()

	for rel, snap := range current {
		prev, existed := p.state[rel]
		switch {
		case !existed:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !snap.isDir && (!prev.modTime.Equal(snap.modTime) || prev.size != snap.size):
			p.emit(FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel, snap := range p.state {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}

	p.state = current
	return nil
}
