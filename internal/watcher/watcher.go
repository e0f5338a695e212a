// Package watcher reports changes under a vault directory as debounced
// batches of FileEvents.
//
// fsnotify is used when it can be initialised, with a polling fallback for
// filesystems where it cannot (network mounts, some container volumes).
// Events are coalesced per path so that editors saving a note several
// times in quick succession cause a single reindex.
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, vaultRoot)
//	for batch := range w.Events() {
//	    coordinator.HandleEvents(ctx, batch)
//	}
package watcher

import (
	"log/slog"
	"path"
	"strings"
	"time"
)

// Operation is the kind of change a FileEvent reports.
type Operation int

const (
	// OpCreate indicates a new file or directory.
	OpCreate Operation = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file or directory was removed.
	OpDelete
	// OpRename indicates a move from OldPath to Path.
	OpRename
	// OpGitignoreChange indicates a .gitignore file changed, so the set of
	// indexable notes may have changed too.
	OpGitignoreChange
	// OpConfigChange indicates the vault's .vaultrag.yaml changed.
	OpConfigChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change under the watched root.
type FileEvent struct {
	// Path is slash-separated and relative to the root.
	Path string

	// OldPath is the previous path of a rename.
	OldPath string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long a path must be quiet before its event is
	// emitted. Default 500ms.
	DebounceWindow time.Duration

	// PollInterval is the scan interval of the polling fallback.
	// Default 5s.
	PollInterval time.Duration

	// EventBufferSize is the capacity of the batch channel. Default 256.
	EventBufferSize int

	// IgnorePatterns are gitignore-syntax patterns applied on top of the
	// vault's .gitignore files.
	IgnorePatterns []string

	// ConfigFiles are base names reported as OpConfigChange.
	ConfigFiles []string

	// ForcePolling skips fsnotify.
	ForcePolling bool

	Logger *slog.Logger
}

// DefaultConfigFiles are the vault config names watched for changes.
var DefaultConfigFiles = []string{".vaultrag.yaml", ".vaultrag.yml"}

// reservedDirs are never watched: VCS data, editor state, trash and the
// index itself.
var reservedDirs = []string{".git", ".obsidian", ".trash", ".vaultrag"}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 256,
		ConfigFiles:     append([]string(nil), DefaultConfigFiles...),
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.ConfigFiles == nil {
		o.ConfigFiles = defaults.ConfigFiles
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// reserved reports whether rel is, or is inside, a reserved directory.
func reserved(rel string) bool {
	first, _, _ := strings.Cut(rel, "/")
	for _, d := range reservedDirs {
		if first == d {
			return true
		}
	}
	return false
}

func (o Options) isConfigFile(rel string) bool {
	base := path.Base(rel)
	for _, name := range o.ConfigFiles {
		if base == name {
			return true
		}
	}
	return false
}
