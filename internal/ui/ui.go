// Package ui renders indexing progress and index status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of a corpus indexing run.
type Stage int

const (
	// StageScanning lists the vault and checks the embedding provider.
	StageScanning Stage = iota
	// StageIndexing chunks, embeds and stores notes one at a time.
	StageIndexing
	// StagePruning removes notes that left the vault.
	StagePruning
	// StageComplete indicates the run finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageIndexing:
		return "Indexing"
	case StagePruning:
		return "Pruning"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short tag used by plain output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageIndexing:
		return "INDEX"
	case StagePruning:
		return "PRUNE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update for the current stage.
type ProgressEvent struct {
	Stage    Stage
	Current  int
	Total    int
	Document string // vault-relative path of the note being processed
	Message  string
}

// ErrorEvent is a failure or warning reported during a run.
type ErrorEvent struct {
	Document string
	Err      error
	IsWarn   bool
}

// EmbedderInfo describes the embedding provider used for a run.
type EmbedderInfo struct {
	Provider   string // "ollama", "openai" or "static"
	Model      string
	Dimensions int
}

// CompletionStats summarises a finished run.
type CompletionStats struct {
	Notes    int // notes considered after exclusions
	Indexed  int
	Skipped  int // unchanged since the last run
	Failed   int
	Pruned   int
	Chunks   int
	Duration time.Duration
	Embedder EmbedderInfo
}

// Renderer displays indexing progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError records a failure or warning.
	AddError(event ErrorEvent)

	// Complete shows the run summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and restores the terminal.
	Stop() error
}

// Config configures a Renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	VaultDir   string // shown in the header
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithVaultDir sets the vault path shown in the header.
func WithVaultDir(dir string) ConfigOption {
	return func(c *Config) {
		c.VaultDir = dir
	}
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks a renderer for the environment: the TUI for an
// interactive terminal, plain text for pipes, CI, or when forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
