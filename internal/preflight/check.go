package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Prober is anything that can report whether it is reachable. Search
// backends satisfy it directly.
type Prober interface {
	Name() string
	Available(ctx context.Context) bool
}

// ProbeFunc adapts a function to Prober.
func ProbeFunc(name string, fn func(context.Context) bool) Prober {
	return probeFunc{name: name, fn: fn}
}

type probeFunc struct {
	name string
	fn   func(context.Context) bool
}

func (p probeFunc) Name() string                       { return p.name }
func (p probeFunc) Available(ctx context.Context) bool { return p.fn(ctx) }

// Target describes what RunAll checks. Nil probers are skipped.
type Target struct {
	Vault    string
	DataDir  string
	Embedder Prober
	Backends []Prober
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose      bool
	output       io.Writer
	probeTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithProbeTimeout bounds each availability probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.probeTimeout = d
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output:       os.Stdout,
		probeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check that applies to t.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	results := []CheckResult{c.CheckVault(t.Vault)}

	if t.DataDir != "" {
		results = append(results,
			c.CheckWritePermissions(t.DataDir),
			c.CheckDiskSpace(t.DataDir),
		)
	}
	results = append(results, c.CheckFileDescriptors())

	if t.Embedder != nil {
		results = append(results, c.CheckEmbedder(ctx, t.Embedder))
	}
	if len(t.Backends) > 0 {
		results = append(results, c.CheckBackends(ctx, t.Backends))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	p := func(format string, a ...any) { _, _ = fmt.Fprintf(c.output, format, a...) }

	p("vaultrag doctor\n")
	p("===============\n\n")

	for _, r := range results {
		p("[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			p("      %s\n", r.Details)
		}
	}

	p("\nStatus: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		p("\n%d error(s):\n", len(errors))
		for _, e := range errors {
			p("  - %s\n", e)
		}
	}
	if len(warnings) > 0 {
		p("\n%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			p("  - %s\n", w)
		}
	}
}

// CheckVault checks that the vault directory exists and can be listed.
func (c *Checker) CheckVault(path string) CheckResult {
	result := CheckResult{
		Name:     "vault",
		Required: true,
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read vault: %v", err)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d entries)", path, len(entries))
	return result
}

// CheckWritePermissions checks that the data directory can be created and
// written.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	testFile := filepath.Join(path, ".vaultrag-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckEmbedder probes the embedding provider. Indexing needs it, but
// external search backends do not, so a failure is only a warning.
func (c *Checker) CheckEmbedder(ctx context.Context, e Prober) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	if c.probe(ctx, e) {
		result.Status = StatusPass
		result.Message = e.Name() + " is ready"
		return result
	}
	result.Status = StatusWarn
	result.Message = e.Name() + " is not reachable"
	result.Details = "Start the provider or set embeddings.provider: static for offline use"
	return result
}

// CheckBackends probes each search backend in order. It fails when none
// of them is available, since every search would then come back empty.
func (c *Checker) CheckBackends(ctx context.Context, backends []Prober) CheckResult {
	result := CheckResult{
		Name:     "search_backends",
		Required: true,
	}

	var up, down []string
	for _, b := range backends {
		if c.probe(ctx, b) {
			up = append(up, b.Name())
		} else {
			down = append(down, b.Name())
		}
	}

	switch {
	case len(up) == 0:
		result.Status = StatusFail
		result.Message = "no backend is available (" + strings.Join(down, ", ") + ")"
	case len(down) > 0:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s will serve searches; unavailable: %s", up[0], strings.Join(down, ", "))
	default:
		result.Status = StatusPass
		result.Message = up[0] + " will serve searches"
	}
	return result
}

func (c *Checker) probe(ctx context.Context, p Prober) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	return p.Available(ctx)
}
