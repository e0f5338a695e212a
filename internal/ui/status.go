package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StatusInfo is what the stats command reports about a vault index.
type StatusInfo struct {
	Vault          string      `json:"vault"`
	Enabled        bool        `json:"enabled"`
	Backends       []string    `json:"backends"` // priority order
	Notes          int         `json:"notes"`
	Chunks         int         `json:"chunks"`
	Dimensions     int         `json:"dimensions"`
	Store          string      `json:"store"`
	LastUpdated    time.Time   `json:"last_updated,omitzero"`
	DataSize       int64       `json:"data_size_bytes"`
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	ProviderStatus string      `json:"provider_status"` // "ready" or "offline"
	IndexedModel   string      `json:"indexed_model,omitempty"`
	Interrupted    bool        `json:"interrupted,omitempty"`
	Queries        *QueryStats `json:"queries,omitempty"`
}

// QueryStats summarises recent queries against the vault.
type QueryStats struct {
	Days        int       `json:"days"`
	Total       int64     `json:"total"`
	ZeroResults int64     `json:"zero_results"`
	TopTerms    []string  `json:"top_terms,omitempty"`
	Misses      []string  `json:"recent_misses,omitempty"`
	Since       time.Time `json:"since,omitzero"`
}

// StatusRenderer prints StatusInfo as text or JSON.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a StatusRenderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
		now:    time.Now,
	}
}

// Render prints info as an aligned text block.
func (r *StatusRenderer) Render(info StatusInfo) error {
	p := func(format string, a ...any) { _, _ = fmt.Fprintf(r.out, format, a...) }

	p("%s\n\n", r.styles.Header.Render("Vault: "+info.Vault))
	if !info.Enabled {
		p("  Semantic search is %s\n\n", r.styles.Warning.Render("disabled"))
	}

	p("  Notes:        %d\n", info.Notes)
	p("  Chunks:       %d\n", info.Chunks)
	p("  Dimensions:   %d\n", info.Dimensions)
	p("  Store:        %s (%s)\n", info.Store, FormatBytes(info.DataSize))
	if info.LastUpdated.IsZero() {
		p("  Last indexed: never\n")
	} else {
		p("  Last indexed: %s\n", r.formatTime(info.LastUpdated))
	}
	if info.Interrupted {
		p("  %s\n", r.styles.Warning.Render("Last run was interrupted; run 'vaultrag index' to resume"))
	}
	p("\n")

	p("  Embeddings:\n")
	p("    Provider: %s (%s)\n", info.Provider, r.renderStatus(info.ProviderStatus))
	p("    Model:    %s\n", info.Model)
	if info.IndexedModel != "" && info.IndexedModel != info.Model {
		p("    %s\n", r.styles.Warning.Render(fmt.Sprintf(
			"index was built with %s; run 'vaultrag index --force' to rebuild", info.IndexedModel)))
	}
	if len(info.Backends) > 0 {
		p("\n  Search backends: %s\n", strings.Join(info.Backends, " → "))
	}
	if q := info.Queries; q != nil {
		r.renderQueries(p, q)
	}
	return nil
}

func (r *StatusRenderer) renderQueries(p func(string, ...any), q *QueryStats) {
	p("\n  Queries (last %d days):\n", q.Days)
	if q.Total == 0 {
		p("    none recorded\n")
		return
	}
	rate := float64(q.ZeroResults) / float64(q.Total) * 100
	p("    Total:    %d (%.0f%% found nothing)\n", q.Total, rate)
	if len(q.TopTerms) > 0 {
		p("    Terms:    %s\n", strings.Join(q.TopTerms, ", "))
	}
	if len(q.Misses) > 0 {
		p("    Misses:   %s\n", r.styles.Dim.Render(strings.Join(q.Misses, "; ")))
	}
}

// RenderJSON prints info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime renders t relative to now for the last week, then as a date.
func (r *StatusRenderer) formatTime(t time.Time) string {
	diff := r.now().Sub(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats a byte count using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
