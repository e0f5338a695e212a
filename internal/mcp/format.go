package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/vaultrag/internal/search"
)

// FormatResults renders results as markdown for clients that only read
// text content.
func FormatResults(title string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No notes found for %q", title)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q\n\n", title)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		fmt.Fprintf(&sb, "### %d. %s (score: %.2f)\n", i+1, search.Header(r), r.Score)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(r.Tags, ", "))
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(r.Content))
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// toOutput converts results to the structured tool output.
func toOutput(results []search.Result) SearchOutput {
	out := SearchOutput{Results: make([]ResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, ResultOutput{
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Score:      r.Score,
			Breadcrumb: r.Breadcrumb,
			Tags:       r.Tags,
			Backend:    r.Backend,
		})
	}
	return out
}

// clampLimit ensures limit is within bounds. Zero means defaultVal.
func clampLimit(limit, defaultVal, lo, hi int) int {
	if limit <= 0 {
		return defaultVal
	}
	return min(max(limit, lo), hi)
}

// snippet shortens s to n runes for log fields.
func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
