package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/vaultrag/internal/search"
)

func TestFormatResults_Basic(t *testing.T) {
	// Given: one result with breadcrumb and tags
	results := []search.Result{{
		DocumentID: "Garden/log.md",
		Content:    "  Planted tomatoes by the fence.  ",
		Score:      0.934,
		Breadcrumb: []string{"Garden Log", "Spring"},
		Tags:       []string{"garden", "plants"},
	}}

	// When: formatting results
	markdown := FormatResults("tomatoes", results)

	// Then: markdown contains the header, score, tags and trimmed content
	assert.Contains(t, markdown, `## Results for "tomatoes"`)
	assert.Contains(t, markdown, "Found 1 result\n")
	assert.Contains(t, markdown, "### 1. Garden/log.md > Garden Log > Spring (score: 0.93)")
	assert.Contains(t, markdown, "Tags: garden, plants")
	assert.Contains(t, markdown, "\nPlanted tomatoes by the fence.\n")
}

func TestFormatResults_MultipleResultsKeepOrder(t *testing.T) {
	results := []search.Result{
		{DocumentID: "a.md", Content: "first", Score: 0.9},
		{DocumentID: "b.md", Content: "second", Score: 0.8},
	}

	markdown := FormatResults("q", results)

	assert.Contains(t, markdown, "Found 2 results")
	assert.Less(t, strings.Index(markdown, "### 1. a.md"), strings.Index(markdown, "### 2. b.md"))
	assert.NotContains(t, markdown, "Tags:")
}

func TestFormatResults_Empty(t *testing.T) {
	assert.Equal(t, `No notes found for "nothing"`, FormatResults("nothing", nil))
}

func TestToOutput(t *testing.T) {
	results := []search.Result{{
		DocumentID: "a.md",
		Content:    "text",
		Score:      0.5,
		Breadcrumb: []string{"A"},
		Tags:       []string{"t"},
		Backend:    "local",
	}}

	out := toOutput(results)

	assert.Equal(t, []ResultOutput{{
		DocumentID: "a.md",
		Content:    "text",
		Score:      0.5,
		Breadcrumb: []string{"A"},
		Tags:       []string{"t"},
		Backend:    "local",
	}}, out.Results)
	assert.NotNil(t, toOutput(nil).Results, "empty output should serialize as []")
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name                     string
		limit, def, lo, hi, want int
	}{
		{"zero uses default", 0, 10, 1, 50, 10},
		{"negative uses default", -3, 10, 1, 50, 10},
		{"within range", 7, 10, 1, 50, 7},
		{"above max", 500, 10, 1, 50, 50},
		{"below min", 2, 10, 5, 50, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampLimit(tt.limit, tt.def, tt.lo, tt.hi))
		})
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("short", 10))
	assert.Equal(t, "héllo...", snippet("héllo world", 5))
}
