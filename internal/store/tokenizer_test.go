package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_SplitsOnWhitespaceAndPunctuation(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:   "whitespace",
			input:  "hello world",
			expect: []string{"hello", "world"},
		},
		{
			name:   "markdown emphasis",
			input:  "**bold** and _italic_",
			expect: []string{"bold", "and", "italic"},
		},
		{
			name:   "wiki link",
			input:  "see [[Project Notes]]",
			expect: []string{"see", "project", "notes"},
		},
		{
			name:   "sentence punctuation",
			input:  "Rust, Go; Zig.",
			expect: []string{"rust", "go", "zig"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Tokenize(tt.input))
		})
	}
}

func TestTokenize_NonASCII(t *testing.T) {
	tokens := Tokenize("Café au lait über Straße")
	assert.Equal(t, []string{"café", "au", "lait", "über", "straße"}, tokens)
}

func TestTokenize_SplitsIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:   "camelCase",
			input:  "getUserById",
			expect: []string{"get", "user", "by", "id"},
		},
		{
			name:   "acronym",
			input:  "parseHTTPRequest",
			expect: []string{"parse", "http", "request"},
		},
		{
			name:   "snake_case",
			input:  "daily_review_template",
			expect: []string{"daily", "review", "template"},
		},
		{
			name:   "double underscore",
			input:  "foo__bar",
			expect: []string{"foo", "bar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Tokenize(tt.input))
		})
	}
}

func TestTokenize_DropsSingleCharacters(t *testing.T) {
	tokens := Tokenize("a plan b 2024 x")
	assert.Equal(t, []string{"plan", "2024"}, tokens)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("  -- ** "))
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{name: "empty string", input: "", expect: []string{}},
		{name: "all lowercase", input: "hello", expect: []string{"hello"}},
		{name: "camelCase", input: "camelCase", expect: []string{"camel", "Case"}},
		{name: "PascalCase", input: "PascalCase", expect: []string{"Pascal", "Case"}},
		{name: "acronym in middle", input: "parseHTTPRequest", expect: []string{"parse", "HTTP", "Request"}},
		{name: "acronym at start", input: "HTTPHandler", expect: []string{"HTTP", "Handler"}},
		{name: "all caps", input: "HTTP", expect: []string{"HTTP"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, SplitCamelCase(tt.input))
		})
	}
}

func TestSplitIdentifier(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitIdentifier("hello"))
	assert.Equal(t, []string{"get", "user"}, SplitIdentifier("get_user"))
	assert.Equal(t, []string{"get", "User", "By", "Id"}, SplitIdentifier("get_UserById"))
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap(DefaultProseStopWords)

	result := FilterStopWords([]string{"the", "garden", "and", "The", "roses"}, stop)

	assert.Equal(t, []string{"garden", "roses"}, result)
}

func TestAnalyze(t *testing.T) {
	tokens := analyze("The quarterly review of the garden project", BuildStopWordMap(DefaultProseStopWords))
	require.NotEmpty(t, tokens)
	assert.Equal(t, []string{"quarterly", "review", "garden", "project"}, tokens)
}

func BenchmarkTokenize(b *testing.B) {
	input := "## Weekly review\nShipped the parseHTTPRequest fix and planned the garden_layout notes."

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Tokenize(input)
	}
}
