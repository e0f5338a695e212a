// Package chunk splits document text into ordered, bounded chunks that each
// receive their own embedding.
package chunk

import (
	"context"
	"unicode/utf8"
)

// Chunk size defaults.
const (
	DefaultMaxTokens     = 512 // Good recall for sentence-embedding models
	DefaultOverlapTokens = 64  // ~12.5% overlap for the fixed window
	CharsPerToken        = 4   // Rough approximation: 4 chars = 1 token
)

// Strategy selects how a document is split.
type Strategy string

const (
	// StrategyHeading splits at heading boundaries and packs oversized
	// sections by paragraph.
	StrategyHeading Strategy = "heading"
	// StrategyFixed slides an overlapping window over lines.
	StrategyFixed Strategy = "fixed"
	// StrategySmart splits at headings, then re-splits oversized chunks by
	// paragraph while keeping fenced code blocks whole.
	StrategySmart Strategy = "smart"
)

// Heading is one entry of a document outline.
type Heading struct {
	Level int    // 1-6
	Title string // Without the leading #s
	Line  int    // 1-indexed line of the heading in the text
}

// Input is the text to chunk plus its optional outline.
type Input struct {
	Text string

	// Headings is the document outline. When nil, headings are parsed from
	// ATX markdown lines outside code fences.
	Headings []Heading
}

// Chunk is a bounded span of a document.
type Chunk struct {
	Ordinal    int      // 0-indexed, contiguous within a document
	Content    string   // Trimmed, never empty
	Breadcrumb []string // Ancestor heading titles, outermost first
	StartLine  int      // 1-indexed
	EndLine    int      // Inclusive
}

// Config configures a Chunker.
type Config struct {
	Strategy      Strategy
	MaxTokens     int
	OverlapTokens int
}

// Chunker splits text into chunks.
type Chunker interface {
	Chunk(ctx context.Context, in *Input) ([]*Chunk, error)
}

// EstimateTokens approximates the token count of s as runes / CharsPerToken,
// rounded up. It is not a tokenizer.
func EstimateTokens(s string) int {
	return charsToTokens(utf8.RuneCountInString(s))
}
