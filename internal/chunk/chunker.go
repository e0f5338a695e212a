package chunk

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MarkdownChunker implements Chunker for markdown-like prose.
// It is stateless and safe for concurrent use.
type MarkdownChunker struct {
	cfg Config
}

// New creates a chunker. Zero sizes take the package defaults.
func New(cfg Config) (*MarkdownChunker, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySmart
	}
	switch cfg.Strategy {
	case StrategyHeading, StrategyFixed, StrategySmart:
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", cfg.Strategy)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = cfg.MaxTokens / 2
	}
	return &MarkdownChunker{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (c *MarkdownChunker) Config() Config {
	return c.cfg
}

// Chunk splits in according to the configured strategy. Documents without
// headings always use the fixed window.
func (c *MarkdownChunker) Chunk(ctx context.Context, in *Input) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in == nil || strings.TrimSpace(in.Text) == "" {
		return nil, nil
	}

	doc := newDocument(in)

	var pieces []*Chunk
	switch {
	case len(doc.headings) == 0 || c.cfg.Strategy == StrategyFixed:
		pieces = c.fixed(doc)
	case c.cfg.Strategy == StrategyHeading:
		pieces = c.byHeading(doc, c.cfg.MaxTokens, false)
	default:
		pieces = c.smart(doc)
	}

	for i, p := range pieces {
		p.Ordinal = i
	}
	return pieces, nil
}

// document is the line view of an Input shared by all strategies.
type document struct {
	lines    []string
	body     int // index of the first line after frontmatter
	headings []Heading
}

func newDocument(in *Input) *document {
	text := strings.ReplaceAll(in.Text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	body := frontmatterEnd(lines)

	headings := in.Headings
	if headings == nil {
		headings = ParseHeadings(text)
	}

	valid := make([]Heading, 0, len(headings))
	for _, h := range headings {
		if h.Line > body && h.Line <= len(lines) && h.Level >= 1 {
			valid = append(valid, h)
		}
	}
	return &document{lines: lines, body: body, headings: valid}
}

// piece builds a chunk from lines[from:to) with surrounding blank lines
// trimmed. Returns nil when nothing but whitespace remains.
func (d *document) piece(from, to int, crumb []string) *Chunk {
	for from < to && strings.TrimSpace(d.lines[from]) == "" {
		from++
	}
	for to > from && strings.TrimSpace(d.lines[to-1]) == "" {
		to--
	}
	if from >= to {
		return nil
	}
	return &Chunk{
		Content:    strings.Join(d.lines[from:to], "\n"),
		Breadcrumb: append([]string(nil), crumb...),
		StartLine:  from + 1,
		EndLine:    to,
	}
}

// chars counts line i plus its newline.
func (d *document) chars(i int) int {
	return utf8.RuneCountInString(d.lines[i]) + 1
}

// tokens estimates the size of lines[from:to).
func (d *document) tokens(from, to int) int {
	n := 0
	for i := from; i < to; i++ {
		n += d.chars(i)
	}
	return charsToTokens(n)
}

func charsToTokens(n int) int {
	return (n + CharsPerToken - 1) / CharsPerToken
}

// frontmatterEnd returns the index of the first line after a leading YAML
// frontmatter block, or 0 when there is none.
func frontmatterEnd(lines []string) int {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return 0
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return i + 1
		}
	}
	return 0
}
