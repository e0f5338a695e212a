package chunk

import (
	"math"
	"regexp"
	"strings"
)

// Matches ATX headings: "## Title", optionally closed by trailing #s.
var headingPattern = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)(?:[ \t]+#+)?[ \t]*$`)

// ParseHeadings extracts the ATX heading outline of a markdown text,
// ignoring frontmatter and lines inside fenced code blocks.
func ParseHeadings(text string) []Heading {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var headings []Heading
	inFence := false
	for i := frontmatterEnd(lines); i < len(lines); i++ {
		line := lines[i]
		if isFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			headings = append(headings, Heading{
				Level: len(m[1]),
				Title: strings.TrimSpace(m[2]),
				Line:  i + 1,
			})
		}
	}
	return headings
}

func isFence(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// section is a line range [from, to) owned by one heading.
type section struct {
	from, to   int
	breadcrumb []string
	headed     bool
}

// sections cuts the document at heading lines. The breadcrumb stack is
// truncated to level-1 before each heading is pushed, so a level-2 heading
// replaces the previous level-2 and deeper entries only. Sections with
// nothing below their heading line are dropped.
func (d *document) sections() []section {
	var out []section

	first := d.headings[0].Line - 1
	if first > d.body {
		out = append(out, section{from: d.body, to: first})
	}

	var stack []string
	for i, h := range d.headings {
		if len(stack) > h.Level-1 {
			stack = stack[:h.Level-1]
		}
		stack = append(stack, h.Title)

		from := h.Line - 1
		to := len(d.lines)
		if i+1 < len(d.headings) {
			to = d.headings[i+1].Line - 1
		}
		if !d.hasContent(from+1, to) {
			continue
		}
		out = append(out, section{
			from:       from,
			to:         to,
			breadcrumb: append([]string(nil), stack...),
			headed:     true,
		})
	}
	return out
}

func (d *document) hasContent(from, to int) bool {
	for i := from; i < to; i++ {
		if strings.TrimSpace(d.lines[i]) != "" {
			return true
		}
	}
	return false
}

// breadcrumbAt returns the heading stack in effect at line index i.
func (d *document) breadcrumbAt(i int) []string {
	var stack []string
	for _, h := range d.headings {
		if h.Line-1 > i {
			break
		}
		if len(stack) > h.Level-1 {
			stack = stack[:h.Level-1]
		}
		stack = append(stack, h.Title)
	}
	return stack
}

// byHeading emits one chunk per section, packing sections larger than
// maxTokens by paragraph.
func (c *MarkdownChunker) byHeading(d *document, maxTokens int, fenceAware bool) []*Chunk {
	var out []*Chunk
	for _, s := range d.sections() {
		if d.tokens(s.from, s.to) <= maxTokens {
			if p := d.piece(s.from, s.to, s.breadcrumb); p != nil {
				out = append(out, p)
			}
			continue
		}
		out = append(out, d.pack(s, maxTokens, fenceAware)...)
	}
	return out
}

// smart runs the heading pass without a size bound, then re-splits every
// chunk that exceeds the budget with fence-aware paragraphs.
func (c *MarkdownChunker) smart(d *document) []*Chunk {
	var out []*Chunk
	for _, ch := range c.byHeading(d, math.MaxInt, true) {
		if EstimateTokens(ch.Content) <= c.cfg.MaxTokens {
			out = append(out, ch)
			continue
		}
		s := section{
			from:       ch.StartLine - 1,
			to:         ch.EndLine,
			breadcrumb: ch.Breadcrumb,
			headed:     headingPattern.MatchString(d.lines[ch.StartLine-1]),
		}
		out = append(out, d.pack(s, c.cfg.MaxTokens, true)...)
	}
	return out
}

// pack greedily groups the paragraphs of s into chunks of at most maxTokens.
// A paragraph that alone exceeds the budget becomes one oversized chunk.
func (d *document) pack(s section, maxTokens int, fenceAware bool) []*Chunk {
	paras := d.paragraphs(s.from, s.to, fenceAware)

	// Keep a bare heading line attached to the paragraph after it.
	if s.headed && len(paras) > 1 && paras[0][0] == s.from && paras[0][1] == s.from+1 {
		paras[1][0] = s.from
		paras = paras[1:]
	}

	var out []*Chunk
	cur := -1
	end := 0
	for _, p := range paras {
		if cur >= 0 && d.tokens(cur, p[1]) > maxTokens {
			if ch := d.piece(cur, end, s.breadcrumb); ch != nil {
				out = append(out, ch)
			}
			cur = -1
		}
		if cur < 0 {
			cur = p[0]
		}
		end = p[1]
	}
	if cur >= 0 {
		if ch := d.piece(cur, end, s.breadcrumb); ch != nil {
			out = append(out, ch)
		}
	}
	return out
}

// paragraphs returns blank-line separated line ranges within [from, to).
// With fenceAware, blank lines inside ``` or ~~~ fences do not split.
func (d *document) paragraphs(from, to int, fenceAware bool) [][2]int {
	var out [][2]int
	start := -1
	inFence := false
	for i := from; i < to; i++ {
		line := d.lines[i]
		if fenceAware && isFence(line) {
			inFence = !inFence
		}
		if strings.TrimSpace(line) == "" && !inFence {
			if start >= 0 {
				out = append(out, [2]int{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, to})
	}
	return out
}
