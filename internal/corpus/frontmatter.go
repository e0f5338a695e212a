package corpus

import (
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/vaultrag/internal/chunk"
)

// inlineTagPattern matches #tag and #nested/tag preceded by start of line
// or whitespace. Heading markers ("# Title") have a space and never match.
var inlineTagPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_][\p{L}\p{N}_/-]*)`)

// frontmatter is the subset of note frontmatter we read.
type frontmatter struct {
	Tags any `yaml:"tags"`
	Tag  any `yaml:"tag"`
}

// ParseOutline extracts headings and tags from note text. Tags come from
// the frontmatter "tags"/"tag" keys and from inline #tags outside code;
// they are deduplicated, stripped of '#', and sorted.
func ParseOutline(text string) *Outline {
	fm, body := splitFrontmatter(text)

	tags := make(map[string]struct{})
	if fm != "" {
		var meta frontmatter
		// Malformed frontmatter is treated as absent.
		if err := yaml.Unmarshal([]byte(fm), &meta); err == nil {
			addTags(tags, meta.Tags)
			addTags(tags, meta.Tag)
		}
	}
	for _, t := range inlineTags(body) {
		tags[t] = struct{}{}
	}

	list := make([]string, 0, len(tags))
	for t := range tags {
		list = append(list, t)
	}
	sort.Strings(list)

	return &Outline{
		Headings: chunk.ParseHeadings(text),
		Tags:     list,
	}
}

// splitFrontmatter returns the YAML between leading "---" fences and the
// remaining body. Without frontmatter the whole text is the body.
func splitFrontmatter(text string) (fm, body string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", text
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	return "", text
}

// addTags accepts a YAML list or a comma/space separated string.
func addTags(dst map[string]struct{}, v any) {
	switch t := v.(type) {
	case string:
		for _, f := range strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' }) {
			addTag(dst, f)
		}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				addTag(dst, s)
			}
		}
	}
}

func addTag(dst map[string]struct{}, tag string) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
	if tag != "" {
		dst[tag] = struct{}{}
	}
}

// inlineTags finds #tags outside fenced code blocks and inline code spans.
func inlineTags(body string) []string {
	var out []string
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range inlineTagPattern.FindAllStringSubmatch(stripCodeSpans(line), -1) {
			// "#42" is an issue reference, not a tag.
			if tag := strings.TrimSuffix(m[1], "/"); !allDigits(tag) {
				out = append(out, tag)
			}
		}
	}
	return out
}

func stripCodeSpans(line string) string {
	if !strings.Contains(line, "`") {
		return line
	}
	var b strings.Builder
	inCode := false
	for _, r := range line {
		if r == '`' {
			inCode = !inCode
			continue
		}
		if !inCode {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
