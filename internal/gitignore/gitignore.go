// Package gitignore decides which vault paths are left out of the index.
// Rules use gitignore syntax and come from two places: the exclude list in
// the vault config and .gitignore files anywhere in the vault.
//
// One deliberate difference from git: a negated rule can bring back a note
// inside an excluded folder, so "Archive/" followed by "!Archive/Keep/"
// indexes the Keep folder.
package gitignore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Matcher holds compiled rules. Build it fully before sharing it; matching
// is safe from many goroutines, adding rules is not.
type Matcher struct {
	rules []rule
}

type rule struct {
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
	base    string // folder the rule was read from, "" for the vault root
}

// New creates a Matcher with no rules.
func New() *Matcher {
	return &Matcher{}
}

// Compile builds a matcher from root-level patterns such as the vault's
// exclude list.
func Compile(patterns ...string) *Matcher {
	m := New()
	for _, p := range patterns {
		m.Add(p, "")
	}
	return m
}

// Add adds one pattern that applies below base. Blank lines and comments
// are skipped.
func (m *Matcher) Add(line, base string) {
	r, ok := parseRule(line)
	if !ok {
		return
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")
	m.rules = append(m.rules, r)
}

// AddFile reads a .gitignore whose rules apply below base.
func (m *Matcher) AddFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return m.AddReader(f, base)
}

// AddReader reads gitignore lines from r.
func (m *Matcher) AddReader(r io.Reader, base string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.Add(scanner.Text(), base)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return nil
}

// Empty reports whether the matcher has no rules.
func (m *Matcher) Empty() bool {
	return len(m.rules) == 0
}

// Match reports whether a vault-relative path is excluded. A rule that
// matches a parent folder matches everything inside it. The last matching
// rule wins.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.Trim(filepath.ToSlash(path), "/")
	if path == "" || path == "." {
		return false
	}
	excluded := false
	for _, r := range m.rules {
		if r.matches(path, isDir) {
			excluded = !r.negate
		}
	}
	return excluded
}

func (r rule) matches(path string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") {
			return false
		}
		path = path[len(r.base)+1:]
	}

	if r.re.MatchString(path) && (!r.dirOnly || isDir) {
		return true
	}
	// Parent folders are directories, so dir-only rules apply to them too.
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == '/' && r.re.MatchString(path[:i]) {
			return true
		}
	}
	return false
}

// parseRule compiles one gitignore line.
func parseRule(line string) (rule, bool) {
	line = trimTrailingSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	// A slash anywhere but the end ties the pattern to its base folder;
	// otherwise it matches a name at any depth.
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return rule{}, false
	}

	prefix := "^(?:.*/)?"
	if anchored {
		prefix = "^"
	}
	re, err := regexp.Compile(prefix + globToRegex(line) + "$")
	if err != nil {
		return rule{}, false
	}
	r.re = re
	return r, true
}

// trimTrailingSpace drops trailing spaces unless escaped with a backslash.
func trimTrailingSpace(line string) string {
	line = strings.TrimRight(line, "\r")
	for strings.HasSuffix(line, " ") || strings.HasSuffix(line, "\t") {
		if strings.HasSuffix(line, `\ `) {
			return line[:len(line)-2] + " "
		}
		line = line[:len(line)-1]
	}
	return line
}

// globToRegex translates gitignore wildcards. "**/" spans folders, "*" and
// "?" stay within one path segment.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case c == '\\' && i+1 < len(glob):
			i++
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
