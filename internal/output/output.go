// Package output formats CLI messages and search hits.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Writer writes status lines and search hits to a terminal or pipe.
// Write errors are ignored; this is console output.
type Writer struct {
	out   io.Writer
	title lipgloss.Style
	score lipgloss.Style
	dim   lipgloss.Style
}

// New creates a Writer. Color is used only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	plain := lipgloss.NewStyle()
	w := &Writer{out: out, title: plain, score: plain, dim: plain}
	if useColor(out) {
		w.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141"))
		w.score = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
		w.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	}
	return w
}

func useColor(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// Status prints msg after icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Hit prints one ranked search hit: a title line with the score, an
// optional dim detail line, then the indented snippet.
func (w *Writer) Hit(rank int, title string, score float64, detail, snippet string) {
	_, _ = fmt.Fprintf(w.out, "%d. %s %s\n", rank, w.title.Render(title), w.score.Render(fmt.Sprintf("(%.2f)", score)))
	if detail != "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", w.dim.Render(detail))
	}
	w.Code(snippet)
}

// Code prints content indented by two spaces, framed by blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Snippet collapses whitespace in s and truncates it to maxRunes.
func Snippet(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(r[:maxRunes])) + "..."
}
