package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws a live progress panel with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not a
// terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexModel(tracker, cfg.VaultDir, GetStyles(cfg.NoColor || DetectNoColor()))

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)
	r.send(progressMsg(event))
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(errorMsg(event))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop implements Renderer. It waits briefly for the program to exit so
// the final frame is flushed.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()

	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type progressMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// indexModel is the bubbletea model for a corpus run.
type indexModel struct {
	tracker  *ProgressTracker
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
	vaultDir string
}

func newIndexModel(tracker *ProgressTracker, vaultDir string, styles Styles) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Header

	return &indexModel{
		tracker:  tracker,
		spinner:  s,
		bar:      progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(50), progress.WithoutPercentage()),
		styles:   styles,
		width:    80,
		vaultDir: vaultDir,
	}
}

// Init implements tea.Model.
func (m *indexModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, msg.Width-20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	// progressMsg and errorMsg are already applied to the tracker; the
	// next tick redraws.
	return m, nil
}

// View implements tea.Model.
func (m *indexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(40, m.width-4)
	stats := m.tracker.Stats()
	divider := m.styles.Border.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderStages(stats.Stage),
		divider,
		m.renderProgress(stats),
		m.renderSpeed(stats),
		divider,
		m.styles.Sparkline.Render(m.tracker.RenderSparkline(max(10, width-14))) + " " + m.styles.Dim.Render("notes/sec"),
	}
	if stats.Document != "" {
		sections = append(sections, divider, m.styles.Dim.Render(truncatePath(stats.Document, width-2)))
	}

	title := "vaultrag indexer"
	if m.vaultDir != "" {
		title += " • " + m.vaultDir
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
	) + "\n" + m.renderStatusBar(stats)
}

func (m *indexModel) renderStages(current Stage) string {
	parts := make([]string, 0, 3)
	for _, st := range []Stage{StageScanning, StageIndexing, StagePruning} {
		switch {
		case st < current:
			parts = append(parts, m.styles.Success.Render("● "+st.String()))
		case st == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+st.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+st.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexModel) renderProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage)
	}
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d notes", stats.Current, stats.Total))
	return fmt.Sprintf("%s  %s\n%s", m.bar.ViewAs(stats.Progress), pct, count)
}

func (m *indexModel) renderSpeed(stats ProgressStats) string {
	line := fmt.Sprintf("Speed: %.1f notes/s", stats.Speed)
	if stats.AvgSpeed > 0 {
		line += fmt.Sprintf(" (avg %.1f)", stats.AvgSpeed)
	}
	if stats.ETA > 0 {
		line += "  •  ETA: " + formatDuration(stats.ETA)
	}
	return m.styles.Label.Render(line)
}

func (m *indexModel) renderStatusBar(stats ProgressStats) string {
	var parts []string
	if stats.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.Warnings)))
	}
	if stats.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", stats.Errors)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *indexModel) renderComplete() string {
	label := m.styles.Label.Render
	value := func(format string, a ...any) string { return m.styles.Active.Render(fmt.Sprintf(format, a...)) }

	lines := []string{
		m.styles.Success.Render("✓ Indexing complete"),
		"",
		label("Notes:    ") + value("%d", m.stats.Notes),
		label("Indexed:  ") + value("%d", m.stats.Indexed),
		label("Unchanged:") + value(" %d", m.stats.Skipped),
		label("Chunks:   ") + value("%d", m.stats.Chunks),
		label("Duration: ") + value("%s", formatDuration(m.stats.Duration)),
	}
	if m.stats.Pruned > 0 {
		lines = append(lines, label("Pruned:   ")+value("%d", m.stats.Pruned))
	}
	if m.stats.Failed > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d notes failed", m.stats.Failed)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(40, m.width-4))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats d as "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncatePath shortens a vault path to maxLen runes, keeping the note
// name and as much of its folder as fits.
func truncatePath(p string, maxLen int) string {
	runes := []rune(p)
	if len(runes) <= maxLen {
		return p
	}
	if maxLen <= 3 {
		return "..."
	}

	name := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		name = p[i+1:]
	}
	nameRunes := []rune(name)
	if len(nameRunes)+4 > maxLen {
		return "..." + string(nameRunes[len(nameRunes)-(maxLen-3):])
	}
	return "..." + string(runes[len(runes)-(maxLen-3):])
}

var _ Renderer = (*TUIRenderer)(nil)
