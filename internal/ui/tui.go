package ui

import (
	"context"
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

// quitGrace bounds how long Stop waits for the bubbletea loop to
// drain after Quit before giving up.
const quitGrace = 2 * time.Second

// minPanelWidth keeps the layout readable on narrow terminals.
const minPanelWidth = 40

// TUIRenderer drives a full-screen bubbletea view of a prepare run.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer builds the renderer, refusing non-TTY outputs so
// callers can fall back to the plain renderer.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.Namespace)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the bubbletea program in the background.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
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

// UpdateProgress feeds the tracker and nudges the view.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError records a document failure for the footer counters.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete switches the view to the summary panel.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop quits the program, waiting at most quitGrace so Ctrl+C never
// leaves the process hanging on an unresponsive terminal.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program == nil {
		return nil
	}

	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(quitGrace):
	}
	return nil
}

type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type refreshMsg time.Time

// pipelineStages is the stage row shown in the header, in execution
// order. StageComplete is represented by the summary panel instead.
var pipelineStages = []struct {
	stage Stage
	label string
}{
	{StageScanning, "Scan"},
	{StageChunking, "Chunk"},
	{StageEmbedding, "Embed"},
	{StageIndexing, "Index"},
}

// indexingModel is the bubbletea model behind the prepare view.
type indexingModel struct {
	tracker     *ProgressTracker
	width       int
	height      int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	namespace   string
}

func newIndexingModel(tracker *ProgressTracker, ns string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	// Solid fill, no gradient, percentage rendered separately.
	bar := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexingModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: bar,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		namespace:   ns,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, scheduleRefresh())
}

// scheduleRefresh re-renders every 100ms so speed and ETA stay live
// between progress events.
func scheduleRefresh() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s := msg.String(); s == "ctrl+c" || s == "q" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = max(msg.Width-20, 20)

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case refreshMsg:
		return m, scheduleRefresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressUpdateMsg, errorMsg:
		// State already lives in the tracker; the next refresh picks
		// it up.
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := m.contentWidth()
	stats := m.tracker.Stats()
	divider := m.styles.Border.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderPipeline(stats.Stage),
		divider,
		m.renderActivity(stats),
		divider,
		m.renderThroughput(width),
	}
	if stats.CurrentFile != "" {
		sections = append(sections, divider,
			m.styles.Dim.Render(truncateFilePath(stats.CurrentFile, width-2)))
	}

	title := "docrag prepare"
	if m.namespace != "" {
		title = fmt.Sprintf("docrag prepare • %s", m.namespace)
	}
	panel := m.framed(title, strings.Join(sections, "\n"), width)

	return panel + "\n" + m.renderFooter(stats)
}

func (m *indexingModel) contentWidth() int {
	return max(m.width-4, minPanelWidth)
}

// renderPipeline draws the stage row: done stages get a filled dot,
// the active one the spinner, pending ones a hollow dot.
func (m *indexingModel) renderPipeline(current Stage) string {
	parts := make([]string, 0, len(pipelineStages))
	for _, s := range pipelineStages {
		glyph, style := m.stageGlyph(s.stage, current)
		parts = append(parts, style.Render(glyph+" "+s.label))
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexingModel) stageGlyph(s, current Stage) (string, lipgloss.Style) {
	switch {
	case s < current:
		return "●", m.styles.Success
	case s == current:
		return m.spinner.View(), m.styles.Active
	default:
		return "○", m.styles.Dim
	}
}

// renderActivity combines the progress bar, counters, speed and ETA
// into the central block of the panel.
func (m *indexingModel) renderActivity(stats ProgressStats) string {
	var b strings.Builder

	if stats.Total == 0 {
		fmt.Fprintf(&b, "%s %s...\n%s",
			m.spinner.View(), stats.Stage, m.styles.Dim.Render("Preparing..."))
	} else {
		bar := m.progressBar.ViewAs(stats.Progress)
		pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
		counter := m.styles.Label.Render(fmt.Sprintf("%d / %d chunks", stats.Current, stats.Total))
		fmt.Fprintf(&b, "%s  %s\n%s", bar, pct, counter)
	}

	b.WriteByte('\n')
	b.WriteString(m.renderSpeed(stats))
	return b.String()
}

func (m *indexingModel) renderSpeed(stats ProgressStats) string {
	speed := fmt.Sprintf("Speed: %.0f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	parts := []string{m.styles.Speed.Render(speed)}

	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *indexingModel) renderThroughput(width int) string {
	spark := m.tracker.RenderSparkline(max(width-10, 10))
	return m.styles.Sparkline.Render(spark) + " " + m.styles.Dim.Render("throughput ─")
}

// framed puts a title above a rounded-border panel of the given width.
func (m *indexingModel) framed(title, content string, width int) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		box.Render(content),
	)
}

// renderFooter shows warning/error counts, or the quit hint when the
// run is clean.
func (m *indexingModel) renderFooter(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}

	hint := "q to quit"
	if len(parts) == 0 {
		return m.styles.Dim.Render(hint)
	}
	return strings.Join(parts, m.styles.Dim.Render("  │  ")) + m.styles.Dim.Render("  │  "+hint)
}

// renderComplete draws the summary panel shown once indexing ends.
func (m *indexingModel) renderComplete() string {
	rows := []struct {
		label string
		value string
		style lipgloss.Style
	}{
		{"Files:   ", fmt.Sprintf("%d", m.stats.Files), m.styles.Active},
		{"Chunks:  ", fmt.Sprintf("%d", m.stats.Chunks), m.styles.Active},
		{"Duration:", formatDuration(m.stats.Duration), m.styles.Active},
	}
	if speed := m.tracker.SpeedStats(); speed.Avg > 0 {
		rows = append(rows, struct {
			label string
			value string
			style lipgloss.Style
		}{"Avg Speed:", fmt.Sprintf("%.0f chunks/sec", speed.Avg), m.styles.Speed})
	}

	lines := []string{m.styles.Success.Render("✓ Indexing Complete"), ""}
	for _, row := range rows {
		lines = append(lines, m.styles.Label.Render(row.label)+" "+row.style.Render(row.value))
	}

	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(m.contentWidth())

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders a duration the way a progress display reads
// it: seconds under a minute, then "Xm Ys", then "Xh Ym".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	total := int(d.Seconds())

	switch {
	case total < 60:
		return fmt.Sprintf("%ds", total)
	case total < 3600:
		if total%60 == 0 {
			return fmt.Sprintf("%dm", total/60)
		}
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	}
}

// truncateFilePath shortens a path to maxLen runes while keeping the
// filename visible. Leading directories are dropped from the left and
// replaced with "...".
func truncateFilePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}

	slash := strings.LastIndex(path, "/")
	if slash < 0 {
		// A bare name: keep its tail.
		return "..." + path[len(path)-maxLen+3:]
	}

	filename := path[slash+1:]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}

	// Keep as many trailing directories as still fit.
	budget := maxLen - len(filename) - 4
	prefix := path[:slash]
	if len(prefix) <= budget {
		return path
	}
	return "..." + prefix[len(prefix)-budget:] + "/" + filename
}

var _ Renderer = (*TUIRenderer)(nil)
