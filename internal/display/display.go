// Package display renders the dictation status overlay using Bubble
// Tea. It implements domain.Notifier directly: the Session
// Orchestrator calls its methods from arbitrary goroutines, and each
// call is funneled into the Bubble Tea event loop via Program.Send so
// the model itself is never touched outside Update.
package display

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

var (
	barBg = lipgloss.NewStyle().
		Background(lipgloss.Color("#27272a")).
		Foreground(lipgloss.Color("#a1a1aa"))

	statusListening  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fde68a")).Bold(true)
	statusProcessing = lipgloss.NewStyle().Foreground(lipgloss.Color("#93c5fd")).Bold(true)
	statusIdle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#71717a"))
	statusError      = lipgloss.NewStyle().Foreground(lipgloss.Color("#fca5a5")).Bold(true)

	// BannerStyle is used by RenderBanner (banner.go).
	BannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))

	levelFillStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80"))
	levelEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3f3f46"))

	transcriptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#d4d4d8"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#71717a"))

	progressFillStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#bae6fd"))
	progressEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3f3f46"))
)

// Overlay is the dictation status window (§4.G step 2: "show the
// overlay status window"). It satisfies domain.Notifier; construct with
// New, call Run (blocking) on its own goroutine, Quit to tear down.
type Overlay struct {
	program *tea.Program
	done    atomic.Bool
	readyCh chan struct{}
	quitCh  chan struct{}
}

// New creates the overlay. Call Run to start the Bubble Tea program.
func New() *Overlay {
	return &Overlay{
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// Run starts the Bubble Tea event loop. Blocks until Quit is called or
// the program exits on its own (e.g. ctrl+c).
func (o *Overlay) Run() error {
	p := tea.NewProgram(newModel(), tea.WithAltScreen())
	o.program = p
	close(o.readyCh)
	_, err := p.Run()
	o.done.Store(true)
	close(o.quitCh)
	return err
}

// WaitReady blocks until the underlying Program has been constructed.
func (o *Overlay) WaitReady() { <-o.readyCh }

// QuitChan signals when Run has returned.
func (o *Overlay) QuitChan() <-chan struct{} { return o.quitCh }

// Quit tears down the overlay.
func (o *Overlay) Quit() {
	if o.program != nil && !o.done.Load() {
		o.program.Quit()
	}
}

func (o *Overlay) send(msg tea.Msg) {
	if o.program != nil && !o.done.Load() {
		o.program.Send(msg)
	}
}

// StatusChanged implements domain.Notifier.
func (o *Overlay) StatusChanged(_ context.Context, status, errMsg string) {
	o.send(statusMsg{status: status, errMsg: errMsg})
}

// TranscriptionResult implements domain.Notifier.
func (o *Overlay) TranscriptionResult(_ context.Context, text, language string, confidence *float32, isFinal bool) {
	o.send(transcriptMsg{text: text, language: language, confidence: confidence, isFinal: isFinal})
}

// AudioLevel implements domain.Notifier.
func (o *Overlay) AudioLevel(_ context.Context, level float64) {
	o.send(levelMsg{level: level})
}

// HotkeyHold implements domain.Notifier.
func (o *Overlay) HotkeyHold(_ context.Context, held bool) {
	o.send(holdMsg{held: held})
}

// ModelDownloadProgress implements domain.Notifier.
func (o *Overlay) ModelDownloadProgress(_ context.Context, ev domain.ModelDownloadEvent) {
	o.send(downloadMsg{event: ev})
}

// AnalyticsUpdate implements domain.Notifier.
func (o *Overlay) AnalyticsUpdate(_ context.Context, durationSeconds float64, wordCount int) {
	o.send(analyticsMsg{durationSeconds: durationSeconds, wordCount: wordCount})
}

// ── Bubble Tea model ─────────────────────────────────────────────

type statusMsg struct {
	status string
	errMsg string
}

type transcriptMsg struct {
	text       string
	language   string
	confidence *float32
	isFinal    bool
}

type levelMsg struct{ level float64 }

type holdMsg struct{ held bool }

type downloadMsg struct{ event domain.ModelDownloadEvent }

type analyticsMsg struct {
	durationSeconds float64
	wordCount       int
}

type tickMsg time.Time

type model struct {
	width, height int

	status     string
	errMsg     string
	level      float64
	hotkeyHeld bool

	lastTranscript string
	lastFinal      bool

	downloadModel   string
	downloadPercent float64
	downloadStage   string

	cumulativeSeconds float64
	cumulativeWords   int64
}

func newModel() model {
	return model{status: "idle"}
}

func (m model) Init() tea.Cmd { return tickCmd() }

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
	case statusMsg:
		m.status = v.status
		m.errMsg = v.errMsg
	case transcriptMsg:
		m.lastTranscript = v.text
		m.lastFinal = v.isFinal
	case levelMsg:
		m.level = v.level
	case holdMsg:
		m.hotkeyHeld = v.held
	case downloadMsg:
		m.downloadModel = v.event.Model
		m.downloadStage = v.event.Stage
		m.downloadPercent = v.event.Percent
	case analyticsMsg:
		m.cumulativeSeconds += v.durationSeconds
		m.cumulativeWords += int64(v.wordCount)
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.renderStatusBar())
	b.WriteByte('\n')
	if m.lastTranscript != "" {
		prefix := "…"
		if m.lastFinal {
			prefix = "✓"
		}
		b.WriteString(transcriptStyle.Render("  " + prefix + " " + m.lastTranscript))
		b.WriteByte('\n')
	}
	if m.downloadModel != "" && m.downloadStage != "ready" {
		b.WriteString(m.renderDownloadBar())
		b.WriteByte('\n')
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s spoken, %d words — press q to quit", fmtDuration(time.Duration(m.cumulativeSeconds*float64(time.Second))), m.cumulativeWords)))
	return b.String()
}

func (m model) renderStatusBar() string {
	style := statusIdle
	switch m.status {
	case "listening":
		style = statusListening
	case "processing":
		style = statusProcessing
	case "error":
		style = statusError
	}

	label := style.Render(strings.ToUpper(m.status))
	if m.status == "error" && m.errMsg != "" {
		label += dimStyle.Render(": " + m.errMsg)
	}

	meter := m.renderLevelMeter(20)
	line := fmt.Sprintf(" %s  %s ", label, meter)
	if m.width > 0 {
		return barBg.Width(m.width).Render(line)
	}
	return barBg.Render(line)
}

func (m model) renderLevelMeter(width int) string {
	filled := int(m.level / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return levelFillStyle.Render(strings.Repeat("▮", filled)) + levelEmptyStyle.Render(strings.Repeat("▯", width-filled))
}

func (m model) renderDownloadBar() string {
	const width = 30
	filled := int(m.downloadPercent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	bar := progressFillStyle.Render(strings.Repeat("█", filled)) + progressEmptyStyle.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("  %s %s %.0f%%", m.downloadModel, bar, m.downloadPercent)
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	mn := d / time.Minute
	d -= mn * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, mn, s)
	}
	if mn > 0 {
		return fmt.Sprintf("%dm%02ds", mn, s)
	}
	return fmt.Sprintf("%ds", s)
}
