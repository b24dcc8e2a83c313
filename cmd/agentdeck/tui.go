package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/appinfo"
	"agentdeck/internal/events"
	"agentdeck/internal/timeline"
)

var panelSpinnerFrames = []string{"|", "/", "-", "\\"}

var (
	styleTitle    = lipgloss.NewStyle().Bold(true)
	styleRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleSelected = lipgloss.NewStyle().Reverse(true)
	styleHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runPanelTUI(app *appState) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("stdout is not a TTY; use the runs/start subcommands instead")
	}

	sub := app.bus.Subscribe(events.RunUpdateChannel)
	defer sub.Cancel()

	model := newPanelModel(app, sub)
	prog := tea.NewProgram(model, tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

type panelModel struct {
	app *appState
	sub *events.Subscription

	width  int
	height int

	runs     []agentproc.Run
	cursor   int
	showDone bool

	viewport     viewport.Model
	selectedID   string
	spinnerFrame int
	notice       string
	noticeAt     time.Time
}

type panelTickMsg struct{}

type panelRunUpdateMsg struct {
	run agentproc.Run
	ok  bool
}

func newPanelModel(app *appState, sub *events.Subscription) panelModel {
	vp := viewport.New(0, 0)
	return panelModel{
		app:      app,
		sub:      sub,
		runs:     app.store.Runs(),
		showDone: true,
		viewport: vp,
	}
}

func panelTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg { return panelTickMsg{} })
}

func waitRunUpdateCmd(sub *events.Subscription) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-sub.C
		if !ok {
			// Subscription cancelled; stop waiting.
			return nil
		}
		run, cast := evt.Data.(agentproc.Run)
		return panelRunUpdateMsg{run: run, ok: cast}
	}
}

func (m panelModel) Init() tea.Cmd {
	return tea.Batch(panelTickCmd(), waitRunUpdateCmd(m.sub))
}

func (m panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = maxInt(msg.Height-m.listHeight()-3, 3)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case panelTickMsg:
		m.spinnerFrame = (m.spinnerFrame + 1) % len(panelSpinnerFrames)
		m.runs = m.app.store.Runs()
		m.clampCursor()
		m.refreshTimeline()
		return m, panelTickCmd()

	case panelRunUpdateMsg:
		if msg.ok {
			m.app.store.ApplyPushUpdate(msg.run)
			m.runs = m.app.store.Runs()
			m.clampCursor()
		}
		return m, waitRunUpdateCmd(m.sub)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m panelModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.refreshTimeline()
	case "down", "j":
		if m.cursor < len(m.visibleRuns())-1 {
			m.cursor++
		}
		m.refreshTimeline()
	case "tab":
		m.showDone = !m.showDone
		m.clampCursor()
		m.refreshTimeline()
	case "r":
		m.app.store.Refresh(true)
		m.runs = m.app.store.Runs()
		m.clampCursor()
		m.setNotice("refreshed")
	case "s":
		if run, ok := m.selectedRun(); ok && agentproc.IsActiveStatus(run.Status) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			stopped := m.app.manager.KillRun(ctx, run.ID)
			cancel()
			if stopped {
				m.setNotice("stopping " + run.ID)
			} else {
				m.setNotice("nothing to stop")
			}
		}
	case "pgup":
		m.viewport.HalfViewUp()
	case "pgdown":
		m.viewport.HalfViewDown()
	}
	return m, nil
}

func (m *panelModel) setNotice(text string) {
	m.notice = text
	m.noticeAt = time.Now()
}

func (m panelModel) visibleRuns() []agentproc.Run {
	if m.showDone {
		return m.runs
	}
	var out []agentproc.Run
	for _, run := range m.runs {
		if agentproc.IsActiveStatus(run.Status) {
			out = append(out, run)
		}
	}
	return out
}

func (m *panelModel) clampCursor() {
	visible := len(m.visibleRuns())
	if m.cursor >= visible {
		m.cursor = visible - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m panelModel) selectedRun() (agentproc.Run, bool) {
	visible := m.visibleRuns()
	if m.cursor < 0 || m.cursor >= len(visible) {
		return agentproc.Run{}, false
	}
	return visible[m.cursor], true
}

// refreshTimeline reparses the selected run's retained output into the
// viewport. The tail sticks to the bottom while the run is live.
func (m *panelModel) refreshTimeline() {
	run, ok := m.selectedRun()
	if !ok {
		m.selectedID = ""
		m.viewport.SetContent("")
		return
	}
	raw := m.app.store.Output(run.ID)
	var lines []string
	for _, msg := range parseStoredOutput(raw) {
		lines = append(lines, renderMessageLine(msg))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if run.ID != m.selectedID || agentproc.IsActiveStatus(run.Status) {
		m.viewport.GotoBottom()
	}
	m.selectedID = run.ID
}

func (m panelModel) listHeight() int {
	h := len(m.visibleRuns())
	if h < 1 {
		h = 1
	}
	if h > 8 {
		h = 8
	}
	return h
}

func (m panelModel) View() string {
	var b strings.Builder

	title := appinfo.Display()
	if errText := m.app.store.LastError(); errText != "" {
		title += "  " + styleError.Render("fetch error: "+errText)
	}
	b.WriteString(styleTitle.Render(title))
	b.WriteString("\n\n")

	visible := m.visibleRuns()
	if len(visible) == 0 {
		b.WriteString(styleDone.Render("no runs"))
		b.WriteString("\n")
	}
	top := 0
	if m.cursor >= m.listHeight() {
		top = m.cursor - m.listHeight() + 1
	}
	for i := top; i < len(visible) && i < top+m.listHeight(); i++ {
		line := m.renderRunRow(visible[i])
		if i == m.cursor {
			line = styleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	help := "q quit  up/down select  s stop  r refresh  tab toggle done"
	if m.notice != "" && time.Since(m.noticeAt) < 3*time.Second {
		help = m.notice
	}
	b.WriteString(styleHelp.Render(help))
	return b.String()
}

func (m panelModel) renderRunRow(run agentproc.Run) string {
	status := run.Status
	style := styleDone
	switch {
	case agentproc.IsActiveStatus(run.Status):
		style = styleRunning
		status = panelSpinnerFrames[m.spinnerFrame] + " " + run.Status
	case run.Status == agentproc.StatusError:
		style = styleError
	}

	elapsed := ""
	if !run.CreatedAt.IsZero() {
		end := run.FinishedAt
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(run.CreatedAt).Round(time.Second).String()
	}

	row := fmt.Sprintf("%-28s %-12s %-10s %6s  %s",
		run.ID, status, run.AgentRef, elapsed, run.Task)
	width := m.width
	if width <= 0 {
		width = 120
	}
	return style.Render(runewidth.Truncate(row, width, "…"))
}

// renderMessageLine is the shared single-line projection used by the panel
// viewport and the --follow printer.
func renderMessageLine(msg timeline.Message) string {
	switch msg.Kind {
	case timeline.KindAssistant:
		if uses := msg.ToolUses(); len(uses) > 0 {
			names := make([]string, 0, len(uses))
			for _, u := range uses {
				names = append(names, u.Name)
			}
			return "assistant: using " + strings.Join(names, ", ")
		}
		return "assistant: " + firstLine(msg.FirstText())
	case timeline.KindUser:
		if results := msg.ToolResults(); len(results) > 0 {
			return fmt.Sprintf("tool: %s", firstLine(results[0].Content))
		}
		return "user: " + firstLine(msg.FirstText())
	case timeline.KindResult:
		marker := "result"
		if msg.IsError {
			marker = "result (error)"
		}
		return fmt.Sprintf("%s: %s [%.0fms, %d tokens]",
			marker, firstLine(msg.FirstText()), float64(msg.DurationMs), msg.Usage.Total())
	case timeline.KindSystem:
		return "system: " + msg.Subtype
	default:
		return "event: " + msg.Kind
	}
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return runewidth.Truncate(text, 100, "…")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
