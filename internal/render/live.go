package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/game"
)

// refreshInterval keeps elapsed timers moving between updates.
const refreshInterval = 200 * time.Millisecond

// Color scheme and styles
var (
	accentColor  = lipgloss.Color("#FFFAFA")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	infoColor    = lipgloss.Color("#3B82F6")
	launchColor  = lipgloss.Color("#06B6D4")
	mutedColor   = lipgloss.Color("#6B7280")

	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Align(lipgloss.Center)
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warningColor)
)

var statusStyles = map[schemas.ServerStatus]struct {
	label string
	style lipgloss.Style
}{
	schemas.StatusQueued:    {"⏳ Queued", lipgloss.NewStyle().Foreground(warningColor)},
	schemas.StatusLaunching: {"◌ Launching", lipgloss.NewStyle().Foreground(launchColor)},
	schemas.StatusRunning:   {"● Running", lipgloss.NewStyle().Foreground(infoColor)},
	schemas.StatusCompleted: {"✔ Completed", lipgloss.NewStyle().Foreground(successColor)},
	schemas.StatusFailed:    {"✖ Failed", lipgloss.NewStyle().Foreground(errorColor)},
	schemas.StatusStopped:   {"■ Stopped", mutedStyle},
}

// Live draws a dashboard with bubbletea. Updates from any goroutine are folded
// into the shared state and the program repaints on its own schedule.
type Live struct {
	st     *state
	out    io.Writer
	in     io.Reader
	opts   Options
	logger *zap.Logger
	prompt *Plain

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

var _ schemas.Renderer = (*Live)(nil)

// NewLive creates a live renderer. Nothing is drawn until Start.
func NewLive(out io.Writer, in io.Reader, opts Options) *Live {
	return &Live{
		st:     newState(opts.Now),
		out:    out,
		in:     in,
		opts:   opts,
		logger: opts.logger(),
		prompt: NewPlain(out, in, Options{Color: true, Interactive: opts.Interactive}),
	}
}

type refreshMsg struct{}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Start implements schemas.Renderer.
func (l *Live) Start(info schemas.RunInfo) error {
	l.st.start(info)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.program != nil {
		return nil
	}
	l.program = tea.NewProgram(
		newModel(l.st, l.opts.OnInterrupt),
		tea.WithOutput(l.out),
		tea.WithInput(l.in),
	)
	l.done = make(chan struct{})
	go func(p *tea.Program, done chan struct{}) {
		defer close(done)
		if _, err := p.Run(); err != nil {
			l.logger.Warn("Live view stopped with error", zap.Error(err))
		}
	}(l.program, l.done)
	return nil
}

// Stop implements schemas.Renderer. It draws the final frame and restores the terminal.
func (l *Live) Stop() {
	l.mu.Lock()
	p, done := l.program, l.done
	l.program = nil
	l.mu.Unlock()
	if p == nil {
		return
	}
	p.Send(refreshMsg{})
	p.Quit()
	<-done
}

func (l *Live) refresh() {
	l.mu.Lock()
	p := l.program
	l.mu.Unlock()
	if p != nil {
		p.Send(refreshMsg{})
	}
}

// Event implements schemas.Renderer.
func (l *Live) Event(msg string) {
	l.st.addEvent(msg, false)
	l.logger.Debug(msg)
	l.refresh()
}

// Warn implements schemas.Renderer.
func (l *Live) Warn(msg string) {
	l.st.addEvent(msg, true)
	l.logger.Debug(msg, zap.Bool("warning", true))
	l.refresh()
}

// SetServerStatus implements schemas.Renderer.
func (l *Live) SetServerStatus(id schemas.GameID, status schemas.ServerStatus) {
	l.st.setStatus(id, status)
	l.refresh()
}

// SetSessionInfo implements schemas.Renderer.
func (l *Live) SetSessionInfo(sessionID, submissionID string) {
	l.st.setSession(sessionID, submissionID)
	l.refresh()
}

// StartGameTimer implements schemas.Renderer.
func (l *Live) StartGameTimer(id schemas.GameID) {
	l.st.startTimer(id)
	l.refresh()
}

// UpdateGameProgress implements schemas.Renderer.
func (l *Live) UpdateGameProgress(id schemas.GameID, score float64) {
	l.st.progress(id, score)
	l.refresh()
}

// CompleteGame implements schemas.Renderer.
func (l *Live) CompleteGame(id schemas.GameID, avgScore float64) {
	l.st.completeGame(id, avgScore)
	l.refresh()
}

// Confirm implements schemas.Renderer. The dashboard releases the terminal while
// the question is asked.
func (l *Live) Confirm(question string, def bool) bool {
	l.mu.Lock()
	p := l.program
	l.mu.Unlock()
	if p != nil {
		if err := p.ReleaseTerminal(); err != nil {
			l.logger.Warn("Failed to release terminal", zap.Error(err))
			return def
		}
		defer func() {
			if err := p.RestoreTerminal(); err != nil {
				l.logger.Warn("Failed to restore terminal", zap.Error(err))
			}
		}()
	}
	return l.prompt.Confirm(question, def)
}

// ShowFinalSummary implements schemas.Renderer.
func (l *Live) ShowFinalSummary(total float64) {
	l.st.setTotal(total)
	l.CompleteEvaluation(true)
}

// CompleteEvaluation implements schemas.Renderer.
func (l *Live) CompleteEvaluation(success bool) {
	l.st.completeEvaluation(success)
	l.refresh()
}

// -- bubbletea model --

type model struct {
	st          *state
	width       int
	height      int
	onInterrupt func()
	interrupted bool
}

func newModel(st *state, onInterrupt func()) model {
	return model{st: st, width: 80, height: 30, onInterrupt: onInterrupt}
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.onInterrupt == nil || m.interrupted {
				return m, tea.Quit
			}
			// The runner cancels the games and stops the view once they unwind.
			m.interrupted = true
			m.onInterrupt()
			m.st.addEvent("Interrupted, stopping games (press ctrl+c again to force quit)", true)
		}
	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	return renderDashboard(m.st.snapshot(), m.width, m.height)
}

func renderDashboard(snap snapshot, width, height int) string {
	if width < 40 {
		width = 40
	}
	inner := width - 2

	banner := bannerStyle.Width(inner).Render("Orak Evaluation")

	var cfg strings.Builder
	mode := lipgloss.NewStyle().Bold(true).Foreground(launchColor).Render("Remote")
	if snap.Info.Local {
		mode = lipgloss.NewStyle().Bold(true).Foreground(warningColor).Render("LOCAL")
	}
	fmt.Fprintf(&cfg, "%s %s\n", keyStyle.Render("Mode:          "), mode)
	fmt.Fprintf(&cfg, "%s %s", keyStyle.Render("Game Data Path:"), orNA(snap.Info.GameDataPath))
	if !snap.Info.Local {
		fmt.Fprintf(&cfg, "\n%s %s", keyStyle.Render("Submission #:  "), orNA(snap.Info.SubmissionID))
		fmt.Fprintf(&cfg, "\n%s %s", keyStyle.Render("Session #:     "), orNA(snap.Info.SessionID))
	}
	config := panelStyle.Width(inner).Render(titleStyle.Render("Game Config") + "\n" + cfg.String())

	table := renderTable(snap)

	used := lipgloss.Height(banner) + lipgloss.Height(config) + lipgloss.Height(table) + 4
	eventsPanel := panelStyle.Width(inner).Render(renderEvents(snap.Events, max(height-used, 3)))

	return lipgloss.JoinVertical(lipgloss.Left, banner, config, "", table, "", eventsPanel)
}

func renderTable(snap snapshot) string {
	var b strings.Builder
	row := func(name, status, score, elapsed string) {
		fmt.Fprintf(&b, " %-16s %-14s %10s %10s\n", name, status, score, elapsed)
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf(" %-16s %-14s %10s %10s", "Game", "Status", "Score", "Elapsed")))
	b.WriteString("\n")
	for _, g := range snap.Games {
		st, ok := statusStyles[g.Status]
		label := string(g.Status)
		if ok {
			label = st.label
		}
		// Pad before styling so ANSI codes do not break alignment.
		padded := fmt.Sprintf("%-14s", label)
		if ok {
			padded = st.style.Render(padded)
		}
		row(game.DisplayName(g.ID), padded, formatScore(g.Score), elapsedOrDash(g))
	}
	if snap.HasTotal {
		b.WriteString(titleStyle.Render(fmt.Sprintf(" %-16s %-14s %10s", "TOTAL", "", formatScore(snap.Total))))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderEvents lists the newest events first.
func renderEvents(events []event, lines int) string {
	title := titleStyle.Render("Events")
	if len(events) == 0 {
		return title + "\n" + mutedStyle.Render("No events")
	}
	var out []string
	for i := len(events) - 1; i >= 0 && len(out) < lines; i-- {
		e := events[i]
		msg := e.Msg
		if e.Warn {
			msg = warnStyle.Render("⚠ " + msg)
		}
		out = append(out, mutedStyle.Render(e.At.Format("15:04:05"))+" "+msg)
	}
	return title + "\n" + strings.Join(out, "\n")
}
