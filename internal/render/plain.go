package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/game"
)

// Plain prints one line per event. It is used for CI logs and whenever the live
// view is disabled.
type Plain struct {
	st     *state
	out    io.Writer
	in     *bufio.Reader
	logger *zap.Logger

	mu           sync.Mutex
	colorEnabled bool
	interactive  bool
}

var _ schemas.Renderer = (*Plain)(nil)

// NewPlain creates a plain renderer. When interactive is false, Confirm returns
// its default without reading input.
func NewPlain(out io.Writer, in io.Reader, opts Options) *Plain {
	p := &Plain{
		st:           newState(opts.Now),
		out:          out,
		logger:       opts.logger(),
		colorEnabled: opts.Color,
		interactive:  opts.Interactive && in != nil,
	}
	if in != nil {
		p.in = bufio.NewReader(in)
	}
	return p
}

func (p *Plain) colorize(text string, attributes ...color.Attribute) string {
	if !p.colorEnabled {
		return text
	}
	c := color.New(attributes...)
	c.EnableColor()
	return c.Sprint(text)
}

func (p *Plain) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func (p *Plain) stamp(e event) string {
	return p.colorize(e.At.Format("15:04:05"), color.Faint)
}

// Start implements schemas.Renderer.
func (p *Plain) Start(info schemas.RunInfo) error {
	p.st.start(info)
	mode := p.colorize("Remote", color.FgCyan, color.Bold)
	if info.Local {
		mode = p.colorize("LOCAL", color.FgYellow, color.Bold)
	}
	p.println(p.colorize("Orak Evaluation", color.Bold))
	p.println("Mode: " + mode)
	if info.GameDataPath != "" {
		p.println("Game Data Path: " + info.GameDataPath)
	}
	if !info.Local {
		p.println("Submission #: " + orNA(info.SubmissionID))
		p.println("Session #: " + orNA(info.SessionID))
	}
	return nil
}

// Stop implements schemas.Renderer.
func (p *Plain) Stop() {}

// Event implements schemas.Renderer.
func (p *Plain) Event(msg string) {
	e := p.st.addEvent(msg, false)
	p.logger.Debug(msg)
	p.println(p.stamp(e) + " " + msg)
}

// Warn implements schemas.Renderer.
func (p *Plain) Warn(msg string) {
	e := p.st.addEvent(msg, true)
	p.logger.Debug(msg, zap.Bool("warning", true))
	p.println(p.stamp(e) + " " + p.colorize("⚠ "+msg, color.FgYellow))
}

// SetServerStatus implements schemas.Renderer.
func (p *Plain) SetServerStatus(id schemas.GameID, status schemas.ServerStatus) {
	p.st.setStatus(id, status)
	p.println(fmt.Sprintf("%s: %s", game.DisplayName(id), p.statusText(status)))
}

// SetSessionInfo implements schemas.Renderer.
func (p *Plain) SetSessionInfo(sessionID, submissionID string) {
	p.st.setSession(sessionID, submissionID)
}

// StartGameTimer implements schemas.Renderer.
func (p *Plain) StartGameTimer(id schemas.GameID) { p.st.startTimer(id) }

// UpdateGameProgress implements schemas.Renderer.
func (p *Plain) UpdateGameProgress(id schemas.GameID, score float64) { p.st.progress(id, score) }

// CompleteGame implements schemas.Renderer.
func (p *Plain) CompleteGame(id schemas.GameID, avgScore float64) {
	p.st.completeGame(id, avgScore)
	p.println(fmt.Sprintf("%s: %s with average score %s",
		game.DisplayName(id), p.statusText(schemas.StatusCompleted), formatScore(avgScore)))
}

// Confirm implements schemas.Renderer.
func (p *Plain) Confirm(question string, def bool) bool {
	if !p.interactive {
		return def
	}
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		fmt.Fprintf(p.out, "%s %s ", p.colorize(question, color.Bold), hint)
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(p.out)
			return def
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return def
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		fmt.Fprintln(p.out, p.colorize("Please enter y or n.", color.FgRed))
	}
}

// ShowFinalSummary implements schemas.Renderer.
func (p *Plain) ShowFinalSummary(total float64) {
	p.st.setTotal(total)
	p.CompleteEvaluation(true)
}

// CompleteEvaluation implements schemas.Renderer.
func (p *Plain) CompleteEvaluation(success bool) {
	p.st.completeEvaluation(success)
	snap := p.st.snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-10s %10s %10s\n", "Game", "Status", "Score", "Elapsed")
	for _, g := range snap.Games {
		fmt.Fprintf(&b, "%-16s %-10s %10s %10s\n",
			game.DisplayName(g.ID), string(g.Status), formatScore(g.Score), elapsedOrDash(g))
	}
	if snap.HasTotal {
		fmt.Fprintf(&b, "%-16s %-10s %10s", "TOTAL", "", formatScore(snap.Total))
	}
	p.println(strings.TrimRight(b.String(), "\n"))
	if success {
		p.println(p.colorize("Evaluation completed", color.FgGreen, color.Bold))
	} else {
		p.println(p.colorize("Evaluation failed", color.FgRed, color.Bold))
	}
}

func (p *Plain) statusText(status schemas.ServerStatus) string {
	switch status {
	case schemas.StatusQueued:
		return p.colorize("Queued", color.FgYellow)
	case schemas.StatusLaunching:
		return p.colorize("Launching", color.FgCyan)
	case schemas.StatusRunning:
		return p.colorize("Running", color.FgBlue)
	case schemas.StatusCompleted:
		return p.colorize("Completed", color.FgGreen)
	case schemas.StatusFailed:
		return p.colorize("Failed", color.FgRed)
	case schemas.StatusStopped:
		return p.colorize("Stopped", color.Faint)
	default:
		return string(status)
	}
}

func elapsedOrDash(g gameRow) string {
	if g.Started.IsZero() {
		return "-"
	}
	return formatElapsed(g.Elapsed)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
