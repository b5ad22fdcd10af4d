// Package render owns all terminal presentation of an evaluation run: a live
// dashboard for interactive terminals and plain line output for logs.
package render

import (
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
)

// EnvPlainLogs disables the live view when set to 1, true, yes or y.
const EnvPlainLogs = "ORAK_PLAIN_LOGS"

// Options configures a renderer.
type Options struct {
	// Color enables ANSI colors in plain output.
	Color bool
	// Interactive lets Confirm read answers from the input.
	Interactive bool
	Logger      *zap.Logger
	// Now is the clock used for timestamps. Nil means time.Now.
	Now func() time.Time
	// OnInterrupt is called when the user presses ctrl+c in the live view.
	OnInterrupt func()
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger.Named("render")
}

// PlainLogsRequested reports whether an ORAK_PLAIN_LOGS value asks for plain output.
func PlainLogsRequested(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// UsePlain decides between the plain and the live renderer.
func UsePlain(envValue string, configured, stdoutIsTerminal bool) bool {
	return PlainLogsRequested(envValue) || configured || !stdoutIsTerminal
}

// LiveSelected reports whether New would pick the live dashboard for this process.
func LiveSelected(cfg config.DisplayConfig) bool {
	return !UsePlain(os.Getenv(EnvPlainLogs), cfg.PlainLogs, term.IsTerminal(int(os.Stdout.Fd())))
}

// New picks the renderer for the process terminal.
func New(cfg config.DisplayConfig, logger *zap.Logger, onInterrupt func()) schemas.Renderer {
	outTTY := term.IsTerminal(int(os.Stdout.Fd()))
	inTTY := term.IsTerminal(int(os.Stdin.Fd()))
	opts := Options{
		Color:       outTTY && !color.NoColor,
		Interactive: inTTY,
		Logger:      logger,
		OnInterrupt: onInterrupt,
	}
	if !LiveSelected(cfg) {
		return NewPlain(os.Stdout, os.Stdin, opts)
	}
	return NewLive(os.Stdout, os.Stdin, opts)
}
