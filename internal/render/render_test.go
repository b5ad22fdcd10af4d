package render

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// fakeClock advances by step on every call.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestPlainLogsRequested(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "y"} {
		assert.True(t, PlainLogsRequested(v), v)
	}
	for _, v := range []string{"", "0", "false", "no", "plain"} {
		assert.False(t, PlainLogsRequested(v), v)
	}
}

func TestUsePlain(t *testing.T) {
	assert.False(t, UsePlain("", false, true))
	assert.True(t, UsePlain("1", false, true))
	assert.True(t, UsePlain("", true, true))
	assert.True(t, UsePlain("", false, false), "piped output always uses plain logs")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "0s", formatElapsed(0))
	assert.Equal(t, "59s", formatElapsed(59*time.Second))
	assert.Equal(t, "2m 5s", formatElapsed(125*time.Second))
	assert.Equal(t, "1h 1m", formatElapsed(3700*time.Second))

	assert.Equal(t, "12", formatScore(12))
	assert.Equal(t, "12.50", formatScore(12.5))
	assert.Equal(t, "0.33", formatScore(1.0/3))
}

func TestState(t *testing.T) {
	clock := newFakeClock(time.Second)
	st := newState(clock.Now)
	st.start(schemas.RunInfo{Games: []schemas.GameID{schemas.GameTwentyFourtyEight, schemas.GameSuperMario}})

	snap := st.snapshot()
	require.Len(t, snap.Games, 2)
	assert.Equal(t, schemas.StatusQueued, snap.Games[0].Status)
	assert.False(t, snap.HasTotal)

	st.setStatus(schemas.GameTwentyFourtyEight, schemas.StatusRunning)
	st.startTimer(schemas.GameTwentyFourtyEight)
	st.progress(schemas.GameTwentyFourtyEight, 64)
	st.completeGame(schemas.GameTwentyFourtyEight, 100)
	st.setStatus(schemas.GameSuperMario, schemas.StatusRunning)

	t.Run("unknown games get a row", func(t *testing.T) {
		st.setStatus(schemas.GameStarCraft, schemas.StatusLaunching)
		assert.Len(t, st.snapshot().Games, 3)
	})

	st.completeEvaluation(false)
	snap = st.snapshot()
	assert.True(t, snap.Completed)
	assert.True(t, snap.Failed)
	assert.Equal(t, schemas.StatusCompleted, snap.Games[0].Status, "finished games keep their status")
	assert.Equal(t, schemas.StatusFailed, snap.Games[1].Status)
	assert.Equal(t, 2*time.Second, snap.Games[0].Elapsed)
	assert.True(t, snap.HasTotal)
	assert.Equal(t, 100.0, snap.Total, "total is summed when none was given")

	st.setTotal(42)
	snap = st.snapshot()
	assert.Equal(t, 42.0, snap.Total)
}

func TestState_EventHistoryIsBounded(t *testing.T) {
	st := newState(nil)
	for i := 0; i < maxEvents+20; i++ {
		st.addEvent(fmt.Sprintf("event %d", i), false)
	}
	snap := st.snapshot()
	require.Len(t, snap.Events, maxEvents)
	assert.Equal(t, "event 20", snap.Events[0].Msg)
}

func TestPlain_Output(t *testing.T) {
	var out bytes.Buffer
	clock := newFakeClock(time.Minute)
	p := NewPlain(&out, nil, Options{Now: clock.Now})

	require.NoError(t, p.Start(schemas.RunInfo{
		SessionID:    "task-9",
		GameDataPath: "game_logs",
		Games:        []schemas.GameID{schemas.GameTwentyFourtyEight},
	}))
	p.SetServerStatus(schemas.GameTwentyFourtyEight, schemas.StatusRunning)
	p.StartGameTimer(schemas.GameTwentyFourtyEight)
	p.Event("Connected to 2048")
	p.Warn("Agent returned an empty action")
	p.CompleteGame(schemas.GameTwentyFourtyEight, 1536)
	p.ShowFinalSummary(1536)
	p.Stop()

	text := out.String()
	assert.Contains(t, text, "Orak Evaluation")
	assert.Contains(t, text, "Mode: Remote")
	assert.Contains(t, text, "Submission #: N/A")
	assert.Contains(t, text, "Session #: task-9")
	assert.Contains(t, text, "2048: Running")
	assert.Contains(t, text, "Connected to 2048")
	assert.Contains(t, text, "⚠ Agent returned an empty action")
	assert.Contains(t, text, "2048: Completed with average score 1536")
	assert.Contains(t, text, "TOTAL")
	assert.Contains(t, text, "Evaluation completed")
	assert.NotContains(t, text, "\x1b[", "colors are off")
}

func TestPlain_LocalModeHidesSession(t *testing.T) {
	var out bytes.Buffer
	p := NewPlain(&out, nil, Options{})
	require.NoError(t, p.Start(schemas.RunInfo{Local: true}))
	p.CompleteEvaluation(false)

	assert.Contains(t, out.String(), "Mode: LOCAL")
	assert.NotContains(t, out.String(), "Session #")
	assert.Contains(t, out.String(), "Evaluation failed")
}

func TestPlain_Confirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   bool
		want  bool
	}{
		{"yes", "y\n", false, true},
		{"no", "no\n", true, false},
		{"empty takes default", "\n", true, true},
		{"retries invalid answers", "maybe\nyes\n", false, true},
		{"eof takes default", "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPlain(&out, strings.NewReader(tt.input), Options{Interactive: true})
			assert.Equal(t, tt.want, p.Confirm("Stop the previous session?", tt.def))
			assert.Contains(t, out.String(), "Stop the previous session?")
		})
	}

	t.Run("non interactive returns default without prompting", func(t *testing.T) {
		var out bytes.Buffer
		p := NewPlain(&out, strings.NewReader("n\n"), Options{})
		assert.True(t, p.Confirm("Continue?", true))
		assert.Empty(t, out.String())
	})
}

func TestLive_ModelView(t *testing.T) {
	clock := newFakeClock(time.Second)
	st := newState(clock.Now)
	st.start(schemas.RunInfo{
		SessionID:    "task-1",
		SubmissionID: "77",
		GameDataPath: "game_logs",
		Games:        []schemas.GameID{schemas.GameTwentyFourtyEight, schemas.GamePokemonRed},
	})
	st.setStatus(schemas.GameTwentyFourtyEight, schemas.StatusRunning)
	st.startTimer(schemas.GameTwentyFourtyEight)
	st.progress(schemas.GameTwentyFourtyEight, 256)
	st.addEvent("first event", false)
	st.addEvent("second event", true)

	m := newModel(st, nil)
	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Nil(t, cmd)
	m = updated.(model)
	assert.Equal(t, 100, m.width)

	view := m.View()
	assert.Contains(t, view, "Orak Evaluation")
	assert.Contains(t, view, "Remote")
	assert.Contains(t, view, "task-1")
	assert.Contains(t, view, "77")
	assert.Contains(t, view, "2048")
	assert.Contains(t, view, "Pokemon Red")
	assert.Contains(t, view, "Running")
	assert.Contains(t, view, "Queued")
	assert.Contains(t, view, "256")
	assert.NotContains(t, view, "TOTAL")
	assert.Less(t, strings.Index(view, "second event"), strings.Index(view, "first event"), "newest events first")

	st.completeGame(schemas.GameTwentyFourtyEight, 300)
	st.completeEvaluation(true)
	view = m.View()
	assert.Contains(t, view, "TOTAL")
	assert.Contains(t, view, "Completed")
}

func TestLive_ModelInterrupt(t *testing.T) {
	st := newState(nil)
	calls := 0
	m := newModel(st, func() { calls++ })

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd, "first ctrl+c hands control to the runner")
	assert.Equal(t, 1, calls)
	require.Len(t, st.snapshot().Events, 1)

	_, cmd = updated.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Equal(t, 1, calls)
}

func TestLive_ModelTicks(t *testing.T) {
	m := newModel(newState(nil), nil)
	assert.NotNil(t, m.Init())
	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	_, cmd = m.Update(refreshMsg{})
	assert.Nil(t, cmd)
}

func TestLive_UpdatesWithoutProgram(t *testing.T) {
	l := NewLive(&bytes.Buffer{}, strings.NewReader(""), Options{})
	l.SetSessionInfo("task-2", "5")
	l.SetServerStatus(schemas.GameSuperMario, schemas.StatusLaunching)
	l.Event("launching")
	l.Warn("slow start")
	l.Stop()

	snap := l.st.snapshot()
	assert.Equal(t, "task-2", snap.Info.SessionID)
	assert.Len(t, snap.Events, 2)
	assert.True(t, l.Confirm("Continue?", true), "non interactive confirm keeps the default")
}
