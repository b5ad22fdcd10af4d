package render

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// maxEvents bounds the event history kept for the live view.
const maxEvents = 500

type gameRow struct {
	ID      schemas.GameID
	Status  schemas.ServerStatus
	Score   float64
	Started time.Time
	Elapsed time.Duration
}

type event struct {
	At   time.Time
	Msg  string
	Warn bool
}

// state is the display model shared by all renderers.
type state struct {
	mu  sync.Mutex
	now func() time.Time

	info      schemas.RunInfo
	games     []*gameRow
	byID      map[schemas.GameID]*gameRow
	events    []event
	completed bool
	failed    bool
	total     *float64
}

func newState(now func() time.Time) *state {
	if now == nil {
		now = time.Now
	}
	return &state{now: now, byID: make(map[schemas.GameID]*gameRow)}
}

func (s *state) start(info schemas.RunInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	for _, id := range info.Games {
		s.rowLocked(id)
	}
}

func (s *state) rowLocked(id schemas.GameID) *gameRow {
	if r, ok := s.byID[id]; ok {
		return r
	}
	r := &gameRow{ID: id, Status: schemas.StatusQueued}
	s.byID[id] = r
	s.games = append(s.games, r)
	return r
}

func (s *state) addEvent(msg string, warn bool) event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := event{At: s.now(), Msg: msg, Warn: warn}
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	return e
}

func (s *state) setSession(sessionID, submissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != "" {
		s.info.SessionID = sessionID
	}
	if submissionID != "" {
		s.info.SubmissionID = submissionID
	}
}

func (s *state) setStatus(id schemas.GameID, status schemas.ServerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowLocked(id).Status = status
}

func (s *state) startTimer(id schemas.GameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rowLocked(id)
	r.Started = s.now()
	r.Elapsed = 0
}

func (s *state) progress(id schemas.GameID, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rowLocked(id)
	r.Score = score
	if !r.Started.IsZero() {
		r.Elapsed = s.now().Sub(r.Started)
	}
}

func (s *state) completeGame(id schemas.GameID, avg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rowLocked(id)
	r.Status = schemas.StatusCompleted
	r.Score = avg
	if !r.Started.IsZero() {
		r.Elapsed = s.now().Sub(r.Started)
	}
}

// completeEvaluation settles every game still in flight.
func (s *state) completeEvaluation(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	s.failed = !success
	for _, r := range s.games {
		switch r.Status {
		case schemas.StatusCompleted, schemas.StatusFailed, schemas.StatusStopped:
		default:
			if success {
				r.Status = schemas.StatusCompleted
			} else {
				r.Status = schemas.StatusFailed
			}
		}
	}
}

func (s *state) setTotal(total float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = &total
}

// snapshot is an immutable copy of the state used for drawing.
type snapshot struct {
	Info      schemas.RunInfo
	Games     []gameRow
	Events    []event
	Completed bool
	Failed    bool
	Total     float64
	HasTotal  bool
}

func (s *state) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		Info:      s.info,
		Games:     make([]gameRow, len(s.games)),
		Events:    append([]event(nil), s.events...),
		Completed: s.completed,
		Failed:    s.failed,
	}
	now := s.now()
	for i, r := range s.games {
		snap.Games[i] = *r
		if !r.Started.IsZero() && (r.Status == schemas.StatusRunning || r.Status == schemas.StatusLaunching) {
			snap.Games[i].Elapsed = now.Sub(r.Started)
		}
	}
	if s.total != nil {
		snap.Total, snap.HasTotal = *s.total, true
	} else if s.completed {
		for _, r := range s.games {
			snap.Total += r.Score
		}
		snap.HasTotal = true
	}
	return snap
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}

func formatScore(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
