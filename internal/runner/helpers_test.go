package runner

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/agent"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/gameserver"
	"github.com/xkilldash9x/orak-cli/internal/session"
	"github.com/xkilldash9x/orak-cli/internal/store"
)

// -- Config --

func newTestConfig(t *testing.T, local bool, games ...string) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.RunnerCfg.GameDataDir = t.TempDir()
	cfg.RunnerCfg.MaxEpisodes = 2
	cfg.RunnerCfg.ConnectInterval = 10 * time.Millisecond
	cfg.RunnerCfg.ConnectTimeout = 5 * time.Second
	cfg.RunnerCfg.Local = local
	cfg.RunnerCfg.Games = games
	cfg.GameEnvCfg.MaxRetryTries = 2
	cfg.GameEnvCfg.BackoffMaxInterval = 10 * time.Millisecond
	cfg.GameEnvCfg.CallTimeout = 5 * time.Second
	cfg.SessionCfg.StateDir = t.TempDir()
	cfg.GamesCfg = map[string]config.GameSettings{
		string(schemas.GameTwentyFourtyEight): {MaxSteps: 3, Seed: 7, TargetTile: 2048},
	}
	cfg.AgentCfg.Kinds = map[string]string{}
	return cfg
}

// startExternalServer serves a 2048 board under another game's id, standing in for
// a server the runner does not launch itself.
func startExternalServer(t *testing.T, id schemas.GameID, maxSteps, maxEpisodes int) *httptest.Server {
	t.Helper()
	settings := config.GameSettings{MaxSteps: maxSteps, Seed: 3}
	factory, err := gameserver.BuiltinFactory(schemas.GameTwentyFourtyEight, settings)
	require.NoError(t, err)
	logic, err := gameserver.NewLogic(factory, gameserver.LogicOptionsFor(id, settings, maxEpisodes, ""), zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(gameserver.NewServer(logic, "", zap.NewNop()).Router())
	t.Cleanup(ts.Close)
	return ts
}

// -- Agents --

// agentsFunc adapts a function to AgentFactory.
type agentsFunc func(id schemas.GameID) schemas.Agent

func (f agentsFunc) New(id schemas.GameID, _ agent.Kind, _ agent.Deps) (schemas.Agent, error) {
	return f(id), nil
}

func constantAgent(action string) schemas.Agent {
	return schemas.AgentFunc(func(context.Context, schemas.Observation) (string, error) {
		return action, nil
	})
}

// -- Renderer --

type fakeRenderer struct {
	mu        sync.Mutex
	confirm   bool
	questions []string
	events    []string
	warnings  []string
	statuses  map[schemas.GameID][]schemas.ServerStatus
	completed map[schemas.GameID]float64
	progress  map[schemas.GameID]int
	sessionID string
	submitID  string
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		statuses:  make(map[schemas.GameID][]schemas.ServerStatus),
		completed: make(map[schemas.GameID]float64),
		progress:  make(map[schemas.GameID]int),
	}
}

func (f *fakeRenderer) Start(schemas.RunInfo) error { return nil }
func (f *fakeRenderer) Stop() {}

func (f *fakeRenderer) Event(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, msg)
}

func (f *fakeRenderer) Warn(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, msg)
}

func (f *fakeRenderer) SetServerStatus(id schemas.GameID, status schemas.ServerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = append(f.statuses[id], status)
}

func (f *fakeRenderer) SetSessionInfo(sessionID, submissionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID, f.submitID = sessionID, submissionID
}

func (f *fakeRenderer) StartGameTimer(schemas.GameID) {}

func (f *fakeRenderer) UpdateGameProgress(id schemas.GameID, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[id]++
}

func (f *fakeRenderer) CompleteGame(id schemas.GameID, avg float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = avg
}

func (f *fakeRenderer) Confirm(question string, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	return f.confirm
}

func (f *fakeRenderer) ShowFinalSummary(float64) {}
func (f *fakeRenderer) CompleteEvaluation(bool) {}

func (f *fakeRenderer) lastStatus(id schemas.GameID) schemas.ServerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[id]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func (f *fakeRenderer) allEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// -- Sessions --

type fakeSessions struct {
	mu        sync.Mutex
	info      session.Info
	omitURLs  bool
	created   int
	stopped   []string
	waitedFor []string
	gets      int
	waitErr   error
}

func (f *fakeSessions) Create(context.Context) (session.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return session.Info{TaskID: f.info.TaskID, SubmissionID: f.info.SubmissionID}, nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (session.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	info := f.info
	info.TaskID = session.ID(id)
	return info, nil
}

func (f *fakeSessions) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeSessions) WaitForStart(_ context.Context, id string, _, _ time.Duration, onStatus func(string)) (session.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitedFor = append(f.waitedFor, id)
	if f.waitErr != nil {
		return session.Info{}, f.waitErr
	}
	onStatus(session.StatusRunning)
	info := f.info
	info.TaskID = session.ID(id)
	if f.omitURLs {
		info.GameURLs = nil
	}
	return info, nil
}

// -- Store --

type fakeStore struct {
	mu       sync.Mutex
	runs     []store.Run
	steps    map[schemas.GameID][]schemas.StepRecord
	summary  *store.Summary
	stepsErr error
}

func (f *fakeStore) StartRun(_ context.Context, run store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) PersistSteps(_ context.Context, _ string, id schemas.GameID, steps []schemas.StepRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepsErr != nil {
		return f.stepsErr
	}
	if f.steps == nil {
		f.steps = make(map[schemas.GameID][]schemas.StepRecord)
	}
	f.steps[id] = append(f.steps[id], steps...)
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, sum store.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summary = &sum
	return nil
}

var errAgentBoom = errors.New("boom")

func cfgGameURL(u string) config.GameSettings {
	return config.GameSettings{URL: u}
}
