// Package runner orchestrates an evaluation: it obtains a server for every game
// (local in-process servers or a remote session), plays all games in parallel and
// aggregates their scores.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/agent"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/gameserver"
	"github.com/xkilldash9x/orak-cli/internal/observability"
	"github.com/xkilldash9x/orak-cli/internal/session"
	"github.com/xkilldash9x/orak-cli/internal/store"
)

// persistTimeout bounds store writes, which run even after the run context is cancelled.
const persistTimeout = 30 * time.Second

// -- Interfaces for Dependency Inversion --

// AgentFactory builds the agent of a game. *agent.Registry implements it.
type AgentFactory interface {
	New(id schemas.GameID, kind agent.Kind, deps agent.Deps) (schemas.Agent, error)
}

// SessionAPI is the remote session service. *session.Client implements it.
type SessionAPI interface {
	Create(ctx context.Context) (session.Info, error)
	Get(ctx context.Context, id string) (session.Info, error)
	Stop(ctx context.Context, id string) error
	WaitForStart(ctx context.Context, id string, poll, timeout time.Duration, onStatus func(string)) (session.Info, error)
}

// StepStore persists steps and results. *store.Store implements it.
type StepStore interface {
	StartRun(ctx context.Context, run store.Run) error
	PersistSteps(ctx context.Context, runID string, game schemas.GameID, steps []schemas.StepRecord) error
	FinishRun(ctx context.Context, sum store.Summary) error
}

// Deps are the collaborators of a Runner. Config, Logger, Renderer and Agents are
// required; Sessions is required in remote mode; the rest are optional.
type Deps struct {
	Config   config.Interface
	Logger   *zap.Logger
	Renderer schemas.Renderer
	Agents   AgentFactory
	// LLM is nil when no model is configured; agents then default to heuristics.
	LLM         schemas.LLMClient
	Sessions    SessionAPI
	SessionFile *session.FileStore
	Store       StepStore
	Metrics     *observability.Metrics
}

// Result is the outcome of a run.
type Result struct {
	RunID     string
	SessionID string
	Scores    map[schemas.GameID]float64
	Total     float64
}

type gameOutcome struct {
	score    float64
	episodes int
	status   schemas.ServerStatus
}

// Runner evaluates agents on a set of games.
type Runner struct {
	deps   Deps
	cfg    config.Interface
	logger *zap.Logger
	ui     schemas.Renderer
	games  []schemas.GameID
	local  bool
	runID  string

	sessionID         string
	deleteSessionFile bool

	mu       sync.Mutex
	outcomes map[schemas.GameID]*gameOutcome
}

// New validates the dependencies and resolves the games of the run. In local mode
// the configured games may be a subset; remote mode always evaluates every game.
func New(deps Deps) (*Runner, error) {
	if deps.Config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if deps.Renderer == nil {
		return nil, errors.New("renderer cannot be nil")
	}
	if deps.Agents == nil {
		return nil, errors.New("agent factory cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	rc := deps.Config.Runner()
	if !rc.Local && deps.Sessions == nil {
		return nil, errors.New("remote mode requires a session client")
	}

	r := &Runner{
		deps:     deps,
		cfg:      deps.Config,
		logger:   deps.Logger.Named("runner"),
		ui:       deps.Renderer,
		local:    rc.Local,
		runID:    uuid.NewString(),
		outcomes: make(map[schemas.GameID]*gameOutcome),
	}

	switch {
	case rc.Local && len(rc.Games) > 0:
		games, err := game.ParseList(rc.Games)
		if err != nil {
			return nil, err
		}
		if len(games) == 0 {
			return nil, errors.New("no games selected")
		}
		r.games = games
	case rc.Local:
		r.games = r.launchableGames()
		if len(r.games) == 0 {
			return nil, errors.New("no game can run locally: configure games.<id>.url for games without a built-in server")
		}
	default:
		if len(rc.Games) > 0 {
			r.logger.Warn("Game selection is only supported in local mode, evaluating all games",
				zap.Strings("requested", rc.Games))
			r.ui.Warn("Game selection is only supported in local mode; all games will be evaluated")
		}
		r.games = game.IDs()
	}
	for _, id := range r.games {
		r.outcomes[id] = &gameOutcome{status: schemas.StatusQueued}
	}
	return r, nil
}

// launchableGames returns the catalog games a local run can start without an
// explicit selection: built-in servers and games with a configured URL.
func (r *Runner) launchableGames() []schemas.GameID {
	settings := r.cfg.Games()
	var games []schemas.GameID
	for _, id := range game.IDs() {
		if gameserver.HasBuiltin(id) || settings[string(id)].URL != "" {
			games = append(games, id)
			continue
		}
		r.logger.Warn("Skipping game without a local server", observability.Game(id))
		r.ui.Warn(fmt.Sprintf("Skipping %s: no built-in server and no games.%s.url configured", game.DisplayName(id), id))
	}
	return games
}

// Games returns the games of the run in evaluation order.
func (r *Runner) Games() []schemas.GameID {
	return append([]schemas.GameID(nil), r.games...)
}

// RunID identifies the run in the store.
func (r *Runner) RunID() string { return r.runID }

// RunInfo is the renderer header of the run.
func (r *Runner) RunInfo() schemas.RunInfo {
	return schemas.RunInfo{
		Local:        r.local,
		SessionID:    r.cfg.Runner().SessionID,
		GameDataPath: r.cfg.Runner().GameDataDir,
		Games:        r.Games(),
	}
}

// Run evaluates every game. The first game failure cancels the others; scores of
// games that did finish are still part of the result.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var (
		urls     map[schemas.GameID]string
		launcher *Launcher
		err      error
	)
	if r.local {
		r.ui.Event("Running in LOCAL mode")
		launcher = NewLauncher(r.cfg, r.logger)
		urls, err = launcher.Start(ctx, r.games)
		if err != nil {
			return r.result(), err
		}
		r.sessionID = "local-" + r.runID
	} else {
		r.ui.Event("Running in REMOTE mode")
		urls, err = r.openSession(ctx)
		if err != nil {
			return r.result(), err
		}
	}

	r.startStoreRun(ctx)
	r.ui.Event(fmt.Sprintf("Starting parallel evaluation of %d games", len(r.games)))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range r.games {
		g.Go(func() error {
			if err := r.playGame(gctx, id, urls[id]); err != nil {
				r.setStatus(id, schemas.StatusFailed)
				r.ui.SetServerStatus(id, schemas.StatusFailed)
				r.ui.Event(fmt.Sprintf("%s: Error: %v", game.DisplayName(id), err))
				return fmt.Errorf("%s: %w", id, err)
			}
			return nil
		})
	}
	runErr := g.Wait()
	succeeded := runErr == nil
	if succeeded {
		r.ui.Event("All games completed successfully")
	}

	if launcher != nil {
		r.ui.Event("Stopping all game servers...")
		if err := launcher.StopAll(ctx); err != nil {
			r.logger.Warn("Failed to stop game servers cleanly", zap.Error(err))
		}
	}
	r.cleanupSessionFile(succeeded)
	res := r.result()
	r.finishStoreRun(ctx, res, succeeded)
	return res, runErr
}

func (r *Runner) playGame(ctx context.Context, id schemas.GameID, url string) error {
	if url == "" {
		return fmt.Errorf("no server URL for game '%s'", id)
	}
	a, err := r.newAgent(id)
	if err != nil {
		return err
	}
	p := &play{
		runner: r,
		id:     id,
		name:   game.DisplayName(id),
		agent:  a,
		url:    url,
		logger: observability.ForGame(r.logger, id),
	}
	return p.run(ctx)
}

func (r *Runner) newAgent(id schemas.GameID) (schemas.Agent, error) {
	agentCfg := r.cfg.Agent()
	kind := agent.ResolveKind(agentCfg, id, r.deps.LLM != nil)
	if kind == agent.KindLLM && r.deps.LLM == nil {
		return nil, fmt.Errorf("agent kind 'llm' selected for '%s' but no LLM client is configured", id)
	}
	r.logger.Info("Creating agent", observability.Game(id), zap.String("kind", string(kind)))
	return r.deps.Agents.New(id, kind, agent.Deps{
		Client:  r.deps.LLM,
		Config:  agentCfg,
		Metrics: r.deps.Metrics,
		Logger:  r.logger,
		Seed:    r.cfg.Games()[string(id)].Seed,
	})
}

func (r *Runner) setStatus(id schemas.GameID, status schemas.ServerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[id].status = status
}

func (r *Runner) completeGame(id schemas.GameID, avg float64, episodes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.outcomes[id]
	o.score = avg
	o.episodes = episodes
	o.status = schemas.StatusCompleted
}

func (r *Runner) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := Result{RunID: r.runID, SessionID: r.sessionID, Scores: make(map[schemas.GameID]float64, len(r.games))}
	for _, id := range r.games {
		o := r.outcomes[id]
		res.Scores[id] = o.score
		res.Total += o.score
	}
	return res
}

func (r *Runner) persistSteps(ctx context.Context, id schemas.GameID, steps []schemas.StepRecord) {
	if r.deps.Store == nil || len(steps) == 0 {
		return
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.deps.Store.PersistSteps(persistCtx, r.runID, id, steps); err != nil {
		r.logger.Error("Failed to persist steps", observability.Game(id), zap.Error(err))
	}
}

func (r *Runner) startStoreRun(ctx context.Context) {
	if r.deps.Store == nil {
		return
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	run := store.Run{ID: r.runID, SessionID: r.sessionID, Local: r.local, StartedAt: time.Now()}
	if err := r.deps.Store.StartRun(persistCtx, run); err != nil {
		r.logger.Error("Failed to record run start", zap.Error(err))
	}
}

func (r *Runner) finishStoreRun(ctx context.Context, res Result, succeeded bool) {
	if r.deps.Store == nil {
		return
	}
	sum := store.Summary{
		RunID:      r.runID,
		Succeeded:  succeeded,
		TotalScore: res.Total,
		FinishedAt: time.Now(),
	}
	r.mu.Lock()
	for _, id := range r.games {
		o := r.outcomes[id]
		sum.Games = append(sum.Games, store.GameSummary{GameID: id, AvgScore: o.score, Episodes: o.episodes, Status: o.status})
	}
	r.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.deps.Store.FinishRun(persistCtx, sum); err != nil {
		r.logger.Error("Failed to record run results", zap.Error(err))
	}
}
