package runner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/gameenv"
)

// play is the loop of a single game.
type play struct {
	runner *Runner
	id     schemas.GameID
	name   string
	agent  schemas.Agent
	url    string
	logger *zap.Logger
}

func (p *play) event(format string, args ...any) {
	p.runner.ui.Event(p.name + ": " + fmt.Sprintf(format, args...))
}

func (p *play) run(ctx context.Context) error {
	r := p.runner
	rc := r.cfg.Runner()

	r.setStatus(p.id, schemas.StatusLaunching)
	r.ui.SetServerStatus(p.id, schemas.StatusLaunching)
	p.event("Initializing agent")

	client := gameenv.New(p.url, p.id, gameenv.OptionsFromConfig(r.cfg.GameEnv()), r.logger)
	defer client.Close()

	p.event("Waiting for client to connect...")
	if err := client.WaitForPing(ctx, rc.ConnectInterval, rc.ConnectTimeout); err != nil {
		return err
	}
	p.event("Connected successfully, starting game loop")
	r.setStatus(p.id, schemas.StatusRunning)
	r.ui.SetServerStatus(p.id, schemas.StatusRunning)
	r.ui.StartGameTimer(p.id)

	var rec *Recorder
	if rc.RecordSteps {
		var err error
		rec, err = OpenRecorder(rc.GameDataDir, p.id)
		if err != nil {
			p.logger.Warn("Step log disabled", zap.Error(err))
			r.ui.Warn(fmt.Sprintf("%s: step log disabled: %v", p.name, err))
		} else {
			defer rec.Close()
		}
	}

	gc, err := client.GetGameConfig(ctx)
	if err != nil {
		return err
	}
	maxEpisodes := gc.MaxEpisodes
	if maxEpisodes <= 0 {
		maxEpisodes = game.DefaultMaxEpisodes
	}
	iteration := gc.CurrentStep
	episode := gc.CurrentEpisode
	p.logger.Info("Game loop starting",
		zap.Int("max_episodes", maxEpisodes), zap.Int("max_steps", gc.MaxSteps),
		zap.Int("episode", episode), zap.Int("step", iteration))

	var (
		avg     float64
		pending []schemas.StepRecord
	)
	defer func() { r.persistSteps(ctx, p.id, pending) }()

	for episode < maxEpisodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		iteration++

		obs, err := client.LoadObs(ctx)
		if err != nil {
			return err
		}
		started := time.Now()
		action, err := p.agent.Act(ctx, obs)
		if err != nil {
			return fmt.Errorf("agent failed at step %d: %w", iteration, err)
		}
		actDuration := time.Since(started)

		result, err := client.DispatchFinalAction(ctx, action)
		if err != nil {
			return err
		}
		avg = result.AvgScore

		step := schemas.StepRecord{
			Iteration:    iteration,
			Episode:      episode,
			Obs:          obs,
			Action:       action,
			Result:       result,
			CurrentScore: result.Score,
			RecordedAt:   time.Now().UTC(),
		}
		if rec != nil {
			// A broken log never stops the game.
			if err := rec.Record(step); err != nil {
				p.logger.Warn("Failed to record step", zap.Int("iteration", iteration), zap.Error(err))
			}
		}
		pending = append(pending, step)

		r.deps.Metrics.ObserveStep(string(p.id), actDuration, result.Score)
		r.ui.UpdateGameProgress(p.id, result.Score)
		p.event("Step %d, Episode: %d, Score: %s", iteration, episode+1, formatScore(result.Score))

		if result.IsFinished {
			steps := iteration
			episode++
			iteration = 0
			r.deps.Metrics.IncEpisode(string(p.id))
			p.event("Game finished after %d steps with final score: %s", steps, formatScore(result.Score))
			if episode < maxEpisodes && !result.MaxEpisodesReached {
				p.event("Starting new episode... (%d/%d)", episode+1, maxEpisodes)
			} else {
				p.event("Max episodes reached. Game finished.")
			}
			r.persistSteps(ctx, p.id, pending)
			pending = nil
		}
		if result.MaxEpisodesReached {
			break
		}
	}

	r.completeGame(p.id, avg, episode)
	r.ui.CompleteGame(p.id, avg)
	p.logger.Info("Game completed", zap.Float64("avg_score", avg), zap.Int("episodes", episode))
	return nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
