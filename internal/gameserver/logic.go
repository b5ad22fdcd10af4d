package gameserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// ResultsFileName is written next to the game data when an episode finishes.
const ResultsFileName = "game_results.json"

// LogicOptions configures the bookkeeping around an environment.
type LogicOptions struct {
	GameID      schemas.GameID
	MaxSteps    int
	MaxEpisodes int
	// ResultsDir receives game_results.json. Empty disables the file.
	ResultsDir string
}

// Logic wraps an Environment with episode, step and score bookkeeping. All methods
// are safe for concurrent use; calls are serialized.
type Logic struct {
	mu      sync.Mutex
	opts    LogicOptions
	env     schemas.Environment
	factory schemas.EnvironmentFactory
	logger  *zap.Logger
	now     func() time.Time

	firstLoad bool
	obsText   string
	obsImage  []byte
	prevText  *string

	// Set once max episodes are played; load-obs keeps returning the latched observation.
	allFinished  bool
	latchedText  string
	latchedImage []byte

	episodes    int
	currentStep int
	totalScore  float64
	lastScore   float64

	startTime  time.Time
	endTime    time.Time
	stepsTimes []time.Time
}

// NewLogic builds the first environment from factory.
func NewLogic(factory schemas.EnvironmentFactory, opts LogicOptions, logger *zap.Logger) (*Logic, error) {
	if factory == nil {
		return nil, fmt.Errorf("game logic for '%s' requires an environment factory", opts.GameID)
	}
	if opts.MaxEpisodes <= 0 {
		opts.MaxEpisodes = 1
	}
	env, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create environment for '%s': %w", opts.GameID, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logic{
		opts:      opts,
		env:       env,
		factory:   factory,
		logger:    logger.Named("gameserver.logic").With(zap.String("game", string(opts.GameID))),
		now:       time.Now,
		firstLoad: true,
	}, nil
}

// LoadObs returns the current observation. The first call observes the fresh
// environment; once every episode is played it returns the final observation.
func (l *Logic) LoadObs() (schemas.Observation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.startTime.IsZero() {
		l.startTime = now
	} else {
		l.stepsTimes = append(l.stepsTimes, now)
	}

	if l.allFinished {
		return l.observation(l.latchedText, l.latchedImage), nil
	}
	if l.firstLoad {
		text, img, err := l.env.Observe()
		if err != nil {
			return schemas.Observation{}, fmt.Errorf("failed to observe environment: %w", err)
		}
		l.obsText, l.obsImage = text, img
		l.firstLoad = false
	}
	return l.observation(l.obsText, l.obsImage), nil
}

func (l *Logic) observation(text string, img []byte) schemas.Observation {
	info := l.env.Info()
	if info.PrevStateStr == nil && l.prevText != nil {
		prev := *l.prevText
		info.PrevStateStr = &prev
	}
	obs := schemas.Observation{ObsStr: text, GameInfo: info}
	if len(img) > 0 {
		obs.ObsImageStr = base64.StdEncoding.EncodeToString(img)
	}
	return obs
}

// Dispatch applies an action and reports the step result. An episode finishes when
// the environment terminates or the step cap is hit.
func (l *Logic) Dispatch(action string) (schemas.StepResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allFinished {
		return schemas.StepResult{
			Score:              l.lastScore,
			AvgScore:           l.avgScore(),
			IsFinished:         true,
			MaxEpisodesReached: true,
		}, nil
	}
	if l.firstLoad {
		text, img, err := l.env.Observe()
		if err != nil {
			return schemas.StepResult{}, fmt.Errorf("failed to observe environment: %w", err)
		}
		l.obsText, l.obsImage = text, img
		l.firstLoad = false
	}

	preText, preImage := l.obsText, l.obsImage
	score, terminated, err := l.env.Step(action)
	if err != nil {
		return schemas.StepResult{}, fmt.Errorf("failed to step environment: %w", err)
	}
	l.lastScore = score
	l.currentStep++
	finished := terminated || (l.opts.MaxSteps > 0 && l.currentStep >= l.opts.MaxSteps)
	l.logger.Debug("Dispatched action",
		zap.String("action", action),
		zap.Float64("score", score),
		zap.Bool("finished", finished))

	result := schemas.StepResult{Score: score, IsFinished: finished}
	if !finished {
		text, img, err := l.env.Observe()
		if err != nil {
			return schemas.StepResult{}, fmt.Errorf("failed to observe environment: %w", err)
		}
		l.prevText = &preText
		l.obsText, l.obsImage = text, img
		result.AvgScore = l.avgScore()
		return result, nil
	}

	l.episodes++
	l.totalScore += score
	l.currentStep = 0
	l.logger.Info("Episode finished",
		zap.Int("episode", l.episodes),
		zap.Float64("score", score),
		zap.Float64("avg_score", l.avgScore()))

	if l.episodes < l.opts.MaxEpisodes {
		l.resetEnv()
	} else {
		result.MaxEpisodesReached = true
		l.allFinished = true
		l.latchedText, l.latchedImage = preText, preImage
	}
	result.AvgScore = l.avgScore()
	l.writeResults()
	return result, nil
}

// resetEnv starts a new episode, recreating the environment when a soft reset fails.
func (l *Logic) resetEnv() {
	l.prevText = nil
	if err := l.env.Reset(); err == nil {
		text, img, err := l.env.Observe()
		if err == nil {
			l.obsText, l.obsImage = text, img
			return
		}
		l.logger.Warn("Failed to observe after reset, recreating environment", zap.Error(err))
	} else {
		l.logger.Warn("Environment reset failed, recreating environment", zap.Error(err))
	}

	env, err := l.factory()
	if err != nil {
		// Keep the old environment; the next load retries the observation.
		l.logger.Error("Failed to recreate environment", zap.Error(err))
	} else {
		l.env = env
	}
	l.firstLoad = true
}

// GameConfig reports the limits and progress of the game.
func (l *Logic) GameConfig() schemas.GameConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return schemas.GameConfig{
		GameID:         l.opts.GameID,
		MaxSteps:       l.opts.MaxSteps,
		MaxEpisodes:    l.opts.MaxEpisodes,
		CurrentEpisode: l.episodes,
		CurrentStep:    l.currentStep,
	}
}

// Results summarizes the game so far.
func (l *Logic) Results() schemas.GameResults {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.results()
}

func (l *Logic) results() schemas.GameResults {
	times := make([]time.Time, len(l.stepsTimes))
	copy(times, l.stepsTimes)
	return schemas.GameResults{
		GameID:     l.opts.GameID,
		Score:      l.totalScore,
		AvgScore:   l.avgScore(),
		Episodes:   l.episodes,
		StartTime:  l.startTime,
		EndTime:    l.endTime,
		StepsTimes: times,
		GameInfo:   l.env.Info(),
	}
}

func (l *Logic) avgScore() float64 {
	if l.episodes == 0 {
		return 0
	}
	return l.totalScore / float64(l.episodes)
}

// writeResults rewrites game_results.json. Failures are logged only.
func (l *Logic) writeResults() {
	l.endTime = l.now()
	if l.opts.ResultsDir == "" {
		return
	}
	data, err := json.MarshalIndent(l.results(), "", "  ")
	if err != nil {
		l.logger.Error("Failed to encode game results", zap.Error(err))
		return
	}
	if err := os.MkdirAll(l.opts.ResultsDir, 0o755); err != nil {
		l.logger.Error("Failed to create results directory", zap.Error(err))
		return
	}
	path := filepath.Join(l.opts.ResultsDir, ResultsFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		l.logger.Error("Failed to write game results", zap.String("path", path), zap.Error(err))
	}
}
