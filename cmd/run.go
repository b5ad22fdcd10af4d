package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/internal/agent"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/llmclient"
	"github.com/xkilldash9x/orak-cli/internal/observability"
	"github.com/xkilldash9x/orak-cli/internal/render"
	"github.com/xkilldash9x/orak-cli/internal/runner"
	"github.com/xkilldash9x/orak-cli/internal/session"
	"github.com/xkilldash9x/orak-cli/internal/store"
)

// Seams replaced in tests.
var (
	liveSelected = render.LiveSelected
	newRenderer  = render.New
	newLLMClient = llmclient.NewClient
)

func newRunCmd() *cobra.Command {
	var (
		local     bool
		games     []string
		sessionID string
		kinds     = agentKinds{}
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluates the agents on the Orak games",
		Long: `Evaluates one agent per game and reports the average score of each game.

By default the games are played on a remote session created with AICROWD_API_TOKEN.
With --local the games run on servers started by this process, and --games may
restrict the evaluation to a subset.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationOwnsTerminal: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			cfg.SetRunnerLocal(local)
			cfg.SetRunnerGames(games)
			cfg.SetRunnerSessionID(sessionID)
			for g, k := range kinds {
				cfg.SetAgentKind(g, k)
			}
			return runEvaluation(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	flags := runCmd.Flags()
	flags.BoolVar(&local, "local", false, "start the game servers locally instead of using a remote session")
	flags.StringSliceVar(&games, "games", nil, "comma-separated games to evaluate (local mode only)")
	flags.StringVar(&sessionID, "session-id", "", "continue an existing remote session")
	flags.Var(kinds, "agent", "agent kind for a game as game=kind (llm, heuristic, random); repeatable")
	flags.Int("max-episodes", 0, "episodes played per game")
	flags.Bool("plain", false, "print plain log lines instead of the live dashboard")
	flags.String("game-data-dir", "", "directory for step logs and results")

	bindKey(flags, "max-episodes", "runner.max_episodes")
	bindKey(flags, "plain", "display.plain_logs")
	bindKey(flags, "game-data-dir", "runner.game_data_dir")
	return runCmd
}

// runEvaluation wires the runner with its collaborators and drives the renderer.
func runEvaluation(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := observability.NewMetrics()
	if mc := cfg.Metrics(); mc.Enabled {
		go func() {
			if err := observability.ServeMetrics(ctx, mc.ListenAddr, metrics, logger); err != nil {
				logger.Warn("Metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	deps := runner.Deps{
		Config:  cfg,
		Logger:  logger,
		Agents:  agent.NewRegistry(),
		Metrics: metrics,
	}

	if llm, err := newLLMClient(ctx, cfg.Agent(), logger); err != nil {
		logger.Warn("No LLM client available, agents default to heuristics", zap.Error(err))
	} else {
		deps.LLM = llm
		defer llm.Close()
	}

	if !cfg.Runner().Local {
		client, err := session.NewClient(cfg.Session(), logger)
		if err != nil {
			return err
		}
		deps.Sessions = client
		deps.SessionFile = session.NewFileStore(cfg.Session().StateDir)
	}

	if url := cfg.Database().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pool.Close()
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			return err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Store = st
	}

	ui := newRenderer(cfg.Display(), logger, cancel)
	deps.Renderer = ui

	r, err := runner.New(deps)
	if err != nil {
		return err
	}
	if err := ui.Start(r.RunInfo()); err != nil {
		return fmt.Errorf("failed to start renderer: %w", err)
	}
	defer ui.Stop()

	res, err := r.Run(ctx)
	if err != nil {
		logger.Error("Evaluation failed", zap.String("run_id", res.RunID), zap.Error(err))
		ui.CompleteEvaluation(false)
		return err
	}
	logger.Info("Evaluation finished",
		zap.String("run_id", res.RunID),
		zap.String("session_id", res.SessionID),
		zap.Float64("total_score", res.Total))
	ui.ShowFinalSummary(res.Total)
	return nil
}

// agentKinds collects repeated --agent game=kind flags.
type agentKinds map[string]string

var _ pflag.Value = agentKinds(nil)

func (a agentKinds) String() string {
	pairs := make([]string, 0, len(a))
	for g, k := range a {
		pairs = append(pairs, g+"="+k)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (a agentKinds) Set(value string) error {
	for _, pair := range strings.Split(value, ",") {
		name, kind, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("expected game=kind, got '%s'", pair)
		}
		id, err := game.Parse(name)
		if err != nil {
			return err
		}
		switch k := agent.Kind(strings.ToLower(strings.TrimSpace(kind))); k {
		case agent.KindLLM, agent.KindHeuristic, agent.KindRandom:
			a[string(id)] = string(k)
		default:
			return errors.New("agent kind must be one of llm, heuristic, random")
		}
	}
	return nil
}

func (a agentKinds) Type() string { return "game=kind" }
