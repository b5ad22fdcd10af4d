package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hpcloud/tail"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/observability"
	"github.com/xkilldash9x/orak-cli/internal/runner"
	"github.com/xkilldash9x/orak-cli/internal/store"
)

type tailOptions struct {
	game   string
	follow bool
	raw    bool
	runID  string
}

func newTailCmd() *cobra.Command {
	var opts tailOptions

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Prints the recorded steps of a game",
		Long: `Prints the JSONL step log a run wrote for a game, optionally following new steps
as they are recorded. With --run-id the steps are read from the database instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			id, err := game.Parse(opts.game)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if opts.runID != "" {
				url := cfg.Database().URL
				if url == "" {
					return errors.New("--run-id needs database.url (or ORAK_DATABASE_URL)")
				}
				return printStoredSteps(cmd.Context(), out, url, opts.runID, id)
			}
			return tailSteps(cmd.Context(), out, runner.StepsPath(cfg.Runner().GameDataDir, id), opts)
		},
	}

	flags := tailCmd.Flags()
	flags.StringVarP(&opts.game, "game", "g", "", "game whose steps to print (id or alias)")
	flags.BoolVarP(&opts.follow, "follow", "f", false, "keep printing steps as they are recorded")
	flags.BoolVar(&opts.raw, "raw", false, "print the JSON records unchanged")
	flags.StringVar(&opts.runID, "run-id", "", "read the steps of a stored run from the database")
	_ = tailCmd.MarkFlagRequired("game")
	return tailCmd
}

// tailSteps prints the step log at path. Without follow it stops at the end of the file.
func tailSteps(ctx context.Context, out io.Writer, path string, opts tailOptions) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.follow,
		ReOpen:    opts.follow,
		MustExist: !opts.follow,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("no step log at %s: %w", path, err)
	}
	defer t.Cleanup()

	logger := observability.GetLogger().Named("tail")
	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read %s: %w", path, line.Err)
			}
			if line.Text == "" {
				continue
			}
			if opts.raw {
				fmt.Fprintln(out, line.Text)
				continue
			}
			step, err := runner.DecodeStep([]byte(line.Text))
			if err != nil {
				logger.Warn("Skipping unreadable step record", zap.Error(err))
				continue
			}
			fmt.Fprintln(out, formatStep(step))
		}
	}
}

func printStoredSteps(ctx context.Context, out io.Writer, url, runID string, id schemas.GameID) error {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, observability.GetLogger())
	if err != nil {
		return err
	}
	steps, err := st.GetSteps(ctx, runID, id)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("no steps stored for run %s and game %s", runID, id)
	}
	for _, step := range steps {
		fmt.Fprintln(out, formatStep(step))
	}
	return nil
}

// formatStep renders one step as a single line.
func formatStep(s schemas.StepRecord) string {
	line := fmt.Sprintf("episode %d step %d  action=%q  score=%s  avg=%s",
		s.Episode+1, s.Iteration, s.Action, formatFloat(s.CurrentScore), formatFloat(s.Result.AvgScore))
	if s.Result.IsFinished {
		line += "  [episode finished]"
	}
	if !s.RecordedAt.IsZero() {
		line = s.RecordedAt.Local().Format(time.TimeOnly) + "  " + line
	}
	return line
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
