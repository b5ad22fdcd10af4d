package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/observability"
	"github.com/xkilldash9x/orak-cli/internal/session"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspects or stops remote evaluation sessions",
	}
	sessionCmd.AddCommand(newSessionStatusCmd())
	sessionCmd.AddCommand(newSessionStopCmd())
	return sessionCmd
}

func newSessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [SESSION_ID]",
		Short: "Shows a session (default: the saved one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			id, _, err := resolveSessionID(cfg, args)
			if err != nil {
				return err
			}
			client, err := session.NewClient(cfg.Session(), observability.GetLogger())
			if err != nil {
				return err
			}
			info, err := client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:    %s\n", id)
			fmt.Fprintf(out, "Submission: %s\n", orDash(string(info.SubmissionID)))
			fmt.Fprintf(out, "Status:     %s\n", orDash(info.LastStatus))
			urls := make(map[string]string, len(info.GameURLs)+len(info.MCPURLs))
			for g, u := range info.MCPURLs {
				urls[g] = u
			}
			for g, u := range info.GameURLs {
				urls[g] = u
			}
			games := make([]string, 0, len(urls))
			for g := range urls {
				games = append(games, g)
			}
			sort.Strings(games)
			for _, g := range games {
				fmt.Fprintf(out, "  %-22s %s\n", g, urls[g])
			}
			return nil
		},
	}
}

func newSessionStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [SESSION_ID]",
		Short: "Stops a session (default: the saved one) and forgets it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			id, saved, err := resolveSessionID(cfg, args)
			if err != nil {
				return err
			}
			client, err := session.NewClient(cfg.Session(), logger)
			if err != nil {
				return err
			}
			if err := client.Stop(cmd.Context(), id); err != nil {
				return err
			}
			if saved {
				files := session.NewFileStore(cfg.Session().StateDir)
				if err := files.Remove(); err != nil {
					logger.Warn("Failed to delete session file", zap.String("path", files.Path()), zap.Error(err))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped session %s\n", id)
			return nil
		},
	}
}

// resolveSessionID returns the argument or the saved id, and whether the saved
// id was used.
func resolveSessionID(cfg *config.Config, args []string) (string, bool, error) {
	if len(args) == 1 && args[0] != "" {
		return args[0], false, nil
	}
	files := session.NewFileStore(cfg.Session().StateDir)
	id, err := files.Load()
	if err != nil {
		return "", false, err
	}
	if id == "" {
		return "", false, errors.New("no session id given and none saved in " + files.Path())
	}
	return id, true, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
