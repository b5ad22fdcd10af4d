package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/gameserver"
	"github.com/xkilldash9x/orak-cli/internal/observability"
	"github.com/xkilldash9x/orak-cli/internal/runner"
)

func newServeCmd() *cobra.Command {
	var (
		gameName string
		host     string
		port     int
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs a standalone game server for a built-in game",
		Long: `Serves the command protocol of a built-in game until interrupted, so that
agents outside this process can play it. Results are written to the game data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			id, err := game.Parse(gameName)
			if err != nil {
				return err
			}
			settings := cfg.Games()[string(id)]
			factory, err := gameserver.BuiltinFactory(id, settings)
			if err != nil {
				return err
			}
			rc := cfg.Runner()
			logic, err := gameserver.NewLogic(factory,
				gameserver.LogicOptionsFor(id, settings, rc.MaxEpisodes, runner.GameDir(rc.GameDataDir, id)), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize %s: %w", game.DisplayName(id), err)
			}

			if !cmd.Flags().Changed("port") {
				port = game.Port(rc.BasePort, id)
			}
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			logger.Info("Serving game", zap.String("game", string(id)), zap.String("address", addr))
			return gameserver.NewServer(logic, addr, logger).Run(cmd.Context())
		},
	}

	flags := serveCmd.Flags()
	flags.StringVarP(&gameName, "game", "g", "", "game to serve (id or alias)")
	flags.StringVar(&host, "host", "127.0.0.1", "interface to listen on")
	flags.IntVarP(&port, "port", "p", 0, "port to listen on (default: runner.base_port plus the game offset)")
	flags.Int("max-episodes", 0, "episodes before the game reports completion")
	_ = serveCmd.MarkFlagRequired("game")
	bindKey(flags, "max-episodes", "runner.max_episodes")
	return serveCmd
}
