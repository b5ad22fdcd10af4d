// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/observability"
)

// EvaluationLogName is the log file written under the game data directory.
const EvaluationLogName = "evaluation.log"

type ctxKey string

const configKey ctxKey = "config"

const (
	// annotationOwnsTerminal marks commands whose renderer may take over the terminal.
	annotationOwnsTerminal = "owns_terminal"
	// annotationConfigKey names the viper key a flag overrides.
	annotationConfigKey = "orak_config_key"
)

// NewRootCommand builds a fresh command tree. Every call returns independent
// flags and viper state.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile string
		verbose bool
	)
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "orak",
		Short:        "Orak evaluates game-playing agents on the Orak benchmark games.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			if err := initializeConfig(v, cfgFile); err != nil {
				basicLogger, _ := zap.NewDevelopment()
				defer basicLogger.Sync()
				basicLogger.Error("Failed to initialize configuration", zap.Error(err))
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "orak"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			if verbose {
				cfg.SetLoggerLevel("debug")
			}

			observability.InitializeLogger(loggerConfigFor(cmd, cfg))
			observability.GetLogger().Debug("Starting Orak", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.SetVersionTemplate(`{{printf "orak version %s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTailCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Evaluation interrupted")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

// initializeConfig reads in the config file and ORAK_ environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ORAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// loggerConfigFor writes logs to <game_data_dir>/evaluation.log unless a file is
// configured, and drops console output when the live dashboard owns the terminal.
func loggerConfigFor(cmd *cobra.Command, cfg *config.Config) config.LoggerConfig {
	lc := cfg.Logger()
	if lc.LogFile == "" {
		lc.LogFile = filepath.Join(cfg.Runner().GameDataDir, EvaluationLogName)
	}
	if cmd.Annotations[annotationOwnsTerminal] == "true" && liveSelected(cfg.Display()) {
		lc.DisableConsole = true
	}
	return lc
}

// bindKey marks a flag as the command line source of a config key.
func bindKey(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, annotationConfigKey, []string{key})
}

// bindFlags binds the marked flags of the running command to viper, so that only
// that command's flags override the config file.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[annotationConfigKey]
		if len(keys) == 0 || err != nil {
			return
		}
		if bindErr := v.BindPFlag(keys[0], f); bindErr != nil {
			err = fmt.Errorf("failed to bind flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// configFrom returns the configuration loaded by the root command.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
