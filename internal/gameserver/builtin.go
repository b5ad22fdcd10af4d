package gameserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/game/twentyfortyeight"
)

// ErrNoBuiltinEnvironment is returned for games that only run behind an external server.
var ErrNoBuiltinEnvironment = errors.New("no built-in environment")

// HasBuiltin reports whether the game can be served in-process.
func HasBuiltin(id schemas.GameID) bool {
	return id == schemas.GameTwentyFourtyEight
}

// BuiltinFactory returns the environment factory of an in-process game.
func BuiltinFactory(id schemas.GameID, settings config.GameSettings) (schemas.EnvironmentFactory, error) {
	switch id {
	case schemas.GameTwentyFourtyEight:
		opts := twentyfortyeight.Options{
			TargetTile: settings.TargetTile,
			Seed:       settings.Seed,
			WithImage:  strings.EqualFold(settings.InputModality, "text_image"),
		}
		return func() (schemas.Environment, error) {
			return twentyfortyeight.NewEnv(opts), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w for '%s'", ErrNoBuiltinEnvironment, id)
	}
}

// LogicOptionsFor fills LogicOptions from the catalog and per-game settings.
func LogicOptionsFor(id schemas.GameID, settings config.GameSettings, maxEpisodes int, resultsDir string) LogicOptions {
	opts := LogicOptions{GameID: id, MaxSteps: settings.MaxSteps, MaxEpisodes: maxEpisodes, ResultsDir: resultsDir}
	if opts.MaxSteps <= 0 {
		if spec, ok := game.Lookup(id); ok {
			opts.MaxSteps = spec.MaxSteps
		}
	}
	if opts.MaxEpisodes <= 0 {
		opts.MaxEpisodes = game.DefaultMaxEpisodes
	}
	return opts
}
