package runner

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/gameenv"
	"github.com/xkilldash9x/orak-cli/internal/gameserver"
)

func TestRecorder_AppendsLines(t *testing.T) {
	dir := t.TempDir()
	id := schemas.GamePokemonRed
	prev := "Town <Pallet>"

	rec, err := OpenRecorder(dir, id)
	require.NoError(t, err)
	assert.Equal(t, StepsPath(dir, id), rec.Path())

	first := schemas.StepRecord{
		Iteration: 1,
		Obs: schemas.Observation{
			ObsStr:   "Pokémon & <trainer>",
			GameInfo: schemas.GameInfo{PrevStateStr: &prev, TaskDescription: "explore"},
		},
		Action:       "a",
		Result:       schemas.StepResult{Score: 1},
		CurrentScore: 1,
		RecordedAt:   time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC),
	}
	second := first
	second.Iteration = 2
	second.Action = "up up"
	require.NoError(t, rec.Record(first))
	require.NoError(t, rec.Record(second))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "closing twice is fine")
	assert.Error(t, rec.Record(first), "writes after close fail")

	raw, err := os.ReadFile(rec.Path())
	require.NoError(t, err)
	text := string(raw)
	assert.Equal(t, 2, strings.Count(text, "\n"))
	assert.Contains(t, text, "Pokémon & <trainer>", "text is written unescaped")

	// Reopening appends.
	rec, err = OpenRecorder(dir, id)
	require.NoError(t, err)
	require.NoError(t, rec.Record(first))
	require.NoError(t, rec.Close())

	f, err := os.Open(StepsPath(dir, id))
	require.NoError(t, err)
	defer f.Close()
	steps, err := ReadSteps(f)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "up up", steps[1].Action)
	require.NotNil(t, steps[0].Obs.GameInfo.PrevStateStr)
	assert.Equal(t, prev, *steps[0].Obs.GameInfo.PrevStateStr)
	assert.True(t, first.RecordedAt.Equal(steps[0].RecordedAt))
}

func TestReadSteps(t *testing.T) {
	t.Run("skips blank lines", func(t *testing.T) {
		steps, err := ReadSteps(strings.NewReader(`{"iteration":1,"action":"left"}` + "\n\n" + `{"iteration":2,"action":"up"}` + "\n"))
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, 2, steps[1].Iteration)
	})

	t.Run("reports the bad line", func(t *testing.T) {
		steps, err := ReadSteps(strings.NewReader(`{"iteration":1}` + "\n" + `{broken` + "\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
		assert.Len(t, steps, 1)
	})

	_, err := DecodeStep([]byte(`[]`))
	assert.ErrorContains(t, err, "invalid step record")
}

func TestLauncher(t *testing.T) {
	ctx := context.Background()

	t.Run("starts built-in servers and passes external URLs through", func(t *testing.T) {
		cfg := newTestConfig(t, true)
		cfg.GamesCfg[string(schemas.GameSuperMario)] = config.GameSettings{URL: "http://mario.example:9000"}
		l := NewLauncher(cfg, zap.NewNop())

		urls, err := l.Start(ctx, []schemas.GameID{schemas.GameTwentyFourtyEight, schemas.GameSuperMario})
		require.NoError(t, err)
		assert.Equal(t, "http://mario.example:9000", urls[schemas.GameSuperMario])

		client := gameenv.New(urls[schemas.GameTwentyFourtyEight], schemas.GameTwentyFourtyEight, gameenv.Options{MaxTries: 1}, zap.NewNop())
		defer client.Close()
		require.NoError(t, client.Ping(ctx))
		gc, err := client.GetGameConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, gc.MaxSteps)
		assert.Equal(t, 2, gc.MaxEpisodes)

		require.NoError(t, l.StopAll(ctx))
		assert.Error(t, client.Ping(ctx), "server is down after StopAll")
	})

	t.Run("stops started servers when a game cannot run", func(t *testing.T) {
		cfg := newTestConfig(t, true)
		l := NewLauncher(cfg, zap.NewNop())

		_, err := l.Start(ctx, []schemas.GameID{schemas.GameTwentyFourtyEight, schemas.GameStarCraft})
		require.Error(t, err)
		assert.ErrorIs(t, err, gameserver.ErrNoBuiltinEnvironment)
		assert.Empty(t, l.servers)
	})
}
