package twentyfortyeight

import (
	"bytes"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnv_NewBoard(t *testing.T) {
	t.Parallel()
	env := NewEnv(Options{Seed: 7})

	assert.Equal(t, 4, env.Board().Sum(), "a fresh board holds two 2 tiles")
	assert.Equal(t, 0, env.Score())

	text, img, err := env.Observe()
	require.NoError(t, err)
	assert.Nil(t, img)
	assert.True(t, strings.HasPrefix(text, "Board of 2048 Games: \n"))
	assert.True(t, strings.HasSuffix(text, "Score: 0"))

	info := env.Info()
	assert.Equal(t, "Merge tiles to make a tile with the value of 2048", info.TaskDescription)
	assert.Nil(t, info.PrevStateStr)
}

func TestEnv_SeedIsReproducible(t *testing.T) {
	t.Parallel()
	a := NewEnv(Options{Seed: 42})
	b := NewEnv(Options{Seed: 42})
	for _, action := range []string{"left", "up", "right", "down", "left"} {
		_, _, _ = a.Step(action)
		_, _, _ = b.Step(action)
	}
	assert.Equal(t, a.Board(), b.Board())
	assert.Equal(t, a.Score(), b.Score())
}

func TestEnv_Step(t *testing.T) {
	t.Parallel()

	t.Run("valid move spawns a tile and scores merges", func(t *testing.T) {
		env := NewEnv(Options{Seed: 1})
		env.board = Board{{2, 2, 0, 0}}

		score, done, err := env.Step("**Left**")
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, 4.0, score)
		assert.Equal(t, 4, env.Board()[0][0])
		assert.Equal(t, 14, env.Board().EmptyCells())
	})

	t.Run("unknown or blocked actions do not spawn", func(t *testing.T) {
		env := NewEnv(Options{Seed: 1})
		env.board = Board{{2, 0, 0, 0}}
		before := env.Board()

		_, done, err := env.Step("jump")
		require.NoError(t, err)
		assert.False(t, done)
		_, done, err = env.Step("left")
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, before, env.Board())
	})

	t.Run("five unchanged steps terminate", func(t *testing.T) {
		env := NewEnv(Options{Seed: 1})
		env.board = Board{{2, 0, 0, 0}}

		var done bool
		for i := 0; i < NoChangeLimit; i++ {
			require.False(t, done, "terminated too early at step %d", i)
			_, done, _ = env.Step("up")
		}
		assert.True(t, done)

		score, done, err := env.Step("right")
		require.NoError(t, err)
		assert.True(t, done, "a terminated episode stays terminated")
		assert.Equal(t, 0.0, score)
	})

	t.Run("reaching the target wins", func(t *testing.T) {
		env := NewEnv(Options{Seed: 1, TargetTile: 8})
		env.board = Board{{4, 4, 0, 0}}
		score, done, err := env.Step("left")
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, 8.0, score)
		assert.Equal(t, "Merge tiles to make a tile with the value of 8", env.Info().TaskDescription)
	})

	t.Run("reset starts a new episode", func(t *testing.T) {
		env := NewEnv(Options{Seed: 1})
		env.board = Board{{4, 4, 0, 0}}
		_, _, _ = env.Step("left")
		require.NoError(t, env.Reset())
		assert.Equal(t, 0, env.Score())
		assert.Equal(t, 4, env.Board().Sum())
	})
}

func TestEnv_Snapshot(t *testing.T) {
	t.Parallel()
	env := NewEnv(Options{Seed: 3, WithImage: true, ImageSize: 120})

	_, img, err := env.Observe()
	require.NoError(t, err)
	require.NotEmpty(t, img)

	decoded, err := jpeg.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 120, decoded.Bounds().Dx())
	assert.Equal(t, 120, decoded.Bounds().Dy())
}
