package game

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

func TestCatalog(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []schemas.GameID{
		schemas.GameTwentyFourtyEight, schemas.GameSuperMario, schemas.GamePokemonRed, schemas.GameStarCraft,
	}, IDs())

	maxSteps := map[schemas.GameID]int{
		schemas.GameTwentyFourtyEight: 1000,
		schemas.GameSuperMario:        100,
		schemas.GamePokemonRed:        200,
		schemas.GameStarCraft:         1000,
	}
	for id, want := range maxSteps {
		spec, ok := Lookup(id)
		require.True(t, ok)
		assert.Equal(t, want, spec.MaxSteps, id)
		assert.NotNil(t, spec.Vocabulary)
	}

	assert.Equal(t, "2048", DisplayName(schemas.GameTwentyFourtyEight))
	assert.Equal(t, "street_fighter", DisplayName("street_fighter"))
	assert.Panics(t, func() { MustLookup("street_fighter") })
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := map[string]schemas.GameID{
		"twenty_fourty_eight": schemas.GameTwentyFourtyEight,
		" 2048 ":              schemas.GameTwentyFourtyEight,
		"Super_Mario":         schemas.GameSuperMario,
		"pokemon":             schemas.GamePokemonRed,
		"SC2":                 schemas.GameStarCraft,
	}
	for in, want := range tests {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := Parse("street_fighter")
	require.ErrorIs(t, err, ErrUnknownGame)
	assert.Contains(t, err.Error(), "twenty_fourty_eight, super_mario, pokemon_red, star_craft")
}

func TestParseList(t *testing.T) {
	t.Parallel()

	ids, err := ParseList([]string{"star_craft,2048", "twenty_fourty_eight", ""})
	require.NoError(t, err)
	assert.Equal(t, []schemas.GameID{schemas.GameTwentyFourtyEight, schemas.GameStarCraft}, ids)

	_, err = ParseList([]string{"mario,tetris"})
	assert.ErrorIs(t, err, ErrUnknownGame)

	ids, err = ParseList(nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 33000, Port(33000, schemas.GameTwentyFourtyEight))
	assert.Equal(t, 33003, Port(33000, schemas.GameStarCraft))
	assert.Equal(t, 0, Port(0, schemas.GameSuperMario))
	assert.Equal(t, 0, Port(33000, "unknown"))
}

func TestTwentyFortyEightVocabulary(t *testing.T) {
	t.Parallel()
	v := TwentyFortyEightVocabulary{}

	valid := map[string]string{
		"up":              "up",
		"LEFT":            "left",
		"  **Right**  ":    "right",
		"down.\nbecause":  "down",
		"`up` is optimal": "up",
	}
	for in, want := range valid {
		got, ok := v.Normalize(in, schemas.GameInfo{})
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "   ", "diagonal", "I choose up"} {
		_, ok := v.Normalize(in, schemas.GameInfo{})
		assert.False(t, ok, in)
	}
	assert.Equal(t, "left", v.Fallback(schemas.GameInfo{}))
	assert.Len(t, v.Actions(schemas.GameInfo{}), 4)
}

func TestMarioVocabulary(t *testing.T) {
	t.Parallel()
	v := MarioVocabulary{}

	valid := map[string]string{
		"Jump Level: 3":                            "Jump Level: 3",
		"Explain: pit ahead\nJump Level: 6":        "Jump Level: 6",
		"jump level 0":                             "Jump Level: 0",
		"4":                                        "Jump Level: 4",
		"Explain: goomba close.\n**Jump Level:** 2": "Jump Level: 2",
	}
	for in, want := range valid {
		got, ok := v.Normalize(in, schemas.GameInfo{})
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"Jump Level: 7", "Jump Level: -1", "jump high", ""} {
		_, ok := v.Normalize(in, schemas.GameInfo{})
		assert.False(t, ok, in)
	}
	assert.Equal(t, "Jump Level: 0", v.Fallback(schemas.GameInfo{}))
	assert.Len(t, v.Actions(schemas.GameInfo{}), 7)
}

func TestPokemonVocabulary(t *testing.T) {
	t.Parallel()
	v := PokemonVocabulary{}

	valid := map[string]string{
		"a":                    "a",
		"UP up Left":           "up left",
		"right down a b start": "right down a",
		"Press START":          "start",
		"a a a b":              "a b",
		"a A b B up start":     "a b up",
	}
	for in, want := range valid {
		got, ok := v.Normalize(in, schemas.GameInfo{})
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := v.Normalize("run away", schemas.GameInfo{})
	assert.False(t, ok)
	assert.Equal(t, "a", v.Fallback(schemas.GameInfo{}))
}

func TestStarCraftVocabulary(t *testing.T) {
	t.Parallel()
	v := StarCraftVocabulary{}

	t.Run("numbered lines are padded", func(t *testing.T) {
		got, ok := v.Normalize("0: TRAIN PROBE\n1: build pylon\n2: DANCE", schemas.GameInfo{})
		require.True(t, ok)
		assert.Equal(t, "0: TRAIN PROBE\n1: BUILD PYLON\n2: EMPTY ACTION\n3: EMPTY ACTION\n4: EMPTY ACTION", got)
	})

	t.Run("bare tokens when nothing is numbered", func(t *testing.T) {
		got, ok := v.Normalize("- MULTI-ATTACK\nTRAIN ZEALOT", schemas.GameInfo{NumActions: 2})
		require.True(t, ok)
		assert.Equal(t, "0: MULTI-ATTACK\n1: TRAIN ZEALOT", got)
	})

	t.Run("commentary after a numbered action", func(t *testing.T) {
		got, ok := v.Normalize("0: TRAIN PROBE (to keep saturating)\n1: BUILD PYLON - supply is low\n2: **MULTI-ATTACK** now", schemas.GameInfo{NumActions: 4})
		require.True(t, ok)
		assert.Equal(t, "0: TRAIN PROBE\n1: BUILD PYLON\n2: MULTI-ATTACK\n3: EMPTY ACTION", got)
	})

	t.Run("actions listed on one line", func(t *testing.T) {
		got, ok := v.Normalize("TRAIN PROBE, BUILD PYLON", schemas.GameInfo{NumActions: 3})
		require.True(t, ok)
		assert.Equal(t, "0: TRAIN PROBE\n1: BUILD PYLON\n2: EMPTY ACTION", got)
	})

	t.Run("longest action wins", func(t *testing.T) {
		info := schemas.GameInfo{NumActions: 1, ActionDict: map[string]any{"TRAIN PROBE": 0, "TRAIN PROBE RUSH": 1}}
		got, ok := v.Normalize("0: train probe rush", info)
		require.True(t, ok)
		assert.Equal(t, "0: TRAIN PROBE RUSH", got)
	})

	t.Run("partial words do not match", func(t *testing.T) {
		_, ok := v.Normalize("0: TRAIN PROBES\nRETRAIN PROBE", schemas.GameInfo{})
		assert.False(t, ok)
	})

	t.Run("trimmed to num_actions", func(t *testing.T) {
		got, ok := v.Normalize("0: TRAIN PROBE\n1: TRAIN PROBE\n2: BUILD PYLON", schemas.GameInfo{NumActions: 1})
		require.True(t, ok)
		assert.Equal(t, "0: TRAIN PROBE", got)
	})

	t.Run("action_dict restricts the set", func(t *testing.T) {
		info := schemas.GameInfo{ActionDict: map[string]any{"TRAIN PROBE": 0, "BUILD PYLON": 1}}
		_, ok := v.Normalize("0: TRAIN ZEALOT", info)
		assert.False(t, ok)
		assert.Equal(t, []string{"BUILD PYLON", "TRAIN PROBE"}, v.Actions(info))
	})

	t.Run("fallback", func(t *testing.T) {
		fb := v.Fallback(schemas.GameInfo{NumActions: 3})
		assert.Equal(t, "0: EMPTY ACTION\n1: EMPTY ACTION\n2: EMPTY ACTION", fb)
		assert.Equal(t, 5, strings.Count(v.Fallback(schemas.GameInfo{}), EmptyAction))
	})
}

// TestFallbacksAreMembers checks that every vocabulary's fallback is itself a valid action.
func TestFallbacksAreMembers(t *testing.T) {
	t.Parallel()
	infos := []schemas.GameInfo{{}, {NumActions: 1}, {NumActions: 8}}
	for _, spec := range All() {
		for _, info := range infos {
			fb := spec.Vocabulary.Fallback(info)
			assert.True(t, IsMember(spec.Vocabulary, fb, info), "%s fallback %q", spec.ID, fb)
		}
	}
}
