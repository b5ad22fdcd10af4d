// Package game holds the static catalog of evaluable games and their action vocabularies.
package game

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// ErrUnknownGame is returned when a game name is not in the catalog.
var ErrUnknownGame = errors.New("unknown game")

// DefaultMaxEpisodes is the number of episodes every game is played for.
const DefaultMaxEpisodes = 3

// Spec describes one game of the evaluation.
type Spec struct {
	ID          schemas.GameID
	DisplayName string
	// MaxSteps caps the steps of a single episode.
	MaxSteps int
	// PortOffset is added to the configured base port for local servers.
	PortOffset int
	// TaskDescription is sent in game_info when the game server does not provide one.
	TaskDescription string
	Vocabulary      Vocabulary
	aliases         []string
}

var catalog = []Spec{
	{
		ID:              schemas.GameTwentyFourtyEight,
		DisplayName:     "2048",
		MaxSteps:        1000,
		PortOffset:      0,
		TaskDescription: "Merge tiles to make a tile with the value of 2048",
		Vocabulary:      TwentyFortyEightVocabulary{},
		aliases:         []string{"2048", "twenty_forty_eight"},
	},
	{
		ID:              schemas.GameSuperMario,
		DisplayName:     "Super Mario",
		MaxSteps:        100,
		PortOffset:      1,
		TaskDescription: "Reach the flagpole at the end of the level without dying",
		Vocabulary:      MarioVocabulary{},
		aliases:         []string{"mario"},
	},
	{
		ID:              schemas.GamePokemonRed,
		DisplayName:     "Pokemon Red",
		MaxSteps:        200,
		PortOffset:      2,
		TaskDescription: "Progress the story of Pokemon Red efficiently",
		Vocabulary:      PokemonVocabulary{},
		aliases:         []string{"pokemon"},
	},
	{
		ID:              schemas.GameStarCraft,
		DisplayName:     "StarCraft II",
		MaxSteps:        1000,
		PortOffset:      3,
		TaskDescription: "Defeat the built-in opponent as Protoss",
		Vocabulary:      StarCraftVocabulary{},
		aliases:         []string{"starcraft", "sc2"},
	},
}

// All returns every game in evaluation order.
func All() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// IDs returns every game id in evaluation order.
func IDs() []schemas.GameID {
	ids := make([]schemas.GameID, len(catalog))
	for i, s := range catalog {
		ids[i] = s.ID
	}
	return ids
}

// Lookup finds the spec of a game id.
func Lookup(id schemas.GameID) (Spec, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

// MustLookup is Lookup for ids that are known to be valid.
func MustLookup(id schemas.GameID) Spec {
	s, ok := Lookup(id)
	if !ok {
		panic(fmt.Sprintf("game %q is not in the catalog", id))
	}
	return s
}

// DisplayName returns the human name of a game, or the raw id when unknown.
func DisplayName(id schemas.GameID) string {
	if s, ok := Lookup(id); ok {
		return s.DisplayName
	}
	return string(id)
}

// Parse resolves a user supplied game name (id or alias, case-insensitive).
func Parse(name string) (schemas.GameID, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, s := range catalog {
		if needle == string(s.ID) {
			return s.ID, nil
		}
		for _, a := range s.aliases {
			if needle == a {
				return s.ID, nil
			}
		}
	}
	return "", fmt.Errorf("%w '%s'; known games: %s", ErrUnknownGame, name, knownList())
}

// ParseList resolves a list of names, dropping duplicates. Entries may themselves be
// comma separated. The result keeps catalog order.
func ParseList(names []string) ([]schemas.GameID, error) {
	selected := make(map[schemas.GameID]bool)
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := Parse(part)
			if err != nil {
				return nil, err
			}
			selected[id] = true
		}
	}
	var out []schemas.GameID
	for _, s := range catalog {
		if selected[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out, nil
}

// Port returns the local port for a game given the configured base port.
// A zero base port means the caller picks a free port.
func Port(base int, id schemas.GameID) int {
	if base <= 0 {
		return 0
	}
	s, ok := Lookup(id)
	if !ok {
		return 0
	}
	return base + s.PortOffset
}

func knownList() string {
	ids := make([]string, len(catalog))
	for i, s := range catalog {
		ids[i] = string(s.ID)
	}
	return strings.Join(ids, ", ")
}
