package agent

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/game/twentyfortyeight"
)

// -- 2048 --

// TwentyFortyEightHeuristic simulates every direction on the parsed board and plays the
// move that leaves the most open, monotonic board.
type TwentyFortyEightHeuristic struct{}

// Act implements schemas.Agent.
func (TwentyFortyEightHeuristic) Act(_ context.Context, obs schemas.Observation) (string, error) {
	board, ok := twentyfortyeight.ParseBoard(obs.ObsStr)
	if !ok {
		return string(twentyfortyeight.Left), nil
	}

	type candidate struct {
		score float64
		dir   twentyfortyeight.Direction
	}
	var candidates []candidate
	for _, dir := range twentyfortyeight.Directions {
		next, merged := twentyfortyeight.Move(dir, board)
		if next == board {
			continue
		}
		candidates = append(candidates, candidate{score: scoreBoard(next, merged), dir: dir})
	}
	if len(candidates) == 0 {
		return string(twentyfortyeight.Left), nil
	}

	// Highest score wins; ties go to the lexicographically greatest direction.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].dir > candidates[j].dir
	})
	return string(candidates[0].dir), nil
}

func scoreBoard(b twentyfortyeight.Board, merged int) float64 {
	return 2.5*float64(b.EmptyCells()) +
		1.5*float64(monotonicity(b)) +
		0.5*(float64(merged)/10) +
		0.3*float64(b.MaxTile())
}

// monotonicity rewards rows decreasing left to right and columns decreasing top to bottom.
func monotonicity(b twentyfortyeight.Board) int {
	score := 0
	for i := 0; i < twentyfortyeight.Size; i++ {
		for j := 0; j+1 < twentyfortyeight.Size; j++ {
			score += step(b[i][j] >= b[i][j+1])
			score += step(b[j][i] >= b[j+1][i])
		}
	}
	return score
}

func step(ok bool) int {
	if ok {
		return 1
	}
	return -1
}

// -- Super Mario --

var (
	marioPositionRegex = regexp.MustCompile(`Position of Mario:\s*\((-?\d+),\s*(-?\d+)\)`)
	pairRegex          = regexp.MustCompile(`\((-?\d+),\s*(-?\d+)\)`)
	tripleRegex        = regexp.MustCompile(`\((-?\d+),\s*(-?\d+),\s*(-?\d+)\)`)
	pitRegex           = regexp.MustCompile(`Pit:\s*start at\s*\((-?\d+),\s*(-?\d+)\),\s*end at\s*\((-?\d+),\s*(-?\d+)\)`)
)

// MarioHeuristic jumps only when a pit, pipe or ground enemy is close ahead.
type MarioHeuristic struct{}

// Act implements schemas.Agent.
func (MarioHeuristic) Act(_ context.Context, obs schemas.Observation) (string, error) {
	text := obs.ObsStr
	marioX := 0
	if m := marioPositionRegex.FindStringSubmatch(text); m != nil {
		marioX = atoi(m[1])
	}
	jump := 0

	if m := pitRegex.FindStringSubmatch(text); m != nil {
		if start := atoi(m[1]); start > marioX && start-marioX < 70 {
			jump = max(jump, 6)
		}
	}

	for _, pipe := range objectTuples(text, "Warp Pipes", tripleRegex) {
		x, height := pipe[0], pipe[2]
		if x > marioX && x-marioX < 60 {
			required := 5
			if height > 40 {
				required = 6
			}
			jump = max(jump, required)
			break
		}
	}

	for _, key := range []string{"Monster Goombas", "Monster Koopas"} {
		for _, enemy := range objectTuples(text, key, pairRegex) {
			x, y := enemy[0], enemy[1]
			if x > marioX && x-marioX < 40 && y >= 30 {
				jump = max(jump, 4)
				break
			}
		}
	}
	return game.FormatJumpLevel(jump), nil
}

// objectTuples reads the coordinate tuples on the first line mentioning key.
func objectTuples(text, key string, re *regexp.Regexp) [][]int {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, key) {
			continue
		}
		if strings.Contains(line, "None") {
			return nil
		}
		var out [][]int
		for _, m := range re.FindAllStringSubmatch(line, -1) {
			tuple := make([]int, 0, len(m)-1)
			for _, v := range m[1:] {
				tuple = append(tuple, atoi(v))
			}
			out = append(out, tuple)
		}
		return out
	}
	return nil
}

// -- Pokemon Red --

var (
	pokemonStateRegex    = regexp.MustCompile(`State:\s*([A-Za-z]+)`)
	pokemonPositionRegex = regexp.MustCompile(`Your position \(x, y\):\s*\((-?\d+),\s*(-?\d+)\)`)
	warpPointRegex       = regexp.MustCompile(`\(\s*(-?\d+),\s*(-?\d+)\)\s*WarpPoint`)
)

var wanderOrder = []string{"right", "down", "left", "up"}

// PokemonHeuristic advances dialogs, walks toward the first warp point in view and
// otherwise wanders in a fixed cycle.
type PokemonHeuristic struct {
	mu     sync.Mutex
	wander int
}

// Act implements schemas.Agent.
func (p *PokemonHeuristic) Act(_ context.Context, obs schemas.Observation) (string, error) {
	text := obs.ObsStr
	state := "Field"
	if m := pokemonStateRegex.FindStringSubmatch(text); m != nil {
		state = m[1]
	}
	// Menus, dialogs and battles all advance on a single confirm.
	if state == "Title" || state == "Dialog" || strings.Contains(state, "Battle") {
		return "a", nil
	}

	pos := pokemonPositionRegex.FindStringSubmatch(text)
	warp := warpPointRegex.FindStringSubmatch(text)
	if pos != nil && warp != nil {
		px, py := atoi(pos[1]), atoi(pos[2])
		tx, ty := atoi(warp[1]), atoi(warp[2])
		if abs(px-tx) > abs(py-ty) {
			if tx > px {
				return "right", nil
			}
			return "left", nil
		}
		if ty > py {
			return "down", nil
		}
		return "up", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	move := wanderOrder[p.wander%len(wanderOrder)]
	p.wander++
	return move, nil
}

// -- StarCraft II --

// StarCraftHeuristic is a Protoss macro script: probes to 32 workers, pylons ahead of
// supply block, two gates, zealots and an attack call once the army is large enough.
type StarCraftHeuristic struct{}

// Act implements schemas.Agent.
func (StarCraftHeuristic) Act(_ context.Context, obs schemas.Observation) (string, error) {
	text := obs.ObsStr
	supplyLeft, hasSupply := extractInt(text, "Supply left")
	workers, hasWorkers := extractInt(text, "Worker supply")
	army, _ := extractInt(text, "Army supply")
	nexus, ok := extractInt(text, "Nexus count")
	if !ok || nexus == 0 {
		nexus = 1
	}
	pylons, _ := extractInt(text, "Pylon count")
	gas, _ := extractInt(text, "Gas buildings count")
	gateways, _ := extractInt(text, "Gateway count")

	var actions []string
	if hasSupply && supplyLeft < 5 {
		actions = append(actions, "BUILD PYLON")
	}
	if !hasWorkers || workers < 32 {
		actions = append(actions, "TRAIN PROBE")
	}
	if gas < min(2, nexus*2) && workers > 12 {
		actions = append(actions, "BUILD ASSIMILATOR")
	}
	if gateways < 2 && pylons > 0 {
		actions = append(actions, "BUILD GATEWAY")
	}
	if gateways >= 1 {
		actions = append(actions, "TRAIN ZEALOT")
	}
	if army >= 20 {
		actions = append(actions, "MULTI-ATTACK")
	}
	return game.FormatStarCraftActions(actions, game.NumActions(obs.GameInfo)), nil
}

var intFieldRegexes sync.Map

// extractInt reads "<label>: N" from a StarCraft summary.
func extractInt(text, label string) (int, bool) {
	re, ok := intFieldRegexes.Load(label)
	if !ok {
		re, _ = intFieldRegexes.LoadOrStore(label, regexp.MustCompile(regexp.QuoteMeta(label)+`:\s*(\d+)`))
	}
	m := re.(*regexp.Regexp).FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
