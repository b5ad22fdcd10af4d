// Package twentyfortyeight implements the 2048 sliding tile game.
package twentyfortyeight

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

// Size is the board edge length.
const Size = 4

// Board is a 4x4 grid of tile values, 0 meaning empty. Boards are values; every
// operation returns a new one.
type Board [Size][Size]int

// Direction is a sliding direction.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Directions lists every direction in the order heuristics try them.
var Directions = []Direction{Left, Up, Right, Down}

// ParseDirection accepts a direction name in any case.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Up:
		return Up, true
	case Down:
		return Down, true
	case Left:
		return Left, true
	case Right:
		return Right, true
	}
	return "", false
}

// Status is the outcome of a board position.
type Status string

const (
	StatusWin  Status = "WIN"
	StatusPlay Status = "PLAY"
	StatusLose Status = "LOSE"
)

// Move slides and merges every line toward dir. The score is the sum of the tiles
// created by merges. A tile merges at most once per move.
func Move(dir Direction, b Board) (Board, int) {
	var out Board
	score := 0
	for i := 0; i < Size; i++ {
		line := b.line(dir, i)
		merged, s := mergeLine(line)
		out.setLine(dir, i, merged)
		score += s
	}
	return out, score
}

// line returns row/column i ordered from the edge tiles move toward.
func (b Board) line(dir Direction, i int) [Size]int {
	var l [Size]int
	for k := 0; k < Size; k++ {
		switch dir {
		case Left:
			l[k] = b[i][k]
		case Right:
			l[k] = b[i][Size-1-k]
		case Up:
			l[k] = b[k][i]
		case Down:
			l[k] = b[Size-1-k][i]
		default:
			return b.line(Left, i)
		}
	}
	return l
}

func (b *Board) setLine(dir Direction, i int, l [Size]int) {
	for k := 0; k < Size; k++ {
		switch dir {
		case Left:
			b[i][k] = l[k]
		case Right:
			b[i][Size-1-k] = l[k]
		case Up:
			b[k][i] = l[k]
		case Down:
			b[Size-1-k][i] = l[k]
		default:
			b[i][k] = l[k]
		}
	}
}

// mergeLine compacts a line toward index 0, merging equal neighbours front to back.
func mergeLine(l [Size]int) ([Size]int, int) {
	tiles := make([]int, 0, Size)
	for _, v := range l {
		if v != 0 {
			tiles = append(tiles, v)
		}
	}
	var out [Size]int
	score, n := 0, 0
	for i := 0; i < len(tiles); i++ {
		if i+1 < len(tiles) && tiles[i] == tiles[i+1] {
			out[n] = tiles[i] * 2
			score += out[n]
			i++
		} else {
			out[n] = tiles[i]
		}
		n++
	}
	return out, score
}

// CheckStatus reports WIN when target is on the board, PLAY while a merge or empty
// cell exists, and LOSE otherwise.
func CheckStatus(b Board, target int) Status {
	for _, row := range b {
		for _, v := range row {
			if v == target {
				return StatusWin
			}
		}
	}
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			if b[i][j] == 0 {
				return StatusPlay
			}
			if j+1 < Size && b[i][j] == b[i][j+1] {
				return StatusPlay
			}
			if i+1 < Size && b[i][j] == b[i+1][j] {
				return StatusPlay
			}
		}
	}
	return StatusLose
}

// Spawn places a new tile in a random empty cell: a 2 with 90% probability, otherwise
// a 4. The first two tiles of a fresh board are always 2. A full board is returned as is.
func Spawn(b Board, rng *rand.Rand) Board {
	var empty [][2]int
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			if b[i][j] == 0 {
				empty = append(empty, [2]int{i, j})
			}
		}
	}
	if len(empty) == 0 {
		return b
	}
	cell := empty[rng.IntN(len(empty))]

	value := 2
	if sum := b.Sum(); sum != 0 && sum != 2 && rng.Float64() >= 0.9 {
		value = 4
	}
	b[cell[0]][cell[1]] = value
	return b
}

// Sum adds up every tile.
func (b Board) Sum() int {
	total := 0
	for _, row := range b {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// MaxTile returns the largest tile.
func (b Board) MaxTile() int {
	best := 0
	for _, row := range b {
		for _, v := range row {
			best = max(best, v)
		}
	}
	return best
}

// EmptyCells counts zero cells.
func (b Board) EmptyCells() int {
	n := 0
	for _, row := range b {
		for _, v := range row {
			if v == 0 {
				n++
			}
		}
	}
	return n
}

// rowString renders a row as "[2, 0, 4, 0]".
func rowString(row [Size]int) string {
	parts := make([]string, Size)
	for i, v := range row {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Render produces the textual observation sent to agents.
func Render(b Board, score int) string {
	return fmt.Sprintf("Board of 2048 Games: \n %s \n %s \n %s \n %s \n Score: %d",
		rowString(b[0]), rowString(b[1]), rowString(b[2]), rowString(b[3]), score)
}

var numberRegex = regexp.MustCompile(`-?\d+`)

// ParseBoard recovers a board from its textual observation. Only lines starting with
// "[" are considered; exactly four rows of four numbers are required.
func ParseBoard(text string) (Board, bool) {
	var b Board
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		nums := numberRegex.FindAllString(line, -1)
		if len(nums) == 0 {
			continue
		}
		if len(nums) != Size || rows == Size {
			return Board{}, false
		}
		for j, n := range nums {
			v, err := strconv.Atoi(n)
			if err != nil {
				return Board{}, false
			}
			b[rows][j] = v
		}
		rows++
	}
	return b, rows == Size
}
