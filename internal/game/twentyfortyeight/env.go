package twentyfortyeight

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math/bits"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// NoChangeLimit is how many consecutive steps without a board change end an episode.
const NoChangeLimit = 5

// Options configures an Env.
type Options struct {
	// TargetTile wins the episode when reached. Zero means 2048.
	TargetTile int
	// Seed makes tile spawning reproducible. Zero seeds from the clock.
	Seed int64
	// WithImage adds a JPEG snapshot to every observation.
	WithImage bool
	// ImageSize is the snapshot edge length in pixels. Zero means 500.
	ImageSize int
}

// Env is the in-process 2048 environment. It is not safe for concurrent use; the
// game server serializes access.
type Env struct {
	opts       Options
	rng        *rand.Rand
	board      Board
	score      int
	noChange   int
	terminated bool
}

var _ schemas.Environment = (*Env)(nil)

// NewEnv creates an environment with a fresh board.
func NewEnv(opts Options) *Env {
	if opts.TargetTile <= 0 {
		opts.TargetTile = 2048
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = 500
	}
	seed := uint64(opts.Seed)
	if opts.Seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	e := &Env{opts: opts, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	e.newBoard()
	return e
}

func (e *Env) newBoard() {
	e.board = Spawn(Spawn(Board{}, e.rng), e.rng)
	e.score = 0
	e.noChange = 0
	e.terminated = false
}

// Board returns the current board.
func (e *Env) Board() Board { return e.board }

// Score returns the score of the current episode.
func (e *Env) Score() int { return e.score }

// Observe implements schemas.Environment.
func (e *Env) Observe() (string, []byte, error) {
	text := Render(e.board, e.score)
	if !e.opts.WithImage {
		return text, nil, nil
	}
	img, err := e.snapshot()
	if err != nil {
		return text, nil, err
	}
	return text, img, nil
}

// Step implements schemas.Environment. Unknown actions count as a step that does not
// change the board.
func (e *Env) Step(action string) (float64, bool, error) {
	if e.terminated {
		return float64(e.score), true, nil
	}

	next := e.board
	if dir, ok := ParseDirection(cleanAction(action)); ok {
		moved, gained := Move(dir, e.board)
		e.score += gained
		next = moved
	}

	if next != e.board {
		e.board = Spawn(next, e.rng)
		e.noChange = 0
	} else {
		e.noChange++
	}

	if e.noChange >= NoChangeLimit || CheckStatus(e.board, e.opts.TargetTile) != StatusPlay {
		e.terminated = true
	}
	return float64(e.score), e.terminated, nil
}

// Reset implements schemas.Environment.
func (e *Env) Reset() error {
	e.newBoard()
	return nil
}

// Info implements schemas.Environment.
func (e *Env) Info() schemas.GameInfo {
	return schemas.GameInfo{
		TaskDescription: fmt.Sprintf("Merge tiles to make a tile with the value of %d", e.opts.TargetTile),
	}
}

// cleanAction keeps the first word of a reply, without markdown emphasis.
func cleanAction(action string) string {
	fields := strings.Fields(action)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "*`'\".,:;!")
}

var (
	backgroundColor = color.RGBA{R: 187, G: 173, B: 160, A: 255}
	emptyTileColor  = color.RGBA{R: 205, G: 193, B: 180, A: 255}
)

// tileColor shades tiles from light to dark as their value grows.
func tileColor(v int) color.RGBA {
	if v == 0 {
		return emptyTileColor
	}
	step := uint8(min(bits.Len(uint(v))-1, 12))
	return color.RGBA{R: 238, G: 228 - step*12, B: 218 - step*17, A: 255}
}

func (e *Env) snapshot() ([]byte, error) {
	size := e.opts.ImageSize
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)

	gap := size / 40
	cell := (size - gap*(Size+1)) / Size
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			x0 := gap + j*(cell+gap)
			y0 := gap + i*(cell+gap)
			r := image.Rect(x0, y0, x0+cell, y0+cell)
			draw.Draw(img, r, &image.Uniform{C: tileColor(e.board[i][j])}, image.Point{}, draw.Src)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode board snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
