package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// StepsFileName is the per-game step log inside the game data directory.
const StepsFileName = "game_states.jsonl"

// jsonl keeps non-ASCII observation text readable in the log.
var jsonl = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// GameDir returns the data directory of one game.
func GameDir(dataDir string, id schemas.GameID) string {
	return filepath.Join(dataDir, string(id))
}

// StepsPath returns the step log of one game.
func StepsPath(dataDir string, id schemas.GameID) string {
	return filepath.Join(GameDir(dataDir, id), StepsFileName)
}

// Recorder appends one JSON line per step to a game's step log.
type Recorder struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenRecorder opens the step log of a game for appending, creating its directory.
func OpenRecorder(dataDir string, id schemas.GameID) (*Recorder, error) {
	dir := GameDir(dataDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create game data directory %s: %w", dir, err)
	}
	path := StepsPath(dataDir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open step log %s: %w", path, err)
	}
	return &Recorder{path: path, f: f}, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Record writes one step. Each line is written with a single call so readers
// following the file never see a partial record.
func (r *Recorder) Record(rec schemas.StepRecord) error {
	line, err := jsonl.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode step %d: %w", rec.Iteration, err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return fmt.Errorf("step log %s is closed", r.path)
	}
	if _, err := r.f.Write(line); err != nil {
		return fmt.Errorf("failed to write step %d: %w", rec.Iteration, err)
	}
	return nil
}

// Close closes the log. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// DecodeStep parses one line of a step log.
func DecodeStep(line []byte) (schemas.StepRecord, error) {
	var rec schemas.StepRecord
	if err := jsonl.Unmarshal(line, &rec); err != nil {
		return rec, fmt.Errorf("invalid step record: %w", err)
	}
	return rec, nil
}

// ReadSteps decodes a whole step log. Blank lines are skipped.
func ReadSteps(rd io.Reader) ([]schemas.StepRecord, error) {
	var out []schemas.StepRecord
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := DecodeStep(line)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read step log: %w", err)
	}
	return out, nil
}
