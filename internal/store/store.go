package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists evaluation runs to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS evaluation_runs (
    id          TEXT PRIMARY KEY,
    session_id  TEXT,
    local       BOOLEAN NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    succeeded   BOOLEAN,
    total_score DOUBLE PRECISION
);
CREATE TABLE IF NOT EXISTS game_steps (
    run_id      TEXT NOT NULL,
    game_id     TEXT NOT NULL,
    episode     INTEGER NOT NULL,
    iteration   INTEGER NOT NULL,
    obs_str     TEXT NOT NULL,
    game_info   JSONB NOT NULL,
    action      TEXT NOT NULL,
    score       DOUBLE PRECISION NOT NULL,
    avg_score   DOUBLE PRECISION NOT NULL,
    is_finished BOOLEAN NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS game_steps_run_game_idx ON game_steps (run_id, game_id, recorded_at);
CREATE TABLE IF NOT EXISTS game_results (
    run_id    TEXT NOT NULL,
    game_id   TEXT NOT NULL,
    avg_score DOUBLE PRECISION NOT NULL,
    episodes  INTEGER NOT NULL,
    status    TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, game_id)
);`

// EnsureSchema creates the tables used by the store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Run is the row describing one evaluation.
type Run struct {
	ID        string
	SessionID string
	Local     bool
	StartedAt time.Time
}

// StartRun records the start of an evaluation.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evaluation_runs (id, session_id, local, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.SessionID, run.Local, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// PersistSteps copies step records of one game into game_steps.
func (s *Store) PersistSteps(ctx context.Context, runID string, game schemas.GameID, steps []schemas.StepRecord) error {
	if len(steps) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(steps))
	for i, st := range steps {
		info, err := json.Marshal(st.Obs.GameInfo)
		if err != nil {
			return fmt.Errorf("failed to encode game info: %w", err)
		}
		recordedAt := st.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}
		rows[i] = []interface{}{
			runID, string(game), st.Episode, st.Iteration,
			st.Obs.ObsStr, info, st.Action,
			st.Result.Score, st.Result.AvgScore, st.Result.IsFinished,
			recordedAt.UTC(),
		}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"game_steps"},
		[]string{"run_id", "game_id", "episode", "iteration", "obs_str", "game_info", "action", "score", "avg_score", "is_finished", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

// GameSummary is the final state of one game of a run.
type GameSummary struct {
	GameID   schemas.GameID
	AvgScore float64
	Episodes int
	Status   schemas.ServerStatus
}

// Summary closes a run.
type Summary struct {
	RunID      string
	Succeeded  bool
	TotalScore float64
	FinishedAt time.Time
	Games      []GameSummary
}

const (
	sqlUpsertResult = `
        INSERT INTO game_results (run_id, game_id, avg_score, episodes, status, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (run_id, game_id) DO UPDATE SET
            avg_score = EXCLUDED.avg_score,
            episodes = EXCLUDED.episodes,
            status = EXCLUDED.status,
            updated_at = EXCLUDED.updated_at;
    `
	sqlFinishRun = `
        UPDATE evaluation_runs SET finished_at = $2, succeeded = $3, total_score = $4
        WHERE id = $1;
    `
)

// FinishRun stores the per-game results and closes the run in one transaction.
func (s *Store) FinishRun(ctx context.Context, sum Summary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	finishedAt := sum.FinishedAt.UTC()
	batch := &pgx.Batch{}
	for _, g := range sum.Games {
		batch.Queue(sqlUpsertResult, sum.RunID, string(g.GameID), g.AvgScore, g.Episodes, string(g.Status), finishedAt)
	}
	batch.Queue(sqlFinishRun, sum.RunID, finishedAt, sum.Succeeded, sum.TotalScore)

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if i < len(sum.Games) {
				return fmt.Errorf("failed to store result for %s: %w", sum.Games[i].GameID, err)
			}
			return fmt.Errorf("failed to close run %s: %w", sum.RunID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSteps returns the stored steps of one game in recording order.
func (s *Store) GetSteps(ctx context.Context, runID string, game schemas.GameID) ([]schemas.StepRecord, error) {
	query := `
        SELECT episode, iteration, obs_str, game_info, action, score, avg_score, is_finished, recorded_at
        FROM game_steps
        WHERE run_id = $1 AND game_id = $2
        ORDER BY recorded_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID, string(game))
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []schemas.StepRecord
	for rows.Next() {
		var (
			st   schemas.StepRecord
			info []byte
		)
		err := rows.Scan(
			&st.Episode, &st.Iteration, &st.Obs.ObsStr, &info, &st.Action,
			&st.Result.Score, &st.Result.AvgScore, &st.Result.IsFinished, &st.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		if len(info) > 0 {
			if err := json.Unmarshal(info, &st.Obs.GameInfo); err != nil {
				return nil, fmt.Errorf("failed to decode game info: %w", err)
			}
		}
		st.CurrentScore = st.Result.Score
		steps = append(steps, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return steps, nil
}
