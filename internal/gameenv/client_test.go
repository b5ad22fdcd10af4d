package gameenv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/gameserver"
)

func newTestClient(t *testing.T, url string, logger *zap.Logger, retries uint64) *Client {
	t.Helper()
	c := New(url, schemas.GameTwentyFourtyEight, Options{MaxTries: 5, CallTimeout: time.Second}, logger)
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, retries)
	}
	return c
}

func TestClient_AgainstGameServer(t *testing.T) {
	factory, err := gameserver.BuiltinFactory(schemas.GameTwentyFourtyEight, config.GameSettings{Seed: 5})
	require.NoError(t, err)
	logic, err := gameserver.NewLogic(factory, gameserver.LogicOptions{
		GameID: schemas.GameTwentyFourtyEight, MaxSteps: 10, MaxEpisodes: 1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	ts := httptest.NewServer(gameserver.NewServer(logic, "", zaptest.NewLogger(t)).Router())
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/", zaptest.NewLogger(t), 2)
	ctx := context.Background()
	assert.Equal(t, ts.URL, c.BaseURL())

	require.NoError(t, c.Ping(ctx))

	cfg, err := c.GetGameConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemas.GameTwentyFourtyEight, cfg.GameID)
	assert.Equal(t, 10, cfg.MaxSteps)
	assert.Equal(t, 1, cfg.MaxEpisodes)

	obs, err := c.LoadObs(ctx)
	require.NoError(t, err)
	assert.Contains(t, obs.ObsStr, "Board of 2048 Games")

	res, err := c.DispatchFinalAction(ctx, "up")
	require.NoError(t, err)
	assert.False(t, res.IsFinished)
	assert.GreaterOrEqual(t, res.Score, 0.0)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"score": 4, "avg_score": 2, "is_finished": true},
		})
	}))
	defer ts.Close()

	core, logs := observer.New(zap.WarnLevel)
	c := newTestClient(t, ts.URL, zap.New(core), 5)
	res, err := c.DispatchFinalAction(context.Background(), "left")
	require.NoError(t, err)
	assert.Equal(t, schemas.StepResult{Score: 4, AvgScore: 2, IsFinished: true}, res)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, logs.FilterMessage("Game server call failed, retrying").Len())
}

func TestClient_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	core, logs := observer.New(zap.WarnLevel)
	c := newTestClient(t, ts.URL, zap.New(core), 2)
	_, err := c.LoadObs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load-obs failed")
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("Giving up on game server call").Len())
}

func TestClient_ProtocolErrorsArePermanent(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"status": "error", "error": "failed to step environment: boom"})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, zaptest.NewLogger(t), 5)
	_, err := c.DispatchFinalAction(context.Background(), "left")
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_CancelledContextStopsRetrying(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(t, ts.URL, zaptest.NewLogger(t), 100)
	err := c.Ping(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_WaitForPing(t *testing.T) {
	var ready atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": map[string]string{"message": "pong"}})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, zaptest.NewLogger(t), 0)
	go func() {
		time.Sleep(50 * time.Millisecond)
		ready.Store(true)
	}()
	require.NoError(t, c.WaitForPing(context.Background(), 10*time.Millisecond, 5*time.Second))

	ready.Store(false)
	err := c.WaitForPing(context.Background(), 10*time.Millisecond, 50*time.Millisecond)
	assert.ErrorContains(t, err, "did not answer within")
}

func TestFullJitter(t *testing.T) {
	inner := backoff.NewConstantBackOff(100 * time.Millisecond)
	j := &fullJitter{BackOff: inner}
	for i := 0; i < 50; i++ {
		d := j.NextBackOff()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
	stop := &fullJitter{BackOff: &backoff.StopBackOff{}}
	assert.Equal(t, backoff.Stop, stop.NextBackOff())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.NewDefaultConfig().GameEnv())
	assert.Equal(t, 50, opts.MaxTries)
	assert.Equal(t, 1.5, opts.Multiplier)
	assert.Equal(t, 10*time.Second, opts.MaxInterval)
	assert.Equal(t, 300*time.Second, opts.CallTimeout)

	c := New("http://localhost:1", schemas.GameStarCraft, opts, nil)
	b := c.defaultBackOff()
	first := b.NextBackOff()
	assert.LessOrEqual(t, first, time.Second)
}
