// Package gameenv is the runner side of the game server command protocol.
package gameenv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/gameserver"
)

// ErrProtocol marks a well-formed error reply from the game server. It is never retried.
var ErrProtocol = errors.New("game server rejected command")

// Options tunes retries of game server calls.
type Options struct {
	// MaxTries counts the first attempt.
	MaxTries        int
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	CallTimeout     time.Duration
}

// OptionsFromConfig maps the gameenv configuration section onto Options.
func OptionsFromConfig(cfg config.GameEnvConfig) Options {
	return Options{
		MaxTries:        cfg.MaxRetryTries,
		MaxElapsedTime:  cfg.MaxRetryTime,
		InitialInterval: time.Second,
		Multiplier:      cfg.BackoffBase,
		MaxInterval:     cfg.BackoffMaxInterval,
		CallTimeout:     cfg.CallTimeout,
	}
}

// Client talks to one game server.
type Client struct {
	baseURL    string
	game       schemas.GameID
	httpClient *http.Client
	opts       Options
	logger     *zap.Logger
	// newBackOff builds the retry policy of a single call.
	newBackOff func() backoff.BackOff
}

// New creates a client for the game server at baseURL.
func New(baseURL string, game schemas.GameID, opts Options, logger *zap.Logger) *Client {
	if opts.MaxTries <= 0 {
		opts.MaxTries = 1
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1.5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		game:       game,
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		opts:       opts,
		logger:     logger.Named("gameenv").With(zap.String("game", string(game))),
	}
	c.newBackOff = c.defaultBackOff
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases idle connections to the server.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.Multiplier = c.opts.Multiplier
	b.RandomizationFactor = 0
	if c.opts.MaxInterval > 0 {
		b.MaxInterval = c.opts.MaxInterval
	}
	b.MaxElapsedTime = c.opts.MaxElapsedTime
	b.Reset()
	return backoff.WithMaxRetries(&fullJitter{BackOff: b}, uint64(c.opts.MaxTries-1))
}

// fullJitter draws every wait uniformly from [0, d] where d is the wrapped interval.
type fullJitter struct {
	backoff.BackOff
}

func (j *fullJitter) NextBackOff() time.Duration {
	d := j.BackOff.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return d
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// Ping checks that the server answers, with retries.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, gameserver.CommandPing, nil, nil)
}

// WaitForPing polls the server at a constant interval until it answers or timeout
// elapses. Each poll is a single attempt.
func (c *Client) WaitForPing(ctx context.Context, interval, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	attempt := 0
	operation := func() error {
		attempt++
		err := c.do(ctx, gameserver.CommandPing, nil, nil)
		if errors.Is(err, ErrProtocol) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Game server not reachable yet",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("game server at %s did not answer within %s: %w", c.baseURL, timeout, err)
		}
		return fmt.Errorf("game server at %s is not ready: %w", c.baseURL, err)
	}
	c.logger.Info("Game server is up", zap.String("url", c.baseURL), zap.Int("attempts", attempt))
	return nil
}

// LoadObs fetches the current observation.
func (c *Client) LoadObs(ctx context.Context) (schemas.Observation, error) {
	var obs schemas.Observation
	err := c.call(ctx, gameserver.CommandLoadObs, nil, &obs)
	return obs, err
}

// DispatchFinalAction sends the agent's action and returns the step result.
func (c *Client) DispatchFinalAction(ctx context.Context, action string) (schemas.StepResult, error) {
	var res schemas.StepResult
	err := c.call(ctx, gameserver.CommandDispatch, map[string]interface{}{"action_str": action}, &res)
	return res, err
}

// GetGameConfig fetches the game limits and progress.
func (c *Client) GetGameConfig(ctx context.Context) (schemas.GameConfig, error) {
	var cfg schemas.GameConfig
	err := c.call(ctx, gameserver.CommandGetGameConfig, nil, &cfg)
	return cfg, err
}

// call runs a command under the retry policy. Protocol errors and cancellation are permanent.
func (c *Client) call(ctx context.Context, command string, params map[string]interface{}, out interface{}) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := c.do(ctx, command, params, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrProtocol) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Game server call failed, retrying",
			zap.String("command", command),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		if !errors.Is(err, ErrProtocol) {
			c.logger.Error("Giving up on game server call",
				zap.String("command", command), zap.Int("attempts", attempt), zap.Error(err))
		}
		return fmt.Errorf("%s failed: %w", command, err)
	}
	return nil
}

type rawResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// do performs a single attempt bounded by the per-call timeout.
func (c *Client) do(ctx context.Context, command string, params map[string]interface{}, out interface{}) error {
	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	body, err := json.Marshal(gameserver.CommandRequest{Command: command, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/command", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var decoded rawResponse
	if jsonErr := json.Unmarshal(data, &decoded); jsonErr != nil || decoded.Status == "" {
		// Proxies and half-started servers answer with non-protocol bodies.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("game server returned HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: unexpected HTTP %d response: %s", ErrProtocol, resp.StatusCode, truncate(string(data), 200))
	}
	if decoded.Status != "success" {
		return fmt.Errorf("%w: %s (HTTP %d)", ErrProtocol, decoded.Error, resp.StatusCode)
	}
	if out == nil || len(decoded.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", ErrProtocol, command, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
