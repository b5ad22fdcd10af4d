// Package session manages remote evaluation sessions: the competition API that
// provisions game servers for a submission, and the local file remembering the
// session id between runs.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
)

// Session lifecycle states reported by the API.
const (
	StatusRunning = "RUNNING"
	StatusStopped = "STOPPED"
)

var (
	// ErrSessionStopped is returned when a session is stopped before it starts running.
	ErrSessionStopped = errors.New("session stopped")
	// ErrMissingToken is returned when no API token is configured.
	ErrMissingToken = errors.New("API token is required for remote sessions (set AICROWD_API_TOKEN)")
)

// ID is an identifier the API sends either as a string or a number.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (i *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*i = ID(n.String())
	return nil
}

// Info describes a remote session.
type Info struct {
	TaskID       ID                `json:"task_id"`
	SubmissionID ID                `json:"submission_id"`
	LastStatus   string            `json:"last_status"`
	GameURLs     map[string]string `json:"game_urls,omitempty"`
	MCPURLs      map[string]string `json:"mcp_urls,omitempty"`
}

// URL returns the server URL of a game.
func (i Info) URL(id schemas.GameID) (string, bool) {
	if u, ok := i.GameURLs[string(id)]; ok && u != "" {
		return u, true
	}
	u, ok := i.MCPURLs[string(id)]
	return u, ok && u != ""
}

// Client talks to the session API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a session API client.
func NewClient(cfg config.SessionConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, ErrMissingToken
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid session base URL '%s': %w", cfg.BaseURL, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger.Named("session"),
	}, nil
}

// Create starts a new session.
func (c *Client) Create(ctx context.Context) (Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodPost, "/sessions", &info); err != nil {
		return Info{}, fmt.Errorf("failed to create session: %w", err)
	}
	if info.TaskID == "" {
		return Info{}, errors.New("failed to create session: response has no task_id")
	}
	c.logger.Info("Session created", zap.String("session_id", string(info.TaskID)), zap.String("submission_id", string(info.SubmissionID)))
	return info, nil
}

// Get fetches the state of a session.
func (c *Client) Get(ctx context.Context, id string) (Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), &info); err != nil {
		return Info{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	if info.TaskID == "" {
		info.TaskID = ID(id)
	}
	return info, nil
}

// Stop stops a session.
func (c *Client) Stop(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil); err != nil {
		return fmt.Errorf("failed to stop session %s: %w", id, err)
	}
	c.logger.Info("Session stopped", zap.String("session_id", id))
	return nil
}

// WaitForStart polls the session until it is running. onStatus, when set, is called
// for every status change.
func (c *Client) WaitForStart(ctx context.Context, id string, poll, timeout time.Duration, onStatus func(string)) (Info, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		info Info
		last string
	)
	operation := func() error {
		var err error
		info, err = c.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			// Polling keeps going through transient API failures.
			c.logger.Warn("Failed to poll session", zap.String("session_id", id), zap.Error(err))
			return err
		}
		if info.LastStatus != last {
			last = info.LastStatus
			c.logger.Info("Session status changed", zap.String("session_id", id), zap.String("status", last))
			if onStatus != nil {
				onStatus(last)
			}
		}
		switch info.LastStatus {
		case StatusRunning:
			return nil
		case StatusStopped:
			return backoff.Permanent(fmt.Errorf("%w: session %s; start a new session next time", ErrSessionStopped, id))
		default:
			return fmt.Errorf("session %s is %s", id, info.LastStatus)
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(poll), ctx)); err != nil {
		if errors.Is(err, ErrSessionStopped) {
			return info, err
		}
		if ctx.Err() != nil {
			return info, fmt.Errorf("timed out waiting for session %s to start (last status %q): %w", id, last, ctx.Err())
		}
		return info, err
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
