// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/llmclient"
	"github.com/xkilldash9x/orak-cli/internal/observability"
	"github.com/xkilldash9x/orak-cli/internal/render"
)

// syncBuffer lets the renderer and the test read output concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// resetForTest provides the single source of truth for resetting test state. The
// returned buffer collects everything the run renderer prints.
func resetForTest(t *testing.T) *syncBuffer {
	t.Helper()

	observability.ResetForTest()
	ui := &syncBuffer{}
	liveSelected = func(config.DisplayConfig) bool { return false }
	newRenderer = func(_ config.DisplayConfig, logger *zap.Logger, onInterrupt func()) schemas.Renderer {
		return render.NewPlain(ui, strings.NewReader(""), render.Options{Logger: logger, OnInterrupt: onInterrupt})
	}
	newLLMClient = func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) {
		return nil, errors.New("no model in tests")
	}

	for _, key := range []string{"AICROWD_API_TOKEN", "AICROWD_API_BASE_URL", "GAME_DATA_DIR", "BASE_PORT", "ORAK_DATABASE_URL", "ORAK_PLAIN_LOGS"} {
		t.Setenv(key, "")
	}

	t.Cleanup(func() {
		observability.ResetForTest()
		liveSelected = render.LiveSelected
		newRenderer = render.New
		newLLMClient = llmclient.NewClient
	})
	return ui
}

// writeConfig writes a config.yaml into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// executeCommand runs a fresh command tree and returns its output.
func executeCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}
