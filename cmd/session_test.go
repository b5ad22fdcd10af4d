package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/orak-cli/internal/session"
)

type fakeSessionAPI struct {
	mu      sync.Mutex
	stopped []string
	auth    []string
}

func (f *fakeSessionAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r, "")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"task_id":%q,"submission_id":77,"last_status":"RUNNING","game_urls":{"super_mario":"http://mario:1"},"mcp_urls":{"pokemon_red":"http://pokemon:2"}}`, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (f *fakeSessionAPI) record(r *http.Request, stopped string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	if stopped != "" {
		f.stopped = append(f.stopped, stopped)
	}
}

func sessionTestSetup(t *testing.T) (*fakeSessionAPI, string, *session.FileStore) {
	t.Helper()
	resetForTest(t)
	api := &fakeSessionAPI{}
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)

	stateDir := t.TempDir()
	t.Setenv("AICROWD_API_TOKEN", "tok")
	t.Setenv("AICROWD_API_BASE_URL", ts.URL)
	path := writeConfig(t, fmt.Sprintf("logger:\n  level: error\nrunner:\n  game_data_dir: %s\nsession:\n  state_dir: %s\n", t.TempDir(), stateDir))
	return api, path, session.NewFileStore(stateDir)
}

func TestSessionStatusCmd(t *testing.T) {
	api, path, _ := sessionTestSetup(t)

	out, err := executeCommand(t, context.Background(), "--config", path, "session", "status", "s-9")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:    s-9")
	assert.Contains(t, out, "Submission: 77")
	assert.Contains(t, out, "Status:     RUNNING")
	assert.Contains(t, out, "http://mario:1")
	assert.Contains(t, out, "http://pokemon:2")
	assert.Equal(t, []string{"Token tok"}, api.auth)
}

func TestSessionStopCmd(t *testing.T) {
	t.Run("nothing saved", func(t *testing.T) {
		_, path, _ := sessionTestSetup(t)
		_, err := executeCommand(t, context.Background(), "--config", path, "session", "stop")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no session id given")
	})

	t.Run("stops and forgets the saved session", func(t *testing.T) {
		api, path, files := sessionTestSetup(t)
		require.NoError(t, files.Save("s-1"))

		out, err := executeCommand(t, context.Background(), "--config", path, "session", "stop")
		require.NoError(t, err)
		assert.Contains(t, out, "Stopped session s-1")
		assert.Equal(t, []string{"s-1"}, api.stopped)
		assert.NoFileExists(t, files.Path())
	})

	t.Run("an explicit id leaves the saved one alone", func(t *testing.T) {
		api, path, files := sessionTestSetup(t)
		require.NoError(t, files.Save("s-1"))

		_, err := executeCommand(t, context.Background(), "--config", path, "session", "stop", "s-2")
		require.NoError(t, err)
		assert.Equal(t, []string{"s-2"}, api.stopped)
		id, err := files.Load()
		require.NoError(t, err)
		assert.Equal(t, "s-1", id)
	})
}
