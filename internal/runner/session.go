package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// openSession resolves the remote session (flag, remembered file or a new one),
// waits for it to start and returns the server URL of every game.
func (r *Runner) openSession(ctx context.Context) (map[schemas.GameID]string, error) {
	id := r.cfg.Runner().SessionID
	r.deleteSessionFile = id == ""
	store := r.deps.SessionFile

	if id == "" && store != nil {
		prev, err := store.Load()
		if err != nil {
			r.logger.Warn("Could not read saved session id", zap.String("path", store.Path()), zap.Error(err))
		}
		if prev != "" {
			if r.ui.Confirm(fmt.Sprintf("Found previous session %s. Continue it?", prev), true) {
				r.ui.Event("Continuing previous session: " + prev)
				id = prev
			} else {
				r.ui.Event("Stopping previous session: " + prev)
				if err := r.deps.Sessions.Stop(ctx, prev); err != nil {
					r.logger.Warn("Failed to stop previous session", zap.String("session", prev), zap.Error(err))
				}
			}
		}
	}

	if id == "" {
		r.ui.Event("Creating new session...")
		info, err := r.deps.Sessions.Create(ctx)
		if err != nil {
			return nil, err
		}
		id = string(info.TaskID)
		r.ui.Event("Session created: " + id)
	}
	r.sessionID = id
	if store != nil {
		if err := store.Save(id); err != nil {
			r.logger.Warn("Could not save session id", zap.String("path", store.Path()), zap.Error(err))
		}
	}

	r.ui.Event(fmt.Sprintf("Waiting for session %s to start...", id))
	sc := r.cfg.Session()
	info, err := r.deps.Sessions.WaitForStart(ctx, id, sc.PollInterval, sc.StartTimeout, func(status string) {
		r.ui.Event(fmt.Sprintf("Session %s status: %s", id, status))
	})
	if err != nil {
		return nil, err
	}
	r.ui.SetSessionInfo(id, string(info.SubmissionID))
	r.ui.Event(fmt.Sprintf("Session %s is ready", id))

	urls := make(map[schemas.GameID]string, len(r.games))
	refreshed := false
	for _, g := range r.games {
		u, ok := info.URL(g)
		if !ok && !refreshed {
			// The start response may omit server URLs; ask once more.
			if info, err = r.deps.Sessions.Get(ctx, id); err != nil {
				return nil, err
			}
			refreshed = true
			u, ok = info.URL(g)
		}
		if !ok {
			return nil, fmt.Errorf("session %s has no server URL for '%s'", id, g)
		}
		urls[g] = u
	}
	return urls, nil
}

// cleanupSessionFile forgets the remembered session once a remote evaluation has
// fully succeeded. A session named on the command line is kept.
func (r *Runner) cleanupSessionFile(succeeded bool) {
	if r.local || !succeeded || !r.deleteSessionFile || r.deps.SessionFile == nil {
		return
	}
	if err := r.deps.SessionFile.Remove(); err != nil {
		r.ui.Warn(fmt.Sprintf("Failed to delete session file: %v", err))
		return
	}
	r.ui.Event("Session completed. Cleaning up saved session id.")
}
