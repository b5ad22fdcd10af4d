package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/gameserver"
	"github.com/xkilldash9x/orak-cli/internal/observability"
)

// Launcher runs the game servers of a local evaluation in-process.
type Launcher struct {
	cfg    config.Interface
	logger *zap.Logger

	mu      sync.Mutex
	servers map[schemas.GameID]*gameserver.Server
}

// NewLauncher creates a launcher.
func NewLauncher(cfg config.Interface, logger *zap.Logger) *Launcher {
	return &Launcher{
		cfg:     cfg,
		logger:  logger.Named("launcher"),
		servers: make(map[schemas.GameID]*gameserver.Server),
	}
}

// Start returns the server URL of every game. Games configured with games.<id>.url
// use that external server; the rest are started on their local port. When any
// game cannot be started, the servers already running are stopped.
func (l *Launcher) Start(ctx context.Context, games []schemas.GameID) (map[schemas.GameID]string, error) {
	urls := make(map[schemas.GameID]string, len(games))
	rc := l.cfg.Runner()
	for _, id := range games {
		settings := l.cfg.Games()[string(id)]
		if settings.URL != "" {
			l.logger.Info("Using external game server", observability.Game(id), zap.String("url", settings.URL))
			urls[id] = settings.URL
			continue
		}
		srv, err := l.startServer(id, settings, rc)
		if err != nil {
			stopErr := l.StopAll(ctx)
			return nil, errors.Join(err, stopErr)
		}
		urls[id] = srv.URL()
	}
	return urls, nil
}

func (l *Launcher) startServer(id schemas.GameID, settings config.GameSettings, rc config.RunnerConfig) (*gameserver.Server, error) {
	factory, err := gameserver.BuiltinFactory(id, settings)
	if err != nil {
		return nil, fmt.Errorf("cannot run '%s' locally: %w; set games.%s.url to an external game server", id, err, id)
	}
	opts := gameserver.LogicOptionsFor(id, settings, rc.MaxEpisodes, GameDir(rc.GameDataDir, id))
	logic, err := gameserver.NewLogic(factory, opts, l.logger)
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", game.Port(rc.BasePort, id))
	srv := gameserver.NewServer(logic, addr, l.logger)
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("failed to start game server for '%s': %w", id, err)
	}

	l.mu.Lock()
	l.servers[id] = srv
	l.mu.Unlock()
	l.logger.Info("Started local game server", observability.Game(id), zap.String("url", srv.URL()))
	return srv, nil
}

// StopAll shuts down every server started by the launcher.
func (l *Launcher) StopAll(ctx context.Context) error {
	l.mu.Lock()
	servers := l.servers
	l.servers = make(map[schemas.GameID]*gameserver.Server)
	l.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gameserver.ShutdownTimeout)
	defer cancel()

	var errs []error
	for id, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
