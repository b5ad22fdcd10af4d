// Package gameserver exposes an in-process game over the command protocol used by
// the runner: ping, load-obs, dispatch-final-action and get-game-config.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// ShutdownTimeout bounds graceful shutdown in Run.
const ShutdownTimeout = 10 * time.Second

// MaxConnections caps concurrent client connections per game server.
const MaxConnections = 32

// Server hosts the command protocol of one game.
type Server struct {
	addr       string
	logger     *zap.Logger
	handlers   *Handlers
	httpServer *http.Server
	listener   net.Listener
	done       chan error
}

// NewServer creates a server for logic listening on addr. Port 0 picks a free port.
func NewServer(logic *Logic, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		logger:   logger.Named("gameserver"),
		handlers: NewHandlers(logger, logic),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Group(func(r chi.Router) {
		r.Use(requestLogger(s.logger))
		s.handlers.RegisterRoutes(r)
	})
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = netutil.LimitListener(ln, MaxConnections)
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan error, 1)

	s.logger.Info("Game server starting", zap.String("address", ln.Addr().String()), zap.Int("max_connections", MaxConnections))
	go func() {
		err := s.httpServer.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
		close(s.done)
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the base URL clients should use.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Shutdown stops accepting connections and waits for in-flight commands.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("game server shutdown: %w", err)
	}
	if err := <-s.done; err != nil {
		return fmt.Errorf("game server stopped with error: %w", err)
	}
	s.logger.Info("Game server stopped", zap.String("address", s.Addr()))
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case err := <-s.done:
		if err != nil {
			return fmt.Errorf("game server stopped with error: %w", err)
		}
		return nil
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// requestLogger logs every request through zap instead of the standard logger.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
