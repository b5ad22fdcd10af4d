// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "orak"

// Metrics exposes Prometheus collectors describing evaluation activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal    *prometheus.CounterVec
	episodesTotal *prometheus.CounterVec
	agentLatency  *prometheus.HistogramVec
	llmAttempts   *prometheus.CounterVec
	llmFallbacks  *prometheus.CounterVec
	gameScore     *prometheus.GaugeVec
}

// NewMetrics builds a Metrics instance on a fresh registry, so repeated
// construction (tests, multiple runs in one process) never collides.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "steps_total",
			Help:      "Number of game steps dispatched, by game.",
		}, []string{"game"}),
		episodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "episodes_total",
			Help:      "Number of finished episodes, by game.",
		}, []string{"game"}),
		agentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "agent",
			Name:      "act_duration_seconds",
			Help:      "Time spent in Agent.Act per step.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"game"}),
		llmAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "agent",
			Name:      "llm_attempts_total",
			Help:      "LLM generation attempts, by game and outcome (valid, invalid, error).",
		}, []string{"game", "outcome"}),
		llmFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "agent",
			Name:      "fallbacks_total",
			Help:      "Steps where the agent returned the fallback action.",
		}, []string{"game"}),
		gameScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "game_score",
			Help:      "Latest score reported by a game server.",
		}, []string{"game"}),
	}
	reg.MustRegister(m.stepsTotal, m.episodesTotal, m.agentLatency, m.llmAttempts, m.llmFallbacks, m.gameScore)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveStep records a dispatched step and how long the agent took to choose it.
func (m *Metrics) ObserveStep(game string, actDuration time.Duration, score float64) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(game).Inc()
	m.agentLatency.WithLabelValues(game).Observe(actDuration.Seconds())
	m.gameScore.WithLabelValues(game).Set(score)
}

// IncEpisode counts a finished episode.
func (m *Metrics) IncEpisode(game string) {
	if m == nil {
		return
	}
	m.episodesTotal.WithLabelValues(game).Inc()
}

// IncLLMAttempt counts one generation attempt with its outcome.
func (m *Metrics) IncLLMAttempt(game, outcome string) {
	if m == nil {
		return
	}
	m.llmAttempts.WithLabelValues(game, outcome).Inc()
}

// IncFallback counts a step answered with the fallback action.
func (m *Metrics) IncFallback(game string) {
	if m == nil {
		return
	}
	m.llmFallbacks.WithLabelValues(game).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, m *Metrics, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening.", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
