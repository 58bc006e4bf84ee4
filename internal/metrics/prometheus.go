// Package metrics provides Prometheus metrics for the guessing game service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Guess outcome labels
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
)

// Manager owns the registry and every collector of the service.
type Manager struct {
	registry *prometheus.Registry

	guesses            *prometheus.CounterVec
	guessRejections    *prometheus.CounterVec
	cacheFailures      *prometheus.CounterVec
	turnGrants         prometheus.Counter
	leaderboardRebuild prometheus.Counter
	rebuildDuration    prometheus.Histogram
}

// Option applies a configuration option to the Manager.
type Option func(*options)

type options struct {
	namespace      string
	processMetrics bool
}

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		if namespace != "" {
			o.namespace = namespace
		}
	}
}

// WithProcessMetrics registers the Go runtime and process collectors.
func WithProcessMetrics() Option {
	return func(o *options) {
		o.processMetrics = true
	}
}

// NewManager creates a metrics manager backed by its own registry.
func NewManager(opts ...Option) *Manager {
	o := &options{namespace: "guessgame"}
	for _, opt := range opts {
		opt(o)
	}

	m := &Manager{registry: prometheus.NewRegistry()}
	if o.processMetrics {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.guesses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Subsystem: "game",
		Name:      "guesses_total",
		Help:      "Processed guesses by outcome.",
	}, []string{"outcome"})
	m.guessRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Subsystem: "game",
		Name:      "guess_rejections_total",
		Help:      "Guesses rejected before any turn was consumed, by reason.",
	}, []string{"reason"})
	m.cacheFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Subsystem: "cache",
		Name:      "failures_total",
		Help:      "Cache operations that failed and were absorbed, by operation.",
	}, []string{"op"})
	m.turnGrants = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: o.namespace,
		Subsystem: "game",
		Name:      "turn_grants_total",
		Help:      "Turn purchases applied.",
	})
	m.leaderboardRebuild = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: o.namespace,
		Subsystem: "leaderboard",
		Name:      "rebuilds_total",
		Help:      "Leaderboard rebuilds from the authoritative store.",
	})
	m.rebuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: o.namespace,
		Subsystem: "leaderboard",
		Name:      "rebuild_seconds",
		Help:      "Duration of leaderboard rebuilds.",
		Buckets:   prometheus.DefBuckets,
	})

	m.registry.MustRegister(
		m.guesses,
		m.guessRejections,
		m.cacheFailures,
		m.turnGrants,
		m.leaderboardRebuild,
		m.rebuildDuration,
	)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// IncGuess counts a processed guess.
func (m *Manager) IncGuess(won bool) {
	if m == nil {
		return
	}
	outcome := OutcomeLoss
	if won {
		outcome = OutcomeWin
	}
	m.guesses.WithLabelValues(outcome).Inc()
}

// IncGuessRejection counts a rejected guess.
func (m *Manager) IncGuessRejection(reason string) {
	if m == nil {
		return
	}
	m.guessRejections.WithLabelValues(reason).Inc()
}

// IncCacheFailure counts an absorbed cache failure.
func (m *Manager) IncCacheFailure(op string) {
	if m == nil {
		return
	}
	m.cacheFailures.WithLabelValues(op).Inc()
}

// IncTurnGrant counts a turn purchase.
func (m *Manager) IncTurnGrant() {
	if m == nil {
		return
	}
	m.turnGrants.Inc()
}

// ObserveRebuild records a completed leaderboard rebuild.
func (m *Manager) ObserveRebuild(d time.Duration) {
	if m == nil {
		return
	}
	m.leaderboardRebuild.Inc()
	m.rebuildDuration.Observe(d.Seconds())
}
