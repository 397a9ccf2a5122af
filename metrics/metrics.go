// Package metrics provides Prometheus metrics for rating sessions and exports.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anatolykoptev/go-imagerate"
)

// Manager owns the imagerate collectors.
type Manager struct {
	namespace string
	registry  prometheus.Registerer
	buckets   []float64

	sessions       *prometheus.CounterVec
	scoringLatency prometheus.Histogram
	historySize    prometheus.Gauge
	exports        *prometheus.CounterVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry sets the registerer metrics are created on.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithHistogramBuckets sets custom buckets (seconds) for the scoring latency histogram.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// NewManager creates and registers the collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "imagerate",
		registry:  prometheus.DefaultRegisterer,
		buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.sessions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "sessions_total",
		Help:      "Rating sessions by outcome",
	}, []string{"outcome"})
	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "scoring_duration_seconds",
		Help:      "Latency of remote rate calls",
		Buckets:   m.buckets,
	})
	m.historySize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "history_records",
		Help:      "Records in the rating history after the last session",
	})
	m.exports = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "exports_total",
		Help:      "Export calls by kind and result",
	}, []string{"kind", "result"})

	return m
}

// Instrument wires the Manager into cfg's callbacks, chaining any already set.
func (m *Manager) Instrument(cfg *imagerate.Config) {
	prevDone, prevLatency, prevExport := cfg.OnSessionDone, cfg.OnScoreLatency, cfg.OnExport

	cfg.OnSessionDone = func(ev imagerate.SessionEvent) {
		m.SessionDone(ev)
		if prevDone != nil {
			prevDone(ev)
		}
	}
	cfg.OnScoreLatency = func(d time.Duration) {
		m.ScoreLatency(d)
		if prevLatency != nil {
			prevLatency(d)
		}
	}
	cfg.OnExport = func(ev imagerate.ExportEvent) {
		m.Export(ev)
		if prevExport != nil {
			prevExport(ev)
		}
	}
}

// SessionDone records a finished session.
func (m *Manager) SessionDone(ev imagerate.SessionEvent) {
	m.sessions.WithLabelValues(Outcome(ev)).Inc()
	if ev.State == imagerate.StatePersisted && ev.HistorySize > 0 {
		m.historySize.Set(float64(ev.HistorySize))
	}
}

// ScoreLatency observes one remote rate call.
func (m *Manager) ScoreLatency(d time.Duration) {
	m.scoringLatency.Observe(d.Seconds())
}

// Export records one export call.
func (m *Manager) Export(ev imagerate.ExportEvent) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	m.exports.WithLabelValues(ev.Kind, result).Inc()
}

// Outcome maps a session event to its metric label.
func Outcome(ev imagerate.SessionEvent) string {
	switch {
	case errors.Is(ev.Err, imagerate.ErrInvalidType):
		return "invalid_type"
	case errors.Is(ev.Err, imagerate.ErrTooLarge):
		return "too_large"
	case errors.Is(ev.Err, imagerate.ErrSuperseded):
		return "superseded"
	case ev.State == imagerate.StateFailed:
		return "scoring_unavailable"
	case ev.Inserted:
		return "recorded"
	default:
		return "not_recorded"
	}
}
