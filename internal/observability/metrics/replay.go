package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ReplayMetrics contains all Prometheus metrics related to replay sessions.
type ReplayMetrics struct {
	ActiveSessions  prometheus.Gauge
	SessionsOpened  prometheus.Counter
	SessionsEvicted prometheus.Counter
	registry        *prometheus.Registry
}

// NewReplayMetrics creates a new instance of ReplayMetrics.
func NewReplayMetrics(registry *prometheus.Registry) (*ReplayMetrics, error) {
	m := &ReplayMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Replay metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Replay metrics: %w", err)
	}
	return m, nil
}

func (m *ReplayMetrics) initMetrics() error {
	m.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_active_sessions",
		Help: "Current number of open replay sessions.",
	})

	m.SessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_sessions_opened_total",
		Help: "Total number of replay sessions opened.",
	})

	m.SessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_sessions_evicted_total",
		Help: "Total number of replay sessions evicted for idleness or mission deletion.",
	})

	return nil
}

// SetActiveSessions updates the active sessions gauge.
func (m *ReplayMetrics) SetActiveSessions(n float64) {
	m.ActiveSessions.Set(n)
}

// IncrementSessionsOpened increases the opened sessions counter by one.
func (m *ReplayMetrics) IncrementSessionsOpened() {
	m.SessionsOpened.Inc()
}

// IncrementSessionsEvicted increases the evicted sessions counter by one.
func (m *ReplayMetrics) IncrementSessionsEvicted() {
	m.SessionsEvicted.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *ReplayMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ActiveSessions
	ch <- m.SessionsOpened
	ch <- m.SessionsEvicted
}

// Describe implements the prometheus.Collector interface.
func (m *ReplayMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ActiveSessions.Desc()
	ch <- m.SessionsOpened.Desc()
	ch <- m.SessionsEvicted.Desc()
}
