package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains all Prometheus metrics related to telemetry ingest.
type IngestMetrics struct {
	EventsAccepted prometheus.Counter
	EventsRejected prometheus.Counter
	SaveDuration   prometheus.Histogram
	registry       *prometheus.Registry
}

// NewIngestMetrics creates a new instance of IngestMetrics.
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Ingest metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Ingest metrics: %w", err)
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() error {
	m.EventsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_accepted_total",
		Help: "Total number of telemetry events accepted and stored.",
	})

	m.EventsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_rejected_total",
		Help: "Total number of telemetry events rejected as client errors.",
	})

	m.SaveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_save_duration_seconds",
		Help:    "Duration of event persistence in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	return nil
}

// IncrementEventsAccepted increases the accepted events counter by one.
func (m *IngestMetrics) IncrementEventsAccepted() {
	m.EventsAccepted.Inc()
}

// IncrementEventsRejected increases the rejected events counter by one.
func (m *IngestMetrics) IncrementEventsRejected() {
	m.EventsRejected.Inc()
}

// ObserveSaveDuration records the duration of one event save.
func (m *IngestMetrics) ObserveSaveDuration(seconds float64) {
	m.SaveDuration.Observe(seconds)
}

// Collect implements the prometheus.Collector interface.
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.EventsAccepted
	ch <- m.EventsRejected
	ch <- m.SaveDuration
}

// Describe implements the prometheus.Collector interface.
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.EventsAccepted.Desc()
	ch <- m.EventsRejected.Desc()
	ch <- m.SaveDuration.Desc()
}
