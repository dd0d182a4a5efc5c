// Package metrics provides custom Prometheus metrics for various components of the SeaWatch-Go application.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics contains all Prometheus metrics related to the distribution hub.
type HubMetrics struct {
	ActiveConnections prometheus.Gauge
	Subscriptions     prometheus.Gauge
	EventsDelivered   prometheus.Counter
	EventsDropped     prometheus.Counter
	DeadSubscriptions prometheus.Counter
	registry          *prometheus.Registry
}

// NewHubMetrics creates a new instance of HubMetrics.
// It requires a Prometheus registry to register the metrics.
func NewHubMetrics(registry *prometheus.Registry) (*HubMetrics, error) {
	m := &HubMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Hub metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Hub metrics: %w", err)
	}
	return m, nil
}

func (m *HubMetrics) initMetrics() error {
	m.ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_connections",
		Help: "Current number of live connections on the distribution hub.",
	})

	m.Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_subscriptions",
		Help: "Current number of (connection, vehicle) subscriptions.",
	})

	m.EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_events_delivered_total",
		Help: "Total number of events enqueued to connections.",
	})

	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_events_dropped_total",
		Help: "Total number of events dropped due to full connection queues.",
	})

	m.DeadSubscriptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_dead_subscriptions_reaped_total",
		Help: "Total number of subscriptions removed because their connection was gone.",
	})

	return nil
}

// IncrementEventsDelivered increases the delivered events counter by one.
func (m *HubMetrics) IncrementEventsDelivered() {
	m.EventsDelivered.Inc()
}

// IncrementEventsDropped increases the dropped events counter by one.
func (m *HubMetrics) IncrementEventsDropped() {
	m.EventsDropped.Inc()
}

// IncrementDeadSubscriptions increases the reaped subscriptions counter by one.
func (m *HubMetrics) IncrementDeadSubscriptions() {
	m.DeadSubscriptions.Inc()
}

// SetActiveConnections updates the active connection gauge.
func (m *HubMetrics) SetActiveConnections(n float64) {
	m.ActiveConnections.Set(n)
}

// SetSubscriptions updates the subscriptions gauge.
func (m *HubMetrics) SetSubscriptions(n float64) {
	m.Subscriptions.Set(n)
}

// Collect implements the prometheus.Collector interface.
func (m *HubMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ActiveConnections
	ch <- m.Subscriptions
	ch <- m.EventsDelivered
	ch <- m.EventsDropped
	ch <- m.DeadSubscriptions
}

// Describe implements the prometheus.Collector interface.
func (m *HubMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ActiveConnections.Desc()
	ch <- m.Subscriptions.Desc()
	ch <- m.EventsDelivered.Desc()
	ch <- m.EventsDropped.Desc()
	ch <- m.DeadSubscriptions.Desc()
}
