package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to the alert MQTT publisher.
type MQTTMetrics struct {
	MessagesPublished prometheus.Counter
	PublishErrors     prometheus.Counter
	ReconnectAttempts prometheus.Counter
	Connected         prometheus.Gauge
	registry          *prometheus.Registry
}

// NewMQTTMetrics creates a new instance of MQTTMetrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() error {
	m.MessagesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_published_total",
		Help: "Total number of MQTT messages published.",
	})

	m.PublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publish_errors_total",
		Help: "Total number of MQTT publish errors.",
	})

	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "Total number of MQTT reconnect attempts.",
	})

	m.Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connected",
		Help: "1 when the MQTT client is connected, 0 otherwise.",
	})

	return nil
}

// IncrementMessagesPublished increases the published messages counter by one.
func (m *MQTTMetrics) IncrementMessagesPublished() {
	m.MessagesPublished.Inc()
}

// IncrementPublishErrors increases the publish error counter by one.
func (m *MQTTMetrics) IncrementPublishErrors() {
	m.PublishErrors.Inc()
}

// IncrementReconnectAttempts increases the reconnect attempts counter by one.
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	m.ReconnectAttempts.Inc()
}

// SetConnected updates the connection gauge.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.MessagesPublished
	ch <- m.PublishErrors
	ch <- m.ReconnectAttempts
	ch <- m.Connected
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.MessagesPublished.Desc()
	ch <- m.PublishErrors.Desc()
	ch <- m.ReconnectAttempts.Desc()
	ch <- m.Connected.Desc()
}
