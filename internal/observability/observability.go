// Package observability provides metrics and monitoring capabilities for the SeaWatch-Go application.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seawatch/seawatch-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry      *prometheus.Registry
	Hub           *metrics.HubMetrics
	Ingest        *metrics.IngestMetrics
	Replay        *metrics.ReplayMetrics
	ImageProvider *metrics.ImageProviderMetrics
	MQTT          *metrics.MQTTMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	hubMetrics, err := metrics.NewHubMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Hub metrics: %w", err)
	}

	ingestMetrics, err := metrics.NewIngestMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ingest metrics: %w", err)
	}

	replayMetrics, err := metrics.NewReplayMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Replay metrics: %w", err)
	}

	imageProviderMetrics, err := metrics.NewImageProviderMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create ImageProvider metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:      registry,
		Hub:           hubMetrics,
		Ingest:        ingestMetrics,
		Replay:        replayMetrics,
		ImageProvider: imageProviderMetrics,
		MQTT:          mqttMetrics,
	}, nil
}

// Handler returns an HTTP handler exposing the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
