package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ImageProviderMetrics contains all Prometheus metrics related to the species image provider.
type ImageProviderMetrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	ImageDownloads   prometheus.Counter
	DownloadErrors   prometheus.Counter
	EmptyResults     prometheus.Counter
	CoalescedWaits   prometheus.Counter
	DownloadDuration prometheus.Histogram
	registry         *prometheus.Registry
}

// NewImageProviderMetrics creates a new instance of ImageProviderMetrics.
// It requires a Prometheus registry to register the metrics.
func NewImageProviderMetrics(registry *prometheus.Registry) (*ImageProviderMetrics, error) {
	m := &ImageProviderMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize ImageProvider metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ImageProvider metrics: %w", err)
	}
	return m, nil
}

func (m *ImageProviderMetrics) initMetrics() error {
	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_provider_cache_hits_total",
		Help: "Total number of cache hits.",
	})

	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_provider_cache_misses_total",
		Help: "Total number of cache misses.",
	})

	m.ImageDownloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_provider_downloads_total",
		Help: "Total number of catalog lookups issued.",
	})

	m.DownloadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_provider_download_errors_total",
		Help: "Total number of failed catalog lookups.",
	})

	m.EmptyResults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_provider_empty_results_total",
		Help: "Total number of catalog lookups that returned no images.",
	})

	m.CoalescedWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_provider_coalesced_waits_total",
		Help: "Total number of lookups that waited on an in-flight request.",
	})

	m.DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "image_provider_download_duration_seconds",
		Help:    "Duration of catalog lookups in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	return nil
}

// IncrementCacheHits increases the cache hit counter by one.
func (m *ImageProviderMetrics) IncrementCacheHits() {
	m.CacheHits.Inc()
}

// IncrementCacheMisses increases the cache miss counter by one.
func (m *ImageProviderMetrics) IncrementCacheMisses() {
	m.CacheMisses.Inc()
}

// IncrementImageDownloads increases the download counter by one.
func (m *ImageProviderMetrics) IncrementImageDownloads() {
	m.ImageDownloads.Inc()
}

// IncrementDownloadErrors increases the download error counter by one.
func (m *ImageProviderMetrics) IncrementDownloadErrors() {
	m.DownloadErrors.Inc()
}

// IncrementEmptyResults increases the empty result counter by one.
func (m *ImageProviderMetrics) IncrementEmptyResults() {
	m.EmptyResults.Inc()
}

// IncrementCoalescedWaits increases the coalesced wait counter by one.
func (m *ImageProviderMetrics) IncrementCoalescedWaits() {
	m.CoalescedWaits.Inc()
}

// ObserveDownloadDuration records the duration of one catalog lookup.
func (m *ImageProviderMetrics) ObserveDownloadDuration(seconds float64) {
	m.DownloadDuration.Observe(seconds)
}

// Collect implements the prometheus.Collector interface.
func (m *ImageProviderMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.CacheHits
	ch <- m.CacheMisses
	ch <- m.ImageDownloads
	ch <- m.DownloadErrors
	ch <- m.EmptyResults
	ch <- m.CoalescedWaits
	ch <- m.DownloadDuration
}

// Describe implements the prometheus.Collector interface.
func (m *ImageProviderMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.CacheHits.Desc()
	ch <- m.CacheMisses.Desc()
	ch <- m.ImageDownloads.Desc()
	ch <- m.DownloadErrors.Desc()
	ch <- m.EmptyResults.Desc()
	ch <- m.CoalescedWaits.Desc()
	ch <- m.DownloadDuration.Desc()
}
