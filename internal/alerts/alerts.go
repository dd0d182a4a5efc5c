// Package alerts turns detections and zone violations carried by telemetry
// events into alert notifications. Alerts are delivered to observers the
// moment the event is processed; species imagery is attached asynchronously
// afterwards so a slow or unavailable image catalog can never delay an alert.
package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/imageprovider"
	"github.com/seawatch/seawatch-go/internal/logging"
	"github.com/seawatch/seawatch-go/internal/mqtt"
)

// Alert kinds.
const (
	KindDetection = "detection"
	KindViolation = "violation"
)

// enrichTimeout bounds the asynchronous image lookup per alert.
const enrichTimeout = 30 * time.Second

// Alert is one notification derived from a telemetry event. A detection
// alert may be delivered twice: first without imagery, then again with
// Enriched set once the species image has been resolved.
type Alert struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	MissionID string    `json:"missionId"`
	VehicleID string    `json:"vehicleId"`
	Timestamp time.Time `json:"timestamp"`
	Instance  string    `json:"instance,omitempty"`

	// Detection fields
	CommonName     string  `json:"commonName,omitempty"`
	ScientificName string  `json:"scientificName,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`

	// Violation fields
	ViolationKind string  `json:"violationKind,omitempty"`
	Zone          string  `json:"zone,omitempty"`
	Metric        string  `json:"metric,omitempty"`
	Measured      float64 `json:"measured,omitempty"`
	Limit         float64 `json:"limit,omitempty"`

	Image    *imageprovider.SpeciesImage `json:"image,omitempty"`
	Enriched bool                        `json:"enriched"`
}

// Observer receives alerts. It is called from the relay's processing path
// and must return quickly.
type Observer func(Alert)

// Relay fans alerts out to registered observers and, optionally, an MQTT
// topic. A nil image cache disables enrichment; a nil publisher disables
// MQTT output.
type Relay struct {
	images    *imageprovider.SpeciesImageCache
	publisher mqtt.Client
	topic     string
	instance  string

	mu        sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewRelay creates an alert relay. images, publisher and topic are optional.
func NewRelay(images *imageprovider.SpeciesImageCache, publisher mqtt.Client, topic, instance string) *Relay {
	return &Relay{
		images:    images,
		publisher: publisher,
		topic:     topic,
		instance:  instance,
		observers: make(map[uint64]Observer),
		logger:    logging.ForService("alerts"),
	}
}

// Register adds an observer and returns a function that removes it.
func (r *Relay) Register(fn Observer) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Process derives alerts from the event and delivers them. Detection alerts
// go out immediately and are enriched with species imagery in the
// background; a second, enriched delivery follows when imagery is found.
func (r *Relay) Process(event *datastore.TelemetryEvent) {
	if event == nil {
		return
	}

	for i := range event.Detections {
		d := &event.Detections[i]
		alert := Alert{
			ID:             uuid.NewString(),
			Kind:           KindDetection,
			MissionID:      event.MissionID,
			VehicleID:      event.VehicleID,
			Timestamp:      event.Timestamp,
			Instance:       r.instance,
			CommonName:     d.CommonName,
			ScientificName: d.ScientificName,
			Confidence:     d.Confidence,
		}
		r.deliver(alert)
		if r.images != nil && d.ScientificName != "" {
			r.wg.Add(1)
			go r.enrich(alert)
		}
	}

	for i := range event.Violations {
		v := &event.Violations[i]
		r.deliver(Alert{
			ID:            uuid.NewString(),
			Kind:          KindViolation,
			MissionID:     event.MissionID,
			VehicleID:     event.VehicleID,
			Timestamp:     event.Timestamp,
			Instance:      r.instance,
			ViolationKind: v.Kind,
			Zone:          v.Zone,
			Metric:        v.Metric,
			Measured:      v.Measured,
			Limit:         v.Limit,
		})
	}
}

// enrich resolves the species image and re-delivers the alert with imagery
// attached. Lookup failures and unlisted species produce no second delivery.
func (r *Relay) enrich(alert Alert) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	img, err := r.images.Get(ctx, alert.ScientificName)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("alert enrichment failed",
				"alert_id", alert.ID, "scientific_name", alert.ScientificName, "error", err)
		}
		return
	}
	if !img.Found() {
		return
	}

	alert.Image = &img
	alert.Enriched = true
	r.deliver(alert)
}

// deliver notifies observers and publishes to MQTT when configured.
func (r *Relay) deliver(alert Alert) {
	r.mu.RLock()
	observers := make([]Observer, 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.RUnlock()

	for _, fn := range observers {
		fn(alert)
	}

	if r.publisher != nil && r.topic != "" {
		r.wg.Add(1)
		go r.publish(alert)
	}
}

// publish sends the alert to the MQTT topic. Failures only log; broker
// trouble must never surface into the delivery path.
func (r *Relay) publish(alert Alert) {
	defer r.wg.Done()

	payload, err := json.Marshal(&alert)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("failed to encode alert", "alert_id", alert.ID, "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, r.topic, string(payload)); err != nil {
		if r.logger != nil {
			r.logger.Warn("failed to publish alert",
				"alert_id", alert.ID, "topic", r.topic, "error", err)
		}
	}
}

// Wait blocks until all in-flight enrichment and publish work has finished.
// Intended for shutdown and tests.
func (r *Relay) Wait() {
	r.wg.Wait()
}
