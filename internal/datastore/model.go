// model.go this code defines the data model for the application
package datastore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Mission lifecycle states.
const (
	MissionStatusPlanned   = "planned"
	MissionStatusActive    = "active"
	MissionStatusCompleted = "completed"
)

// Event categories used by replay filtering and the alert relay.
const (
	CategoryTelemetry     = "telemetry"
	CategoryDetection     = "detection"
	CategoryViolation     = "violation"
	CategoryEnvironmental = "environmental"
)

// Mission represents a bounded operational run of one or more vehicles.
type Mission struct {
	ID        string     `gorm:"primaryKey;size:64" json:"id"`
	Name      string     `json:"name"`
	Status    string     `gorm:"size:16;index" json:"status"`
	StartTime time.Time  `gorm:"index" json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"` // nil while the mission is active

	Vehicles []MissionVehicle `gorm:"foreignKey:MissionID;constraint:OnDelete:CASCADE" json:"vehicles,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MissionVehicle ties a vehicle identifier to a mission.
type MissionVehicle struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	MissionID string `gorm:"index;size:64;not null" json:"missionId"`
	VehicleID string `gorm:"index;size:64;not null" json:"vehicleId"`
}

// MetricsMap stores an open map of numeric sensor readings as a JSON column.
type MetricsMap map[string]float64

// Value implements driver.Valuer so gorm can persist the map as JSON.
func (m MetricsMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for reading the JSON column back.
func (m *MetricsMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metrics column type %T", value)
	}
}

// TelemetryEvent represents one immutable, timestamped observation from a
// vehicle within a mission. Events are created once at ingest and never
// mutated afterwards.
type TelemetryEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MissionID string    `gorm:"index:idx_events_mission_ts;size:64;not null" json:"missionId"`
	VehicleID string    `gorm:"index:idx_events_vehicle_ts;size:64;not null" json:"vehicleId"`
	Timestamp time.Time `gorm:"index:idx_events_mission_ts;index:idx_events_vehicle_ts;not null" json:"timestamp"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depth     float64 `json:"depth"`

	Metrics MetricsMap `gorm:"type:text" json:"metrics,omitempty"`

	Detections []Detection `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"detections,omitempty"`
	Violations []Violation `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"violations,omitempty"`
}

// Detection represents a species sighting attached to a telemetry event.
type Detection struct {
	ID             uint    `gorm:"primaryKey" json:"-"`
	EventID        uint    `gorm:"index;not null" json:"-"`
	CommonName     string  `gorm:"size:128" json:"commonName"`
	ScientificName string  `gorm:"index;size:128" json:"scientificName"`
	Confidence     float64 `json:"confidence"`

	// Optional bounding region in frame coordinates; all zero when absent.
	BoundsX float64 `json:"boundsX,omitempty"`
	BoundsY float64 `json:"boundsY,omitempty"`
	BoundsW float64 `json:"boundsW,omitempty"`
	BoundsH float64 `json:"boundsH,omitempty"`
}

// Violation represents a zone or threshold breach attached to a telemetry event.
type Violation struct {
	ID       uint    `gorm:"primaryKey" json:"-"`
	EventID  uint    `gorm:"index;not null" json:"-"`
	Kind     string  `gorm:"size:32" json:"kind"` // "zone" or "threshold"
	Zone     string  `gorm:"size:128" json:"zone,omitempty"`
	Metric   string  `gorm:"size:64" json:"metric,omitempty"`
	Measured float64 `json:"measured"`
	Limit    float64 `gorm:"column:limit_value" json:"limit"`
}

// Categories returns the set of categories this event belongs to. Every
// event carries the telemetry category; the others depend on its payload.
func (e *TelemetryEvent) Categories() []string {
	categories := []string{CategoryTelemetry}
	if len(e.Detections) > 0 {
		categories = append(categories, CategoryDetection)
	}
	if len(e.Violations) > 0 {
		categories = append(categories, CategoryViolation)
	}
	if len(e.Metrics) > 0 {
		categories = append(categories, CategoryEnvironmental)
	}
	return categories
}

// HasCategory reports whether the event belongs to the given category.
func (e *TelemetryEvent) HasCategory(category string) bool {
	switch category {
	case CategoryTelemetry:
		return true
	case CategoryDetection:
		return len(e.Detections) > 0
	case CategoryViolation:
		return len(e.Violations) > 0
	case CategoryEnvironmental:
		return len(e.Metrics) > 0
	default:
		return false
	}
}

// ImageCache represents cached species image metadata from the external catalog.
type ImageCache struct {
	ID             uint   `gorm:"primaryKey"`
	ScientificName string `gorm:"uniqueIndex;size:128;not null"`
	ProviderName   string `gorm:"size:32"`
	Outcome        string `gorm:"size:16"` // "success", "empty" or "error"
	URL            string
	LicenseName    string
	LicenseURL     string
	AuthorName     string
	AuthorURL      string
	CachedAt       time.Time `gorm:"index"`
}
