// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/errors"
)

// Sentinel errors returned by store operations. Callers match them with
// errors.Is to map to structured API responses.
var (
	ErrMissionNotFound = errors.Newf("mission not found").
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
	ErrMissionExists = errors.Newf("mission already exists").
				Component("datastore").
				Category(errors.CategoryConflict).
				Build()
)

// Interface abstracts the underlying database implementation and defines the
// operations available on the event store.
type Interface interface {
	Open() error
	Close() error

	// Missions
	CreateMission(mission *Mission) error
	GetMission(id string) (*Mission, error)
	ListMissions() ([]Mission, error)
	CompleteMission(id string, endTime *time.Time) error
	DeleteMission(id string) error

	// Telemetry events
	SaveEvent(event *TelemetryEvent) error
	GetMissionEvents(missionID string) ([]TelemetryEvent, error)
	GetMissionEventsRange(missionID string, from, to time.Time) ([]TelemetryEvent, error)
	CountMissionEvents(missionID string) (int64, error)
	GetLastEventForVehicle(vehicleID string) (*TelemetryEvent, error)

	// Species image cache
	SaveImageCache(cache *ImageCache) error
	GetImageCache(scientificName string) (*ImageCache, error)
	GetAllImageCaches() ([]ImageCache, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new store instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// CreateMission stores a new mission with its vehicle assignments.
func (ds *DataStore) CreateMission(mission *Mission) error {
	if mission.ID == "" {
		return errors.Newf("mission id must not be empty").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	if mission.Status == "" {
		mission.Status = MissionStatusPlanned
	}
	if mission.StartTime.IsZero() {
		mission.StartTime = time.Now()
	}

	var count int64
	if err := ds.DB.Model(&Mission{}).Where("id = ?", mission.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("checking for existing mission: %w", err)
	}
	if count > 0 {
		return ErrMissionExists
	}

	if err := ds.DB.Create(mission).Error; err != nil {
		return fmt.Errorf("creating mission: %w", err)
	}
	return nil
}

// GetMission retrieves a mission and its vehicle assignments by id.
func (ds *DataStore) GetMission(id string) (*Mission, error) {
	var mission Mission
	err := ds.DB.Preload("Vehicles").First(&mission, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMissionNotFound
		}
		return nil, fmt.Errorf("getting mission %s: %w", id, err)
	}
	return &mission, nil
}

// ListMissions returns all missions, most recently started first.
func (ds *DataStore) ListMissions() ([]Mission, error) {
	var missions []Mission
	err := ds.DB.Preload("Vehicles").Order("start_time DESC").Find(&missions).Error
	if err != nil {
		return nil, fmt.Errorf("listing missions: %w", err)
	}
	return missions, nil
}

// CompleteMission marks a mission completed. When endTime is nil the end is
// inferred from the mission's last stored event, falling back to now for a
// mission with no events.
func (ds *DataStore) CompleteMission(id string, endTime *time.Time) error {
	mission, err := ds.GetMission(id)
	if err != nil {
		return err
	}

	end := endTime
	if end == nil {
		var last TelemetryEvent
		err := ds.DB.Where("mission_id = ?", id).Order("timestamp DESC").First(&last).Error
		switch {
		case err == nil:
			end = &last.Timestamp
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := time.Now()
			end = &now
		default:
			return fmt.Errorf("finding last event for mission %s: %w", id, err)
		}
	}

	return ds.DB.Model(mission).
		Updates(map[string]any{"status": MissionStatusCompleted, "end_time": end}).Error
}

// DeleteMission removes a mission and purges all of its events.
func (ds *DataStore) DeleteMission(id string) error {
	if _, err := ds.GetMission(id); err != nil {
		return err
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return fmt.Errorf("starting transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Event children cascade via foreign keys; delete the detections and
	// violations explicitly for backends without enforced constraints.
	eventIDs := tx.Model(&TelemetryEvent{}).Select("id").Where("mission_id = ?", id)
	if err := tx.Where("event_id IN (?)", eventIDs).Delete(&Detection{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("purging detections: %w", err)
	}
	if err := tx.Where("event_id IN (?)", eventIDs).Delete(&Violation{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("purging violations: %w", err)
	}
	if err := tx.Where("mission_id = ?", id).Delete(&TelemetryEvent{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("purging events: %w", err)
	}
	if err := tx.Where("mission_id = ?", id).Delete(&MissionVehicle{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("purging vehicle assignments: %w", err)
	}
	if err := tx.Delete(&Mission{ID: id}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting mission: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("committing mission delete: %w", err)
	}
	return nil
}

// SaveEvent stores a telemetry event and its detections and violations as a
// single transaction. The referenced mission must exist; the event's vehicle
// is registered on the mission when seen for the first time, and a planned
// mission becomes active on its first event.
func (ds *DataStore) SaveEvent(event *TelemetryEvent) error {
	mission, err := ds.GetMission(event.MissionID)
	if err != nil {
		return err
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return fmt.Errorf("starting transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(event).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("saving event: %w", err)
	}

	known := false
	for i := range mission.Vehicles {
		if mission.Vehicles[i].VehicleID == event.VehicleID {
			known = true
			break
		}
	}
	if !known {
		mv := MissionVehicle{MissionID: event.MissionID, VehicleID: event.VehicleID}
		if err := tx.Create(&mv).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("registering vehicle on mission: %w", err)
		}
	}

	if mission.Status == MissionStatusPlanned {
		if err := tx.Model(&Mission{ID: mission.ID}).
			Update("status", MissionStatusActive).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("activating mission: %w", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("committing event save: %w", err)
	}
	return nil
}

// GetMissionEvents returns all events of a mission in timestamp order with
// detections and violations preloaded.
func (ds *DataStore) GetMissionEvents(missionID string) ([]TelemetryEvent, error) {
	if _, err := ds.GetMission(missionID); err != nil {
		return nil, err
	}

	var events []TelemetryEvent
	err := ds.DB.Preload("Detections").Preload("Violations").
		Where("mission_id = ?", missionID).
		Order("timestamp ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("getting events for mission %s: %w", missionID, err)
	}
	return events, nil
}

// GetMissionEventsRange returns a mission's events within [from, to] in
// timestamp order.
func (ds *DataStore) GetMissionEventsRange(missionID string, from, to time.Time) ([]TelemetryEvent, error) {
	var events []TelemetryEvent
	err := ds.DB.Preload("Detections").Preload("Violations").
		Where("mission_id = ? AND timestamp >= ? AND timestamp <= ?", missionID, from, to).
		Order("timestamp ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("getting event range for mission %s: %w", missionID, err)
	}
	return events, nil
}

// CountMissionEvents returns the number of stored events for a mission.
func (ds *DataStore) CountMissionEvents(missionID string) (int64, error) {
	var count int64
	err := ds.DB.Model(&TelemetryEvent{}).Where("mission_id = ?", missionID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting events for mission %s: %w", missionID, err)
	}
	return count, nil
}

// GetLastEventForVehicle returns the most recent event for a vehicle across
// all missions, or nil when the vehicle has produced nothing yet.
func (ds *DataStore) GetLastEventForVehicle(vehicleID string) (*TelemetryEvent, error) {
	var event TelemetryEvent
	err := ds.DB.Preload("Detections").Preload("Violations").
		Where("vehicle_id = ?", vehicleID).
		Order("timestamp DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting last event for vehicle %s: %w", vehicleID, err)
	}
	return &event, nil
}

// SaveImageCache upserts a species image cache entry.
func (ds *DataStore) SaveImageCache(cache *ImageCache) error {
	var existing ImageCache
	err := ds.DB.Where("scientific_name = ?", cache.ScientificName).First(&existing).Error
	switch {
	case err == nil:
		cache.ID = existing.ID
		return ds.DB.Save(cache).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ds.DB.Create(cache).Error
	default:
		return fmt.Errorf("saving image cache: %w", err)
	}
}

// GetImageCache retrieves a species image cache entry by scientific name.
func (ds *DataStore) GetImageCache(scientificName string) (*ImageCache, error) {
	var cache ImageCache
	err := ds.DB.Where("scientific_name = ?", scientificName).First(&cache).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting image cache: %w", err)
	}
	return &cache, nil
}

// GetAllImageCaches retrieves all species image cache entries.
func (ds *DataStore) GetAllImageCaches() ([]ImageCache, error) {
	var caches []ImageCache
	if err := ds.DB.Find(&caches).Error; err != nil {
		return nil, fmt.Errorf("getting all image caches: %w", err)
	}
	return caches, nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)
}

// performAutoMigration runs gorm auto-migration for all model types.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Mission{},
		&MissionVehicle{},
		&TelemetryEvent{},
		&Detection{},
		&Violation{},
		&ImageCache{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}
