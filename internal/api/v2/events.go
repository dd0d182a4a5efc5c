// internal/api/v2/events.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/errors"
)

// IngestEvent accepts one telemetry event, persists it and fans it out to
// live subscribers and the alert relay.
func (c *Controller) IngestEvent(ctx echo.Context) error {
	var event datastore.TelemetryEvent
	if err := ctx.Bind(&event); err != nil {
		c.rejectEvent()
		return c.HandleError(ctx, err, "invalid event payload", http.StatusBadRequest)
	}
	if event.MissionID == "" || event.VehicleID == "" {
		c.rejectEvent()
		return c.HandleError(ctx,
			errors.Newf("missionId and vehicleId are required").
				Component("api").
				Category(errors.CategoryValidation).
				Build(),
			"invalid event payload", http.StatusBadRequest)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	start := time.Now()
	if err := c.Hub.Publish(&event); err != nil {
		c.rejectEvent()
		return c.HandleError(ctx, err, "failed to ingest event", mapStoreError(err))
	}
	if c.metrics != nil && c.metrics.Ingest != nil {
		c.metrics.Ingest.IncrementEventsAccepted()
		c.metrics.Ingest.ObserveSaveDuration(time.Since(start).Seconds())
	}

	if c.Alerts != nil {
		c.Alerts.Process(&event)
	}

	return ctx.JSON(http.StatusCreated, &event)
}

func (c *Controller) rejectEvent() {
	if c.metrics != nil && c.metrics.Ingest != nil {
		c.metrics.Ingest.IncrementEventsRejected()
	}
}
