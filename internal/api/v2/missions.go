// internal/api/v2/missions.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/errors"
)

// CreateMissionRequest is the body of POST /missions.
type CreateMissionRequest struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
}

// CreateMission registers a new mission in planned state.
func (c *Controller) CreateMission(ctx echo.Context) error {
	var req CreateMissionRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid mission payload", http.StatusBadRequest)
	}
	if req.ID == "" || req.Name == "" {
		return c.HandleError(ctx,
			errors.Newf("mission id and name are required").
				Component("api").
				Category(errors.CategoryValidation).
				Build(),
			"invalid mission payload", http.StatusBadRequest)
	}
	if req.StartTime.IsZero() {
		req.StartTime = time.Now()
	}

	mission := &datastore.Mission{
		ID:        req.ID,
		Name:      req.Name,
		Status:    datastore.MissionStatusPlanned,
		StartTime: req.StartTime,
	}
	if err := c.DS.CreateMission(mission); err != nil {
		return c.HandleError(ctx, err, "failed to create mission", mapStoreError(err))
	}

	if c.apiLogger != nil {
		c.apiLogger.Info("mission created", "mission_id", mission.ID, "name", mission.Name)
	}
	return ctx.JSON(http.StatusCreated, mission)
}

// ListMissions returns all missions.
func (c *Controller) ListMissions(ctx echo.Context) error {
	missions, err := c.DS.ListMissions()
	if err != nil {
		return c.HandleError(ctx, err, "failed to list missions", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, missions)
}

// GetMission returns one mission with its vehicles and event count.
func (c *Controller) GetMission(ctx echo.Context) error {
	id := ctx.Param("id")
	mission, err := c.DS.GetMission(id)
	if err != nil {
		return c.HandleError(ctx, err, "failed to get mission", mapStoreError(err))
	}

	count, err := c.DS.CountMissionEvents(id)
	if err != nil {
		return c.HandleError(ctx, err, "failed to count mission events", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"mission":    mission,
		"eventCount": count,
	})
}

// CompleteMission marks a mission completed. The end time is inferred from
// the mission's last event when the body does not provide one.
func (c *Controller) CompleteMission(ctx echo.Context) error {
	id := ctx.Param("id")

	var req struct {
		EndTime *time.Time `json:"endTime"`
	}
	// Missing or empty body is fine; the end time is then inferred.
	_ = ctx.Bind(&req)

	if err := c.DS.CompleteMission(id, req.EndTime); err != nil {
		return c.HandleError(ctx, err, "failed to complete mission", mapStoreError(err))
	}

	mission, err := c.DS.GetMission(id)
	if err != nil {
		return c.HandleError(ctx, err, "failed to get mission", mapStoreError(err))
	}
	return ctx.JSON(http.StatusOK, mission)
}

// DeleteMission removes a mission with all of its events and invalidates
// every replay session that was opened on it.
func (c *Controller) DeleteMission(ctx echo.Context) error {
	id := ctx.Param("id")

	if err := c.DS.DeleteMission(id); err != nil {
		return c.HandleError(ctx, err, "failed to delete mission", mapStoreError(err))
	}
	if c.Replay != nil {
		c.Replay.InvalidateMission(id)
	}

	if c.apiLogger != nil {
		c.apiLogger.Info("mission deleted", "mission_id", id)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetMissionEvents returns a mission's events, optionally restricted to a
// time range via the from/to query parameters (RFC 3339).
func (c *Controller) GetMissionEvents(ctx echo.Context) error {
	id := ctx.Param("id")

	if _, err := c.DS.GetMission(id); err != nil {
		return c.HandleError(ctx, err, "failed to get mission", mapStoreError(err))
	}

	fromStr, toStr := ctx.QueryParam("from"), ctx.QueryParam("to")
	if fromStr != "" || toStr != "" {
		from, to, err := parseTimeRange(fromStr, toStr)
		if err != nil {
			return c.HandleError(ctx, err, "invalid time range", http.StatusBadRequest)
		}
		events, err := c.DS.GetMissionEventsRange(id, from, to)
		if err != nil {
			return c.HandleError(ctx, err, "failed to query events", http.StatusInternalServerError)
		}
		return ctx.JSON(http.StatusOK, events)
	}

	events, err := c.DS.GetMissionEvents(id)
	if err != nil {
		return c.HandleError(ctx, err, "failed to query events", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, events)
}

// parseTimeRange parses the from/to query parameters, substituting the zero
// time and the far future for missing bounds.
func parseTimeRange(fromStr, toStr string) (from, to time.Time, err error) {
	to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return from, to, errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Context("parameter", "from").
				Build()
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return from, to, errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Context("parameter", "to").
				Build()
		}
	}
	return from, to, nil
}
