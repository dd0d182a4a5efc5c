// internal/api/v2/replay.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/seawatch/seawatch-go/internal/errors"
	"github.com/seawatch/seawatch-go/internal/replay"
)

// OpenReplayRequest is the body of POST /replay.
type OpenReplayRequest struct {
	MissionID string `json:"missionId"`
}

// OpenReplay creates a replay session over a mission's stored events.
func (c *Controller) OpenReplay(ctx echo.Context) error {
	var req OpenReplayRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid replay request", http.StatusBadRequest)
	}
	if req.MissionID == "" {
		return c.HandleError(ctx,
			errors.Newf("missionId is required").
				Component("api").
				Category(errors.CategoryValidation).
				Build(),
			"invalid replay request", http.StatusBadRequest)
	}

	// Opening replay on an unknown mission is a 404, same as reading it.
	if _, err := c.DS.GetMission(req.MissionID); err != nil {
		return c.HandleError(ctx, err, "failed to open replay", mapStoreError(err))
	}

	state, err := c.Replay.Open(req.MissionID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to open replay", mapStoreError(err))
	}
	return ctx.JSON(http.StatusCreated, state)
}

// GetReplayState returns the session's current playback state, advancing
// its computed position first.
func (c *Controller) GetReplayState(ctx echo.Context) error {
	state, err := c.Replay.State(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to read replay state", mapStoreError(err))
	}
	return ctx.JSON(http.StatusOK, state)
}

// CloseReplay destroys a replay session.
func (c *Controller) CloseReplay(ctx echo.Context) error {
	if err := c.Replay.Close(ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "failed to close replay", mapStoreError(err))
	}
	return ctx.NoContent(http.StatusNoContent)
}

// StartReplay begins playback from the first event.
func (c *Controller) StartReplay(ctx echo.Context) error {
	return c.replayOp(ctx, c.Replay.Start)
}

// PauseReplay freezes playback at the current position.
func (c *Controller) PauseReplay(ctx echo.Context) error {
	return c.replayOp(ctx, c.Replay.Pause)
}

// ResumeReplay continues playback from the frozen position.
func (c *Controller) ResumeReplay(ctx echo.Context) error {
	return c.replayOp(ctx, c.Replay.Resume)
}

// StopReplay resets playback to the first event.
func (c *Controller) StopReplay(ctx echo.Context) error {
	return c.replayOp(ctx, c.Replay.Stop)
}

func (c *Controller) replayOp(ctx echo.Context, op func(string) (*replay.SessionState, error)) error {
	state, err := op(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "replay operation failed", mapStoreError(err))
	}
	return ctx.JSON(http.StatusOK, state)
}

// SeekReplay moves playback to the requested event index.
func (c *Controller) SeekReplay(ctx echo.Context) error {
	var req struct {
		Index int `json:"index"`
	}
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid seek request", http.StatusBadRequest)
	}

	state, err := c.Replay.Seek(ctx.Param("id"), req.Index)
	if err != nil {
		return c.HandleError(ctx, err, "failed to seek", mapStoreError(err))
	}
	return ctx.JSON(http.StatusOK, state)
}

// SetReplaySpeed changes the playback speed multiplier.
func (c *Controller) SetReplaySpeed(ctx echo.Context) error {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid speed request", http.StatusBadRequest)
	}

	state, err := c.Replay.SetSpeed(ctx.Param("id"), req.Speed)
	if err != nil {
		return c.HandleError(ctx, err, "failed to set speed", mapStoreError(err))
	}
	return ctx.JSON(http.StatusOK, state)
}

// SetReplayFilters replaces the session's category filter set.
func (c *Controller) SetReplayFilters(ctx echo.Context) error {
	var req struct {
		Categories []string `json:"categories"`
	}
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid filters request", http.StatusBadRequest)
	}

	state, err := c.Replay.SetFilters(ctx.Param("id"), req.Categories)
	if err != nil {
		return c.HandleError(ctx, err, "failed to set filters", mapStoreError(err))
	}
	return ctx.JSON(http.StatusOK, state)
}
