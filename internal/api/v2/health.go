// internal/api/v2/health.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Connections   int     `json:"connections"`
	Sessions      int     `json:"sessions"`
}

// GetHealth reports process liveness and a few live counters.
func (c *Controller) GetHealth(ctx echo.Context) error {
	resp := &HealthResponse{
		Status:        "ok",
		Version:       c.Settings.Version,
		UptimeSeconds: time.Since(c.startTime).Seconds(),
	}
	if c.Hub != nil {
		resp.Connections = c.Hub.ConnectionCount()
	}
	if c.Replay != nil {
		resp.Sessions = c.Replay.SessionCount()
	}
	return ctx.JSON(http.StatusOK, resp)
}
