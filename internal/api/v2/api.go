// internal/api/v2/api.go
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/seawatch/seawatch-go/internal/alerts"
	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/errors"
	"github.com/seawatch/seawatch-go/internal/hub"
	"github.com/seawatch/seawatch-go/internal/imageprovider"
	"github.com/seawatch/seawatch-go/internal/logging"
	"github.com/seawatch/seawatch-go/internal/observability"
	"github.com/seawatch/seawatch-go/internal/replay"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	Hub      *hub.Hub
	Replay   *replay.Manager
	Images   *imageprovider.SpeciesImageCache
	Alerts   *alerts.Relay

	metrics   *observability.Metrics
	apiLogger *slog.Logger
	startTime time.Time

	// SSE bookkeeping: client id -> hub connection
	streamMu sync.Mutex
	streams  map[string]*hub.Connection

	connectLimiter *ipRateLimiter
}

// New creates the API controller and registers all routes on e.
// images, alertRelay and metrics may be nil; the matching endpoints then
// respond 503 or are skipped.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	liveHub *hub.Hub, replayManager *replay.Manager,
	images *imageprovider.SpeciesImageCache, alertRelay *alerts.Relay,
	metrics *observability.Metrics,
) *Controller {
	c := &Controller{
		Echo:           e,
		DS:             ds,
		Settings:       settings,
		Hub:            liveHub,
		Replay:         replayManager,
		Images:         images,
		Alerts:         alertRelay,
		metrics:        metrics,
		apiLogger:      logging.ForService("api"),
		startTime:      time.Now(),
		streams:        make(map[string]*hub.Connection),
		connectLimiter: newIPRateLimiter(streamConnectRate, streamConnectBurst),
	}

	e.Use(middleware.Recover())
	if settings.WebServer.Debug {
		e.Use(middleware.Logger())
	}

	c.Group = e.Group("/api/v2")
	c.initRoutes()
	return c
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	// Health and metrics live outside the versioned group.
	c.Echo.GET("/health", c.GetHealth)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	// Missions
	c.Group.POST("/missions", c.CreateMission)
	c.Group.GET("/missions", c.ListMissions)
	c.Group.GET("/missions/:id", c.GetMission)
	c.Group.POST("/missions/:id/complete", c.CompleteMission)
	c.Group.DELETE("/missions/:id", c.DeleteMission)
	c.Group.GET("/missions/:id/events", c.GetMissionEvents)

	// Telemetry ingest and live stream
	c.Group.POST("/events", c.IngestEvent)
	c.Group.GET("/events/stream", c.StreamEvents)
	c.Group.POST("/events/stream/:clientId/subscribe", c.SubscribeVehicle)
	c.Group.POST("/events/stream/:clientId/unsubscribe", c.UnsubscribeVehicle)

	// Replay sessions
	c.Group.POST("/replay", c.OpenReplay)
	c.Group.GET("/replay/:id", c.GetReplayState)
	c.Group.DELETE("/replay/:id", c.CloseReplay)
	c.Group.POST("/replay/:id/start", c.StartReplay)
	c.Group.POST("/replay/:id/pause", c.PauseReplay)
	c.Group.POST("/replay/:id/resume", c.ResumeReplay)
	c.Group.POST("/replay/:id/stop", c.StopReplay)
	c.Group.POST("/replay/:id/seek", c.SeekReplay)
	c.Group.POST("/replay/:id/speed", c.SetReplaySpeed)
	c.Group.POST("/replay/:id/filters", c.SetReplayFilters)

	// Species enrichment
	c.Group.GET("/species/image", c.GetSpeciesImage)

	// Alerts
	c.Group.GET("/alerts/stream", c.StreamAlerts)
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HandleError logs err and writes a structured error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	if c.apiLogger != nil {
		c.apiLogger.Error(message,
			"error", err,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"code", code,
		)
	}
	return ctx.JSON(code, &ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    code,
	})
}

// mapStoreError translates well-known sentinel errors to HTTP status codes.
func mapStoreError(err error) int {
	switch {
	case errors.Is(err, datastore.ErrMissionNotFound), errors.Is(err, replay.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, datastore.ErrMissionExists):
		return http.StatusConflict
	case errors.Is(err, replay.ErrSessionInvalid):
		return http.StatusConflict
	case errors.Is(err, replay.ErrInvalidSpeed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
