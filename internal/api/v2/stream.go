// internal/api/v2/stream.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/seawatch/seawatch-go/internal/alerts"
	"github.com/seawatch/seawatch-go/internal/errors"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second

	// alertStreamBuffer bounds the per-client alert queue; when full the
	// newest alert is dropped for that client only.
	alertStreamBuffer = 64

	// Stream connects are rate limited per client IP so a reconnect storm
	// from one misbehaving client cannot exhaust hub connections.
	streamConnectRate  = rate.Limit(1)
	streamConnectBurst = 5
	limiterIdleEvict   = 10 * time.Minute
)

// ipRateLimiter hands out one token bucket per client IP.
type ipRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*ipLimiterEntry
	limit   rate.Limit
	burst   int
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		clients: make(map[string]*ipLimiterEntry),
		limit:   limit,
		burst:   burst,
	}
}

// allow reports whether the IP may connect now. Buckets idle for longer
// than limiterIdleEvict are dropped when a new IP shows up, so the map
// stays bounded by the set of recently active clients.
func (l *ipRateLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[ip]
	if !ok {
		for addr, e := range l.clients {
			if now.Sub(e.lastSeen) > limiterIdleEvict {
				delete(l.clients, addr)
			}
		}
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// streamRateExceeded writes the 429 reply for a throttled connect.
func (c *Controller) streamRateExceeded(ctx echo.Context) error {
	return c.HandleError(ctx,
		errors.Newf("too many stream connections").
			Component("api").
			Category(errors.CategoryBroadcast).
			Context("ip", ctx.RealIP()).
			Build(),
		"stream connect rate exceeded", http.StatusTooManyRequests)
}

// StreamEvents serves the live telemetry stream over SSE. The first message
// names the connection so the client can manage its subscriptions; optional
// initial subscriptions come from the vehicles query parameter.
func (c *Controller) StreamEvents(ctx echo.Context) error {
	if !c.connectLimiter.allow(ctx.RealIP()) {
		return c.streamRateExceeded(ctx)
	}

	conn := c.Hub.Connect()

	c.streamMu.Lock()
	c.streams[conn.ID] = conn
	c.streamMu.Unlock()

	defer func() {
		c.streamMu.Lock()
		delete(c.streams, conn.ID)
		c.streamMu.Unlock()
		c.Hub.Disconnect(conn)
	}()

	w := ctx.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	if err := c.writeSSE(w, rc, "connected", map[string]string{"clientId": conn.ID}); err != nil {
		return nil
	}

	if vehicles := ctx.QueryParam("vehicles"); vehicles != "" {
		for _, v := range strings.Split(vehicles, ",") {
			c.Hub.Subscribe(conn, strings.TrimSpace(v))
		}
	}

	heartbeat := c.Settings.Hub.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-conn.Events():
			if !ok {
				return nil
			}
			if err := c.writeSSE(w, rc, "telemetry", event); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := c.writeSSE(w, rc, "heartbeat", map[string]int64{"ts": time.Now().Unix()}); err != nil {
				return nil
			}
		case <-ctx.Request().Context().Done():
			return nil
		}
	}
}

// writeSSE writes one SSE message under a write deadline, so one stuck
// client cannot pin the handler goroutine.
func (c *Controller) writeSSE(w *echo.Response, rc *http.ResponseController, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	writeTimeout := c.Settings.Hub.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	// Best effort; not all writers support deadlines.
	_ = rc.SetWriteDeadline(time.Now().Add(writeTimeout))

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	_ = rc.SetWriteDeadline(time.Time{})
	return nil
}

// SubscribeVehicle adds a vehicle subscription to a live stream connection.
func (c *Controller) SubscribeVehicle(ctx echo.Context) error {
	return c.updateSubscription(ctx, true)
}

// UnsubscribeVehicle removes a vehicle subscription from a connection.
func (c *Controller) UnsubscribeVehicle(ctx echo.Context) error {
	return c.updateSubscription(ctx, false)
}

func (c *Controller) updateSubscription(ctx echo.Context, subscribe bool) error {
	clientID := ctx.Param("clientId")
	vehicleID := ctx.QueryParam("vehicle")
	if vehicleID == "" {
		return c.HandleError(ctx,
			errors.Newf("vehicle query parameter is required").
				Component("api").
				Category(errors.CategoryValidation).
				Build(),
			"missing vehicle parameter", http.StatusBadRequest)
	}

	c.streamMu.Lock()
	conn, ok := c.streams[clientID]
	c.streamMu.Unlock()
	if !ok {
		return c.HandleError(ctx,
			errors.Newf("unknown stream client").
				Component("api").
				Category(errors.CategoryNotFound).
				Context("client_id", clientID).
				Build(),
			"unknown stream client", http.StatusNotFound)
	}

	if subscribe {
		c.Hub.Subscribe(conn, vehicleID)
	} else {
		c.Hub.Unsubscribe(conn, vehicleID)
	}
	return ctx.NoContent(http.StatusOK)
}

// StreamAlerts serves alert notifications over SSE.
func (c *Controller) StreamAlerts(ctx echo.Context) error {
	if !c.connectLimiter.allow(ctx.RealIP()) {
		return c.streamRateExceeded(ctx)
	}

	if c.Alerts == nil {
		return c.HandleError(ctx,
			errors.Newf("alert relay is not configured").
				Component("api").
				Category(errors.CategoryState).
				Build(),
			"alerts unavailable", http.StatusServiceUnavailable)
	}

	queue := make(chan alerts.Alert, alertStreamBuffer)
	unsubscribe := c.Alerts.Register(func(a alerts.Alert) {
		select {
		case queue <- a:
		default:
			// Slow consumer; drop for this client only.
		}
	})
	defer unsubscribe()

	w := ctx.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	heartbeat := c.Settings.Hub.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case alert := <-queue:
			if err := c.writeSSE(w, rc, "alert", &alert); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := c.writeSSE(w, rc, "heartbeat", map[string]int64{"ts": time.Now().Unix()}); err != nil {
				return nil
			}
		case <-ctx.Request().Context().Done():
			return nil
		}
	}
}
