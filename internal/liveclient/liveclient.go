// Package liveclient implements a client for the live telemetry stream. It
// maintains the server connection across interruptions with a bounded
// exponential backoff: each reconnect attempt doubles the wait up to a cap,
// and once the attempt budget is spent the client enters a terminal Failed
// state instead of retrying forever. After every successful reconnect the
// client re-issues its vehicle subscriptions, so consumers keep receiving
// the vehicles they asked for without any action of their own.
package liveclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/errors"
	"github.com/seawatch/seawatch-go/internal/logging"
)

// State is the connection state of the client.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed // terminal; Connect must be called again
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Default reconnect policy, used when the configuration leaves it unset.
const (
	defaultMaxTries       = 5
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// EventHandler receives telemetry events from the stream.
type EventHandler func(*datastore.TelemetryEvent)

// StateHandler is notified on every state transition.
type StateHandler func(State)

// Client consumes the server's live event stream.
type Client struct {
	baseURL    string
	httpClient *http.Client

	maxTries       int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu            sync.Mutex
	state         State
	clientID      string
	sawHandshake  bool
	subscriptions map[string]bool
	cancel        context.CancelFunc
	done          chan struct{}

	onEvent EventHandler
	onState StateHandler
	logger  *slog.Logger
}

// New creates a stream client for the server at baseURL.
func New(baseURL string, settings *conf.LiveClientSettings, onEvent EventHandler, onState StateHandler) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		maxTries:       defaultMaxTries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		subscriptions:  make(map[string]bool),
		onEvent:        onEvent,
		onState:        onState,
		logger:         logging.ForService("liveclient"),
	}
	if settings != nil {
		if settings.MaxReconnectTries > 0 {
			c.maxTries = settings.MaxReconnectTries
		}
		if settings.InitialBackoff > 0 {
			c.initialBackoff = settings.InitialBackoff
		}
		if settings.MaxBackoff > 0 {
			c.maxBackoff = settings.MaxBackoff
		}
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handler := c.onState
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("stream client state changed", "state", s.String())
	}
	if handler != nil {
		handler(s)
	}
}

// Subscribe adds a vehicle to the client's interest set. When connected the
// subscription is sent immediately; it is also replayed after reconnects.
func (c *Client) Subscribe(vehicleID string) {
	if vehicleID == "" {
		return
	}
	c.mu.Lock()
	c.subscriptions[vehicleID] = true
	clientID := c.clientID
	connected := c.state == Connected
	c.mu.Unlock()

	if connected && clientID != "" {
		if err := c.sendSubscription(context.Background(), clientID, vehicleID, true); err != nil && c.logger != nil {
			c.logger.Warn("failed to subscribe", "vehicle_id", vehicleID, "error", err)
		}
	}
}

// Unsubscribe removes a vehicle from the interest set.
func (c *Client) Unsubscribe(vehicleID string) {
	c.mu.Lock()
	delete(c.subscriptions, vehicleID)
	clientID := c.clientID
	connected := c.state == Connected
	c.mu.Unlock()

	if connected && clientID != "" {
		if err := c.sendSubscription(context.Background(), clientID, vehicleID, false); err != nil && c.logger != nil {
			c.logger.Warn("failed to unsubscribe", "vehicle_id", vehicleID, "error", err)
		}
	}
}

// Connect starts the stream loop in the background. It returns immediately;
// connection progress is reported through the state handler. Calling Connect
// on a running client is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Close stops the stream loop and waits for it to exit.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.setState(Disconnected)
}

// run drives connect / stream / reconnect until the context ends or the
// attempt budget is exhausted.
func (c *Client) run(ctx context.Context) {
	backoff := c.initialBackoff
	attempts := 0
	first := true

	for {
		if first {
			c.setState(Connecting)
		} else {
			c.setState(Reconnecting)
		}

		err := c.stream(ctx)
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		if err != nil && c.logger != nil {
			c.logger.Warn("stream interrupted", "error", err)
		}

		// Only a connection that completed the handshake resets the budget;
		// a server that accepts and immediately drops connections must still
		// run out of attempts.
		c.mu.Lock()
		handshook := c.sawHandshake
		c.mu.Unlock()
		if err == nil && handshook {
			attempts = 0
			backoff = c.initialBackoff
		}

		attempts++
		if attempts > c.maxTries {
			if c.logger != nil {
				c.logger.Error("reconnect attempts exhausted, giving up",
					"attempts", c.maxTries)
			}
			c.setState(Failed)
			return
		}

		first = false
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.setState(Disconnected)
			return
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// stream opens the SSE connection and consumes it until it breaks. A nil
// return means the connection was established and later interrupted; an
// error means it never came up.
func (c *Client) stream(ctx context.Context) error {
	c.mu.Lock()
	c.sawHandshake = false
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v2/events/stream", http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(err).
			Component("liveclient").
			Category(errors.CategoryNetwork).
			NetworkContext(c.baseURL, 0).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("stream endpoint returned status %d", resp.StatusCode).
			Component("liveclient").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Build()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "":
			c.dispatch(ctx, eventName, data.String())
			eventName = ""
			data.Reset()
		}
	}
	// EOF or a read error after a served connection; the caller reconnects.
	return nil
}

// dispatch routes one SSE message. The server's first message names the
// connection; receiving it completes the handshake and triggers
// resubscription of every vehicle in the interest set.
func (c *Client) dispatch(ctx context.Context, eventName, payload string) {
	switch eventName {
	case "connected":
		var hello struct {
			ClientID string `json:"clientId"`
		}
		if err := json.Unmarshal([]byte(payload), &hello); err != nil || hello.ClientID == "" {
			if c.logger != nil {
				c.logger.Warn("malformed stream handshake", "payload", payload)
			}
			return
		}

		c.mu.Lock()
		c.clientID = hello.ClientID
		c.sawHandshake = true
		vehicles := make([]string, 0, len(c.subscriptions))
		for v := range c.subscriptions {
			vehicles = append(vehicles, v)
		}
		c.mu.Unlock()

		c.setState(Connected)
		for _, v := range vehicles {
			if err := c.sendSubscription(ctx, hello.ClientID, v, true); err != nil && c.logger != nil {
				c.logger.Warn("failed to resubscribe after reconnect",
					"vehicle_id", v, "error", err)
			}
		}

	case "telemetry":
		var ev datastore.TelemetryEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			if c.logger != nil {
				c.logger.Warn("malformed telemetry event", "error", err)
			}
			return
		}
		if c.onEvent != nil {
			c.onEvent(&ev)
		}

	case "heartbeat":
		// Keepalive only.
	}
}

// sendSubscription issues a subscribe or unsubscribe for one vehicle.
func (c *Client) sendSubscription(ctx context.Context, clientID, vehicleID string, subscribe bool) error {
	action := "subscribe"
	if !subscribe {
		action = "unsubscribe"
	}
	endpoint := fmt.Sprintf("%s/api/v2/events/stream/%s/%s?vehicle=%s",
		c.baseURL, clientID, action, vehicleID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Newf("%s returned status %d", action, resp.StatusCode).
			Component("liveclient").
			Category(errors.CategoryHTTP).
			Context("vehicle_id", vehicleID).
			Build()
	}
	return nil
}
