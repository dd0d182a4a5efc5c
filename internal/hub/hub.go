// Package hub implements the live distribution hub: it fans newly ingested
// telemetry events out to connections subscribed to the event's vehicle.
//
// Delivery policy: each connection owns a bounded queue. When a queue is
// full the oldest queued event is dropped to make room (drop-oldest), so a
// slow consumer loses its own oldest data but never stalls delivery to
// other connections and never causes unbounded growth.
package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/logging"
	"github.com/seawatch/seawatch-go/internal/observability/metrics"
)

// EventStore is the slice of the datastore the hub needs.
type EventStore interface {
	SaveEvent(event *datastore.TelemetryEvent) error
	GetLastEventForVehicle(vehicleID string) (*datastore.TelemetryEvent, error)
}

// Connection represents one live consumer attached to the hub.
type Connection struct {
	ID string

	mu     sync.Mutex
	events chan *datastore.TelemetryEvent
	closed bool
}

// Events returns the connection's receive channel. The channel is closed
// when the connection is disconnected.
func (c *Connection) Events() <-chan *datastore.TelemetryEvent {
	return c.events
}

// enqueue places an event on the connection queue, dropping the oldest
// queued event when full. Returns false when the connection is closed.
func (c *Connection) enqueue(event *datastore.TelemetryEvent) (delivered, dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, false
	}

	for {
		select {
		case c.events <- event:
			return true, dropped
		default:
		}
		select {
		case <-c.events:
			dropped = true
		default:
		}
	}
}

// close marks the connection closed and closes its channel exactly once.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Hub routes published telemetry events to subscribed connections.
type Hub struct {
	mu            sync.RWMutex
	store         EventStore
	connections   map[string]*Connection
	subscriptions map[string]map[string]*Connection // vehicle id -> connection id -> connection
	lastKnown     map[string]*datastore.TelemetryEvent

	queueSize int
	metrics   *metrics.HubMetrics
	logger    *slog.Logger
}

// New creates a hub persisting published events to the given store.
// queueSize bounds each connection's delivery queue. metrics may be nil.
func New(store EventStore, queueSize int, hubMetrics *metrics.HubMetrics) *Hub {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Hub{
		store:         store,
		connections:   make(map[string]*Connection),
		subscriptions: make(map[string]map[string]*Connection),
		lastKnown:     make(map[string]*datastore.TelemetryEvent),
		queueSize:     queueSize,
		metrics:       hubMetrics,
		logger:        logging.ForService("hub"),
	}
}

// Connect registers a new connection with no subscriptions.
func (h *Hub) Connect() *Connection {
	conn := &Connection{
		ID:     uuid.NewString(),
		events: make(chan *datastore.TelemetryEvent, h.queueSize),
	}

	h.mu.Lock()
	h.connections[conn.ID] = conn
	total := len(h.connections)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetActiveConnections(float64(total))
	}
	if h.logger != nil {
		h.logger.Debug("connection registered", "connection_id", conn.ID, "total", total)
	}
	return conn
}

// Subscribe adds an interest in a vehicle for the given connection.
// Duplicate subscribe is a no-op. If the vehicle has a last known event it
// is pushed immediately so a new consumer is not left blank.
func (h *Hub) Subscribe(conn *Connection, vehicleID string) {
	if conn == nil || vehicleID == "" || conn.isClosed() {
		return
	}

	h.mu.Lock()
	if _, registered := h.connections[conn.ID]; !registered {
		h.mu.Unlock()
		return
	}
	subs, ok := h.subscriptions[vehicleID]
	if !ok {
		subs = make(map[string]*Connection)
		h.subscriptions[vehicleID] = subs
	}
	if _, exists := subs[conn.ID]; exists {
		h.mu.Unlock()
		return
	}
	subs[conn.ID] = conn

	// Push the snapshot under the same lock as the subscription insert;
	// a concurrent publish cannot slip a newer event in ahead of it.
	if snapshot := h.lastKnown[vehicleID]; snapshot != nil {
		h.pushSnapshotLocked(conn, vehicleID, snapshot)
		h.mu.Unlock()
		h.updateSubscriptionGauge()
		return
	}
	h.mu.Unlock()
	h.updateSubscriptionGauge()

	if h.store == nil {
		return
	}
	// Fall back to the store for vehicles seen before this process started.
	last, err := h.store.GetLastEventForVehicle(vehicleID)
	if err != nil || last == nil {
		return
	}
	h.mu.Lock()
	if _, cached := h.lastKnown[vehicleID]; cached {
		// A publish landed during the store read, so the subscriber
		// already holds a fresher event; the stale snapshot is skipped.
		h.mu.Unlock()
		return
	}
	h.lastKnown[vehicleID] = last
	h.pushSnapshotLocked(conn, vehicleID, last)
	h.mu.Unlock()
}

// pushSnapshotLocked enqueues a snapshot event; the caller holds h.mu.
// A closed connection has its subscription removed in place.
func (h *Hub) pushSnapshotLocked(conn *Connection, vehicleID string, event *datastore.TelemetryEvent) {
	delivered, dropped := conn.enqueue(event)
	if delivered {
		if h.metrics != nil {
			h.metrics.IncrementEventsDelivered()
			if dropped {
				h.metrics.IncrementEventsDropped()
			}
		}
		return
	}

	if subs, ok := h.subscriptions[vehicleID]; ok {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(h.subscriptions, vehicleID)
		}
	}
	if h.metrics != nil {
		h.metrics.IncrementDeadSubscriptions()
	}
	if h.logger != nil {
		h.logger.Debug("reaped subscription of closed connection",
			"connection_id", conn.ID, "vehicle_id", vehicleID)
	}
}

// Unsubscribe removes an interest; no-op if absent.
func (h *Hub) Unsubscribe(conn *Connection, vehicleID string) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	if subs, ok := h.subscriptions[vehicleID]; ok {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(h.subscriptions, vehicleID)
		}
	}
	h.mu.Unlock()

	h.updateSubscriptionGauge()
}

// Disconnect removes all subscriptions for the connection and closes its
// queue. Safe to call more than once.
func (h *Hub) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	delete(h.connections, conn.ID)
	for vehicleID, subs := range h.subscriptions {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(h.subscriptions, vehicleID)
		}
	}
	total := len(h.connections)
	h.mu.Unlock()

	conn.close()

	if h.metrics != nil {
		h.metrics.SetActiveConnections(float64(total))
	}
	h.updateSubscriptionGauge()
	if h.logger != nil {
		h.logger.Debug("connection removed", "connection_id", conn.ID, "total", total)
	}
}

// Publish appends the event to the store and fans it out to current
// subscribers of the event's vehicle. Publishing to zero subscribers is
// not an error. The store error, if any, is returned and nothing is
// delivered in that case.
func (h *Hub) Publish(event *datastore.TelemetryEvent) error {
	if h.store != nil {
		if err := h.store.SaveEvent(event); err != nil {
			return err
		}
	}

	// Fan out while holding the lock: enqueue never blocks, and holding it
	// keeps events for one vehicle in publish order on every connection
	// even with concurrent publishers.
	h.mu.Lock()
	h.lastKnown[event.VehicleID] = event
	subs := h.subscriptions[event.VehicleID]
	var reaped []*Connection
	for _, conn := range subs {
		delivered, dropped := conn.enqueue(event)
		if !delivered {
			reaped = append(reaped, conn)
			continue
		}
		if h.metrics != nil {
			h.metrics.IncrementEventsDelivered()
			if dropped {
				h.metrics.IncrementEventsDropped()
			}
		}
		if dropped && h.logger != nil {
			h.logger.Warn("connection queue full, dropped oldest event",
				"connection_id", conn.ID, "vehicle_id", event.VehicleID)
		}
	}
	for _, conn := range reaped {
		delete(subs, conn.ID)
	}
	if len(subs) == 0 {
		delete(h.subscriptions, event.VehicleID)
	}
	h.mu.Unlock()

	for _, conn := range reaped {
		if h.metrics != nil {
			h.metrics.IncrementDeadSubscriptions()
		}
		if h.logger != nil {
			h.logger.Debug("reaped subscription of closed connection",
				"connection_id", conn.ID, "vehicle_id", event.VehicleID)
		}
	}
	h.updateSubscriptionGauge()
	return nil
}

// LastKnown returns the most recent published event for a vehicle, or nil.
func (h *Hub) LastKnown(vehicleID string) *datastore.TelemetryEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastKnown[vehicleID]
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) updateSubscriptionGauge() {
	if h.metrics == nil {
		return
	}
	h.mu.RLock()
	total := 0
	for _, subs := range h.subscriptions {
		total += len(subs)
	}
	h.mu.RUnlock()
	h.metrics.SetSubscriptions(float64(total))
}
