package liveclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/datastore"
)

// streamServer is a minimal SSE endpoint for client tests. Every stream
// connection gets a handshake and then relays events pushed via send; the
// current connection can be severed with dropConnection.
type streamServer struct {
	*httptest.Server

	mu          sync.Mutex
	connections int
	subscribes  []string
	events      chan string
	drop        chan struct{}
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{
		events: make(chan string, 16),
		drop:   make(chan struct{}, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/events/stream", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.connections++
		conn := s.connections
		s.mu.Unlock()

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: connected\ndata: {\"clientId\":\"client-%d\"}\n\n", conn)
		flusher.Flush()

		for {
			select {
			case msg := <-s.events:
				fmt.Fprint(w, msg)
				flusher.Flush()
			case <-s.drop:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/api/v2/events/stream/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.subscribes = append(s.subscribes, r.URL.Path+"?"+r.URL.RawQuery)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) send(event, data string) {
	s.events <- fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func (s *streamServer) dropConnection() {
	s.drop <- struct{}{}
}

func (s *streamServer) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *streamServer) subscribeCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribes...)
}

// stateRecorder collects state transitions in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, c.State())
}

func fastSettings() *conf.LiveClientSettings {
	return &conf.LiveClientSettings{
		MaxReconnectTries: 3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        40 * time.Millisecond,
	}
}

func TestConnectReceivesEvents(t *testing.T) {
	t.Parallel()
	server := newStreamServer(t)

	received := make(chan *datastore.TelemetryEvent, 4)
	c := New(server.URL, fastSettings(), func(ev *datastore.TelemetryEvent) {
		received <- ev
	}, nil)

	c.Connect(context.Background())
	defer c.Close()
	waitForState(t, c, Connected)

	server.send("telemetry", `{"missionId":"M1","vehicleId":"auv-1"}`)
	select {
	case ev := <-received:
		assert.Equal(t, "M1", ev.MissionID)
		assert.Equal(t, "auv-1", ev.VehicleID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for telemetry event")
	}
}

func TestHeartbeatsAreIgnored(t *testing.T) {
	t.Parallel()
	server := newStreamServer(t)

	received := make(chan *datastore.TelemetryEvent, 4)
	c := New(server.URL, fastSettings(), func(ev *datastore.TelemetryEvent) {
		received <- ev
	}, nil)

	c.Connect(context.Background())
	defer c.Close()
	waitForState(t, c, Connected)

	server.send("heartbeat", `{}`)
	server.send("telemetry", `{"vehicleId":"auv-2"}`)

	select {
	case ev := <-received:
		assert.Equal(t, "auv-2", ev.VehicleID, "heartbeats must not reach the event handler")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for telemetry event")
	}
}

func TestReconnectResubscribesVehicles(t *testing.T) {
	t.Parallel()
	server := newStreamServer(t)

	c := New(server.URL, fastSettings(), nil, nil)
	c.Subscribe("auv-1")
	c.Subscribe("auv-2")

	c.Connect(context.Background())
	defer c.Close()
	waitForState(t, c, Connected)
	require.Equal(t, 1, server.connectionCount())

	firstCalls := len(server.subscribeCalls())
	require.Equal(t, 2, firstCalls, "both vehicles subscribed on connect")

	server.dropConnection()

	// Wait for the replacement connection to come up and resubscribe.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(server.subscribeCalls()) >= 4 && c.State() == Connected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, server.connectionCount(), 2)

	calls := server.subscribeCalls()
	require.Len(t, calls, 4, "subscriptions are replayed after reconnect")
	joined := strings.Join(calls[2:], " ")
	assert.Contains(t, joined, "vehicle=auv-1")
	assert.Contains(t, joined, "vehicle=auv-2")
	assert.Contains(t, joined, "client-2", "resubscription uses the new connection's id")
}

func TestExhaustedReconnectsEndInFailedState(t *testing.T) {
	t.Parallel()

	rec := &stateRecorder{}
	// Nothing listens on this address.
	c := New("http://127.0.0.1:1", fastSettings(), nil, rec.record)

	c.Connect(context.Background())
	defer c.Close()
	waitForState(t, c, Failed)

	states := rec.snapshot()
	assert.Equal(t, Connecting, states[0])
	assert.Contains(t, states, Reconnecting)
	assert.Equal(t, Failed, states[len(states)-1])

	// Failed is terminal: no further transitions without a new Connect.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Failed, c.State())
}

func TestSubscribeWhileConnectedSendsImmediately(t *testing.T) {
	t.Parallel()
	server := newStreamServer(t)

	c := New(server.URL, fastSettings(), nil, nil)
	c.Connect(context.Background())
	defer c.Close()
	waitForState(t, c, Connected)

	c.Subscribe("auv-9")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(server.subscribeCalls()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	calls := server.subscribeCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "subscribe?vehicle=auv-9")

	c.Unsubscribe("auv-9")
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(server.subscribeCalls()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	calls = server.subscribeCalls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1], "unsubscribe?vehicle=auv-9")
}

func TestCloseStopsClient(t *testing.T) {
	t.Parallel()
	server := newStreamServer(t)

	c := New(server.URL, fastSettings(), nil, nil)
	c.Connect(context.Background())
	waitForState(t, c, Connected)

	c.Close()
	assert.Equal(t, Disconnected, c.State())

	// Close on a stopped client is a no-op.
	c.Close()
}
