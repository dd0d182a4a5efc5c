package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seawatch/seawatch-go/internal/alerts"
	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/hub"
	"github.com/seawatch/seawatch-go/internal/replay"
)

func newTestController(t *testing.T) (*Controller, *echo.Echo) {
	t.Helper()

	settings := &conf.Settings{
		Output: conf.OutputSettings{
			SQLite: conf.SQLiteSettings{
				Enabled: true,
				Path:    filepath.Join(t.TempDir(), "test.db"),
			},
		},
	}
	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })

	liveHub := hub.New(ds, 16, nil)
	replayManager := replay.NewManager(ds, 1.0, nil)
	relay := alerts.NewRelay(nil, nil, "", "")
	replayManager.SetObserver(relay.Process)

	e := echo.New()
	c := New(e, ds, settings, liveHub, replayManager, nil, relay, nil)
	return c, e
}

func doJSON(e *echo.Echo, method, target string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func createMission(t *testing.T, e *echo.Echo, id string) {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/v2/missions", map[string]any{
		"id":        id,
		"name":      "Survey " + id,
		"startTime": time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func ingestEvent(t *testing.T, e *echo.Echo, missionID, vehicleID string, ts time.Time) {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/v2/events", map[string]any{
		"missionId": missionID,
		"vehicleId": vehicleID,
		"timestamp": ts,
		"latitude":  59.4,
		"longitude": 10.5,
		"depth":     42.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestMissionLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)

	createMission(t, e, "M1")

	// Duplicate id conflicts.
	rec := doJSON(e, http.MethodPost, "/api/v2/missions", map[string]any{"id": "M1", "name": "dup"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Missing fields are rejected.
	rec = doJSON(e, http.MethodPost, "/api/v2/missions", map[string]any{"id": "M2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v2/missions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var missions []datastore.Mission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &missions))
	require.Len(t, missions, 1)
	assert.Equal(t, datastore.MissionStatusPlanned, missions[0].Status)

	// First event activates the mission.
	ingestEvent(t, e, "M1", "auv-1", time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	rec = doJSON(e, http.MethodGet, "/api/v2/missions/M1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Mission    datastore.Mission `json:"mission"`
		EventCount int64             `json:"eventCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, datastore.MissionStatusActive, detail.Mission.Status)
	assert.EqualValues(t, 1, detail.EventCount)

	rec = doJSON(e, http.MethodPost, "/api/v2/missions/M1/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var completed datastore.Mission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Equal(t, datastore.MissionStatusCompleted, completed.Status)
	require.NotNil(t, completed.EndTime)
}

func TestGetUnknownMissionIs404(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)

	rec := doJSON(e, http.MethodGet, "/api/v2/missions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.NotEmpty(t, body.Message)
}

func TestIngestRejectsUnknownMissionAndBadPayload(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)

	rec := doJSON(e, http.MethodPost, "/api/v2/events", map[string]any{
		"missionId": "ghost", "vehicleId": "auv-1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v2/events", map[string]any{"vehicleId": "auv-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissionEventsRangeQuery(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)
	createMission(t, e, "M1")

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ingestEvent(t, e, "M1", "auv-1", base.Add(time.Duration(i)*time.Minute))
	}

	from := base.Add(1 * time.Minute).Format(time.RFC3339)
	to := base.Add(3 * time.Minute).Format(time.RFC3339)
	rec := doJSON(e, http.MethodGet,
		fmt.Sprintf("/api/v2/missions/M1/events?from=%s&to=%s", from, to), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []datastore.TelemetryEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 3)

	rec = doJSON(e, http.MethodGet, "/api/v2/missions/M1/events?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaySessionOverHTTP(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)
	createMission(t, e, "M1")

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ingestEvent(t, e, "M1", "auv-1", base.Add(time.Duration(i)*time.Minute))
	}

	rec := doJSON(e, http.MethodPost, "/api/v2/replay", map[string]any{"missionId": "M1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var state replay.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.NotEmpty(t, state.SessionID)
	assert.Equal(t, 3, state.EventCount)
	assert.Equal(t, "stopped", state.State)

	id := state.SessionID
	rec = doJSON(e, http.MethodPost, "/api/v2/replay/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v2/replay/"+id+"/seek", map[string]any{"index": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 2, state.PositionIndex)

	rec = doJSON(e, http.MethodPost, "/api/v2/replay/"+id+"/speed", map[string]any{"speed": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v2/replay/"+id+"/filters",
		map[string]any{"categories": []string{"detection"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodDelete, "/api/v2/replay/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v2/replay/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenReplayOnUnknownMissionIs404(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)

	rec := doJSON(e, http.MethodPost, "/api/v2/replay", map[string]any{"missionId": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMissionInvalidatesReplaySessions(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)
	createMission(t, e, "M1")
	ingestEvent(t, e, "M1", "auv-1", time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	rec := doJSON(e, http.MethodPost, "/api/v2/replay", map[string]any{"missionId": "M1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var state replay.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))

	rec = doJSON(e, http.MethodDelete, "/api/v2/missions/M1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The session survived the delete but faults on its next operation.
	rec = doJSON(e, http.MethodPost, "/api/v2/replay/"+state.SessionID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The mission and its events are gone.
	rec = doJSON(e, http.MethodGet, "/api/v2/missions/M1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribeUnknownStreamClientIs404(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)

	rec := doJSON(e, http.MethodPost, "/api/v2/events/stream/ghost/subscribe?vehicle=auv-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v2/events/stream/ghost/subscribe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing vehicle parameter")
}

func TestSpeciesImageWithoutEnrichmentIs503(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)

	rec := doJSON(e, http.MethodGet, "/api/v2/species/image?name=Orcinus+orca", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	_, e := newTestController(t)

	rec := doJSON(e, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
}

func TestReplayedDetectionsProduceAlerts(t *testing.T) {
	t.Parallel()
	c, e := newTestController(t)

	var alertCount atomic.Int64
	unsubscribe := c.Alerts.Register(func(alerts.Alert) { alertCount.Add(1) })
	defer unsubscribe()

	createMission(t, e, "M1")
	rec := doJSON(e, http.MethodPost, "/api/v2/events", map[string]any{
		"missionId": "M1",
		"vehicleId": "auv-1",
		"timestamp": time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		"latitude":  59.4,
		"longitude": 10.5,
		"detections": []map[string]any{
			{"commonName": "Orca", "scientificName": "Orcinus orca", "confidence": 0.93},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, int64(1), alertCount.Load(), "live ingest alerts immediately")

	rec = doJSON(e, http.MethodPost, "/api/v2/replay", map[string]any{"missionId": "M1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var state replay.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	id := state.SessionID

	rec = doJSON(e, http.MethodPost, "/api/v2/replay/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Polling the session state drives playback; passing the detection
	// must raise a second alert.
	require.Eventually(t, func() bool {
		doJSON(e, http.MethodGet, "/api/v2/replay/"+id, nil)
		return alertCount.Load() >= 2
	}, time.Second, 10*time.Millisecond, "replayed detection never alerted")
}

func TestStreamConnectRateLimit(t *testing.T) {
	t.Parallel()
	c, e := newTestController(t)

	// httptest requests all arrive from 192.0.2.1; drain its budget.
	for c.connectLimiter.allow("192.0.2.1") {
	}

	rec := doJSON(e, http.MethodGet, "/api/v2/events/stream", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v2/alerts/stream", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestIPRateLimiterIsPerIP(t *testing.T) {
	t.Parallel()
	limiter := newIPRateLimiter(streamConnectRate, streamConnectBurst)

	for i := 0; i < streamConnectBurst; i++ {
		assert.True(t, limiter.allow("10.0.0.1"), "connect %d within burst", i)
	}
	assert.False(t, limiter.allow("10.0.0.1"), "burst exhausted")
	assert.True(t, limiter.allow("10.0.0.2"), "other clients are unaffected")
}
