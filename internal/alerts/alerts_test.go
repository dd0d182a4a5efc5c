package alerts

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/imageprovider"
)

// collector records alerts in delivery order.
type collector struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *collector) observe(a Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *collector) snapshot() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func (c *collector) waitFor(t *testing.T, n int) []Alert {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d alerts, have %d", n, len(c.snapshot()))
	return nil
}

// slowProvider serves one image after a configurable delay.
type slowProvider struct {
	delay time.Duration
	url   string
	err   error
	calls atomic.Int64
}

func (p *slowProvider) Fetch(ctx context.Context, _ string) (imageprovider.SpeciesImage, error) {
	p.calls.Add(1)
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return imageprovider.SpeciesImage{}, ctx.Err()
	}
	if p.err != nil {
		return imageprovider.SpeciesImage{}, p.err
	}
	return imageprovider.SpeciesImage{URL: p.url}, nil
}

func detectionEvent() *datastore.TelemetryEvent {
	return &datastore.TelemetryEvent{
		MissionID: "M1",
		VehicleID: "auv-1",
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Detections: []datastore.Detection{{
			CommonName:     "Killer whale",
			ScientificName: "Orcinus orca",
			Confidence:     0.93,
		}},
	}
}

func violationEvent() *datastore.TelemetryEvent {
	return &datastore.TelemetryEvent{
		MissionID: "M1",
		VehicleID: "auv-2",
		Timestamp: time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC),
		Violations: []datastore.Violation{{
			Kind:     "zone_breach",
			Zone:     "restricted-a",
			Metric:   "depth_m",
			Measured: 82.5,
			Limit:    50,
		}},
	}
}

func newImageCache(p imageprovider.Provider) *imageprovider.SpeciesImageCache {
	return imageprovider.New(p, &conf.EnrichmentSettings{SuccessTTL: time.Hour}, nil, nil)
}

func TestDetectionAlertDeliveredImmediatelyThenEnriched(t *testing.T) {
	t.Parallel()
	cache := newImageCache(&slowProvider{delay: 50 * time.Millisecond, url: "https://img.example.org/orca.jpg"})
	relay := NewRelay(cache, nil, "", "station-1")

	c := &collector{}
	defer relay.Register(c.observe)()

	before := time.Now()
	relay.Process(detectionEvent())
	immediate := c.waitFor(t, 1)
	require.Less(t, time.Since(before), 40*time.Millisecond,
		"first delivery must not wait for enrichment")

	first := immediate[0]
	assert.Equal(t, KindDetection, first.Kind)
	assert.Equal(t, "Orcinus orca", first.ScientificName)
	assert.Nil(t, first.Image)
	assert.False(t, first.Enriched)

	enriched := c.waitFor(t, 2)[1]
	assert.Equal(t, first.ID, enriched.ID, "the enriched delivery refers to the same alert")
	assert.True(t, enriched.Enriched)
	require.NotNil(t, enriched.Image)
	assert.Equal(t, "https://img.example.org/orca.jpg", enriched.Image.URL)

	relay.Wait()
}

func TestEnrichmentFailureSkipsSecondDelivery(t *testing.T) {
	t.Parallel()
	cache := newImageCache(&slowProvider{err: assert.AnError})
	relay := NewRelay(cache, nil, "", "")

	c := &collector{}
	defer relay.Register(c.observe)()

	relay.Process(detectionEvent())
	relay.Wait()

	got := c.snapshot()
	require.Len(t, got, 1, "a failed lookup must not produce an enriched delivery")
	assert.False(t, got[0].Enriched)
}

func TestViolationAlertHasNoEnrichment(t *testing.T) {
	t.Parallel()
	relay := NewRelay(nil, nil, "", "")

	c := &collector{}
	defer relay.Register(c.observe)()

	relay.Process(violationEvent())
	relay.Wait()

	got := c.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, KindViolation, got[0].Kind)
	assert.Equal(t, "zone_breach", got[0].ViolationKind)
	assert.Equal(t, "restricted-a", got[0].Zone)
	assert.InDelta(t, 82.5, got[0].Measured, 1e-9)
	assert.Nil(t, got[0].Image)
}

func TestRepeatDetectionsShareOneCatalogLookup(t *testing.T) {
	t.Parallel()
	provider := &slowProvider{delay: 10 * time.Millisecond, url: "https://img.example.org/orca.jpg"}
	cache := newImageCache(provider)
	relay := NewRelay(cache, nil, "", "")

	c := &collector{}
	defer relay.Register(c.observe)()

	relay.Process(detectionEvent())
	relay.Wait()
	relay.Process(detectionEvent())
	relay.Wait()

	// Two detections, each delivered twice (raw then enriched). The second
	// enrichment is served from the cache.
	got := c.waitFor(t, 4)
	assert.Len(t, got, 4)
	assert.EqualValues(t, 1, provider.calls.Load(),
		"the second enrichment is served from the cache")
	img, ok := cache.Peek("Orcinus orca")
	require.True(t, ok)
	assert.Equal(t, imageprovider.OutcomeSuccess, img.Outcome)
}

func TestEventWithoutDetectionsOrViolationsIsSilent(t *testing.T) {
	t.Parallel()
	relay := NewRelay(nil, nil, "", "")

	c := &collector{}
	defer relay.Register(c.observe)()

	relay.Process(&datastore.TelemetryEvent{MissionID: "M1", VehicleID: "auv-1"})
	relay.Process(nil)
	relay.Wait()

	assert.Empty(t, c.snapshot())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	relay := NewRelay(nil, nil, "", "")

	c := &collector{}
	unsubscribe := relay.Register(c.observe)

	relay.Process(violationEvent())
	relay.Wait()
	require.Len(t, c.snapshot(), 1)

	unsubscribe()
	relay.Process(violationEvent())
	relay.Wait()
	assert.Len(t, c.snapshot(), 1)
}
