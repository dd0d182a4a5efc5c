// Package imageprovider fetches and caches species imagery from an external
// marine life catalog. Lookups for the same species are coalesced so the
// catalog sees one request no matter how many callers ask concurrently, and
// results are cached with a TTL that depends on the outcome: found imagery is
// kept for a long time, "species not in catalog" for minutes, and failures
// only briefly so transient catalog trouble heals fast.
package imageprovider

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/errors"
	"github.com/seawatch/seawatch-go/internal/logging"
	"github.com/seawatch/seawatch-go/internal/observability/metrics"
)

// Lookup outcomes. Every cache entry is tagged with one of these so callers
// can tell "no image exists" apart from "the lookup failed".
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// Default TTL tiers, used when the configuration leaves them unset.
const (
	defaultSuccessTTL = 1 * time.Hour
	defaultEmptyTTL   = 5 * time.Minute
	defaultFailureTTL = 90 * time.Second
)

// cleanupInterval is how often expired entries are purged from memory.
const cleanupInterval = 10 * time.Minute

// SpeciesImage is one cached catalog result with its attribution.
type SpeciesImage struct {
	ScientificName string    `json:"scientificName"`
	Outcome        string    `json:"outcome"`
	URL            string    `json:"url,omitempty"`
	LicenseName    string    `json:"licenseName,omitempty"`
	LicenseURL     string    `json:"licenseUrl,omitempty"`
	AuthorName     string    `json:"authorName,omitempty"`
	AuthorURL      string    `json:"authorUrl,omitempty"`
	CachedAt       time.Time `json:"cachedAt"`
}

// Found reports whether the entry carries usable imagery.
func (s *SpeciesImage) Found() bool { return s.Outcome == OutcomeSuccess }

// Provider is a species image source. Fetch must be safe for concurrent use.
type Provider interface {
	Fetch(ctx context.Context, scientificName string) (SpeciesImage, error)
}

// inflight tracks one in-progress catalog lookup. Waiters block on done and
// then read result/err; both are written exactly once before done is closed.
type inflight struct {
	done   chan struct{}
	result SpeciesImage
	err    error
}

// SpeciesImageCache caches catalog lookups in memory with outcome-dependent
// TTLs and mirrors them into the datastore so a restart starts warm.
type SpeciesImageCache struct {
	provider Provider
	cache    *gocache.Cache
	store    datastore.Interface

	mu       sync.Mutex
	inFlight map[string]*inflight

	successTTL time.Duration
	emptyTTL   time.Duration
	failureTTL time.Duration

	metrics *metrics.ImageProviderMetrics
	logger  *slog.Logger
	debug   bool
}

// New creates a species image cache backed by the given provider. store may
// be nil (no persistence) and imageMetrics may be nil. The datastore's cache
// table is loaded up front so previously resolved species survive restarts.
func New(provider Provider, settings *conf.EnrichmentSettings, store datastore.Interface, imageMetrics *metrics.ImageProviderMetrics) *SpeciesImageCache {
	c := &SpeciesImageCache{
		provider:   provider,
		cache:      gocache.New(defaultSuccessTTL, cleanupInterval),
		store:      store,
		inFlight:   make(map[string]*inflight),
		successTTL: defaultSuccessTTL,
		emptyTTL:   defaultEmptyTTL,
		failureTTL: defaultFailureTTL,
		metrics:    imageMetrics,
		logger:     logging.ForService("imageprovider"),
	}
	if settings != nil {
		if settings.SuccessTTL > 0 {
			c.successTTL = settings.SuccessTTL
		}
		if settings.EmptyTTL > 0 {
			c.emptyTTL = settings.EmptyTTL
		}
		if settings.FailureTTL > 0 {
			c.failureTTL = settings.FailureTTL
		}
		c.debug = settings.Debug
	}
	c.warmStart()
	return c
}

// Get returns the cached image for the species, fetching it from the catalog
// on a miss. Concurrent callers for the same species share a single fetch.
// A failed fetch returns an error together with an error-tagged entry; that
// entry is cached briefly so repeated lookups do not hammer a sick catalog.
func (c *SpeciesImageCache) Get(ctx context.Context, scientificName string) (SpeciesImage, error) {
	key := cacheKey(scientificName)
	if key == "" {
		return SpeciesImage{}, errors.Newf("scientific name is empty").
			Component("imageprovider").
			Category(errors.CategoryValidation).
			Build()
	}

	if cached, ok := c.cache.Get(key); ok {
		if c.metrics != nil {
			c.metrics.IncrementCacheHits()
		}
		return cached.(SpeciesImage), nil
	}
	if c.metrics != nil {
		c.metrics.IncrementCacheMisses()
	}

	// Coalesce: the first caller fetches, everyone else waits on the same
	// in-flight entry and shares its result.
	c.mu.Lock()
	if fl, exists := c.inFlight[key]; exists {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.IncrementCoalescedWaits()
		}
		select {
		case <-fl.done:
			return fl.result, fl.err
		case <-ctx.Done():
			return SpeciesImage{}, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	c.inFlight[key] = fl
	c.mu.Unlock()

	fl.result, fl.err = c.fetchAndCache(ctx, key, scientificName)
	close(fl.done)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()

	return fl.result, fl.err
}

// fetchAndCache performs the catalog lookup and stores the tagged result
// under the outcome's TTL tier.
func (c *SpeciesImageCache) fetchAndCache(ctx context.Context, key, scientificName string) (SpeciesImage, error) {
	if c.metrics != nil {
		c.metrics.IncrementImageDownloads()
	}
	start := time.Now()
	img, err := c.provider.Fetch(ctx, scientificName)
	if c.metrics != nil {
		c.metrics.ObserveDownloadDuration(time.Since(start).Seconds())
	}

	img.ScientificName = scientificName
	img.CachedAt = time.Now()

	if err != nil {
		img.Outcome = OutcomeError
		img.URL = ""
		c.cache.Set(key, img, c.failureTTL)
		if c.metrics != nil {
			c.metrics.IncrementDownloadErrors()
		}
		if c.logger != nil {
			c.logger.Warn("species image lookup failed",
				"scientific_name", scientificName, "error", err)
		}
		return img, err
	}

	if img.URL == "" {
		img.Outcome = OutcomeEmpty
		c.cache.Set(key, img, c.emptyTTL)
		if c.metrics != nil {
			c.metrics.IncrementEmptyResults()
		}
	} else {
		img.Outcome = OutcomeSuccess
		c.cache.Set(key, img, c.successTTL)
	}

	c.saveToStore(key, &img)

	if c.debug && c.logger != nil {
		c.logger.Debug("species image lookup completed",
			"scientific_name", scientificName, "outcome", img.Outcome)
	}
	return img, nil
}

// Peek returns the cached entry without triggering a fetch.
func (c *SpeciesImageCache) Peek(scientificName string) (SpeciesImage, bool) {
	cached, ok := c.cache.Get(cacheKey(scientificName))
	if !ok {
		return SpeciesImage{}, false
	}
	return cached.(SpeciesImage), true
}

// warmStart loads persisted cache entries whose TTL has not yet elapsed.
// Error-tagged entries are never warm-started; they are too short-lived to
// be worth carrying across restarts.
func (c *SpeciesImageCache) warmStart() {
	if c.store == nil {
		return
	}
	entries, err := c.store.GetAllImageCaches()
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("failed to warm start image cache", "error", err)
		}
		return
	}

	loaded := 0
	for i := range entries {
		e := &entries[i]
		var ttl time.Duration
		switch e.Outcome {
		case OutcomeSuccess:
			ttl = c.successTTL
		case OutcomeEmpty:
			ttl = c.emptyTTL
		default:
			continue
		}
		remaining := ttl - time.Since(e.CachedAt)
		if remaining <= 0 {
			continue
		}
		c.cache.Set(cacheKey(e.ScientificName), SpeciesImage{
			ScientificName: e.ScientificName,
			Outcome:        e.Outcome,
			URL:            e.URL,
			LicenseName:    e.LicenseName,
			LicenseURL:     e.LicenseURL,
			AuthorName:     e.AuthorName,
			AuthorURL:      e.AuthorURL,
			CachedAt:       e.CachedAt,
		}, remaining)
		loaded++
	}

	if loaded > 0 && c.logger != nil {
		c.logger.Info("warm started image cache from datastore", "entries", loaded)
	}
}

// saveToStore mirrors a resolved entry into the datastore. Failures only log;
// persistence is best effort and never blocks the lookup path.
func (c *SpeciesImageCache) saveToStore(key string, img *SpeciesImage) {
	if c.store == nil {
		return
	}
	err := c.store.SaveImageCache(&datastore.ImageCache{
		ScientificName: key,
		ProviderName:   "oceanlife",
		Outcome:        img.Outcome,
		URL:            img.URL,
		LicenseName:    img.LicenseName,
		LicenseURL:     img.LicenseURL,
		AuthorName:     img.AuthorName,
		AuthorURL:      img.AuthorURL,
		CachedAt:       img.CachedAt,
	})
	if err != nil && c.logger != nil {
		c.logger.Warn("failed to persist image cache entry",
			"scientific_name", key, "error", err)
	}
}

// cacheKey normalizes a scientific name so lookups are case and whitespace
// insensitive.
func cacheKey(scientificName string) string {
	return strings.ToLower(strings.TrimSpace(scientificName))
}
