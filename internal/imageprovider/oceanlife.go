// oceanlife.go: species image provider backed by the OceanLife catalog API.
package imageprovider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/antonholmquist/jason"
	"golang.org/x/time/rate"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/errors"
	"github.com/seawatch/seawatch-go/internal/logging"
)

const (
	defaultEndpoint       = "https://api.oceanlife.example.org"
	defaultImageLimit     = 1
	defaultSearchTimeout  = 10 * time.Second
	defaultRequestsPerSec = 2.0

	// maxResponseSize bounds catalog responses so a misbehaving endpoint
	// cannot exhaust memory.
	maxResponseSize = 4 << 20
)

// Placeholder attribution used when the per-image attribution lookup fails.
// The image itself is still usable, only the credit line is degraded.
const (
	placeholderLicenseName = "Unknown license"
	placeholderAuthorName  = "Unknown author"
)

// OceanLifeProvider fetches species imagery from the OceanLife catalog.
// Requests towards the catalog are rate limited.
type OceanLifeProvider struct {
	endpoint      string
	imageLimit    int
	searchTimeout time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	debug      bool
}

// NewOceanLifeProvider creates a provider from the enrichment settings.
func NewOceanLifeProvider(settings *conf.EnrichmentSettings) *OceanLifeProvider {
	p := &OceanLifeProvider{
		endpoint:      defaultEndpoint,
		imageLimit:    defaultImageLimit,
		searchTimeout: defaultSearchTimeout,
		httpClient:    &http.Client{},
		limiter:       rate.NewLimiter(rate.Limit(defaultRequestsPerSec), 1),
		logger:        logging.ForService("imageprovider"),
	}
	if settings != nil {
		if settings.Endpoint != "" {
			p.endpoint = settings.Endpoint
		}
		if settings.ImageLimit > 0 {
			p.imageLimit = settings.ImageLimit
		}
		if settings.SearchTimeout > 0 {
			p.searchTimeout = settings.SearchTimeout
		}
		if settings.RequestsPerSec > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(settings.RequestsPerSec), 1)
		}
		p.debug = settings.Debug
	}
	return p
}

// Fetch looks up a species in the catalog and returns its first image with
// attribution. A species absent from the catalog returns an entry with an
// empty URL and no error. When the attribution lookup fails the image is
// still returned, credited with placeholder attribution.
func (p *OceanLifeProvider) Fetch(ctx context.Context, scientificName string) (SpeciesImage, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return SpeciesImage{}, errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryCancellation).
			Context("operation", "rate_limit_wait").
			Build()
	}

	searchCtx, cancel := context.WithTimeout(ctx, p.searchTimeout)
	defer cancel()

	imageID, imageURL, err := p.search(searchCtx, scientificName)
	if err != nil {
		return SpeciesImage{}, err
	}
	if imageURL == "" {
		if p.debug && p.logger != nil {
			p.logger.Debug("species not found in catalog", "scientific_name", scientificName)
		}
		return SpeciesImage{}, nil
	}

	img := SpeciesImage{URL: imageURL}
	if err := p.attribution(ctx, imageID, &img); err != nil {
		if p.logger != nil {
			p.logger.Warn("attribution lookup failed, using placeholder",
				"scientific_name", scientificName, "image_id", imageID, "error", err)
		}
		img.LicenseName = placeholderLicenseName
		img.AuthorName = placeholderAuthorName
	}
	return img, nil
}

// search queries the catalog for the species and returns the id and URL of
// its first image, or empty strings when the species is not listed.
func (p *OceanLifeProvider) search(ctx context.Context, scientificName string) (imageID, imageURL string, err error) {
	query := url.Values{}
	query.Set("scientific_name", scientificName)
	query.Set("limit", fmt.Sprintf("%d", p.imageLimit))
	endpoint := fmt.Sprintf("%s/v1/species/search?%s", p.endpoint, query.Encode())

	body, err := p.get(ctx, endpoint)
	if err != nil {
		return "", "", err
	}

	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return "", "", errors.New(err).
			Component("imageprovider").
			Category(errors.CategorySpeciesFetch).
			Context("operation", "parse_search_response").
			Build()
	}

	results, err := root.GetObjectArray("results")
	if err != nil || len(results) == 0 {
		// Missing or empty results array means the species is not listed.
		return "", "", nil
	}

	first := results[0]
	imageURL, err = first.GetString("image_url")
	if err != nil || imageURL == "" {
		return "", "", nil
	}
	// The image id is optional; without it attribution is degraded.
	imageID, _ = first.GetString("id")
	return imageID, imageURL, nil
}

// attribution fills license and author from the catalog's per-image
// attribution endpoint.
func (p *OceanLifeProvider) attribution(ctx context.Context, imageID string, img *SpeciesImage) error {
	if imageID == "" {
		return errors.Newf("image has no id").
			Component("imageprovider").
			Category(errors.CategorySpeciesFetch).
			Build()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	attrCtx, cancel := context.WithTimeout(ctx, p.searchTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/images/%s/attribution", p.endpoint, url.PathEscape(imageID))
	body, err := p.get(attrCtx, endpoint)
	if err != nil {
		return err
	}

	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return fmt.Errorf("parsing attribution response: %w", err)
	}

	img.LicenseName, _ = root.GetString("license", "name")
	img.LicenseURL, _ = root.GetString("license", "url")
	img.AuthorName, _ = root.GetString("author", "name")
	img.AuthorURL, _ = root.GetString("author", "url")
	if img.LicenseName == "" && img.AuthorName == "" {
		return fmt.Errorf("attribution response carries no license or author")
	}
	return nil
}

// get performs one GET against the catalog and returns the response body.
func (p *OceanLifeProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("imageprovider").
			Category(errors.CategorySpeciesFetch).
			Build()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryNetwork).
			NetworkContext(p.endpoint, p.searchTimeout).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("catalog returned status %d", resp.StatusCode).
			Component("imageprovider").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryNetwork).
			Build()
	}
	return body, nil
}
