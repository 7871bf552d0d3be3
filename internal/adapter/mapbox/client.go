// Package mapbox resolves assessment-unit centroids to place names with the
// Mapbox reverse geocoding API.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
)

const (
	defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"
	methodReverse  = "reverse"

	// placeTypes restricts reverse lookups to township and county level
	// features, the granularity of assessment units.
	placeTypes = "locality,place,district"

	maxErrorBody = 512
)

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	language   string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client. Place names are requested in
// Chinese to match the rest of the report.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		language:   "zh",
		metrics:    metrics,
		logger:     logger,
	}
}

// ReverseGeocode converts coordinates to place details. An empty result with
// a nil error means Mapbox had no feature near the point.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	endpoint, err := c.reverseURL(lat, lon)
	if err != nil {
		return domain.GeocodingResult{}, err
	}

	start := time.Now()
	resp, err := c.fetch(ctx, endpoint)
	c.metrics.GeocodeAPIDuration.WithLabelValues(methodReverse).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(methodReverse, "error").Inc()
		c.logger.Debug("reverse geocode failed", "lat", lat, "lon", lon, "error", err)
		return domain.GeocodingResult{}, err
	}

	if len(resp.Features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues(methodReverse, "empty").Inc()
		return domain.GeocodingResult{}, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues(methodReverse, "success").Inc()
	return resp.Features[0].result(), nil
}

// reverseURL builds the lookup URL. Mapbox takes coordinates in lon,lat order.
func (c *Client) reverseURL(lat, lon float64) (string, error) {
	coord := strconv.FormatFloat(lon, 'f', 6, 64) + "," + strconv.FormatFloat(lat, 'f', 6, 64)
	endpoint, err := url.JoinPath(c.baseURL, coord+".json")
	if err != nil {
		return "", fmt.Errorf("build reverse geocode url: %w", err)
	}

	q := url.Values{}
	q.Set("access_token", c.token)
	q.Set("limit", "1")
	q.Set("types", placeTypes)
	if c.language != "" {
		q.Set("language", c.language)
	}
	return endpoint + "?" + q.Encode(), nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (response, error) {
	var out response

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return out, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64      `json:"center"` // [lon, lat]
	PlaceName string         `json:"place_name"`
	Text      string         `json:"text"`
	Relevance float64        `json:"relevance"`
	Context   []contextEntry `json:"context"`
}

// contextEntry is one ancestor of a feature, e.g. the county of a township.
// ID carries the layer as a prefix, such as "district.1234".
type contextEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (f feature) result() domain.GeocodingResult {
	r := domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if r.PlaceName == "" {
		r.PlaceName = f.nearestAncestor()
	}
	if len(f.Center) == 2 {
		r.Lon, r.Lat = f.Center[0], f.Center[1]
	}
	return r
}

// nearestAncestor returns the first township or county level name in the
// feature's context.
func (f feature) nearestAncestor() string {
	for _, c := range f.Context {
		layer, _, _ := strings.Cut(c.ID, ".")
		switch layer {
		case "locality", "place", "district":
			if c.Text != "" {
				return c.Text
			}
		}
	}
	return ""
}
