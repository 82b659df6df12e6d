package geo

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"sjsage522/estateworker/internal/zone"
)

// ErrNoResult is returned when a provider answers but finds nothing
var ErrNoResult = stderrors.New("no geocoding result")

// Result is a resolved coordinate and the provider that produced it
type Result struct {
	zone.Coordinates
	Provider string `json:"provider"`
}

// Provider geocodes a free-text address
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string, profile zone.Profile) (Result, error)
}

// NominatimProvider queries an OpenStreetMap Nominatim endpoint. Requests
// are throttled to one per second, as the public instance requires.
type NominatimProvider struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewNominatimProvider creates a Nominatim provider
func NewNominatimProvider(endpoint, userAgent string, client *http.Client) *NominatimProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NominatimProvider{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    client,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Name implements Provider
func (p *NominatimProvider) Name() string { return "nominatim" }

// Geocode implements Provider
func (p *NominatimProvider) Geocode(ctx context.Context, query string, _ zone.Profile) (Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := getJSON(ctx, p.client, p.endpoint+"?"+params.Encode(), p.userAgent, &hits); err != nil {
		return Result{}, err
	}
	if len(hits) == 0 {
		return Result{}, ErrNoResult
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return Result{}, fmt.Errorf("nominatim lat %q: %w", hits[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return Result{}, fmt.Errorf("nominatim lon %q: %w", hits[0].Lon, err)
	}
	return Result{Coordinates: zone.Coordinates{Lat: lat, Lng: lng}, Provider: p.Name()}, nil
}

// GoogleProvider queries the Google Geocoding API with a country component
// filter taken from the zone profile.
type GoogleProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewGoogleProvider creates a Google geocoding provider
func NewGoogleProvider(endpoint, apiKey string, client *http.Client) *GoogleProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleProvider{endpoint: endpoint, apiKey: apiKey, client: client}
}

// Name implements Provider
func (p *GoogleProvider) Name() string { return "google" }

// Geocode implements Provider
func (p *GoogleProvider) Geocode(ctx context.Context, query string, profile zone.Profile) (Result, error) {
	params := url.Values{}
	params.Set("address", query)
	params.Set("key", p.apiKey)
	if profile.CountryCode != "" {
		params.Set("components", "country:"+profile.CountryCode)
	}

	var body struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Results      []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := getJSON(ctx, p.client, p.endpoint+"?"+params.Encode(), "", &body); err != nil {
		return Result{}, err
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return Result{}, ErrNoResult
	default:
		return Result{}, fmt.Errorf("google status %s: %s", body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		return Result{}, ErrNoResult
	}

	loc := body.Results[0].Geometry.Location
	return Result{Coordinates: zone.Coordinates{Lat: loc.Lat, Lng: loc.Lng}, Provider: p.Name()}, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL, userAgent string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
