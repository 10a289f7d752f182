// Package geo implements the geocoding and weather capabilities using
// the public Nominatim and Open-Meteo APIs.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yavinfive/eddie/internal/httpkit"
)

const (
	nominatimBase = "https://nominatim.openstreetmap.org"
	openMeteoBase = "https://api.open-meteo.com"
)

// Client calls the location and weather endpoints. Nominatim's usage
// policy requires an identifying User-Agent; httpkit sets one on every
// request.
type Client struct {
	nominatimURL string
	openMeteoURL string
	httpClient   *http.Client
}

// New creates a geo client with default endpoints.
func New() *Client {
	return &Client{
		nominatimURL: nominatimBase,
		openMeteoURL: openMeteoBase,
		httpClient:   httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

// CityToLatLon resolves a city name to ("lat", "lon") strings.
func (c *Client) CityToLatLon(ctx context.Context, city string) (string, string, error) {
	if city == "" {
		return "", "", fmt.Errorf("geo: city is required")
	}

	var places []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	q := url.Values{"q": {city}, "format": {"json"}, "limit": {"1"}}
	if err := c.getJSON(ctx, c.nominatimURL+"/search?"+q.Encode(), &places); err != nil {
		return "", "", err
	}
	if len(places) == 0 {
		return "", "", fmt.Errorf("geo: no results for city %q", city)
	}
	return places[0].Lat, places[0].Lon, nil
}

// LatLonToCity reverse-geocodes coordinates to a display name.
func (c *Client) LatLonToCity(ctx context.Context, lat, lon string) (string, error) {
	var place struct {
		DisplayName string `json:"display_name"`
	}
	q := url.Values{"lat": {lat}, "lon": {lon}, "format": {"json"}}
	if err := c.getJSON(ctx, c.nominatimURL+"/reverse?"+q.Encode(), &place); err != nil {
		return "", err
	}
	if place.DisplayName == "" {
		return "", fmt.Errorf("geo: no place at %s,%s", lat, lon)
	}
	return place.DisplayName, nil
}

// LatLonToWeather returns the current temperature at the coordinates,
// formatted as "NN.N C".
func (c *Client) LatLonToWeather(ctx context.Context, lat, lon string) (string, error) {
	var forecast struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
		} `json:"current"`
	}
	q := url.Values{
		"latitude":         {lat},
		"longitude":        {lon},
		"current":          {"temperature_2m"},
		"temperature_unit": {"celsius"},
		"forecast_days":    {"1"},
	}
	if err := c.getJSON(ctx, c.openMeteoURL+"/v1/forecast?"+q.Encode(), &forecast); err != nil {
		return "", err
	}
	return fmt.Sprintf("%.1f C", forecast.Current.Temperature), nil
}

// CityToWeather returns the current temperature for a city name.
func (c *Client) CityToWeather(ctx context.Context, city string) (string, error) {
	lat, lon, err := c.CityToLatLon(ctx, city)
	if err != nil {
		return "", err
	}
	return c.LatLonToWeather(ctx, lat, lon)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("geo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("geo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("geo: HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("geo: decode response: %w", err)
	}
	return nil
}
