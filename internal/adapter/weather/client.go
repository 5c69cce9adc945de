// Package weather implements the WeatherClient port against an
// OpenWeather-compatible current-weather API, normalizing the reading into
// the units the condition grammar expects.
package weather

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/adweave/skytrigger/internal/domain"
)

// DefaultTimeout bounds one current-weather fetch.
const DefaultTimeout = 10 * time.Second

// Client fetches current weather readings over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// New builds a Client. A non-positive timeout falls back to the 10 s default.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// currentWeatherResponse mirrors the provider payload. Visibility arrives in
// meters and precipitation as rain volume for the last hour.
type currentWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Visibility float64 `json:"visibility"`
	Weather    []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

// CurrentWeather returns the normalized reading for the location. Non-2xx
// responses surface as *domain.APIError carrying the status and any
// Retry-After hint so the rate limiter can classify them.
func (c *Client) CurrentWeather(ctx domain.Context, loc domain.Location) (domain.WeatherSnapshot, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	q.Set("units", "metric")
	q.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return domain.WeatherSnapshot{}, fmt.Errorf("op=weather.current: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.WeatherSnapshot{}, fmt.Errorf("op=weather.current: network: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.WeatherSnapshot{}, fmt.Errorf("op=weather.current: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.WeatherSnapshot{}, &domain.APIError{
			StatusCode: resp.StatusCode,
			Message:    "weather status " + strconv.Itoa(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var payload currentWeatherResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.WeatherSnapshot{}, fmt.Errorf("op=weather.current: decode: %w", err)
	}

	snap := domain.WeatherSnapshot{
		Temperature:   payload.Main.Temp,
		Humidity:      payload.Main.Humidity,
		WindSpeed:     payload.Wind.Speed,
		Precipitation: payload.Rain.OneHour,
		Visibility:    payload.Visibility / 1000, // m -> km
		CloudCover:    payload.Clouds.All,
	}
	if len(payload.Weather) > 0 {
		snap.ConditionID = payload.Weather[0].ID
		snap.Description = payload.Weather[0].Description
		snap.Icon = payload.Weather[0].Icon
	}
	return snap, nil
}

// parseRetryAfter handles the delta-seconds form of the header; the HTTP-date
// form is rare on weather APIs and falls back to zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
