package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultWeatherBaseURL = "https://api.openweathermap.org"

// WeatherReport is the tool result returned to the model.
type WeatherReport struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
	Humidity    float64 `json:"humidity"`
	Description string  `json:"description"`
	Units       string  `json:"units"`
}

func (r WeatherReport) JSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode weather report: %w", err)
	}
	return string(data), nil
}

type WeatherOptions struct {
	APIKey  string
	BaseURL string
	// Units is "imperial" or "metric".
	Units string
	// RequestsPerSecond throttles outgoing calls; zero means one per second.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// WeatherClient queries the OpenWeatherMap current weather endpoint.
type WeatherClient struct {
	apiKey  string
	baseURL string
	units   string
	client  *http.Client
	limiter *rate.Limiter
}

func NewWeatherClient(opts WeatherOptions) *WeatherClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultWeatherBaseURL
	}
	units := opts.Units
	if units != "metric" {
		units = "imperial"
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WeatherClient{
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		units:   units,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 2),
	}
}

type owmResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Message string `json:"message"`
}

// Current fetches the weather for location, defaulting to DefaultLocation.
// Errors are *ToolError wrapping ErrUnauthorized, ErrLocationNotFound or a
// status error.
func (c *WeatherClient) Current(ctx context.Context, location string) (WeatherReport, error) {
	report, err := c.current(ctx, location)
	if err != nil {
		return WeatherReport{}, &ToolError{Kind: KindWeather, Err: err}
	}
	return report, nil
}

func (c *WeatherClient) current(ctx context.Context, location string) (WeatherReport, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		location = DefaultLocation
	}
	if c.apiKey == "" {
		return WeatherReport{}, ErrUnauthorized
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return WeatherReport{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	query := url.Values{}
	query.Set("q", location)
	query.Set("appid", c.apiKey)
	query.Set("units", c.units)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/2.5/weather?"+query.Encode(), nil)
	if err != nil {
		return WeatherReport{}, fmt.Errorf("create weather request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return WeatherReport{}, fmt.Errorf("call weather API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WeatherReport{}, fmt.Errorf("read weather response: %w", err)
	}

	var parsed owmResponse
	decodeErr := json.Unmarshal(data, &parsed)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return WeatherReport{}, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		msg := parsed.Message
		if msg == "" {
			msg = location
		}
		return WeatherReport{}, fmt.Errorf("%w: %s", ErrLocationNotFound, msg)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return WeatherReport{}, fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return WeatherReport{}, fmt.Errorf("decode weather response: %w", decodeErr)
	}

	report := WeatherReport{
		Location:    location,
		Temperature: round2(parsed.Main.Temp),
		FeelsLike:   round2(parsed.Main.FeelsLike),
		TempMin:     round2(parsed.Main.TempMin),
		TempMax:     round2(parsed.Main.TempMax),
		Humidity:    round2(parsed.Main.Humidity),
		Units:       "°F",
	}
	if c.units == "metric" {
		report.Units = "°C"
	}
	if parsed.Name != "" {
		report.Location = parsed.Name
	}
	if len(parsed.Weather) > 0 {
		report.Description = parsed.Weather[0].Description
	}
	return report, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var _ WeatherService = (*WeatherClient)(nil)
