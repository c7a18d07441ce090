// Package openweathermap implements a weather source backed by the
// authenticated OpenWeatherMap One Call 3.0 API.
package openweathermap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/provider/resilience"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

const (
	// Kind identifies this source type in configuration.
	Kind = "openweathermap"

	// DefaultOneCallURL is the OpenWeatherMap OneCall API 3.0 base URL.
	DefaultOneCallURL = "https://api.openweathermap.org/data/3.0/onecall"

	// MaxHorizon is the length of the hourly block returned by One Call.
	MaxHorizon = 48 * time.Hour
)

// ClientConfig holds configuration for the OpenWeatherMap source.
type ClientConfig struct {
	// Name is the configured source name (default: "openweathermap").
	Name string

	// APIKey is the OpenWeatherMap API key (required).
	APIKey string

	// OneCallURL is the OneCall API URL (optional, defaults to OneCall 3.0).
	OneCallURL string

	// Freshness is how long a fetch stays valid (default: 1 hour).
	Freshness time.Duration

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenWeatherMap weather source.
type Client struct {
	name       string
	apiKey     string
	oneCallURL string
	freshness  time.Duration
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new OpenWeatherMap source.
func NewClient(cfg ClientConfig) *Client {
	name := cfg.Name
	if name == "" {
		name = Kind
	}

	oneCallURL := cfg.OneCallURL
	if oneCallURL == "" {
		oneCallURL = DefaultOneCallURL
	}

	freshness := cfg.Freshness
	if freshness == 0 {
		freshness = time.Hour
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(name))
	}

	return &Client{
		name:       name,
		apiKey:     cfg.APIKey,
		oneCallURL: oneCallURL,
		freshness:  freshness,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the source name.
func (c *Client) Name() string {
	return c.name
}

// Capabilities describes the One Call hourly block.
func (c *Client) Capabilities() weather.Capabilities {
	return weather.Capabilities{
		Kind:       Kind,
		Variables:  []weather.Variable{weather.Temperature, weather.CloudCover, weather.WindSpeed, weather.Humidity},
		Resolution: time.Hour,
		Freshness:  c.freshness,
		MaxHorizon: MaxHorizon,
	}
}

// Fetch retrieves the hourly forecast for the location.
func (c *Client) Fetch(ctx context.Context, loc *topology.Location, horizon time.Duration) (*weather.Series, error) {
	caps := c.Capabilities()
	if err := weather.CheckHorizon(c.name, caps, horizon); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return nil, weather.NewSourceError(c.name, weather.KindAuth, errors.New("api key is not configured"))
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', 6, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	q.Set("exclude", "current,minutely,daily,alerts")

	body, err := c.httpClient.GetBody(ctx, c.oneCallURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, weather.ClassifyError(c.name, fmt.Errorf("executing request: %w", err))
	}

	var resp oneCallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, weather.NewSourceError(c.name, weather.KindMalformed, fmt.Errorf("decoding response: %w", err))
	}

	records := c.toRecords(&resp)
	if len(records) == 0 {
		return nil, weather.NewSourceError(c.name, weather.KindMalformed, errors.New("no hourly data"))
	}

	c.logger.Debug().
		Str("source", c.name).
		Int("records", len(records)).
		Msg("fetched openweathermap forecast")

	return weather.NewSeries(c.name, time.Now(), caps, records), nil
}

// toRecords converts the One Call hourly block to weather records.
func (c *Client) toRecords(resp *oneCallResponse) []weather.Record {
	records := make([]weather.Record, 0, len(resp.Hourly))
	for _, h := range resp.Hourly {
		vals := map[weather.Variable]float64{
			weather.Temperature: h.Temp,
			weather.CloudCover:  h.Clouds,
			weather.Humidity:    h.Humidity,
		}
		if h.WindSpeed != nil {
			vals[weather.WindSpeed] = *h.WindSpeed
		}
		records = append(records, weather.Record{
			Time:   time.Unix(h.Dt, 0).UTC(),
			Values: vals,
		})
	}
	return records
}

type oneCallResponse struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Hourly []struct {
		Dt        int64    `json:"dt"`
		Temp      float64  `json:"temp"`
		Humidity  float64  `json:"humidity"`
		Clouds    float64  `json:"clouds"`
		WindSpeed *float64 `json:"wind_speed"`
		Pop       float64  `json:"pop"`
	} `json:"hourly"`
}
