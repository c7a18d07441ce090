// Package openmeteo implements a weather source backed by the keyless
// Open-Meteo forecast API. It is the only built-in source that supplies
// irradiance components directly.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
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
	Kind = "openmeteo"

	// DefaultBaseURL is the Open-Meteo forecast endpoint.
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

	// MaxHorizon is the longest forecast Open-Meteo serves.
	MaxHorizon = 16 * 24 * time.Hour
)

// hourly parameters requested, keyed to the variable they populate.
var hourlyParams = []struct {
	param    string
	variable weather.Variable
}{
	{"shortwave_radiation", weather.GHI},
	{"direct_normal_irradiance", weather.DNI},
	{"diffuse_radiation", weather.DHI},
	{"temperature_2m", weather.Temperature},
	{"cloud_cover", weather.CloudCover},
	{"wind_speed_10m", weather.WindSpeed},
	{"relative_humidity_2m", weather.Humidity},
}

// ClientConfig holds configuration for the Open-Meteo source.
type ClientConfig struct {
	// Name is the configured source name (default: "openmeteo").
	Name string

	// BaseURL overrides the forecast endpoint.
	BaseURL string

	// Freshness is how long a fetch stays valid (default: 1 hour).
	Freshness time.Duration

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an Open-Meteo weather source.
type Client struct {
	name       string
	baseURL    string
	freshness  time.Duration
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new Open-Meteo source.
func NewClient(cfg ClientConfig) *Client {
	name := cfg.Name
	if name == "" {
		name = Kind
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		baseURL:    baseURL,
		freshness:  freshness,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the source name.
func (c *Client) Name() string {
	return c.name
}

// Capabilities describes the hourly Open-Meteo forecast.
func (c *Client) Capabilities() weather.Capabilities {
	vars := make([]weather.Variable, 0, len(hourlyParams))
	for _, p := range hourlyParams {
		vars = append(vars, p.variable)
	}
	return weather.Capabilities{
		Kind:       Kind,
		Variables:  vars,
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

	body, err := c.httpClient.GetBody(ctx, c.requestURL(loc, horizon), nil)
	if err != nil {
		return nil, weather.ClassifyError(c.name, fmt.Errorf("executing request: %w", err))
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, weather.NewSourceError(c.name, weather.KindMalformed, fmt.Errorf("decoding response: %w", err))
	}

	records, err := toRecords(&resp)
	if err != nil {
		return nil, weather.NewSourceError(c.name, weather.KindMalformed, err)
	}
	if len(records) == 0 {
		return nil, weather.NewSourceError(c.name, weather.KindMalformed, errors.New("no hourly data"))
	}

	c.logger.Debug().
		Str("source", c.name).
		Int("records", len(records)).
		Msg("fetched open-meteo forecast")

	return weather.NewSeries(c.name, time.Now(), caps, records), nil
}

func (c *Client) requestURL(loc *topology.Location, horizon time.Duration) string {
	params := ""
	for i, p := range hourlyParams {
		if i > 0 {
			params += ","
		}
		params += p.param
	}

	// One extra day so the horizon is covered from any time of day.
	days := int(math.Ceil(horizon.Hours()/24)) + 1
	if days > 16 {
		days = 16
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	q.Set("elevation", strconv.FormatFloat(loc.Elevation, 'f', 0, 64))
	q.Set("hourly", params)
	q.Set("wind_speed_unit", "ms")
	q.Set("temperature_unit", "celsius")
	q.Set("timeformat", "unixtime")
	q.Set("timezone", "UTC")
	q.Set("forecast_days", strconv.Itoa(days))
	return c.baseURL + "?" + q.Encode()
}

// toRecords converts the column-oriented hourly block to records. Null
// entries leave the variable absent.
func toRecords(resp *forecastResponse) ([]weather.Record, error) {
	n := len(resp.Hourly.Time)
	columns := map[weather.Variable][]*float64{
		weather.GHI:         resp.Hourly.ShortwaveRadiation,
		weather.DNI:         resp.Hourly.DirectNormalIrradiance,
		weather.DHI:         resp.Hourly.DiffuseRadiation,
		weather.Temperature: resp.Hourly.Temperature2m,
		weather.CloudCover:  resp.Hourly.CloudCover,
		weather.WindSpeed:   resp.Hourly.WindSpeed10m,
		weather.Humidity:    resp.Hourly.RelativeHumidity2m,
	}
	for v, col := range columns {
		if col != nil && len(col) != n {
			return nil, fmt.Errorf("column %s has %d values, want %d", v, len(col), n)
		}
	}

	records := make([]weather.Record, 0, n)
	for i, ts := range resp.Hourly.Time {
		vals := make(map[weather.Variable]float64, len(columns))
		for v, col := range columns {
			if col == nil || col[i] == nil {
				continue
			}
			vals[v] = *col[i]
		}
		records = append(records, weather.Record{
			Time:   time.Unix(ts, 0).UTC(),
			Values: vals,
		})
	}
	return records, nil
}

type forecastResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time                   []int64    `json:"time"`
		ShortwaveRadiation     []*float64 `json:"shortwave_radiation"`
		DirectNormalIrradiance []*float64 `json:"direct_normal_irradiance"`
		DiffuseRadiation       []*float64 `json:"diffuse_radiation"`
		Temperature2m          []*float64 `json:"temperature_2m"`
		CloudCover             []*float64 `json:"cloud_cover"`
		WindSpeed10m           []*float64 `json:"wind_speed_10m"`
		RelativeHumidity2m     []*float64 `json:"relative_humidity_2m"`
	} `json:"hourly"`
}
