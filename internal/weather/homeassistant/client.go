// Package homeassistant implements a weather source that reads the hourly
// forecast of a Home Assistant weather entity over the websocket API.
package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/provider/resilience"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

const (
	// Kind identifies this source type in configuration.
	Kind = "homeassistant"

	// DefaultMaxHorizon is the hourly forecast length most integrations publish.
	DefaultMaxHorizon = 48 * time.Hour
)

// ErrInvalidEntity is returned for entity ids not of the form weather.<name>.
var ErrInvalidEntity = errors.New("entity id must have the form weather.<name>")

// ClientConfig holds configuration for the Home Assistant source.
type ClientConfig struct {
	// Name is the configured source name (default: "homeassistant").
	Name string

	// URL is the Home Assistant host ("homeassistant.local:8123") or a
	// full http(s)/ws(s) URL.
	URL string

	// Token is a long-lived access token.
	Token string

	// EntityID is the weather entity to read, e.g. "weather.forecast_home".
	EntityID string

	// MaxHorizon is how far the entity forecasts (default: 48 hours).
	MaxHorizon time.Duration

	// Freshness is how long a fetch stays valid (default: 1 hour).
	Freshness time.Duration

	// MaxRetries bounds reconnect attempts per fetch (default: 2).
	MaxRetries uint64

	// Registry, when set, tracks the session circuit breaker.
	Registry *resilience.Registry

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Home Assistant weather source.
type Client struct {
	name       string
	wsURL      string
	token      string
	entityID   string
	maxHorizon time.Duration
	freshness  time.Duration
	dialer     *websocket.Dialer
	guard      *resilience.Guard[*weather.Series]
	logger     zerolog.Logger
}

// NewClient creates a new Home Assistant source.
func NewClient(cfg ClientConfig) (*Client, error) {
	parts := strings.Split(cfg.EntityID, ".")
	if len(parts) != 2 || parts[0] != "weather" || parts[1] == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntity, cfg.EntityID)
	}

	wsURL, err := websocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = Kind
	}
	maxHorizon := cfg.MaxHorizon
	if maxHorizon == 0 {
		maxHorizon = DefaultMaxHorizon
	}
	freshness := cfg.Freshness
	if freshness == 0 {
		freshness = time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	return &Client{
		name:       name,
		wsURL:      wsURL,
		token:      cfg.Token,
		entityID:   cfg.EntityID,
		maxHorizon: maxHorizon,
		freshness:  freshness,
		dialer:     dialer,
		guard: resilience.NewGuard[*weather.Series](resilience.GuardConfig{
			Name:       name,
			MaxRetries: maxRetries,
			Registry:   cfg.Registry,
		}),
		logger: cfg.Logger,
	}, nil
}

// websocketURL normalises a host or URL to the websocket API endpoint.
func websocketURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("home assistant url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing home assistant url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/api/websocket") {
		u.Path += "/api/websocket"
	}
	return u.String(), nil
}

// Name returns the source name.
func (c *Client) Name() string {
	return c.name
}

// Capabilities describes the entity's hourly forecast.
func (c *Client) Capabilities() weather.Capabilities {
	return weather.Capabilities{
		Kind:       Kind,
		Variables:  []weather.Variable{weather.Temperature, weather.CloudCover, weather.WindSpeed, weather.Humidity},
		Resolution: time.Hour,
		Freshness:  c.freshness,
		MaxHorizon: c.maxHorizon,
	}
}

// Fetch opens a websocket session, authenticates and reads one hourly
// forecast event. The location is implied by the entity.
func (c *Client) Fetch(ctx context.Context, _ *topology.Location, horizon time.Duration) (*weather.Series, error) {
	caps := c.Capabilities()
	if err := weather.CheckHorizon(c.name, caps, horizon); err != nil {
		return nil, err
	}

	s, err := c.guard.Execute(ctx, func(ctx context.Context) (*weather.Series, error) {
		return c.session(ctx, caps)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, weather.NewSourceError(c.name, weather.KindTimeout, err)
		}
		return nil, weather.ClassifyError(c.name, err)
	}
	return s, nil
}

// session runs one connection. Protocol failures are permanent; transport
// failures are retried by the guard.
func (c *Client) session(ctx context.Context, caps weather.Capabilities) (*weather.Series, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.wsURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := c.authenticate(conn); err != nil {
		return nil, err
	}

	units, err := c.entityUnits(conn)
	if err != nil {
		return nil, err
	}

	forecast, err := c.subscribeForecast(conn)
	if err != nil {
		return nil, err
	}

	records, err := toRecords(forecast, units)
	if err != nil {
		return nil, c.permanent(weather.KindMalformed, err)
	}
	if len(records) == 0 {
		return nil, c.permanent(weather.KindMalformed, errors.New("empty forecast"))
	}

	c.logger.Debug().
		Str("source", c.name).
		Str("entity_id", c.entityID).
		Int("records", len(records)).
		Msg("fetched home assistant forecast")

	return weather.NewSeries(c.name, time.Now(), caps, records), nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("reading auth request: %w", err)
	}
	if msg.Type != "auth_required" {
		return c.permanent(weather.KindMalformed, fmt.Errorf("unexpected message %q before auth", msg.Type))
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("reading auth reply: %w", err)
	}
	if msg.Type != "auth_ok" {
		return c.permanent(weather.KindAuth, fmt.Errorf("authentication failed: %s", msg.Message))
	}
	return nil
}

// entityUnits reads the entity's reported units from the state machine.
func (c *Client) entityUnits(conn *websocket.Conn) (unitSet, error) {
	const id = 1
	if err := conn.WriteJSON(map[string]any{"id": id, "type": "get_states"}); err != nil {
		return unitSet{}, fmt.Errorf("requesting states: %w", err)
	}

	var msg statesMessage
	for {
		var m statesMessage
		if err := conn.ReadJSON(&m); err != nil {
			return unitSet{}, fmt.Errorf("reading states: %w", err)
		}
		if m.ID == id && m.Type == "result" {
			msg = m
			break
		}
	}
	if !msg.Success {
		return unitSet{}, c.permanent(weather.KindUnavailable, errors.New("state request rejected"))
	}

	for _, st := range msg.Result {
		if st.EntityID != c.entityID {
			continue
		}
		return unitSet{
			temperature: st.Attributes.TemperatureUnit,
			windSpeed:   st.Attributes.WindSpeedUnit,
		}, nil
	}
	return unitSet{}, c.permanent(weather.KindUnavailable, fmt.Errorf("entity %s not found", c.entityID))
}

func (c *Client) subscribeForecast(conn *websocket.Conn) ([]forecastItem, error) {
	const id = 2
	req := map[string]any{
		"id":            id,
		"type":          "weather/subscribe_forecast",
		"entity_id":     c.entityID,
		"forecast_type": "hourly",
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("reading forecast: %w", err)
		}
		if msg.ID != id {
			continue
		}
		switch msg.Type {
		case "result":
			if !msg.Success {
				return nil, c.permanent(weather.KindUnavailable, fmt.Errorf("subscription rejected: %s", msg.errorMessage()))
			}
		case "event":
			if msg.Event == nil {
				return nil, c.permanent(weather.KindMalformed, errors.New("event without payload"))
			}
			return msg.Event.Forecast, nil
		}
	}
}

func (c *Client) permanent(kind weather.ErrorKind, err error) error {
	return backoff.Permanent(weather.NewSourceError(c.name, kind, err))
}

type unitSet struct {
	temperature string
	windSpeed   string
}

// toRecords converts forecast items, normalising units. Missing fields stay
// absent.
func toRecords(items []forecastItem, units unitSet) ([]weather.Record, error) {
	records := make([]weather.Record, 0, len(items))
	for i, it := range items {
		t, err := time.Parse(time.RFC3339, it.Datetime)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		vals := make(map[weather.Variable]float64, 4)
		if it.Temperature != nil {
			v, err := weather.ToCelsius(*it.Temperature, units.temperature)
			if err != nil {
				return nil, err
			}
			vals[weather.Temperature] = v
		}
		if it.WindSpeed != nil {
			v, err := weather.ToMetersPerSecond(*it.WindSpeed, units.windSpeed)
			if err != nil {
				return nil, err
			}
			vals[weather.WindSpeed] = v
		}
		if it.CloudCoverage != nil {
			vals[weather.CloudCover] = *it.CloudCoverage
		}
		if it.Humidity != nil {
			vals[weather.Humidity] = *it.Humidity
		}
		records = append(records, weather.Record{Time: t.UTC(), Values: vals})
	}
	return records, nil
}

type message struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Event *struct {
		Type     string         `json:"type"`
		Forecast []forecastItem `json:"forecast"`
	} `json:"event"`
}

func (m *message) errorMessage() string {
	if m.Error == nil {
		return "unknown error"
	}
	return m.Error.Code + ": " + m.Error.Message
}

type statesMessage struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Result  []struct {
		EntityID   string `json:"entity_id"`
		Attributes struct {
			TemperatureUnit string `json:"temperature_unit"`
			WindSpeedUnit   string `json:"wind_speed_unit"`
		} `json:"attributes"`
	} `json:"result"`
}

type forecastItem struct {
	Datetime      string   `json:"datetime"`
	Condition     string   `json:"condition"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	WindSpeed     *float64 `json:"wind_speed"`
	CloudCoverage *float64 `json:"cloud_coverage"`
}
