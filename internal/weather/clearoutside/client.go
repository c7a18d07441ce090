// Package clearoutside implements a weather source that scrapes the
// clearoutside.com forecast pages.
package clearoutside

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/pvcast/pvcast/internal/provider/resilience"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

const (
	// Kind identifies this source type in configuration.
	Kind = "clearoutside"

	// DefaultBaseURL is the forecast page root.
	DefaultBaseURL = "https://clearoutside.com/forecast/"

	// MaxHorizon is the number of days published per page.
	MaxHorizon = 7 * 24 * time.Hour

	hoursPerDay = 24
)

// Row label prefixes and the variable they populate.
var rowLabels = []struct {
	prefix   string
	variable weather.Variable
}{
	{"Total Clouds", weather.CloudCover},
	{"Wind Speed", weather.WindSpeed},
	{"Temperature", weather.Temperature},
	{"Relative Humidity", weather.Humidity},
}

// ClientConfig holds configuration for the Clear Outside source.
type ClientConfig struct {
	// Name is the configured source name (default: "clearoutside").
	Name string

	// BaseURL overrides the forecast page root.
	BaseURL string

	// Freshness is how long a fetch stays valid (default: 1 hour).
	Freshness time.Duration

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger

	// Now overrides the clock used to date the first row.
	Now func() time.Time
}

// Client is a Clear Outside weather source.
type Client struct {
	name       string
	baseURL    string
	freshness  time.Duration
	httpClient *resilience.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a new Clear Outside source.
func NewClient(cfg ClientConfig) *Client {
	name := cfg.Name
	if name == "" {
		name = Kind
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	freshness := cfg.Freshness
	if freshness == 0 {
		freshness = time.Hour
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(name))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		name:       name,
		baseURL:    baseURL,
		freshness:  freshness,
		httpClient: httpClient,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Name returns the source name.
func (c *Client) Name() string {
	return c.name
}

// Capabilities describes the scraped hourly tables.
func (c *Client) Capabilities() weather.Capabilities {
	vars := make([]weather.Variable, 0, len(rowLabels))
	for _, r := range rowLabels {
		vars = append(vars, r.variable)
	}
	return weather.Capabilities{
		Kind:       Kind,
		Variables:  vars,
		Resolution: time.Hour,
		Freshness:  c.freshness,
		MaxHorizon: MaxHorizon,
	}
}

// URL returns the forecast page for a location. Coordinates are rounded to
// two decimals.
func (c *Client) URL(loc *topology.Location) string {
	return fmt.Sprintf("%s%s/%s/%s", c.baseURL, coord(loc.Latitude), coord(loc.Longitude), coord(loc.Elevation))
}

func coord(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// Fetch scrapes the forecast page for the location. The first row of
// day_0 is the current UTC hour.
func (c *Client) Fetch(ctx context.Context, loc *topology.Location, horizon time.Duration) (*weather.Series, error) {
	caps := c.Capabilities()
	if err := weather.CheckHorizon(c.name, caps, horizon); err != nil {
		return nil, err
	}

	start := c.now().UTC().Truncate(time.Hour)

	body, err := c.httpClient.GetBody(ctx, c.URL(loc), nil)
	if err != nil {
		return nil, weather.ClassifyError(c.name, fmt.Errorf("executing request: %w", err))
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, weather.NewSourceError(c.name, weather.KindMalformed, fmt.Errorf("parsing page: %w", err))
	}

	days := int(MaxHorizon / (hoursPerDay * time.Hour))
	var records []weather.Record
	for day := 0; day < days; day++ {
		table := findByID(doc, fmt.Sprintf("day_%d", day))
		if table == nil {
			if day > 0 {
				c.logger.Warn().Str("source", c.name).Int("day", day).Msg("no forecast table for day")
			}
			break
		}

		dayRecords, err := parseDay(table, start.Add(time.Duration(day*hoursPerDay)*time.Hour))
		if err != nil {
			return nil, weather.NewSourceError(c.name, weather.KindMalformed, fmt.Errorf("day %d: %w", day, err))
		}
		records = append(records, dayRecords...)
	}
	if len(records) == 0 {
		return nil, weather.NewSourceError(c.name, weather.KindMalformed, errors.New("no forecast tables found"))
	}

	c.logger.Debug().
		Str("source", c.name).
		Int("records", len(records)).
		Msg("scraped clearoutside forecast")

	return weather.NewSeries(c.name, c.now(), caps, records), nil
}

// parseDay reads one day table. Labels pair with the lists that follow the
// leading hour header list. Unparseable cells are left absent.
func parseDay(table *html.Node, start time.Time) ([]weather.Record, error) {
	labels := findAll(table, func(n *html.Node) bool { return hasClass(n, "fc_detail_label") })
	lists := findAll(table, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "ul" })
	if len(lists) > 0 {
		lists = lists[1:]
	}

	records := make([]weather.Record, hoursPerDay)
	for i := range records {
		records[i] = weather.Record{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Values: make(map[weather.Variable]float64, len(rowLabels)),
		}
	}

	found := 0
	for i, label := range labels {
		if i >= len(lists) {
			break
		}
		text := textOf(label)
		for _, row := range rowLabels {
			if !strings.HasPrefix(text, row.prefix) {
				continue
			}
			convert, err := converter(row.variable, unitOf(text))
			if err != nil {
				return nil, err
			}
			cells := findAll(lists[i], func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "li" })
			for h, cell := range cells {
				if h >= hoursPerDay {
					break
				}
				v, ok := number(textOf(cell))
				if !ok {
					continue
				}
				records[h].Values[row.variable] = convert(v)
			}
			found++
		}
	}
	if found == 0 {
		return nil, errors.New("no recognised rows")
	}
	return records, nil
}

func converter(v weather.Variable, unit string) (func(float64) float64, error) {
	switch v {
	case weather.WindSpeed:
		if _, err := weather.ToMetersPerSecond(0, unit); err != nil {
			return nil, err
		}
		return func(x float64) float64 { ms, _ := weather.ToMetersPerSecond(x, unit); return ms }, nil
	case weather.Temperature:
		if _, err := weather.ToCelsius(0, unit); err != nil {
			return nil, err
		}
		return func(x float64) float64 { c, _ := weather.ToCelsius(x, unit); return c }, nil
	default:
		return func(x float64) float64 { return x }, nil
	}
}

// unitOf extracts the unit in the trailing parentheses of a row label,
// ignoring percentages and mis-decoded degree signs.
func unitOf(label string) string {
	open := strings.LastIndex(label, "(")
	end := strings.LastIndex(label, ")")
	if open < 0 || end < open {
		return ""
	}
	unit := strings.TrimLeft(label[open+1:end], "Â°")
	if strings.HasPrefix(unit, "%") {
		return ""
	}
	return unit
}

func number(s string) (float64, bool) {
	for _, f := range strings.Fields(s) {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child)
	}
	return out
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
