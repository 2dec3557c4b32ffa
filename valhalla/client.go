// Package valhalla provides the Valhalla adapter: directions, matrix and
// isochrone calls against a Valhalla routing server.
package valhalla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rs/zerolog"

	"github.com/gis-ops/routing-go/client"
	"github.com/gis-ops/routing-go/pkg/polyline"
	"github.com/gis-ops/routing-go/routing"
)

const (
	// ProviderName identifies this routing engine.
	ProviderName = "valhalla"

	// DefaultBaseURL is the public Valhalla instance run on OSM data.
	DefaultBaseURL = "https://valhalla1.openstreetmap.de"

	// shapePrecision is the polyline precision of Valhalla leg shapes.
	shapePrecision = 6

	// milesFactor converts engine length units when the response reports miles.
	milesFactor = 0.621371
)

// ClientConfig holds configuration for the Valhalla client.
type ClientConfig struct {
	// APIKey is optional; public instances need none. When set it is sent
	// as the access_token query parameter.
	APIKey string

	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// UserAgent overrides the module default.
	UserAgent string

	// Timeout is the request timeout (default 30s).
	Timeout time.Duration

	// RetryOverQueryLimit enables transport retries on HTTP 429 and
	// network errors.
	RetryOverQueryLimit bool

	// MaxRetries bounds the retry loop.
	MaxRetries uint64

	// Headers are extra headers sent with every request.
	Headers map[string]string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient client.HTTPDoer

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Valhalla API client.
type Client struct {
	transport *client.Client
	apiKey    string
	logger    zerolog.Logger
}

// NewClient creates a new Valhalla client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	transport := client.New(client.Config{
		Provider:            ProviderName,
		BaseURL:             baseURL,
		UserAgent:           cfg.UserAgent,
		Timeout:             cfg.Timeout,
		RetryOverQueryLimit: cfg.RetryOverQueryLimit,
		MaxRetries:          cfg.MaxRetries,
		Headers:             cfg.Headers,
		HTTPClient:          cfg.HTTPClient,
		Logger:              cfg.Logger,
	})

	return &Client{
		transport: transport,
		apiKey:    cfg.APIKey,
		logger:    cfg.Logger,
	}, nil
}

// DirectionsOptions configures a Directions call.
type DirectionsOptions struct {
	// Preference selects "fastest" (engine default) or "shortest". When set
	// to "shortest" it is folded into the costing options and takes
	// precedence over a "shortest" key in CostingOpts.
	Preference string

	// CostingOpts are raw costing options for the chosen costing model,
	// passed through under costing_options.<costing>.
	CostingOpts map[string]any

	// Units is "kilometers" (engine default) or "miles".
	Units string

	// Language for narrative instructions.
	Language string

	// Narrative toggles turn-by-turn narrative generation.
	Narrative *bool

	// Alternates requests up to n alternate routes.
	Alternates *int

	// AvoidLocations are points to route around.
	AvoidLocations []AvoidLocation

	// AvoidPolygons are areas to route around.
	AvoidPolygons []AvoidPolygon

	// DateTime pins departure or arrival time.
	DateTime *DateTime

	// ID is an opaque identifier echoed back by the engine.
	ID string

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Directions computes routes through the given locations, in order.
// Locations are (lat, lon) and may carry Valhalla's rich waypoint fields.
func (c *Client) Directions(ctx context.Context, locations []routing.Location, costing string, opts *DirectionsOptions) (*routing.Directions, error) {
	if len(locations) < 2 {
		return nil, routing.NewValidationError(ProviderName, "directions needs at least two locations")
	}
	if opts == nil {
		opts = &DirectionsOptions{}
	}

	body := routeRequest{
		Locations: wireLocations(locations),
		Costing:   costing,
		Language:  opts.Language,
		ID:        opts.ID,
		DateTime:  opts.DateTime,
		Narrative: opts.Narrative,
	}
	if opts.Units != "" {
		body.DirectionsOptions = &directionsOptions{Units: opts.Units}
	}
	if opts.Alternates != nil {
		body.Alternates = opts.Alternates
	}
	body.CostingOptions = costingOptions(costing, opts)

	for _, a := range opts.AvoidLocations {
		ll, err := a.lonLat()
		if err != nil {
			return nil, routing.NewValidationError(ProviderName, err.Error())
		}
		body.ExcludeLocations = append(body.ExcludeLocations, []float64{ll[0], ll[1]})
	}
	for _, p := range opts.AvoidPolygons {
		rings, err := p.rings()
		if err != nil {
			return nil, routing.NewValidationError(ProviderName, err.Error())
		}
		body.ExcludePolygons = append(body.ExcludePolygons, rings)
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:   "/route",
		GetParams:  c.authParams(),
		PostParams: body,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return nil, c.apiError(res, err)
	}
	if res.DryRun != "" {
		return &routing.Directions{DryRun: res.DryRun}, nil
	}

	return c.parseDirections(res.Body)
}

// costingOptions merges the raw costing options with the preference
// shortcut. The named Preference wins over a "shortest" key in CostingOpts.
func costingOptions(costing string, opts *DirectionsOptions) map[string]map[string]any {
	merged := make(map[string]any, len(opts.CostingOpts)+1)
	for k, v := range opts.CostingOpts {
		merged[k] = v
	}
	if opts.Preference == "shortest" {
		merged["shortest"] = true
	}
	if len(merged) == 0 {
		return nil
	}
	return map[string]map[string]any{costing: merged}
}

func (c *Client) parseDirections(body json.RawMessage) (*routing.Directions, error) {
	var envelope struct {
		Trip       json.RawMessage `json:"trip"`
		Alternates []struct {
			Trip json.RawMessage `json:"trip"`
		} `json:"alternates"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Trip) == 0 {
		return nil, &routing.APIError{
			Provider: ProviderName,
			Message:  "response contained no trip",
			Err:      routing.ErrNoRouteFound,
		}
	}

	primary, err := parseTrip(envelope.Trip)
	if err != nil {
		return nil, err
	}

	directions := []routing.Direction{primary}
	for _, alt := range envelope.Alternates {
		if len(alt.Trip) == 0 {
			continue
		}
		d, err := parseTrip(alt.Trip)
		if err != nil {
			return nil, err
		}
		directions = append(directions, d)
	}

	c.logger.Debug().Int("route_count", len(directions)).Msg("parsed valhalla directions")

	return &routing.Directions{Directions: directions, Raw: body}, nil
}

// parseTrip turns one trip payload into a Direction: leg shapes are decoded
// at precision 6 and concatenated, distances and durations summed across
// legs. Distances are scaled by 0.621371 when the trip units are miles.
func parseTrip(raw json.RawMessage) (routing.Direction, error) {
	var t trip
	if err := json.Unmarshal(raw, &t); err != nil {
		return routing.Direction{}, fmt.Errorf("decoding trip: %w", err)
	}

	var line [][]float64
	var distance, duration float64
	for _, l := range t.Legs {
		for _, coord := range polyline.Decode(l.Shape, shapePrecision) {
			line = append(line, []float64{coord.Lon, coord.Lat})
		}
		distance += l.Summary.Length
		duration += l.Summary.Time
	}

	factor := 1.0
	if t.Units == "miles" {
		factor = milesFactor
	}
	dist := int(math.Round(distance * factor))
	dur := int(math.Round(duration))

	var geometry *geojson.Geometry
	if len(line) > 0 {
		geometry = geojson.NewLineStringGeometry(line)
	}

	return routing.Direction{
		Geometry: geometry,
		Duration: &dur,
		Distance: &dist,
		Raw:      raw,
	}, nil
}

// MatrixOptions configures a Matrix call.
type MatrixOptions struct {
	// Sources are indexes into the locations list to use as origins.
	// Empty means all locations.
	Sources []int

	// Destinations are indexes into the locations list to use as targets.
	// Empty means all locations.
	Destinations []int

	// Units is "kilometers" (engine default) or "miles".
	Units string

	// ID is an opaque identifier echoed back by the engine.
	ID string

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Matrix computes the duration/distance tables between the locations.
// Distances are returned in meters; durations in seconds.
func (c *Client) Matrix(ctx context.Context, locations []routing.Coordinate, costing string, opts *MatrixOptions) (*routing.Matrix, error) {
	if len(locations) < 2 {
		return nil, routing.NewValidationError(ProviderName, "matrix needs at least two locations")
	}
	if opts == nil {
		opts = &MatrixOptions{}
	}

	sources, err := pickLocations(locations, opts.Sources)
	if err != nil {
		return nil, routing.NewValidationError(ProviderName, err.Error())
	}
	targets, err := pickLocations(locations, opts.Destinations)
	if err != nil {
		return nil, routing.NewValidationError(ProviderName, err.Error())
	}

	body := matrixRequest{
		Sources: sources,
		Targets: targets,
		Costing: costing,
		Units:   opts.Units,
		ID:      opts.ID,
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:   "/sources_to_targets",
		GetParams:  c.authParams(),
		PostParams: body,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return nil, c.apiError(res, err)
	}
	if res.DryRun != "" {
		return &routing.Matrix{DryRun: res.DryRun}, nil
	}

	var parsed struct {
		SourcesToTargets [][]matrixCell `json:"sources_to_targets"`
		Units            string         `json:"units"`
	}
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Distances come back in kilometers (or miles); scale to meters.
	factor := 1000.0
	if parsed.Units == "miles" {
		factor *= milesFactor
	}

	durations := make([][]*float64, len(parsed.SourcesToTargets))
	distances := make([][]*float64, len(parsed.SourcesToTargets))
	for i, row := range parsed.SourcesToTargets {
		durations[i] = make([]*float64, len(row))
		distances[i] = make([]*float64, len(row))
		for j, cell := range row {
			durations[i][j] = cell.Time
			if cell.Distance != nil {
				scaled := math.Round(*cell.Distance * factor)
				distances[i][j] = &scaled
			}
		}
	}

	return &routing.Matrix{Durations: durations, Distances: distances, Raw: res.Body}, nil
}

// pickLocations selects the locations at the given indexes, or all of them
// when no indexes are given.
func pickLocations(locations []routing.Coordinate, indexes []int) ([]location, error) {
	if len(indexes) == 0 {
		out := make([]location, len(locations))
		for i, l := range locations {
			out[i] = location{Lat: l.Lat, Lon: l.Lon}
		}
		return out, nil
	}
	out := make([]location, 0, len(indexes))
	for _, idx := range indexes {
		if idx < 0 || idx >= len(locations) {
			return nil, fmt.Errorf("location index %d out of range", idx)
		}
		out = append(out, location{Lat: locations[idx].Lat, Lon: locations[idx].Lon})
	}
	return out, nil
}

// IsochronesOptions configures an Isochrones call.
type IsochronesOptions struct {
	// IntervalType is routing.IntervalTime (default, intervals in seconds)
	// or routing.IntervalDistance (intervals in meters).
	IntervalType string

	// Colors are per-contour hex colors (without '#'). When set, the length
	// must match the interval count exactly.
	Colors []string

	// Polygons requests polygon contours instead of linestrings.
	Polygons *bool

	// Denoise in [0, 1] removes smaller disconnected contours.
	Denoise *float64

	// Generalize is the Douglas-Peucker tolerance in meters.
	Generalize *float64

	// ShowLocations echoes the snapped input locations in the response.
	ShowLocations *bool

	// ID is an opaque identifier echoed back by the engine.
	ID string

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Isochrones computes one reachability contour per interval. Time intervals
// are seconds, distance intervals meters; they are translated to Valhalla's
// native minutes and kilometers. Degenerate point-only contours are dropped
// from the result.
func (c *Client) Isochrones(ctx context.Context, center routing.Coordinate, costing string, intervals []int, opts *IsochronesOptions) (*routing.Isochrones, error) {
	if len(intervals) == 0 {
		return nil, routing.NewValidationError(ProviderName, "isochrones needs at least one interval")
	}
	if opts == nil {
		opts = &IsochronesOptions{}
	}
	if len(opts.Colors) > 0 && len(opts.Colors) != len(intervals) {
		return nil, routing.NewValidationError(ProviderName,
			fmt.Sprintf("colors length %d does not match interval count %d", len(opts.Colors), len(intervals)))
	}

	intervalType := opts.IntervalType
	if intervalType == "" {
		intervalType = routing.IntervalTime
	}

	contours := make([]contour, len(intervals))
	for i, interval := range intervals {
		var entry contour
		if intervalType == routing.IntervalDistance {
			km := float64(interval) / 1000
			entry.Distance = &km
		} else {
			minutes := float64(interval) / 60
			entry.Time = &minutes
		}
		if len(opts.Colors) > 0 {
			entry.Color = opts.Colors[i]
		}
		contours[i] = entry
	}

	body := isochroneRequest{
		Locations:     []location{{Lat: center.Lat, Lon: center.Lon}},
		Costing:       costing,
		Contours:      contours,
		Polygons:      opts.Polygons,
		Denoise:       opts.Denoise,
		Generalize:    opts.Generalize,
		ShowLocations: opts.ShowLocations,
		ID:            opts.ID,
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:   "/isochrone",
		GetParams:  c.authParams(),
		PostParams: body,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return nil, c.apiError(res, err)
	}
	if res.DryRun != "" {
		return &routing.Isochrones{DryRun: res.DryRun}, nil
	}

	fc, err := geojson.UnmarshalFeatureCollection(res.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	isochrones := make([]routing.Isochrone, 0, len(fc.Features))
	for _, f := range fc.Features {
		// Valhalla renders contours too small for a line as bare points.
		if f.Geometry == nil || f.Geometry.IsPoint() {
			continue
		}
		contourValue, err := f.PropertyFloat64("contour")
		if err != nil {
			continue
		}
		interval := int(math.Round(contourValue * 60))
		if intervalType == routing.IntervalDistance {
			interval = int(math.Round(contourValue * 1000))
		}
		isochrones = append(isochrones, routing.Isochrone{
			Center:       center,
			Interval:     interval,
			IntervalType: intervalType,
			Geometry:     f.Geometry,
		})
	}

	return &routing.Isochrones{Isochrones: isochrones, Raw: res.Body}, nil
}

// authParams carries the optional API key.
func (c *Client) authParams() url.Values {
	if c.apiKey == "" {
		return nil
	}
	params := url.Values{}
	params.Set("access_token", c.apiKey)
	return params
}

// wireLocations converts the public locations to wire form.
func wireLocations(locations []routing.Location) []location {
	out := make([]location, len(locations))
	for i, l := range locations {
		out[i] = location{
			Lat:                 l.Lat,
			Lon:                 l.Lon,
			Type:                l.Type,
			Heading:             l.Heading,
			HeadingTolerance:    l.HeadingTolerance,
			MinimumReachability: l.MinimumReachability,
			Radius:              l.Radius,
			RankCandidates:      l.RankCandidates,
			PreferredSide:       l.PreferredSide,
		}
	}
	return out
}

// apiError normalizes transport failures into the uniform error shape,
// parsing Valhalla's error_code/error payload when one is present.
func (c *Client) apiError(res *client.Response, err error) error {
	var statusErr *client.StatusError
	if res != nil && errors.As(err, &statusErr) {
		apiErr := &routing.APIError{
			Provider:   ProviderName,
			Message:    statusErr.Error(),
			StatusCode: statusErr.Code,
			Status:     http.StatusText(statusErr.Code),
			ErrorCode:  strconv.Itoa(statusErr.Code),
			Err:        sentinelForStatus(statusErr.Code),
		}
		var body apiErrorBody
		if jsonErr := json.Unmarshal(res.Body, &body); jsonErr == nil && body.Error != "" {
			apiErr.Message = body.Error
			apiErr.ErrorMessage = body.Error
			if body.ErrorCode != 0 {
				apiErr.ErrorCode = strconv.Itoa(body.ErrorCode)
			}
			if noPathErrorCode(body.ErrorCode) {
				apiErr.Err = routing.ErrNoRouteFound
			}
		}
		if apiErr.ErrorMessage == "" {
			apiErr.ErrorMessage = apiErr.Message
		}
		return apiErr
	}

	return &routing.APIError{
		Provider: ProviderName,
		Message:  err.Error(),
		Err:      routing.ErrProviderUnavailable,
	}
}

// noPathErrorCode reports whether a Valhalla error code means "no route".
func noPathErrorCode(code int) bool {
	switch code {
	case 170, 171, 442:
		return true
	}
	return false
}

func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return routing.ErrRateLimitExceeded
	case status == http.StatusNotFound:
		return routing.ErrNoRouteFound
	case status >= 400 && status < 500:
		return routing.ErrInvalidInput
	default:
		return routing.ErrProviderUnavailable
	}
}
