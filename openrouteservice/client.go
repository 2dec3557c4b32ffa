// Package openrouteservice provides the OpenRouteService adapter:
// directions, matrix and isochrone calls against the ORS v2 REST API.
package openrouteservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
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
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the hosted ORS API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// shapePrecision is the polyline precision of ORS route geometries.
	shapePrecision = 5

	// milesFactor converts kilometer-scale values to miles.
	milesFactor = 0.621371
)

// Response formats accepted by DirectionsOptions.Format.
const (
	FormatJSON    = "json"
	FormatGeoJSON = "geojson"
)

// ORS error codes worth distinguishing.
const (
	errorCodeRouteNotFound = 2009
)

// ClientConfig holds configuration for the OpenRouteService client.
type ClientConfig struct {
	// APIKey is the ORS API key. Required unless BaseURL points to a
	// self-hosted instance.
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

// Client is an OpenRouteService API client.
type Client struct {
	transport *client.Client
	logger    zerolog.Logger
}

// NewClient creates a new OpenRouteService client. The hosted API requires
// an API key; constructing a client for it without one fails.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, routing.NewValidationError(ProviderName, "an API key is required for the hosted OpenRouteService API")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.APIKey != "" {
		headers["Authorization"] = cfg.APIKey
	}

	transport := client.New(client.Config{
		Provider:            ProviderName,
		BaseURL:             baseURL,
		UserAgent:           cfg.UserAgent,
		Timeout:             cfg.Timeout,
		RetryOverQueryLimit: cfg.RetryOverQueryLimit,
		MaxRetries:          cfg.MaxRetries,
		Headers:             headers,
		HTTPClient:          cfg.HTTPClient,
		Logger:              cfg.Logger,
	})

	return &Client{transport: transport, logger: cfg.Logger}, nil
}

// DirectionsOptions configures a Directions call.
type DirectionsOptions struct {
	// Format selects the response encoding: FormatJSON (default, polyline
	// geometry) or FormatGeoJSON (pass-through geometry).
	Format string

	// Preference selects "fastest" (engine default), "shortest" or
	// "recommended".
	Preference string

	// Units is "m" (engine default), "km" or "mi". Distances in the result
	// are scaled back to meters.
	Units string

	// Language for instruction texts.
	Language string

	// Geometry toggles geometry generation.
	Geometry *bool

	// GeometrySimplify requests simplified geometry.
	GeometrySimplify *bool

	// Instructions toggles turn-by-turn instructions.
	Instructions *bool

	// InstructionsFormat is "text" or "html".
	InstructionsFormat string

	// Elevation adds elevation to each coordinate.
	Elevation *bool

	// ExtraInfo requests extra route metadata, e.g. "surface", "steepness".
	ExtraInfo []string

	// SuppressWarnings omits warning messages from the response.
	SuppressWarnings *bool

	// RoundaboutExits numbers the exits of roundabouts.
	RoundaboutExits *bool

	// Maneuvers adds maneuver objects to the steps.
	Maneuvers *bool

	// Radiuses limits snapping per waypoint, in meters; -1 means unlimited.
	Radiuses []float64

	// Bearings restricts snapping per waypoint as [value, deviation] pairs.
	Bearings [][]int

	// ContinueStraight forces continuing straight at waypoints.
	ContinueStraight *bool

	// AlternativeRoutes configures alternative route generation.
	AlternativeRoutes *AlternativeRoutes

	// Options holds ORS's advanced routing options (avoidance, profile
	// parameters). Options.ProfileParams.Restrictions requires
	// Options.VehicleType to be set.
	Options *RouteOptions

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Directions computes routes through the given (lat, lon) locations.
func (c *Client) Directions(ctx context.Context, locations []routing.Coordinate, profile string, opts *DirectionsOptions) (*routing.Directions, error) {
	if len(locations) < 2 {
		return nil, routing.NewValidationError(ProviderName, "directions needs at least two locations")
	}
	if opts == nil {
		opts = &DirectionsOptions{}
	}
	if opts.Options != nil && opts.Options.ProfileParams != nil &&
		len(opts.Options.ProfileParams.Restrictions) > 0 && opts.Options.VehicleType == "" {
		return nil, routing.NewValidationError(ProviderName, "profile_params.restrictions requires vehicle_type to be set")
	}

	format := opts.Format
	if format == "" {
		format = FormatJSON
	}

	body := directionsRequest{
		Coordinates:       lonLatPairs(locations),
		Preference:        opts.Preference,
		Units:             opts.Units,
		Language:          opts.Language,
		Geometry:          opts.Geometry,
		GeometrySimplify:  opts.GeometrySimplify,
		Instructions:      opts.Instructions,
		InstructionsForm:  opts.InstructionsFormat,
		Elevation:         opts.Elevation,
		ExtraInfo:         opts.ExtraInfo,
		SuppressWarnings:  opts.SuppressWarnings,
		RoundaboutExits:   opts.RoundaboutExits,
		Maneuvers:         opts.Maneuvers,
		Radiuses:          opts.Radiuses,
		Bearings:          opts.Bearings,
		ContinueStraight:  opts.ContinueStraight,
		AlternativeRoutes: opts.AlternativeRoutes,
		Options:           opts.Options,
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:   "/v2/directions/" + profile + "/" + format,
		PostParams: body,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return nil, c.apiError(res, err)
	}
	if res.DryRun != "" {
		return &routing.Directions{DryRun: res.DryRun}, nil
	}

	if format == FormatGeoJSON {
		return c.parseGeoJSONDirections(res.Body)
	}
	return c.parseJSONDirections(res.Body, opts.Units)
}

// parseJSONDirections decodes the json-format response: polyline geometry
// at precision 5 and distances scaled to meters by the unit factor.
func (c *Client) parseJSONDirections(body json.RawMessage, units string) (*routing.Directions, error) {
	var envelope struct {
		Routes []json.RawMessage `json:"routes"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Routes) == 0 {
		return nil, &routing.APIError{
			Provider: ProviderName,
			Message:  "response contained no routes",
			Err:      routing.ErrNoRouteFound,
		}
	}

	factor := unitFactor(units)

	directions := make([]routing.Direction, 0, len(envelope.Routes))
	for _, rawRoute := range envelope.Routes {
		var route jsonRoute
		if err := json.Unmarshal(rawRoute, &route); err != nil {
			return nil, fmt.Errorf("decoding route: %w", err)
		}

		var geometry *geojson.Geometry
		if route.Geometry != "" {
			coords := polyline.Decode(route.Geometry, shapePrecision)
			line := make([][]float64, len(coords))
			for i, coord := range coords {
				line[i] = []float64{coord.Lon, coord.Lat}
			}
			geometry = geojson.NewLineStringGeometry(line)
		}

		distance := int(math.Round(route.Summary.Distance * factor))
		duration := int(math.Round(route.Summary.Duration))
		directions = append(directions, routing.Direction{
			Geometry: geometry,
			Duration: &duration,
			Distance: &distance,
			Raw:      rawRoute,
		})
	}

	c.logger.Debug().Int("route_count", len(directions)).Msg("parsed ors directions")

	return &routing.Directions{Directions: directions, Raw: body}, nil
}

// parseGeoJSONDirections decodes the geojson-format response: geometry is
// passed through unchanged, duration and distance come from the feature's
// summary property.
func (c *Client) parseGeoJSONDirections(body json.RawMessage) (*routing.Directions, error) {
	var envelope struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Features) == 0 {
		return nil, &routing.APIError{
			Provider: ProviderName,
			Message:  "response contained no features",
			Err:      routing.ErrNoRouteFound,
		}
	}

	directions := make([]routing.Direction, 0, len(envelope.Features))
	for _, rawFeature := range envelope.Features {
		feature, err := geojson.UnmarshalFeature(rawFeature)
		if err != nil {
			return nil, fmt.Errorf("decoding feature: %w", err)
		}

		direction := routing.Direction{
			Geometry: feature.Geometry,
			Raw:      rawFeature,
		}
		if summary, ok := feature.Properties["summary"].(map[string]any); ok {
			if v, ok := summary["duration"].(float64); ok {
				duration := int(math.Round(v))
				direction.Duration = &duration
			}
			if v, ok := summary["distance"].(float64); ok {
				distance := int(math.Round(v))
				direction.Distance = &distance
			}
		}
		directions = append(directions, direction)
	}

	return &routing.Directions{Directions: directions, Raw: body}, nil
}

// unitFactor scales json-format distances back to a meter base.
func unitFactor(units string) float64 {
	switch units {
	case "km":
		return 1000
	case "mi":
		return milesFactor * 1000
	default:
		return 1
	}
}

// MatrixOptions configures a Matrix call.
type MatrixOptions struct {
	// Sources are indexes into the locations list to use as origins.
	// Empty means all locations.
	Sources []int

	// Destinations are indexes into the locations list to use as targets.
	// Empty means all locations.
	Destinations []int

	// Metrics selects the returned tables; defaults to duration and
	// distance.
	Metrics []string

	// ResolveLocations adds resolved location names to the response.
	ResolveLocations *bool

	// Units for distances, "m" (default), "km" or "mi".
	Units string

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Matrix computes the duration/distance tables between the locations.
func (c *Client) Matrix(ctx context.Context, locations []routing.Coordinate, profile string, opts *MatrixOptions) (*routing.Matrix, error) {
	if len(locations) < 2 {
		return nil, routing.NewValidationError(ProviderName, "matrix needs at least two locations")
	}
	if opts == nil {
		opts = &MatrixOptions{}
	}

	metrics := opts.Metrics
	if len(metrics) == 0 {
		metrics = []string{"duration", "distance"}
	}

	body := matrixRequest{
		Locations:        lonLatPairs(locations),
		Sources:          opts.Sources,
		Destinations:     opts.Destinations,
		Metrics:          metrics,
		ResolveLocations: opts.ResolveLocations,
		Units:            opts.Units,
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:   "/v2/matrix/" + profile,
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
		Durations [][]*float64 `json:"durations"`
		Distances [][]*float64 `json:"distances"`
	}
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &routing.Matrix{
		Durations: parsed.Durations,
		Distances: parsed.Distances,
		Raw:       res.Body,
	}, nil
}

// IsochronesOptions configures an Isochrones call.
type IsochronesOptions struct {
	// IntervalType is routing.IntervalTime (default, intervals in seconds)
	// or routing.IntervalDistance (intervals in meters).
	IntervalType string

	// Interval subdivides the largest range value into equidistant
	// contours.
	Interval *int

	// Smoothing in [0, 100] controls contour generalization.
	Smoothing *float64

	// LocationType is "start" (default) or "destination".
	LocationType string

	// Attributes requests per-contour statistics, e.g. "area", "reachfactor".
	Attributes []string

	// Intersections adds overlap polygons between contours.
	Intersections *bool

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Isochrones computes one reachability contour per interval.
func (c *Client) Isochrones(ctx context.Context, center routing.Coordinate, profile string, intervals []int, opts *IsochronesOptions) (*routing.Isochrones, error) {
	if len(intervals) == 0 {
		return nil, routing.NewValidationError(ProviderName, "isochrones needs at least one interval")
	}
	if opts == nil {
		opts = &IsochronesOptions{}
	}

	intervalType := opts.IntervalType
	if intervalType == "" {
		intervalType = routing.IntervalTime
	}

	body := isochronesRequest{
		Locations:     [][]float64{center.LonLat()},
		Range:         intervals,
		RangeType:     intervalType,
		Interval:      opts.Interval,
		Smoothing:     opts.Smoothing,
		LocationType:  opts.LocationType,
		Attributes:    opts.Attributes,
		Intersections: opts.Intersections,
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:   "/v2/isochrones/" + profile,
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
		if f.Geometry == nil || f.Geometry.IsPoint() {
			continue
		}

		iso := routing.Isochrone{
			Center:       center,
			IntervalType: intervalType,
			Geometry:     f.Geometry,
		}
		if value, err := f.PropertyFloat64("value"); err == nil {
			iso.Interval = int(math.Round(value))
		}
		// ORS echoes the snapped center per contour.
		if raw, ok := f.Properties["center"].([]any); ok && len(raw) >= 2 {
			if lon, okLon := raw[0].(float64); okLon {
				if lat, okLat := raw[1].(float64); okLat {
					iso.Center = routing.Coordinate{Lat: lat, Lon: lon}
				}
			}
		}
		isochrones = append(isochrones, iso)
	}

	return &routing.Isochrones{Isochrones: isochrones, Raw: res.Body}, nil
}

// lonLatPairs converts public (lat, lon) coordinates to the (lon, lat)
// pairs ORS expects.
func lonLatPairs(locations []routing.Coordinate) [][]float64 {
	out := make([][]float64, len(locations))
	for i, l := range locations {
		out[i] = l.LonLat()
	}
	return out
}

// apiError normalizes transport failures into the uniform error shape,
// parsing the nested error.code/error.message payload ORS returns. Some
// endpoints return a bare string error member instead; both forms are
// handled.
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
		if body, ok := parseErrorBody(res.Body); ok {
			if body.Message != "" {
				apiErr.Message = body.Message
				apiErr.ErrorMessage = body.Message
			}
			if body.Code != 0 {
				apiErr.ErrorCode = strconv.Itoa(body.Code)
				if body.Code == errorCodeRouteNotFound {
					apiErr.Err = routing.ErrNoRouteFound
				}
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

func parseErrorBody(body json.RawMessage) (apiErrorBody, bool) {
	var nested struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err != nil || len(nested.Error) == 0 {
		return apiErrorBody{}, false
	}

	var structured struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(nested.Error, &structured); err == nil {
		return apiErrorBody{Code: structured.Code, Message: structured.Message}, true
	}

	var flat string
	if err := json.Unmarshal(nested.Error, &flat); err == nil {
		return apiErrorBody{Message: flat}, true
	}

	return apiErrorBody{}, false
}

func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return routing.ErrRateLimitExceeded
	case status == http.StatusForbidden:
		return routing.ErrProviderUnavailable
	case status == http.StatusNotFound:
		return routing.ErrNoRouteFound
	case status >= 400 && status < 500:
		return routing.ErrInvalidInput
	default:
		return routing.ErrProviderUnavailable
	}
}
