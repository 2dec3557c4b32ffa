// Package graphhopper provides the GraphHopper adapter: directions, matrix
// and isochrone calls against the GraphHopper Directions API.
package graphhopper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rs/zerolog"

	"github.com/gis-ops/routing-go/client"
	"github.com/gis-ops/routing-go/pkg/polyline"
	"github.com/gis-ops/routing-go/routing"
)

const (
	// ProviderName identifies this routing engine.
	ProviderName = "graphhopper"

	// DefaultBaseURL is the hosted GraphHopper API base URL.
	DefaultBaseURL = "https://graphhopper.com/api/1"

	// shapePrecision is the polyline precision of encoded path points.
	shapePrecision = 5
)

// ClientConfig holds configuration for the GraphHopper client.
type ClientConfig struct {
	// APIKey is the GraphHopper API key, sent as the key query parameter.
	// Required unless BaseURL points to a self-hosted instance.
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

// Client is a GraphHopper API client.
type Client struct {
	transport *client.Client
	apiKey    string
	logger    zerolog.Logger
}

// NewClient creates a new GraphHopper client. The hosted API requires an
// API key; constructing a client for it without one fails.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, routing.NewValidationError(ProviderName, "an API key is required for the hosted GraphHopper API")
	}

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

	return &Client{transport: transport, apiKey: cfg.APIKey, logger: cfg.Logger}, nil
}

// DirectionsOptions configures a Directions call.
type DirectionsOptions struct {
	// Locale for instruction texts.
	Locale string

	// Elevation includes elevation in the returned points.
	Elevation *bool

	// Instructions toggles turn-by-turn instructions.
	Instructions *bool

	// CalcPoints toggles path geometry calculation.
	CalcPoints *bool

	// PointsEncoded selects polyline-encoded points (engine default true)
	// versus a GeoJSON LineString.
	PointsEncoded *bool

	// Details requests per-segment path details, e.g. "max_speed".
	Details []string

	// Optimize reorders intermediate waypoints when "true".
	Optimize string

	// Headings restricts the direction of travel per waypoint, in degrees.
	// Requires flexible mode.
	Headings []float64

	// HeadingPenalty is the time penalty in seconds for deviating from a
	// heading. Requires flexible mode.
	HeadingPenalty *int

	// PassThrough forces passing through waypoints instead of snapping.
	// Requires flexible mode.
	PassThrough *bool

	// SnapPreventions avoids snapping to the named road environments.
	SnapPreventions []string

	// CurbSides forces arrival sides per waypoint.
	CurbSides []string

	// Algorithm selects "round_trip" or "alternative_route". Requires
	// flexible mode.
	Algorithm string

	// RoundTripDistance is the target round trip distance in meters.
	RoundTripDistance *int

	// RoundTripSeed varies generated round trips.
	RoundTripSeed *int

	// AlternativeRouteMaxPaths bounds the number of alternatives.
	AlternativeRouteMaxPaths *int

	// AlternativeRouteMaxWeightFactor bounds alternative weight relative
	// to the optimum.
	AlternativeRouteMaxWeightFactor *float64

	// AlternativeRouteMaxShareFactor bounds overlap between alternatives.
	AlternativeRouteMaxShareFactor *float64

	// CustomModel adjusts edge weights with a custom model document.
	// Requires flexible mode.
	CustomModel map[string]any

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// needsFlexibleMode reports whether any requested option requires the
// engine's flexible mode, which disables contraction hierarchies.
func (o *DirectionsOptions) needsFlexibleMode() bool {
	return len(o.CustomModel) > 0 ||
		len(o.Headings) > 0 ||
		o.HeadingPenalty != nil ||
		o.PassThrough != nil ||
		o.Algorithm != "" ||
		o.RoundTripDistance != nil ||
		o.RoundTripSeed != nil ||
		o.AlternativeRouteMaxPaths != nil ||
		o.AlternativeRouteMaxWeightFactor != nil ||
		o.AlternativeRouteMaxShareFactor != nil
}

// Directions computes routes through the given (lat, lon) locations.
func (c *Client) Directions(ctx context.Context, locations []routing.Coordinate, profile string, opts *DirectionsOptions) (*routing.Directions, error) {
	if len(locations) < 2 {
		return nil, routing.NewValidationError(ProviderName, "directions needs at least two locations")
	}
	if opts == nil {
		opts = &DirectionsOptions{}
	}

	body := routeRequest{
		Points:            lonLatPairs(locations),
		Profile:           profile,
		Locale:            opts.Locale,
		Elevation:         opts.Elevation,
		Instructions:      opts.Instructions,
		CalcPoints:        opts.CalcPoints,
		PointsEncoded:     opts.PointsEncoded,
		Details:           opts.Details,
		Optimize:          opts.Optimize,
		Headings:          opts.Headings,
		HeadingPenalty:    opts.HeadingPenalty,
		PassThrough:       opts.PassThrough,
		SnapPreventions:   opts.SnapPreventions,
		CurbSides:         opts.CurbSides,
		Algorithm:         opts.Algorithm,
		RoundTripDistance: opts.RoundTripDistance,
		RoundTripSeed:     opts.RoundTripSeed,
		AltRouteMaxPaths:  opts.AlternativeRouteMaxPaths,
		AltRouteMaxWeight: opts.AlternativeRouteMaxWeightFactor,
		AltRouteMaxShare:  opts.AlternativeRouteMaxShareFactor,
		CustomModel:       opts.CustomModel,
	}
	if opts.needsFlexibleMode() {
		disable := true
		body.CHDisable = &disable
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

	var envelope routeResponse
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Paths) == 0 {
		return nil, &routing.APIError{
			Provider: ProviderName,
			Message:  "response contained no paths",
			Err:      routing.ErrNoRouteFound,
		}
	}

	directions := make([]routing.Direction, 0, len(envelope.Paths))
	for _, rawPath := range envelope.Paths {
		direction, err := parsePath(rawPath)
		if err != nil {
			return nil, err
		}
		directions = append(directions, *direction)
	}

	c.logger.Debug().Int("path_count", len(directions)).Msg("parsed graphhopper directions")

	return &routing.Directions{Directions: directions, Raw: res.Body}, nil
}

// parsePath converts one path into a direction: time from milliseconds to
// whole seconds, points decoded at precision 5 when encoded.
func parsePath(raw json.RawMessage) (*routing.Direction, error) {
	var p path
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding path: %w", err)
	}

	duration := int(math.Round(p.Time / 1000))
	distance := int(math.Round(p.Distance))
	direction := &routing.Direction{
		Duration: &duration,
		Distance: &distance,
		Raw:      raw,
	}

	if len(p.Points) == 0 || string(p.Points) == "null" {
		return direction, nil
	}

	encoded := p.PointsEncoded == nil || *p.PointsEncoded
	if encoded {
		var shape string
		if err := json.Unmarshal(p.Points, &shape); err != nil {
			return nil, fmt.Errorf("decoding encoded points: %w", err)
		}
		if shape == "" {
			return direction, nil
		}
		coords := polyline.Decode(shape, shapePrecision)
		line := make([][]float64, len(coords))
		for i, coord := range coords {
			line[i] = []float64{coord.Lon, coord.Lat}
		}
		direction.Geometry = geojson.NewLineStringGeometry(line)
		return direction, nil
	}

	geometry, err := geojson.UnmarshalGeometry(p.Points)
	if err != nil {
		return nil, fmt.Errorf("decoding points geometry: %w", err)
	}
	direction.Geometry = geometry
	return direction, nil
}

// MatrixOptions configures a Matrix call.
type MatrixOptions struct {
	// Sources are indexes into the locations list to use as origins.
	// Empty means all locations.
	Sources []int

	// Destinations are indexes into the locations list to use as targets.
	// Empty means all locations.
	Destinations []int

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Matrix computes the duration/distance tables between the locations.
// Unroutable pairs come back as nil cells instead of failing the call.
func (c *Client) Matrix(ctx context.Context, locations []routing.Coordinate, profile string, opts *MatrixOptions) (*routing.Matrix, error) {
	if len(locations) < 2 {
		return nil, routing.NewValidationError(ProviderName, "matrix needs at least two locations")
	}
	if opts == nil {
		opts = &MatrixOptions{}
	}

	body := matrixRequest{
		Profile:   profile,
		OutArrays: []string{"times", "distances"},
		FailFast:  false,
	}
	points := lonLatPairs(locations)
	if len(opts.Sources) == 0 && len(opts.Destinations) == 0 {
		body.Points = points
	} else {
		from, err := pickPoints(points, opts.Sources)
		if err != nil {
			return nil, err
		}
		to, err := pickPoints(points, opts.Destinations)
		if err != nil {
			return nil, err
		}
		body.FromPoints = from
		body.ToPoints = to
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:   "/matrix",
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

	var parsed matrixResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &routing.Matrix{
		Durations: parsed.Times,
		Distances: parsed.Distances,
		Raw:       res.Body,
	}, nil
}

// pickPoints selects the points at the given indexes; empty indexes select
// all points.
func pickPoints(points [][]float64, indexes []int) ([][]float64, error) {
	if len(indexes) == 0 {
		return points, nil
	}
	out := make([][]float64, 0, len(indexes))
	for _, i := range indexes {
		if i < 0 || i >= len(points) {
			return nil, routing.NewValidationError(ProviderName, fmt.Sprintf("location index %d out of range", i))
		}
		out = append(out, points[i])
	}
	return out, nil
}

// IsochronesOptions configures an Isochrones call.
type IsochronesOptions struct {
	// IntervalType is routing.IntervalTime (default, interval in seconds)
	// or routing.IntervalDistance (interval in meters).
	IntervalType string

	// Buckets subdivides the interval into that many equidistant contours.
	Buckets *int

	// Reverse computes the area the center is reachable from.
	Reverse *bool

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Isochrones computes reachability contours around the center. The engine
// supports a single limit per request, so only the first interval is used;
// Buckets subdivides it into multiple contours.
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

	params := c.authParams()
	// The isochrone endpoint wants lat,lon order.
	params.Set("point", formatFloat(center.Lat)+","+formatFloat(center.Lon))
	params.Set("profile", profile)
	if intervalType == routing.IntervalDistance {
		params.Set("distance_limit", strconv.Itoa(intervals[0]))
	} else {
		params.Set("time_limit", strconv.Itoa(intervals[0]))
	}
	if opts.Buckets != nil {
		params.Set("buckets", strconv.Itoa(*opts.Buckets))
	}
	if opts.Reverse != nil {
		params.Set("reverse_flow", strconv.FormatBool(*opts.Reverse))
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:  "/isochrone",
		GetParams: params,
		DryRun:    opts.DryRun,
	})
	if err != nil {
		return nil, c.apiError(res, err)
	}
	if res.DryRun != "" {
		return &routing.Isochrones{DryRun: res.DryRun}, nil
	}

	var envelope struct {
		Polygons []json.RawMessage `json:"polygons"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	isochrones := make([]routing.Isochrone, 0, len(envelope.Polygons))
	for _, rawFeature := range envelope.Polygons {
		feature, err := geojson.UnmarshalFeature(rawFeature)
		if err != nil {
			return nil, fmt.Errorf("decoding polygon feature: %w", err)
		}
		if feature.Geometry == nil || feature.Geometry.IsPoint() {
			continue
		}
		isochrones = append(isochrones, routing.Isochrone{
			Center:       center,
			Interval:     intervals[0],
			IntervalType: intervalType,
			Geometry:     feature.Geometry,
		})
	}

	return &routing.Isochrones{Isochrones: isochrones, Raw: res.Body}, nil
}

// authParams returns the key query parameter attached to every request.
func (c *Client) authParams() url.Values {
	params := url.Values{}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	return params
}

// lonLatPairs converts public (lat, lon) coordinates to the (lon, lat)
// pairs the route and matrix endpoints expect.
func lonLatPairs(locations []routing.Coordinate) [][]float64 {
	out := make([][]float64, len(locations))
	for i, l := range locations {
		out[i] = l.LonLat()
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// apiError normalizes transport failures into the uniform error shape. The
// engine reports a message plus optional hints but no numeric code, so the
// HTTP status doubles as the error code.
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
		if jsonErr := json.Unmarshal(res.Body, &body); jsonErr == nil && body.Message != "" {
			apiErr.Message = body.Message
			apiErr.ErrorMessage = body.Message
			if len(body.Hints) > 0 && body.Hints[0].Message != "" {
				apiErr.ErrorMessage = body.Hints[0].Message
			}
			if strings.Contains(body.Message, "Connection between locations not found") {
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

func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return routing.ErrRateLimitExceeded
	case status >= 400 && status < 500:
		return routing.ErrInvalidInput
	default:
		return routing.ErrProviderUnavailable
	}
}
