// Package osrm provides the OSRM adapter: directions and matrix calls
// against an OSRM HTTP server. OSRM has no isochrone endpoint.
package osrm

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
	ProviderName = "osrm"

	// DefaultBaseURL is the public OSRM demo server.
	DefaultBaseURL = "https://router.project-osrm.org"
)

// Geometry formats accepted by the Geometries option.
const (
	GeometryPolyline  = "polyline"
	GeometryPolyline6 = "polyline6"
	GeometryGeoJSON   = "geojson"
)

// ClientConfig holds configuration for the OSRM client. OSRM servers are
// unauthenticated, so there is no API key.
type ClientConfig struct {
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

// Client is an OSRM API client.
type Client struct {
	transport *client.Client
	logger    zerolog.Logger
}

// NewClient creates a new OSRM client.
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

	return &Client{transport: transport, logger: cfg.Logger}, nil
}

// Bearing restricts snapping at a waypoint to a direction of travel.
type Bearing struct {
	// Value is the clockwise angle from true north, in degrees.
	Value int
	// Range is the allowed deviation from Value, in degrees.
	Range int
}

// DirectionsOptions configures a Directions call.
type DirectionsOptions struct {
	// Alternatives requests up to n alternative routes.
	Alternatives *int

	// Steps requests turn-by-turn steps per route leg.
	Steps *bool

	// Annotations requests per-coordinate metadata, e.g. "duration",
	// "distance", "speed".
	Annotations []string

	// Geometries selects the geometry encoding: GeometryPolyline
	// (default, precision 5), GeometryPolyline6 or GeometryGeoJSON.
	Geometries string

	// Overview selects geometry detail: "simplified" (default), "full"
	// or "false".
	Overview string

	// ContinueStraight forces continuing straight at intermediate
	// waypoints.
	ContinueStraight *bool

	// Bearings restricts snapping per waypoint; when set, the length must
	// match the location count.
	Bearings []Bearing

	// Radiuses limits snapping per waypoint, in meters; -1 means
	// unlimited. When set, the length must match the location count.
	Radiuses []int

	// DryRun renders the request instead of sending it.
	DryRun bool
}

// Directions computes routes through the given (lat, lon) locations.
// Every route OSRM returns, alternates included, becomes one Direction.
func (c *Client) Directions(ctx context.Context, locations []routing.Coordinate, profile string, opts *DirectionsOptions) (*routing.Directions, error) {
	if len(locations) < 2 {
		return nil, routing.NewValidationError(ProviderName, "directions needs at least two locations")
	}
	if opts == nil {
		opts = &DirectionsOptions{}
	}
	if len(opts.Bearings) > 0 && len(opts.Bearings) != len(locations) {
		return nil, routing.NewValidationError(ProviderName, "bearings length must match the location count")
	}
	if len(opts.Radiuses) > 0 && len(opts.Radiuses) != len(locations) {
		return nil, routing.NewValidationError(ProviderName, "radiuses length must match the location count")
	}

	params := url.Values{}
	if opts.Alternatives != nil {
		params.Set("alternatives", strconv.Itoa(*opts.Alternatives))
	}
	if opts.Steps != nil {
		params.Set("steps", strconv.FormatBool(*opts.Steps))
	}
	if len(opts.Annotations) > 0 {
		params.Set("annotations", strings.Join(opts.Annotations, ","))
	}
	if opts.Geometries != "" {
		params.Set("geometries", opts.Geometries)
	}
	if opts.Overview != "" {
		params.Set("overview", opts.Overview)
	}
	if opts.ContinueStraight != nil {
		params.Set("continue_straight", strconv.FormatBool(*opts.ContinueStraight))
	}
	if len(opts.Bearings) > 0 {
		parts := make([]string, len(opts.Bearings))
		for i, b := range opts.Bearings {
			parts[i] = fmt.Sprintf("%d,%d", b.Value, b.Range)
		}
		params.Set("bearings", strings.Join(parts, ";"))
	}
	if len(opts.Radiuses) > 0 {
		parts := make([]string, len(opts.Radiuses))
		for i, r := range opts.Radiuses {
			if r < 0 {
				parts[i] = "unlimited"
			} else {
				parts[i] = strconv.Itoa(r)
			}
		}
		params.Set("radiuses", strings.Join(parts, ";"))
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:  "/route/v1/" + profile + "/" + coordinatePath(locations),
		GetParams: params,
		DryRun:    opts.DryRun,
	})
	if err != nil {
		return nil, c.apiError(res, err)
	}
	if res.DryRun != "" {
		return &routing.Directions{DryRun: res.DryRun}, nil
	}

	var envelope struct {
		Routes []json.RawMessage `json:"routes"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Routes) == 0 {
		return nil, &routing.APIError{
			Provider: ProviderName,
			Message:  "response contained no routes",
			Err:      routing.ErrNoRouteFound,
		}
	}

	directions := make([]routing.Direction, 0, len(envelope.Routes))
	for _, rawRoute := range envelope.Routes {
		d, err := parseRoute(rawRoute, opts.Geometries)
		if err != nil {
			return nil, err
		}
		directions = append(directions, d)
	}

	c.logger.Debug().Int("route_count", len(directions)).Msg("parsed osrm directions")

	return &routing.Directions{Directions: directions, Raw: res.Body}, nil
}

// parseRoute turns one OSRM route into a Direction. Geometry decoding
// follows the requested encoding; a missing duration, distance or geometry
// becomes nil.
func parseRoute(raw json.RawMessage, geometries string) (routing.Direction, error) {
	var route struct {
		Geometry json.RawMessage `json:"geometry"`
		Duration *float64        `json:"duration"`
		Distance *float64        `json:"distance"`
	}
	if err := json.Unmarshal(raw, &route); err != nil {
		return routing.Direction{}, fmt.Errorf("decoding route: %w", err)
	}

	geometry, err := decodeGeometry(route.Geometry, geometries)
	if err != nil {
		return routing.Direction{}, err
	}

	return routing.Direction{
		Geometry: geometry,
		Duration: roundPtr(route.Duration),
		Distance: roundPtr(route.Distance),
		Raw:      raw,
	}, nil
}

func decodeGeometry(raw json.RawMessage, geometries string) (*geojson.Geometry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	if geometries == GeometryGeoJSON {
		geometry, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding geojson geometry: %w", err)
		}
		return geometry, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("decoding polyline geometry: %w", err)
	}
	precision := 5
	if geometries == GeometryPolyline6 {
		precision = 6
	}
	coords := polyline.Decode(encoded, precision)
	line := make([][]float64, len(coords))
	for i, coord := range coords {
		line[i] = []float64{coord.Lon, coord.Lat}
	}
	return geojson.NewLineStringGeometry(line), nil
}

// MatrixOptions configures a Matrix call.
type MatrixOptions struct {
	// Sources are indexes into the locations list to use as origins.
	// Empty means all locations.
	Sources []int

	// Destinations are indexes into the locations list to use as targets.
	// Empty means all locations.
	Destinations []int

	// Annotations selects the returned tables; defaults to
	// "duration,distance".
	Annotations []string

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

	params := url.Values{}
	annotations := opts.Annotations
	if len(annotations) == 0 {
		annotations = []string{"duration", "distance"}
	}
	params.Set("annotations", strings.Join(annotations, ","))
	if len(opts.Sources) > 0 {
		params.Set("sources", joinIndexes(opts.Sources))
	}
	if len(opts.Destinations) > 0 {
		params.Set("destinations", joinIndexes(opts.Destinations))
	}

	res, err := c.transport.Request(ctx, client.Request{
		Endpoint:  "/table/v1/" + profile + "/" + coordinatePath(locations),
		GetParams: params,
		DryRun:    opts.DryRun,
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

// coordinatePath renders locations as OSRM's "lon,lat;lon,lat" URL segment.
func coordinatePath(locations []routing.Coordinate) string {
	parts := make([]string, len(locations))
	for i, l := range locations {
		parts[i] = strconv.FormatFloat(l.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(l.Lat, 'f', -1, 64)
	}
	return strings.Join(parts, ";")
}

func joinIndexes(indexes []int) string {
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ";")
}

func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	rounded := int(math.Round(*v))
	return &rounded
}

// apiError normalizes transport failures into the uniform error shape,
// parsing OSRM's code/message payload when one is present.
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
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(res.Body, &body); jsonErr == nil && body.Code != "" {
			apiErr.ErrorCode = body.Code
			apiErr.ErrorMessage = body.Message
			if body.Message != "" {
				apiErr.Message = body.Message
			}
			if body.Code == "NoRoute" || body.Code == "NoSegment" {
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
