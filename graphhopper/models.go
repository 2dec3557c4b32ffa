package graphhopper

import "encoding/json"

// routeRequest represents the GraphHopper route API request body. Nested
// engine options use dotted JSON keys.
type routeRequest struct {
	Points            [][]float64    `json:"points"`
	Profile           string         `json:"profile"`
	Locale            string         `json:"locale,omitempty"`
	Elevation         *bool          `json:"elevation,omitempty"`
	Instructions      *bool          `json:"instructions,omitempty"`
	CalcPoints        *bool          `json:"calc_points,omitempty"`
	PointsEncoded     *bool          `json:"points_encoded,omitempty"`
	Details           []string       `json:"details,omitempty"`
	Optimize          string         `json:"optimize,omitempty"`
	Headings          []float64      `json:"headings,omitempty"`
	HeadingPenalty    *int           `json:"heading_penalty,omitempty"`
	PassThrough       *bool          `json:"pass_through,omitempty"`
	SnapPreventions   []string       `json:"snap_preventions,omitempty"`
	CurbSides         []string       `json:"curbsides,omitempty"`
	Algorithm         string         `json:"algorithm,omitempty"`
	RoundTripDistance *int           `json:"round_trip.distance,omitempty"`
	RoundTripSeed     *int           `json:"round_trip.seed,omitempty"`
	AltRouteMaxPaths  *int           `json:"alternative_route.max_paths,omitempty"`
	AltRouteMaxWeight *float64       `json:"alternative_route.max_weight_factor,omitempty"`
	AltRouteMaxShare  *float64       `json:"alternative_route.max_share_factor,omitempty"`
	CustomModel       map[string]any `json:"custom_model,omitempty"`
	CHDisable         *bool          `json:"ch.disable,omitempty"`
}

// routeResponse is the route API response envelope. Paths stay raw so each
// direction can carry its own payload.
type routeResponse struct {
	Paths []json.RawMessage `json:"paths"`
}

// path represents a single route. Time is in milliseconds, distance in
// meters. Points is either an encoded polyline string or a GeoJSON
// LineString depending on points_encoded.
type path struct {
	Distance      float64         `json:"distance"`
	Time          float64         `json:"time"`
	Points        json.RawMessage `json:"points"`
	PointsEncoded *bool           `json:"points_encoded"`
	BBox          []float64       `json:"bbox,omitempty"`
}

// matrixRequest represents the GraphHopper matrix API request body.
type matrixRequest struct {
	FromPoints [][]float64 `json:"from_points,omitempty"`
	ToPoints   [][]float64 `json:"to_points,omitempty"`
	Points     [][]float64 `json:"points,omitempty"`
	Profile    string      `json:"profile"`
	OutArrays  []string    `json:"out_arrays"`
	FailFast   bool        `json:"fail_fast"`
}

// matrixResponse holds the requested tables. Times are in seconds,
// distances in meters; unroutable pairs are null when fail_fast is off.
type matrixResponse struct {
	Times     [][]*float64 `json:"times"`
	Distances [][]*float64 `json:"distances"`
}

// apiErrorBody represents a GraphHopper error response.
type apiErrorBody struct {
	Message string `json:"message"`
	Hints   []struct {
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"hints,omitempty"`
}
