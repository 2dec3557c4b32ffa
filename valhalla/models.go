package valhalla

// location is a Valhalla waypoint in wire form.
type location struct {
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	Type                string  `json:"type,omitempty"`
	Heading             *int    `json:"heading,omitempty"`
	HeadingTolerance    *int    `json:"heading_tolerance,omitempty"`
	MinimumReachability *int    `json:"minimum_reachability,omitempty"`
	Radius              *int    `json:"radius,omitempty"`
	RankCandidates      *bool   `json:"rank_candidates,omitempty"`
	PreferredSide       string  `json:"preferred_side,omitempty"`
}

// routeRequest is the body of a /route call.
type routeRequest struct {
	Locations         []location                `json:"locations"`
	Costing           string                    `json:"costing"`
	CostingOptions    map[string]map[string]any `json:"costing_options,omitempty"`
	DirectionsOptions *directionsOptions        `json:"directions_options,omitempty"`
	ExcludeLocations  [][]float64               `json:"exclude_locations,omitempty"`
	ExcludePolygons   [][][][]float64           `json:"exclude_polygons,omitempty"`
	Alternates        *int                      `json:"alternates,omitempty"`
	DateTime          *DateTime                 `json:"date_time,omitempty"`
	Language          string                    `json:"language,omitempty"`
	ID                string                    `json:"id,omitempty"`
	Narrative         *bool                     `json:"narrative,omitempty"`
}

// directionsOptions is the nested unit/language block Valhalla expects.
type directionsOptions struct {
	Units    string `json:"units,omitempty"`
	Language string `json:"language,omitempty"`
}

// DateTime pins the departure or arrival time of a request.
type DateTime struct {
	// Type is 0 (current), 1 (depart at) or 2 (arrive by).
	Type int `json:"type"`
	// Value is the local date and time, e.g. "2021-03-03T08:06".
	Value string `json:"value"`
}

// matrixRequest is the body of a /sources_to_targets call.
type matrixRequest struct {
	Sources []location `json:"sources"`
	Targets []location `json:"targets"`
	Costing string     `json:"costing"`
	Units   string     `json:"units,omitempty"`
	ID      string     `json:"id,omitempty"`
}

// isochroneRequest is the body of an /isochrone call.
type isochroneRequest struct {
	Locations     []location `json:"locations"`
	Costing       string     `json:"costing"`
	Contours      []contour  `json:"contours"`
	Polygons      *bool      `json:"polygons,omitempty"`
	Denoise       *float64   `json:"denoise,omitempty"`
	Generalize    *float64   `json:"generalize,omitempty"`
	ShowLocations *bool      `json:"show_locations,omitempty"`
	ID            string     `json:"id,omitempty"`
}

// contour is one interval entry; exactly one of Time (minutes) or Distance
// (kilometers) is set.
type contour struct {
	Time     *float64 `json:"time,omitempty"`
	Distance *float64 `json:"distance,omitempty"`
	Color    string   `json:"color,omitempty"`
}

// trip is the decoded /route trip payload.
type trip struct {
	Legs    []leg       `json:"legs"`
	Summary tripSummary `json:"summary"`
	Units   string      `json:"units"`
	Status  int         `json:"status"`
}

type leg struct {
	Shape   string      `json:"shape"`
	Summary tripSummary `json:"summary"`
}

type tripSummary struct {
	// Length is in kilometers, or miles when the trip units are miles.
	Length float64 `json:"length"`
	// Time is in seconds.
	Time float64 `json:"time"`
}

// matrixCell is one origin/destination pair of the matrix response. Both
// fields are null when Valhalla could not connect the pair.
type matrixCell struct {
	Distance *float64 `json:"distance"`
	Time     *float64 `json:"time"`
}

// apiErrorBody is Valhalla's error payload.
type apiErrorBody struct {
	ErrorCode  int    `json:"error_code"`
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
}
