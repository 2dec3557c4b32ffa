package openrouteservice

// directionsRequest represents the ORS directions API request body.
type directionsRequest struct {
	Coordinates       [][]float64        `json:"coordinates"`
	Preference        string             `json:"preference,omitempty"`
	Units             string             `json:"units,omitempty"`
	Language          string             `json:"language,omitempty"`
	Geometry          *bool              `json:"geometry,omitempty"`
	GeometrySimplify  *bool              `json:"geometry_simplify,omitempty"`
	Instructions      *bool              `json:"instructions,omitempty"`
	InstructionsForm  string             `json:"instructions_format,omitempty"`
	Elevation         *bool              `json:"elevation,omitempty"`
	ExtraInfo         []string           `json:"extra_info,omitempty"`
	SuppressWarnings  *bool              `json:"suppress_warnings,omitempty"`
	RoundaboutExits   *bool              `json:"roundabout_exits,omitempty"`
	Maneuvers         *bool              `json:"maneuvers,omitempty"`
	Radiuses          []float64          `json:"radiuses,omitempty"`
	Bearings          [][]int            `json:"bearings,omitempty"`
	ContinueStraight  *bool              `json:"continue_straight,omitempty"`
	AlternativeRoutes *AlternativeRoutes `json:"alternative_routes,omitempty"`
	Options           *RouteOptions      `json:"options,omitempty"`
}

// AlternativeRoutes configures alternative route generation.
type AlternativeRoutes struct {
	TargetCount  int     `json:"target_count,omitempty"`
	WeightFactor float64 `json:"weight_factor,omitempty"`
	ShareFactor  float64 `json:"share_factor,omitempty"`
}

// RouteOptions holds ORS's advanced routing options.
type RouteOptions struct {
	AvoidBorders   string         `json:"avoid_borders,omitempty"`
	AvoidCountries []int          `json:"avoid_countries,omitempty"`
	AvoidFeatures  []string       `json:"avoid_features,omitempty"`
	AvoidPolygons  map[string]any `json:"avoid_polygons,omitempty"`
	ProfileParams  *ProfileParams `json:"profile_params,omitempty"`
	// VehicleType is required whenever ProfileParams.Restrictions is set.
	VehicleType string `json:"vehicle_type,omitempty"`
}

// ProfileParams tunes the routing profile.
type ProfileParams struct {
	Weightings   map[string]any `json:"weightings,omitempty"`
	Restrictions map[string]any `json:"restrictions,omitempty"`
}

// jsonRoute represents a single route in the json-format response.
type jsonRoute struct {
	Summary  routeSummary `json:"summary"`
	Geometry string       `json:"geometry"`
	BBox     []float64    `json:"bbox,omitempty"`
	WayPts   []int        `json:"way_points,omitempty"`
}

// routeSummary contains summary information for a route. Distance is in the
// requested units, duration in seconds.
type routeSummary struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}

// matrixRequest represents the ORS matrix API request body.
type matrixRequest struct {
	Locations        [][]float64 `json:"locations"`
	Sources          []int       `json:"sources,omitempty"`
	Destinations     []int       `json:"destinations,omitempty"`
	Metrics          []string    `json:"metrics,omitempty"`
	ResolveLocations *bool       `json:"resolve_locations,omitempty"`
	Units            string      `json:"units,omitempty"`
}

// isochronesRequest represents the ORS isochrones API request body.
type isochronesRequest struct {
	Locations     [][]float64 `json:"locations"`
	Range         []int       `json:"range"`
	RangeType     string      `json:"range_type,omitempty"`
	Interval      *int        `json:"interval,omitempty"`
	Smoothing     *float64    `json:"smoothing,omitempty"`
	LocationType  string      `json:"location_type,omitempty"`
	Attributes    []string    `json:"attributes,omitempty"`
	Intersections *bool       `json:"intersections,omitempty"`
}

// apiErrorBody represents an ORS error response. The error member is an
// object for most endpoints but a bare string for some, hence the custom
// decoding in the client.
type apiErrorBody struct {
	Code    int
	Message string
}
