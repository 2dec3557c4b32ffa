// Package routing defines the response model and error taxonomy shared by
// every engine adapter in this module.
package routing

import (
	"encoding/json"

	geojson "github.com/paulmach/go.geojson"
)

// Coordinate represents a geographic point. The public API of every adapter
// takes coordinates in (lat, lon) order; conversion to an engine's native
// axis order happens inside the adapter.
type Coordinate struct {
	Lat float64
	Lon float64
}

// LonLat returns the coordinate in GeoJSON (lon, lat) order.
func (c Coordinate) LonLat() []float64 {
	return []float64{c.Lon, c.Lat}
}

// Location is a waypoint with optional engine-specific metadata. Only
// Valhalla understands the rich fields; the other engines take plain
// coordinate pairs.
type Location struct {
	Coordinate

	// Type is the stop type ("break", "through", "via", "break_through").
	Type string
	// Heading is the preferred direction of travel at the location, in
	// degrees from north, clockwise.
	Heading *int
	// HeadingTolerance is how far the actual heading may deviate from
	// Heading before candidates are penalized.
	HeadingTolerance *int
	// MinimumReachability is the minimum number of nodes reachable from a
	// candidate edge for it to be considered.
	MinimumReachability *int
	// Radius is the snapping radius around the location, in meters.
	Radius *int
	// RankCandidates makes the engine rank edge candidates instead of
	// treating them equally.
	RankCandidates *bool
	// PreferredSide is the side of the street to snap to ("same",
	// "opposite" or "either").
	PreferredSide string
}

// Direction is one computed route.
type Direction struct {
	// Geometry is the route line in GeoJSON (lon, lat) order. Nil when the
	// engine returned no path geometry.
	Geometry *geojson.Geometry
	// Duration is the travel time in seconds, nil when the engine omitted it.
	Duration *int
	// Distance is the travel distance, nil when the engine omitted it. The
	// unit follows the request's unit setting (meters unless stated
	// otherwise by the adapter).
	Distance *int
	// Raw is the engine-specific payload this direction was parsed from.
	// Held for inspection, never mutated.
	Raw json.RawMessage
}

// Feature assembles the direction into a GeoJSON feature with duration and
// distance properties, mirroring the wire shape of GeoJSON-speaking engines.
func (d *Direction) Feature() *geojson.Feature {
	f := geojson.NewFeature(d.Geometry)
	if d.Duration != nil {
		f.SetProperty("duration", *d.Duration)
	} else {
		f.SetProperty("duration", nil)
	}
	if d.Distance != nil {
		f.SetProperty("distance", *d.Distance)
	} else {
		f.SetProperty("distance", nil)
	}
	return f
}

// Directions is an ordered sequence of routes: the primary route first,
// followed by alternates when they were requested. Never empty on success.
type Directions struct {
	Directions []Direction
	// Raw is the full engine response.
	Raw json.RawMessage
	// DryRun holds the request description when the call was made with the
	// dry-run flag. All other fields are zero in that case.
	DryRun string
}

// Matrix holds duration and distance tables indexed [source][destination].
// Both tables always have identical dimensions; a nil cell means the engine
// could not compute that pair.
type Matrix struct {
	Durations [][]*float64
	Distances [][]*float64
	Raw       json.RawMessage
	DryRun    string
}

// Interval types for isochrone requests.
const (
	IntervalTime     = "time"
	IntervalDistance = "distance"
)

// Isochrone is one reachability contour.
type Isochrone struct {
	// Center is the location the contour was computed from.
	Center Coordinate
	// Interval is the requested bound, in seconds (time) or meters (distance).
	Interval int
	// IntervalType is IntervalTime or IntervalDistance.
	IntervalType string
	// Geometry is the contour line or polygon in GeoJSON (lon, lat) order.
	Geometry *geojson.Geometry
}

// Isochrones is an ordered sequence of contours, one per non-degenerate
// requested interval.
type Isochrones struct {
	Isochrones []Isochrone
	Raw        json.RawMessage
	DryRun     string
}
