package valhalla

import (
	"fmt"

	geojson "github.com/paulmach/go.geojson"
)

// AvoidLocation is one point the engine must route around. Exactly one field
// must be set: a raw (lon, lat) pair, a GeoJSON Point geometry, or a GeoJSON
// feature carrying a Point geometry.
type AvoidLocation struct {
	LonLat   *[2]float64
	Geometry *geojson.Geometry
	Feature  *geojson.Feature
}

// lonLat resolves the variant to a (lon, lat) pair.
func (a AvoidLocation) lonLat() ([2]float64, error) {
	switch {
	case a.LonLat != nil && a.Geometry == nil && a.Feature == nil:
		return *a.LonLat, nil
	case a.Geometry != nil && a.LonLat == nil && a.Feature == nil:
		return pointCoords(a.Geometry)
	case a.Feature != nil && a.LonLat == nil && a.Geometry == nil:
		if a.Feature.Geometry == nil {
			return [2]float64{}, fmt.Errorf("avoid location feature has no geometry")
		}
		return pointCoords(a.Feature.Geometry)
	default:
		return [2]float64{}, fmt.Errorf("avoid location must set exactly one of LonLat, Geometry or Feature")
	}
}

func pointCoords(g *geojson.Geometry) ([2]float64, error) {
	if !g.IsPoint() || len(g.Point) < 2 {
		return [2]float64{}, fmt.Errorf("avoid location geometry must be a Point, got %s", g.Type)
	}
	return [2]float64{g.Point[0], g.Point[1]}, nil
}

// AvoidPolygon is one area the engine must route around. Exactly one field
// must be set: raw GeoJSON-style rings, a GeoJSON Polygon geometry, or a
// GeoJSON feature carrying a Polygon geometry.
type AvoidPolygon struct {
	Rings    [][][]float64
	Geometry *geojson.Geometry
	Feature  *geojson.Feature
}

// rings resolves the variant to polygon rings in (lon, lat) order. Ring
// contents are passed through unchanged.
func (p AvoidPolygon) rings() ([][][]float64, error) {
	switch {
	case p.Rings != nil && p.Geometry == nil && p.Feature == nil:
		return p.Rings, nil
	case p.Geometry != nil && p.Rings == nil && p.Feature == nil:
		return polygonCoords(p.Geometry)
	case p.Feature != nil && p.Rings == nil && p.Geometry == nil:
		if p.Feature.Geometry == nil {
			return nil, fmt.Errorf("avoid polygon feature has no geometry")
		}
		return polygonCoords(p.Feature.Geometry)
	default:
		return nil, fmt.Errorf("avoid polygon must set exactly one of Rings, Geometry or Feature")
	}
}

func polygonCoords(g *geojson.Geometry) ([][][]float64, error) {
	if !g.IsPolygon() || len(g.Polygon) == 0 {
		return nil, fmt.Errorf("avoid polygon geometry must be a Polygon, got %s", g.Type)
	}
	return g.Polygon, nil
}
