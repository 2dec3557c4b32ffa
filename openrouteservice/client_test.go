package openrouteservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gis-ops/routing-go/pkg/polyline"
	"github.com/gis-ops/routing-go/routing"
)

var testLocations = []routing.Coordinate{
	{Lat: 52.3676, Lon: 4.9041},
	{Lat: 52.0907, Lon: 5.1214},
}

func newTestServerClient(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(ClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return server, c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(ClientConfig{Logger: zerolog.Nop()})
	if !errors.Is(err, routing.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing API key, got %v", err)
	}

	// A self-hosted instance needs no key.
	if _, err := NewClient(ClientConfig{BaseURL: "http://localhost:8080/ors", Logger: zerolog.Nop()}); err != nil {
		t.Errorf("unexpected error with BaseURL override: %v", err)
	}
}

func TestClient_Directions_JSON(t *testing.T) {
	shape := []polyline.Coordinate{
		{Lat: 52.3676, Lon: 4.9041},
		{Lat: 52.0907, Lon: 5.1214},
	}

	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v2/directions/driving-car/json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("expected Authorization header, got %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		coords, _ := req["coordinates"].([]any)
		if len(coords) != 2 {
			t.Fatalf("expected 2 coordinates, got %v", req["coordinates"])
		}
		first, _ := coords[0].([]any)
		if first[0] != 4.9041 || first[1] != 52.3676 {
			t.Errorf("expected lon,lat ordered coordinates, got %v", first)
		}
		if req["preference"] != "shortest" {
			t.Errorf("expected preference=shortest, got %v", req["preference"])
		}
		if req["units"] != "km" {
			t.Errorf("expected units=km, got %v", req["units"])
		}

		resp := map[string]any{
			"routes": []map[string]any{
				{
					"summary":  map[string]any{"distance": 32.017, "duration": 1512.7},
					"geometry": polyline.Encode(shape, 5),
				},
			},
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	res, err := c.Directions(context.Background(), testLocations, "driving-car", &DirectionsOptions{
		Preference: "shortest",
		Units:      "km",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Directions) != 1 {
		t.Fatalf("expected 1 direction, got %d", len(res.Directions))
	}
	d := res.Directions[0]
	// 32.017 km scaled to meters and rounded.
	if d.Distance == nil || *d.Distance != 32017 {
		t.Errorf("expected distance 32017, got %v", d.Distance)
	}
	if d.Duration == nil || *d.Duration != 1513 {
		t.Errorf("expected duration 1513, got %v", d.Duration)
	}
	if d.Geometry == nil || !d.Geometry.IsLineString() {
		t.Fatal("expected LineString geometry")
	}
	first := d.Geometry.LineString[0]
	if first[0] != 4.9041 || first[1] != 52.3676 {
		t.Errorf("expected first point in lon,lat order, got %v", first)
	}
}

func TestClient_Directions_MilesUnits(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"routes": [{"summary": {"distance": 10, "duration": 600}, "geometry": ""}]}`))
	})

	res, err := c.Directions(context.Background(), testLocations, "driving-car", &DirectionsOptions{Units: "mi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 10 mi * 0.621371 * 1000, rounded.
	if d := res.Directions[0].Distance; d == nil || *d != 6214 {
		t.Errorf("expected distance 6214, got %v", d)
	}
	if res.Directions[0].Geometry != nil {
		t.Error("expected nil geometry for empty shape")
	}
}

func TestClient_Directions_GeoJSON(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/directions/driving-car/geojson" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"type": "FeatureCollection",
			"features": [{
				"type": "Feature",
				"geometry": {"type": "LineString", "coordinates": [[4.9041, 52.3676], [5.1214, 52.0907]]},
				"properties": {"summary": {"distance": 32017.4, "duration": 1512.7}}
			}]
		}`))
	})

	res, err := c.Directions(context.Background(), testLocations, "driving-car", &DirectionsOptions{
		Format: FormatGeoJSON,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := res.Directions[0]
	if d.Geometry == nil || !d.Geometry.IsLineString() {
		t.Fatal("expected pass-through LineString geometry")
	}
	if d.Distance == nil || *d.Distance != 32017 {
		t.Errorf("expected distance 32017 from summary, got %v", d.Distance)
	}
	if d.Duration == nil || *d.Duration != 1513 {
		t.Errorf("expected duration 1513 from summary, got %v", d.Duration)
	}
}

func TestClient_Directions_RestrictionsNeedVehicleType(t *testing.T) {
	var calls int
	_, c := newTestServerClient(t, func(http.ResponseWriter, *http.Request) {
		calls++
	})

	_, err := c.Directions(context.Background(), testLocations, "driving-hgv", &DirectionsOptions{
		Options: &RouteOptions{
			ProfileParams: &ProfileParams{
				Restrictions: map[string]any{"height": 3.5},
			},
		},
	})
	if !errors.Is(err, routing.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no HTTP calls, got %d", calls)
	}

	// Setting the vehicle type makes the same options valid.
	_, c2 := newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"routes": [{"summary": {"distance": 1, "duration": 1}, "geometry": ""}]}`))
	})
	_, err = c2.Directions(context.Background(), testLocations, "driving-hgv", &DirectionsOptions{
		Options: &RouteOptions{
			VehicleType: "hgv",
			ProfileParams: &ProfileParams{
				Restrictions: map[string]any{"height": 3.5},
			},
		},
	})
	if err != nil {
		t.Errorf("unexpected error with vehicle_type set: %v", err)
	}
}

func TestClient_Directions_DryRun(t *testing.T) {
	var calls int
	_, c := newTestServerClient(t, func(http.ResponseWriter, *http.Request) {
		calls++
	})

	res, err := c.Directions(context.Background(), testLocations, "driving-car", &DirectionsOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 0 {
		t.Errorf("expected no HTTP calls, got %d", calls)
	}
	if !strings.Contains(res.DryRun, "method=POST") {
		t.Errorf("expected POST method in description, got %q", res.DryRun)
	}
	if !strings.Contains(res.DryRun, "4.9041") {
		t.Errorf("expected coordinates in description, got %q", res.DryRun)
	}

	repeat, err := c.Directions(context.Background(), testLocations, "driving-car", &DirectionsOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repeat.DryRun != res.DryRun {
		t.Error("expected deterministic dry run description")
	}
}

func TestClient_Directions_EngineError(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": 2009, "message": "Route could not be found between locations"}}`))
	})

	_, err := c.Directions(context.Background(), testLocations, "driving-car", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *routing.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Status != "Not Found" {
		t.Errorf("unexpected status fields: %d %q", apiErr.StatusCode, apiErr.Status)
	}
	if apiErr.ErrorCode != "2009" {
		t.Errorf("expected error code 2009, got %q", apiErr.ErrorCode)
	}
	if apiErr.ErrorMessage != "Route could not be found between locations" {
		t.Errorf("unexpected error message %q", apiErr.ErrorMessage)
	}
	if !errors.Is(err, routing.ErrNoRouteFound) {
		t.Errorf("expected ErrNoRouteFound, got %v", err)
	}
}

func TestClient_Directions_StringError(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "Access to this API has been disallowed"}`))
	})

	_, err := c.Directions(context.Background(), testLocations, "driving-car", nil)

	var apiErr *routing.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.ErrorMessage != "Access to this API has been disallowed" {
		t.Errorf("unexpected error message %q", apiErr.ErrorMessage)
	}
	// Fallback code derived from the HTTP status.
	if apiErr.ErrorCode != "403" {
		t.Errorf("expected fallback error code 403, got %q", apiErr.ErrorCode)
	}
}

func TestClient_Matrix_Success(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/matrix/driving-car" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		metrics, _ := req["metrics"].([]any)
		if len(metrics) != 2 || metrics[0] != "duration" || metrics[1] != "distance" {
			t.Errorf("expected default metrics duration,distance, got %v", metrics)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"durations": [[0, 1500.2], [1498.1, 0]],
			"distances": [[0, 32017.4], [null, 0]]
		}`))
	})

	res, err := c.Matrix(context.Background(), testLocations, "driving-car", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Durations) != 2 || len(res.Durations[0]) != 2 {
		t.Fatalf("expected 2x2 durations, got %v", res.Durations)
	}
	if d := res.Durations[0][1]; d == nil || *d != 1500.2 {
		t.Errorf("expected duration 1500.2, got %v", d)
	}
	if res.Distances[1][0] != nil {
		t.Error("expected nil cell for uncomputable pair")
	}
}

func TestClient_Isochrones_Success(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/isochrones/driving-car" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		ranges, _ := req["range"].([]any)
		if len(ranges) != 2 || ranges[0] != float64(150) || ranges[1] != float64(300) {
			t.Errorf("expected range [150 300], got %v", ranges)
		}
		if req["range_type"] != "time" {
			t.Errorf("expected range_type=time, got %v", req["range_type"])
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"type": "FeatureCollection",
			"features": [
				{
					"type": "Feature",
					"geometry": {"type": "Polygon", "coordinates": [[[4.9, 52.36], [4.92, 52.36], [4.91, 52.38], [4.9, 52.36]]]},
					"properties": {"value": 150, "center": [4.9042, 52.3677]}
				},
				{
					"type": "Feature",
					"geometry": {"type": "Polygon", "coordinates": [[[4.88, 52.35], [4.94, 52.35], [4.91, 52.4], [4.88, 52.35]]]},
					"properties": {"value": 300, "center": [4.9042, 52.3677]}
				}
			]
		}`))
	})

	center := routing.Coordinate{Lat: 52.3676, Lon: 4.9041}
	res, err := c.Isochrones(context.Background(), center, "driving-car", []int{150, 300}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Isochrones) != 2 {
		t.Fatalf("expected 2 isochrones, got %d", len(res.Isochrones))
	}
	first := res.Isochrones[0]
	if first.Interval != 150 {
		t.Errorf("expected interval 150, got %d", first.Interval)
	}
	if first.IntervalType != routing.IntervalTime {
		t.Errorf("expected time interval type, got %q", first.IntervalType)
	}
	if first.Geometry == nil || !first.Geometry.IsPolygon() {
		t.Fatal("expected Polygon geometry")
	}
	// Center snapped to the value echoed by the engine.
	if first.Center.Lat != 52.3677 || first.Center.Lon != 4.9042 {
		t.Errorf("expected snapped center, got %+v", first.Center)
	}
	if res.Isochrones[1].Interval != 300 {
		t.Errorf("expected interval 300, got %d", res.Isochrones[1].Interval)
	}
}

func TestClient_Isochrones_NoIntervals(t *testing.T) {
	var calls int
	_, c := newTestServerClient(t, func(http.ResponseWriter, *http.Request) {
		calls++
	})

	_, err := c.Isochrones(context.Background(), testLocations[0], "driving-car", nil, nil)
	if !errors.Is(err, routing.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no HTTP calls, got %d", calls)
	}
}
