package graphhopper

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
	if _, err := NewClient(ClientConfig{BaseURL: "http://localhost:8989", Logger: zerolog.Nop()}); err != nil {
		t.Errorf("unexpected error with BaseURL override: %v", err)
	}
}

func TestClient_Directions_EncodedPoints(t *testing.T) {
	shape := []polyline.Coordinate{
		{Lat: 52.3676, Lon: 4.9041},
		{Lat: 52.0907, Lon: 5.1214},
	}

	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/route" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("expected key query parameter, got %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		points, _ := req["points"].([]any)
		if len(points) != 2 {
			t.Fatalf("expected 2 points, got %v", req["points"])
		}
		first, _ := points[0].([]any)
		if first[0] != 4.9041 || first[1] != 52.3676 {
			t.Errorf("expected lon,lat ordered points, got %v", first)
		}
		if req["profile"] != "car" {
			t.Errorf("expected profile=car, got %v", req["profile"])
		}
		if _, ok := req["ch.disable"]; ok {
			t.Error("expected ch.disable absent for plain requests")
		}

		resp := map[string]any{
			"paths": []map[string]any{
				{
					"distance":       32017.4,
					"time":           1512700.0,
					"points":         polyline.Encode(shape, 5),
					"points_encoded": true,
				},
			},
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	res, err := c.Directions(context.Background(), testLocations, "car", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Directions) != 1 {
		t.Fatalf("expected 1 direction, got %d", len(res.Directions))
	}
	d := res.Directions[0]
	// 1512700 ms rounds to 1513 s.
	if d.Duration == nil || *d.Duration != 1513 {
		t.Errorf("expected duration 1513, got %v", d.Duration)
	}
	if d.Distance == nil || *d.Distance != 32017 {
		t.Errorf("expected distance 32017, got %v", d.Distance)
	}
	if d.Geometry == nil || !d.Geometry.IsLineString() {
		t.Fatal("expected LineString geometry")
	}
	first := d.Geometry.LineString[0]
	if first[0] != 4.9041 || first[1] != 52.3676 {
		t.Errorf("expected first point in lon,lat order, got %v", first)
	}
}

func TestClient_Directions_GeoJSONPoints(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["points_encoded"] != false {
			t.Errorf("expected points_encoded=false, got %v", req["points_encoded"])
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"paths": [{
				"distance": 32000,
				"time": 1500000,
				"points": {"type": "LineString", "coordinates": [[4.9041, 52.3676], [5.1214, 52.0907]]},
				"points_encoded": false
			}]
		}`))
	})

	pointsEncoded := false
	res, err := c.Directions(context.Background(), testLocations, "car", &DirectionsOptions{
		PointsEncoded: &pointsEncoded,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := res.Directions[0]
	if d.Geometry == nil || !d.Geometry.IsLineString() {
		t.Fatal("expected pass-through LineString geometry")
	}
	if len(d.Geometry.LineString) != 2 {
		t.Errorf("expected 2 points, got %d", len(d.Geometry.LineString))
	}
}

func TestClient_Directions_FlexibleModeDisablesCH(t *testing.T) {
	cases := []struct {
		name string
		opts DirectionsOptions
	}{
		{"custom model", DirectionsOptions{CustomModel: map[string]any{"speed": []any{}}}},
		{"headings", DirectionsOptions{Headings: []float64{90, 180}}},
		{"algorithm", DirectionsOptions{Algorithm: "alternative_route"}},
		{"round trip distance", DirectionsOptions{RoundTripDistance: intPtr(10000)}},
		{"alternative max paths", DirectionsOptions{AlternativeRouteMaxPaths: intPtr(3)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				var req map[string]any
				_ = json.Unmarshal(body, &req)
				if req["ch.disable"] != true {
					t.Errorf("expected ch.disable=true, got %v", req["ch.disable"])
				}

				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"paths": [{"distance": 1, "time": 1000, "points": "", "points_encoded": true}]}`))
			})

			opts := tc.opts
			if _, err := c.Directions(context.Background(), testLocations, "car", &opts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestClient_Directions_DryRun(t *testing.T) {
	var calls int
	_, c := newTestServerClient(t, func(http.ResponseWriter, *http.Request) {
		calls++
	})

	res, err := c.Directions(context.Background(), testLocations, "car", &DirectionsOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 0 {
		t.Errorf("expected no HTTP calls, got %d", calls)
	}
	if !strings.Contains(res.DryRun, "method=POST") {
		t.Errorf("expected POST method in description, got %q", res.DryRun)
	}
	if !strings.Contains(res.DryRun, "key=test-key") {
		t.Errorf("expected key parameter in description, got %q", res.DryRun)
	}
}

func TestClient_Directions_EngineError(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"message": "Cannot find point 0: 52.3676,4.9041",
			"hints": [{"message": "Cannot find point 0: 52.3676,4.9041", "details": "PointNotFoundException"}]
		}`))
	})

	_, err := c.Directions(context.Background(), testLocations, "car", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *routing.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Status != "Bad Request" {
		t.Errorf("unexpected status fields: %d %q", apiErr.StatusCode, apiErr.Status)
	}
	// No numeric engine code, so the HTTP status stands in.
	if apiErr.ErrorCode != "400" {
		t.Errorf("expected error code 400, got %q", apiErr.ErrorCode)
	}
	if apiErr.ErrorMessage != "Cannot find point 0: 52.3676,4.9041" {
		t.Errorf("unexpected error message %q", apiErr.ErrorMessage)
	}
	if !errors.Is(err, routing.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClient_Directions_NoRoute(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "Connection between locations not found"}`))
	})

	_, err := c.Directions(context.Background(), testLocations, "car", nil)
	if !errors.Is(err, routing.ErrNoRouteFound) {
		t.Errorf("expected ErrNoRouteFound, got %v", err)
	}
}

func TestClient_Matrix_Success(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/matrix" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["fail_fast"] != false {
			t.Errorf("expected fail_fast=false, got %v", req["fail_fast"])
		}
		out, _ := req["out_arrays"].([]any)
		if len(out) != 2 || out[0] != "times" || out[1] != "distances" {
			t.Errorf("expected out_arrays [times distances], got %v", out)
		}
		if _, ok := req["points"]; !ok {
			t.Error("expected points for a symmetric matrix")
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"times": [[0, 1500.2], [1498.1, 0]],
			"distances": [[0, 32017.4], [null, 0]]
		}`))
	})

	res, err := c.Matrix(context.Background(), testLocations, "car", nil)
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

func TestClient_Matrix_SourcesDestinations(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)

		from, _ := req["from_points"].([]any)
		to, _ := req["to_points"].([]any)
		if len(from) != 2 || len(to) != 1 {
			t.Errorf("expected 2 from_points and 1 to_point, got %v / %v", from, to)
		}
		if _, ok := req["points"]; ok {
			t.Error("expected no points when from/to are set")
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"times": [[1500.2], [1498.1]], "distances": [[32017.4], [31000.0]]}`))
	})

	locations := append(testLocations, routing.Coordinate{Lat: 51.9244, Lon: 4.4777})
	res, err := c.Matrix(context.Background(), locations, "car", &MatrixOptions{
		Sources:      []int{0, 1},
		Destinations: []int{2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Durations) != 2 || len(res.Durations[0]) != 1 {
		t.Fatalf("expected 2x1 durations, got %v", res.Durations)
	}
}

func TestClient_Matrix_IndexOutOfRange(t *testing.T) {
	var calls int
	_, c := newTestServerClient(t, func(http.ResponseWriter, *http.Request) {
		calls++
	})

	_, err := c.Matrix(context.Background(), testLocations, "car", &MatrixOptions{Sources: []int{5}})
	if !errors.Is(err, routing.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no HTTP calls, got %d", calls)
	}
}

func TestClient_Isochrones_Success(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/isochrone" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// The isochrone endpoint is lat,lon ordered.
		if got := r.URL.Query().Get("point"); got != "52.3676,4.9041" {
			t.Errorf("expected point=52.3676,4.9041, got %q", got)
		}
		if got := r.URL.Query().Get("time_limit"); got != "600" {
			t.Errorf("expected time_limit=600, got %q", got)
		}
		if got := r.URL.Query().Get("buckets"); got != "2" {
			t.Errorf("expected buckets=2, got %q", got)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"polygons": [
				{
					"type": "Feature",
					"geometry": {"type": "Polygon", "coordinates": [[[4.9, 52.36], [4.92, 52.36], [4.91, 52.38], [4.9, 52.36]]]},
					"properties": {"bucket": 0}
				},
				{
					"type": "Feature",
					"geometry": {"type": "Polygon", "coordinates": [[[4.88, 52.35], [4.94, 52.35], [4.91, 52.4], [4.88, 52.35]]]},
					"properties": {"bucket": 1}
				}
			]
		}`))
	})

	center := routing.Coordinate{Lat: 52.3676, Lon: 4.9041}
	buckets := 2
	res, err := c.Isochrones(context.Background(), center, "car", []int{600}, &IsochronesOptions{
		Buckets: &buckets,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Isochrones) != 2 {
		t.Fatalf("expected 2 isochrones, got %d", len(res.Isochrones))
	}
	for _, iso := range res.Isochrones {
		if iso.Interval != 600 {
			t.Errorf("expected interval 600, got %d", iso.Interval)
		}
		if iso.IntervalType != routing.IntervalTime {
			t.Errorf("expected time interval type, got %q", iso.IntervalType)
		}
		if iso.Geometry == nil || !iso.Geometry.IsPolygon() {
			t.Fatal("expected Polygon geometry")
		}
		if iso.Center != center {
			t.Errorf("expected requested center, got %+v", iso.Center)
		}
	}
}

func TestClient_Isochrones_DistanceLimit(t *testing.T) {
	_, c := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("distance_limit"); got != "5000" {
			t.Errorf("expected distance_limit=5000, got %q", got)
		}
		if got := r.URL.Query().Get("time_limit"); got != "" {
			t.Errorf("expected no time_limit, got %q", got)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"polygons": []}`))
	})

	_, err := c.Isochrones(context.Background(), testLocations[0], "car", []int{5000}, &IsochronesOptions{
		IntervalType: routing.IntervalDistance,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func intPtr(v int) *int { return &v }
