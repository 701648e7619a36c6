package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/floodscope/acquirer/internal/scene"
)

func TestSolarTime(t *testing.T) {
	utc := time.Date(2023, 3, 10, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		lon     float64
		wantDay string
	}{
		// 150E is ten hours ahead; the observation belongs to the next day.
		{"eastern australia", 150, "2023-03-11"},
		{"greenwich", 0, "2023-03-10"},
		// 75W is five hours behind; still the same day.
		{"peru", -75, "2023-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SolarTime(utc, tt.lon).Format("2006-01-02")
			if got != tt.wantDay {
				t.Errorf("solar day at lon %v = %s, want %s", tt.lon, got, tt.wantDay)
			}
		})
	}
}

func mustWKT(t *testing.T, wkt string) geom.Geometry {
	t.Helper()
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		t.Fatalf("parse %q: %v", wkt, err)
	}
	return g
}

func TestJoinUnits(t *testing.T) {
	units := []scene.SpatialUnit{
		{Name: "GRID001", Footprint: mustWKT(t, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))")},
		{Name: "GRID002", Footprint: mustWKT(t, "POLYGON((5 5, 6 5, 6 6, 5 6, 5 5))")},
	}
	scenes := []scene.CandidateScene{
		{ID: "a", Footprint: mustWKT(t, "POLYGON((0.5 0.5, 2 0.5, 2 2, 0.5 2, 0.5 0.5))")},
		{ID: "b", Footprint: mustWKT(t, "POLYGON((10 10, 11 10, 11 11, 10 11, 10 10))")},
	}

	joins, err := JoinUnits(units, scenes)
	if err != nil {
		t.Fatalf("JoinUnits: %v", err)
	}
	if len(joins) != 1 {
		t.Fatalf("got %d joins, want 1", len(joins))
	}
	if joins[0].Unit != "GRID001" || joins[0].Scene.ID != "a" {
		t.Errorf("unexpected join: %+v", joins[0])
	}
}

func TestHTTPCatalogScenes(t *testing.T) {
	footprint := map[string]any{
		"type":        "Polygon",
		"coordinates": [][][]float64{{{152, -29}, {153, -29}, {153, -30}, {152, -30}, {152, -29}}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/search", func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Collections) != 1 || req.Collections[0] != "COPERNICUS/S2_HARMONIZED" {
			t.Errorf("collections = %v", req.Collections)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"features": []map[string]any{
				{
					"id":         "S2A_20230310",
					"collection": "COPERNICUS/S2_HARMONIZED",
					"geometry":   footprint,
					"properties": map[string]any{
						"platform":       "S2A",
						"cloud_cover":    12.5,
						"datetime":       "2023-03-10T23:50:00Z",
						"has_cloud_prob": true,
					},
				},
				{
					// Unknown platform code fails validation and is dropped.
					"id":         "BOGUS",
					"collection": "COPERNICUS/S2_HARMONIZED",
					"geometry":   footprint,
					"properties": map[string]any{
						"platform": "VOYAGER1",
						"datetime": "2023-03-10T23:50:00Z",
					},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	catalog, err := NewHTTPCatalog(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	scenes, err := catalog.Scenes(context.Background(), Query{
		Collections: []string{"COPERNICUS/S2_HARMONIZED"},
		RegionWKT:   "POLYGON((152 -30, 153 -30, 153 -29, 152 -29, 152 -30))",
		Start:       time.Date(2023, 3, 9, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC),
		Purpose:     scene.PurposeFlood,
	})
	if err != nil {
		t.Fatalf("Scenes: %v", err)
	}
	if len(scenes) != 1 {
		t.Fatalf("got %d scenes, want 1", len(scenes))
	}

	s := scenes[0]
	if s.ID != "S2A_20230310" || s.Satellite != "S2A" {
		t.Errorf("unexpected scene: %+v", s)
	}
	// Centroid is near 152.5E; 23:50 UTC shifts past midnight.
	if s.SolarDay != "2023-03-11" {
		t.Errorf("solar day = %s, want 2023-03-11", s.SolarDay)
	}
	if s.Purpose != scene.PurposeFlood {
		t.Errorf("purpose = %s", s.Purpose)
	}
	if !s.HasCloudProb {
		t.Error("cloud probability flag lost")
	}
}
