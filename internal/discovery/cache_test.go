package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/floodscope/acquirer/internal/scene"
)

type countingCatalog struct {
	calls  int
	scenes []scene.CandidateScene
}

func (c *countingCatalog) Scenes(ctx context.Context, q Query) ([]scene.CandidateScene, error) {
	c.calls++
	return c.scenes, nil
}

func testScene(t *testing.T) scene.CandidateScene {
	t.Helper()
	g, err := geom.UnmarshalWKT("POLYGON((152 -30, 153 -30, 153 -29, 152 -29, 152 -30))")
	if err != nil {
		t.Fatal(err)
	}
	utc := time.Date(2023, 3, 10, 23, 50, 0, 0, time.UTC)
	solar := SolarTime(utc, 152.5)
	return scene.CandidateScene{
		ID:         "S2A_20230310",
		Collection: "COPERNICUS/S2_HARMONIZED",
		Satellite:  "S2A",
		Footprint:  g,
		CloudCover: 12.5,
		UTCTime:    utc,
		SolarTime:  solar,
		LocalTime:  solar,
		SolarDay:   solar.Format("2006-01-02"),
		Purpose:    scene.PurposeFlood,
	}
}

func TestCachedCatalogRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := &countingCatalog{scenes: []scene.CandidateScene{testScene(t)}}

	cache, err := NewCachedCatalog(inner, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewCachedCatalog: %v", err)
	}

	q := Query{
		Collections: []string{"COPERNICUS/S2_HARMONIZED"},
		RegionWKT:   "POLYGON((152 -30, 153 -30, 153 -29, 152 -29, 152 -30))",
		Start:       time.Date(2023, 3, 9, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC),
		Purpose:     scene.PurposeFlood,
	}

	first, err := cache.Scenes(ctx, q)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	second, err := cache.Scenes(ctx, q)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("inner catalog called %d times, want 1", inner.calls)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("scene counts: %d, %d", len(first), len(second))
	}

	got, want := second[0], first[0]
	if got.ID != want.ID || got.SolarDay != want.SolarDay || !got.UTCTime.Equal(want.UTCTime) {
		t.Errorf("cached scene differs: got %+v, want %+v", got, want)
	}
	if got.Footprint.IsEmpty() {
		t.Error("footprint lost in cache round trip")
	}
}

func TestCachedCatalogDistinctQueries(t *testing.T) {
	ctx := context.Background()
	inner := &countingCatalog{scenes: []scene.CandidateScene{testScene(t)}}
	cache, err := NewCachedCatalog(inner, t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	base := Query{
		Collections: []string{"COPERNICUS/S2_HARMONIZED"},
		Start:       time.Date(2023, 3, 9, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC),
		Purpose:     scene.PurposeFlood,
	}
	if _, err := cache.Scenes(ctx, base); err != nil {
		t.Fatal(err)
	}

	ref := base
	ref.Purpose = scene.PurposeReference
	if _, err := cache.Scenes(ctx, ref); err != nil {
		t.Fatal(err)
	}

	if inner.calls != 2 {
		t.Errorf("inner catalog called %d times, want 2 for distinct queries", inner.calls)
	}
}

func TestCachedCatalogExpiry(t *testing.T) {
	ctx := context.Background()
	inner := &countingCatalog{scenes: []scene.CandidateScene{testScene(t)}}
	cache, err := NewCachedCatalog(inner, t.TempDir(), time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}

	q := Query{Collections: []string{"c"}, Purpose: scene.PurposeFlood}
	if _, err := cache.Scenes(ctx, q); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	if _, err := cache.Scenes(ctx, q); err != nil {
		t.Fatal(err)
	}

	if inner.calls != 2 {
		t.Errorf("expired entry served from cache, calls = %d", inner.calls)
	}
}
