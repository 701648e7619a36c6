// Package discovery queries the imagery catalog for candidate scenes
// over an area of interest and joins them onto the spatial grid.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/floodscope/acquirer/internal/geo"
	"github.com/floodscope/acquirer/internal/scene"
)

// Query selects scenes from the catalog: collections, a WGS84 region
// and a closed UTC time interval.
type Query struct {
	Collections []string  `json:"collections"`
	RegionWKT   string    `json:"region_wkt"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Purpose     scene.Purpose
}

// Catalog finds candidate scenes matching a query.
type Catalog interface {
	Scenes(ctx context.Context, q Query) ([]scene.CandidateScene, error)
}

// Config configures the HTTP catalog client.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// HTTPCatalog queries a STAC-style search endpoint.
type HTTPCatalog struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewHTTPCatalog creates a catalog client for the configured endpoint.
func NewHTTPCatalog(cfg Config) (*HTTPCatalog, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("catalog endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCatalog{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    slog.With("component", "discovery"),
	}, nil
}

type searchRequest struct {
	Collections []string `json:"collections"`
	Datetime    string   `json:"datetime"`
	Intersects  string   `json:"intersects_wkt"`
}

type searchFeature struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties struct {
		Platform     string    `json:"platform"`
		CloudCover   float64   `json:"cloud_cover"`
		Datetime     time.Time `json:"datetime"`
		HasCloudProb bool      `json:"has_cloud_prob"`
	} `json:"properties"`
}

type searchResponse struct {
	Features []searchFeature `json:"features"`
}

// Scenes runs the catalog search and converts the result rows into
// validated candidate scenes. Rows that fail validation are dropped
// with a warning rather than aborting the whole discovery pass.
func (c *HTTPCatalog) Scenes(ctx context.Context, q Query) ([]scene.CandidateScene, error) {
	req := searchRequest{
		Collections: q.Collections,
		Datetime:    q.Start.UTC().Format(time.RFC3339) + "/" + q.End.UTC().Format(time.RFC3339),
		Intersects:  q.RegionWKT,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog search: status %d: %s", resp.StatusCode, string(msg))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	scenes := make([]scene.CandidateScene, 0, len(result.Features))
	for _, f := range result.Features {
		s, err := sceneFromFeature(f, q.Purpose)
		if err != nil {
			c.log.Warn("dropping catalog row", "id", f.ID, "error", err)
			continue
		}
		scenes = append(scenes, s)
	}
	c.log.Info("catalog search complete",
		"collections", q.Collections, "start", q.Start, "end", q.End,
		"returned", len(result.Features), "kept", len(scenes))
	return scenes, nil
}

func sceneFromFeature(f searchFeature, purpose scene.Purpose) (scene.CandidateScene, error) {
	footprint, err := geom.UnmarshalGeoJSON(f.Geometry)
	if err != nil {
		return scene.CandidateScene{}, fmt.Errorf("parse footprint: %w", err)
	}

	s := scene.CandidateScene{
		ID:           f.ID,
		Collection:   f.Collection,
		Satellite:    f.Properties.Platform,
		Footprint:    footprint,
		CloudCover:   f.Properties.CloudCover,
		UTCTime:      f.Properties.Datetime.UTC(),
		HasCloudProb: f.Properties.HasCloudProb,
		Purpose:      purpose,
	}

	lon, _, err := geo.Centroid(footprint)
	if err != nil {
		return scene.CandidateScene{}, fmt.Errorf("footprint centroid: %w", err)
	}
	solar := SolarTime(s.UTCTime, lon)
	s.SolarTime = solar
	s.LocalTime = solar
	s.SolarDay = solar.Format("2006-01-02")

	if err := s.Validate(); err != nil {
		return scene.CandidateScene{}, err
	}
	return s, nil
}

// SolarTime shifts a UTC capture time to mean solar time at the given
// longitude, one hour per 15 degrees. Observations either side of
// local midnight land on the calendar day an observer on the ground
// would assign them, which UTC alone gets wrong near the date line.
func SolarTime(utc time.Time, lon float64) time.Time {
	offset := time.Duration(lon / 15.0 * float64(time.Hour))
	return utc.UTC().Add(offset)
}

var _ Catalog = (*HTTPCatalog)(nil)

// JoinUnits spatially joins candidate scenes onto the grid: one row per
// (unit, scene) pair whose footprints overlap.
func JoinUnits(units []scene.SpatialUnit, scenes []scene.CandidateScene) ([]scene.SceneOnUnit, error) {
	var joins []scene.SceneOnUnit
	for _, u := range units {
		for _, s := range scenes {
			overlap, err := geo.OverlapFraction(u.Footprint, s.Footprint)
			if err != nil {
				return nil, fmt.Errorf("join %s with scene %s: %w", u.Name, s.ID, err)
			}
			if overlap > 0 {
				joins = append(joins, scene.SceneOnUnit{Unit: u.Name, Scene: s})
			}
		}
	}
	return joins, nil
}
