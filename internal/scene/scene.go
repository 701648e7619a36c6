// Package scene defines the acquisition data model: candidate scenes
// returned by catalog discovery, the spatial units they cover, and the
// export units formed by grouping same-day scenes into mosaics.
package scene

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peterstace/simplefeatures/geom"
)

// Purpose tags a scene or export unit with the acquisition window it
// was discovered in. Flood imagery and reference (pre-flood) imagery
// are gated against different quality thresholds.
type Purpose string

const (
	PurposeFlood     Purpose = "flood"
	PurposeReference Purpose = "ref"
)

// SensorFamily is the constellation an observation belongs to.
type SensorFamily string

const (
	SensorS2      SensorFamily = "S2"
	SensorLandsat SensorFamily = "Landsat"
)

// ErrUnknownSatellite is returned for satellite codes outside the
// supported constellations.
var ErrUnknownSatellite = errors.New("unknown satellite code")

// FamilyForSatellite maps a satellite code ("S2A", "S2B", "LC08",
// "LC09") to its sensor family.
func FamilyForSatellite(satellite string) (SensorFamily, error) {
	switch {
	case strings.HasPrefix(satellite, "S2"):
		return SensorS2, nil
	case strings.HasPrefix(satellite, "LC"):
		return SensorLandsat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSatellite, satellite)
	}
}

// CandidateScene is one observation from the catalog. Immutable once
// returned by discovery.
type CandidateScene struct {
	ID           string        // catalog asset ID within its collection
	Collection   string        // e.g. "COPERNICUS/S2_HARMONIZED"
	Satellite    string        // "S2A" | "S2B" | "LC08" | "LC09"
	Footprint    geom.Geometry // scene bounds, WGS84
	CloudCover   float64       // catalog cloud estimate, percent
	UTCTime      time.Time
	SolarTime    time.Time
	LocalTime    time.Time
	SolarDay     string // "YYYY-MM-DD" in local solar time
	HasCloudProb bool   // auxiliary cloud-probability product exists
	Purpose      Purpose
}

// Validate checks the invariants every scene must satisfy before it
// enters the pipeline. Discovery rejects rows that fail here so the
// downstream components never see partial records.
func (s CandidateScene) Validate() error {
	if s.ID == "" {
		return errors.New("scene missing ID")
	}
	if s.Collection == "" {
		return fmt.Errorf("scene %s: missing collection", s.ID)
	}
	if _, err := FamilyForSatellite(s.Satellite); err != nil {
		return fmt.Errorf("scene %s: %w", s.ID, err)
	}
	if s.Footprint.IsEmpty() {
		return fmt.Errorf("scene %s: empty footprint", s.ID)
	}
	if s.UTCTime.IsZero() {
		return fmt.Errorf("scene %s: zero capture time", s.ID)
	}
	if s.SolarDay == "" {
		return fmt.Errorf("scene %s: missing solar day", s.ID)
	}
	switch s.Purpose {
	case PurposeFlood, PurposeReference:
	default:
		return fmt.Errorf("scene %s: invalid purpose %q", s.ID, s.Purpose)
	}
	return nil
}

// FixLandsatID strips the errant "1_"/"2_" prefix some Landsat assets
// carry in the catalog.
func FixLandsatID(id string) string {
	if (strings.HasPrefix(id, "1_") || strings.HasPrefix(id, "2_")) && strings.Contains(id, "LC") {
		return id[2:]
	}
	return id
}

// AssetID returns the fully qualified catalog asset path for the scene,
// with the Landsat identifier quirk corrected.
func (s CandidateScene) AssetID() string {
	return s.Collection + "/" + FixLandsatID(s.ID)
}

// SpatialUnit is a fixed grid cell of the area of interest. Read-only
// to the orchestrator; the source of truth is external.
type SpatialUnit struct {
	Name      string
	Footprint geom.Geometry
	Region    string // optional grouping attribute, e.g. administrative region
}

// SceneOnUnit is one row of the scene-to-unit spatial join produced by
// discovery: a candidate scene that overlaps a spatial unit.
type SceneOnUnit struct {
	Unit  string
	Scene CandidateScene
}

// DeduplicateUnits removes spatial units with duplicate names, keeping
// the first occurrence.
func DeduplicateUnits(units []SpatialUnit) []SpatialUnit {
	seen := make(map[string]bool, len(units))
	out := make([]SpatialUnit, 0, len(units))
	for _, u := range units {
		if seen[u.Name] {
			continue
		}
		seen[u.Name] = true
		out = append(out, u)
	}
	return out
}
