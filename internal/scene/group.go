package scene

import (
	"fmt"
	"sort"

	"github.com/peterstace/simplefeatures/geom"
)

// ExportUnit is the orchestrator's unit of work: all same-day scenes
// from one sensor family covering one spatial unit, exported together
// as a single mosaic.
type ExportUnit struct {
	Unit     string
	SolarDay string
	Sensor   SensorFamily
	Purpose  Purpose
	Scenes   []CandidateScene
}

// Description returns the globally unique key used for the ledger
// record and the remote job name: <unit>_<sensor>_<solarday>.
func (u *ExportUnit) Description() string {
	return fmt.Sprintf("%s_%s_%s", u.Unit, u.Sensor, u.SolarDay)
}

// Footprint returns the merged footprint of the unit's member scenes.
func (u *ExportUnit) Footprint() (geom.Geometry, error) {
	footprints := make([]geom.Geometry, len(u.Scenes))
	for i, s := range u.Scenes {
		footprints[i] = s.Footprint
	}
	return unionAll(footprints)
}

func unionAll(gs []geom.Geometry) (geom.Geometry, error) {
	merged := gs[0]
	for _, g := range gs[1:] {
		var err error
		merged, err = geom.Union(merged, g)
		if err != nil {
			return geom.Geometry{}, fmt.Errorf("union scene footprints: %w", err)
		}
	}
	return merged, nil
}

// MeanUTCTime returns the mean capture time of the member scenes, used
// when recording a mosaic in the ledger.
func (u *ExportUnit) MeanUTCTime() (t int64) {
	if len(u.Scenes) == 0 {
		return 0
	}
	var sum int64
	for _, s := range u.Scenes {
		sum += s.UTCTime.Unix()
	}
	return sum / int64(len(u.Scenes))
}

type groupKey struct {
	unit    string
	day     string
	sensor  SensorFamily
	purpose Purpose
}

// Group partitions the scene-to-unit join rows into export units keyed
// by (spatial unit, solar day, sensor family, purpose). A spatial unit
// may be covered by several adjacent footprints from the same pass;
// grouping merges those into one mosaic export instead of exporting
// each scene separately.
//
// The returned slice is in deterministic order: units sorted by name,
// then earliest local capture time, then sensor and purpose. Scenes
// inside a unit are sorted by local time. Re-runs therefore attempt
// units in the same sequence and produce comparable logs.
func Group(joins []SceneOnUnit) ([]*ExportUnit, error) {
	byKey := make(map[groupKey]*ExportUnit)
	for _, j := range joins {
		family, err := FamilyForSatellite(j.Scene.Satellite)
		if err != nil {
			return nil, fmt.Errorf("group scene %s: %w", j.Scene.ID, err)
		}
		key := groupKey{unit: j.Unit, day: j.Scene.SolarDay, sensor: family, purpose: j.Scene.Purpose}
		eu, ok := byKey[key]
		if !ok {
			eu = &ExportUnit{Unit: j.Unit, SolarDay: j.Scene.SolarDay, Sensor: family, Purpose: j.Scene.Purpose}
			byKey[key] = eu
		}
		eu.Scenes = append(eu.Scenes, j.Scene)
	}

	units := make([]*ExportUnit, 0, len(byKey))
	for _, eu := range byKey {
		sort.SliceStable(eu.Scenes, func(i, j int) bool {
			return eu.Scenes[i].LocalTime.Before(eu.Scenes[j].LocalTime)
		})
		units = append(units, eu)
	}

	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		at, bt := a.Scenes[0].LocalTime, b.Scenes[0].LocalTime
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		if a.Sensor != b.Sensor {
			return a.Sensor < b.Sensor
		}
		return a.Purpose < b.Purpose
	})

	return units, nil
}
