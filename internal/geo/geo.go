// Package geo provides the geometry helpers used by the acquisition
// pipeline: footprint unions, coverage fractions and projection selection.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/peterstace/simplefeatures/geom"
)

// ErrEmptyGeometry is returned when an operation needs a non-empty geometry.
var ErrEmptyGeometry = errors.New("empty geometry")

// UnionAll merges the given footprints into a single geometry.
func UnionAll(footprints []geom.Geometry) (geom.Geometry, error) {
	if len(footprints) == 0 {
		return geom.Geometry{}, ErrEmptyGeometry
	}
	merged := footprints[0]
	for _, g := range footprints[1:] {
		var err error
		merged, err = geom.Union(merged, g)
		if err != nil {
			return geom.Geometry{}, fmt.Errorf("union footprints: %w", err)
		}
	}
	return merged, nil
}

// OverlapFraction returns area(unit ∩ cover) / area(unit).
func OverlapFraction(unit, cover geom.Geometry) (float64, error) {
	unitArea := unit.Area()
	if unitArea <= 0 {
		return 0, ErrEmptyGeometry
	}
	inter, err := geom.Intersection(unit, cover)
	if err != nil {
		return 0, fmt.Errorf("intersect footprints: %w", err)
	}
	return inter.Area() / unitArea, nil
}

// Centroid returns the lon/lat centroid of a footprint.
func Centroid(g geom.Geometry) (lon, lat float64, err error) {
	xy, ok := g.Centroid().XY()
	if !ok {
		return 0, 0, ErrEmptyGeometry
	}
	return xy.X, xy.Y, nil
}

// UTMEPSG returns the EPSG code of the local UTM zone for a WGS84
// coordinate, e.g. "EPSG:32756" for Sydney.
func UTMEPSG(lon, lat float64) string {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	band := 32700 // southern hemisphere
	if lat >= 0 {
		band = 32600
	}
	return fmt.Sprintf("EPSG:%d", band+zone)
}
