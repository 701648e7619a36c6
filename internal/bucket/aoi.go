package bucket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/floodscope/acquirer/internal/scene"
)

type aoiFeature struct {
	Geometry   json.RawMessage            `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type aoiCollection struct {
	Features []aoiFeature `json:"features"`
}

// ReadAOI loads spatial units from a GeoJSON feature collection stored
// in the bucket. Each feature needs a name property; the region
// property is optional. Duplicate names keep the first occurrence.
func (s *Store) ReadAOI(ctx context.Context, key string) ([]scene.SpatialUnit, error) {
	data, err := s.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read AOI: %w", err)
	}
	units, err := ParseAOI(data)
	if err != nil {
		return nil, fmt.Errorf("parse AOI %s: %w", key, err)
	}
	return units, nil
}

// ParseAOI converts GeoJSON bytes to spatial units.
func ParseAOI(data []byte) ([]scene.SpatialUnit, error) {
	var fc aoiCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("feature collection is empty")
	}

	units := make([]scene.SpatialUnit, 0, len(fc.Features))
	for i, f := range fc.Features {
		name := stringProp(f.Properties, "name", "patch_name")
		if name == "" {
			return nil, fmt.Errorf("feature %d: missing name property", i)
		}
		g, err := geom.UnmarshalGeoJSON(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", name, err)
		}
		units = append(units, scene.SpatialUnit{
			Name:      name,
			Footprint: g,
			Region:    stringProp(f.Properties, "region", "lga_name"),
		})
	}
	return scene.DeduplicateUnits(units), nil
}

func stringProp(props map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := props[key]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err == nil && v != "" {
			return v
		}
	}
	return ""
}
