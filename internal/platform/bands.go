package platform

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/floodscope/acquirer/internal/scene"
)

// BandTable maps a channel-configuration name and sensor family to the
// concrete channel list requested from the platform.
type BandTable map[string]map[scene.SensorFamily][]string

// defaultBands covers the shipped channel configurations. "bgriswirs"
// is the blue/green/red/infrared/short-wave-infrared subset used for
// flood mapping; "all" requests every reflectance band.
var defaultBands = BandTable{
	"bgriswirs": {
		scene.SensorS2:      {"B2", "B3", "B4", "B8", "B11", "B12"},
		scene.SensorLandsat: {"B2", "B3", "B4", "B5", "B6", "B7"},
	},
	"all": {
		scene.SensorS2: {
			"B1", "B2", "B3", "B4", "B5", "B6", "B7",
			"B8", "B8A", "B9", "B10", "B11", "B12",
		},
		scene.SensorLandsat: {
			"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8", "B9", "B10", "B11",
		},
	},
}

// DefaultBands returns the shipped band table.
func DefaultBands() BandTable {
	return defaultBands
}

// LoadBandTable reads a band table override from a YAML file and merges
// it over the defaults. Configurations present in the file replace the
// shipped ones; others are kept.
func LoadBandTable(path string) (BandTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read band table: %w", err)
	}

	var override BandTable
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse band table: %w", err)
	}

	merged := make(BandTable, len(defaultBands)+len(override))
	for name, families := range defaultBands {
		merged[name] = families
	}
	for name, families := range override {
		merged[name] = families
	}
	return merged, nil
}

// Resolve returns the channel list for a configuration and sensor
// family. The returned slice is a copy; callers may append auxiliary
// channels (cloud probability, QA) without mutating the table.
func (t BandTable) Resolve(config string, family scene.SensorFamily) ([]string, error) {
	families, ok := t[config]
	if !ok {
		return nil, fmt.Errorf("unknown channel configuration %q (have %v)", config, t.Names())
	}
	channels, ok := families[family]
	if !ok {
		return nil, fmt.Errorf("channel configuration %q has no bands for sensor %q", config, family)
	}
	out := make([]string, len(channels))
	copy(out, channels)
	return out, nil
}

// Names lists the known configuration names, sorted.
func (t BandTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
