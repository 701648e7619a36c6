package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/floodscope/acquirer/internal/scene"
)

func TestResolveDefaults(t *testing.T) {
	table := DefaultBands()

	tests := []struct {
		config string
		family scene.SensorFamily
		want   int
		first  string
	}{
		{"bgriswirs", scene.SensorS2, 6, "B2"},
		{"bgriswirs", scene.SensorLandsat, 6, "B2"},
		{"all", scene.SensorS2, 13, "B1"},
		{"all", scene.SensorLandsat, 11, "B1"},
	}
	for _, tt := range tests {
		channels, err := table.Resolve(tt.config, tt.family)
		if err != nil {
			t.Fatalf("Resolve(%s, %s): %v", tt.config, tt.family, err)
		}
		if len(channels) != tt.want {
			t.Errorf("Resolve(%s, %s) = %d channels, want %d", tt.config, tt.family, len(channels), tt.want)
		}
		if channels[0] != tt.first {
			t.Errorf("Resolve(%s, %s)[0] = %s, want %s", tt.config, tt.family, channels[0], tt.first)
		}
	}

	if _, err := table.Resolve("nope", scene.SensorS2); err == nil {
		t.Error("unknown configuration accepted")
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	table := DefaultBands()
	a, err := table.Resolve("bgriswirs", scene.SensorS2)
	if err != nil {
		t.Fatal(err)
	}
	a[0] = "MUTATED"

	b, err := table.Resolve("bgriswirs", scene.SensorS2)
	if err != nil {
		t.Fatal(err)
	}
	if b[0] == "MUTATED" {
		t.Error("Resolve shares backing array with caller")
	}
}

func TestLoadBandTableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.yaml")
	override := `
rgb:
  S2: ["B4", "B3", "B2"]
bgriswirs:
  S2: ["B2", "B3"]
  Landsat: ["B2", "B3"]
`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadBandTable(path)
	if err != nil {
		t.Fatalf("LoadBandTable: %v", err)
	}

	// The new configuration is visible.
	rgb, err := table.Resolve("rgb", scene.SensorS2)
	if err != nil || len(rgb) != 3 {
		t.Fatalf("rgb = %v, %v", rgb, err)
	}

	// The override replaces the shipped configuration entirely.
	short, err := table.Resolve("bgriswirs", scene.SensorS2)
	if err != nil || len(short) != 2 {
		t.Fatalf("bgriswirs = %v, %v", short, err)
	}

	// Untouched configurations survive the merge.
	if _, err := table.Resolve("all", scene.SensorLandsat); err != nil {
		t.Errorf("all lost in merge: %v", err)
	}
}
