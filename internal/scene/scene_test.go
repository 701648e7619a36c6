package scene

import (
	"testing"
	"time"
)

func TestDeduplicateUnits(t *testing.T) {
	units := []SpatialUnit{
		{Name: "GRID001", Region: "first"},
		{Name: "GRID002"},
		{Name: "GRID001", Region: "second"},
		{Name: "GRID003"},
		{Name: "GRID002"},
	}

	out := DeduplicateUnits(units)
	if len(out) != 3 {
		t.Fatalf("got %d units, want 3", len(out))
	}
	if out[0].Name != "GRID001" || out[1].Name != "GRID002" || out[2].Name != "GRID003" {
		t.Errorf("unexpected order: %v", out)
	}
	// Keep-first semantics.
	if out[0].Region != "first" {
		t.Errorf("kept occurrence has region %q, want %q", out[0].Region, "first")
	}
}

func TestFixLandsatID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"1_LC08_L1TP_089083_20230310", "LC08_L1TP_089083_20230310"},
		{"2_LC09_L1GT_089083_20230310", "LC09_L1GT_089083_20230310"},
		{"LC08_L1TP_089083_20230310", "LC08_L1TP_089083_20230310"},
		{"1_S2A_MSIL1C", "1_S2A_MSIL1C"}, // prefix only stripped for Landsat
		{"20230310T000241_20230310T000239_T56HKJ", "20230310T000241_20230310T000239_T56HKJ"},
	}
	for _, tc := range cases {
		if got := FixLandsatID(tc.in); got != tc.want {
			t.Errorf("FixLandsatID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFamilyForSatellite(t *testing.T) {
	for sat, want := range map[string]SensorFamily{
		"S2A": SensorS2, "S2B": SensorS2,
		"LC08": SensorLandsat, "LC09": SensorLandsat,
	} {
		got, err := FamilyForSatellite(sat)
		if err != nil {
			t.Errorf("FamilyForSatellite(%q): %v", sat, err)
		}
		if got != want {
			t.Errorf("FamilyForSatellite(%q) = %q, want %q", sat, got, want)
		}
	}
	if _, err := FamilyForSatellite("SENTINEL1"); err == nil {
		t.Error("expected error for unsupported satellite")
	}
}

func TestCandidateSceneValidate(t *testing.T) {
	valid := testScene(t, "a", "S2A", "2023-03-10", PurposeFlood,
		time.Date(2023, 3, 10, 10, 0, 0, 0, time.UTC))
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid scene rejected: %v", err)
	}

	cases := map[string]func(*CandidateScene){
		"missing id":        func(s *CandidateScene) { s.ID = "" },
		"missing collection": func(s *CandidateScene) { s.Collection = "" },
		"bad satellite":     func(s *CandidateScene) { s.Satellite = "VIIRS" },
		"zero time":         func(s *CandidateScene) { s.UTCTime = time.Time{} },
		"missing solar day": func(s *CandidateScene) { s.SolarDay = "" },
		"bad purpose":       func(s *CandidateScene) { s.Purpose = "training" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := valid
			mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAssetID(t *testing.T) {
	s := CandidateScene{
		ID:         "2_LC08_L1TP_089083_20230310",
		Collection: "LANDSAT/LC08/C02/T1_TOA",
	}
	want := "LANDSAT/LC08/C02/T1_TOA/LC08_L1TP_089083_20230310"
	if got := s.AssetID(); got != want {
		t.Errorf("AssetID = %q, want %q", got, want)
	}
}
