package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/floodscope/acquirer/internal/bucket"
	"github.com/floodscope/acquirer/internal/ledger"
	"github.com/floodscope/acquirer/internal/platform"
)

func openStore(t *testing.T) *bucket.Store {
	t.Helper()
	store, err := bucket.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWriteSnapshot(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	finished := time.Date(2023, 3, 12, 4, 30, 15, 0, time.UTC)
	rep := &RunReport{
		RunID:      "run-1",
		StartedAt:  finished.Add(-time.Hour),
		FinishedAt: finished,
		Submitted:  2,
		Completed:  1,
		Failed:     1,
		Jobs: []JobRecord{
			{Description: "GRID001_S2_2023-03-10", State: platform.JobStateCompleted},
			{Description: "GRID002_S2_2023-03-10", State: platform.JobStateFailed, Error: "quota exceeded"},
		},
	}

	key, err := WriteSnapshot(ctx, store, finished, rep)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if key != "runs/2023-03-12T043015_jobs.json" {
		t.Errorf("key = %s", key)
	}

	data, err := store.ReadAll(ctx, key)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var got RunReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got.RunID != "run-1" || len(got.Jobs) != 2 {
		t.Errorf("snapshot round trip: %+v", got)
	}
	if got.Jobs[1].Error != "quota exceeded" {
		t.Errorf("job error lost: %+v", got.Jobs[1])
	}
}

func TestWriteInventory(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	finished := time.Date(2023, 3, 12, 4, 30, 15, 0, time.UTC)
	records := []ledger.Record{
		{
			ImageID:       "GRID001_S2_2023-03-10",
			UnitName:      "GRID001",
			Sensor:        "S2",
			SolarDay:      "2023-03-10",
			UTCTime:       time.Date(2023, 3, 10, 23, 50, 0, 0, time.UTC),
			CloudFraction: 0.2,
			ValidFraction: 0.9,
			Status:        ledger.StatusComplete,
			DataPath:      "gs://floods/GRID/GRID001/S2/2023-03-10.tif",
		},
		{
			ImageID:  "GRID002_S2_2023-03-10",
			UnitName: "GRID002",
			Status:   ledger.StatusFiltered,
			Note:     "cloud fraction 0.990 above 0.950",
		},
	}

	key, err := WriteInventory(ctx, store, finished, records)
	if err != nil {
		t.Fatalf("WriteInventory: %v", err)
	}

	data, err := store.ReadAll(ctx, key)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	rows, err := parquet.Read[InventoryRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ImageID != "GRID001_S2_2023-03-10" || rows[0].Status != 1 {
		t.Errorf("row 0: %+v", rows[0])
	}
	// Filtered rows keep the legacy wire code and the reason.
	if rows[1].Status != 0 || rows[1].Note == "" {
		t.Errorf("row 1: %+v", rows[1])
	}
}
