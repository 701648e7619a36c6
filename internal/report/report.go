// Package report writes the per-run artifacts: a timestamped JSON
// snapshot of job outcomes and a parquet inventory of the ledger rows
// the run touched.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/floodscope/acquirer/internal/bucket"
	"github.com/floodscope/acquirer/internal/ledger"
	"github.com/floodscope/acquirer/internal/platform"
)

// JobRecord is one job outcome in the run snapshot.
type JobRecord struct {
	Description string            `json:"description"`
	State       platform.JobState `json:"state"`
	Error       string            `json:"error,omitempty"`
}

// RunReport is the JSON artifact written at the end of a run. A new
// timestamped file per run keeps the history of an event's
// acquisition attempts inspectable.
type RunReport struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Discovered int         `json:"scenes_discovered"`
	Grouped    int         `json:"units_grouped"`
	Filtered   int         `json:"units_filtered"`
	Submitted  int         `json:"jobs_submitted"`
	Skipped    int         `json:"jobs_skipped"`
	Completed  int         `json:"jobs_completed"`
	Failed     int         `json:"jobs_failed"`
	Jobs       []JobRecord `json:"jobs"`
}

// SnapshotKey returns the bucket key for a run snapshot.
func SnapshotKey(finishedAt time.Time) string {
	return fmt.Sprintf("runs/%s_jobs.json", finishedAt.UTC().Format("2006-01-02T150405"))
}

// WriteSnapshot writes the run report as indented JSON under a key
// derived from the given timestamp. It is written once when every job
// has been submitted, so external progress tooling can watch a run
// while it polls, and again with final outcomes when the run ends.
func WriteSnapshot(ctx context.Context, store *bucket.Store, at time.Time, report *RunReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run report: %w", err)
	}

	key := SnapshotKey(at)
	if err := store.WriteAll(ctx, key, data); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	slog.With("component", "report").Info("wrote run snapshot", "key", key, "jobs", len(report.Jobs))
	return key, nil
}

// InventoryRow is one ledger record in the parquet inventory.
type InventoryRow struct {
	ImageID       string    `parquet:"image_id"`
	UnitName      string    `parquet:"unit_name"`
	Sensor        string    `parquet:"sensor"`
	SolarDay      string    `parquet:"solar_day"`
	UTCTime       time.Time `parquet:"utc_datetime,timestamp(millisecond)"`
	CloudFraction float64   `parquet:"cloud_fraction"`
	ValidFraction float64   `parquet:"valid_fraction"`
	Status        int32     `parquet:"status"`
	Note          string    `parquet:"note"`
	DataPath      string    `parquet:"data_path"`
}

// InventoryKey returns the bucket key for a run's parquet inventory.
func InventoryKey(finishedAt time.Time) string {
	return fmt.Sprintf("runs/%s_inventory.parquet", finishedAt.UTC().Format("2006-01-02T150405"))
}

// WriteInventory writes the touched ledger records as a parquet file.
// Analysts join it against the grid to see what an event yielded
// without querying the ledger database.
func WriteInventory(ctx context.Context, store *bucket.Store, finishedAt time.Time, records []ledger.Record) (string, error) {
	rows := make([]InventoryRow, len(records))
	for i, rec := range records {
		rows[i] = InventoryRow{
			ImageID:       rec.ImageID,
			UnitName:      rec.UnitName,
			Sensor:        rec.Sensor,
			SolarDay:      rec.SolarDay,
			UTCTime:       rec.UTCTime,
			CloudFraction: rec.CloudFraction,
			ValidFraction: rec.ValidFraction,
			Status:        int32(rec.Status.Code()),
			Note:          rec.Note,
			DataPath:      rec.DataPath,
		}
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[InventoryRow](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return "", fmt.Errorf("write inventory rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close inventory writer: %w", err)
	}

	key := InventoryKey(finishedAt)
	if err := store.WriteAll(ctx, key, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write inventory: %w", err)
	}
	slog.With("component", "report").Info("wrote scene inventory", "key", key, "rows", len(rows))
	return key, nil
}
