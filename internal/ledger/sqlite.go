package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	_ "modernc.org/sqlite"

	"github.com/floodscope/acquirer/internal/scene"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

// SQLiteStore implements Store using a local SQLite database. Useful
// for single-operator deployments and tests where running PostgreSQL
// is overkill.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens or creates the SQLite ledger at the given path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log := slog.With("component", "ledger")
	log.Info("opened SQLite ledger", "path", path)
	return &SQLiteStore{db: db, log: log}, nil
}

// UpsertDownload inserts or updates a download record by image_id.
func (s *SQLiteStore) UpsertDownload(ctx context.Context, rec Record) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO image_downloads (
			image_id, unit_name, sensor, solar_day, utc_datetime,
			solar_datetime, cloud_fraction, valid_fraction, status, note,
			data_path, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (image_id)
		DO UPDATE SET
			cloud_fraction = excluded.cloud_fraction,
			valid_fraction = excluded.valid_fraction,
			status = excluded.status,
			note = excluded.note,
			data_path = excluded.data_path,
			updated_at = excluded.updated_at`,
		rec.ImageID,
		rec.UnitName,
		rec.Sensor,
		rec.SolarDay,
		formatTime(rec.UTCTime),
		formatTime(rec.SolarTime),
		rec.CloudFraction,
		rec.ValidFraction,
		rec.Status.Code(),
		rec.Note,
		rec.DataPath,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert download %s: %w", rec.ImageID, err)
	}
	return nil
}

// GetDownload returns the record for a key, or ErrNotFound.
func (s *SQLiteStore) GetDownload(ctx context.Context, imageID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT image_id, COALESCE(unit_name, ''), COALESCE(sensor, ''),
		       COALESCE(solar_day, ''), COALESCE(utc_datetime, ''),
		       COALESCE(solar_datetime, ''), COALESCE(cloud_fraction, -1),
		       COALESCE(valid_fraction, 0), status, COALESCE(note, ''),
		       COALESCE(data_path, ''), updated_at
		FROM image_downloads
		WHERE image_id = ?`, imageID)

	var rec Record
	var code int
	var utcStr, solarStr, updatedStr string
	err := row.Scan(
		&rec.ImageID, &rec.UnitName, &rec.Sensor, &rec.SolarDay,
		&utcStr, &solarStr, &rec.CloudFraction, &rec.ValidFraction,
		&code, &rec.Note, &rec.DataPath, &updatedStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get download %s: %w", imageID, err)
	}
	rec.Status = StatusFromCode(code)
	rec.UTCTime = parseTime(utcStr)
	rec.SolarTime = parseTime(solarStr)
	rec.UpdatedAt = parseTime(updatedStr)
	return rec, nil
}

// SetStatus updates the status and note of an existing record.
func (s *SQLiteStore) SetStatus(ctx context.Context, imageID string, status Status, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE image_downloads
		SET status = ?, note = ?, updated_at = ?
		WHERE image_id = ?`,
		status.Code(), note, time.Now().UTC().Format(time.RFC3339Nano), imageID)
	if err != nil {
		return fmt.Errorf("set status %s: %w", imageID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status %s: %w", imageID, err)
	}
	if affected == 0 {
		return fmt.Errorf("set status %s: %w", imageID, ErrNotFound)
	}
	return nil
}

// UnitsByRegion returns grid cells whose region attribute matches.
func (s *SQLiteStore) UnitsByRegion(ctx context.Context, regions []string) ([]scene.SpatialUnit, error) {
	if len(regions) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(regions)), ",")
	args := make([]any, len(regions))
	for i, r := range regions {
		args[i] = r
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, COALESCE(region, ''), geometry
		FROM grid_cells
		WHERE region IN (%s)
		ORDER BY name`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query grid cells: %w", err)
	}
	defer rows.Close()

	var units []scene.SpatialUnit
	for rows.Next() {
		var name, region, wkt string
		if err := rows.Scan(&name, &region, &wkt); err != nil {
			return nil, fmt.Errorf("scan grid cell: %w", err)
		}
		g, err := geom.UnmarshalWKT(wkt)
		if err != nil {
			return nil, fmt.Errorf("parse geometry for grid cell %s: %w", name, err)
		}
		units = append(units, scene.SpatialUnit{Name: name, Region: region, Footprint: g})
	}
	return units, rows.Err()
}

// InsertGridCell registers a spatial unit in the grid table. Exposed
// for tests and bootstrap tooling.
func (s *SQLiteStore) InsertGridCell(ctx context.Context, name, region, wkt string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_cells (name, region, geometry) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET region = excluded.region, geometry = excluded.geometry`,
		name, region, wkt)
	if err != nil {
		return fmt.Errorf("insert grid cell %s: %w", name, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Store = (*SQLiteStore)(nil)
