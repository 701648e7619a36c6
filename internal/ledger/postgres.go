package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/floodscope/acquirer/internal/scene"
)

//go:embed schema_postgres.sql
var schemaPostgres string

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// OpenPostgres connects to the PostgreSQL ledger and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(connectCtx, schemaPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log := slog.With("component", "ledger")
	log.Info("connected to PostgreSQL ledger")
	return &PostgresStore{pool: pool, log: log}, nil
}

// UpsertDownload inserts or updates a download record by image_id.
func (s *PostgresStore) UpsertDownload(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO image_downloads (
			image_id, unit_name, sensor, solar_day, utc_datetime,
			solar_datetime, cloud_fraction, valid_fraction, status, note,
			data_path, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (image_id)
		DO UPDATE SET
			cloud_fraction = EXCLUDED.cloud_fraction,
			valid_fraction = EXCLUDED.valid_fraction,
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			data_path = EXCLUDED.data_path,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		rec.ImageID,
		rec.UnitName,
		rec.Sensor,
		rec.SolarDay,
		nullableTime(rec.UTCTime),
		nullableTime(rec.SolarTime),
		rec.CloudFraction,
		rec.ValidFraction,
		rec.Status.Code(),
		rec.Note,
		rec.DataPath,
	)
	if err != nil {
		return fmt.Errorf("upsert download %s: %w", rec.ImageID, err)
	}
	return nil
}

// GetDownload returns the record for a key, or ErrNotFound.
func (s *PostgresStore) GetDownload(ctx context.Context, imageID string) (Record, error) {
	query := `
		SELECT image_id, COALESCE(unit_name, ''), COALESCE(sensor, ''),
		       COALESCE(solar_day, ''), COALESCE(utc_datetime, 'epoch'),
		       COALESCE(solar_datetime, 'epoch'), COALESCE(cloud_fraction, -1),
		       COALESCE(valid_fraction, 0), status, COALESCE(note, ''),
		       COALESCE(data_path, ''), updated_at
		FROM image_downloads
		WHERE image_id = $1
	`

	var rec Record
	var code int
	err := s.pool.QueryRow(ctx, query, imageID).Scan(
		&rec.ImageID, &rec.UnitName, &rec.Sensor, &rec.SolarDay,
		&rec.UTCTime, &rec.SolarTime, &rec.CloudFraction,
		&rec.ValidFraction, &code, &rec.Note, &rec.DataPath, &rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get download %s: %w", imageID, err)
	}
	rec.Status = StatusFromCode(code)
	return rec, nil
}

// SetStatus updates the status and note of an existing record.
func (s *PostgresStore) SetStatus(ctx context.Context, imageID string, status Status, note string) error {
	query := `
		UPDATE image_downloads
		SET status = $1, note = $2, updated_at = NOW()
		WHERE image_id = $3
	`
	tag, err := s.pool.Exec(ctx, query, status.Code(), note, imageID)
	if err != nil {
		return fmt.Errorf("set status %s: %w", imageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status %s: %w", imageID, ErrNotFound)
	}
	return nil
}

// UnitsByRegion returns grid cells whose region attribute matches.
// Geometries are stored as WKT and parsed at this boundary.
func (s *PostgresStore) UnitsByRegion(ctx context.Context, regions []string) ([]scene.SpatialUnit, error) {
	query := `
		SELECT name, COALESCE(region, ''), geometry
		FROM grid_cells
		WHERE region = ANY($1)
		ORDER BY name
	`
	rows, err := s.pool.Query(ctx, query, regions)
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

// Close releases database connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ Store = (*PostgresStore)(nil)
