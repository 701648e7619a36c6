// Package bucket handles the object-store side of an acquisition run:
// the destination layout for exported rasters, the area-of-interest
// file and the per-run snapshot artifacts.
package bucket

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"github.com/floodscope/acquirer/internal/scene"
)

// Store is a thin wrapper over a blob bucket rooted at the run's
// storage prefix.
type Store struct {
	bucket    *blob.Bucket
	bucketURL string
}

// Open opens the bucket behind a gs://, s3:// or file:// URL. A bare
// filesystem path is treated as a local directory.
func Open(ctx context.Context, rawURL string) (*Store, error) {
	url := rawURL
	if !strings.Contains(url, "://") {
		url = "file://" + url
	}

	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", rawURL, err)
	}
	return &Store{bucket: bucket, bucketURL: strings.TrimSuffix(url, "/")}, nil
}

// URI returns the canonical URI for a key within the bucket.
func (s *Store) URI(key string) string {
	return s.bucketURL + "/" + key
}

// ReadAll reads a whole object.
func (s *Store) ReadAll(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// WriteAll writes a whole object, replacing any existing content.
func (s *Store) WriteAll(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Exists checks whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Close releases the bucket connection.
func (s *Store) Close() error {
	if s == nil || s.bucket == nil {
		return nil
	}
	return s.bucket.Close()
}

// ExportRef locates one exported raster in the grid layout.
type ExportRef struct {
	Unit     string
	Sensor   scene.SensorFamily
	SolarDay string
}

// Key returns the object key for the raster:
// GRID/<unit>/<sensor>/<solarday>.tif
func (r ExportRef) Key() string {
	return fmt.Sprintf("GRID/%s/%s/%s.tif", r.Unit, r.Sensor, r.SolarDay)
}

// WaterKey returns the object key for a unit's yearly permanent-water
// layer: GRID/<unit>/PERMANENTWATERJRC/<year>.tif
func WaterKey(unit string, year int) string {
	return fmt.Sprintf("GRID/%s/PERMANENTWATERJRC/%d.tif", unit, year)
}
