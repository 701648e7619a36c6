// Package exporter turns quality-approved export units into remote
// raster export jobs and records their provisional state in the
// ledger.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/floodscope/acquirer/internal/bucket"
	"github.com/floodscope/acquirer/internal/geo"
	"github.com/floodscope/acquirer/internal/ledger"
	"github.com/floodscope/acquirer/internal/platform"
	"github.com/floodscope/acquirer/internal/quality"
	"github.com/floodscope/acquirer/internal/scene"
)

// maxPixels bounds the remote computation per export job.
const maxPixels = 5_000_000_000

// WaterLayerSuffix is the ledger key suffix for the yearly
// permanent-water layer of a spatial unit. The remote job description
// additionally carries the year.
const WaterLayerSuffix = "_PERMANENTWATERJRC"

// scaleForSensor returns the export resolution in meters.
func scaleForSensor(family scene.SensorFamily) int {
	if family == scene.SensorLandsat {
		return 30
	}
	return 10
}

// Result describes what happened to one export unit.
type Result struct {
	Description string
	Handle      platform.JobHandle // nil when skipped
	Skipped     bool
	Reason      string
}

// Exporter submits export jobs and keeps the ledger in step.
type Exporter struct {
	client      platform.Client
	store       ledger.Store
	bands       platform.BandTable
	channelCfg  string
	destination string // bucket URL prefix exports are written under
	log         *slog.Logger
}

// New builds an exporter writing under the given destination prefix.
func New(client platform.Client, store ledger.Store, bands platform.BandTable, channelCfg, destination string) *Exporter {
	return &Exporter{
		client:      client,
		store:       store,
		bands:       bands,
		channelCfg:  channelCfg,
		destination: destination,
		log:         slog.With("component", "exporter"),
	}
}

// BuildSpec assembles the export request for a unit: the mosaic of its
// member scenes, clipped to the grid cell, reprojected to the cell's
// UTM zone at the sensor's native resolution, written as a
// cloud-optimized uint16 GeoTIFF.
func (e *Exporter) BuildSpec(unit scene.SpatialUnit, eu *scene.ExportUnit) (platform.ExportSpec, error) {
	channels, err := e.bands.Resolve(e.channelCfg, eu.Sensor)
	if err != nil {
		return platform.ExportSpec{}, fmt.Errorf("build spec %s: %w", eu.Description(), err)
	}

	lon, lat, err := geo.Centroid(unit.Footprint)
	if err != nil {
		return platform.ExportSpec{}, fmt.Errorf("build spec %s: %w", eu.Description(), err)
	}

	assetIDs := make([]string, len(eu.Scenes))
	for i, s := range eu.Scenes {
		assetIDs[i] = s.AssetID()
	}

	ref := bucket.ExportRef{Unit: eu.Unit, Sensor: eu.Sensor, SolarDay: eu.SolarDay}
	return platform.ExportSpec{
		Description:    eu.Description(),
		AssetIDs:       assetIDs,
		Channels:       channels,
		CRS:            geo.UTMEPSG(lon, lat),
		ScaleMeters:    scaleForSensor(eu.Sensor),
		ClipWKT:        unit.Footprint.AsText(),
		Destination:    e.destination + "/" + ref.Key(),
		CloudOptimized: true,
		UnsignedInt16:  true,
		SkipEmptyTiles: true,
		MaxPixels:      maxPixels,
	}, nil
}

// Export submits the export job for an approved unit, unless a job
// with the same description is already active on the platform. On
// submission the ledger records the unit as in progress so an
// interrupted run resumes by polling rather than resubmitting.
func (e *Exporter) Export(ctx context.Context, unit scene.SpatialUnit, eu *scene.ExportUnit, d quality.Decision) (Result, error) {
	desc := eu.Description()

	active, err := e.client.IsTaskRunning(ctx, desc)
	if err != nil {
		return Result{}, fmt.Errorf("export %s: %w", desc, err)
	}
	if active {
		e.log.Info("export job already active, skipping submission", "description", desc)
		return Result{Description: desc, Skipped: true, Reason: "job already active"}, nil
	}

	spec, err := e.BuildSpec(unit, eu)
	if err != nil {
		return Result{}, err
	}

	handle, err := e.client.Submit(ctx, spec)
	if err != nil {
		return Result{}, fmt.Errorf("export %s: %w", desc, err)
	}

	rec := ledger.Record{
		ImageID:       desc,
		UnitName:      eu.Unit,
		Sensor:        string(eu.Sensor),
		SolarDay:      eu.SolarDay,
		UTCTime:       time.Unix(eu.MeanUTCTime(), 0).UTC(),
		SolarTime:     eu.Scenes[0].SolarTime,
		CloudFraction: d.CloudFraction,
		ValidFraction: d.ValidFraction,
		Status:        ledger.StatusInProgress,
		DataPath:      spec.Destination,
	}
	if err := e.store.UpsertDownload(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("record submission %s: %w", desc, err)
	}

	return Result{Description: desc, Handle: handle}, nil
}

// RecordFiltered writes a rejected unit to the ledger with its
// measured fractions and the gate's reason. Filtered units share the
// legacy wire code with failures; the note disambiguates.
func (e *Exporter) RecordFiltered(ctx context.Context, eu *scene.ExportUnit, d quality.Decision) error {
	rec := ledger.Record{
		ImageID:       eu.Description(),
		UnitName:      eu.Unit,
		Sensor:        string(eu.Sensor),
		SolarDay:      eu.SolarDay,
		UTCTime:       time.Unix(eu.MeanUTCTime(), 0).UTC(),
		CloudFraction: d.CloudFraction,
		ValidFraction: d.ValidFraction,
		Status:        ledger.StatusFiltered,
		Note:          d.Reason,
	}
	if len(eu.Scenes) > 0 {
		rec.SolarTime = eu.Scenes[0].SolarTime
	}
	if err := e.store.UpsertDownload(ctx, rec); err != nil {
		return fmt.Errorf("record filtered %s: %w", eu.Description(), err)
	}
	return nil
}

// EnsureWaterLayer submits the yearly permanent-water export for a
// unit when the ledger has no completed copy and no job is active.
// The ledger key omits the year; the job description carries it. A
// record left in progress by an earlier run is resubmitted unless its
// job is still active on the platform.
func (e *Exporter) EnsureWaterLayer(ctx context.Context, unit scene.SpatialUnit, year int) (Result, error) {
	key := unit.Name + WaterLayerSuffix
	desc := fmt.Sprintf("%s_%d", key, year)

	rec, err := e.store.GetDownload(ctx, key)
	switch {
	case err == nil && rec.Status == ledger.StatusComplete:
		return Result{Description: desc, Skipped: true, Reason: "already acquired"}, nil
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return Result{}, fmt.Errorf("water layer %s: %w", key, err)
	}

	active, err := e.client.IsTaskRunning(ctx, desc)
	if err != nil {
		return Result{}, fmt.Errorf("water layer %s: %w", key, err)
	}
	if active {
		return Result{Description: desc, Skipped: true, Reason: "job already active"}, nil
	}

	lon, lat, err := geo.Centroid(unit.Footprint)
	if err != nil {
		return Result{}, fmt.Errorf("water layer %s: %w", key, err)
	}

	handle, err := e.client.ExportPermanentWater(ctx, platform.WaterExportSpec{
		Description: desc,
		Year:        year,
		ClipWKT:     unit.Footprint.AsText(),
		CRS:         geo.UTMEPSG(lon, lat),
		Destination: e.destination + "/" + bucket.WaterKey(unit.Name, year),
	})
	if err != nil {
		return Result{}, fmt.Errorf("water layer %s: %w", key, err)
	}

	err = e.store.UpsertDownload(ctx, ledger.Record{
		ImageID:  key,
		UnitName: unit.Name,
		Sensor:   "PERMANENTWATERJRC",
		Status:   ledger.StatusInProgress,
		DataPath: e.destination + "/" + bucket.WaterKey(unit.Name, year),
	})
	if err != nil {
		return Result{}, fmt.Errorf("record water layer %s: %w", key, err)
	}
	return Result{Description: desc, Handle: handle}, nil
}
