// Package acquire orchestrates one acquisition run: discover candidate
// scenes over the area of interest, group them into export units, gate
// them on quality, submit export jobs and wait for the outcomes.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/floodscope/acquirer/internal/bucket"
	"github.com/floodscope/acquirer/internal/discovery"
	"github.com/floodscope/acquirer/internal/exporter"
	"github.com/floodscope/acquirer/internal/geo"
	"github.com/floodscope/acquirer/internal/ledger"
	"github.com/floodscope/acquirer/internal/logging"
	"github.com/floodscope/acquirer/internal/metrics"
	"github.com/floodscope/acquirer/internal/monitor"
	"github.com/floodscope/acquirer/internal/platform"
	"github.com/floodscope/acquirer/internal/quality"
	"github.com/floodscope/acquirer/internal/report"
	"github.com/floodscope/acquirer/internal/scene"
	"github.com/floodscope/acquirer/internal/window"
)

// Params wires the orchestrator's collaborators. The platform client
// is reached through the gate and the exporter; the orchestrator
// itself never talks to the platform directly.
type Params struct {
	Catalog  discovery.Catalog
	Store    ledger.Store
	Gate     *quality.Gate
	Exporter *exporter.Exporter
	Monitor  *monitor.Monitor
	Bucket   *bucket.Store

	Windows     []window.Window
	Collections []string
	AOIFile     string
	Regions     []string
	GridName    string
	WaterYear   int
}

// Acquirer runs the acquisition pipeline end to end.
type Acquirer struct {
	p      Params
	router *window.Router
	log    *slog.Logger
}

// New validates the acquisition windows and builds the orchestrator.
func New(p Params) (*Acquirer, error) {
	router, err := window.NewRouter(p.Windows)
	if err != nil {
		return nil, fmt.Errorf("configure acquisition windows: %w", err)
	}
	if p.AOIFile == "" && len(p.Regions) == 0 {
		return nil, errors.New("no area of interest configured")
	}
	return &Acquirer{
		p:      p,
		router: router,
		log:    slog.With("component", "acquire"),
	}, nil
}

// Run executes one acquisition pass and returns the run report. The
// pipeline is resumable: re-running after an interruption skips units
// the ledger already marks complete and re-attaches to jobs still
// active on the platform.
func (a *Acquirer) Run(ctx context.Context) (*report.RunReport, error) {
	runID := logging.GenerateRunID()
	ctx = logging.WithRunID(ctx, runID)
	log := a.log.With("run_id", runID)

	rep := &report.RunReport{RunID: runID, StartedAt: time.Now().UTC()}

	units, err := a.resolveUnits(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("resolved spatial units", "units", len(units))

	scenes, err := a.discover(ctx, units)
	if err != nil {
		return nil, err
	}
	rep.Discovered = len(scenes)

	joins, err := discovery.JoinUnits(units, scenes)
	if err != nil {
		return nil, fmt.Errorf("spatial join: %w", err)
	}

	groups, err := scene.Group(joins)
	if err != nil {
		return nil, fmt.Errorf("group scenes: %w", err)
	}
	rep.Grouped = len(groups)
	log.Info("grouped export units", "scenes", len(scenes), "units", len(groups))
	if m := metrics.Get(); m != nil {
		for _, eu := range groups {
			m.UnitsGrouped.WithLabelValues(string(eu.Sensor), string(eu.Purpose)).Inc()
		}
	}

	unitsByName := make(map[string]scene.SpatialUnit, len(units))
	for _, u := range units {
		unitsByName[u.Name] = u
	}

	var (
		handles []platform.JobHandle
		touched []string
	)
	for _, eu := range groups {
		result, filtered, err := a.processUnit(ctx, unitsByName[eu.Unit], eu)
		if err != nil {
			// One broken unit must not abandon the rest of the event.
			log.Error("unit processing failed", "description", eu.Description(), "error", err)
			rep.Failed++
			continue
		}
		touched = append(touched, eu.Description())
		switch {
		case filtered:
			rep.Filtered++
		case result.Skipped:
			rep.Skipped++
			if m := metrics.Get(); m != nil {
				m.JobsSkipped.WithLabelValues(string(eu.Sensor)).Inc()
			}
		default:
			rep.Submitted++
			handles = append(handles, result.Handle)
			if m := metrics.Get(); m != nil {
				m.JobsSubmitted.WithLabelValues(string(eu.Sensor)).Inc()
			}
		}
	}

	for _, u := range units {
		result, err := a.p.Exporter.EnsureWaterLayer(ctx, u, a.p.WaterYear)
		if err != nil {
			log.Error("water layer submission failed", "unit", u.Name, "error", err)
			rep.Failed++
			continue
		}
		touched = append(touched, u.Name+exporter.WaterLayerSuffix)
		if result.Skipped {
			rep.Skipped++
		} else {
			rep.Submitted++
			handles = append(handles, result.Handle)
		}
	}

	if m := metrics.Get(); m != nil {
		m.JobsPending.Set(float64(len(handles)))
	}

	// Submission is done: snapshot every job's status now so external
	// tooling can follow the run while the monitor polls.
	rep.Jobs = a.jobStatuses(ctx, handles)
	if a.p.Bucket != nil {
		if _, err := report.WriteSnapshot(ctx, a.p.Bucket, time.Now().UTC(), rep); err != nil {
			log.Warn("failed to write submission snapshot", "error", err)
		}
	}

	summary, err := a.p.Monitor.Wait(ctx, handles)
	if err != nil {
		return nil, fmt.Errorf("monitor jobs: %w", err)
	}
	rep.Completed = summary.Completed
	rep.Failed += summary.Failed + summary.Cancelled
	rep.FinishedAt = time.Now().UTC()
	rep.Jobs = a.jobStatuses(ctx, handles)

	a.writeArtifacts(ctx, rep, touched)
	return rep, nil
}

// jobStatuses queries every handle for the snapshot's job list. A
// handle whose status is unavailable is left out rather than holding
// up the run.
func (a *Acquirer) jobStatuses(ctx context.Context, handles []platform.JobHandle) []report.JobRecord {
	records := make([]report.JobRecord, 0, len(handles))
	for _, h := range handles {
		status, err := h.Status(ctx)
		if err != nil {
			a.log.Warn("job status unavailable for snapshot", "error", err)
			continue
		}
		records = append(records, report.JobRecord{
			Description: status.Description,
			State:       status.State,
			Error:       status.Error,
		})
	}
	return records
}

// resolveUnits loads the spatial units from the AOI file or the grid
// table and deduplicates them by name.
func (a *Acquirer) resolveUnits(ctx context.Context) ([]scene.SpatialUnit, error) {
	var (
		units []scene.SpatialUnit
		err   error
	)
	if a.p.AOIFile != "" {
		units, err = a.p.Bucket.ReadAOI(ctx, a.p.AOIFile)
	} else {
		units, err = a.p.Store.UnitsByRegion(ctx, a.p.Regions)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve spatial units: %w", err)
	}
	units = scene.DeduplicateUnits(units)
	if a.p.GridName != "" {
		// Exact match: a debug run names one grid cell and must not
		// silently widen to near-namesakes.
		filtered := units[:0]
		for _, u := range units {
			if u.Name == a.p.GridName {
				filtered = append(filtered, u)
			}
		}
		units = filtered
	}
	if len(units) == 0 {
		return nil, errors.New("area of interest resolved to zero spatial units")
	}
	return units, nil
}

// discover queries the catalog once per acquisition window over the
// merged area of interest, then routes every returned scene back
// through the window table so its purpose is authoritative.
func (a *Acquirer) discover(ctx context.Context, units []scene.SpatialUnit) ([]scene.CandidateScene, error) {
	region, err := mergedFootprint(units)
	if err != nil {
		return nil, err
	}

	var all []scene.CandidateScene
	for _, w := range a.router.Windows() {
		scenes, err := a.p.Catalog.Scenes(ctx, discovery.Query{
			Collections: a.p.Collections,
			RegionWKT:   region,
			Start:       w.Start,
			End:         w.End,
			Purpose:     w.Purpose,
		})
		if err != nil {
			if m := metrics.Get(); m != nil {
				m.CatalogErrors.Inc()
			}
			return nil, fmt.Errorf("discover %s scenes: %w", w.Purpose, err)
		}

		for _, s := range scenes {
			routed, err := a.router.Route(s.UTCTime)
			if err != nil {
				a.log.Warn("scene outside all acquisition windows, dropping",
					"id", s.ID, "utc_time", s.UTCTime)
				continue
			}
			s.Purpose = routed.Purpose
			all = append(all, s)
			if m := metrics.Get(); m != nil {
				family, ferr := scene.FamilyForSatellite(s.Satellite)
				if ferr == nil {
					m.ScenesDiscovered.WithLabelValues(string(family), string(s.Purpose)).Inc()
				}
			}
		}
	}
	return all, nil
}

// processUnit takes one export unit through the ledger check, the
// quality gate and submission. The returned bool reports a quality
// rejection.
func (a *Acquirer) processUnit(ctx context.Context, unit scene.SpatialUnit, eu *scene.ExportUnit) (exporter.Result, bool, error) {
	desc := eu.Description()
	log := a.log.With("description", desc)

	// The ledger check comes before any remote computation so resumed
	// runs are cheap.
	rec, err := a.p.Store.GetDownload(ctx, desc)
	switch {
	case err == nil && rec.Status == ledger.StatusComplete:
		log.Info("already acquired, skipping")
		return exporter.Result{Description: desc, Skipped: true, Reason: "already acquired"}, false, nil
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return exporter.Result{}, false, fmt.Errorf("ledger lookup %s: %w", desc, err)
	}

	decision, err := a.p.Gate.Evaluate(ctx, unit, eu)
	if err != nil {
		return exporter.Result{}, false, err
	}
	if !decision.Export {
		if err := a.p.Exporter.RecordFiltered(ctx, eu, decision); err != nil {
			return exporter.Result{}, false, err
		}
		if m := metrics.Get(); m != nil {
			m.UnitsFiltered.WithLabelValues(string(eu.Sensor), string(eu.Purpose)).Inc()
		}
		return exporter.Result{Description: desc, Reason: decision.Reason}, true, nil
	}
	if m := metrics.Get(); m != nil {
		m.UnitsApproved.WithLabelValues(string(eu.Sensor), string(eu.Purpose)).Inc()
	}

	result, err := a.p.Exporter.Export(ctx, unit, eu, decision)
	if err != nil {
		return exporter.Result{}, false, err
	}
	return result, false, nil
}

// writeArtifacts records the run snapshot and scene inventory. Both
// are best effort; the ledger already holds the authoritative state.
func (a *Acquirer) writeArtifacts(ctx context.Context, rep *report.RunReport, touched []string) {
	if a.p.Bucket == nil {
		return
	}

	if _, err := report.WriteSnapshot(ctx, a.p.Bucket, rep.FinishedAt, rep); err != nil {
		a.log.Warn("failed to write run snapshot", "error", err)
	}

	records := make([]ledger.Record, 0, len(touched))
	seen := make(map[string]bool, len(touched))
	for _, key := range touched {
		if seen[key] {
			continue
		}
		seen[key] = true
		rec, err := a.p.Store.GetDownload(ctx, key)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return
	}
	if _, err := report.WriteInventory(ctx, a.p.Bucket, rep.FinishedAt, records); err != nil {
		a.log.Warn("failed to write scene inventory", "error", err)
	}
}

func mergedFootprint(units []scene.SpatialUnit) (string, error) {
	footprints := make([]geom.Geometry, len(units))
	for i, u := range units {
		footprints[i] = u.Footprint
	}
	merged, err := geo.UnionAll(footprints)
	if err != nil {
		return "", fmt.Errorf("merge unit footprints: %w", err)
	}
	return merged.AsText(), nil
}
