// Package platform is the client boundary to the remote Earth-observation
// job platform: asynchronous raster export jobs, per-unit pixel-count
// computations and job status queries.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job handle no longer resolves.
var ErrJobNotFound = errors.New("job not found")

// JobState is the platform-reported lifecycle state of a job.
type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// JobStatus is a point-in-time snapshot of a remote job.
type JobStatus struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	State       JobState  `json:"state"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobHandle is an opaque reference to an asynchronous remote job. Its
// outcome is projected onto the ledger; the handle itself is never
// persisted.
type JobHandle interface {
	// IsActive reports whether the job is still pending or running.
	IsActive(ctx context.Context) (bool, error)

	// Status returns the current job snapshot.
	Status(ctx context.Context) (JobStatus, error)
}

// ExportSpec describes one raster export request. When more than one
// asset is listed the platform mosaics them before clipping.
type ExportSpec struct {
	Description    string   `json:"description"`
	AssetIDs       []string `json:"asset_ids"`
	Channels       []string `json:"channels"`
	CRS            string   `json:"crs"`
	ScaleMeters    int      `json:"scale_meters"`
	ClipWKT        string   `json:"clip_wkt"`
	Destination    string   `json:"destination"`
	CloudOptimized bool     `json:"cloud_optimized"`
	UnsignedInt16  bool     `json:"uint16"`
	SkipEmptyTiles bool     `json:"skip_empty_tiles"`
	MaxPixels      int64    `json:"max_pixels"`
}

// WaterExportSpec requests the yearly permanent-water layer for one
// spatial unit.
type WaterExportSpec struct {
	Description string `json:"description"`
	Year        int    `json:"year"`
	ClipWKT     string `json:"clip_wkt"`
	CRS         string `json:"crs"`
	Destination string `json:"destination"`
}

// MetricsRequest asks the platform to count valid and cloudy pixels
// over the clipped mosaic of the listed assets.
type MetricsRequest struct {
	AssetIDs      []string `json:"asset_ids"`
	Channels      []string `json:"channels"`
	ClipWKT       string   `json:"clip_wkt"`
	WithCloudProb bool     `json:"with_cloud_prob"`
}

// CloudFractionUnknown is the sentinel reported when no cloud
// probability product is available for a request.
const CloudFractionUnknown = -1.0

// MetricsResult is the platform's pixel-count answer. CloudFraction is
// normalized to [0,1], or CloudFractionUnknown.
type MetricsResult struct {
	ValidFraction float64 `json:"valid_fraction"`
	CloudFraction float64 `json:"cloud_fraction"`
}

// Client is the consumed surface of the job platform.
type Client interface {
	// Submit requests an asynchronous raster export.
	Submit(ctx context.Context, spec ExportSpec) (JobHandle, error)

	// ExportPermanentWater requests the yearly auxiliary water layer.
	ExportPermanentWater(ctx context.Context, spec WaterExportSpec) (JobHandle, error)

	// IsTaskRunning reports whether a job with the given description is
	// currently active on the platform.
	IsTaskRunning(ctx context.Context, description string) (bool, error)

	// ComputeMetrics runs the remote pixel-count computation.
	ComputeMetrics(ctx context.Context, req MetricsRequest) (MetricsResult, error)
}
