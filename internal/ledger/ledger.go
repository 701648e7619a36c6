// Package ledger persists one download record per export unit. The
// ledger is the single source of truth for resumability: completed
// records are skipped on re-runs, in-progress records are reattempted.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/floodscope/acquirer/internal/scene"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("ledger record not found")

// Status is the download lifecycle state of an export unit.
//
// The persisted numeric code keeps the legacy three-valued scheme so
// existing reporting tools keep working: 0 = not downloaded, -1 =
// submitted or previously failed, 1 = completed. Failed and Filtered
// both map to code 0; the distinction is preserved in the record's
// Note field.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusComplete
	StatusFailed
	StatusFiltered
)

// Code returns the persisted numeric status code.
func (s Status) Code() int {
	switch s {
	case StatusInProgress:
		return -1
	case StatusComplete:
		return 1
	default:
		return 0
	}
}

// StatusFromCode maps a persisted code back to a Status. Code 0 is
// ambiguous (pending, filtered or failed all persist as 0); callers
// that need the distinction read the record's Note.
func StatusFromCode(code int) Status {
	switch code {
	case -1:
		return StatusInProgress
	case 1:
		return StatusComplete
	default:
		return StatusPending
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusFiltered:
		return "filtered"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Record is one durable row keyed by a globally unique description
// string: <unit>_<sensor>_<solarday>, or <unit>_PERMANENTWATERJRC for
// the yearly auxiliary water layer.
type Record struct {
	ImageID       string
	UnitName      string
	Sensor        string
	SolarDay      string
	UTCTime       time.Time
	SolarTime     time.Time
	CloudFraction float64 // mean cloud probability over valid pixels, -1 unknown
	ValidFraction float64 // fraction of the unit covered by valid pixels
	Status        Status
	Note          string
	DataPath      string
	UpdatedAt     time.Time
}

// Store is the durable download ledger. All writes are single-row
// upserts keyed by ImageID; the storage layer provides the atomic
// upsert-on-conflict semantics, the orchestrator adds no locking.
type Store interface {
	// UpsertDownload inserts the record or, on key conflict, updates
	// its metrics, status, note and data path. Never duplicates rows.
	UpsertDownload(ctx context.Context, rec Record) error

	// GetDownload returns the record for a key, or ErrNotFound.
	GetDownload(ctx context.Context, imageID string) (Record, error)

	// SetStatus updates only the status and note of an existing record.
	SetStatus(ctx context.Context, imageID string, status Status, note string) error

	// UnitsByRegion returns the spatial units whose region attribute is
	// in the given list.
	UnitsByRegion(ctx context.Context, regions []string) ([]scene.SpatialUnit, error)

	// Close releases the underlying connections.
	Close() error
}

// Open connects to the ledger selected by DSN: "postgres://..." (or
// "postgresql://...") opens a PostgreSQL store, anything else is
// treated as a SQLite database path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return nil, errors.New("ledger DSN is required")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(ctx, dsn)
}
