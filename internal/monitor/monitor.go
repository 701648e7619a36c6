// Package monitor polls submitted export jobs until they finish and
// projects each terminal outcome onto the ledger.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/floodscope/acquirer/internal/ledger"
	"github.com/floodscope/acquirer/internal/metrics"
	"github.com/floodscope/acquirer/internal/platform"
)

// DefaultInterval is the pause between polling passes.
const DefaultInterval = 10 * time.Second

// Summary counts terminal outcomes of one monitoring session.
type Summary struct {
	Completed int
	Failed    int
	Cancelled int
}

// Monitor waits on remote jobs and records their outcomes.
type Monitor struct {
	store    ledger.Store
	interval time.Duration
	log      *slog.Logger
}

// New builds a monitor. A non-positive interval falls back to the
// default.
func New(store ledger.Store, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		store:    store,
		interval: interval,
		log:      slog.With("component", "monitor"),
	}
}

// LedgerKey maps a job description to its ledger record key. Water
// layer jobs carry a trailing _YYYY year that the ledger key omits;
// everything else maps one to one.
func LedgerKey(description string) string {
	if strings.Contains(description, "PERMANENTWATERJRC") && len(description) > 5 {
		return description[:len(description)-5]
	}
	return description
}

// Wait polls the given handles until every job reaches a terminal
// state or the context is cancelled. Status query failures keep the
// handle in the pending set for the next pass; a job the platform no
// longer knows is recorded as failed.
func (m *Monitor) Wait(ctx context.Context, handles []platform.JobHandle) (Summary, error) {
	var summary Summary
	pending := make([]platform.JobHandle, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			pending = append(pending, h)
		}
	}

	for len(pending) > 0 {
		if mm := metrics.Get(); mm != nil {
			mm.PollPasses.Inc()
		}
		var next []platform.JobHandle
		for _, h := range pending {
			status, err := h.Status(ctx)
			if err != nil {
				if mm := metrics.Get(); mm != nil {
					mm.PlatformErrors.Inc()
				}
				if errors.Is(err, platform.ErrJobNotFound) {
					m.log.Error("job vanished from platform", "error", err)
					summary.Failed++
					if mm := metrics.Get(); mm != nil {
						mm.JobsFailed.Inc()
					}
					continue
				}
				m.log.Warn("job status query failed, will retry", "error", err)
				next = append(next, h)
				continue
			}

			if !status.State.Terminal() {
				next = append(next, h)
				continue
			}
			m.record(ctx, status, &summary)
		}
		pending = next

		if len(pending) == 0 {
			break
		}
		m.log.Info("waiting on export jobs", "pending", len(pending))
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-time.After(m.interval):
		}
	}

	m.log.Info("monitoring complete",
		"completed", summary.Completed, "failed", summary.Failed, "cancelled", summary.Cancelled)
	return summary, nil
}

func (m *Monitor) record(ctx context.Context, status platform.JobStatus, summary *Summary) {
	key := LedgerKey(status.Description)

	var (
		outcome ledger.Status
		note    string
	)
	switch status.State {
	case platform.JobStateCompleted:
		outcome = ledger.StatusComplete
		summary.Completed++
		if mm := metrics.Get(); mm != nil {
			mm.JobsCompleted.Inc()
		}
	case platform.JobStateCancelled:
		outcome = ledger.StatusFailed
		note = "job cancelled"
		summary.Cancelled++
		if mm := metrics.Get(); mm != nil {
			mm.JobsFailed.Inc()
		}
	default:
		outcome = ledger.StatusFailed
		note = status.Error
		if note == "" {
			note = "job failed"
		}
		summary.Failed++
		if mm := metrics.Get(); mm != nil {
			mm.JobsFailed.Inc()
		}
	}

	if err := m.store.SetStatus(ctx, key, outcome, note); err != nil {
		if mm := metrics.Get(); mm != nil {
			mm.LedgerErrors.Inc()
		}
		// The record should exist from submission time; log loudly but
		// keep draining the remaining jobs.
		m.log.Error("failed to record job outcome",
			"description", status.Description, "key", key, "state", status.State, "error", err)
		return
	}
	m.log.Info("recorded job outcome",
		"description", status.Description, "state", status.State, "note", note)
}
