package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/floodscope/acquirer/internal/ledger"
	"github.com/floodscope/acquirer/internal/platform"
)

func TestLedgerKey(t *testing.T) {
	tests := []struct {
		description string
		want        string
	}{
		{"GRID001_S2_2023-03-10", "GRID001_S2_2023-03-10"},
		{"GRID001_Landsat_2023-03-10", "GRID001_Landsat_2023-03-10"},
		{"GRID001_PERMANENTWATERJRC_2022", "GRID001_PERMANENTWATERJRC"},
	}
	for _, tt := range tests {
		if got := LedgerKey(tt.description); got != tt.want {
			t.Errorf("LedgerKey(%s) = %s, want %s", tt.description, got, tt.want)
		}
	}
}

// pollJob reports a non-terminal state for the first n polls, then the
// final state.
type pollJob struct {
	description string
	final       platform.JobState
	errText     string
	polls       int
	remaining   int
}

func (j *pollJob) IsActive(ctx context.Context) (bool, error) {
	s, err := j.Status(ctx)
	if err != nil {
		return false, err
	}
	return !s.State.Terminal(), nil
}

func (j *pollJob) Status(ctx context.Context) (platform.JobStatus, error) {
	j.polls++
	state := j.final
	if j.remaining > 0 {
		j.remaining--
		state = platform.JobStateRunning
	}
	return platform.JobStatus{
		ID:          j.description,
		Description: j.description,
		State:       state,
		Error:       j.errText,
	}, nil
}

func openLedger(t *testing.T) *ledger.SQLiteStore {
	t.Helper()
	store, err := ledger.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *ledger.SQLiteStore, imageID string) {
	t.Helper()
	err := store.UpsertDownload(context.Background(), ledger.Record{
		ImageID: imageID,
		Status:  ledger.StatusInProgress,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", imageID, err)
	}
}

func TestWaitRecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	store := openLedger(t)
	seed(t, store, "GRID001_S2_2023-03-10")
	seed(t, store, "GRID002_S2_2023-03-10")
	seed(t, store, "GRID003_PERMANENTWATERJRC")

	jobs := []platform.JobHandle{
		&pollJob{description: "GRID001_S2_2023-03-10", final: platform.JobStateCompleted, remaining: 2},
		&pollJob{description: "GRID002_S2_2023-03-10", final: platform.JobStateFailed, errText: "quota exceeded"},
		&pollJob{description: "GRID003_PERMANENTWATERJRC_2022", final: platform.JobStateCompleted},
	}

	m := New(store, time.Millisecond)
	summary, err := m.Wait(ctx, jobs)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if summary.Completed != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}

	rec, err := store.GetDownload(ctx, "GRID001_S2_2023-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != ledger.StatusComplete {
		t.Errorf("completed job status = %s", rec.Status)
	}

	rec, err = store.GetDownload(ctx, "GRID002_S2_2023-03-10")
	if err != nil {
		t.Fatal(err)
	}
	// Failures land as legacy code 0 with the platform error preserved.
	if rec.Status.Code() != 0 {
		t.Errorf("failed job code = %d, want 0", rec.Status.Code())
	}
	if rec.Note != "quota exceeded" {
		t.Errorf("failure note = %q", rec.Note)
	}

	// The water layer outcome lands on the year-free ledger key.
	rec, err = store.GetDownload(ctx, "GRID003_PERMANENTWATERJRC")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != ledger.StatusComplete {
		t.Errorf("water layer status = %s", rec.Status)
	}
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	store := openLedger(t)
	seed(t, store, "GRID001_S2_2023-03-10")

	job := &pollJob{description: "GRID001_S2_2023-03-10", final: platform.JobStateCompleted, remaining: 3}
	m := New(store, time.Millisecond)
	if _, err := m.Wait(context.Background(), []platform.JobHandle{job}); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.polls != 4 {
		t.Errorf("polled %d times, want 4", job.polls)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	store := openLedger(t)
	job := &pollJob{description: "GRID001_S2_2023-03-10", final: platform.JobStateCompleted, remaining: 1 << 30}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	m := New(store, time.Hour)
	_, err := m.Wait(ctx, []platform.JobHandle{job})
	if err == nil {
		t.Error("Wait returned nil after cancellation")
	}
}
