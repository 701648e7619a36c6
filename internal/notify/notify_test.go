package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/floodscope/acquirer/internal/report"
)

func testReport() *report.RunReport {
	return &report.RunReport{
		RunID:      "run-1",
		StartedAt:  time.Date(2023, 3, 12, 3, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2023, 3, 12, 4, 0, 0, 0, time.UTC),
		Submitted:  3,
		Completed:  3,
	}
}

func TestFileNotifier(t *testing.T) {
	dir := t.TempDir()
	n, err := NewFileNotifier(dir)
	if err != nil {
		t.Fatalf("NewFileNotifier: %v", err)
	}
	if err := n.RunFinished(context.Background(), testReport()); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run_run-1.json"))
	if err != nil {
		t.Fatalf("read notification: %v", err)
	}
	var got report.RunReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != "run-1" || got.Completed != 3 {
		t.Errorf("round trip: %+v", got)
	}
}

func TestWebhookNotifierRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			http.Error(w, "transient", http.StatusServiceUnavailable)
			return
		}
		var rep report.RunReport
		if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rep.RunID != "run-1" {
			t.Errorf("run_id = %q", rep.RunID)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	dir := t.TempDir()
	n, err := NewWebhookNotifier(Config{Enabled: true, Endpoint: srv.URL, BackupDir: dir})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	defer n.Close()

	if err := n.RunFinished(context.Background(), testReport()); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}

	// The backup file exists regardless of delivery outcome.
	if _, err := os.Stat(filepath.Join(dir, "run_run-1.json")); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestNewDispatch(t *testing.T) {
	if _, ok := New(Config{}).(*noopNotifier); !ok {
		t.Error("disabled config did not produce no-op notifier")
	}
	if _, ok := New(Config{Enabled: true, BackupDir: t.TempDir()}).(*FileNotifier); !ok {
		t.Error("endpoint-less config did not produce file notifier")
	}
	n := New(Config{Enabled: true, Endpoint: "http://localhost:1", BackupDir: t.TempDir()})
	if _, ok := n.(*WebhookNotifier); !ok {
		t.Error("endpoint config did not produce webhook notifier")
	}
}
