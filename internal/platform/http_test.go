package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(Config{Endpoint: srv.URL, Project: "test-project"})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return client
}

func TestSubmitAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/exports", func(w http.ResponseWriter, r *http.Request) {
		var spec ExportSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if spec.Description != "GRID001_S2_2023-03-10" {
			t.Errorf("description = %q", spec.Description)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1"})
	})
	mux.HandleFunc("GET /v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JobStatus{ID: "job-1", State: JobStateRunning})
	})

	client := newTestClient(t, mux)
	handle, err := client.Submit(context.Background(), ExportSpec{Description: "GRID001_S2_2023-03-10"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	active, err := handle.IsActive(context.Background())
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if !active {
		t.Error("running job reported inactive")
	}

	status, err := handle.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	// Description missing in the response falls back to the submitted one.
	if status.Description != "GRID001_S2_2023-03-10" {
		t.Errorf("description = %q", status.Description)
	}
}

func TestIsTaskRunning(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		desc := r.URL.Query().Get("description")
		var jobs []JobStatus
		if desc == "busy" {
			jobs = append(jobs, JobStatus{ID: "job-2", Description: "busy", State: JobStatePending})
		}
		json.NewEncoder(w).Encode(map[string]any{"jobs": jobs})
	})

	client := newTestClient(t, mux)
	running, err := client.IsTaskRunning(context.Background(), "busy")
	if err != nil || !running {
		t.Errorf("busy: running=%v err=%v", running, err)
	}
	running, err = client.IsTaskRunning(context.Background(), "idle")
	if err != nil || running {
		t.Errorf("idle: running=%v err=%v", running, err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "transient", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(MetricsResult{ValidFraction: 0.9, CloudFraction: 0.1})
	})

	client := newTestClient(t, mux)
	got, err := client.ComputeMetrics(context.Background(), MetricsRequest{})
	if err != nil {
		t.Fatalf("ComputeMetrics after retries: %v", err)
	}
	if got.ValidFraction != 0.9 {
		t.Errorf("valid fraction = %v", got.ValidFraction)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestJobNotFound(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	job := &httpJob{client: client, id: "gone"}
	_, err := job.Status(context.Background())
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("got %v, want ErrJobNotFound", err)
	}
}
