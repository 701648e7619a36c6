package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config configures the HTTP platform client.
type Config struct {
	Endpoint string // base URL of the job platform API
	Project  string // billing/user project forwarded with each request
	Token    string // bearer token, typically from the credentials env file
	Timeout  time.Duration
}

// HTTPClient talks JSON over HTTP to the job platform.
type HTTPClient struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewHTTPClient creates a platform client for the configured endpoint.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("platform endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		log: slog.With("component", "platform"),
	}, nil
}

// Submit requests an asynchronous raster export.
func (c *HTTPClient) Submit(ctx context.Context, spec ExportSpec) (JobHandle, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, "/v1/exports", spec, &resp); err != nil {
		return nil, fmt.Errorf("submit export %s: %w", spec.Description, err)
	}
	c.log.Info("submitted export job", "description", spec.Description, "job_id", resp.ID)
	return &httpJob{client: c, id: resp.ID, description: spec.Description}, nil
}

// ExportPermanentWater requests the yearly auxiliary water layer.
func (c *HTTPClient) ExportPermanentWater(ctx context.Context, spec WaterExportSpec) (JobHandle, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, "/v1/exports/permanent-water", spec, &resp); err != nil {
		return nil, fmt.Errorf("submit water export %s: %w", spec.Description, err)
	}
	c.log.Info("submitted water-layer job", "description", spec.Description, "job_id", resp.ID)
	return &httpJob{client: c, id: resp.ID, description: spec.Description}, nil
}

// IsTaskRunning reports whether a job with the given description is
// currently active.
func (c *HTTPClient) IsTaskRunning(ctx context.Context, description string) (bool, error) {
	path := "/v1/jobs?active=true&description=" + url.QueryEscape(description)
	var resp struct {
		Jobs []JobStatus `json:"jobs"`
	}
	if err := c.doWithRetry(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, fmt.Errorf("query active jobs: %w", err)
	}
	return len(resp.Jobs) > 0, nil
}

// ComputeMetrics runs the remote pixel-count computation.
func (c *HTTPClient) ComputeMetrics(ctx context.Context, req MetricsRequest) (MetricsResult, error) {
	var resp MetricsResult
	if err := c.doWithRetry(ctx, http.MethodPost, "/v1/metrics", req, &resp); err != nil {
		return MetricsResult{}, fmt.Errorf("compute metrics: %w", err)
	}
	return resp, nil
}

// httpJob implements JobHandle over the jobs API.
type httpJob struct {
	client      *HTTPClient
	id          string
	description string
}

func (j *httpJob) IsActive(ctx context.Context) (bool, error) {
	status, err := j.Status(ctx)
	if err != nil {
		return false, err
	}
	return !status.State.Terminal(), nil
}

func (j *httpJob) Status(ctx context.Context) (JobStatus, error) {
	var status JobStatus
	err := j.client.doWithRetry(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(j.id), nil, &status)
	if err != nil {
		return JobStatus{}, fmt.Errorf("job %s status: %w", j.id, err)
	}
	if status.Description == "" {
		status.Description = j.description
	}
	return status, nil
}

// doWithRetry performs a request with bounded exponential backoff.
// Remote jobs outlive any single request, so transient API failures
// must not surface as unit failures.
func (c *HTTPClient) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	retries := 3
	delay := time.Second

	for attempt := 1; attempt <= retries; attempt++ {
		err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrJobNotFound) {
			return err
		}

		lastErr = err
		if attempt < retries {
			c.log.Warn("platform request failed, retrying",
				"attempt", attempt, "max", retries, "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return lastErr
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.Project != "" {
		req.Header.Set("X-User-Project", c.cfg.Project)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
