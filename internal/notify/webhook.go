package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/floodscope/acquirer/internal/report"
)

// WebhookNotifier posts run reports to an HTTP endpoint, with a local
// file backup written first so a dead endpoint never loses the event.
type WebhookNotifier struct {
	cfg    Config
	client *http.Client
	backup *FileNotifier
	log    *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier with file backup.
func NewWebhookNotifier(cfg Config) (*WebhookNotifier, error) {
	backup, err := NewFileNotifier(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create backup notifier: %w", err)
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		backup: backup,
		log:    slog.With("component", "notify"),
	}, nil
}

// RunFinished writes the backup file, then delivers the report with
// bounded retries.
func (n *WebhookNotifier) RunFinished(ctx context.Context, rep *report.RunReport) error {
	if err := n.backup.RunFinished(ctx, rep); err != nil {
		n.log.Warn("failed to write notification backup", "error", err)
	}

	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}

	var lastErr error
	retries := 3
	delay := time.Second
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = n.post(ctx, body)
		if lastErr == nil {
			n.log.Info("delivered run notification", "run_id", rep.RunID)
			return nil
		}
		if attempt < retries {
			n.log.Warn("notification delivery failed, retrying",
				"attempt", attempt, "max", retries, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("deliver run notification: %w", lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// Close releases the notifier.
func (n *WebhookNotifier) Close() error {
	return n.backup.Close()
}

// FileNotifier writes run reports as JSON files into a directory.
type FileNotifier struct {
	dir string
}

// NewFileNotifier creates the backup directory if needed.
func NewFileNotifier(dir string) (*FileNotifier, error) {
	if dir == "" {
		dir = "notifications"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notification dir: %w", err)
	}
	return &FileNotifier{dir: dir}, nil
}

// RunFinished writes one file per run, named by run ID.
func (n *FileNotifier) RunFinished(ctx context.Context, rep *report.RunReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}

	path := filepath.Join(n.dir, fmt.Sprintf("run_%s.json", rep.RunID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename notification: %w", err)
	}
	return nil
}

// Close is a no-op for file notifiers.
func (n *FileNotifier) Close() error { return nil }

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*FileNotifier)(nil)
)
