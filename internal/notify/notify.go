// Package notify announces finished acquisition runs to downstream
// consumers, typically the inference pipeline waiting for new rasters.
package notify

import (
	"context"
	"log/slog"

	"github.com/floodscope/acquirer/internal/report"
)

// Notifier announces a completed run.
type Notifier interface {
	RunFinished(ctx context.Context, rep *report.RunReport) error
	Close() error
}

// Config configures run notifications.
type Config struct {
	Enabled   bool
	Endpoint  string // webhook URL; empty means file-only
	Token     string
	BackupDir string // local directory for notification backups
}

// New creates a notifier for the configuration. Notification delivery
// is best effort; construction failures downgrade rather than abort
// the run.
func New(cfg Config) Notifier {
	log := slog.With("component", "notify")

	if !cfg.Enabled {
		log.Info("notifications disabled, using no-op notifier")
		return &noopNotifier{}
	}

	if cfg.Endpoint != "" {
		notifier, err := NewWebhookNotifier(cfg)
		if err != nil {
			log.Warn("failed to create webhook notifier, falling back to file-only", "error", err)
			return fileOnly(cfg, log)
		}
		log.Info("using webhook notifier", "endpoint", cfg.Endpoint)
		return notifier
	}
	return fileOnly(cfg, log)
}

func fileOnly(cfg Config, log *slog.Logger) Notifier {
	notifier, err := NewFileNotifier(cfg.BackupDir)
	if err != nil {
		log.Warn("failed to create file notifier, using no-op", "error", err)
		return &noopNotifier{}
	}
	log.Info("using file-only notifier", "dir", cfg.BackupDir)
	return notifier
}

type noopNotifier struct{}

func (n *noopNotifier) RunFinished(ctx context.Context, rep *report.RunReport) error { return nil }
func (n *noopNotifier) Close() error                                                { return nil }
