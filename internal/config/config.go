// Package config loads and validates acquisition run configuration
// from flags and environment variables.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const dateLayout = "2006-01-02"

type Config struct {
	Event    EventConfig
	Quality  QualityConfig
	AOI      AOIConfig
	Ledger   LedgerConfig
	Catalog  CatalogConfig
	Platform PlatformConfig
	Storage  StorageConfig
	Monitor  MonitorConfig
	Notify   NotifyConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// EventConfig bounds the flood event and optional reference window.
type EventConfig struct {
	FloodStart time.Time
	FloodEnd   time.Time
	RefStart   time.Time
	RefEnd     time.Time

	Collections   []string
	ChannelConfig string
	BandTableFile string
	WaterYear     int
}

// HasReference reports whether a reference window was configured.
func (e EventConfig) HasReference() bool {
	return !e.RefStart.IsZero() && !e.RefEnd.IsZero()
}

// QualityConfig bounds the acceptable cloud and invalid-pixel
// fractions per purpose, all in [0,1].
type QualityConfig struct {
	FloodMaxCloud   float64
	FloodMaxInvalid float64
	RefMaxCloud     float64
	RefMaxInvalid   float64
}

type AOIConfig struct {
	// File is a bucket key or path of a GeoJSON feature collection.
	// Mutually exclusive with Regions, which selects grid cells by
	// region attribute from the ledger database.
	File    string
	Regions []string

	// GridName optionally narrows a run to the single named grid
	// cell.
	GridName string
}

type LedgerConfig struct {
	// DSN is either a postgres:// URL or a SQLite file path.
	DSN string
}

type CatalogConfig struct {
	Endpoint string
	Token    string
	CacheDir string
	CacheTTL time.Duration
}

type PlatformConfig struct {
	Endpoint string
	Token    string
	Project  string
	Timeout  time.Duration
}

type StorageConfig struct {
	// BucketURL is the gs://, s3:// or file:// prefix exports and run
	// artifacts are written under.
	BucketURL string
}

type MonitorConfig struct {
	PollInterval time.Duration
}

type NotifyConfig struct {
	Enabled   bool
	Endpoint  string
	Token     string
	BackupDir string
}

type MetricsConfig struct {
	Enabled bool
	Address string
}

type LoggingConfig struct {
	Format string
	Level  string
}

// Load parses flags and environment into a validated configuration.
// A .env file in the working directory is honored when present; the
// env file is loaded before flag defaults are computed so flags can
// default from it.
func Load(args []string) (Config, error) {
	if path := envFileFromArgs(args); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	fs := flag.NewFlagSet("acquirer", flag.ContinueOnError)
	fs.String("env-file", "", "env file to load before flag parsing")

	floodStart := fs.String("flood-start", "", "first day of the flood window (YYYY-MM-DD, required)")
	floodEnd := fs.String("flood-end", "", "last day of the flood window (YYYY-MM-DD, required)")
	refStart := fs.String("ref-start", "", "first day of the reference window (YYYY-MM-DD)")
	refEnd := fs.String("ref-end", "", "last day of the reference window (YYYY-MM-DD)")
	collections := fs.String("collections", "COPERNICUS/S2_HARMONIZED,LANDSAT/LC08/C02/T1_TOA,LANDSAT/LC09/C02/T1_TOA", "comma-separated catalog collections")
	channelCfg := fs.String("channels", "bgriswirs", "channel configuration name")
	bandTable := fs.String("band-table", "", "YAML band table override file")
	waterYear := fs.Int("water-year", 0, "permanent-water layer year (default: year before the flood)")

	floodMaxCloud := fs.Float64("flood-max-cloud", 0.95, "max cloud fraction for flood imagery")
	floodMaxInvalid := fs.Float64("flood-max-invalid", 0.70, "max invalid fraction for flood imagery")
	refMaxCloud := fs.Float64("ref-max-cloud", 0.10, "max cloud fraction for reference imagery")
	refMaxInvalid := fs.Float64("ref-max-invalid", 0.10, "max invalid fraction for reference imagery")

	aoiFile := fs.String("aoi-file", "", "GeoJSON file of spatial units (mutually exclusive with --regions)")
	regions := fs.String("regions", "", "comma-separated region names resolved against the grid table")
	gridName := fs.String("grid-name", "", "only process the grid cell with exactly this name")

	dsn := fs.String("ledger-dsn", getenvDefault("LEDGER_DSN", "acquirer.db"), "ledger DSN (postgres:// URL or SQLite path)")
	bucketURL := fs.String("bucket", os.Getenv("STORAGE_BUCKET"), "destination bucket URL")

	catalogEndpoint := fs.String("catalog-endpoint", os.Getenv("CATALOG_ENDPOINT"), "catalog search endpoint")
	cacheDir := fs.String("cache-dir", getenvDefault("CACHE_DIR", ".cache/discovery"), "discovery cache directory")
	cacheTTL := fs.Duration("cache-ttl", 0, "discovery cache TTL (0 = never expire)")

	platformEndpoint := fs.String("platform-endpoint", os.Getenv("PLATFORM_ENDPOINT"), "job platform endpoint")
	project := fs.String("project", os.Getenv("PLATFORM_PROJECT"), "billing project forwarded to the platform")
	timeout := fs.Duration("platform-timeout", 60*time.Second, "platform request timeout")

	pollInterval := fs.Duration("poll-interval", 10*time.Second, "job polling interval")

	notifyEndpoint := fs.String("notify-endpoint", os.Getenv("NOTIFY_ENDPOINT"), "webhook for run notifications")
	notifyBackup := fs.String("notify-backup-dir", getenvDefault("NOTIFY_BACKUP_DIR", "notifications"), "directory for notification backups")

	metricsAddr := fs.String("metrics-addr", os.Getenv("METRICS_ADDR"), "metrics listen address (empty = disabled)")

	logFormat := fs.String("log-format", getenvDefault("LOG_FORMAT", "text"), "log format: text or json")
	logLevel := fs.String("log-level", getenvDefault("LOG_LEVEL", "info"), "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Event: EventConfig{
			Collections:   splitList(*collections),
			ChannelConfig: *channelCfg,
			BandTableFile: *bandTable,
			WaterYear:     *waterYear,
		},
		Quality: QualityConfig{
			FloodMaxCloud:   *floodMaxCloud,
			FloodMaxInvalid: *floodMaxInvalid,
			RefMaxCloud:     *refMaxCloud,
			RefMaxInvalid:   *refMaxInvalid,
		},
		AOI: AOIConfig{
			File:     *aoiFile,
			Regions:  splitList(*regions),
			GridName: *gridName,
		},
		Ledger: LedgerConfig{DSN: *dsn},
		Catalog: CatalogConfig{
			Endpoint: *catalogEndpoint,
			Token:    os.Getenv("CATALOG_TOKEN"),
			CacheDir: *cacheDir,
			CacheTTL: *cacheTTL,
		},
		Platform: PlatformConfig{
			Endpoint: *platformEndpoint,
			Token:    os.Getenv("PLATFORM_TOKEN"),
			Project:  *project,
			Timeout:  *timeout,
		},
		Storage: StorageConfig{BucketURL: strings.TrimSuffix(*bucketURL, "/")},
		Monitor: MonitorConfig{PollInterval: *pollInterval},
		Notify: NotifyConfig{
			Enabled:   *notifyEndpoint != "" || os.Getenv("NOTIFY_ENABLED") == "true",
			Endpoint:  *notifyEndpoint,
			Token:     os.Getenv("NOTIFY_TOKEN"),
			BackupDir: *notifyBackup,
		},
		Metrics: MetricsConfig{
			Enabled: *metricsAddr != "",
			Address: *metricsAddr,
		},
		Logging: LoggingConfig{Format: *logFormat, Level: *logLevel},
	}

	var err error
	if cfg.Event.FloodStart, cfg.Event.FloodEnd, err = parseWindow(*floodStart, *floodEnd, true); err != nil {
		return Config{}, fmt.Errorf("flood window: %w", err)
	}
	if cfg.Event.RefStart, cfg.Event.RefEnd, err = parseWindow(*refStart, *refEnd, false); err != nil {
		return Config{}, fmt.Errorf("reference window: %w", err)
	}
	if cfg.Event.WaterYear == 0 {
		cfg.Event.WaterYear = cfg.Event.FloodStart.Year() - 1
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseWindow parses a start/end date pair. Both dates must be given
// together; required windows may not be empty. The end date is
// inclusive, so it is extended to the end of its day.
func parseWindow(start, end string, required bool) (time.Time, time.Time, error) {
	if start == "" && end == "" {
		if required {
			return time.Time{}, time.Time{}, fmt.Errorf("start and end dates are required")
		}
		return time.Time{}, time.Time{}, nil
	}
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end dates must be given together")
	}

	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start date %q: %w", start, err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end date %q: %w", end, err)
	}
	e = e.Add(24*time.Hour - time.Second)

	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s before start date %s", end, start)
	}
	return s, e, nil
}

func (c *Config) validate() error {
	now := time.Now().UTC()

	if c.Event.FloodStart.After(now) {
		return fmt.Errorf("flood start %s is in the future", c.Event.FloodStart.Format(dateLayout))
	}
	if c.Event.FloodEnd.After(now) {
		slog.Warn("flood end is in the future, clamping to now",
			"flood_end", c.Event.FloodEnd.Format(dateLayout))
		c.Event.FloodEnd = now
	}

	if c.Event.HasReference() && !c.Event.RefEnd.Before(c.Event.FloodStart) {
		return fmt.Errorf("reference window must end before the flood window starts")
	}

	switch {
	case c.AOI.File == "" && len(c.AOI.Regions) == 0:
		return fmt.Errorf("one of --aoi-file or --regions is required")
	case c.AOI.File != "" && len(c.AOI.Regions) > 0:
		return fmt.Errorf("--aoi-file and --regions are mutually exclusive")
	}

	if c.Storage.BucketURL == "" {
		return fmt.Errorf("destination bucket is required")
	}
	if c.Catalog.Endpoint == "" {
		return fmt.Errorf("catalog endpoint is required")
	}
	if c.Platform.Endpoint == "" {
		return fmt.Errorf("platform endpoint is required")
	}
	if len(c.Event.Collections) == 0 {
		return fmt.Errorf("at least one catalog collection is required")
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// envFileFromArgs scans for --env-file ahead of flag parsing, since
// other flag defaults read the environment.
func envFileFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--env-file" || a == "-env-file":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--env-file="):
			return strings.TrimPrefix(a, "--env-file=")
		case strings.HasPrefix(a, "-env-file="):
			return strings.TrimPrefix(a, "-env-file=")
		}
	}
	return ""
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
