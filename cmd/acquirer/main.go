package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/floodscope/acquirer/internal/acquire"
	"github.com/floodscope/acquirer/internal/bucket"
	"github.com/floodscope/acquirer/internal/config"
	"github.com/floodscope/acquirer/internal/discovery"
	"github.com/floodscope/acquirer/internal/exporter"
	"github.com/floodscope/acquirer/internal/ledger"
	"github.com/floodscope/acquirer/internal/logging"
	"github.com/floodscope/acquirer/internal/metrics"
	"github.com/floodscope/acquirer/internal/monitor"
	"github.com/floodscope/acquirer/internal/notify"
	"github.com/floodscope/acquirer/internal/platform"
	"github.com/floodscope/acquirer/internal/quality"
	"github.com/floodscope/acquirer/internal/scene"
	"github.com/floodscope/acquirer/internal/window"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		slog.Error("invalid configuration", "error", err)
		return 2
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	log := slog.With("component", "main")
	log.Info("acquirer starting", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metrics.Init("acquirer")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	store, err := ledger.Open(ctx, cfg.Ledger.DSN)
	if err != nil {
		log.Error("failed to open ledger", "error", err)
		return 1
	}
	defer store.Close()

	blobStore, err := bucket.Open(ctx, cfg.Storage.BucketURL)
	if err != nil {
		log.Error("failed to open bucket", "error", err)
		return 1
	}
	defer blobStore.Close()

	client, err := platform.NewHTTPClient(platform.Config{
		Endpoint: cfg.Platform.Endpoint,
		Project:  cfg.Platform.Project,
		Token:    cfg.Platform.Token,
		Timeout:  cfg.Platform.Timeout,
	})
	if err != nil {
		log.Error("failed to create platform client", "error", err)
		return 1
	}

	httpCatalog, err := discovery.NewHTTPCatalog(discovery.Config{
		Endpoint: cfg.Catalog.Endpoint,
		Token:    cfg.Catalog.Token,
	})
	if err != nil {
		log.Error("failed to create catalog client", "error", err)
		return 1
	}
	var catalog discovery.Catalog = httpCatalog
	if cfg.Catalog.CacheDir != "" {
		catalog, err = discovery.NewCachedCatalog(httpCatalog, cfg.Catalog.CacheDir, cfg.Catalog.CacheTTL)
		if err != nil {
			log.Warn("discovery cache unavailable, querying directly", "error", err)
			catalog = httpCatalog
		}
	}

	bands := platform.DefaultBands()
	if cfg.Event.BandTableFile != "" {
		bands, err = platform.LoadBandTable(cfg.Event.BandTableFile)
		if err != nil {
			log.Error("failed to load band table", "error", err)
			return 1
		}
	}

	windows := []window.Window{{
		Purpose: scene.PurposeFlood,
		Start:   cfg.Event.FloodStart,
		End:     cfg.Event.FloodEnd,
	}}
	if cfg.Event.HasReference() {
		windows = append(windows, window.Window{
			Purpose: scene.PurposeReference,
			Start:   cfg.Event.RefStart,
			End:     cfg.Event.RefEnd,
		})
	}

	acquirer, err := acquire.New(acquire.Params{
		Catalog: catalog,
		Store:   store,
		Gate: quality.NewGate(client, bands, cfg.Event.ChannelConfig, map[scene.Purpose]quality.Thresholds{
			scene.PurposeFlood:     {MaxCloud: cfg.Quality.FloodMaxCloud, MaxInvalid: cfg.Quality.FloodMaxInvalid},
			scene.PurposeReference: {MaxCloud: cfg.Quality.RefMaxCloud, MaxInvalid: cfg.Quality.RefMaxInvalid},
		}),
		Exporter:    exporter.New(client, store, bands, cfg.Event.ChannelConfig, cfg.Storage.BucketURL),
		Monitor:     monitor.New(store, cfg.Monitor.PollInterval),
		Bucket:      blobStore,
		Windows:     windows,
		Collections: cfg.Event.Collections,
		AOIFile:     cfg.AOI.File,
		Regions:     cfg.AOI.Regions,
		GridName:    cfg.AOI.GridName,
		WaterYear:   cfg.Event.WaterYear,
	})
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		return 1
	}

	notifier := notify.New(notify.Config{
		Enabled:   cfg.Notify.Enabled,
		Endpoint:  cfg.Notify.Endpoint,
		Token:     cfg.Notify.Token,
		BackupDir: cfg.Notify.BackupDir,
	})
	defer notifier.Close()

	rep, err := acquirer.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown complete")
			return 0
		}
		log.Error("acquisition run failed", "error", err)
		return 1
	}

	if err := notifier.RunFinished(ctx, rep); err != nil {
		log.Warn("failed to deliver run notification", "error", err)
	}

	log.Info("acquisition run finished",
		"run_id", rep.RunID,
		"discovered", rep.Discovered,
		"grouped", rep.Grouped,
		"filtered", rep.Filtered,
		"submitted", rep.Submitted,
		"skipped", rep.Skipped,
		"completed", rep.Completed,
		"failed", rep.Failed)
	if rep.Failed > 0 {
		return 3
	}
	return 0
}
