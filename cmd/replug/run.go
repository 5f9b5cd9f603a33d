package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/replugio/replug/pkg/api"
	"github.com/replugio/replug/pkg/artifact"
	"github.com/replugio/replug/pkg/config"
	"github.com/replugio/replug/pkg/coordinator"
	"github.com/replugio/replug/pkg/lifecycle"
	"github.com/replugio/replug/pkg/loader"
	"github.com/replugio/replug/pkg/log"
	"github.com/replugio/replug/pkg/tasks"
	"github.com/replugio/replug/pkg/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker",
	Long: `Run the worker: connect to Temporal, load plugin artifacts, and
serve the configured task queue until interrupted. Plugin sources are
watched according to HOT_RELOAD_MODE and new plugin code is swapped in
without dropping in-flight tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		logger := log.WithComponent("main")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ld := loader.New(loader.Options{
			ScanRoots:       cfg.WatchPaths,
			FileFilter:      cfg.FileFilter,
			ExcludePrefixes: cfg.ExcludePrefixes,
		})
		registry := artifact.NewRegistry()
		coord := coordinator.New(ld, registry, cfg.QuiesceDelay)

		mgr := lifecycle.New(lifecycle.Options{
			TemporalServer: cfg.TemporalServer,
			TaskQueue:      cfg.TaskQueue,
			Source:         coord,
			Baseline:       tasks.Baseline(),
		})
		coord.Subscribe(mgr.OnReloaded)

		health := api.NewHealthServer(func() (bool, int64, int, int) {
			set := mgr.CurrentRegistration()
			return mgr.IsRunning(), mgr.Epoch(), len(set.Tasks), len(set.Workflows)
		})
		go func() {
			if err := health.Start(cfg.HealthAddr); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("health server failed")
			}
		}()

		// Initial connection failure is fatal; the process exits non-zero.
		if err := mgr.Start(ctx); err != nil {
			return err
		}

		watchers := buildWatchers(cfg)
		for _, w := range watchers {
			if err := w.Start(ctx); err != nil {
				logger.Warn().Err(err).Msg("watcher failed to start")
				continue
			}
			coord.Watch(w)
		}

		logger.Info().
			Str("task_queue", cfg.TaskQueue).
			Str("server", cfg.TemporalServer).
			Msg("replug running")
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")

		for _, w := range watchers {
			w.Stop()
		}
		coord.Stop()

		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("worker stop reported error")
		}
		_ = health.Shutdown(stopCtx)
		return nil
	},
}

// buildWatchers assembles the plugin source watchers selected by
// configuration.
func buildWatchers(cfg *config.Config) []watcher.Watcher {
	var out []watcher.Watcher

	if cfg.FileWatchEnabled() && len(cfg.WatchPaths) > 0 {
		out = append(out, watcher.NewFSWatcher(watcher.FSOptions{
			Paths:           cfg.WatchPaths,
			FileFilter:      cfg.FileFilter,
			ExcludePrefixes: cfg.ExcludePrefixes,
			Debounce:        cfg.Debounce,
		}))
	}

	if cfg.FeedWatchEnabled() {
		out = append(out, watcher.NewFeedPoller(watcher.FeedOptions{
			Client:         watcher.NewFeedClient(cfg.FeedURL, cfg.FeedUsername, cfg.FeedPassword),
			PollInterval:   cfg.PollInterval,
			PackageFilters: cfg.PackageFilters,
			DownloadPath:   cfg.DownloadPath,
			Retention:      cfg.Retention,
		}))
	}

	return out
}
