package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskmirror/taskmirror/internal/config"
	"github.com/taskmirror/taskmirror/internal/dashboard"
	"github.com/taskmirror/taskmirror/internal/filters"
	"github.com/taskmirror/taskmirror/internal/textfile"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync loop until interrupted",
	Long: `Run taskmirror as a long-lived process: sync on a fixed interval,
rescan the task file when it changes, keep the configured filters
warm, and optionally serve a live status dashboard.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			fatalf("%v", err)
		}
	},
}

func runDaemon() error {
	// The log destination has to be decided before newApp wires the
	// components, so load config once up front just for it.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var logOut io.Writer = os.Stderr
	if cfg.Log.File != "" {
		logOut = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}

	a, err := newApp(logOut)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Printf("Daemon starting, sync interval %s", a.cfg.Sync.Interval)

	var dash *dashboard.Server
	if a.cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(a.cfg.Dashboard.Addr, a.engine.Status, a.logger)
		if err := dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				a.logger.Printf("Dashboard stop: %v", err)
			}
		}()
		a.emitter.Subscribe(dashboard.NewObserver(dash))
		a.logger.Printf("Dashboard listening on %s", dash.Addr())
	}

	if a.doc != nil {
		watcher, err := textfile.NewWatcher(a.doc, a.cfg.Text.Debounce(), a.logger)
		if err != nil {
			return err
		}
		watcher.OnScan = func() {
			syncCtx, cancel := context.WithTimeout(ctx, a.cfg.Sync.Interval)
			defer cancel()
			if err := a.engine.SyncNow(syncCtx); err != nil {
				a.logger.Printf("Sync after file change: %v", err)
			}
		}
		go func() {
			if err := watcher.Start(ctx); err != nil {
				a.logger.Printf("File watcher stopped: %v", err)
			}
		}()
		defer func() {
			if err := watcher.Stop(); err != nil {
				a.logger.Printf("Watcher stop: %v", err)
			}
		}()
	}

	runCycle := func() {
		syncCtx, cancel := context.WithTimeout(ctx, a.cfg.Sync.Interval)
		defer cancel()

		if a.doc != nil {
			if err := a.doc.Scan(); err != nil {
				a.logger.Printf("Scan: %v", err)
			}
		}
		if err := a.engine.SyncNow(syncCtx); err != nil {
			a.logger.Printf("Sync: %v", err)
			return
		}
		for _, f := range loadFilters(a.cfg.Sync.Filters, a.logger) {
			if err := a.engine.SyncFilterNow(syncCtx, f.Query); err != nil {
				a.logger.Printf("Filter %q: %v", f.Name, err)
			}
		}
	}

	runCycle()

	ticker := time.NewTicker(a.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Printf("Daemon shutting down")
			return nil
		case <-ticker.C:
			runCycle()
		}
	}
}

func loadFilters(path string, logger *log.Logger) []filters.Filter {
	if path == "" {
		return nil
	}
	fs, err := filters.Load(path)
	if err != nil {
		logger.Printf("Filter manifest: %v", err)
		return nil
	}
	return fs
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
