package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eargollo/warren/internal/api"
	"github.com/eargollo/warren/internal/config"
	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
	"github.com/eargollo/warren/internal/media"
	"github.com/eargollo/warren/internal/scan"
	"github.com/eargollo/warren/internal/scheduler"
	"github.com/eargollo/warren/internal/session"
	"github.com/eargollo/warren/internal/trash"
	"github.com/eargollo/warren/internal/watch"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("warren starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"library_paths", cfg.LibraryPaths)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}
	store := db.NewStore(database)

	// Close scans left 'running' by a previous process.
	if n, err := store.MarkStaleRunning(context.Background()); err != nil {
		slog.Warn("mark stale scans", "error", err)
	} else if n > 0 {
		slog.Info("closed stale scans from previous run", "count", n)
	}

	// ── Renderer and engine ────────────────────────────────────────────────
	render, err := media.NewRenderer(cfg.CacheDir)
	if err != nil {
		slog.Error("create cache dirs", "error", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{
		Workers:            cfg.Engine.Workers,
		NotificationBuffer: cfg.Engine.NotificationBuffer,
		BackpressureDepth:  cfg.Engine.BackpressureDepth,
	})

	lib := library.New(store, render, eng, cfg)
	scans := scan.NewManager(eng, lib, store, cfg)
	sessions := session.NewManager(lib)
	bin := trash.New(database, cfg.TrashDir, cfg.TrashRetentionDays)
	maint := scheduler.NewMaintenance(store, lib, render, eng, bin)
	hub := api.NewHub(eng.Notifications())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New(maint)
	if cfg.Schedule != "" {
		if err := sched.Schedule(cfg.Schedule); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// ── Background index of the library roots ──────────────────────────────
	for _, root := range cfg.LibraryPaths {
		if _, err := scans.StartIndex(ctx, root); err != nil {
			slog.Warn("background index failed to start", "root", root, "error", err)
		}
	}

	// ── Server, watcher, event hub ─────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	// The hub runs outside the group: it must keep draining until the
	// engine closes the notification channel during shutdown below.
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(gctx)
	}()

	if !cfg.WatchOff && len(cfg.WatchPaths) > 0 {
		watcher, err := watch.New(lib, cfg, cfg.WatchPaths)
		if err != nil {
			slog.Warn("filesystem watcher unavailable", "error", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	srv := api.New(cfg.HTTPAddr, api.Deps{
		Cfg:      cfg,
		Store:    store,
		Engine:   eng,
		Scans:    scans,
		Sessions: sessions,
		Sched:    sched,
		Maint:    maint,
		Lib:      lib,
		Trash:    bin,
		Hub:      hub,
		Version:  version,
	})
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()

	// Drain the engine last: workers finish their current task, queued work
	// is discarded, the hub sees the channel close.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := eng.Shutdown(shutdownCtx); serr != nil {
		// Timed out: the notification channel never closed, so do not wait
		// for the hub.
		slog.Warn("engine shutdown incomplete", "error", serr)
	} else {
		<-hubDone
	}

	if err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("warren stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
