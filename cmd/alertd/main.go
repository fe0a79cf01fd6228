package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"spacenexus/internal/alert"
	"spacenexus/internal/api"
	"spacenexus/internal/config"
	"spacenexus/internal/scheduler"
	"spacenexus/internal/storage"
	"spacenexus/internal/watchlist"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()
	store.SetLogger(log.With("component", "storage"))

	alerts := alert.New(store, alert.DefaultRegistry(), log.With("component", "alerts"))

	watch := watchlist.New(store, log.With("component", "watchlist"))
	watch.SetWindow(cfg.WatchlistWindow)

	sched := scheduler.New(watch, log.With("component", "scheduler"))
	sched.SetTickInterval(cfg.WatchlistInterval)

	srv := api.NewServer(cfg.HTTPAddr, api.Deps{
		Auth:       cfg,
		Alerts:     alerts,
		Watchlist:  watch,
		Deliveries: store,
		Log:        log.With("component", "api"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.CronSecret == "" {
		log.Warn("CRON_SECRET is not set, /api routes are unauthenticated")
	}
	log.Info("starting alertd", "addr", cfg.HTTPAddr, "watchlist_interval", cfg.WatchlistInterval)

	go sched.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown http server", "error", err)
	}

	log.Info("alertd stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
