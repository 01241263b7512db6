package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strivelab/habit-flow/habitflow"
	"github.com/strivelab/habit-flow/habitflow/cache"
	"github.com/strivelab/habit-flow/habitflow/database"
	"github.com/strivelab/habit-flow/habitflow/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := habitflow.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting habitflow XP core",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbStart := time.Now()
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStart)))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Database connected",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStart)))

	// Redis is best-effort: without it awards credit the durable store
	// directly and live reads fall back to durable totals.
	redis, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("Redis unavailable, running with durable fallbacks only",
			slog.Any("error", err))
		redis = nil
	} else {
		defer redis.Close()
	}

	app := habitflow.New(*cfg, version, commit, db, redis)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	app.StartFlushLoop(runCtx)

	slog.Info("habitflow is ready")
	<-runCtx.Done()

	// Drain whatever already closed before shutting down.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), time.Minute)
	defer flushCancel()
	if _, err := app.Flusher.TryFlush(flushCtx, false); err != nil {
		slog.Warn("Final flush failed", slog.Any("error", err))
	}
	slog.Info("Shutting down")
}
