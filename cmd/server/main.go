package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ErlanBelekov/durably/config"
	"github.com/ErlanBelekov/durably/internal/demojobs"
	"github.com/ErlanBelekov/durably/internal/durably"
	"github.com/ErlanBelekov/durably/internal/health"
	"github.com/ErlanBelekov/durably/internal/httpapi"
	"github.com/ErlanBelekov/durably/internal/httpapi/handler"
	"github.com/ErlanBelekov/durably/internal/metrics"
	"github.com/ErlanBelekov/durably/internal/obslog"
	"github.com/ErlanBelekov/durably/internal/storage/sqlite"
	"github.com/ErlanBelekov/durably/internal/worker"
)

// main wires the engine into a single process: one worker, one HTTP API,
// sharing the same database handle.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := obslog.New(cfg.Env, cfg.SlogLevel(), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer func() { _ = db.Close() }()

	facade := durably.New(db, durably.Options{
		Logger: logger,
		WorkerConfig: worker.Config{
			PollingInterval:   time.Duration(cfg.PollIntervalMS) * time.Millisecond,
			HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond,
			StaleThreshold:    time.Duration(cfg.StaleThresholdMS) * time.Millisecond,
		},
	})

	if _, err := demojobs.Register(facade.Registry, logger); err != nil {
		stop()
		log.Fatalf("register demo jobs: %v", err)
	}

	if err := facade.Init(ctx); err != nil {
		stop()
		log.Fatalf("init engine: %v", err)
	}
	defer facade.Stop()

	metrics.Register()
	checker := health.NewChecker(db, logger, prometheus.DefaultRegisterer)

	adminKey := []byte(cfg.AdminTokenSecret)
	h := handler.New(facade, facade.Registry, adminKey, 10*time.Minute, logger)
	router := httpapi.NewRouter(logger, h, adminKey)

	srv := http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}
