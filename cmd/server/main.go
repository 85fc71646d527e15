package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eduaudit/internal/audit"
	auditconfig "eduaudit/internal/audit/config"
	"eduaudit/internal/audit/export"
	"eduaudit/internal/audit/handler"
	"eduaudit/internal/audit/pipeline"
	"eduaudit/internal/audit/store/memory"
	"eduaudit/internal/audit/store/postgres"
	"eduaudit/internal/platform/config"
	"eduaudit/internal/platform/httpserver"
	"eduaudit/internal/platform/logger"
	"eduaudit/internal/platform/metrics"
	"eduaudit/internal/platform/middleware"
)

// main wires high-level dependencies, exposes the admin router, and keeps the
// server lifecycle small. Pipeline logic lives in internal/audit packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Environment)

	auditCfg := auditconfig.OverlayEnv(auditconfig.ForEnvironment(cfg.Environment))
	cfgManager := auditconfig.NewManager(auditCfg)

	store, closeStore, err := buildStore(cfg, auditCfg)
	if err != nil {
		log.Error("failed to build audit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	archives, err := export.NewWriter(cfg.ArchiveDir)
	if err != nil {
		log.Error("failed to prepare archive directory", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	pipe, err := pipeline.New(store, cfgManager,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithArchiver(archives),
	)
	if err != nil {
		log.Error("failed to build audit pipeline", "error", err)
		os.Exit(1)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go func() {
		if err := pipe.Run(runCtx); err != nil {
			log.Error("audit pipeline stopped unexpectedly", "error", err)
		}
	}()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.ClientMetadata)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin([]byte(cfg.JWTSigningKey), log))
		handler.New(store, pipe, log).
			WithArchives(archives).
			WithMaintenance(pipe).
			Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting eduaudit", "addr", cfg.Addr, "environment", cfg.Environment)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	// Stop schedulers first, then flush whatever is still queued.
	if err := pipe.Shutdown(ctx); err != nil {
		log.Error("audit pipeline shutdown failed", "error", err)
		os.Exit(1)
	}
}

// buildStore selects postgres when DATABASE_URL is set, otherwise the
// in-memory store for local development.
func buildStore(cfg config.Server, auditCfg auditconfig.Config) (audit.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return memory.NewInMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	store := postgres.New(db)
	if err := store.EnsureSchema(ctx, auditCfg.EnableIndexing); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}
