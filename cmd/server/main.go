package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"movement-tally/internal/counting"
	"movement-tally/internal/platform/config"
	"movement-tally/internal/platform/logger"
	"movement-tally/internal/platform/metrics"
	"movement-tally/internal/storage/sqlite"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.New("error", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	store := counting.Store(counting.NewInMemoryStore())
	if cfg.StoreBackend == config.BackendSQLite {
		db, err := sqlite.Open(cfg.SQLitePath, logger.WithComponent(log, "sqlite"))
		if err != nil {
			log.Error("open sqlite store", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = db
	}

	repo := counting.NewInMemoryRepositoryWithStore(store)
	svc := counting.NewService(repo, cfg.BucketSeconds)
	met := metrics.New()
	h := counting.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met, "/metrics"))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(repo.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"bucket_seconds", cfg.BucketSeconds,
		"store_backend", cfg.StoreBackend,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
