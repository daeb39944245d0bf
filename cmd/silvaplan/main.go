package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/silvaplan/silvaplan/internal/adapter/email"
	"github.com/silvaplan/silvaplan/internal/adapter/gdal"
	sphttp "github.com/silvaplan/silvaplan/internal/adapter/http"
	spnats "github.com/silvaplan/silvaplan/internal/adapter/nats"
	"github.com/silvaplan/silvaplan/internal/adapter/postgres"
	"github.com/silvaplan/silvaplan/internal/adapter/ristretto"
	"github.com/silvaplan/silvaplan/internal/config"
	"github.com/silvaplan/silvaplan/internal/forsys"
	"github.com/silvaplan/silvaplan/internal/impacts"
	"github.com/silvaplan/silvaplan/internal/logger"
	"github.com/silvaplan/silvaplan/internal/port/raster"
	"github.com/silvaplan/silvaplan/internal/resilience"
	"github.com/silvaplan/silvaplan/internal/standindex"
	"github.com/silvaplan/silvaplan/internal/workflow"
	"github.com/silvaplan/silvaplan/internal/zonal"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			if err := runMigrate(os.Args[2:]); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			return
		case "seed-stands":
			if err := runSeedStands(os.Args[2:]); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	log.Info("config loaded",
		"port", cfg.Server.Port,
		"internal_epsg", cfg.Raster.InternalEPSG,
		"optimizer_mode", cfg.Optimizer.Mode,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := spnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer queue.Close()
	log.Info("nats connected")

	windowCache, err := ristretto.New[*raster.Grid](cfg.Raster.WindowCacheMB << 20)
	if err != nil {
		return fmt.Errorf("window cache: %w", err)
	}
	defer windowCache.Close()

	// --- Pipeline ---

	store := postgres.NewStore(pool)
	catalogue := gdal.NewCatalogue(cfg.Raster, windowCache, log)
	index := standindex.New(store, log)
	engine := zonal.NewEngine(store, catalogue, log)

	var runner forsys.Runner
	if cfg.Optimizer.Mode == "rpc" {
		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		runner = forsys.NewRPCRunner(cfg.Optimizer, breaker, log)
	} else {
		runner = forsys.NewSubprocessRunner(cfg.Optimizer, log)
	}

	coordinator := workflow.NewCoordinator(cfg.Workflow, store, queue,
		email.NewNotifier(cfg.SMTP),
		forsys.NewBuilder(store, index, engine, log),
		runner,
		forsys.NewIngestor(store, index, log),
		impacts.NewEngine(store, engine, log),
		log)

	stopWorkers, err := coordinator.Start(ctx)
	if err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	defer stopWorkers()

	// --- HTTP ---

	handlers := &sphttp.Handlers{
		Store:     store,
		Queue:     queue,
		Catalogue: catalogue,
		Runs:      coordinator,
		Logger:    log,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	sphttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queue.Drain(); err != nil {
		log.Warn("queue drain failed", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
