// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"competitor-research/internal/config"
	"competitor-research/internal/domain/ports/adapter"
	pg "competitor-research/internal/infra/db/postgres"
	"competitor-research/internal/infra/engine"
	"competitor-research/internal/infra/logging"
	"competitor-research/internal/infra/metrics"
	red "competitor-research/internal/infra/redis"
	"competitor-research/internal/infra/sched"
	"competitor-research/internal/infra/web"
	"competitor-research/internal/infra/worker"
	"competitor-research/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop engine, relaxed validation)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	viewCache := red.NewViewCache(redisClient, cfg.Redis.TTL)

	// ---- Repositories ----
	jobRepo := pg.NewResearchJobRepo(pool)

	// ---- Workflow engine adapter ----
	var eng adapter.WorkflowEngineAdapter
	if cfg.Engine.BaseURL != "" {
		eng, err = engine.NewHTTPEngine(cfg.Engine.BaseURL, cfg.Engine.Token, cfg.Engine.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("engine adapter")
		}
		logger.Info().Str("base_url", cfg.Engine.BaseURL).Msg("workflow engine: http")
	} else {
		eng = engine.NewNoopEngine()
		logger.Warn().Msg("workflow engine: noop (dev mode, jobs will not progress)")
	}

	// ---- Use cases ----
	clock := usecase.SystemClock()
	jobUC := usecase.NewResearchJobUseCase(jobRepo, eng, clock, logger)
	detector := usecase.NewStallDetector(usecase.StallConfig{
		StaleThreshold:    cfg.Research.StaleThreshold,
		DiscoveryTimeout:  cfg.Research.DiscoveryTimeout,
		ExtractionTimeout: cfg.Research.ExtractionTimeout,
	}, clock)
	dispatcher := usecase.NewRecoveryDispatcher(jobRepo, eng, locker, cfg.Research.RecoveryLockTTL, logger)

	// ---- Observer ----
	obsCfg := worker.ObserverConfig{PollFast: cfg.Research.PollFast, PollSlow: cfg.Research.PollSlow}
	observer := worker.NewPollingObserver(jobRepo, detector, obsCfg, viewCache, dispatcher, clock, logger)
	defer observer.Stop()

	// ---- Stale sweeper ----
	swpPool := worker.NewPool(cfg.Research.SweepWorkers)
	swpPool.Start(ctx)
	defer swpPool.Stop()
	sweeper := sched.NewStaleSweeper(cfg.Research.SweepInterval, jobRepo, observer, detector, swpPool, clock, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Server.JWTSecret, !cfg.Runtime.Dev, "", cfg.Server.SessionTTL)
	srv := web.NewServer(jobUC, dispatcher, observer, viewCache, detector, auth, cfg.Server.AdminKey, clock, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
