package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Largonarco/RateX/internal/config"
	"github.com/Largonarco/RateX/internal/infrastructure/monitoring"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/internal/infrastructure/queue"
	"github.com/Largonarco/RateX/internal/infrastructure/ratelimit"
	httpiface "github.com/Largonarco/RateX/internal/interfaces/http"
	"github.com/Largonarco/RateX/internal/interfaces/http/handlers"
	"github.com/Largonarco/RateX/internal/worker"
)

func main() {
	startupLogger, err := monitoring.NewZapLogger(&config.Log{Level: "info"})
	if err != nil {
		log.Fatalf("failed to create startup logger: %v", err)
	}

	cfg, err := config.LoadConfig(startupLogger)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := monitoring.NewTracingManager(&cfg.Trace, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize tracing", err)
	}

	conn, err := redis.NewConnection(&cfg.Redis, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to connect to redis", err)
	}
	defer conn.Close()

	metrics := monitoring.NewMetrics()
	kv := redis.NewKVStore(conn, cfg.Store.MaxRetries, cfg.Store.RetryDelay, appLogger)
	apps := redis.NewAppRepository(kv, appLogger)
	outcomes := redis.NewOutcomeStore(kv, appLogger)
	engine := ratelimit.NewEngine(kv, appLogger)
	allocator := queue.NewNodeAllocator(kv, appLogger)

	upstreamClient := &http.Client{Timeout: 30 * time.Second}

	manager := worker.NewManager(cfg.Queue, kv, allocator, worker.Deps{
		Apps:     apps,
		Limiter:  engine,
		Outcomes: outcomes,
		Client:   upstreamClient,
		Metrics:  metrics,
		Logger:   appLogger,
	}, metrics, appLogger)

	if err := manager.Start(ctx); err != nil {
		appLogger.Fatal(ctx, "failed to start worker pool manager", err)
	}

	router := httpiface.NewRouter(httpiface.Dependencies{
		Config:        cfg,
		Logger:        appLogger,
		Tracing:       tracing,
		ProxyHandler:  handlers.NewProxyHandler(apps, engine, manager.Queue(), upstreamClient, metrics, appLogger),
		StatusHandler: handlers.NewStatusHandler(outcomes, appLogger),
		HealthHandler: handlers.NewHealthHandler(conn, appLogger),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return router.Start()
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := manager.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "worker pool shutdown failed", err)
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "tracing shutdown failed", err)
		}
		return router.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Fatal(context.Background(), "gateway exited with error", err)
	}
	appLogger.Info(context.Background(), "gateway stopped")
}
