// Command server runs the workflow engine's HTTP API: admission, the
// dispatcher, the trigger manager, and the REST surface all wired against
// Postgres and Redis.
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

	"github.com/fluxgraph/engine/internal/api/rest"
	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/config"
	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/connector/builtin"
	"github.com/fluxgraph/engine/internal/dispatch"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/eventstream"
	"github.com/fluxgraph/engine/internal/infrastructure/cache"
	"github.com/fluxgraph/engine/internal/infrastructure/storage"
	"github.com/fluxgraph/engine/internal/platform/logger"
	"github.com/fluxgraph/engine/internal/queue"
	"github.com/fluxgraph/engine/internal/resolver"
	"github.com/fluxgraph/engine/internal/service"
	"github.com/fluxgraph/engine/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)
	slog.SetDefault(appLogger.Slog())

	appLogger.Info("starting engine server", "port", cfg.Server.Port)

	db, err := storage.NewDB(cfg.Database)
	if err != nil {
		appLogger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer storage.Close(db)

	repos := repository.Repositories{
		Workflows:      storage.NewWorkflowRepository(db),
		Revisions:      storage.NewRevisionRepository(db),
		Runs:           storage.NewRunRepository(db),
		NodeExecutions: storage.NewNodeExecutionRepository(db),
		Events:         storage.NewEventRepository(db),
		Triggers:       storage.NewTriggerRepository(db),
	}
	appLogger.Info("repositories initialized")

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()
	appLogger.Info("redis cache connected")

	capIndex := capability.NewIndex(capability.BuiltinCatalog())

	registry := connector.NewRegistry()
	builtin.Register(registry, builtin.Options{
		HTTPTimeout:     cfg.Dispatch.DefaultOpDeadline,
		OpenAIAPIKey:    os.Getenv("ENGINE_OPENAI_API_KEY"),
		LLMCacheEntries: 1024,
	})

	llmInvoker, _ := registry.Get("llm")
	llmResolver, _ := llmInvoker.(dispatch.LLMResolver)
	dispatcher := dispatch.New(registry, capIndex, llmResolver, appLogger.Slog())

	health := queue.NewHealthProbe(storage.DBPinger{DB: db}, cfg.Queue.HealthProbeInterval, cfg.Queue.HealthProbeTimeout, appLogger.Slog())
	probeCtx, probeCancel := context.WithCancel(context.Background())
	go health.Run(probeCtx)
	defer probeCancel()

	heartbeats := queue.NewHeartbeatRegistry(cfg.Queue.HeartbeatStaleAfter)
	durableQueue := queue.NewDurableQueue(redisCache.Client())

	admitter := queue.NewAdmitter(
		health, heartbeats,
		repos.Workflows, repos.Revisions, repos.Runs,
		queue.NewQuotaManager(redisCache.Client()),
		durableQueue,
		queue.Limits{
			ExecutionQuota:    cfg.Queue.DefaultOrgExecQuota,
			UsageQuota:        int64(cfg.Queue.DefaultUsageQuota),
			ConnectorInFlight: cfg.Queue.PerConnectorInFlight,
		},
		appLogger.Slog(),
	)

	metadataResolver := resolver.New(func(app string) (resolver.Describer, bool) {
		inv, err := registry.Get(app)
		if err != nil {
			return nil, false
		}
		describer, ok := inv.(resolver.Describer)
		return describer, ok
	}, redisCache, appLogger.Slog())

	triggerMgr, err := trigger.NewManager(trigger.ManagerConfig{
		TriggerRepo: repos.Triggers,
		Admitter:    admitter,
		Cache:       redisCache,
		Logger:      appLogger.Slog(),
	})
	if err != nil {
		appLogger.Error("failed to initialize trigger manager", "error", err)
		os.Exit(1)
	}
	if err := triggerMgr.Start(); err != nil {
		appLogger.Error("failed to start trigger manager", "error", err)
		os.Exit(1)
	}
	appLogger.Info("trigger manager started")

	streams := eventstream.NewRegistry()

	ops := service.New(service.Config{
		Repos:      repos,
		CapIndex:   capIndex,
		Dispatcher: dispatcher,
		Admitter:   admitter,
		Health:     health,
		Heartbeats: heartbeats,
		Resolver:   metadataResolver,
		TriggerMgr: triggerMgr,
		Streams:    streams,
		Logger:     appLogger.Slog(),
	})

	workerPool := queue.NewWorkerPool(
		durableQueue, heartbeats, ops,
		cfg.Queue.WorkerCount, cfg.Queue.WorkerPopTimeout, cfg.Queue.WorkerVisibility,
		appLogger.Slog(),
	)
	workerPool.Start()
	appLogger.Info("queue worker pool started", "workers", cfg.Queue.WorkerCount)

	router := rest.NewRouter(rest.Dependencies{
		Ops:            ops,
		CapIndex:       capIndex,
		Health:         health,
		Heartbeats:     heartbeats,
		WebhookManager: triggerMgr,
		Logger:         appLogger,
		MaxBodyBytes:   10 << 20,
		CORSOrigins:    cfg.Server.CORSAllowedOrigins,
		JWTSecret:      cfg.Server.JWTSecret,
		APIKeys:        cfg.Server.APIKeys,
		Streams:        streams,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			appLogger.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		appLogger.Info("server shutdown initiated", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := triggerMgr.Stop(); err != nil {
			appLogger.Error("trigger manager shutdown failed", "error", err)
		} else {
			appLogger.Info("trigger manager stopped")
		}

		workerPool.Stop()
		appLogger.Info("queue worker pool stopped")

		if err := httpServer.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := httpServer.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}

		appLogger.Info("server stopped")
	}
}
