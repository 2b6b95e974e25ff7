// LOOM.BUILD orchestration engine entrypoint: wires config, persistence,
// the AI provider chain, the orchestrator, and the background run scheduler
// behind the HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/config"
	"loom-build/internal/database"
	"loom-build/internal/db"
	"loom-build/internal/handlers"
	"loom-build/internal/logging"
	"loom-build/internal/orchestrator"
	"loom-build/internal/runs"
	"loom-build/internal/storage"
	"loom-build/internal/tools"
)

func main() {
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	cfg := config.Load()

	gormDB, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer gormDB.Close()

	if err := database.Migrate(gormDB.DB, cfg.DatabaseType, cfg.MigrationsPath, log); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	chain := buildChain(cfg, log)

	breakers := orchestrator.NewBreakerRegistry(orchestrator.BreakerThresholds{
		FuelBudget:    cfg.FuelBudget,
		MaxRetries:    cfg.MaxRetries,
		MaxSessionAge: cfg.MaxSessionAge,
	})
	registry := tools.NewRegistry()
	executor := orchestrator.NewExecutor(chain, registry, breakers, cfg.MaxToolSteps, log)
	router := orchestrator.NewRouter(orchestrator.NewAIPlanner(chain), cfg.MaxSubtasks, log)
	flow := orchestrator.NewActionFlow(executor, 2*time.Second, log)
	coordinator := orchestrator.NewParallelCoordinator(executor, router, log)
	audit := orchestrator.NewAuditPipeline(executor, log)

	store := runs.NewStore(gormDB.DB)
	events := runs.NewEventLog(store, log)
	cache := runs.NewRunCache(cfg.RedisURL, log)
	defer cache.Close()

	scheduler := runs.NewScheduler(store, events, cache, runs.SchedulerConfig{
		DefaultMaxAttempts: cfg.DefaultMaxAttempts,
		RetryBackoff:       cfg.RetryBackoff,
		DispatchLimit:      cfg.DispatchLimit,
	}, log)

	var artifacts storage.ArtifactStore
	if cfg.ArtifactBucket != "" {
		s3Store, err := storage.NewS3Store(context.Background(), cfg.ArtifactBucket, cfg.ArtifactRegion)
		if err != nil {
			log.Warn("artifact store unavailable, keeping manifests inline", zap.Error(err))
		} else {
			artifacts = s3Store
		}
	}
	release := runs.NewReleaseWorker(cfg.ExpoToken, artifacts, log)
	for _, action := range []string{runs.ActionWeb, runs.ActionAndroid, runs.ActionIOS} {
		scheduler.RegisterWorker(action, release)
	}

	h := handlers.New(router, flow, coordinator, audit, scheduler, chain, log)
	engine := handlers.NewRouter(h, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	events.Flush()
}

// buildChain assembles AI clients from configured credentials in priority
// order: Claude, OpenAI, then local Ollama.
func buildChain(cfg *config.Config, log *zap.Logger) *ai.FallbackChain {
	var clients []ai.AIClient
	if cfg.AnthropicAPIKey != "" {
		clients = append(clients, ai.NewClaudeClient(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		clients = append(clients, ai.NewOpenAIClient(cfg.OpenAIAPIKey))
	}
	if cfg.OllamaBaseURL != "" {
		clients = append(clients, ai.NewOllamaClient(cfg.OllamaBaseURL))
	}
	if len(clients) == 0 {
		log.Warn("no AI providers configured; all requests will use the local fallback")
	}
	return ai.NewFallbackChain(clients, ai.NewHealthBoard(), log)
}
