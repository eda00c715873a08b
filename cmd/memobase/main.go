// Memobase server — long-term memory for conversational agents: blob
// ingestion, buffered consolidation into user profiles and events, and
// a composed memory context API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sekai-app/sekai-memobase/pkg/api"
	"github.com/sekai-app/sekai-memobase/pkg/cleanup"
	"github.com/sekai-app/sekai-memobase/pkg/composer"
	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/coordination"
	"github.com/sekai-app/sekai-memobase/pkg/database"
	"github.com/sekai-app/sekai-memobase/pkg/flush"
	"github.com/sekai-app/sekai-memobase/pkg/llm"
	"github.com/sekai-app/sekai-memobase/pkg/pipeline"
	"github.com/sekai-app/sekai-memobase/pkg/services"
	"github.com/sekai-app/sekai-memobase/pkg/tokens"
	"github.com/sekai-app/sekai-memobase/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8019")

	slog.Info("Starting memobase",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. PostgreSQL (with embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Redis coordination store (locks, work queues, profile cache)
	store, err := coordination.NewStore(ctx, coordination.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to connect to coordination store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing coordination store", "error", err)
		}
	}()
	slog.Info("Connected to coordination store")

	// 4. Token counter and domain services
	counter, err := tokens.NewCounter(cfg.LLM.Model)
	if err != nil {
		slog.Error("Failed to initialize token counter", "error", err)
		os.Exit(1)
	}

	pool := dbClient.Pool()
	userService := services.NewUserService(pool)
	projectService := services.NewProjectService(pool, cfg.Profile)
	blobService := services.NewBlobService(pool)
	bufferService := services.NewBufferService(pool)
	profileService := services.NewProfileService(pool, store.Cache)
	statusService := services.NewStatusService(pool)

	rootToken := os.Getenv("PROJECT_TOKEN")
	if rootToken == "" {
		slog.Error("PROJECT_TOKEN must be set")
		os.Exit(1)
	}
	if err := projectService.EnsureRootProject(ctx, rootToken); err != nil {
		slog.Error("Failed to ensure root project", "error", err)
		os.Exit(1)
	}
	slog.Info("Services initialized")

	// 5. LLM gateway
	gateway, err := llm.NewOpenAIGateway(cfg.LLM, projectService, counter)
	if err != nil {
		slog.Error("Failed to initialize LLM gateway", "error", err)
		os.Exit(1)
	}
	eventService := services.NewEventService(pool, gateway, counter)
	slog.Info("LLM gateway initialized", "model", cfg.LLM.Model)

	// 6. Consolidation pipeline, flush scheduler, and runner pool
	pipe := pipeline.New(bufferService, profileService, eventService, blobService, gateway, counter, cfg.Flush)
	scheduler := flush.NewScheduler(bufferService, store, pipe, projectService, cfg.Flush)
	runnerPool := flush.NewPool(scheduler)
	runnerPool.Start(ctx)
	slog.Info("Flush runner pool started", "runners", cfg.Flush.RunnerCount)

	cleanupService := cleanup.NewService(cfg.Retention, bufferService, eventService)
	cleanupService.Start(ctx)

	// 7. Context composer and HTTP server
	contextComposer := composer.New(profileService, eventService, gateway, counter, cfg.Context)
	server := api.NewServer(api.ServerDeps{
		Auth:     projectService,
		Users:    userService,
		Projects: projectService,
		Blobs:    blobService,
		Buffers:  bufferService,
		Profiles: profileService,
		Events:   eventService,
		Statuses: statusService,
		Flusher:  scheduler,
		Composer: contextComposer,
		Counter:  counter,
		Health: []api.HealthChecker{
			pool.Ping,
			store.HealthCheck,
		},
	})

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Memobase started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests, then drain runners
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cleanupService.Stop()
	runnerPool.Stop()
	slog.Info("Shutdown complete")
}
