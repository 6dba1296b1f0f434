// auditcore is the orchestration server: it durably queues audit jobs,
// drives the three-phase LLM-guided pipeline over them, and streams job
// and reasoning-session status over HTTP/WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/api"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/chunkstore"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/cleanup"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/database"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/dispatcher"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/llmclient"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/masking"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/pipeline"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/reasoning"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/statuschannel"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/tools"
)

// statusWriteTimeout bounds how long the status manager waits when pushing
// one snapshot or broadcast frame to a slow WebSocket subscriber.
const statusWriteTimeout = 5 * time.Second

// dispatchBurstSize bounds how many pending jobs one /submit call's burst
// claim drains in a single round trip; see pkg/dispatcher.New.
const dispatchBurstSize = 10

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

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	log.Printf("Starting auditcore")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	stats := cfg.Stats()
	log.Printf("Configuration loaded: %d tiers, %d LLM providers", stats.Tiers, stats.LLMProviders)

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	db := dbClient.DB()
	log.Println("Connected to PostgreSQL database")

	// Stores
	preflights := preflight.NewStore(db)
	chunks := chunkstore.NewStore(db)
	reasoningStore := reasoning.NewStore(db)
	statusStore := statuschannel.NewStore(db)
	q := queue.NewQueue(db)

	// LLM client for the default provider. A tier that names a different
	// provider would need its own client; this deployment runs one
	// reasoning Loop over cfg.Defaults.LLMProvider, matching
	// pkg/api.Server's "no per-request tool wiring" contract.
	llm, err := buildDefaultLLMClient(cfg)
	if err != nil {
		log.Fatalf("Failed to build LLM client: %v", err)
	}

	// Source masking, applied to every file fetched from GitHub before it
	// reaches a prompt or is persisted in a reasoning step.
	masker := masking.NewService(cfg.Defaults.SourceMasking)

	if os.Getenv(cfg.GitHub.TokenEnv) == "" {
		log.Printf("Warning: %s is not set; GitHub tools will only reach public repositories", cfg.GitHub.TokenEnv)
	}
	githubClient := tools.NewGithubClient()

	registry := tools.NewRegistry()
	registry.RegisterMany([]tools.Tool{
		tools.NewAnalyzeCodeFilesTool(llm),
		tools.NewCalculateHealthScoreTool(),
		tools.NewGenerateSummaryTool(llm),
		tools.NewDeepAIAnalysisTool(llm),
		tools.NewQueryDBTool(db),
		tools.NewSaveAuditResultsTool(db, chunks),
		tools.NewGetPreflightTool(preflights),
		tools.NewFetchGithubFileTool(githubClient).WithMasker(masker),
		tools.NewListRepoFilesTool(githubClient),
		tools.NewGetRepoInfoTool(githubClient),
	})

	loop := reasoning.New(llm, registry, reasoningStore)

	// Pipeline: three-phase (plan -> work -> coordinate) job executor.
	planner := pipeline.NewPlanner(llm)
	workers := pipeline.NewWorkers(loop, registry)
	coordinator := pipeline.NewCoordinator(llm)
	auditRepo := pipeline.NewAuditRepository(db, chunks)
	statusManager := statuschannel.NewManager(statusStore, statusWriteTimeout)
	exec := pipeline.New(preflights, cfg.TierRegistry, planner, workers, coordinator, auditRepo, statusStore)

	// Queue: durable worker pool draining jobs into the pipeline.
	podID := getEnv("POD_ID", "auditcore-0")
	pool := queue.NewWorkerPool(podID, db, cfg.Queue, exec)
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	defer pool.Stop()

	disp := dispatcher.New(q, pool, dispatchBurstSize, defaultInt(cfg.Defaults.MaxAttempts, 0))

	// NOTIFY/LISTEN fan-out of status updates to WebSocket subscribers.
	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Password, dbConfig.Database, dbConfig.SSLMode)
	notifyListener := statuschannel.NewNotifyListener(connString, statusManager)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("Failed to start status NOTIFY listener: %v", err)
	}
	statusManager.SetListener(notifyListener)
	defer notifyListener.Stop(context.Background())

	// Retention sweep: expired preflights, aged audit records, terminal
	// reasoning sessions.
	cleanupSvc := cleanup.NewService(cfg.Retention, preflights, chunks, reasoningStore)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	server := api.NewServer(cfg, db, preflights, q, disp, statusStore, statusManager, loop)

	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during HTTP shutdown: %v", err)
	}
}

// buildDefaultLLMClient resolves cfg.Defaults.LLMProvider from the registry
// and constructs an HTTP completion client for it, reading its API key from
// the provider's configured environment variable.
func buildDefaultLLMClient(cfg *config.Config) (llmclient.Client, error) {
	providerName := cfg.Defaults.LLMProvider
	provider, err := cfg.GetLLMProvider(providerName)
	if err != nil {
		return nil, fmt.Errorf("resolving default LLM provider %q: %w", providerName, err)
	}

	var apiKey string
	if provider.APIKeyEnv != "" {
		apiKey = os.Getenv(provider.APIKeyEnv)
		if apiKey == "" {
			log.Printf("Warning: %s is not set for LLM provider %q", provider.APIKeyEnv, providerName)
		}
	}

	return llmclient.NewHTTPClient(provider, apiKey), nil
}

func defaultInt(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}
