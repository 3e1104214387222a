package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/agents"
	"github.com/metadeep/orchestrator/internal/config"
	"github.com/metadeep/orchestrator/internal/health"
	"github.com/metadeep/orchestrator/internal/history"
	"github.com/metadeep/orchestrator/internal/httpapi"
	"github.com/metadeep/orchestrator/internal/jobstore"
	"github.com/metadeep/orchestrator/internal/llm"
	"github.com/metadeep/orchestrator/internal/models"
	"github.com/metadeep/orchestrator/internal/orchestrator"
	"github.com/metadeep/orchestrator/internal/planner"
	"github.com/metadeep/orchestrator/internal/ratecontrol"
	"github.com/metadeep/orchestrator/internal/synthesis"
	"github.com/metadeep/orchestrator/internal/tracing"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	promptsPath := os.Getenv("PROMPTS_PATH")
	if promptsPath == "" {
		promptsPath = "./config/prompts.yaml"
	}
	prompts, err := config.NewManager(promptsPath, logger)
	if err != nil {
		logger.Fatal("Failed to load prompt configuration", zap.Error(err))
	}
	defer prompts.Close()

	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize job store", zap.Error(err))
	}
	defer store.Close()

	var archive *history.Client
	if cfg.History.Enabled {
		archive, err = history.NewClient(history.Config{
			Host:     cfg.History.Host,
			Port:     cfg.History.Port,
			User:     cfg.History.User,
			Password: cfg.History.Password,
			Database: cfg.History.Database,
			SSLMode:  cfg.History.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize history database", zap.Error(err))
		}
		defer archive.Close()
	} else {
		logger.Info("History persistence disabled")
	}

	rate := ratecontrol.NewController(nil)
	anthropic := llm.NewClient(
		cfg.Providers.AnthropicBaseURL,
		func() string { return config.LoadProviderKeys().Anthropic },
		rate,
		logger,
	)

	adapterOpts := func(baseURL string, key func() string) agents.Options {
		return agents.Options{
			BaseURL:      baseURL,
			Key:          key,
			Prompts:      prompts,
			Rate:         rate,
			Logger:       logger,
			PollInterval: cfg.Providers.PollInterval,
		}
	}

	var hist orchestrator.HistoryWriter
	if archive != nil {
		hist = archive
	}
	orch, err := orchestrator.New(
		store,
		[]agents.Adapter{
			agents.NewGeminiAdapter(adapterOpts(cfg.Providers.GeminiBaseURL,
				func() string { return config.LoadProviderKeys().Gemini })),
			agents.NewOpenAIAdapter(adapterOpts(cfg.Providers.OpenAIBaseURL,
				func() string { return config.LoadProviderKeys().OpenAI })),
			agents.NewPerplexityAdapter(adapterOpts(cfg.Providers.PerplexityBaseURL,
				func() string { return config.LoadProviderKeys().Perplexity })),
		},
		planner.New(anthropic, prompts, logger),
		synthesis.New(anthropic, prompts, logger),
		hist,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to build orchestrator", zap.Error(err))
	}

	// Admin surface: health, readiness, metrics.
	hm := health.NewManager(logger)
	hm.Register(health.NewPingChecker("jobstore", true, store.Ping))
	if archive != nil {
		hm.Register(health.NewPingChecker("history", false, archive.Ping))
	}
	hm.Register(health.NewCredentialChecker(func() map[string]bool {
		keys := config.LoadProviderKeys()
		return map[string]bool{
			string(models.AgentGemini):     keys.Gemini != "",
			string(models.AgentOpenAI):     keys.OpenAI != "",
			string(models.AgentPerplexity): keys.Perplexity != "",
			"anthropic":                    keys.Anthropic != "",
		}
	}))

	adminMux := http.NewServeMux()
	adminMux.Handle("/health", hm.Handler())
	adminMux.Handle("/api/health", hm.Handler())
	adminMux.Handle("/metrics", promhttp.Handler())
	adminSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Starting admin HTTP server", zap.Int("port", cfg.Server.HealthPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// Research API.
	apiMux := http.NewServeMux()
	var reader httpapi.HistoryReader
	if archive != nil {
		reader = archive
	}
	httpapi.NewHandler(orch, reader, logger).RegisterRoutes(apiMux)
	apiSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiMux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("Starting research API server", zap.Int("port", cfg.Server.Port))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Research API server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Research API shutdown error", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin HTTP shutdown error", zap.Error(err))
	}

	// Let in-flight research runs reach a terminal phase.
	orch.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func newStore(cfg *config.Config, logger *zap.Logger) (jobstore.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return jobstore.NewSQLiteStore(cfg.Store.SQLitePath, logger)
	case "redis":
		return jobstore.NewRedisStore(cfg.Store.RedisAddr, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
