package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/sqlagent/internal/agent"
	"github.com/nidhogg/sqlagent/internal/api"
	"github.com/nidhogg/sqlagent/internal/command"
	"github.com/nidhogg/sqlagent/internal/config"
	"github.com/nidhogg/sqlagent/internal/events"
	"github.com/nidhogg/sqlagent/internal/memory"
	"github.com/nidhogg/sqlagent/internal/provider"
	"github.com/nidhogg/sqlagent/internal/sqlrunner"
	"github.com/nidhogg/sqlagent/internal/user"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/sqlagent.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("configuration is incomplete, check your .env file", zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	router.Register(newProvider("primary", cfg.LLM, logger))
	var fallbacks []string
	for i, fc := range cfg.LLM.Fallbacks {
		if fc.APIKey == "" {
			logger.Info("skipping fallback provider without api key", zap.String("provider", fc.Provider))
			continue
		}
		id := fmt.Sprintf("fallback-%d", i+1)
		router.Register(newProvider(id, fc, logger))
		fallbacks = append(fallbacks, id)
	}
	router.SetFallbacks(fallbacks)

	// Connect to the analytics database
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	runner, err := sqlrunner.NewPostgres(ctx, cfg.Database.URL, sqlrunner.Options{
		MaxRows:      cfg.Database.MaxRows,
		QueryTimeout: cfg.Database.QueryTimeout.Std(),
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL, check DATABASE_URL", zap.Error(err))
	}

	// Memory events are optional
	var publisher events.Publisher = events.Nop{}
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		bus, busErr := events.NewRedisBus(ctx, cfg.Redis.URL, logger)
		cancel()
		if busErr != nil {
			logger.Warn("Redis unavailable, memory events disabled", zap.Error(busErr))
		} else {
			publisher = bus
		}
	}
	forwarder := events.NewForwarder(publisher, 1024, logger)

	store := memory.NewStore(cfg.Memory.MaxItems, logger, memory.WithObserver(forwarder))
	logger.Info("Agent memory ready", zap.Int("max_items", store.MaxItems()))

	tools := agent.NewToolRegistry()
	agent.RegisterBuiltinTools(tools, store, runner)
	engine := agent.NewEngine(router, store, tools, agent.Options{}, logger)

	resolver := &user.CookieResolver{
		CookieName:   cfg.Auth.CookieName,
		DefaultEmail: cfg.Auth.DefaultEmail,
		AdminEmails:  cfg.Auth.AdminEmails,
	}
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands)
	command.RegisterMemoryCommands(commands, store, store)

	handler := api.NewHandler(engine, commands, store, router, resolver, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("SQL agent listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down SQL agent...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	forwarder.Close()
	publisher.Close()
	runner.Close()
	logger.Info("SQL agent stopped")
}

func newProvider(id string, lc config.LLMConfig, logger *zap.Logger) provider.Provider {
	pc := provider.ProviderConfig{
		ID:       id,
		Type:     lc.Provider,
		Name:     lc.Provider + "/" + lc.Model,
		Endpoint: lc.Endpoint,
		APIKey:   lc.APIKey,
		Model:    lc.Model,
		Extra:    lc.Extra,
		Timeout:  lc.Timeout.Std(),
	}
	switch lc.Provider {
	case "openai":
		return provider.NewOpenAIProvider(pc, logger)
	case "anthropic":
		return provider.NewAnthropicProvider(pc, logger)
	default:
		return provider.NewGeminiProvider(pc, logger)
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}
