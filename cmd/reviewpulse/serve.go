package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reviewpulse/internal/analysis"
	"reviewpulse/internal/cache"
	"reviewpulse/internal/catalog"
	"reviewpulse/internal/config"
	"reviewpulse/internal/handlers"
	"reviewpulse/internal/httpserver"
	"reviewpulse/internal/llm"
	"reviewpulse/internal/metrics"
	"reviewpulse/pkg/logging/logging"
)

const (
	storeRequestTimeout = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

// setup loads the configuration and installs the process logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	logging.SetDefault(logger)
	return cfg, logger, nil
}

func serve(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("cache_enabled", cfg.Redis.Enabled),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("llm_base_url", cfg.LLMBaseURL),
		zap.String("llm_model", cfg.LLMModel),
	)

	store, closeStore := cache.Open(ctx, cfg.CacheConfig(), logger)
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("cache close failed", zap.Error(err))
		}
	}()

	llmClient, err := llm.NewClient(cfg.LLMConfig(), logger)
	if err != nil {
		return err
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	providers := func(name string) (analysis.Provider, error) {
		return analysis.NewProvider(name, llmClient, cfg.LLMModel, logger)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.Deps{
		Logger: logger,
		Store:  store,

		Android: handlers.NewCatalogHandler("android",
			catalog.NewPlay(cfg.AndroidScraperURL, nil, storeRequestTimeout), cfg.AndroidAppID),
		IOS: handlers.NewCatalogHandler("ios",
			catalog.NewITunes(cfg.ITunesBaseURL, nil, storeRequestTimeout), cfg.IOSAppID),
		Analysis: handlers.NewAnalysisHandler(store, cfg.TTL.Analysis, providers),
		Cache:    handlers.NewCacheHandler(store, cfg.IsDevelopment()),
		Health: &handlers.HealthHandler{
			Store:        store,
			Version:      version,
			Environment:  cfg.Env,
			CacheEnabled: cfg.Redis.Enabled,
		},

		AdminAPIKey:    cfg.AdminAPIKey,
		RequestTimeout: cfg.RequestTimeout,
		AppInfoTTL:     cfg.TTL.AppInfo,
		ReviewsTTL:     cfg.TTL.Reviews,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (overrides PORT)")
	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if p, _ := cmd.Flags().GetString("port"); p != "" {
			return os.Setenv("PORT", p)
		}
		return nil
	}
}
