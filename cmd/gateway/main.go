// Package main is the entry point for the Alpaca gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
	"github.com/opitios-ai/alpaca-gateway/internal/observability"
	"github.com/opitios-ai/alpaca-gateway/internal/pool"
	"github.com/opitios-ai/alpaca-gateway/internal/ratelimit"
	"github.com/opitios-ai/alpaca-gateway/internal/secrets"
	"github.com/opitios-ai/alpaca-gateway/internal/server"
	"github.com/opitios-ai/alpaca-gateway/internal/upstream"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("alpaca-gateway version %s (%s)\n", version, gitCommit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting alpaca-gateway",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	provider, err := secrets.NewProvider(cfg.Secrets, logger)
	if err != nil {
		return fmt.Errorf("initializing secrets provider: %w", err)
	}
	defer func() { _ = provider.Close() }()

	registry := pool.NewRegistry(
		cfg.Accounts,
		cfg.Pool,
		upstream.NewFactory(cfg.Upstream),
		provider,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry.Start(ctx)

	limiter := ratelimit.NewLimiter(cfg.RateLimit, logger)

	srv := server.New(cfg.Server, server.Deps{
		Registry:  registry,
		Router:    pool.NewRouter(registry, 0),
		Limiter:   limiter,
		RateRules: cfg.RateLimit,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout.Duration(),
	)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	cancel()
	registry.Stop(shutdownCtx)
	if err := limiter.Close(); err != nil {
		logger.Warn("limiter close failed", zap.Error(err))
	}

	logger.Info("alpaca-gateway stopped")
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
