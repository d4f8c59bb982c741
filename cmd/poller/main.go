package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/subway-rt/poller/internal/config"
	"github.com/subway-rt/poller/internal/db"
	"github.com/subway-rt/poller/internal/logging"
	"github.com/subway-rt/poller/internal/metrics"
	"github.com/subway-rt/poller/internal/realtime/feed"
	"github.com/subway-rt/poller/internal/realtime/fetcher"
	"github.com/subway-rt/poller/internal/realtime/poller"
	"github.com/subway-rt/poller/internal/server"
)

func main() {
	// Load base .env first, then .env.local (which overrides for local development)
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "gtfs-rt-poller")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stdout sync errors are not actionable

	logger.Info("starting poller service",
		zap.String("driver", cfg.Database.Driver),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("fetch_timeout", cfg.FetchTimeout),
		zap.Int("feeds", len(cfg.Feeds)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════
	// Database
	// ═══════════════════════════════════════════════════════
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	database, err := db.Connect(connectCtx, cfg.Database, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// ═══════════════════════════════════════════════════════
	// Poller
	// ═══════════════════════════════════════════════════════
	m := metrics.New()
	p := poller.New(cfg,
		database,
		fetcher.New(cfg.APIKey, cfg.FetchTimeout, logger),
		feed.NewProcessor(logger),
		logger,
		m,
	)

	if cfg.APIKey == "" {
		logger.Warn("API_KEY is not set; requests are sent without x-api-key")
	}

	// ═══════════════════════════════════════════════════════
	// Health / metrics
	// ═══════════════════════════════════════════════════════
	var srv *server.Server
	if cfg.HTTPAddr != "" {
		srv = server.New(cfg.HTTPAddr, logger, database, p)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", zap.Error(err))
			}
		}()
	}

	// Runs until SIGINT/SIGTERM; a tick in progress completes first
	if err := p.Run(ctx); err != nil {
		logger.Error("poller stopped with error", zap.Error(err))
	}

	logger.Info("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", zap.Error(err))
		}
	}

	logger.Info("goodbye")
}
