package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/subway-rt/poller/internal/config"
	"github.com/subway-rt/poller/internal/db"
	"github.com/subway-rt/poller/internal/logging"
	"github.com/subway-rt/poller/internal/static"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Command line flags
	path := flag.String("gtfs", cfg.GTFSDir, "GTFS directory or zip file to load")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "import-gtfs")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stdout sync errors are not actionable

	ctx := context.Background()

	database, err := db.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	start := time.Now()
	results, err := static.NewLoader(database, logger).Load(ctx, *path)
	if err != nil {
		logger.Fatal("failed to load GTFS dataset", zap.String("path", *path), zap.Error(err))
	}

	var rows int64
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		rows += r.Rows
	}

	logger.Info("import complete",
		zap.String("path", *path),
		zap.Int("files", len(results)),
		zap.Int("failed", failed),
		zap.Int64("rows", rows),
		zap.Duration("duration", time.Since(start)),
	)
}
