package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/application/classify"
	"github.com/reckonlabs/reckon/internal/infrastructure/config"
	"github.com/reckonlabs/reckon/internal/infrastructure/logging"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Configuration file path")
		dbPath     = flag.String("db", "", "Database path (overrides config)")
		ids        = flag.String("ids", "", "Comma-separated record IDs (empty = all unreviewed)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configFile)
	if *dbPath != "" {
		cfg.Storage.DatabasePath = *dbPath
	}
	if *verbose {
		cfg.Observability.Logging.Level = slog.LevelDebug.String()
	}

	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "classify")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	chlog := changelog.NewService(store, logger)
	svc := classify.NewService(store, chlog, cfg, logger)

	var recordIDs []string
	if *ids != "" {
		for _, id := range strings.Split(*ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				recordIDs = append(recordIDs, id)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch, err := svc.ClassifyBatch(ctx, recordIDs)
	if err != nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Run %d: %d classified, %d held for review, %d failed\n",
		batch.RunID, batch.Processed, batch.Skipped, batch.Failed)
	for _, r := range batch.Results {
		if !r.Applied {
			continue
		}
		fmt.Printf("  %-36s  %-20s  %3d (%s, via %s)\n",
			r.RecordID, r.Category, r.Score.Total, r.Score.Tier, r.Source)
	}
	for _, e := range batch.Errors {
		fmt.Printf("  error: %s\n", e)
	}

	if batch.Failed > 0 {
		os.Exit(1)
	}
}
