package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reckonlabs/reckon/internal/api"
	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/application/classify"
	"github.com/reckonlabs/reckon/internal/application/receipts"
	"github.com/reckonlabs/reckon/internal/infrastructure/config"
	"github.com/reckonlabs/reckon/internal/infrastructure/logging"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Configuration file path")
		dbPath     = flag.String("db", "", "Database path (overrides config)")
		port       = flag.Int("port", 0, "HTTP port (overrides config)")
	)
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configFile)
	if *dbPath != "" {
		cfg.Storage.DatabasePath = *dbPath
	}
	if *port != 0 {
		cfg.API.Port = *port
	}

	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "api")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	chlog := changelog.NewService(store, logger)
	services := api.Services{
		ChangeLog: chlog,
		Classify:  classify.NewService(store, chlog, cfg, logger),
		Receipts:  receipts.NewService(store, chlog, cfg, logger),
	}

	server := api.NewServer(api.Config{
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, store, services, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
