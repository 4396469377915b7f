package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soltixdb/gridcat/internal/catalog"
	"github.com/soltixdb/gridcat/internal/config"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/metadata"
	"github.com/soltixdb/gridcat/internal/metrics"
	"github.com/soltixdb/gridcat/internal/queue"
	"github.com/soltixdb/gridcat/internal/router"
	"github.com/soltixdb/gridcat/internal/scanner"
	"github.com/soltixdb/gridcat/internal/scheduler"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the catalog and its HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// newRegistry builds the scanner registry from configuration
func newRegistry(cfg *config.Config, logger *logging.Logger) *scanner.Registry {
	return scanner.NewDefaultRegistry(scanner.Options{
		HTTPClient: &http.Client{Timeout: cfg.Scanner.HTTPTimeout},
		Retry: scanner.RetryPolicy{
			MaxRetries:      cfg.Scanner.Retry.MaxRetries,
			InitialInterval: cfg.Scanner.Retry.InitialInterval,
			MaxInterval:     cfg.Scanner.Retry.MaxInterval,
		},
		UseCache: cfg.Scanner.Cache.Enabled,
		Logger:   logger,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)
	logger.Info("gridcat starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Scanners and scan cache
	registry := newRegistry(cfg, logger)
	cache := registry.Cache()
	cachePath := cfg.GetDataPath(cfg.Scanner.Cache.File)
	if cache != nil {
		if err := cache.Load(cachePath); err != nil {
			logger.Warn("Ignoring unreadable scan cache", "path", cachePath, "error", err)
		}
		defer func() {
			if err := cache.Save(cachePath); err != nil {
				logger.Error("Failed to save scan cache", "path", cachePath, "error", err)
			}
		}()
	}

	// Definition store
	logger.Info("Opening definition store", "backend", cfg.Store.Backend)
	store, err := metadata.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open definition store: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Connect to Queue (configurable backend)
	var queueClient queue.Queue
	if cfg.Queue.Enabled {
		logger.Info("Connecting to Queue", "type", cfg.Queue.Type, "url", scanner.Redact(cfg.Queue.URL))
		queueClient, err = queue.NewQueue(cfg.Queue)
		if err != nil {
			return fmt.Errorf("failed to connect to queue: %w", err)
		}
		defer func() { _ = queueClient.Close() }()
		logger.Info("Queue connection established")
	}

	m := metrics.New()
	if cache != nil {
		if err := m.RegisterScanCache(cache); err != nil {
			return fmt.Errorf("failed to register cache metrics: %w", err)
		}
	}

	var debounce time.Duration
	if cfg.Watcher.Enabled {
		debounce = cfg.Watcher.Debounce
	}
	cat, err := catalog.New(catalog.Options{
		Scanners: registry,
		Scheduler: scheduler.Config{
			Workers: cfg.Catalog.Workers,
			Delay:   cfg.Catalog.RefreshDelay,
		},
		ScanParallelism: cfg.Catalog.ScanParallelism,
		RefreshTimeout:  cfg.Catalog.RefreshTimeout,
		Store:           store,
		Queue:           queueClient,
		Subjects:        queue.Subjects{Prefix: cfg.Queue.SubjectPrefix},
		Metrics:         m,
		WatchDebounce:   debounce,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cat.Load(ctx, cfg.Definitions()); err != nil {
		return err
	}
	if err := cat.Start(ctx); err != nil {
		cat.Stop()
		return err
	}

	// Log authentication status
	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - admin requests will be allowed")
	}

	app := router.New(router.Deps{
		Logger:  logger,
		Catalog: cat,
		Queue:   queueClient,
		Metrics: m,
		Version: Version,
	}, *cfg)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Server listening", "address", addr)
		serverErr <- app.Listen(addr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			logger.Error("Failed to start server", "error", err)
		}
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown with 10 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	cat.Stop()

	logger.Info("Server exited")
	return nil
}
