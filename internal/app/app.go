// Package app wires configuration, storage, queues, and services into one
// runnable core shared by the server binary and tests.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/depotlabs/depot/internal/clients/fetch"
	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/queue"
	"github.com/depotlabs/depot/internal/services/batch"
	"github.com/depotlabs/depot/internal/services/orchestrator"
	"github.com/depotlabs/depot/internal/services/quota"
	"github.com/depotlabs/depot/internal/services/share"
	"github.com/depotlabs/depot/internal/storage"
)

// App holds all initialized services and the queue registry.
type App struct {
	Config       *common.Config
	Logger       *common.Logger
	Storage      interfaces.StorageManager
	Registry     *queue.Registry
	Fetcher      *fetch.Client
	Orchestrator *orchestrator.Orchestrator
	BatchService interfaces.BatchService
	ShareService interfaces.ShareService
	QuotaService interfaces.QuotaService
	EventHub     *queue.WSHub
	StartupTime  time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, queues, and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Config resolution: provided path, DEPOT_CONFIG, binary dir, then
	// development fallback.
	if configPath == "" {
		configPath = os.Getenv("DEPOT_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "depot.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/depot.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := queue.NewRegistry(logger)

	fetcher := fetch.NewClient(
		fetch.WithLogger(logger),
		fetch.WithTimeout(config.Processing.GetFetchTimeout()),
		fetch.WithRateLimit(config.Processing.FetchRateLimit),
	)

	orch := orchestrator.New(registry, storageManager.ObjectStore(), fetcher, orchestrator.Config{
		MaxImageBytes:      config.Processing.MaxImageBytes,
		MaxPDFBytes:        config.Processing.MaxPDFBytes,
		MaxCSVBytes:        config.Processing.MaxCSVBytes,
		CompressionEnabled: config.Processing.CompressionEnabled,
		DefaultTimeout:     config.Queue.GetDefaultTimeout(),
	}, logger)

	quotaService := quota.NewService(storageManager.QuotaRepository(), 0, logger)

	shareService, err := share.NewService(
		storageManager.FileRepository(),
		storageManager.ShareRepository(),
		config.Auth.JWTSecret,
		config.Auth.GetShareExpiry(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize share service: %w", err)
	}

	batchService := batch.NewCoordinator(storageManager, orch, quotaService, logger)

	hub := queue.NewWSHub(logger)
	hub.Attach(orch.Queue())
	go hub.Run()

	a := &App{
		Config:       config,
		Logger:       logger,
		Storage:      storageManager,
		Registry:     registry,
		Fetcher:      fetcher,
		Orchestrator: orch,
		BatchService: batchService,
		ShareService: shareService,
		QuotaService: quotaService,
		EventHub:     hub,
		StartupTime:  startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Close drains the queues and releases all resources.
// Shutdown order: stop event hub, drain queues, close storage.
func (a *App) Close() {
	if a.EventHub != nil {
		a.EventHub.Stop()
		a.EventHub = nil
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	if a.Registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.Registry.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue shutdown did not drain cleanly")
		}
		cancel()
		a.Registry = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
