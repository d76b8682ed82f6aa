// cmd/continuity/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/api"
	"github.com/HarborGuard/continuity/internal/config"
	"github.com/HarborGuard/continuity/internal/dr"
	"github.com/HarborGuard/continuity/internal/events"
	"github.com/HarborGuard/continuity/internal/infra"
	"github.com/HarborGuard/continuity/internal/storage"
	"github.com/HarborGuard/continuity/internal/store"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("CONTINUITY_CONFIG", ""), "path to config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	config.LoadFromEnv(cfg)

	backupStorage, err := buildStorage(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create backup storage", zap.Error(err))
	}

	planStore, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create plan store", zap.Error(err))
	}
	defer closeStore()

	var controller dr.InfrastructureController
	if len(cfg.Collaborators.Operations) > 0 {
		controller = infra.NewHTTPController(cfg.Collaborators.Operations, logger)
	} else {
		logger.Warn("no control endpoints configured, infrastructure operations are simulated")
		controller = infra.NewSimulatedController(logger)
	}

	notifierCfg := infra.DefaultNotifierConfig()
	notifierCfg.Channels = cfg.Collaborators.Channels
	notifierCfg.Secret = cfg.Collaborators.Secret

	metrics := dr.NewMetrics()

	service, err := dr.NewService(
		&dr.ServiceConfig{
			MaintenanceInterval: cfg.Engine.MaintenanceInterval,
			StalenessThreshold:  cfg.Engine.StalenessThreshold,
			StepTimeout:         cfg.Engine.StepTimeout,
		},
		dr.Dependencies{
			Storage:  backupStorage,
			Source:   infra.NewFileSource(cfg.Collaborators.SourcePath, logger),
			Infra:    controller,
			Notifier: infra.NewWebhookNotifier(notifierCfg, logger),
			Store:    planStore,
			Bus:      events.NewSimpleBus(),
			Metrics:  metrics,
			Logger:   logger,
		})
	if err != nil {
		logger.Fatal("failed to create service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		logger.Fatal("failed to start service", zap.Error(err))
	}

	server := api.NewServer(cfg, service, metrics, logger)

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, logger, func(updated *config.Config) {
			logger.Info("configuration reloaded",
				zap.Duration("maintenance_interval", updated.Engine.MaintenanceInterval))
		})
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
		service.Stop()
		cancel()
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func buildStorage(cfg *config.Config, logger *zap.Logger) (dr.BackupStorage, error) {
	switch cfg.Backup.StorageMode {
	case "", "local":
		if err := os.MkdirAll(cfg.Backup.LocalPath, 0750); err != nil {
			return nil, err
		}

		var opts []storage.LocalOption
		if cfg.Backup.Compression {
			opts = append(opts, storage.WithCompression())
		}
		if cfg.Backup.Encryption {
			key, err := os.ReadFile(cfg.Backup.KeyFile)
			if err != nil {
				return nil, err
			}
			opts = append(opts, storage.WithEncryption(key))
		}

		logger.Info("using local backup storage", zap.String("path", cfg.Backup.LocalPath))
		return storage.NewLocalStorage(cfg.Backup.LocalPath, logger, opts...)

	case "s3":
		logger.Info("using s3 backup storage", zap.String("bucket", cfg.Backup.S3.Bucket))
		return storage.NewS3Storage(storage.S3Config{
			Endpoint:  cfg.Backup.S3.Endpoint,
			Bucket:    cfg.Backup.S3.Bucket,
			Region:    cfg.Backup.S3.Region,
			AccessKey: cfg.Backup.S3.AccessKey,
			SecretKey: cfg.Backup.S3.SecretKey,
			PathStyle: cfg.Backup.S3.PathStyle,
		}, logger)

	default:
		logger.Fatal("invalid storage mode", zap.String("mode", cfg.Backup.StorageMode))
		return nil, nil
	}
}

func buildStore(cfg *config.Config, logger *zap.Logger) (dr.PlanStore, func(), error) {
	if !cfg.Database.Enabled {
		logger.Info("using in-memory plan store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := store.NewPostgresStore(store.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("using postgres plan store",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))
	return pg, func() { _ = pg.Close() }, nil
}
