package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logStartupInfo(ctx, logger, &cfg)

	cfgPtr := &cfg

	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	infra, err := initInfrastructure(ctx, cfgPtr, logger)
	if err != nil {
		return err
	}
	defer infra.Close(ctx, logger)

	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, infra.DB, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	store, err := bootstrap.BuildObjectStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	renderer, err := bootstrap.BuildRenderer(ctx, cfg.Render, logger)
	if err != nil {
		return err
	}

	services := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      cfgPtr,
		DB:          infra.DB,
		QueueClient: infra.Queue,
		CacheClient: infra.Cache,
		Store:       store,
		Renderer:    renderer,
		Logger:      logger,
	})

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfgPtr,
		Services: services,
		DB:       infra.DB,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	enabledServices := bootstrap.GetEnabledServices(cfg)
	logger.InfoContext(ctx, "starting ticketpress service",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"enabled_services", enabledServices)
}

// infrastructure bundles the shared connections owned by the process.
type infrastructure struct {
	DB    *sql.DB
	Queue redis.UniversalClient
	Cache *redis.Client
}

func (i *infrastructure) Close(ctx context.Context, logger *slog.Logger) {
	if i.Cache != nil {
		if cerr := i.Cache.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close cache redis failed", "error", cerr)
		}
	}
	if i.Queue != nil {
		if cerr := i.Queue.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close queue redis failed", "error", cerr)
		}
	}
	if i.DB != nil {
		if cerr := i.DB.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}
}

// initInfrastructure connects shared dependencies used by the service runtime.
// Postgres is the source of truth and is required. Redis backs the wake queue
// and the markup cache only, so either connection failing degrades workers to
// polling rather than stopping the process.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*infrastructure, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	queueClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		logger.WarnContext(ctx, "queue redis unavailable, workers will poll", "error", err)
		queueClient = nil
	}

	cacheClient := bootstrap.NewCacheClient(cfg.Cache)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if pingErr := cacheClient.Ping(pingCtx).Err(); pingErr != nil {
		logger.WarnContext(ctx, "cache redis unavailable, markup will be refetched per attempt", "error", pingErr)
	}

	return &infrastructure{DB: db, Queue: queueClient, Cache: cacheClient}, nil
}
