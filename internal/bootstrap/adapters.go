package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/adapters/reaper"
	"github.com/ticketpress/ticketpress/internal/adapters/renderworker"
	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/data"
	"github.com/ticketpress/ticketpress/internal/observability/statsd"
	"github.com/ticketpress/ticketpress/internal/render"
)

// RenderWorkerConfig contains configuration for the render worker pool.
type RenderWorkerConfig struct {
	DB       *sql.DB
	Store    core.ObjectStore
	Renderer render.PageRenderer
	Worker   config.WorkerConfig
	Cache    core.CacheRepository
	Queue    core.QueueRepository
	Logger   *slog.Logger
	Metrics  statsd.Sink

	ArtifactPrefix string
}

// RunRenderWorker starts the render worker pool.
func RunRenderWorker(ctx context.Context, cfg RenderWorkerConfig) error {
	runner, err := renderworker.NewRunner(renderworker.RunnerOptions{
		Repo:           data.NewJobRepo(cfg.DB, data.RepoConfig{Logger: cfg.Logger}),
		Store:          cfg.Store,
		Renderer:       cfg.Renderer,
		Worker:         cfg.Worker,
		Cache:          cfg.Cache,
		Queue:          cfg.Queue,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		ArtifactPrefix: cfg.ArtifactPrefix,
	})
	if err != nil {
		return fmt.Errorf("create render worker runner: %w", err)
	}

	return runner.Run(ctx)
}

// ReaperConfig contains configuration for the reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Store   core.ObjectStore
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Store:   cfg.Store,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
