package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/data"
)

// BuildObjectStore creates the configured object store backend.
//
//nolint:ireturn // callers program against core.ObjectStore; the backend is a deployment choice.
func BuildObjectStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (core.ObjectStore, error) {
	switch cfg.Backend {
	case config.StorageBackendFS:
		store, err := data.NewFSObjectStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("create fs object store: %w", err)
		}
		if logger != nil {
			logger.Info("object store ready", "backend", "fs", "dir", cfg.Dir)
		}
		return store, nil
	case config.StorageBackendS3:
		store, err := data.NewS3ObjectStore(ctx, data.S3Options{
			Bucket:   cfg.Bucket,
			Endpoint: cfg.Endpoint,
			Region:   cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 object store: %w", err)
		}
		if logger != nil {
			logger.Info("object store ready", "backend", "s3", "bucket", cfg.Bucket)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
