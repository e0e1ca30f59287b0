package app

import (
	"context"
	"fmt"
	"log/slog"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/photoshare/backend/internal/cache"
	"github.com/photoshare/backend/internal/config"
	"github.com/photoshare/backend/internal/db"
	"github.com/photoshare/backend/internal/handlers"
	"github.com/photoshare/backend/internal/metadata"
	"github.com/photoshare/backend/internal/metrics"
	"github.com/photoshare/backend/internal/orchestrator"
	"github.com/photoshare/backend/internal/repositories"
	"github.com/photoshare/backend/internal/storage"
)

// blobStore is satisfied by both object store drivers.
type blobStore interface {
	orchestrator.BlobStore
	URL(key string) string
}

var (
	_ blobStore = (*storage.S3Store)(nil)
	_ blobStore = (*storage.MinioStore)(nil)
)

// buildServerDependencies wires together concrete implementations used by the HTTP handlers.
func buildServerDependencies(pool db.Pool, thumbnails handlers.ThumbnailStore, httpMetrics *metrics.HTTP) handlers.Dependencies {
	return handlers.Dependencies{
		Images:     repositories.NewPostgresImageRepository(pool),
		Thumbnails: thumbnails,
		DB:         pool,
		Metrics:    httpMetrics.Handler(),
	}
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (blobStore, error) {
	switch cfg.Driver {
	case config.BlobDriverMinio:
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BlobDriverS3, "":
		store, err := storage.NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// newLocalCache returns the configured cache and a function releasing it.
func newLocalCache(cfg config.CacheConfig) (orchestrator.LocalCache, func() error, error) {
	switch cfg.Driver {
	case config.CacheDriverRedis:
		store := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		return store, store.Close, nil
	case config.CacheDriverFile, "":
		store, err := cache.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// buildOrchestrator wires the client side for cfg.UserID. The returned cleanup
// stops background work and releases the cache.
func buildOrchestrator(ctx context.Context, cfg config.Config, logger *slog.Logger, reg promclient.Registerer) (*orchestrator.Orchestrator, func(context.Context) error, error) {
	if err := cfg.RequireUser(); err != nil {
		return nil, nil, err
	}

	blobs, err := newBlobStore(ctx, cfg.Blob)
	if err != nil {
		return nil, nil, err
	}

	local, closeCache, err := newLocalCache(cfg.Cache)
	if err != nil {
		return nil, nil, err
	}

	observer, err := metrics.NewObserver("photoshare", reg)
	if err != nil {
		_ = closeCache()
		return nil, nil, err
	}

	orch, err := orchestrator.New(blobs, metadata.NewClient(cfg.Metadata), local, orchestrator.Config{
		UserID:         cfg.UserID,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Poll:           cfg.Poll,
		ReconcileDelay: cfg.Delete.ReconcileDelay,
		Observer:       observer,
	}, logger)
	if err != nil {
		_ = closeCache()
		return nil, nil, err
	}

	cleanup := func(ctx context.Context) error {
		err := orch.Close(ctx)
		if cerr := closeCache(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
	return orch, cleanup, nil
}
