package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelserve/internal/api"
	"github.com/dunamismax/pixelserve/internal/config"
	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/params"
	"github.com/dunamismax/pixelserve/internal/pipeline"
	"github.com/dunamismax/pixelserve/internal/ratelimit"
	"github.com/dunamismax/pixelserve/internal/storage"
	"github.com/dunamismax/pixelserve/internal/store"
	"github.com/dunamismax/pixelserve/internal/telemetry"
)

const serviceName = "pixelserve-api"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pixelserve: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := telemetry.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := pipeline.Startup(logger); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	fetcher, err := newFetcher(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	processor, err := newProcessor(fetcher, cfg.Image)
	if err != nil {
		return err
	}

	opts := api.Options{
		Logger:                logger,
		Processor:             processor,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		opts.RateLimiter = limiter
		logger.Info("rate limiting enabled",
			zap.Int("capacity", cfg.RateLimit.Capacity),
			zap.Duration("window", cfg.RateLimit.Window),
		)
	}

	switch cfg.Usage.Store {
	case "", "none":
	case "memory":
		opts.UsageStore = store.NewMemoryUsageStore(store.DefaultMemoryUsageCapacity)
	case "postgres":
		pg, err := store.NewPostgresUsageStore(ctx, cfg.Usage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer func() { _ = pg.Close() }()
		opts.UsageStore = pg
	default:
		return fmt.Errorf("unsupported usage store: %s", cfg.Usage.Store)
	}

	app, err := api.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.API.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func newFetcher(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (pipeline.Fetcher, error) {
	switch cfg.Backend {
	case "local":
		dir, err := storage.NewDir(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		logger.Info("serving images from directory", zap.String("dir", cfg.LocalDir))
		return dir, nil
	case "", "minio":
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create object storage client: %w", err)
		}
		// An unreachable store is not fatal; fetches report it per request.
		if err := client.CheckBucket(ctx); err != nil {
			logger.Warn("object storage check failed", zap.String("bucket", client.Bucket()), zap.Error(err))
		}
		logger.Info("serving images from bucket", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", client.Bucket()))
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func newProcessor(fetcher pipeline.Fetcher, cfg config.ImageConfig) (*pipeline.Processor, error) {
	formats, err := domain.ParseFormats(cfg.OutputFormats)
	if err != nil {
		return nil, fmt.Errorf("parse output formats: %w", err)
	}

	policy, err := params.ParsePolicy(cfg.DimensionPolicy)
	if err != nil {
		return nil, fmt.Errorf("parse dimension policy: %w", err)
	}

	filter, err := pipeline.ParseFilter(cfg.ResizeFilter)
	if err != nil {
		return nil, fmt.Errorf("parse resize filter: %w", err)
	}

	if cfg.MaxDimension <= 0 {
		return nil, errors.New("max image dimension must be positive")
	}
	if policy == params.PolicyDefault && (cfg.DefaultWidth <= 0 || cfg.DefaultHeight <= 0) {
		return nil, errors.New("default image dimensions must be positive")
	}

	resolver := params.Resolver{
		Policy: policy,
		Default: domain.Dimensions{
			Width:  uint32(cfg.DefaultWidth),
			Height: uint32(cfg.DefaultHeight),
		},
		MaxDimension: uint32(cfg.MaxDimension),
	}

	return pipeline.NewProcessor(fetcher, formats, resolver, pipeline.Options{
		Filter:          filter,
		JPEGQuality:     cfg.JPEGQuality,
		MaxSourcePixels: cfg.MaxSourcePixels,
	})
}
