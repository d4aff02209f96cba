// Package app wires configuration into the connections, repositories and
// import service shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/ofximport/internal/config"
	"github.com/JonMunkholm/ofximport/internal/core"
	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/JonMunkholm/ofximport/internal/retry"
	"github.com/JonMunkholm/ofximport/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App owns the process-wide connections and the import service.
type App struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Leases  *lease.Coordinator
	Service *core.Service
	logger  *slog.Logger
}

// Open connects to Postgres and Redis and builds the import service.
// The caller must Close the returned App.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := OpenPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	rdb, err := OpenRedis(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, err
	}

	cache, err := store.NewCategoryCache(cfg.Import.CategoryCacheSize)
	if err != nil {
		pool.Close()
		rdb.Close()
		return nil, err
	}

	files := store.NewFileRepository(pool)
	leases := lease.NewCoordinator(rdb, logger)
	service := core.NewService(core.Dependencies{
		Leases:     leases,
		Files:      files,
		Banks:      store.NewBankRepository(pool),
		Accounts:   store.NewBankAccountRepository(pool),
		Categories: store.NewCategoryRepository(pool, cache),
		Inserter:   core.NewInserter(pool, logger),
		Retry:      retry.New(RetryConfig(cfg.Retry), logger),
		Logger:     logger,
	}, ServiceConfig(cfg))

	return &App{Pool: pool, Redis: rdb, Leases: leases, Service: service, logger: logger}, nil
}

// Close releases both connections.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.logger.Warn("failed to close redis client", "error", err)
	}
	a.Pool.Close()
}

// OpenPool creates and pings a Postgres pool sized from cfg.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to database", "name", databaseName(cfg.URL))
	return pool, nil
}

// OpenRedis creates and pings a Redis client from a redis:// URL.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// ServiceConfig maps the import settings onto core.Config.
func ServiceConfig(cfg *config.Config) core.Config {
	return core.Config{
		BatchSize:     cfg.Import.BatchSize,
		LeaseTTL:      cfg.Import.LeaseTTL,
		RenewAfter:    cfg.Import.LeaseRenewAfter,
		MaxFileSize:   cfg.Import.MaxFileSize,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWaitTime:   cfg.Import.MaxWaitTime,
		Timeout:       cfg.Import.Timeout,
	}
}

// SweepConfig maps the sweeper settings onto core.SweepConfig.
func SweepConfig(cfg *config.Config) core.SweepConfig {
	return core.SweepConfig{
		StaleAfter:    cfg.Import.StaleAfter,
		CheckInterval: cfg.Import.SweepInterval,
	}
}

// RetryConfig maps the retry settings onto retry.Config.
func RetryConfig(cfg config.RetryConfig) retry.Config {
	return retry.Config{
		MaxRetries:       cfg.MaxRetries,
		MedianFirstDelay: cfg.MedianFirstDelay,
		CancelledDelay:   cfg.CancelledDelay,
		Budget:           cfg.Budget,
	}
}

func databaseName(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
