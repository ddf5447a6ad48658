// Command quarry runs the job-queue worker: it claims jobs from PostgreSQL,
// executes them through registered compute strategies, ships their output
// to remote storage, and records status and results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/bootstrap"
	"github.com/quarrylabs/quarry/internal/data"
	"github.com/quarrylabs/quarry/internal/strategy"
)

func main() {
	ctx := context.Background()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
	logger := bootstrap.InitLogger(cfg.IsDev)

	if err := run(ctx, &cfg, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	logger.InfoContext(ctx, "starting quarry worker",
		"owner_id", cfg.Worker.OwnerID,
		"queue", cfg.Worker.QueueName,
		"db_host", cfg.Postgres.Host,
		"db_name", cfg.Postgres.Name,
		"max_concurrent", cfg.Worker.MaxConcurrent)

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cfg.Postgres,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()

	if cfg.Postgres.RunMigrationsOnStart {
		if err := data.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.InfoContext(ctx, "database migrations completed")
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		// Log shipping is best-effort; the worker runs without it.
		logger.WarnContext(ctx, "connect redis failed, job logs will not be shipped", "error", err)
		redisClient = nil
	} else {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	worker, err := bootstrap.NewWorker(&bootstrap.WorkerDeps{
		Config:      cfg,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
		Registry:    registry,
	})
	if err != nil {
		return err
	}

	return worker.Run(ctx)
}

// buildRegistry registers the built-in strategies: the external-process
// reference strategy when a binary is configured, and noop always.
func buildRegistry(cfg *config.AppConfig, logger *slog.Logger) (*strategy.Registry, error) {
	registry := strategy.NewRegistry()

	if err := registry.Register("noop", strategy.NewNoopStrategy()); err != nil {
		return nil, err
	}

	if binary := cfg.Worker.ExecBinary; binary != "" {
		exec, err := strategy.NewExecStrategy(strategy.ExecStrategyOptions{
			Binary: binary,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("exec strategy: %w", err)
		}
		if err := registry.Register("exec", exec); err != nil {
			return nil, err
		}
	}

	logger.Info("registered strategies", "kinds", registry.Kinds())
	return registry, nil
}
