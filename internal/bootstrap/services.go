package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/data"
	"github.com/quarrylabs/quarry/internal/dispatch"
	"github.com/quarrylabs/quarry/internal/logship"
	"github.com/quarrylabs/quarry/internal/observability/statsd"
	"github.com/quarrylabs/quarry/internal/strategy"
)

// logRetention is how long shipped log batches stay in the object store.
const logRetention = 7 * 24 * time.Hour

// WorkerDeps groups dependencies for worker construction.
type WorkerDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	// Registry carries the compute strategies. When nil, a registry with
	// only the noop strategy is used.
	Registry *strategy.Registry
}

// Worker bundles the long-running pieces of the process.
type Worker struct {
	Dispatcher *dispatch.Dispatcher
	Shipper    *logship.LogShipper
	Manager    *data.ConnectionManager
	Metrics    *statsd.Client

	logger *slog.Logger
}

// NewWorker wires the connection manager, queue sources, status repo, log
// shipper, and dispatcher from configuration.
func NewWorker(deps *WorkerDeps) (*Worker, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("worker config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("db handle is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	metricsSink, err := buildMetrics(logger, cfg.Observability)
	if err != nil {
		return nil, err
	}

	manager, err := data.NewConnectionManager(data.ConnectionManagerOptions{
		DSN:          cfg.Postgres.DSN(),
		PollInterval: cfg.Worker.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connection manager: %w", err)
	}

	primary, err := data.NewMessageQueueSource(data.MessageQueueSourceOptions{
		Manager:           manager,
		DB:                deps.DB,
		Queue:             cfg.Worker.QueueName,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("message queue source: %w", err)
	}

	fallback, err := data.NewRowClaimSource(data.RowClaimSourceOptions{
		Manager: manager,
		DB:      deps.DB,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("row claim source: %w", err)
	}

	status, err := data.NewStatusRepo(data.StatusRepoOptions{
		DB:     deps.DB,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("status repo: %w", err)
	}

	shipper, err := buildShipper(deps, logger)
	if err != nil {
		return nil, err
	}

	registry := deps.Registry
	if registry == nil {
		registry = strategy.NewRegistry()
		if err := registry.Register("noop", strategy.NewNoopStrategy()); err != nil {
			return nil, fmt.Errorf("register noop strategy: %w", err)
		}
	}

	var sinks dispatch.SinkFactory
	if shipper != nil {
		sinks = shipper
	}
	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherOptions{
		Manager:       manager,
		Primary:       primary,
		Fallback:      fallback,
		Registry:      registry,
		Status:        status,
		Sinks:         sinks,
		OwnerID:       cfg.Worker.OwnerID,
		WorkDir:       cfg.Worker.WorkDir,
		PollInterval:  cfg.Worker.PollInterval,
		JobTimeout:    cfg.Worker.JobTimeout,
		BatchSize:     cfg.Worker.BatchSize,
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		Metrics:       metricsSink,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	return &Worker{
		Dispatcher: dispatcher,
		Shipper:    shipper,
		Manager:    manager,
		Metrics:    metricsSink,
		logger:     logger,
	}, nil
}

func buildMetrics(logger *slog.Logger, cfg config.ObservabilityConfig) (*statsd.Client, error) {
	if !cfg.Metrics.IsEnabled() {
		return nil, nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  "quarry",
		Logger:  logger,
	})
	if err != nil {
		// Metrics are never worth refusing to start over.
		logger.Error("statsd client init failed", "error", err)
		return nil, nil
	}
	return client, nil
}

func buildShipper(deps *WorkerDeps, logger *slog.Logger) (*logship.LogShipper, error) {
	if deps.RedisClient == nil {
		logger.Warn("no redis client configured, job logs will not be shipped")
		return nil, nil
	}
	store := data.NewRedisObjectStore(deps.RedisClient, logRetention)
	shipper, err := logship.NewLogShipper(logship.LogShipperOptions{
		Store:         store,
		Bucket:        deps.Config.LogShip.Bucket,
		BufferSize:    deps.Config.LogShip.BufferSize,
		FlushLines:    deps.Config.LogShip.FlushLines,
		FlushInterval: deps.Config.LogShip.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("log shipper: %w", err)
	}
	return shipper, nil
}

// Run starts the dispatcher and log shipper and blocks until a SIGINT or
// SIGTERM arrives or a component fails. The dispatcher drains its in-flight
// jobs before Run returns; the shipper flushes whatever those jobs emitted.
func (w *Worker) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	// The shipper outlives the dispatcher so draining jobs can still emit.
	shipCtx, cancelShip := context.WithCancel(context.Background())
	defer cancelShip()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancelShip()
		return w.Dispatcher.Run(dispatchCtx)
	})
	if w.Shipper != nil {
		g.Go(func() error {
			return w.Shipper.Run(shipCtx)
		})
	}

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Manager.Close(closeCtx)
	if w.Metrics != nil {
		if cerr := w.Metrics.Close(); cerr != nil {
			w.logger.Warn("close metrics client failed", "error", cerr)
		}
	}

	w.logger.Info("worker stopped")
	return err
}
