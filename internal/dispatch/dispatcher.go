// Package dispatch contains the polling loop that claims jobs from a queue
// source and executes them on bounded concurrent tasks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/data"
	"github.com/quarrylabs/quarry/internal/domain/model"
	"github.com/quarrylabs/quarry/internal/observability/metrics"
	"github.com/quarrylabs/quarry/internal/observability/statsd"
	"github.com/quarrylabs/quarry/internal/strategy"
)

const (
	defaultPollInterval  = time.Second
	defaultBatchSize     = 5
	defaultMaxConcurrent = 3
	defaultJobTimeout    = 2 * time.Minute

	// settleTimeout bounds the status/result/ack writes that follow job
	// execution. They run on a fresh context so a job timeout or shutdown
	// never strands a claimed item unsettled.
	settleTimeout = 15 * time.Second
)

// SinkFactory hands out per-job log sinks. *logship.LogShipper satisfies it.
type SinkFactory interface {
	Sink(ownerID, jobKey string) core.LogSink
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Manager owns the coordinating connection the claim sources run on.
	// Optional: sources backed by a pool alone can omit it.
	Manager *data.ConnectionManager
	// Primary is tried first; on core.ErrQueueUnavailable the dispatcher
	// switches to Fallback for the rest of its lifetime.
	Primary  core.QueueSource
	Fallback core.QueueSource
	Registry *strategy.Registry
	Status   core.StatusReporter
	Sinks    SinkFactory

	OwnerID       string
	WorkDir       string
	PollInterval  time.Duration
	JobTimeout    time.Duration
	BatchSize     int
	MaxConcurrent int

	Metrics      statsd.Sink
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// Dispatcher polls a queue source from a single goroutine and fans claimed
// jobs out to execution tasks bounded by a weighted semaphore. Shutdown
// stops claiming immediately but lets in-flight jobs finish or hit their
// timeout before Run returns.
type Dispatcher struct {
	manager  *data.ConnectionManager
	primary  core.QueueSource
	fallback core.QueueSource
	registry *strategy.Registry
	status   core.StatusReporter
	sinks    SinkFactory

	ownerID       string
	workDir       string
	pollInterval  time.Duration
	jobTimeout    time.Duration
	batchSize     int
	maxConcurrent int

	metrics      statsd.Sink
	logger       *slog.Logger
	timeProvider data.TimeProvider

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inFlight atomic.Int64

	// active is only touched by the polling goroutine.
	active   core.QueueSource
	fellBack bool
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Primary == nil {
		return nil, errors.New("primary queue source is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Status == nil {
		return nil, errors.New("status reporter is required")
	}
	if opts.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}

	return &Dispatcher{
		manager:       opts.Manager,
		primary:       opts.Primary,
		fallback:      opts.Fallback,
		registry:      opts.Registry,
		status:        opts.Status,
		sinks:         opts.Sinks,
		ownerID:       opts.OwnerID,
		workDir:       opts.WorkDir,
		pollInterval:  opts.PollInterval,
		jobTimeout:    opts.JobTimeout,
		batchSize:     opts.BatchSize,
		maxConcurrent: opts.MaxConcurrent,
		metrics:       opts.Metrics,
		logger:        logger,
		timeProvider:  tp,
		sem:           semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		active:        opts.Primary,
	}, nil
}

// Run polls until ctx is done, then waits for in-flight jobs to settle.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "starting dispatcher",
		"owner_id", d.ownerID,
		"source", d.active.Name(),
		"batch_size", d.batchSize,
		"max_concurrent", d.maxConcurrent,
		"poll_interval", d.pollInterval,
		"job_timeout", d.jobTimeout)

	if d.manager != nil {
		if err := d.manager.Connect(ctx); err != nil {
			return fmt.Errorf("coordinating connection: %w", err)
		}
	}

	for ctx.Err() == nil {
		claimed := d.safeIterate(ctx)
		if claimed == 0 {
			d.sleep(ctx)
		}
	}

	d.logger.Info("dispatcher stopping, draining in-flight jobs",
		"in_flight", d.inFlight.Load())
	d.wg.Wait()
	return nil
}

// safeIterate runs one poll iteration and absorbs panics so a poisoned
// iteration degrades to a poll-interval pause instead of killing the worker.
func (d *Dispatcher) safeIterate(ctx context.Context) (claimed int) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "panic in dispatch iteration", "panic", r)
			if d.manager != nil {
				_ = d.manager.Rollback(ctx)
			}
			claimed = 0
		}
	}()
	return d.iterate(ctx)
}

func (d *Dispatcher) iterate(ctx context.Context) int {
	if d.manager != nil {
		if err := d.manager.Ensure(ctx); err != nil {
			return 0
		}
		if d.manager.IsErrorState() {
			d.logger.WarnContext(ctx, "coordinating connection in aborted transaction, reconnecting")
			if err := d.manager.SafeReconnect(ctx); err != nil {
				d.logger.ErrorContext(ctx, "reconnect failed", "error", err)
				return 0
			}
		}
	}

	items, err := d.active.ClaimBatch(ctx, d.batchSize)
	if err != nil {
		if errors.Is(err, core.ErrQueueUnavailable) && d.switchToFallback(ctx, err) {
			return 0
		}
		if ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "claim batch failed",
				"source", d.active.Name(), "error", err)
		}
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	metrics.EmitClaim(d.metrics, d.active.Name(), len(items))
	d.logger.DebugContext(ctx, "claimed batch",
		"source", d.active.Name(), "count", len(items))

	source := d.active
	started := 0
	for _, item := range items {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			// Shutdown mid-batch: unstarted items stay claimed and
			// re-deliver per the source's redelivery policy.
			d.logger.WarnContext(ctx, "shutdown before batch fully dispatched",
				"undispatched", len(items)-started)
			return started
		}
		d.wg.Add(1)
		d.inFlight.Add(1)
		metrics.EmitInFlight(d.metrics, d.inFlight.Load())
		go d.runJob(ctx, source, item)
		started++
	}
	return started
}

// switchToFallback flips the active source exactly once. Returns false when
// no fallback is configured or it already happened.
func (d *Dispatcher) switchToFallback(ctx context.Context, cause error) bool {
	if d.fellBack || d.fallback == nil {
		return false
	}
	d.logger.WarnContext(ctx, "queue backend unavailable, switching to fallback source",
		"from", d.active.Name(), "to", d.fallback.Name(), "error", cause)
	metrics.EmitQueueFallback(d.metrics, d.active.Name(), d.fallback.Name())
	d.active = d.fallback
	d.fellBack = true
	return true
}

// runJob executes one claimed item on its own goroutine. The job context is
// detached from the polling context so shutdown never cancels a running
// job; the hard timeout is the only way a started job ends early.
func (d *Dispatcher) runJob(ctx context.Context, source core.QueueSource, item model.ClaimedItem) {
	defer d.sem.Release(1)
	defer d.wg.Done()
	defer func() {
		d.inFlight.Add(-1)
		if r := recover(); r != nil {
			d.logger.Error("panic in job task", "job_key", item.JobKey, "panic", r)
			d.settle(ctx, source, item, model.FailureResult(fmt.Sprintf("internal error: %v", r)))
		}
	}()

	start := d.timeProvider.Now()

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.jobTimeout)
	defer cancel()

	if err := d.status.UpdateStatus(jctx, item.JobKey, model.JobStatusProcessing, ""); err != nil {
		d.logger.ErrorContext(jctx, "mark processing failed", "job_key", item.JobKey, "error", err)
	}

	result, runErr := d.execute(jctx, item)
	d.settle(ctx, source, item, result)

	metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
		Kind:     item.Kind,
		Source:   source.Name(),
		Result:   resultTag(result, runErr),
		Duration: d.timeProvider.Now().Sub(start),
		Err:      runErr,
	})
}

// execute resolves the strategy and runs it, converting the expected
// failure modes into failure results.
func (d *Dispatcher) execute(jctx context.Context, item model.ClaimedItem) (*model.ResultRecord, error) {
	strat, err := d.registry.Resolve(item.Kind)
	if err != nil {
		d.logger.Error("unknown job kind", "job_key", item.JobKey, "kind", item.Kind)
		return model.FailureResult(fmt.Sprintf("no strategy registered for kind %q", item.Kind)), nil
	}

	var sink core.LogSink
	if d.sinks != nil {
		sink = d.sinks.Sink(d.ownerID, item.JobKey)
	}

	ec := &model.ExecutionContext{
		JobKey:     item.JobKey,
		OwnerID:    d.ownerID,
		Parameters: item.Parameters,
		WorkDir:    d.jobWorkDir(item.JobKey),
		Timeout:    d.jobTimeout,
	}

	result, runErr := strat.Run(jctx, ec, sink)
	switch {
	case runErr == nil:
		if result == nil {
			return model.FailureResult("strategy returned no result"), errors.New("strategy returned nil result")
		}
		return result, nil
	case errors.Is(runErr, context.DeadlineExceeded):
		d.logger.Warn("job timed out", "job_key", item.JobKey, "timeout", d.jobTimeout)
		return model.FailureResult(fmt.Sprintf("timeout: job exceeded %s", d.jobTimeout)), runErr
	default:
		d.logger.Error("strategy execution error",
			"job_key", item.JobKey, "kind", item.Kind, "error", runErr)
		return model.FailureResult(runErr.Error()), runErr
	}
}

// settle persists the terminal result and status, then acks or fails the
// claimed item. It runs on a fresh context: the job context may already be
// expired and the polling context may be shutting down.
func (d *Dispatcher) settle(
	ctx context.Context,
	source core.QueueSource,
	item model.ClaimedItem,
	result *model.ResultRecord,
) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := d.status.SaveResult(sctx, item.JobKey, result); err != nil {
		d.logger.ErrorContext(sctx, "save result failed", "job_key", item.JobKey, "error", err)
	}

	terminal := model.JobStatusCompleted
	jobErr := ""
	if result.Failed() {
		terminal = model.JobStatusFailed
		jobErr = result.Message
	}
	if err := d.status.UpdateStatus(sctx, item.JobKey, terminal, jobErr); err != nil {
		d.logger.ErrorContext(sctx, "mark terminal status failed",
			"job_key", item.JobKey, "status", terminal, "error", err)
	}

	if result.Failed() {
		if err := source.Fail(sctx, item, result.Message); err != nil {
			d.logger.ErrorContext(sctx, "fail claimed item failed",
				"job_key", item.JobKey, "error", err)
		}
	} else {
		if err := source.Ack(sctx, item); err != nil {
			d.logger.ErrorContext(sctx, "ack claimed item failed",
				"job_key", item.JobKey, "error", err)
		}
	}
}

func (d *Dispatcher) jobWorkDir(jobKey string) string {
	if d.workDir == "" {
		return ""
	}
	return filepath.Join(d.workDir, jobKey)
}

func (d *Dispatcher) sleep(ctx context.Context) {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func resultTag(result *model.ResultRecord, runErr error) string {
	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		return metrics.ResultTimeout
	case runErr != nil:
		return metrics.ResultError
	case result != nil && result.Failed():
		return metrics.ResultFailure
	default:
		return metrics.ResultSuccess
	}
}
