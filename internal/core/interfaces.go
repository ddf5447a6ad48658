// Package core defines the ports between the dispatcher and its adapters.
package core

import (
	"context"
	"errors"

	"github.com/quarrylabs/quarry/internal/domain/model"
)

// ErrQueueUnavailable is returned by a queue source whose backing extension
// is missing or erroring. The dispatcher treats it as the signal for a
// sticky fallback to the row-claim source.
var ErrQueueUnavailable = errors.New("queue backend unavailable")

// QueueSource is the common contract of the two interchangeable queue
// backends. Implementations must be safe to call repeatedly from a
// single-threaded polling loop and must never leave the coordinating
// connection inside an open transaction after returning.
type QueueSource interface {
	// Name identifies the backend in logs.
	Name() string
	// ClaimBatch claims up to limit pending jobs for exclusive ownership.
	// An empty batch is returned as a nil slice with a nil error.
	ClaimBatch(ctx context.Context, limit int) ([]model.ClaimedItem, error)
	// Ack permanently settles a claimed item after successful execution.
	// Acking the same item twice is a no-op.
	Ack(ctx context.Context, item model.ClaimedItem) error
	// Fail settles a claimed item after a failed execution.
	Fail(ctx context.Context, item model.ClaimedItem, reason string) error
}

// StatusReporter persists job status transitions and final results.
type StatusReporter interface {
	// UpdateStatus records a status transition idempotently; repeating a
	// terminal status is a no-op, not an error.
	UpdateStatus(ctx context.Context, jobKey string, status model.JobStatus, jobErr string) error
	// SaveResult writes the terminal result payload exactly once logically.
	SaveResult(ctx context.Context, jobKey string, result *model.ResultRecord) error
}

// ObjectStore is the remote storage consumed by log shipping. Uploads are
// fire-and-forget: callers log failures and move on.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte) error
}

// LogSink receives log lines emitted during strategy execution. Emit must
// never block the caller.
type LogSink interface {
	Emit(line string)
}
