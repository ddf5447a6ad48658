package config

import (
	"os"
	"strings"
	"time"
)

// WorkerConfig contains the job dispatcher configuration.
type WorkerConfig struct {
	// QueueName is the message queue read on the primary path; the
	// row-claim fallback ignores it.
	QueueName string `env:"QUEUE_NAME" envDefault:"quarry_jobs"`

	// OwnerID distinguishes this worker process in claims and log paths.
	// Defaults to the hostname.
	OwnerID string `env:"OWNER_ID"`

	// PollInterval is the sleep between empty claim attempts and the retry
	// interval for connection establishment.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	// BatchSize is the maximum number of jobs claimed per iteration.
	BatchSize int `env:"BATCH_SIZE" envDefault:"5"`

	// VisibilityTimeout hides a claimed queue message from other readers.
	// Must comfortably exceed JobTimeout or jobs get double-delivered.
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"180s"`

	// MaxConcurrent bounds simultaneously executing strategies.
	MaxConcurrent int `env:"MAX_CONCURRENT" envDefault:"3"`

	// JobTimeout is the hard per-job execution deadline.
	JobTimeout time.Duration `env:"JOB_TIMEOUT" envDefault:"120s"`

	// WorkDir is the parent directory for per-job working directories.
	WorkDir string `env:"WORK_DIR" envDefault:"/tmp/quarry"`

	// ExecBinary is the external program run by the exec strategy. When
	// empty the exec strategy is not registered.
	ExecBinary string `env:"EXEC_BINARY"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if strings.TrimSpace(w.OwnerID) == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "quarry-worker"
		}
		w.OwnerID = host
	}
	if w.PollInterval <= 0 {
		w.PollInterval = time.Second
	}
	if w.BatchSize < 1 {
		w.BatchSize = 1
	}
	if w.MaxConcurrent < 1 {
		w.MaxConcurrent = 1
	}
	if w.JobTimeout <= 0 {
		w.JobTimeout = 120 * time.Second
	}
	if w.VisibilityTimeout < w.JobTimeout {
		w.VisibilityTimeout = w.JobTimeout + 60*time.Second
	}
}

// LogShipConfig contains log shipping configuration.
type LogShipConfig struct {
	// Bucket is the remote storage bucket receiving log batches.
	Bucket string `env:"BUCKET" envDefault:"quarry-logs"`

	// BufferSize is the bounded producer channel capacity. Producers drop
	// lines instead of blocking when it fills.
	BufferSize int `env:"BUFFER_SIZE" envDefault:"1024"`

	// FlushLines flushes a job buffer once it holds this many lines.
	FlushLines int `env:"FLUSH_LINES" envDefault:"100"`

	// FlushInterval flushes all non-empty buffers at least this often.
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"5s"`
}

// Sanitize applies guardrails to log shipping configuration values.
func (l *LogShipConfig) Sanitize() {
	if strings.TrimSpace(l.Bucket) == "" {
		l.Bucket = "quarry-logs"
	}
	if l.BufferSize < 1 {
		l.BufferSize = 1024
	}
	if l.FlushLines < 1 {
		l.FlushLines = 100
	}
	if l.FlushInterval <= 0 {
		l.FlushInterval = 5 * time.Second
	}
}
