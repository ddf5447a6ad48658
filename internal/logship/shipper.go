// Package logship buffers job output lines and ships them to object
// storage in batches, decoupling slow uploads from the hot execution path.
package logship

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/data"
)

const (
	defaultBufferSize    = 1024
	defaultFlushLines    = 100
	defaultFlushInterval = 5 * time.Second
)

type entry struct {
	ownerID string
	jobKey  string
	line    string
}

// jobBuffer accumulates lines for one job between flushes.
type jobBuffer struct {
	ownerID string
	jobKey  string
	lines   []string
	seq     int
}

// LogShipperOptions configures a LogShipper.
type LogShipperOptions struct {
	Store  core.ObjectStore
	Bucket string
	// BufferSize bounds the producer channel. When full, Emit drops lines
	// rather than blocking job execution.
	BufferSize    int
	FlushLines    int
	FlushInterval time.Duration
	Logger        *slog.Logger
	TimeProvider  data.TimeProvider
}

// LogShipper is a bounded-channel producer/consumer. Producers (job tasks)
// emit lines through Sink without ever blocking; a single consumer
// goroutine batches lines per job and uploads them when a batch reaches
// FlushLines or FlushInterval elapses. Upload failures are logged and the
// batch is discarded: log shipping is best-effort and must never wedge the
// worker.
type LogShipper struct {
	store         core.ObjectStore
	bucket        string
	flushLines    int
	flushInterval time.Duration
	logger        *slog.Logger
	timeProvider  data.TimeProvider

	entries      chan entry
	dropWarned   atomic.Bool
	droppedTotal atomic.Int64
}

// NewLogShipper creates a LogShipper. Run must be started for lines to
// leave the buffer.
func NewLogShipper(opts LogShipperOptions) (*LogShipper, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.FlushLines <= 0 {
		opts.FlushLines = defaultFlushLines
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &LogShipper{
		store:         opts.Store,
		bucket:        opts.Bucket,
		flushLines:    opts.FlushLines,
		flushInterval: opts.FlushInterval,
		logger:        logger,
		timeProvider:  tp,
		entries:       make(chan entry, opts.BufferSize),
	}, nil
}

// Sink returns a LogSink bound to one job. Safe to call from any goroutine.
func (s *LogShipper) Sink(ownerID, jobKey string) core.LogSink {
	return &jobSink{shipper: s, ownerID: ownerID, jobKey: jobKey}
}

// Dropped reports how many lines were discarded because the buffer was full.
func (s *LogShipper) Dropped() int64 {
	return s.droppedTotal.Load()
}

func (s *LogShipper) emit(e entry) {
	select {
	case s.entries <- e:
		s.dropWarned.Store(false)
	default:
		s.droppedTotal.Add(1)
		// Warn once per congestion episode, not once per line.
		if s.dropWarned.CompareAndSwap(false, true) {
			s.logger.Warn("log buffer full, dropping lines",
				"job_key", e.jobKey, "buffer_cap", cap(s.entries))
		}
	}
}

// Run consumes the buffer until ctx is done, then drains whatever is left
// and flushes every open batch before returning.
func (s *LogShipper) Run(ctx context.Context) error {
	buffers := make(map[string]*jobBuffer)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-s.entries:
			s.append(buffers, e)
		case <-ticker.C:
			s.flushAll(buffers)
		case <-ctx.Done():
			s.drain(buffers)
			s.flushAll(buffers)
			return nil
		}
	}
}

func (s *LogShipper) append(buffers map[string]*jobBuffer, e entry) {
	key := e.ownerID + "/" + e.jobKey
	buf, ok := buffers[key]
	if !ok {
		buf = &jobBuffer{ownerID: e.ownerID, jobKey: e.jobKey}
		buffers[key] = buf
	}
	buf.lines = append(buf.lines, e.line)
	if len(buf.lines) >= s.flushLines {
		s.flush(buf)
	}
}

// drain moves everything still queued in the channel into the buffers
// without blocking. Producers racing a final line in after this point lose
// it; shutdown has already been ordered.
func (s *LogShipper) drain(buffers map[string]*jobBuffer) {
	for {
		select {
		case e := <-s.entries:
			s.append(buffers, e)
		default:
			return
		}
	}
}

func (s *LogShipper) flushAll(buffers map[string]*jobBuffer) {
	for _, buf := range buffers {
		s.flush(buf)
	}
}

func (s *LogShipper) flush(buf *jobBuffer) {
	if len(buf.lines) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s/%d-%04d.log",
		buf.ownerID, buf.jobKey, s.timeProvider.Now().Unix(), buf.seq)
	payload := make([]byte, 0, batchSize(buf.lines))
	for _, line := range buf.lines {
		payload = append(payload, line...)
		payload = append(payload, '\n')
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Upload(ctx, s.bucket, path, payload); err != nil {
		s.logger.Error("log batch upload failed",
			"job_key", buf.jobKey, "path", path, "lines", len(buf.lines), "error", err)
	}

	buf.seq++
	buf.lines = buf.lines[:0]
}

func batchSize(lines []string) int {
	n := 0
	for _, line := range lines {
		n += len(line) + 1
	}
	return n
}

type jobSink struct {
	shipper *LogShipper
	ownerID string
	jobKey  string
}

func (j *jobSink) Emit(line string) {
	j.shipper.emit(entry{ownerID: j.ownerID, jobKey: j.jobKey, line: line})
}
