package logship_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/logship"
)

type fakeStore struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

type upload struct {
	bucket string
	path   string
	data   string
}

func (f *fakeStore) Upload(_ context.Context, bucket, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploads = append(f.uploads, upload{bucket: bucket, path: path, data: string(data)})
	return nil
}

func (f *fakeStore) snapshot() []upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upload(nil), f.uploads...)
}

func waitForUploads(t *testing.T, store *fakeStore, want int) []upload {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got := store.snapshot()
		if len(got) >= want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d uploads, have %d", want, len(store.snapshot()))
	return nil
}

func newTestShipper(t *testing.T, store *fakeStore, flushLines int, flushInterval time.Duration) *logship.LogShipper {
	t.Helper()
	shipper, err := logship.NewLogShipper(logship.LogShipperOptions{
		Store:         store,
		Bucket:        "quarry-logs",
		BufferSize:    64,
		FlushLines:    flushLines,
		FlushInterval: flushInterval,
	})
	require.NoError(t, err)
	return shipper
}

func TestLogShipper_FlushOnLineThreshold(t *testing.T) {
	store := &fakeStore{}
	shipper := newTestShipper(t, store, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = shipper.Run(ctx) }()

	sink := shipper.Sink("worker-1", "job-a")
	sink.Emit("one")
	sink.Emit("two")
	sink.Emit("three")

	uploads := waitForUploads(t, store, 1)
	assert.Equal(t, "quarry-logs", uploads[0].bucket)
	assert.True(t, strings.HasPrefix(uploads[0].path, "worker-1/job-a/"), uploads[0].path)
	assert.True(t, strings.HasSuffix(uploads[0].path, "-0000.log"), uploads[0].path)
	assert.Equal(t, "one\ntwo\nthree\n", uploads[0].data)
}

func TestLogShipper_FlushOnInterval(t *testing.T) {
	store := &fakeStore{}
	shipper := newTestShipper(t, store, 100, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = shipper.Run(ctx) }()

	shipper.Sink("worker-1", "job-b").Emit("partial batch")

	uploads := waitForUploads(t, store, 1)
	assert.Equal(t, "partial batch\n", uploads[0].data)
}

func TestLogShipper_FinalFlushOnShutdown(t *testing.T) {
	store := &fakeStore{}
	shipper := newTestShipper(t, store, 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = shipper.Run(ctx)
	}()

	sink := shipper.Sink("worker-1", "job-c")
	sink.Emit("last words")
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	uploads := store.snapshot()
	require.Len(t, uploads, 1)
	assert.Equal(t, "last words\n", uploads[0].data)
}

func TestLogShipper_NoLossAcrossRepeatedFlushes(t *testing.T) {
	store := &fakeStore{}
	shipper := newTestShipper(t, store, 4, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = shipper.Run(ctx)
	}()

	const lines = 25
	sink := shipper.Sink("worker-1", "job-bulk")
	var want strings.Builder
	for i := 0; i < lines; i++ {
		line := fmt.Sprintf("line-%02d", i)
		sink.Emit(line)
		want.WriteString(line + "\n")
	}

	// Six full batches plus the final partial one on shutdown.
	waitForUploads(t, store, lines/4)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	var got strings.Builder
	for _, u := range store.snapshot() {
		got.WriteString(u.data)
	}
	assert.Equal(t, want.String(), got.String())
}

func TestLogShipper_SequenceAdvancesPerBatch(t *testing.T) {
	store := &fakeStore{}
	shipper := newTestShipper(t, store, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = shipper.Run(ctx) }()

	sink := shipper.Sink("worker-1", "job-d")
	for i := 0; i < 4; i++ {
		sink.Emit("line")
	}

	uploads := waitForUploads(t, store, 2)
	assert.True(t, strings.HasSuffix(uploads[0].path, "-0000.log"), uploads[0].path)
	assert.True(t, strings.HasSuffix(uploads[1].path, "-0001.log"), uploads[1].path)
}

func TestLogShipper_SeparateJobsSeparateBatches(t *testing.T) {
	store := &fakeStore{}
	shipper := newTestShipper(t, store, 1, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = shipper.Run(ctx) }()

	shipper.Sink("worker-1", "job-x").Emit("from x")
	shipper.Sink("worker-1", "job-y").Emit("from y")

	uploads := waitForUploads(t, store, 2)
	paths := []string{uploads[0].path, uploads[1].path}
	joined := strings.Join(paths, " ")
	assert.Contains(t, joined, "job-x")
	assert.Contains(t, joined, "job-y")
}

func TestLogShipper_DropsWhenBufferFull(t *testing.T) {
	store := &fakeStore{}
	shipper, err := logship.NewLogShipper(logship.LogShipperOptions{
		Store:      store,
		Bucket:     "quarry-logs",
		BufferSize: 1,
	})
	require.NoError(t, err)

	// No consumer running: only one line fits.
	sink := shipper.Sink("worker-1", "job-full")
	sink.Emit("kept")
	sink.Emit("dropped")
	sink.Emit("dropped too")

	assert.Equal(t, int64(2), shipper.Dropped())
}

func TestLogShipper_UploadFailureDoesNotStopConsumer(t *testing.T) {
	store := &fakeStore{err: errors.New("bucket offline")}
	shipper := newTestShipper(t, store, 1, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = shipper.Run(ctx)
	}()

	sink := shipper.Sink("worker-1", "job-err")
	sink.Emit("first")
	sink.Emit("second")
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("consumer wedged after upload failure")
	}
	assert.Empty(t, store.snapshot())
}

func TestNewLogShipper_Validation(t *testing.T) {
	_, err := logship.NewLogShipper(logship.LogShipperOptions{Bucket: "b"})
	assert.Error(t, err)

	_, err = logship.NewLogShipper(logship.LogShipperOptions{Store: &fakeStore{}})
	assert.Error(t, err)
}
