package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/observability/metrics"
)

type metricCall struct {
	name  string
	value float64
	tags  map[string]string
}

type captureSink struct {
	counts  []metricCall
	gauges  []metricCall
	timings []metricCall
}

func (s *captureSink) Count(name string, value int64, tags map[string]string) {
	s.counts = append(s.counts, metricCall{name: name, value: float64(value), tags: tags})
}

func (s *captureSink) Gauge(name string, value float64, tags map[string]string) {
	s.gauges = append(s.gauges, metricCall{name: name, value: value, tags: tags})
}

func (s *captureSink) Timing(name string, value time.Duration, tags map[string]string) {
	s.timings = append(s.timings, metricCall{name: name, value: float64(value), tags: tags})
}

func TestEmitJobLifecycle(t *testing.T) {
	sink := &captureSink{}

	metrics.EmitJobLifecycle(sink, metrics.JobMetric{
		Kind:     "exec",
		Source:   "pgmq",
		Result:   metrics.ResultSuccess,
		Duration: 250 * time.Millisecond,
	})

	require.Len(t, sink.counts, 1)
	assert.Equal(t, "job.completed", sink.counts[0].name)
	assert.Equal(t, map[string]string{
		"kind":   "exec",
		"source": "pgmq",
		"result": "success",
	}, sink.counts[0].tags)

	require.Len(t, sink.timings, 1)
	assert.Equal(t, "job.duration", sink.timings[0].name)
}

func TestEmitJobLifecycleTagsErrorClass(t *testing.T) {
	sink := &captureSink{}

	metrics.EmitJobLifecycle(sink, metrics.JobMetric{
		Kind:   "exec",
		Source: "row-claim",
		Result: metrics.ResultError,
		Err:    errors.New("boom"),
	})

	require.Len(t, sink.counts, 1)
	assert.Equal(t, "errors_errorstring", sink.counts[0].tags["error_class"])
	// No duration, no timing.
	assert.Empty(t, sink.timings)
}

func TestEmitJobLifecycleSuccessSkipsErrorClass(t *testing.T) {
	sink := &captureSink{}

	metrics.EmitJobLifecycle(sink, metrics.JobMetric{
		Kind:   "noop",
		Source: "pgmq",
		Result: metrics.ResultSuccess,
		Err:    errors.New("stale"),
	})

	require.Len(t, sink.counts, 1)
	assert.NotContains(t, sink.counts[0].tags, "error_class")
}

func TestEmitHelpers(t *testing.T) {
	sink := &captureSink{}

	metrics.EmitClaim(sink, "pgmq", 4)
	metrics.EmitQueueFallback(sink, "pgmq", "row-claim")
	metrics.EmitInFlight(sink, 2)

	require.Len(t, sink.counts, 2)
	assert.Equal(t, "queue.claimed", sink.counts[0].name)
	assert.Equal(t, float64(4), sink.counts[0].value)
	assert.Equal(t, "queue.fallback", sink.counts[1].name)
	assert.Equal(t, map[string]string{"from": "pgmq", "to": "row-claim"}, sink.counts[1].tags)

	require.Len(t, sink.gauges, 1)
	assert.Equal(t, "jobs.in_flight", sink.gauges[0].name)
	assert.Equal(t, float64(2), sink.gauges[0].value)
}

func TestEmittersTolerateNilSink(t *testing.T) {
	metrics.EmitJobLifecycle(nil, metrics.JobMetric{Result: metrics.ResultSuccess})
	metrics.EmitClaim(nil, "pgmq", 1)
	metrics.EmitQueueFallback(nil, "pgmq", "row-claim")
	metrics.EmitInFlight(nil, 0)
}
