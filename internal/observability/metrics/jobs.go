// Package metrics standardizes the worker's metric names and tags.
package metrics

import (
	"time"

	obserrors "github.com/quarrylabs/quarry/internal/observability/errors"
	"github.com/quarrylabs/quarry/internal/observability/statsd"
)

// Result tag values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// JobMetric captures one job lifecycle event.
type JobMetric struct {
	Kind     string
	Source   string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitJobLifecycle emits the per-job completion counter and timing.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":   in.Kind,
		"source": in.Source,
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.completed", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, cloneTags(tags))
	}
}

// EmitClaim records how many jobs a poll iteration claimed.
func EmitClaim(sink statsd.Sink, source string, claimed int) {
	if sink == nil {
		return
	}
	sink.Count("queue.claimed", int64(claimed), map[string]string{"source": source})
}

// EmitQueueFallback records the one-time switch to the fallback source.
func EmitQueueFallback(sink statsd.Sink, from, to string) {
	if sink == nil {
		return
	}
	sink.Count("queue.fallback", 1, map[string]string{"from": from, "to": to})
}

// EmitInFlight gauges how many job tasks currently hold a permit.
func EmitInFlight(sink statsd.Sink, inFlight int64) {
	if sink == nil {
		return
	}
	sink.Gauge("jobs.in_flight", float64(inFlight), nil)
}

func cloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
