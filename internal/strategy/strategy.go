// Package strategy defines the pluggable compute backends that execute
// claimed jobs, and the registry that resolves them by job kind.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/domain/model"
)

// ErrExecution wraps programmer errors raised inside a strategy. Expected
// failure modes (non-zero exit, malformed output, timeout) are never
// errors; strategies convert those into failure ResultRecords instead.
var ErrExecution = errors.New("strategy execution error")

// ErrUnknownKind is returned by Resolve for an unregistered job kind. The
// dispatcher reports it as a job failure, never a crash: an unregistered
// kind is a configuration error.
var ErrUnknownKind = errors.New("no strategy registered for kind")

// Strategy executes one job. Run blocks until the job finishes or ctx is
// done; callers invoke it from a dedicated goroutine and enforce the hard
// timeout through ctx.
type Strategy interface {
	Run(ctx context.Context, ec *model.ExecutionContext, sink core.LogSink) (*model.ResultRecord, error)
}

// Registry maps job kinds to strategies. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register associates a strategy with a kind. Registering the same kind
// twice is a wiring mistake and returns an error.
func (r *Registry) Register(kind string, s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[kind]; exists {
		return fmt.Errorf("strategy already registered for kind %q", kind)
	}
	r.strategies[kind] = s
	return nil
}

// Resolve returns the strategy for kind, or ErrUnknownKind.
func (r *Registry) Resolve(kind string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
