package strategy

import (
	"context"
	"encoding/json"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/domain/model"
)

// NoopStrategy completes immediately without side effects. It exists for
// smoke tests and queue plumbing checks.
type NoopStrategy struct{}

var _ Strategy = (*NoopStrategy)(nil)

// NewNoopStrategy creates a NoopStrategy.
func NewNoopStrategy() *NoopStrategy {
	return &NoopStrategy{}
}

func (s *NoopStrategy) Run(
	ctx context.Context,
	ec *model.ExecutionContext,
	sink core.LogSink,
) (*model.ResultRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sink != nil {
		sink.Emit("noop: " + ec.JobKey)
	}
	return &model.ResultRecord{
		Status: model.ResultSuccess,
		Extra:  json.RawMessage(`{"noop":true}`),
	}, nil
}
