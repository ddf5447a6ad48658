package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/domain/model"
)

func TestJobStatus_Valid(t *testing.T) {
	for _, s := range []model.JobStatus{
		model.JobStatusQueued,
		model.JobStatusProcessing,
		model.JobStatusCompleted,
		model.JobStatusFailed,
	} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, model.JobStatus("running").Valid())
	assert.False(t, model.JobStatus("").Valid())
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    model.JobStatus
		to      model.JobStatus
		allowed bool
	}{
		{model.JobStatusQueued, model.JobStatusProcessing, true},
		{model.JobStatusQueued, model.JobStatusCompleted, true},
		{model.JobStatusQueued, model.JobStatusFailed, true},
		{model.JobStatusProcessing, model.JobStatusCompleted, true},
		{model.JobStatusProcessing, model.JobStatusFailed, true},
		// Processing never reverts.
		{model.JobStatusProcessing, model.JobStatusQueued, false},
		// Terminal statuses never change.
		{model.JobStatusCompleted, model.JobStatusProcessing, false},
		{model.JobStatusCompleted, model.JobStatusFailed, false},
		{model.JobStatusFailed, model.JobStatusCompleted, false},
		{model.JobStatusFailed, model.JobStatusQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, model.JobStatusQueued.Terminal())
	assert.False(t, model.JobStatusProcessing.Terminal())
	assert.True(t, model.JobStatusCompleted.Terminal())
	assert.True(t, model.JobStatusFailed.Terminal())
}

func TestJobStatus_UnmarshalText(t *testing.T) {
	var s model.JobStatus
	require.NoError(t, s.UnmarshalText([]byte("  Processing ")))
	assert.Equal(t, model.JobStatusProcessing, s)

	assert.Error(t, s.UnmarshalText([]byte("paused")))
}

func TestJobPayload_Validate(t *testing.T) {
	valid := model.JobPayload{
		JobKey:     "job-1",
		Kind:       "exec",
		Parameters: json.RawMessage(`{"target":"x"}`),
	}
	assert.NoError(t, valid.Validate())

	missingKey := model.JobPayload{Kind: "exec"}
	assert.Error(t, missingKey.Validate())

	missingKind := model.JobPayload{JobKey: "job-1"}
	assert.Error(t, missingKind.Validate())

	blank := model.JobPayload{JobKey: "  ", Kind: "\t"}
	assert.Error(t, blank.Validate())
}

func TestNewJobKey(t *testing.T) {
	a := model.NewJobKey()
	b := model.NewJobKey()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestResultRecord_Failed(t *testing.T) {
	var nilRecord *model.ResultRecord
	assert.True(t, nilRecord.Failed())

	assert.True(t, model.FailureResult("boom").Failed())
	assert.Equal(t, "boom", model.FailureResult("boom").Message)

	ok := &model.ResultRecord{Status: model.ResultSuccess}
	assert.False(t, ok.Failed())
}
