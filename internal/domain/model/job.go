// Package model defines the core data types shared across the quarry worker.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusQueued indicates a job is waiting to be claimed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a job is currently being executed.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusProcessing ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true if the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether the monotonic status machine permits
// moving from s to next. Processing never reverts to queued, and terminal
// statuses never change.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing || next.Terminal()
	case JobStatusProcessing:
		return next.Terminal()
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", v)
	}
	*s = v
	return nil
}

// JobRecord represents a job row in the jobs table.
type JobRecord struct {
	ID         string          `json:"id"                    db:"id"`
	JobKey     string          `json:"job_key"               db:"job_key"`
	Kind       string          `json:"kind"                  db:"kind"`
	Parameters json.RawMessage `json:"parameters"            db:"parameters"`
	Status     JobStatus       `json:"status"                db:"status"`
	Result     json.RawMessage `json:"result,omitempty"      db:"result"`
	Error      *string         `json:"error,omitempty"       db:"error"`
	CreatedAt  time.Time       `json:"created_at"            db:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"  db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// JobPayload is the structured payload carried by both queue backends.
type JobPayload struct {
	JobKey     string          `json:"job_key"`
	Kind       string          `json:"kind"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// NewJobKey generates a unique key for a job submitted without one.
func NewJobKey() string {
	return uuid.NewString()
}

// Validate validates the JobPayload fields.
func (p *JobPayload) Validate() error {
	if strings.TrimSpace(p.JobKey) == "" {
		return errors.New("job_key is required")
	}
	if strings.TrimSpace(p.Kind) == "" {
		return errors.New("kind is required")
	}
	return nil
}

// ClaimedItem is one unit of claimed work, regardless of which queue
// backend produced it. MessageID is set on the message-queue path only.
type ClaimedItem struct {
	MessageID  int64
	JobKey     string
	Kind       string
	Parameters json.RawMessage
}

// ExecutionContext carries everything a compute strategy needs to execute
// one job. It is created per job, owned exclusively by the task executing
// that job, and discarded when the task completes.
type ExecutionContext struct {
	JobKey     string
	OwnerID    string
	Parameters json.RawMessage
	WorkDir    string
	Timeout    time.Duration
}
