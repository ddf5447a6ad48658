package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/data/pgxutil"
	"github.com/quarrylabs/quarry/internal/domain/model"
)

// ErrJobNotFound is returned when a job row is not found.
var ErrJobNotFound = errors.New("job not found")

// StatusRepoOptions configures a StatusRepo.
type StatusRepoOptions struct {
	DB           *sql.DB
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// StatusRepo persists job status transitions and final results. All writes
// are read-then-update-or-insert rather than unconditional upserts, so
// repeating a terminal transition or a result write is a no-op.
type StatusRepo struct {
	db           *sql.DB
	logger       *slog.Logger
	timeProvider TimeProvider
}

var _ core.StatusReporter = (*StatusRepo)(nil)

// NewStatusRepo creates a StatusRepo.
func NewStatusRepo(opts StatusRepoOptions) (*StatusRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("db handle is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &StatusRepo{db: opts.DB, logger: logger, timeProvider: tp}, nil
}

// UpdateStatus records a status transition idempotently. Unknown job keys
// get a fresh row (the message-queue path has no pre-existing jobs row).
// Repeating the current status is a no-op; transitions that would move a
// job backwards are refused and logged, never errors.
func (r *StatusRepo) UpdateStatus(
	ctx context.Context,
	jobKey string,
	status model.JobStatus,
	jobErr string,
) error {
	if jobKey == "" {
		return errors.New("job_key is required")
	}
	if !status.Valid() {
		return fmt.Errorf("invalid job status: %s", status)
	}

	return pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var current model.JobStatus
			err := tx.QueryRowContext(ctx,
				`SELECT status FROM jobs WHERE job_key = $1 FOR UPDATE`, jobKey,
			).Scan(&current)

			switch {
			case errors.Is(err, sql.ErrNoRows):
				return r.insertStatusRow(ctx, tx, jobKey, status, jobErr)
			case err != nil:
				return fmt.Errorf("read job status: %w", err)
			}

			if current == status {
				return nil
			}
			if !current.CanTransitionTo(status) {
				r.logger.WarnContext(ctx, "refusing non-monotonic status transition",
					"job_key", jobKey, "from", current, "to", status)
				return nil
			}
			return r.applyTransition(ctx, tx, jobKey, status, jobErr)
		},
	})
}

func (r *StatusRepo) insertStatusRow(
	ctx context.Context,
	tx *sql.Tx,
	jobKey string,
	status model.JobStatus,
	jobErr string,
) error {
	now := r.timeProvider.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (job_key, kind, parameters, status, error, created_at, started_at, finished_at)
		VALUES ($1, '', '{}', $2, NULLIF($3, ''), $4,
		        CASE WHEN $2 <> 'queued' THEN $4 END,
		        CASE WHEN $2 IN ('completed', 'failed') THEN $4 END)
	`, jobKey, status, jobErr, now)
	if err != nil {
		return fmt.Errorf("insert job status row: %w", err)
	}
	return nil
}

func (r *StatusRepo) applyTransition(
	ctx context.Context,
	tx *sql.Tx,
	jobKey string,
	status model.JobStatus,
	jobErr string,
) error {
	now := r.timeProvider.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    error = NULLIF($3, ''),
		    started_at = CASE WHEN $2 = 'processing' THEN COALESCE(started_at, $4) ELSE started_at END,
		    finished_at = CASE WHEN $2 IN ('completed', 'failed') THEN COALESCE(finished_at, $4) ELSE finished_at END
		WHERE job_key = $1
	`, jobKey, status, jobErr, now)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// SaveResult writes the terminal result payload exactly once logically.
// Concurrent or duplicate calls observe the existing result and return
// without touching the row.
func (r *StatusRepo) SaveResult(ctx context.Context, jobKey string, result *model.ResultRecord) error {
	if jobKey == "" {
		return errors.New("job_key is required")
	}
	if result == nil {
		return errors.New("result is required")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	return pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var existing sql.NullString
			err := tx.QueryRowContext(ctx,
				`SELECT result FROM jobs WHERE job_key = $1 FOR UPDATE`, jobKey,
			).Scan(&existing)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			if err != nil {
				return fmt.Errorf("read job result: %w", err)
			}
			if existing.Valid {
				r.logger.DebugContext(ctx, "result already persisted", "job_key", jobKey)
				return nil
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET result = $2 WHERE job_key = $1`, jobKey, payload,
			); err != nil {
				return fmt.Errorf("save job result: %w", err)
			}
			return nil
		},
	})
}

// GetByKey retrieves a job row by its job key.
func (r *StatusRepo) GetByKey(ctx context.Context, jobKey string) (*model.JobRecord, error) {
	job := &model.JobRecord{}
	var (
		result  []byte
		jobErr  sql.NullString
		started sql.NullTime
		done    sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, job_key, kind, parameters, status, result, error, created_at, started_at, finished_at
		FROM jobs
		WHERE job_key = $1
	`, jobKey).Scan(
		&job.ID, &job.JobKey, &job.Kind, &job.Parameters, &job.Status,
		&result, &jobErr, &job.CreatedAt, &started, &done,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(result) > 0 {
		job.Result = append(json.RawMessage(nil), result...)
	}
	if jobErr.Valid {
		v := jobErr.String
		job.Error = &v
	}
	if started.Valid {
		t := started.Time.UTC()
		job.StartedAt = &t
	}
	if done.Valid {
		t := done.Time.UTC()
		job.FinishedAt = &t
	}
	return job, nil
}
