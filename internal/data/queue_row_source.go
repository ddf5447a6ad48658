package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/data/pgxutil"
	"github.com/quarrylabs/quarry/internal/domain/model"
)

// SQL used by ClaimBatch. SKIP LOCKED guarantees no two concurrent claimers
// select the same row; the status flip happens in the same transaction.
const claimRowsSQL = `
  SELECT id, job_key, kind, parameters
  FROM jobs
  WHERE status = 'queued'
  ORDER BY created_at
  FOR UPDATE SKIP LOCKED
  LIMIT $1`

const markProcessingSQL = `
  UPDATE jobs
  SET status = 'processing', started_at = COALESCE(started_at, $2)
  WHERE id = ANY($1)`

// RowClaimSourceOptions configures a RowClaimSource.
type RowClaimSourceOptions struct {
	// Manager supplies the coordinating connection used for claims.
	Manager *ConnectionManager
	// DB is the pooled handle used by Ack/Fail (called from job tasks).
	DB           *sql.DB
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RowClaimSource claims jobs with a transactional
// SELECT ... FOR UPDATE SKIP LOCKED against the jobs table. It is the
// fallback backend used when the message-queue extension is unavailable.
type RowClaimSource struct {
	mgr          *ConnectionManager
	db           *sql.DB
	logger       *slog.Logger
	timeProvider TimeProvider
}

var _ core.QueueSource = (*RowClaimSource)(nil)

// NewRowClaimSource creates a RowClaimSource.
func NewRowClaimSource(opts RowClaimSourceOptions) (*RowClaimSource, error) {
	if opts.Manager == nil {
		return nil, errors.New("connection manager is required")
	}
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
	return &RowClaimSource{
		mgr:          opts.Manager,
		db:           opts.DB,
		logger:       logger,
		timeProvider: tp,
	}, nil
}

// Name identifies the backend in logs.
func (s *RowClaimSource) Name() string { return "row-claim" }

// ClaimBatch selects up to limit queued rows with SKIP LOCKED and flips them
// to processing, all in one transaction. The coordinating connection is
// always left outside a transaction on return.
func (s *RowClaimSource) ClaimBatch(ctx context.Context, limit int) ([]model.ClaimedItem, error) {
	conn := s.mgr.Conn()
	if conn == nil {
		return nil, errors.New("no coordinating connection")
	}

	var items []model.ClaimedItem
	err := pgxutil.WithConnTx(ctx, conn, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimRowsSQL, limit)
		if err != nil {
			return fmt.Errorf("select queued jobs: %w", err)
		}
		var ids []int64
		items, ids, err = collectClaimedRows(rows)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, markProcessingSQL, ids, s.timeProvider.Now().UTC()); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Ack flips the row to completed. A second Ack finds no processing row and
// is a no-op.
func (s *RowClaimSource) Ack(ctx context.Context, item model.ClaimedItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', finished_at = COALESCE(finished_at, $2)
		WHERE job_key = $1 AND status = 'processing'
	`, item.JobKey, s.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("ack job %s: %w", item.JobKey, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		s.logger.DebugContext(ctx, "ack found no processing row", "job_key", item.JobKey)
	}
	return nil
}

// Fail flips the row to failed and records the reason.
func (s *RowClaimSource) Fail(ctx context.Context, item model.ClaimedItem, reason string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error = $2, finished_at = COALESCE(finished_at, $3)
		WHERE job_key = $1 AND status = 'processing'
	`, item.JobKey, reason, s.timeProvider.Now().UTC()); err != nil {
		return fmt.Errorf("fail job %s: %w", item.JobKey, err)
	}
	return nil
}

// Enqueue inserts a queued job row. Used by seed tooling and tests; the
// production submitter lives outside this worker.
func (s *RowClaimSource) Enqueue(ctx context.Context, payload model.JobPayload) (*model.JobRecord, error) {
	if payload.JobKey == "" {
		payload.JobKey = model.NewJobKey()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	params := payload.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	job := &model.JobRecord{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (job_key, kind, parameters, status, created_at)
		VALUES ($1, $2, $3, 'queued', $4)
		RETURNING id, job_key, kind, parameters, status, created_at
	`, payload.JobKey, payload.Kind, []byte(params), s.timeProvider.Now().UTC()).Scan(
		&job.ID, &job.JobKey, &job.Kind, &job.Parameters, &job.Status, &job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func collectClaimedRows(rows pgx.Rows) ([]model.ClaimedItem, []int64, error) {
	defer rows.Close()

	var (
		items []model.ClaimedItem
		ids   []int64
	)
	for rows.Next() {
		var (
			id         int64
			item       model.ClaimedItem
			parameters []byte
		)
		if err := rows.Scan(&id, &item.JobKey, &item.Kind, &parameters); err != nil {
			return nil, nil, fmt.Errorf("scan claimed row: %w", err)
		}
		item.Parameters = append(json.RawMessage(nil), parameters...)
		items = append(items, item)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("claim rows: %w", err)
	}
	return items, ids, nil
}
