package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/domain/model"
)

// MessageQueueSourceOptions configures a MessageQueueSource.
type MessageQueueSourceOptions struct {
	// Manager supplies the coordinating connection used for claims.
	Manager *ConnectionManager
	// DB is the pooled handle used by Ack/Fail, which run inside job tasks
	// and must not touch the coordinating connection.
	DB *sql.DB
	// Queue is the pgmq queue name.
	Queue string
	// VisibilityTimeout hides claimed messages from other readers.
	VisibilityTimeout time.Duration
	Logger            *slog.Logger
}

// MessageQueueSource claims jobs through the pgmq extension running inside
// the database. It is the primary queue backend; when the extension is
// missing or erroring it reports core.ErrQueueUnavailable so the dispatcher
// can fall back to the row-claim source.
type MessageQueueSource struct {
	mgr        *ConnectionManager
	db         *sql.DB
	queue      string
	visibility time.Duration
	logger     *slog.Logger
}

var _ core.QueueSource = (*MessageQueueSource)(nil)

// NewMessageQueueSource creates a MessageQueueSource.
func NewMessageQueueSource(opts MessageQueueSourceOptions) (*MessageQueueSource, error) {
	if opts.Manager == nil {
		return nil, errors.New("connection manager is required")
	}
	if opts.DB == nil {
		return nil, errors.New("db handle is required")
	}
	if opts.Queue == "" {
		return nil, errors.New("queue name is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	visibility := opts.VisibilityTimeout
	if visibility <= 0 {
		visibility = time.Minute
	}
	return &MessageQueueSource{
		mgr:        opts.Manager,
		db:         opts.DB,
		queue:      opts.Queue,
		visibility: visibility,
		logger:     logger,
	}, nil
}

// Name identifies the backend in logs.
func (s *MessageQueueSource) Name() string { return "pgmq" }

// ClaimBatch reads up to limit messages; each returned message stays
// invisible to other readers until the visibility timeout elapses or the
// message is archived.
func (s *MessageQueueSource) ClaimBatch(ctx context.Context, limit int) ([]model.ClaimedItem, error) {
	conn := s.mgr.Conn()
	if conn == nil {
		return nil, errors.New("no coordinating connection")
	}

	rows, err := conn.Query(ctx,
		`SELECT msg_id, message FROM pgmq.read($1, $2, $3)`,
		s.queue, int(s.visibility.Seconds()), limit,
	)
	if err != nil {
		return nil, classifyQueueErr(err)
	}
	defer rows.Close()

	var items []model.ClaimedItem
	for rows.Next() {
		var (
			msgID   int64
			payload []byte
		)
		if scanErr := rows.Scan(&msgID, &payload); scanErr != nil {
			return nil, fmt.Errorf("scan queue message: %w", scanErr)
		}
		item, decodeErr := decodeClaimedMessage(msgID, payload)
		if decodeErr != nil {
			// Poison message: it can never execute, so archive it rather
			// than letting it reappear after every visibility timeout.
			s.logger.WarnContext(ctx, "dropping malformed queue message",
				"msg_id", msgID, "error", decodeErr)
			s.archiveAsync(msgID)
			continue
		}
		items = append(items, item)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, classifyQueueErr(rowsErr)
	}
	return items, nil
}

// Ack archives the message, permanently removing it from the queue.
// Archiving an already-archived message is a no-op.
func (s *MessageQueueSource) Ack(ctx context.Context, item model.ClaimedItem) error {
	var archived bool
	err := s.db.QueryRowContext(ctx,
		`SELECT pgmq.archive($1, $2::bigint)`, s.queue, item.MessageID,
	).Scan(&archived)
	if err != nil {
		return fmt.Errorf("archive message %d: %w", item.MessageID, err)
	}
	if !archived {
		s.logger.DebugContext(ctx, "message already archived", "msg_id", item.MessageID)
	}
	return nil
}

// Fail archives the message as well: the job's terminal FAILED state lives
// in the jobs table, and retry is the submitter's responsibility, so the
// message must not be re-delivered.
func (s *MessageQueueSource) Fail(ctx context.Context, item model.ClaimedItem, reason string) error {
	s.logger.InfoContext(ctx, "archiving failed job message",
		"msg_id", item.MessageID, "job_key", item.JobKey, "reason", reason)
	return s.Ack(ctx, item)
}

// Send enqueues a payload, returning the message id. Used by seed tooling
// and tests; the production submitter lives outside this worker.
func (s *MessageQueueSource) Send(ctx context.Context, payload model.JobPayload) (int64, error) {
	if payload.JobKey == "" {
		payload.JobKey = model.NewJobKey()
	}
	if err := payload.Validate(); err != nil {
		return 0, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	var msgID int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT pgmq.send($1, $2::jsonb)`, s.queue, body,
	).Scan(&msgID); err != nil {
		return 0, classifyQueueErr(err)
	}
	return msgID, nil
}

// archiveAsync archives a poison message on the pooled handle so the claim
// path never opens a second statement on the coordinating connection.
func (s *MessageQueueSource) archiveAsync(msgID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var archived bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT pgmq.archive($1, $2::bigint)`, s.queue, msgID,
		).Scan(&archived); err != nil {
			s.logger.WarnContext(ctx, "archive poison message failed", "msg_id", msgID, "error", err)
		}
	}()
}

func decodeClaimedMessage(msgID int64, payload []byte) (model.ClaimedItem, error) {
	var p model.JobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.ClaimedItem{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return model.ClaimedItem{}, err
	}
	return model.ClaimedItem{
		MessageID:  msgID,
		JobKey:     p.JobKey,
		Kind:       p.Kind,
		Parameters: p.Parameters,
	}, nil
}

// classifyQueueErr maps "extension is absent" errors onto
// core.ErrQueueUnavailable so the dispatcher can fall back permanently.
// Transient failures (connection drops, aborted transactions) pass through
// untouched and are retried on the next iteration instead.
func classifyQueueErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedFunction, pgerrcode.UndefinedTable, pgerrcode.InvalidSchemaName:
			return fmt.Errorf("%w: %s", core.ErrQueueUnavailable, pgErr.Message)
		}
	}
	return err
}
