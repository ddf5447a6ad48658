// Package data contains the adapters that talk to PostgreSQL and Redis:
// the dispatcher's coordinating connection, the two queue sources, the
// status reporter, and the log object store.
package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// txStatusFailed is the wire-protocol transaction status reported while a
// connection sits inside an aborted transaction.
const txStatusFailed = 'E'

// dialFunc establishes a single connection attempt. Overridable in tests.
type dialFunc func(ctx context.Context, dsn string) (*pgx.Conn, error)

// ConnectionManagerOptions configures a ConnectionManager.
type ConnectionManagerOptions struct {
	DSN          string
	PollInterval time.Duration // sleep between failed connect attempts; defaults to 1s
	Logger       *slog.Logger

	// Dial overrides the connect function (tests only).
	Dial dialFunc
}

// ConnectionManager owns the dispatcher's single coordinating connection.
// It detects the aborted-transaction state and performs safe reconnection.
// It is not safe for concurrent use; only the dispatcher loop touches it.
type ConnectionManager struct {
	dsn          string
	pollInterval time.Duration
	logger       *slog.Logger
	dial         dialFunc

	conn *pgx.Conn
}

// NewConnectionManager creates a ConnectionManager. No connection is
// established until Ensure or Connect is called.
func NewConnectionManager(opts ConnectionManagerOptions) (*ConnectionManager, error) {
	if opts.DSN == "" {
		return nil, errors.New("dsn is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	dial := opts.Dial
	if dial == nil {
		dial = pgx.Connect
	}
	return &ConnectionManager{
		dsn:          opts.DSN,
		pollInterval: interval,
		logger:       logger,
		dial:         dial,
	}, nil
}

// Conn returns the current coordinating connection, or nil when disconnected.
func (m *ConnectionManager) Conn() *pgx.Conn {
	return m.conn
}

// Connect establishes the coordinating connection, retrying indefinitely at
// the poll interval. It returns only once connected or when ctx is done; a
// long-running worker recovers from outages without an external restart.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		conn, err := m.dial(ctx, m.dsn)
		if err == nil {
			m.conn = conn
			m.logger.InfoContext(ctx, "database connected", "attempt", attempt)
			return nil
		}
		m.logger.WarnContext(ctx, "database connect failed, retrying",
			"attempt", attempt,
			"retry_in", m.pollInterval,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect: %w", ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}
}

// Ensure guarantees a healthy coordinating connection: it connects when
// disconnected and reconnects safely when the connection is in the aborted
// transaction state.
func (m *ConnectionManager) Ensure(ctx context.Context) error {
	if m.conn == nil || m.conn.IsClosed() {
		m.conn = nil
		if err := m.Connect(ctx); err != nil {
			return err
		}
	}
	if m.IsErrorState() {
		return m.SafeReconnect(ctx)
	}
	return nil
}

// IsErrorState reports whether the connection is inside an aborted transaction.
func (m *ConnectionManager) IsErrorState() bool {
	if m.conn == nil || m.conn.IsClosed() {
		return false
	}
	return m.conn.PgConn().TxStatus() == txStatusFailed
}

// SafeReconnect restores a usable connection: it attempts a rollback first
// and falls back to discarding the connection and dialing again. On return
// the connection is guaranteed not to be in the error state, or an error is
// returned (only when ctx is done).
func (m *ConnectionManager) SafeReconnect(ctx context.Context) error {
	if m.conn != nil && !m.conn.IsClosed() {
		if err := m.Rollback(ctx); err == nil && !m.IsErrorState() {
			return nil
		}
		m.logger.WarnContext(ctx, "rollback did not clear connection error state, reconnecting")
		m.closeQuietly(ctx)
	}
	m.conn = nil
	return m.Connect(ctx)
}

// Rollback issues a best-effort ROLLBACK on the coordinating connection. It
// is used by the dispatcher to settle any transaction left open by a failed
// loop iteration.
func (m *ConnectionManager) Rollback(ctx context.Context) error {
	if m.conn == nil || m.conn.IsClosed() {
		return nil
	}
	if _, err := m.conn.Exec(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close tears down the coordinating connection.
func (m *ConnectionManager) Close(ctx context.Context) {
	m.closeQuietly(ctx)
	m.conn = nil
}

func (m *ConnectionManager) closeQuietly(ctx context.Context) {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(ctx); err != nil {
		m.logger.WarnContext(ctx, "close connection failed", "error", err)
	}
}
