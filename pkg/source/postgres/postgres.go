// Package postgres reads workflow views directly from the pipeline database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/source"
)

// Schema creates the tables this source reads. The producing system owns the
// real schema; this is the subset flowwatch depends on.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	workflow_id            TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL,
	status                 TEXT NOT NULL,
	current_agent          TEXT,
	progress               INT NOT NULL DEFAULT 0,
	start_time             TIMESTAMPTZ NOT NULL,
	end_time               TIMESTAMPTZ,
	transactions_processed INT,
	insights_generated     INT,
	suggestions_count      INT
);
CREATE INDEX IF NOT EXISTS workflows_user_start_idx ON workflows (user_id, start_time DESC);

CREATE TABLE IF NOT EXISTS processing_logs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL,
	transaction_count INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS processing_logs_user_ts_idx ON processing_logs (user_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS agent_communications (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	stage       TEXT NOT NULL,
	agent       TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS agent_communications_user_ts_idx ON agent_communications (user_id, timestamp DESC);
`

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// Source implements source.Source with pgx.
type Source struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, opts Options) (*Source, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres source: parse DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres source: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres source: ping: %w", err)
	}
	return New(pool), nil
}

// EnsureSchema creates the tables read by this source if they do not exist.
func (s *Source) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres source: ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Source) Close() {
	s.pool.Close()
}

// GetStatistics implements source.Source.
func (s *Source) GetStatistics(ctx context.Context, userID string) (models.Statistics, error) {
	var stats models.Statistics
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'processing'),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM workflows
		WHERE user_id = $1`,
		userID,
	).Scan(&stats.Total, &stats.Completed, &stats.Processing, &stats.Pending, &stats.Failed)
	if err != nil {
		return models.Statistics{}, &source.FetchError{Source: source.Statistics, Err: err}
	}
	return stats, nil
}

// GetActiveWorkflows implements source.Source.
func (s *Source) GetActiveWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id, status, current_agent, progress, start_time, end_time
		FROM workflows
		WHERE user_id = $1 AND status IN ('pending', 'processing')
		ORDER BY start_time DESC
		LIMIT $2`,
		userID, limitArg(limit),
	)
	if err != nil {
		return nil, &source.FetchError{Source: source.Active, Err: err}
	}
	defer rows.Close()

	workflows := []models.Workflow{}
	for rows.Next() {
		var (
			w      models.Workflow
			status string
		)
		if err := rows.Scan(&w.WorkflowID, &status, &w.CurrentAgent, &w.Progress, &w.StartTime, &w.EndTime); err != nil {
			return nil, &source.DecodeError{Source: source.Active, Err: err}
		}
		w.Status = models.WorkflowStatus(status)
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, &source.FetchError{Source: source.Active, Err: err}
	}
	if err := source.ValidateWorkflows(source.Active, workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

// GetWorkflowHistory implements source.Source.
func (s *Source) GetWorkflowHistory(ctx context.Context, userID string, limit int) ([]models.ProcessingLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, status, timestamp, transaction_count
		FROM processing_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`,
		userID, limitArg(limit),
	)
	if err != nil {
		return nil, &source.FetchError{Source: source.History, Err: err}
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ProcessingLogEntry, error) {
		var e models.ProcessingLogEntry
		err := row.Scan(&e.ID, &e.Source, &e.Status, &e.Timestamp, &e.TransactionCount)
		return e, err
	})
	if err != nil {
		return nil, &source.DecodeError{Source: source.History, Err: err}
	}
	if entries == nil {
		entries = []models.ProcessingLogEntry{}
	}
	return entries, nil
}

// GetAgentCommunications implements source.Source.
func (s *Source) GetAgentCommunications(ctx context.Context, userID string, limit int) ([]models.Communication, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, stage, agent, status, message, timestamp
		FROM agent_communications
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`,
		userID, limitArg(limit),
	)
	if err != nil {
		return nil, &source.FetchError{Source: source.Communications, Err: err}
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Communication, error) {
		var c models.Communication
		err := row.Scan(&c.ID, &c.WorkflowID, &c.Stage, &c.Agent, &c.Status, &c.Message, &c.Timestamp)
		return c, err
	})
	if err != nil {
		return nil, &source.DecodeError{Source: source.Communications, Err: err}
	}
	if events == nil {
		events = []models.Communication{}
	}
	return events, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

var _ source.Source = (*Source)(nil)
