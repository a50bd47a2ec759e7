package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/source"
)

func startPostgres(t *testing.T) *Source {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("flowwatch"),
		tcpostgres.WithUsername("flowwatch"),
		tcpostgres.WithPassword("flowwatch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	src, err := Open(ctx, Options{DSN: connStr, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(src.Close)

	require.NoError(t, src.EnsureSchema(ctx))
	return src
}

func TestSource_Postgres(t *testing.T) {
	src := startPostgres(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := src.pool.Exec(ctx, `
		INSERT INTO workflows (workflow_id, user_id, status, current_agent, progress, start_time, end_time) VALUES
		('wf-1', 'u1', 'processing', 'extraction', 30, $1, NULL),
		('wf-2', 'u1', 'pending', NULL, 0, $2, NULL),
		('wf-3', 'u1', 'completed', NULL, 100, $3, $4),
		('wf-4', 'u2', 'processing', 'ingestion', 10, $1, NULL)`,
		base, base.Add(time.Minute), base.Add(-time.Hour), base.Add(-30*time.Minute),
	)
	require.NoError(t, err)

	_, err = src.pool.Exec(ctx, `
		INSERT INTO processing_logs (id, user_id, source, status, timestamp, transaction_count) VALUES
		('l1', 'u1', 'a.csv', 'completed', $1, 10),
		('l2', 'u1', 'b.csv', 'failed', $2, 0)`,
		base.Add(-2*time.Hour), base.Add(-time.Hour),
	)
	require.NoError(t, err)

	_, err = src.pool.Exec(ctx, `
		INSERT INTO agent_communications (id, user_id, workflow_id, stage, agent, status, message, timestamp) VALUES
		('c1', 'u1', 'wf-1', 'ingestion', 'ingestion_agent', 'completed', 'ok', $1),
		('c2', 'u1', 'wf-1', 'extraction', 'extraction_agent', 'processing', 'working', $2)`,
		base, base.Add(10*time.Second),
	)
	require.NoError(t, err)

	t.Run("statistics", func(t *testing.T) {
		stats, err := src.GetStatistics(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.Statistics{Total: 3, Completed: 1, Processing: 1, Pending: 1}, stats)
	})

	t.Run("active newest first", func(t *testing.T) {
		active, err := src.GetActiveWorkflows(ctx, "u1", 10)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "wf-2", active[0].WorkflowID)
		assert.Nil(t, active[0].CurrentAgent)
		require.NotNil(t, active[1].CurrentAgent)
		assert.Equal(t, "extraction", *active[1].CurrentAgent)
	})

	t.Run("limit applies", func(t *testing.T) {
		active, err := src.GetActiveWorkflows(ctx, "u1", 1)
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("history", func(t *testing.T) {
		history, err := src.GetWorkflowHistory(ctx, "u1", 20)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "l2", history[0].ID)
	})

	t.Run("communications", func(t *testing.T) {
		comms, err := src.GetAgentCommunications(ctx, "u1", 50)
		require.NoError(t, err)
		assert.Len(t, comms, 2)

		none, err := src.GetAgentCommunications(ctx, "u2", 50)
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("invalid row is a decode error", func(t *testing.T) {
		_, err := src.pool.Exec(ctx, `
			INSERT INTO workflows (workflow_id, user_id, status, progress, start_time) VALUES
			('wf-bad', 'u3', 'processing', 250, $1)`, base)
		require.NoError(t, err)

		_, err = src.GetActiveWorkflows(ctx, "u3", 10)
		var de *source.DecodeError
		assert.ErrorAs(t, err, &de)
	})
}

func TestOpen_BadDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{DSN: "://not a dsn"})
	assert.Error(t, err)
}
