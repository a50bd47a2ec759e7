package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/source"
)

func TestSource_Limits(t *testing.T) {
	ctx := context.Background()
	src := New()

	events := make([]models.Communication, 5)
	for i := range events {
		events[i] = models.Communication{WorkflowID: "wf"}
	}
	src.SetCommunications("u1", events)

	got, err := src.GetAgentCommunications(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = src.GetAgentCommunications(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = src.GetAgentCommunications(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSource_Fail(t *testing.T) {
	ctx := context.Background()
	src := New()
	boom := errors.New("boom")

	src.Fail(source.History, boom)
	_, err := src.GetWorkflowHistory(ctx, "u1", 10)

	var fe *source.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, source.History, fe.Source)
	assert.ErrorIs(t, err, boom)

	src.Fail(source.History, nil)
	_, err = src.GetWorkflowHistory(ctx, "u1", 10)
	assert.NoError(t, err)
	assert.Equal(t, 2, src.Calls(source.History))
}

func TestSource_Panic(t *testing.T) {
	src := New()
	src.Panic(source.Statistics, "kaboom")

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = src.GetStatistics(context.Background(), "u1")
	})
}

func TestSource_InvalidWorkflow(t *testing.T) {
	src := New()
	src.SetActive("u1", []models.Workflow{{WorkflowID: "bad", Status: "weird", StartTime: time.Now()}})

	_, err := src.GetActiveWorkflows(context.Background(), "u1", 10)
	var de *source.DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().GetStatistics(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSource_Seed(t *testing.T) {
	ctx := context.Background()
	src := New()
	src.Seed("demo", time.Now())

	active, err := src.GetActiveWorkflows(ctx, "demo", 10)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	stats, err := src.GetStatistics(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)

	comms, err := src.GetAgentCommunications(ctx, "demo", 50)
	require.NoError(t, err)
	assert.Len(t, comms, 4)
}

func TestSource_EnableDemo(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := New()
	src.SetStatistics("known", models.Statistics{Total: 1})
	src.EnableDemo(func() time.Time { return now })

	active, err := src.GetActiveWorkflows(ctx, "anyone", 10)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, now.Add(-8*time.Second), active[1].StartTime)

	stats, err := src.GetStatistics(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total, "existing users are not reseeded")
}
