package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowwatch/flowwatch/config"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/present"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flowwatch dev"), out)

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestVersionCommand_SkipsBrokenConfig(t *testing.T) {
	_, err := execute(t, "--config", "/does/not/exist.yaml", "version")
	assert.NoError(t, err)
}

func TestSnapshotCommand_RequiresUser(t *testing.T) {
	_, err := execute(t, "snapshot", "--demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
}

func TestSnapshotCommand_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", "/does/not/exist.yaml", "snapshot", "--user", "u1", "--demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestSnapshotCommand_DemoJSON(t *testing.T) {
	out, err := execute(t, "snapshot", "--user", "u1", "--demo", "--json")
	require.NoError(t, err)

	var snap snapshot.WorkflowSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "u1", snap.UserID)
	assert.Equal(t, uint64(1), snap.Token)
	assert.False(t, snap.Failures.Any())
	assert.Equal(t, 5, snap.Statistics.Total)

	require.Len(t, snap.ActiveWorkflows, 2)
	first := snap.ActiveWorkflows[0]
	assert.Equal(t, "wf-demo-1", first.WorkflowID)
	assert.Equal(t, present.BucketInfo, first.Classification.Bucket)
	assert.Equal(t, "3m 12s", first.Elapsed)
	assert.Equal(t, 3, first.StageIndex)

	require.Len(t, snap.Communications, 2)
	assert.Equal(t, "wf-demo-1", snap.Communications[0].WorkflowID)
	assert.Len(t, snap.Communications[0].Communications, 3)
}

func TestSnapshotCommand_DemoTable(t *testing.T) {
	out, err := execute(t, "snapshot", "-u", "u1", "--demo")
	require.NoError(t, err)

	for _, want := range []string{
		"User:    u1",
		"== Statistics ==",
		"== Active workflows ==",
		"wf-demo-1",
		"3/6 classification",
		"45%",
		"checking.csv",
		"== Trace wf-demo-2 ==",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, ansiReset, "no colour when stdout is not a terminal")
}

func TestCommandContext_Overrides(t *testing.T) {
	ctx := newCommandContext(&rootFlags{logLevel: "warn", port: 9100})
	assert.Equal(t, map[string]any{"log.level": "warn", "server.port": 9100}, ctx.overrides())

	ctx = newCommandContext(&rootFlags{logLevel: "warn", debug: true})
	o := ctx.overrides()
	assert.Equal(t, "debug", o["log.level"])
	assert.Equal(t, true, o["app.debug"])

	cfg, err := newCommandContext(&rootFlags{port: 9100}).ensureConfig()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestRenderTable(t *testing.T) {
	assert.Empty(t, renderTable(nil, nil, nil))

	out := renderTable([]string{"A", "B"}, [][]string{{"x"}, {"y", "z"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "x")
	assert.Contains(t, out, "z")
}

func TestStatusCell(t *testing.T) {
	failed := present.Classify("failed")
	assert.Equal(t, "failed", statusCell("failed", failed, false))
	assert.Equal(t, ansiRed+"failed"+ansiReset, statusCell("failed", failed, true))
	assert.Equal(t, "weird", statusCell("weird", present.Classify("weird"), true))
	assert.Equal(t, "-", statusCell("", failed, false))
}

func TestRenderSnapshot_Failures(t *testing.T) {
	snap := snapshot.Empty("u1")
	snap.Failures.History = true
	out := renderSnapshot(snap, false)
	assert.Contains(t, out, "Failed:  history")
	assert.Contains(t, out, "No active workflows")
	assert.Contains(t, out, "No agent communications")
}

func TestDaemon_ServesSessions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Metrics.Enabled = false
	cfg.Source.Demo = true
	cfg.Monitor.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, "", logger.Discard())
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.App.InstanceID)

	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	base := fmt.Sprintf("http://%s", d.httpAddr.String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(base+"/api/v1/sessions/u1", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var snap snapshot.WorkflowSnapshot
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/sessions/u1/snapshot")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK &&
			json.NewDecoder(resp.Body).Decode(&snap) == nil &&
			snap.Token > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, snap.ActiveWorkflows, 2)

	resp, err = http.Get(base + "/ready")
	require.NoError(t, err)
	var ready struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	resp.Body.Close()
	assert.True(t, ready.Ready)
	assert.Contains(t, ready.Checks, "storage")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
