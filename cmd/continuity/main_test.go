package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/continuity/internal/database"
)

const testCluster = `cluster_id: prod-db
nodes:
  - node_id: node-a
    hostname: db-a.internal
    role: primary
    region: us-east
    site: dc1
    priority: 100
    capacity: 50
  - node_id: node-b
    hostname: db-b.internal
    role: secondary
    region: us-west
    site: dc2
    priority: 90
    capacity: 50
  - node_id: node-c
    hostname: db-c.internal
    role: secondary
    region: eu-west
    site: dc3
    priority: 80
    capacity: 50
quorum_size: 2
`

const testPolicy = `policy_id: default
strategy: automatic
max_failover_time_s: 60
require_quorum: true
min_healthy_nodes: 2
`

type workspace struct {
	config  string
	cluster string
	policy  string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		config:  filepath.Join(dir, "continuity.yaml"),
		cluster: filepath.Join(dir, "cluster.yaml"),
		policy:  filepath.Join(dir, "policy.yaml"),
	}
	settings := "logging:\n  level: error\naudit:\n  backend: file\n  dir: " + filepath.Join(dir, "audit") + "\n"
	require.NoError(t, os.WriteFile(ws.config, []byte(settings), 0o600))
	require.NoError(t, os.WriteFile(ws.cluster, []byte(testCluster), 0o600))
	require.NoError(t, os.WriteFile(ws.policy, []byte(testPolicy), 0o600))
	return ws
}

func (ws workspace) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", ws.config, "--cluster", ws.cluster, "--policy", ws.policy}, args...)
	code := run(full, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitUsage, run(nil, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: continuity")

	stderr.Reset()
	assert.Equal(t, exitUsage, run([]string{"launch"}, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "launch"`)
}

func TestRun_BadConfig(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(ws.config, []byte("audit: [not, a, map]\n"), 0o600))
	code, _, stderr := ws.run(t, "", "plan")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "config:")
}

func TestRun_Plan(t *testing.T) {
	ws := newWorkspace(t)
	code, stdout, stderr := ws.run(t, "", "plan", "--reason", "maintenance")
	require.Equal(t, exitOK, code, stderr)

	var plan map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.Equal(t, "node-a", plan["primary_node_id"])
	assert.Equal(t, "node-b", plan["failover_target_id"])
	assert.Len(t, plan["actions"], 5)
}

func TestRun_Simulate(t *testing.T) {
	ws := newWorkspace(t)

	code, stdout, _ := ws.run(t, "", "simulate")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"seed": 42`)

	code, stdout, _ = ws.run(t, "", "simulate", "--scenario", "random_failures", "--count", "2")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout, "no eligible failover target")

	code, _, stderr := ws.run(t, "", "simulate", "--scenario", "meteor")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "scenario")
}

func TestRun_Suite(t *testing.T) {
	ws := newWorkspace(t)
	code, stdout, _ := ws.run(t, "", "suite")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"failed_cases": 0`)

	cases := filepath.Join(filepath.Dir(ws.config), "suite.yaml")
	require.NoError(t, os.WriteFile(cases, []byte("- name: both secondaries\n  scenario: random_failures\n  count: 2\n  expect_success: true\n"), 0o600))
	code, stdout, _ = ws.run(t, "", "suite", "--file", cases)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout, `"failed_cases": 1`)
}

func TestRun_ExecuteDryRunThenAudit(t *testing.T) {
	ws := newWorkspace(t)

	code, stdout, stderr := ws.run(t, "", "execute", "--dry-run", "--reason", "drill")
	require.Equal(t, exitOK, code, stderr)
	var report struct {
		Audit struct {
			AuditID string `json:"audit_id"`
		} `json:"audit"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.NotEmpty(t, report.Audit.AuditID)

	code, stdout, stderr = ws.run(t, "", "audit", "--verify", "latest")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, report.Audit.AuditID+" verified")

	code, stdout, _ = ws.run(t, "", "audit", report.Audit.AuditID)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"manifest_hash"`)

	code, stdout, _ = ws.run(t, "", "audit", "--list", "5")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, report.Audit.AuditID)

	code, _, _ = ws.run(t, "", "audit", "does-not-exist")
	assert.Equal(t, exitFailure, code)
}

func TestRun_PlanFileThenExecute(t *testing.T) {
	ws := newWorkspace(t)
	planFile := filepath.Join(filepath.Dir(ws.config), "plan.json")

	code, stdout, stderr := ws.run(t, "", "plan", "--out", planFile)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "written to "+planFile)

	code, stdout, stderr = ws.run(t, "", "execute", "--dry-run", "--plan", planFile)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, `"dry_run": true`)

	require.NoError(t, os.WriteFile(planFile, []byte("{not json"), 0o600))
	code, _, _ = ws.run(t, "", "execute", "--dry-run", "--plan", planFile)
	assert.Equal(t, exitUsage, code)
}

func TestRun_ExecuteRequiresConfirmation(t *testing.T) {
	ws := newWorkspace(t)
	code, stdout, stderr := ws.run(t, "no\n", "execute")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "from node-a to node-b")
	assert.Contains(t, stderr, "aborted")
	assert.Empty(t, stdout)
}

func TestRun_Status(t *testing.T) {
	ws := newWorkspace(t)
	code, stdout, stderr := ws.run(t, "", "status")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "primary:    node-a")
	assert.Contains(t, stdout, "has_quorum=true")
	assert.Contains(t, stdout, "NODE")
	assert.Contains(t, stdout, "HEALTH")
	assert.Contains(t, stdout, "unhealthy:  none")
	assert.Contains(t, stdout, "node-c")

	code, stdout, _ = ws.run(t, "", "status", "--json")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"cluster_id": "prod-db"`)
}

func TestRun_StatusShowsUnhealthyNodes(t *testing.T) {
	ws := newWorkspace(t)
	cluster := strings.Replace(testCluster, "    priority: 80\n", "    priority: 80\n    status: failed\n", 1)
	require.NoError(t, os.WriteFile(ws.cluster, []byte(cluster), 0o600))

	code, stdout, stderr := ws.run(t, "", "status", "--json")
	require.Equal(t, exitOK, code, stderr)
	var st struct {
		Unhealthy []string `json:"unhealthy"`
		Nodes     []struct {
			ID     string `json:"node_id"`
			Status string `json:"status"`
			Health *struct {
				State string `json:"state"`
			} `json:"health"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.Equal(t, []string{"node-c"}, st.Unhealthy)
	require.Len(t, st.Nodes, 3)
	assert.Equal(t, "failed", st.Nodes[2].Status)
	require.NotNil(t, st.Nodes[2].Health)
	assert.Equal(t, "failed", st.Nodes[2].Health.State)
}

func TestRun_History(t *testing.T) {
	ws := newWorkspace(t)

	// the file backend keeps audit packs only
	code, _, stderr := ws.run(t, "", "history")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "postgres")

	code, _, _ = ws.run(t, "", "history", "--limit", "0")
	assert.Equal(t, exitUsage, code)
}

func TestPrintHistory(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printHistory(&buf, []database.ExecutionRecord{
		{ExecutionID: "exec-2", TargetNodeID: "node-b", DryRun: true, Success: true, ActionsExecuted: 5, TotalDurationMs: 9100, AuditID: "audit-2", StartedAt: started},
		{ExecutionID: "exec-1", ActionsExecuted: 2, ActionsFailed: 1, StartedAt: started.Add(-time.Hour)},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "EXECUTION"))
	assert.Equal(t, []string{"exec-2", "2024-03-01T12:00:00Z", "node-b", "dry-run", "ok", "5/5", "9100ms", "audit-2"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"exec-1", "2024-03-01T11:00:00Z", "-", "live", "failed", "1/2", "0ms", "-"}, strings.Fields(lines[2]))
}
