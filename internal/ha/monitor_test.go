package ha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatMonitor_Emit(t *testing.T) {
	clock := NewManualClock(SimulationEpoch)
	store := NewMemoryHeartbeatStore(0)
	m := NewHeartbeatMonitor(MonitorConfig{}, MonitorDeps{Clock: clock, Store: store})
	c := threeNodeCluster().WithNodeStatus(StatusFailed, "node-c")

	hbs := m.Emit(context.Background(), c.Nodes)
	require.Len(t, hbs, 3)
	for _, hb := range hbs {
		assert.Equal(t, SimulationEpoch, hb.Timestamp)
	}
	assert.Equal(t, StatusFailed, hbs[2].Status)

	q := m.Quorum(context.Background(), c)
	assert.Equal(t, 2, q.HealthyNodes)
	assert.True(t, q.HasQuorum)

	latest, ok, err := store.Latest(context.Background(), "node-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusHealthy, latest.Status)
}

func TestHeartbeatMonitor_PollDowngradesUnreachableNodes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tracker := NewHealthTracker(TrackerConfig{FailureThreshold: 2}, nil)
	defer tracker.Stop()

	probe := ProbeFunc(func(ctx context.Context, n Node) (NodeStatus, error) {
		switch n.ID {
		case "node-a":
			return StatusHealthy, nil
		case "node-b":
			<-ctx.Done() // hangs until the per-node timeout
			return StatusUnknown, ctx.Err()
		default:
			return StatusUnknown, errors.New("connection refused")
		}
	})

	m := NewHeartbeatMonitor(MonitorConfig{Concurrency: 2, ProbeTimeout: 50 * time.Millisecond}, MonitorDeps{
		Probe:   probe,
		Tracker: tracker,
		Metrics: metrics,
	})
	c := threeNodeCluster()

	start := time.Now()
	hbs := m.Poll(context.Background(), c.Nodes)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, hbs, 3)
	assert.Equal(t, StatusHealthy, hbs[0].Status)
	assert.Equal(t, StatusUnknown, hbs[1].Status)
	assert.Equal(t, StatusUnknown, hbs[2].Status)

	hbs = m.Poll(context.Background(), c.Nodes)
	assert.Equal(t, StatusFailed, hbs[1].Status)
	assert.Equal(t, StatusFailed, hbs[2].Status)

	q := m.Quorum(context.Background(), c)
	assert.False(t, q.HasQuorum)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.probeFailures.WithLabelValues("node-c")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.hasQuorum.WithLabelValues("prod-db")))

	applied := m.Apply(context.Background(), c)
	assert.Equal(t, StatusFailed, applied.Nodes[1].Status)
	assert.Equal(t, StatusHealthy, c.Nodes[1].Status)
}

func TestHeartbeatMonitor_Run(t *testing.T) {
	var ticks atomic.Int32
	m := NewHeartbeatMonitor(MonitorConfig{Interval: 10 * time.Millisecond}, MonitorDeps{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, threeNodeCluster, func(Cluster, QuorumStatus) { ticks.Add(1) })
		close(done)
	}()

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	probe := NewHTTPProbe(port, time.Second)
	node := Node{ID: "n1", Hostname: u.Hostname()}

	status, err := probe.Probe(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, status)

	probe.Path = "/missing"
	status, err = probe.Probe(context.Background(), node)
	assert.Error(t, err)
	assert.Equal(t, StatusUnknown, status)
}

func TestMemoryHeartbeatStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHeartbeatStore(2)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, Heartbeat{NodeID: "n1", Timestamp: SimulationEpoch.Add(time.Duration(i) * time.Second), Status: StatusHealthy}))
	}
	require.NoError(t, store.Record(ctx, Heartbeat{NodeID: "n0", Timestamp: SimulationEpoch, Status: StatusFailed}))

	assert.Len(t, store.History("n1"), 2)
	latest, ok, err := store.Latest(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SimulationEpoch.Add(2*time.Second), latest.Timestamp)

	all, err := store.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "n0", all[0].NodeID)

	_, ok = StoreLookup(ctx, store)("missing")
	assert.False(t, ok)
}
