package ha

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_PrimaryFailurePromotesNextInLine(t *testing.T) {
	sim := NewSimulator(42)
	res := sim.SimulatePrimaryFailure(context.Background(), threeNodeCluster(), quorumPolicy())

	require.NotNil(t, res.Plan)
	assert.Equal(t, "node-b", res.Plan.FailoverTargetID)
	assert.Equal(t, []string{"node-a"}, res.InjectedFailures)
	assert.True(t, res.FailoverResult.Success)
	assert.True(t, res.VerificationReport.Passed(), res.VerificationReport.Errors)
	assert.True(t, res.Success)

	require.NotNil(t, res.PostCluster)
	primaries := res.PostCluster.Primaries()
	require.Len(t, primaries, 1)
	assert.Equal(t, "node-b", primaries[0].ID)
	old, _ := res.PostCluster.Node("node-a")
	assert.Equal(t, RoleSecondary, old.Role)
	assert.Equal(t, StatusFailed, old.Status)

	assert.Equal(t, res.Plan.EstimatedTotalMs, res.FailoverResult.TotalDurationMs)
	assert.Equal(t, 2, res.PreQuorum.HealthyNodes)
}

func TestSimulator_NoEligibleTarget(t *testing.T) {
	sim := NewSimulator(42)
	res := sim.SimulateRandomFailures(context.Background(), threeNodeCluster(), quorumPolicy(), 2)

	assert.Equal(t, []string{"node-b", "node-c"}, res.InjectedFailures)
	assert.False(t, res.Success)
	assert.Nil(t, res.Plan)
	assert.Contains(t, res.PlanningError, "no eligible failover target")

	// the failed result is fully populated
	assert.NotEmpty(t, res.FailoverResult.ExecutionID)
	assert.False(t, res.FailoverResult.Success)
	assert.Contains(t, res.FailoverResult.Errors[0], "no eligible failover target")
	assert.False(t, res.VerificationReport.Passed())
	assert.Contains(t, res.VerificationReport.Errors[0], "no eligible failover target")
	assert.Equal(t, SimulationEpoch, res.FailoverResult.StartedAt)
}

func TestSimulator_RandomFailuresNeverPickPrimary(t *testing.T) {
	c := threeNodeCluster()
	for seed := int64(0); seed < 50; seed++ {
		res := NewSimulator(seed).SimulateRandomFailures(context.Background(), c, quorumPolicy(), 1)
		require.Len(t, res.InjectedFailures, 1)
		assert.NotEqual(t, "node-a", res.InjectedFailures[0])
	}

	// count is capped at the eligible node count
	res := NewSimulator(1).SimulateRandomFailures(context.Background(), c, quorumPolicy(), 10)
	assert.Len(t, res.InjectedFailures, 2)
}

func TestSimulator_RegionFailure(t *testing.T) {
	sim := NewSimulator(7)

	res := sim.SimulateRegionFailure(context.Background(), threeNodeCluster(), quorumPolicy(), "us-east")
	assert.Equal(t, []string{"node-a"}, res.InjectedFailures)
	assert.True(t, res.Success)

	res = sim.SimulateRegionFailure(context.Background(), threeNodeCluster(), quorumPolicy(), "mars")
	assert.False(t, res.Success)
	assert.Contains(t, res.PlanningError, "mars")
	assert.Empty(t, res.InjectedFailures)
}

func TestSimulator_Reproducible(t *testing.T) {
	c := threeNodeCluster()
	p := quorumPolicy()

	first := NewSimulator(42).SimulatePrimaryFailure(context.Background(), c, p)
	second := NewSimulator(42).SimulatePrimaryFailure(context.Background(), c, p)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, first.FailoverResult.ExecutionID, second.FailoverResult.ExecutionID)

	other := NewSimulator(43).SimulatePrimaryFailure(context.Background(), c, p)
	assert.NotEqual(t, first.FailoverResult.ExecutionID, other.FailoverResult.ExecutionID)
}

func TestSimulator_ConcurrentRunsStayIndependent(t *testing.T) {
	c := threeNodeCluster()
	p := quorumPolicy()
	sim := NewSimulator(42)
	want := sim.SimulateRandomFailures(context.Background(), c, p, 1)

	var wg sync.WaitGroup
	results := make([]SimulationResult, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = sim.SimulateRandomFailures(context.Background(), c, p, 1)
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestSimulator_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sim := NewSimulator(42, WithSimulationMetrics(m))

	sim.SimulatePrimaryFailure(context.Background(), threeNodeCluster(), quorumPolicy())
	sim.SimulateRandomFailures(context.Background(), threeNodeCluster(), quorumPolicy(), 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.simulations.WithLabelValues("primary_failure", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.simulations.WithLabelValues("random_failures", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("true")))
}

func TestSimulator_DryRunLatency(t *testing.T) {
	c := threeNodeCluster()
	p := quorumPolicy()

	latencies := make([]time.Duration, 0, 20)
	for i := 0; i < 20; i++ {
		start := time.Now()
		res := NewSimulator(int64(i)).SimulatePrimaryFailure(context.Background(), c, p)
		latencies = append(latencies, time.Since(start))
		require.True(t, res.Success)
	}
	assert.Less(t, Percentile(latencies, 95), 100*time.Millisecond)
}
