package ha

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateQuorumSize(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 3}, {7, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateQuorumSize(tt.n), "n=%d", tt.n)
	}
}

func TestComputeQuorum_Boundary(t *testing.T) {
	c := threeNodeCluster()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("exactly quorum size healthy", func(t *testing.T) {
		q := ComputeQuorum(c, []Heartbeat{
			{NodeID: "node-a", Timestamp: ts, Status: StatusHealthy},
			{NodeID: "node-b", Timestamp: ts, Status: StatusHealthy},
			{NodeID: "node-c", Timestamp: ts, Status: StatusFailed},
		})
		assert.True(t, q.HasQuorum)
		assert.Equal(t, 2, q.HealthyNodes)
		assert.Equal(t, []string{"node-a", "node-b"}, q.HealthyNodeIDs)
	})

	t.Run("one below quorum size", func(t *testing.T) {
		q := ComputeQuorum(c, []Heartbeat{
			{NodeID: "node-a", Timestamp: ts, Status: StatusHealthy},
			{NodeID: "node-b", Timestamp: ts, Status: StatusDegraded},
		})
		assert.False(t, q.HasQuorum)
		assert.Equal(t, 1, q.HealthyNodes)
	})

	t.Run("latest heartbeat wins", func(t *testing.T) {
		q := ComputeQuorum(c, []Heartbeat{
			{NodeID: "node-a", Timestamp: ts.Add(time.Second), Status: StatusFailed},
			{NodeID: "node-a", Timestamp: ts, Status: StatusHealthy},
			{NodeID: "node-b", Timestamp: ts, Status: StatusHealthy},
		})
		assert.Equal(t, []string{"node-b"}, q.HealthyNodeIDs)
	})

	t.Run("heartbeats for unknown nodes are ignored", func(t *testing.T) {
		q := ComputeQuorum(c, []Heartbeat{{NodeID: "ghost", Timestamp: ts, Status: StatusHealthy}})
		assert.Equal(t, 0, q.HealthyNodes)
	})
}

func TestClusterQuorum_Law(t *testing.T) {
	statuses := []NodeStatus{StatusHealthy, StatusDegraded, StatusFailed, StatusUnknown}
	base := threeNodeCluster()

	for _, a := range statuses {
		for _, b := range statuses {
			for _, c := range statuses {
				for _, qs := range []int{0, 1, 2, 3} {
					cl := base
					cl.QuorumSize = qs
					cl = cl.WithNodeStatus(a, "node-a").WithNodeStatus(b, "node-b").WithNodeStatus(c, "node-c")

					q := ClusterQuorum(cl)
					assert.Equal(t, q.HealthyNodes >= q.QuorumSize, q.HasQuorum)
					assert.LessOrEqual(t, q.HealthyNodes, q.TotalNodes)
					assert.Len(t, q.HealthyNodeIDs, q.HealthyNodes)
				}
			}
		}
	}
}
