package ha

import "sort"

// CalculateQuorumSize returns the simple majority for n nodes
func CalculateQuorumSize(n int) int {
	if n <= 0 {
		return 1
	}
	return n/2 + 1
}

// ComputeQuorum derives quorum from the latest heartbeat per node. Nodes
// with no heartbeat are not healthy.
func ComputeQuorum(c Cluster, heartbeats []Heartbeat) QuorumStatus {
	latest := LatestHeartbeats(heartbeats)
	healthy := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if hb, ok := latest[n.ID]; ok && hb.Status == StatusHealthy {
			healthy = append(healthy, n.ID)
		}
	}
	return newQuorumStatus(c, healthy)
}

// ClusterQuorum derives quorum from the statuses recorded on the nodes
func ClusterQuorum(c Cluster) QuorumStatus {
	healthy := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Status == StatusHealthy {
			healthy = append(healthy, n.ID)
		}
	}
	return newQuorumStatus(c, healthy)
}

func newQuorumStatus(c Cluster, healthy []string) QuorumStatus {
	sort.Strings(healthy)
	size := c.EffectiveQuorumSize()
	return QuorumStatus{
		TotalNodes:     len(c.Nodes),
		HealthyNodes:   len(healthy),
		QuorumSize:     size,
		HasQuorum:      len(healthy) >= size,
		HealthyNodeIDs: healthy,
	}
}

// LatestHeartbeats keeps the newest heartbeat per node. Ties keep the later entry.
func LatestHeartbeats(heartbeats []Heartbeat) map[string]Heartbeat {
	latest := make(map[string]Heartbeat, len(heartbeats))
	for _, hb := range heartbeats {
		if cur, ok := latest[hb.NodeID]; ok && cur.Timestamp.After(hb.Timestamp) {
			continue
		}
		latest[hb.NodeID] = hb
	}
	return latest
}

// HealthyCount counts healthy nodes in c
func HealthyCount(c Cluster) int {
	n := 0
	for _, node := range c.Nodes {
		if node.Status == StatusHealthy {
			n++
		}
	}
	return n
}
