package ha

// threeNodeCluster is one primary (priority 100) and two secondaries
// (priority 90 and 80), one region each
func threeNodeCluster() Cluster {
	return Cluster{
		ID:         "prod-db",
		Name:       "Production database",
		QuorumSize: 2,
		Regions:    []string{"us-east", "us-west", "eu-west"},
		Nodes: []Node{
			{ID: "node-a", Hostname: "a.db.internal", Role: RolePrimary, Region: "us-east", Site: "dc1", Status: StatusHealthy, Priority: 100, Capacity: 80},
			{ID: "node-b", Hostname: "b.db.internal", Role: RoleSecondary, Region: "us-west", Site: "dc2", Status: StatusHealthy, Priority: 90, Capacity: 60},
			{ID: "node-c", Hostname: "c.db.internal", Role: RoleSecondary, Region: "eu-west", Site: "dc3", Status: StatusHealthy, Priority: 80, Capacity: 60},
		},
	}
}

func quorumPolicy() FailoverPolicy {
	return FailoverPolicy{
		ID:               "default",
		Name:             "Default failover",
		Strategy:         StrategyAutomatic,
		MaxFailoverTimeS: 30,
		RequireQuorum:    true,
		RegionPriority:   []string{"us-west", "eu-west", "us-east"},
		MinHealthyNodes:  2,
	}
}
