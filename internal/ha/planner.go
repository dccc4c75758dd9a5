package ha

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Planner builds continuity plans. It performs no I/O and holds no mutable
// state, so one Planner may be shared between goroutines.
type Planner struct {
	tuning Tuning
}

// NewPlanner creates a planner using the given tuning
func NewPlanner(tuning Tuning) *Planner {
	return &Planner{tuning: tuning}
}

// BuildPlan selects a failover target and returns the ordered actions that
// move the primary role to it. Identical inputs produce identical plans.
func (p *Planner) BuildPlan(cluster Cluster, policy FailoverPolicy, reason string) (ContinuityPlan, error) {
	primaries := cluster.Primaries()
	switch {
	case len(primaries) == 0:
		return ContinuityPlan{}, &PlanningError{Reason: ReasonNoPrimary, ClusterID: cluster.ID}
	case len(primaries) > 1:
		ids := make([]string, 0, len(primaries))
		for _, n := range primaries {
			ids = append(ids, n.ID)
		}
		return ContinuityPlan{}, &PlanningError{Reason: ReasonMultiplePrimaries, ClusterID: cluster.ID, Detail: fmt.Sprint(ids)}
	}
	primary := primaries[0]

	candidates := RankCandidates(cluster, policy)
	if len(candidates) == 0 {
		return ContinuityPlan{}, &PlanningError{Reason: ReasonNoEligibleTarget, ClusterID: cluster.ID}
	}
	target := candidates[0]

	if policy.RequireQuorum || policy.Strategy == StrategyQuorumBased {
		post := cluster.WithNode(target.WithRole(RolePrimary))
		q := ClusterQuorum(post)
		if q.HealthyNodes < policy.MinHealthyNodes || !q.HasQuorum {
			return ContinuityPlan{}, &PlanningError{
				Reason:    ReasonQuorumViolation,
				ClusterID: cluster.ID,
				Detail:    fmt.Sprintf("healthy=%d min_healthy=%d quorum=%d", q.HealthyNodes, policy.MinHealthyNodes, q.QuorumSize),
			}
		}
	}

	plan := ContinuityPlan{
		ID:               planID(cluster, policy, reason),
		ClusterID:        cluster.ID,
		PolicyID:         policy.ID,
		PrimaryNodeID:    primary.ID,
		FailoverTargetID: target.ID,
		TriggerReason:    reason,
		MaxFailoverTimeS: policy.MaxFailoverTimeS,
	}

	type step struct {
		kind ActionType
		node Node
	}
	steps := []step{{ActionNotify, target}}
	if primary.Reachable() {
		steps = append(steps, step{ActionDemote, primary})
	}
	steps = append(steps,
		step{ActionPromote, target},
		step{ActionDNSFlip, target},
		step{ActionVerify, target},
	)

	plan.Actions = make([]FailoverAction, 0, len(steps))
	for i, s := range steps {
		seq := i + 1
		ms := p.tuning.Duration(s.kind).Milliseconds()
		plan.Actions = append(plan.Actions, FailoverAction{
			ID:                  fmt.Sprintf("%s-%02d-%s", plan.ID, seq, s.kind),
			Type:                s.kind,
			TargetNodeID:        s.node.ID,
			TargetHostname:      s.node.Hostname,
			Sequence:            seq,
			EstimatedDurationMs: ms,
		})
		plan.EstimatedTotalMs += ms
	}
	return plan, nil
}

// RankCandidates returns the healthy secondaries with spare capacity, best
// first: priority desc, region_priority index, site_priority index, node id.
func RankCandidates(cluster Cluster, policy FailoverPolicy) []Node {
	var out []Node
	for _, n := range cluster.Nodes {
		if n.Role == RoleSecondary && n.Status == StatusHealthy && n.Capacity > 0 {
			out = append(out, n)
		}
	}
	regionRank := indexOf(policy.RegionPriority)
	siteRank := indexOf(policy.SitePriority)
	sort.SliceStable(out, func(i, j int) bool {
		return outranks(out[i], out[j], regionRank, siteRank)
	})
	return out
}

func outranks(a, b Node, regionRank, siteRank func(string) int) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if ra, rb := regionRank(a.Region), regionRank(b.Region); ra != rb {
		return ra < rb
	}
	if sa, sb := siteRank(a.Site), siteRank(b.Site); sa != sb {
		return sa < sb
	}
	return a.ID < b.ID
}

// indexOf returns a rank function; names missing from order rank last
func indexOf(order []string) func(string) int {
	idx := make(map[string]int, len(order))
	for i, v := range order {
		if _, ok := idx[v]; !ok {
			idx[v] = i
		}
	}
	return func(v string) int {
		if i, ok := idx[v]; ok {
			return i
		}
		return len(order)
	}
}

func planID(cluster Cluster, policy FailoverPolicy, reason string) string {
	payload := struct {
		Cluster Cluster        `json:"cluster"`
		Policy  FailoverPolicy `json:"policy"`
		Reason  string         `json:"reason"`
	}{cluster, policy, reason}
	// struct encoding is stable; no maps are involved
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(cluster.ID + "|" + policy.ID + "|" + reason)
	}
	sum := sha256.Sum256(raw)
	return "plan-" + hex.EncodeToString(sum[:8])
}
