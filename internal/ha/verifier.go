package ha

import (
	"fmt"
	"slices"
)

// HeartbeatLookup returns the latest heartbeat known for a node
type HeartbeatLookup func(nodeID string) (Heartbeat, bool)

// Verifier inspects the state after a failover. It never returns an error:
// every finding is a boolean plus a message.
type Verifier struct {
	tuning     Tuning
	clock      Clock
	heartbeats HeartbeatLookup
}

// NewVerifier creates a verifier. A nil lookup means no heartbeat data.
func NewVerifier(tuning Tuning, clock Clock, heartbeats HeartbeatLookup) *Verifier {
	if clock == nil {
		clock = RealClock{}
	}
	if heartbeats == nil {
		heartbeats = func(string) (Heartbeat, bool) { return Heartbeat{}, false }
	}
	return &Verifier{tuning: tuning, clock: clock, heartbeats: heartbeats}
}

// Verify checks consistency, policy, quorum and heartbeat freshness of post
func (v *Verifier) Verify(result FailoverResult, post Cluster, policy FailoverPolicy) VerificationReport {
	report := VerificationReport{Errors: []string{}, Warnings: []string{}}

	if !result.Success {
		report.Errors = append(report.Errors, fmt.Sprintf("failover execution %s did not succeed", result.ExecutionID))
	}

	q := ClusterQuorum(post)
	report.QuorumOK = q.HasQuorum
	if !q.HasQuorum {
		report.Errors = append(report.Errors, fmt.Sprintf("quorum lost: %d healthy of %d required", q.HealthyNodes, q.QuorumSize))
	}

	primaries := post.Primaries()
	var primary Node
	switch len(primaries) {
	case 0:
		report.Errors = append(report.Errors, "no primary after failover")
	case 1:
		primary = primaries[0]
		report.ConsistencyOK = true
		if result.Success && result.TargetNodeID != "" && primary.ID != result.TargetNodeID {
			report.ConsistencyOK = false
			report.Errors = append(report.Errors, fmt.Sprintf("primary is %s, expected failover target %s", primary.ID, result.TargetNodeID))
		}
	default:
		ids := make([]string, 0, len(primaries))
		for _, n := range primaries {
			ids = append(ids, n.ID)
		}
		report.Errors = append(report.Errors, fmt.Sprintf("multiple primaries after failover: %v", ids))
	}

	report.PolicyOK = v.checkPolicy(&report, primary, result.PreviousPrimary, post, policy)
	report.FreshnessOK = v.checkFreshness(&report, primary, policy)
	return report
}

func (v *Verifier) checkPolicy(report *VerificationReport, primary Node, previous string, post Cluster, policy FailoverPolicy) bool {
	ok := true
	if healthy := HealthyCount(post); healthy < policy.MinHealthyNodes {
		ok = false
		report.Errors = append(report.Errors, fmt.Sprintf("min healthy nodes not met: %d < %d", healthy, policy.MinHealthyNodes))
	}
	if primary.ID == "" {
		return false
	}

	regionRank := indexOf(policy.RegionPriority)
	siteRank := indexOf(policy.SitePriority)
	for _, n := range post.Nodes {
		// the demoted primary is not a competing candidate
		if n.ID == previous || n.Role != RoleSecondary || n.Status != StatusHealthy || n.Capacity <= 0 {
			continue
		}
		if outranks(n, primary, regionRank, siteRank) {
			ok = false
			report.Errors = append(report.Errors, fmt.Sprintf("promoted node %s is outranked by %s", primary.ID, n.ID))
			break
		}
	}

	if len(policy.RegionPriority) > 0 && !slices.Contains(policy.RegionPriority, primary.Region) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("primary %s region %q not in region priority list", primary.ID, primary.Region))
	}
	if len(policy.SitePriority) > 0 && !slices.Contains(policy.SitePriority, primary.Site) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("primary %s site %q not in site priority list", primary.ID, primary.Site))
	}
	return ok
}

func (v *Verifier) checkFreshness(report *VerificationReport, primary Node, policy FailoverPolicy) bool {
	if primary.ID == "" {
		report.Warnings = append(report.Warnings, "heartbeat freshness not checked: no single primary")
		return false
	}
	hb, ok := v.heartbeats(primary.ID)
	if !ok {
		report.Warnings = append(report.Warnings, fmt.Sprintf("no heartbeat data for primary %s", primary.ID))
		return false
	}
	bound := v.tuning.Staleness(policy)
	age := v.clock.Now().Sub(hb.Timestamp)
	if age > bound {
		report.Errors = append(report.Errors, fmt.Sprintf("heartbeat of primary %s is stale: %s > %s", primary.ID, age, bound))
		return false
	}
	if hb.Status != StatusHealthy {
		report.Warnings = append(report.Warnings, fmt.Sprintf("latest heartbeat of primary %s reports %s", primary.ID, hb.Status))
	}
	return true
}

// HeartbeatsFromSlice builds a lookup over an in-memory heartbeat list
func HeartbeatsFromSlice(heartbeats []Heartbeat) HeartbeatLookup {
	latest := LatestHeartbeats(heartbeats)
	return func(id string) (Heartbeat, bool) {
		hb, ok := latest[id]
		return hb, ok
	}
}
