package ha

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// NodeRole is the role a node plays in a cluster
type NodeRole string

const (
	RolePrimary   NodeRole = "primary"
	RoleSecondary NodeRole = "secondary"
	RoleWitness   NodeRole = "witness"
)

// Valid reports whether r is a known role
func (r NodeRole) Valid() bool {
	switch r {
	case RolePrimary, RoleSecondary, RoleWitness:
		return true
	}
	return false
}

// NodeStatus is the observed health of a node
type NodeStatus string

const (
	StatusHealthy  NodeStatus = "healthy"
	StatusDegraded NodeStatus = "degraded"
	StatusFailed   NodeStatus = "failed"
	StatusUnknown  NodeStatus = "unknown"
)

// Valid reports whether s is a known status
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// Strategy selects how failover is initiated
type Strategy string

const (
	StrategyAutomatic   Strategy = "automatic"
	StrategyManual      Strategy = "manual"
	StrategyQuorumBased Strategy = "quorum_based"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyAutomatic, StrategyManual, StrategyQuorumBased:
		return true
	}
	return false
}

// ActionType identifies one step of a failover plan
type ActionType string

const (
	ActionDNSFlip ActionType = "dns_flip"
	ActionPromote ActionType = "promote"
	ActionDemote  ActionType = "demote"
	ActionRestart ActionType = "restart"
	ActionNotify  ActionType = "notify"
	ActionVerify  ActionType = "verify"
)

// ActionTypes lists every action type in a stable order
var ActionTypes = []ActionType{ActionNotify, ActionDemote, ActionPromote, ActionDNSFlip, ActionVerify, ActionRestart}

// Valid reports whether t is a known action type
func (t ActionType) Valid() bool {
	switch t {
	case ActionDNSFlip, ActionPromote, ActionDemote, ActionRestart, ActionNotify, ActionVerify:
		return true
	}
	return false
}

const (
	MaxPriority = 1000
	MaxCapacity = 100.0
)

// Node is a member of a cluster. Nodes are values: use the With* methods
// to derive a changed copy.
type Node struct {
	ID       string     `json:"node_id" yaml:"node_id" toml:"node_id"`
	Hostname string     `json:"hostname" yaml:"hostname" toml:"hostname"`
	Role     NodeRole   `json:"role" yaml:"role" toml:"role"`
	Region   string     `json:"region" yaml:"region" toml:"region"`
	Site     string     `json:"site" yaml:"site" toml:"site"`
	Status   NodeStatus `json:"status" yaml:"status" toml:"status"`
	Priority int        `json:"priority" yaml:"priority" toml:"priority"`
	Capacity float64    `json:"capacity" yaml:"capacity" toml:"capacity"`
}

// NewNode validates n and returns it
func NewNode(n Node) (Node, error) {
	if err := n.Validate(); err != nil {
		return Node{}, err
	}
	return n, nil
}

// Validate checks field ranges
func (n Node) Validate() error {
	if n.ID == "" {
		return &ConfigError{Field: "node_id", Msg: "is required"}
	}
	if !n.Role.Valid() {
		return &ConfigError{Field: "nodes." + n.ID + ".role", Msg: fmt.Sprintf("invalid role %q", n.Role)}
	}
	if !n.Status.Valid() {
		return &ConfigError{Field: "nodes." + n.ID + ".status", Msg: fmt.Sprintf("invalid status %q", n.Status)}
	}
	if n.Priority < 0 || n.Priority > MaxPriority {
		return &ConfigError{Field: "nodes." + n.ID + ".priority", Msg: fmt.Sprintf("%d out of range [0,%d]", n.Priority, MaxPriority)}
	}
	if math.IsNaN(n.Capacity) || math.IsInf(n.Capacity, 0) {
		return &ConfigError{Field: "nodes." + n.ID + ".capacity", Msg: "must be a finite number"}
	}
	if n.Capacity < 0 || n.Capacity > MaxCapacity {
		return &ConfigError{Field: "nodes." + n.ID + ".capacity", Msg: fmt.Sprintf("%g out of range [0,100]", n.Capacity)}
	}
	return nil
}

// WithStatus returns a copy of n with the given status
func (n Node) WithStatus(s NodeStatus) Node {
	n.Status = s
	return n
}

// WithRole returns a copy of n with the given role
func (n Node) WithRole(r NodeRole) Node {
	n.Role = r
	return n
}

// Reachable reports whether the node can still take instructions
func (n Node) Reachable() bool {
	return n.Status != StatusFailed && n.Status != StatusUnknown
}

// Cluster is a set of nodes that fail over together
type Cluster struct {
	ID         string   `json:"cluster_id" yaml:"cluster_id" toml:"cluster_id"`
	Name       string   `json:"name" yaml:"name" toml:"name"`
	Nodes      []Node   `json:"nodes" yaml:"nodes" toml:"nodes"`
	QuorumSize int      `json:"quorum_size,omitempty" yaml:"quorum_size,omitempty" toml:"quorum_size,omitzero"`
	Regions    []string `json:"regions,omitempty" yaml:"regions,omitempty" toml:"regions,omitempty"`
}

// NewCluster validates c and returns a copy that shares no slices with the input
func NewCluster(c Cluster) (Cluster, error) {
	if err := c.Validate(); err != nil {
		return Cluster{}, err
	}
	return c.clone(), nil
}

// Validate checks the cluster and every node in it
func (c Cluster) Validate() error {
	if c.ID == "" {
		return &ConfigError{Field: "cluster_id", Msg: "is required"}
	}
	if len(c.Nodes) == 0 {
		return &ConfigError{Field: "nodes", Msg: "at least one node is required"}
	}
	seen := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		if err := n.Validate(); err != nil {
			return err
		}
		if _, dup := seen[n.ID]; dup {
			return &ConfigError{Field: "nodes", Msg: fmt.Sprintf("duplicate node_id %q", n.ID)}
		}
		seen[n.ID] = struct{}{}
	}
	if c.QuorumSize < 0 {
		return &ConfigError{Field: "quorum_size", Msg: "must be >= 1"}
	}
	if c.QuorumSize > len(c.Nodes) {
		return &ConfigError{Field: "quorum_size", Msg: fmt.Sprintf("%d exceeds node count %d", c.QuorumSize, len(c.Nodes))}
	}
	return nil
}

// EffectiveQuorumSize returns the configured quorum size or the simple majority
func (c Cluster) EffectiveQuorumSize() int {
	if c.QuorumSize > 0 {
		return c.QuorumSize
	}
	return CalculateQuorumSize(len(c.Nodes))
}

// Node looks up a node by id
func (c Cluster) Node(id string) (Node, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Primaries returns every node that currently claims the primary role
func (c Cluster) Primaries() []Node {
	var out []Node
	for _, n := range c.Nodes {
		if n.Role == RolePrimary {
			out = append(out, n)
		}
	}
	return out
}

// NodesInRegion returns ids of the nodes located in region, sorted
func (c Cluster) NodesInRegion(region string) []string {
	var ids []string
	for _, n := range c.Nodes {
		if n.Region == region {
			ids = append(ids, n.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// WithNode returns a copy of c where the node with the same id is replaced
func (c Cluster) WithNode(node Node) Cluster {
	out := c.clone()
	for i := range out.Nodes {
		if out.Nodes[i].ID == node.ID {
			out.Nodes[i] = node
			return out
		}
	}
	return out
}

// WithNodeStatus returns a copy of c with the listed nodes set to status
func (c Cluster) WithNodeStatus(status NodeStatus, ids ...string) Cluster {
	out := c.clone()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range out.Nodes {
		if _, ok := want[out.Nodes[i].ID]; ok {
			out.Nodes[i].Status = status
		}
	}
	return out
}

func (c Cluster) clone() Cluster {
	out := c
	out.Nodes = append([]Node(nil), c.Nodes...)
	if c.Regions != nil {
		out.Regions = append([]string(nil), c.Regions...)
	}
	return out
}

// FailoverPolicy describes how a cluster is allowed to fail over
type FailoverPolicy struct {
	ID                     string   `json:"policy_id" yaml:"policy_id" toml:"policy_id"`
	Name                   string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Strategy               Strategy `json:"strategy" yaml:"strategy" toml:"strategy"`
	MaxFailoverTimeS       int      `json:"max_failover_time_s" yaml:"max_failover_time_s" toml:"max_failover_time_s"`
	RequireQuorum          bool     `json:"require_quorum" yaml:"require_quorum" toml:"require_quorum"`
	RegionPriority         []string `json:"region_priority,omitempty" yaml:"region_priority,omitempty" toml:"region_priority,omitempty"`
	SitePriority           []string `json:"site_priority,omitempty" yaml:"site_priority,omitempty" toml:"site_priority,omitempty"`
	MinHealthyNodes        int      `json:"min_healthy_nodes" yaml:"min_healthy_nodes" toml:"min_healthy_nodes"`
	MaxHeartbeatStalenessS float64  `json:"max_heartbeat_staleness_s,omitempty" yaml:"max_heartbeat_staleness_s,omitempty" toml:"max_heartbeat_staleness_s,omitzero"`
}

// NewFailoverPolicy validates p and returns a copy
func NewFailoverPolicy(p FailoverPolicy) (FailoverPolicy, error) {
	if err := p.Validate(); err != nil {
		return FailoverPolicy{}, err
	}
	p.RegionPriority = append([]string(nil), p.RegionPriority...)
	p.SitePriority = append([]string(nil), p.SitePriority...)
	if len(p.RegionPriority) == 0 {
		p.RegionPriority = nil
	}
	if len(p.SitePriority) == 0 {
		p.SitePriority = nil
	}
	return p, nil
}

// Validate checks policy ranges
func (p FailoverPolicy) Validate() error {
	if p.ID == "" {
		return &ConfigError{Field: "policy_id", Msg: "is required"}
	}
	if !p.Strategy.Valid() {
		return &ConfigError{Field: "strategy", Msg: fmt.Sprintf("invalid strategy %q", p.Strategy)}
	}
	if p.MaxFailoverTimeS < 1 {
		return &ConfigError{Field: "max_failover_time_s", Msg: "must be >= 1"}
	}
	if p.MinHealthyNodes < 1 {
		return &ConfigError{Field: "min_healthy_nodes", Msg: "must be >= 1"}
	}
	if math.IsNaN(p.MaxHeartbeatStalenessS) || math.IsInf(p.MaxHeartbeatStalenessS, 0) || p.MaxHeartbeatStalenessS < 0 {
		return &ConfigError{Field: "max_heartbeat_staleness_s", Msg: "must be a finite number >= 0"}
	}
	return nil
}

// MaxFailoverTime returns the execution deadline as a duration
func (p FailoverPolicy) MaxFailoverTime() time.Duration {
	return time.Duration(p.MaxFailoverTimeS) * time.Second
}

// Heartbeat is one health observation of one node
type Heartbeat struct {
	NodeID    string     `json:"node_id"`
	Timestamp time.Time  `json:"timestamp"`
	Status    NodeStatus `json:"status"`
	LatencyMs float64    `json:"latency_ms"`
}

// NewHeartbeat validates and returns a heartbeat
func NewHeartbeat(nodeID string, ts time.Time, status NodeStatus, latencyMs float64) (Heartbeat, error) {
	if nodeID == "" {
		return Heartbeat{}, &ConfigError{Field: "heartbeat.node_id", Msg: "is required"}
	}
	if !status.Valid() {
		return Heartbeat{}, &ConfigError{Field: "heartbeat.status", Msg: fmt.Sprintf("invalid status %q", status)}
	}
	if math.IsNaN(latencyMs) || math.IsInf(latencyMs, 0) || latencyMs < 0 {
		return Heartbeat{}, &ConfigError{Field: "heartbeat.latency_ms", Msg: "must be a finite number >= 0"}
	}
	return Heartbeat{NodeID: nodeID, Timestamp: ts.UTC(), Status: status, LatencyMs: latencyMs}, nil
}

// QuorumStatus summarizes cluster health against its quorum size
type QuorumStatus struct {
	TotalNodes     int      `json:"total_nodes"`
	HealthyNodes   int      `json:"healthy_nodes"`
	QuorumSize     int      `json:"quorum_size"`
	HasQuorum      bool     `json:"has_quorum"`
	HealthyNodeIDs []string `json:"healthy_node_ids"`
}

// FailoverAction is one ordered step of a plan
type FailoverAction struct {
	ID                  string     `json:"action_id"`
	Type                ActionType `json:"action_type"`
	TargetNodeID        string     `json:"target_node_id"`
	TargetHostname      string     `json:"target_hostname,omitempty"`
	Sequence            int        `json:"sequence"`
	EstimatedDurationMs int64      `json:"estimated_duration_ms"`
}

// ContinuityPlan is the ordered list of actions that moves the primary role
type ContinuityPlan struct {
	ID               string           `json:"plan_id"`
	ClusterID        string           `json:"cluster_id"`
	PolicyID         string           `json:"policy_id"`
	PrimaryNodeID    string           `json:"primary_node_id"`
	FailoverTargetID string           `json:"failover_target_id"`
	TriggerReason    string           `json:"trigger_reason,omitempty"`
	MaxFailoverTimeS int              `json:"max_failover_time_s"`
	Actions          []FailoverAction `json:"actions"`
	EstimatedTotalMs int64            `json:"estimated_total_ms"`
}

// Validate checks ordering and totals of a plan loaded from outside the planner
func (p ContinuityPlan) Validate() error {
	if p.ID == "" {
		return &ConfigError{Field: "plan_id", Msg: "is required"}
	}
	var total int64
	for i, a := range p.Actions {
		if !a.Type.Valid() {
			return &ConfigError{Field: "actions", Msg: fmt.Sprintf("invalid action_type %q", a.Type)}
		}
		if a.Sequence < 0 || a.EstimatedDurationMs < 0 {
			return &ConfigError{Field: "actions", Msg: fmt.Sprintf("action %s has negative sequence or duration", a.ID)}
		}
		if i > 0 && p.Actions[i-1].Sequence >= a.Sequence {
			return &ConfigError{Field: "actions", Msg: "actions must be sorted by strictly increasing sequence"}
		}
		total += a.EstimatedDurationMs
	}
	if total != p.EstimatedTotalMs {
		return &ConfigError{Field: "estimated_total_ms", Msg: fmt.Sprintf("%d does not match action total %d", p.EstimatedTotalMs, total)}
	}
	if p.MaxFailoverTimeS < 1 {
		return &ConfigError{Field: "max_failover_time_s", Msg: "must be >= 1"}
	}
	return nil
}

// ActionStatus is the outcome of a single action
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
	ActionSimulated ActionStatus = "simulated"
)

// ActionOutcome records what happened to one action during execution
type ActionOutcome struct {
	ActionID     string       `json:"action_id"`
	Type         ActionType   `json:"action_type"`
	TargetNodeID string       `json:"target_node_id"`
	Status       ActionStatus `json:"status"`
	DurationMs   int64        `json:"duration_ms"`
	Error        string       `json:"error,omitempty"`
}

// FailoverResult is the record of one execution attempt
type FailoverResult struct {
	ExecutionID     string          `json:"execution_id"`
	PlanID          string          `json:"plan_id"`
	TargetNodeID    string          `json:"target_node_id,omitempty"`
	PreviousPrimary string          `json:"previous_primary_id,omitempty"`
	DryRun          bool            `json:"dry_run"`
	Success         bool            `json:"success"`
	ActionsExecuted int             `json:"actions_executed"`
	ActionsFailed   int             `json:"actions_failed"`
	TotalDurationMs int64           `json:"total_duration_ms"`
	Errors          []string        `json:"errors"`
	Outcomes        []ActionOutcome `json:"outcomes,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
}

// VerificationReport is the outcome of inspecting a failover
type VerificationReport struct {
	ConsistencyOK bool     `json:"consistency_ok"`
	PolicyOK      bool     `json:"policy_ok"`
	QuorumOK      bool     `json:"quorum_ok"`
	FreshnessOK   bool     `json:"freshness_ok"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
}

// Passed reports whether every check succeeded and no error was recorded
func (r VerificationReport) Passed() bool {
	return r.ConsistencyOK && r.PolicyOK && r.QuorumOK && r.FreshnessOK && len(r.Errors) == 0
}
