package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/continuity/internal/audit"
	"github.com/FairForge/continuity/internal/database"
	"github.com/FairForge/continuity/internal/ha"
)

// NodeReport is one row of the status view
type NodeReport struct {
	ID            string        `json:"node_id"`
	Hostname      string        `json:"hostname,omitempty"`
	Role          ha.NodeRole   `json:"role"`
	Region        string        `json:"region"`
	Site          string        `json:"site"`
	Status        ha.NodeStatus `json:"status"`
	Priority      int           `json:"priority"`
	LastHeartbeat *time.Time    `json:"last_heartbeat,omitempty"`
	Health        *NodeHealth   `json:"health,omitempty"`
}

// NodeHealth is the tracked state behind a node's reported status
type NodeHealth struct {
	State            string `json:"state"`
	ConsecutiveFails int    `json:"consecutive_failures"`
	LastError        string `json:"last_error,omitempty"`
}

// Status is the current view of the managed cluster
type Status struct {
	ClusterID   string          `json:"cluster_id"`
	PolicyID    string          `json:"policy_id"`
	Primary     string          `json:"primary_node_id,omitempty"`
	Quorum      ha.QuorumStatus `json:"quorum"`
	Nodes       []NodeReport    `json:"nodes"`
	Candidates  []string        `json:"failover_candidates"`
	Unhealthy   []string        `json:"unhealthy,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Status refreshes heartbeats and summarizes the cluster
func (e *Engine) Status(ctx context.Context) Status {
	cluster, quorum := e.Refresh(ctx)
	policy := e.Topology().Policy

	st := Status{
		ClusterID:   cluster.ID,
		PolicyID:    policy.ID,
		Quorum:      quorum,
		Nodes:       make([]NodeReport, 0, len(cluster.Nodes)),
		Candidates:  []string{},
		GeneratedAt: e.clock.Now(),
	}
	if primaries := cluster.Primaries(); len(primaries) == 1 {
		st.Primary = primaries[0].ID
	}
	tracker := e.monitor.Tracker()
	if tracker != nil {
		st.Unhealthy = tracker.Unhealthy()
	}
	for _, n := range cluster.Nodes {
		row := NodeReport{
			ID:       n.ID,
			Hostname: n.Hostname,
			Role:     n.Role,
			Region:   n.Region,
			Site:     n.Site,
			Status:   n.Status,
			Priority: n.Priority,
		}
		if hb, ok, err := e.monitor.Store().Latest(ctx, n.ID); err == nil && ok {
			ts := hb.Timestamp
			row.LastHeartbeat = &ts
		}
		if tracker != nil {
			if h := tracker.Health(n.ID); !h.LastCheck.IsZero() {
				row.Health = &NodeHealth{State: h.State.String(), ConsecutiveFails: h.ConsecutiveFails, LastError: h.LastError}
			}
		}
		st.Nodes = append(st.Nodes, row)
	}
	for _, n := range ha.RankCandidates(cluster, policy) {
		st.Candidates = append(st.Candidates, n.ID)
	}
	return st
}

// Audit looks up a pack by id or "latest"
func (e *Engine) Audit(ctx context.Context, id string) (audit.AuditPack, error) {
	return audit.Lookup(ctx, e.audits, id)
}

// Audits lists the newest packs
func (e *Engine) Audits(ctx context.Context, limit int) ([]audit.AuditPack, error) {
	return e.audits.List(ctx, limit)
}

// VerifyAudit loads a pack and checks its digest and seal
func (e *Engine) VerifyAudit(ctx context.Context, id string) (audit.AuditPack, error) {
	pack, err := e.Audit(ctx, id)
	if err != nil {
		return audit.AuditPack{}, err
	}
	return pack, e.auditor.VerifyPack(pack)
}

// History lists the newest recorded executions of the current cluster. It
// needs a history recorder that can read back, i.e. the postgres backend.
func (e *Engine) History(ctx context.Context, limit int) ([]database.ExecutionRecord, error) {
	reader, ok := e.history.(HistoryReader)
	if !ok {
		return nil, &ha.ConfigError{Field: "audit.backend", Msg: "execution history requires the postgres backend"}
	}
	records, err := reader.GetHistory(ctx, e.Topology().Cluster.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("load execution history: %w", err)
	}
	if records == nil {
		records = []database.ExecutionRecord{}
	}
	return records, nil
}
