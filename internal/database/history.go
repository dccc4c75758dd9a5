package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FairForge/continuity/internal/ha"
)

// HistoryStore records every plan execution
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// RecordExecution stores one execution and the audit pack that sealed it
func (h *HistoryStore) RecordExecution(ctx context.Context, clusterID, auditID string, r ha.FailoverResult) error {
	query := `
        INSERT INTO execution_history (execution_id, cluster_id, plan_id, target_node_id, dry_run, success,
            actions_executed, actions_failed, total_duration_ms, audit_id, started_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	_, err := h.db.ExecContext(ctx, query, r.ExecutionID, clusterID, r.PlanID, r.TargetNodeID, r.DryRun, r.Success,
		r.ActionsExecuted, r.ActionsFailed, r.TotalDurationMs, auditID, r.StartedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetHistory returns the most recent executions of a cluster, newest first
func (h *HistoryStore) GetHistory(ctx context.Context, clusterID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT execution_id, cluster_id, plan_id, target_node_id, dry_run, success,
            actions_executed, actions_failed, total_duration_ms, audit_id, started_at, completed_at
        FROM execution_history
        WHERE cluster_id = $1
        ORDER BY started_at DESC
        LIMIT $2
    `
	rows, err := h.db.QueryContext(ctx, query, clusterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		var target, auditID sql.NullString
		err := rows.Scan(&r.ExecutionID, &r.ClusterID, &r.PlanID, &target, &r.DryRun, &r.Success,
			&r.ActionsExecuted, &r.ActionsFailed, &r.TotalDurationMs, &auditID, &r.StartedAt, &r.CompletedAt)
		if err != nil {
			return nil, err
		}
		r.TargetNodeID = target.String
		r.AuditID = auditID.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// ExecutionRecord is one row of execution history
type ExecutionRecord struct {
	ExecutionID     string    `json:"execution_id"`
	ClusterID       string    `json:"cluster_id"`
	PlanID          string    `json:"plan_id"`
	TargetNodeID    string    `json:"target_node_id,omitempty"`
	DryRun          bool      `json:"dry_run"`
	Success         bool      `json:"success"`
	ActionsExecuted int       `json:"actions_executed"`
	ActionsFailed   int       `json:"actions_failed"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	AuditID         string    `json:"audit_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}
