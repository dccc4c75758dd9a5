package audit

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrManifestTampered means the stored manifest no longer matches its hash
	ErrManifestTampered = errors.New("audit manifest hash mismatch")
	// ErrSignatureMismatch means the pack seal does not verify
	ErrSignatureMismatch = errors.New("audit pack signature mismatch")
	// ErrNotFound is returned by stores for unknown audit ids
	ErrNotFound = errors.New("audit pack not found")
)

// Status is the overall outcome recorded in a pack
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Band is a coarse confidence label
type Band string

const (
	BandHigh   Band = "HIGH"
	BandMedium Band = "MEDIUM"
	BandLow    Band = "LOW"
)

// PlanSummary condenses a continuity plan
type PlanSummary struct {
	PlanID           string   `json:"plan_id"`
	ClusterID        string   `json:"cluster_id"`
	PolicyID         string   `json:"policy_id"`
	PrimaryNodeID    string   `json:"primary_node_id"`
	FailoverTargetID string   `json:"failover_target_id"`
	TriggerReason    string   `json:"trigger_reason,omitempty"`
	ActionTypes      []string `json:"action_types"`
	EstimatedTotalMs int64    `json:"estimated_total_ms"`
	MaxFailoverTimeS int      `json:"max_failover_time_s"`
}

// ExecutionSummary condenses a failover result
type ExecutionSummary struct {
	ExecutionID     string   `json:"execution_id"`
	PlanID          string   `json:"plan_id"`
	TargetNodeID    string   `json:"target_node_id,omitempty"`
	DryRun          bool     `json:"dry_run"`
	Success         bool     `json:"success"`
	ActionsExecuted int      `json:"actions_executed"`
	ActionsFailed   int      `json:"actions_failed"`
	TotalDurationMs int64    `json:"total_duration_ms"`
	Errors          []string `json:"errors"`
}

// VerificationSummary condenses a verification report
type VerificationSummary struct {
	Passed        bool     `json:"passed"`
	ConsistencyOK bool     `json:"consistency_ok"`
	PolicyOK      bool     `json:"policy_ok"`
	QuorumOK      bool     `json:"quorum_ok"`
	FreshnessOK   bool     `json:"freshness_ok"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
}

// Citation names a data or config source that fed the decision
type Citation struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Digest string `json:"digest,omitempty"`
}

// Confidence is the scored trust in the recorded outcome
type Confidence struct {
	Score int  `json:"score"`
	Band  Band `json:"band"`
}

// Manifest is the hashed body of an audit pack
type Manifest struct {
	AuditID      string              `json:"audit_id"`
	Timestamp    time.Time           `json:"timestamp"`
	Status       Status              `json:"status"`
	Plan         *PlanSummary        `json:"plan"`
	Execution    ExecutionSummary    `json:"execution"`
	Verification VerificationSummary `json:"verification"`
	Citations    []Citation          `json:"citations"`
	Confidence   Confidence          `json:"confidence"`
}

// AuditPack is the stored, tamper-evident record of one execution. The
// manifest is kept in its canonical serialized form.
type AuditPack struct {
	AuditID      string              `json:"audit_id"`
	CreatedAt    time.Time           `json:"created_at"`
	Status       Status              `json:"status"`
	Manifest     json.RawMessage     `json:"manifest"`
	ManifestHash string              `json:"manifest_hash"`
	Signature    string              `json:"signature,omitempty"`
	Execution    ExecutionSummary    `json:"execution"`
	Verification VerificationSummary `json:"verification"`
	Confidence   Confidence          `json:"confidence"`
}

// DecodeManifest parses the stored manifest
func (p AuditPack) DecodeManifest() (Manifest, error) {
	var m Manifest
	err := json.Unmarshal(p.Manifest, &m)
	return m, err
}
