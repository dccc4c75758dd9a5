package audit

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/ha"
)

// ConfidenceConfig defines how the confidence score is computed. Each
// passing verification check adds CheckWeight, a successful execution adds
// SuccessWeight and every warning subtracts WarningPenalty. The score is
// clamped to [0,100].
type ConfidenceConfig struct {
	CheckWeight     int `yaml:"check_weight"`
	SuccessWeight   int `yaml:"success_weight"`
	WarningPenalty  int `yaml:"warning_penalty"`
	HighThreshold   int `yaml:"high_threshold"`
	MediumThreshold int `yaml:"medium_threshold"`
}

// DefaultConfidenceConfig returns the stock weights and band thresholds
func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		CheckWeight:     20,
		SuccessWeight:   20,
		WarningPenalty:  5,
		HighThreshold:   80,
		MediumThreshold: 50,
	}
}

// Score computes the confidence of an outcome
func (c ConfidenceConfig) Score(result ha.FailoverResult, report ha.VerificationReport) Confidence {
	score := 0
	for _, ok := range []bool{report.ConsistencyOK, report.PolicyOK, report.QuorumOK, report.FreshnessOK} {
		if ok {
			score += c.CheckWeight
		}
	}
	if result.Success {
		score += c.SuccessWeight
	}
	score -= c.WarningPenalty * len(report.Warnings)
	score = max(0, min(100, score))
	return Confidence{Score: score, Band: c.Band(score)}
}

// Band maps a score onto HIGH, MEDIUM or LOW
func (c ConfidenceConfig) Band(score int) Band {
	switch {
	case score >= c.HighThreshold:
		return BandHigh
	case score >= c.MediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// Auditor seals plans, results and reports into audit packs
type Auditor struct {
	confidence ConfidenceConfig
	signer     *Signer
	clock      ha.Clock
	ids        io.Reader
	logger     *zap.Logger
}

// Option configures an Auditor
type Option func(*Auditor)

// WithSigner seals every pack and requires a valid seal on verification
func WithSigner(s *Signer) Option { return func(a *Auditor) { a.signer = s } }

// WithClock sets the timestamp source
func WithClock(c ha.Clock) Option { return func(a *Auditor) { a.clock = c } }

// WithIDSource makes audit ids come from r
func WithIDSource(r io.Reader) Option { return func(a *Auditor) { a.ids = r } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(a *Auditor) { a.logger = l } }

// NewAuditor creates an auditor
func NewAuditor(cfg ConfidenceConfig, opts ...Option) *Auditor {
	a := &Auditor{confidence: cfg, clock: ha.RealClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// GenerateAuditPack builds a pack for one execution. plan is nil when
// planning failed; the pack is then explicitly failed.
func (a *Auditor) GenerateAuditPack(plan *ha.ContinuityPlan, result ha.FailoverResult, report ha.VerificationReport, citations ...Citation) (AuditPack, error) {
	id, err := a.newID()
	if err != nil {
		return AuditPack{}, err
	}

	status := StatusFailed
	if plan != nil && result.Success && report.Passed() {
		status = StatusPassed
	}

	if citations == nil {
		citations = []Citation{}
	}
	manifest := Manifest{
		AuditID:      id,
		Timestamp:    a.clock.Now().UTC().Truncate(time.Millisecond),
		Status:       status,
		Plan:         summarizePlan(plan),
		Execution:    summarizeExecution(result),
		Verification: summarizeVerification(report),
		Citations:    citations,
		Confidence:   a.confidence.Score(result, report),
	}

	canonical, err := Canonicalize(manifest)
	if err != nil {
		return AuditPack{}, fmt.Errorf("canonicalize manifest: %w", err)
	}

	pack := AuditPack{
		AuditID:      id,
		CreatedAt:    manifest.Timestamp,
		Status:       status,
		Manifest:     canonical,
		ManifestHash: Hash(canonical),
		Execution:    manifest.Execution,
		Verification: manifest.Verification,
		Confidence:   manifest.Confidence,
	}
	if a.signer != nil {
		pack.Signature = a.signer.Sign(pack.ManifestHash)
	}

	a.logger.Info("audit pack generated",
		zap.String("audit_id", id),
		zap.String("status", string(status)),
		zap.String("manifest_hash", pack.ManifestHash),
		zap.Int("confidence", pack.Confidence.Score),
	)
	return pack, nil
}

// VerifyPack recomputes the manifest hash and checks the seal when the
// auditor has a signer
func (a *Auditor) VerifyPack(pack AuditPack) error {
	if err := VerifyManifestHash(pack); err != nil {
		return err
	}
	if a.signer == nil {
		return nil
	}
	if pack.Signature == "" || !a.signer.Verify(pack.ManifestHash, pack.Signature) {
		return fmt.Errorf("%w: audit %s", ErrSignatureMismatch, pack.AuditID)
	}
	return nil
}

// VerifyManifestHash checks the stored manifest against manifest_hash and
// the envelope fields against the manifest
func VerifyManifestHash(pack AuditPack) error {
	canonical, err := Canonicalize(pack.Manifest)
	if err != nil {
		return fmt.Errorf("%w: audit %s: manifest unreadable: %v", ErrManifestTampered, pack.AuditID, err)
	}
	if got := Hash(canonical); got != pack.ManifestHash {
		return fmt.Errorf("%w: audit %s: got %s, want %s", ErrManifestTampered, pack.AuditID, got, pack.ManifestHash)
	}
	return checkEnvelope(pack)
}

// checkEnvelope compares the unhashed envelope fields with the manifest they
// are copied from
func checkEnvelope(pack AuditPack) error {
	m, err := pack.DecodeManifest()
	if err != nil {
		return fmt.Errorf("%w: audit %s: manifest unreadable: %v", ErrManifestTampered, pack.AuditID, err)
	}
	if !pack.CreatedAt.Equal(m.Timestamp) {
		return fmt.Errorf("%w: audit %s: envelope created_at differs from manifest", ErrManifestTampered, pack.AuditID)
	}

	fields := []struct {
		name               string
		envelope, manifest any
	}{
		{"audit_id", pack.AuditID, m.AuditID},
		{"status", pack.Status, m.Status},
		{"execution", pack.Execution, m.Execution},
		{"verification", pack.Verification, m.Verification},
		{"confidence", pack.Confidence, m.Confidence},
	}
	for _, f := range fields {
		got, err := Canonicalize(f.envelope)
		if err != nil {
			return fmt.Errorf("canonicalize %s: %w", f.name, err)
		}
		want, err := Canonicalize(f.manifest)
		if err != nil {
			return fmt.Errorf("canonicalize %s: %w", f.name, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("%w: audit %s: envelope %s differs from manifest", ErrManifestTampered, pack.AuditID, f.name)
		}
	}
	return nil
}

func (a *Auditor) newID() (string, error) {
	if a.ids == nil {
		return uuid.NewString(), nil
	}
	id, err := uuid.NewRandomFromReader(a.ids)
	if err != nil {
		return "", fmt.Errorf("generate audit id: %w", err)
	}
	return id.String(), nil
}

func summarizePlan(plan *ha.ContinuityPlan) *PlanSummary {
	if plan == nil {
		return nil
	}
	types := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		types = append(types, string(a.Type))
	}
	return &PlanSummary{
		PlanID:           plan.ID,
		ClusterID:        plan.ClusterID,
		PolicyID:         plan.PolicyID,
		PrimaryNodeID:    plan.PrimaryNodeID,
		FailoverTargetID: plan.FailoverTargetID,
		TriggerReason:    plan.TriggerReason,
		ActionTypes:      types,
		EstimatedTotalMs: plan.EstimatedTotalMs,
		MaxFailoverTimeS: plan.MaxFailoverTimeS,
	}
}

func summarizeExecution(r ha.FailoverResult) ExecutionSummary {
	return ExecutionSummary{
		ExecutionID:     r.ExecutionID,
		PlanID:          r.PlanID,
		TargetNodeID:    r.TargetNodeID,
		DryRun:          r.DryRun,
		Success:         r.Success,
		ActionsExecuted: r.ActionsExecuted,
		ActionsFailed:   r.ActionsFailed,
		TotalDurationMs: r.TotalDurationMs,
		Errors:          nonNil(r.Errors),
	}
}

func summarizeVerification(r ha.VerificationReport) VerificationSummary {
	return VerificationSummary{
		Passed:        r.Passed(),
		ConsistencyOK: r.ConsistencyOK,
		PolicyOK:      r.PolicyOK,
		QuorumOK:      r.QuorumOK,
		FreshnessOK:   r.FreshnessOK,
		Errors:        nonNil(r.Errors),
		Warnings:      nonNil(r.Warnings),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
