// Package engine coordinates the continuity pipeline for the CLI and the
// HTTP API: refresh heartbeats, plan, execute, verify, seal and record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/audit"
	"github.com/FairForge/continuity/internal/config"
	"github.com/FairForge/continuity/internal/database"
	"github.com/FairForge/continuity/internal/ha"
)

// DefaultSeed is used for simulations that do not name a seed
const DefaultSeed int64 = 42

// HistoryRecorder persists one row per execution
type HistoryRecorder interface {
	RecordExecution(ctx context.Context, clusterID, auditID string, r ha.FailoverResult) error
}

// HistoryReader is implemented by recorders that can list what they stored
type HistoryReader interface {
	GetHistory(ctx context.Context, clusterID string, limit int) ([]database.ExecutionRecord, error)
}

// Options are the collaborators of an Engine. Only Auditor and Audits are
// required; everything else has an in-process default.
type Options struct {
	Tuning   ha.Tuning
	Handlers map[ha.ActionType]ha.ActionHandler
	Monitor  *ha.HeartbeatMonitor
	Auditor  *audit.Auditor
	Audits   audit.Store
	History  HistoryRecorder
	Metrics  *ha.Metrics
	Clock    ha.Clock
	Logger   *zap.Logger
	Seed     int64
}

// Engine owns the current topology and runs failovers against it
type Engine struct {
	tuning   ha.Tuning
	handlers map[ha.ActionType]ha.ActionHandler
	monitor  *ha.HeartbeatMonitor
	auditor  *audit.Auditor
	audits   audit.Store
	history  HistoryRecorder
	metrics  *ha.Metrics
	clock    ha.Clock
	logger   *zap.Logger
	seed     int64
	planner  *ha.Planner

	mu       sync.RWMutex
	topology config.Topology

	execMu sync.Mutex // serializes real executions
}

// New creates an engine for top
func New(top config.Topology, opts Options) (*Engine, error) {
	if opts.Auditor == nil || opts.Audits == nil {
		return nil, errors.New("engine: auditor and audit store are required")
	}
	if opts.Tuning.ActionDurations == nil {
		opts.Tuning = ha.DefaultTuning()
	}
	if opts.Clock == nil {
		opts.Clock = ha.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.Monitor == nil {
		opts.Monitor = ha.NewHeartbeatMonitor(ha.MonitorConfig{}, ha.MonitorDeps{
			Clock:   opts.Clock,
			Metrics: opts.Metrics,
			Logger:  opts.Logger,
		})
	}
	return &Engine{
		tuning:   opts.Tuning,
		handlers: opts.Handlers,
		monitor:  opts.Monitor,
		auditor:  opts.Auditor,
		audits:   opts.Audits,
		history:  opts.History,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		logger:   opts.Logger,
		seed:     opts.Seed,
		planner:  ha.NewPlanner(opts.Tuning),
		topology: top,
	}, nil
}

// Topology returns the topology the engine currently plans against
func (e *Engine) Topology() config.Topology {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topology
}

// SetTopology replaces the topology, for instance after a file reload
func (e *Engine) SetTopology(top config.Topology) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topology = top
	e.logger.Info("topology updated",
		zap.String("cluster_id", top.Cluster.ID),
		zap.String("policy_id", top.Policy.ID))
}

// Monitor returns the heartbeat monitor
func (e *Engine) Monitor() *ha.HeartbeatMonitor { return e.monitor }

// Refresh polls every node and returns the cluster with observed statuses
func (e *Engine) Refresh(ctx context.Context) (ha.Cluster, ha.QuorumStatus) {
	c := e.Topology().Cluster
	e.monitor.Poll(ctx, c.Nodes)
	return e.monitor.Apply(ctx, c), e.monitor.Quorum(ctx, c)
}

// Plan refreshes heartbeats and builds a plan for the current cluster
func (e *Engine) Plan(ctx context.Context, reason string) (ha.ContinuityPlan, error) {
	cluster, _ := e.Refresh(ctx)
	return e.planner.BuildPlan(cluster, e.Topology().Policy, reason)
}

// SimulationRequest selects a scenario and its parameter
type SimulationRequest struct {
	Scenario ha.Scenario `json:"scenario"`
	Count    int         `json:"count,omitempty"`
	Region   string      `json:"region,omitempty"`
	Seed     *int64      `json:"seed,omitempty"`
}

// Validate rejects requests the simulator cannot run
func (r SimulationRequest) Validate() error {
	switch r.Scenario {
	case ha.ScenarioPrimaryFailure:
	case ha.ScenarioRandomFailures:
		if r.Count < 1 {
			return &ha.ConfigError{Field: "count", Msg: "must be >= 1 for random_failures"}
		}
	case ha.ScenarioRegionFailure:
		if r.Region == "" {
			return &ha.ConfigError{Field: "region", Msg: "is required for region_failure"}
		}
	default:
		return &ha.ConfigError{Field: "scenario", Msg: fmt.Sprintf("unknown scenario %q", r.Scenario)}
	}
	return nil
}

// Simulate runs a seeded what-if against the declared topology. Only an
// invalid request is an error; failed scenarios are reported in the result.
func (e *Engine) Simulate(ctx context.Context, req SimulationRequest) (ha.SimulationResult, error) {
	if err := req.Validate(); err != nil {
		return ha.SimulationResult{}, err
	}
	seed := e.seed
	if req.Seed != nil {
		seed = *req.Seed
	}
	sim := ha.NewSimulator(seed,
		ha.WithSimulationTuning(e.tuning),
		ha.WithSimulationLogger(e.logger),
		ha.WithSimulationMetrics(e.metrics),
	)

	top := e.Topology()
	switch req.Scenario {
	case ha.ScenarioRandomFailures:
		return sim.SimulateRandomFailures(ctx, top.Cluster, top.Policy, req.Count), nil
	case ha.ScenarioRegionFailure:
		return sim.SimulateRegionFailure(ctx, top.Cluster, top.Policy, req.Region), nil
	default:
		return sim.SimulatePrimaryFailure(ctx, top.Cluster, top.Policy), nil
	}
}

// DefaultSuite is the regression gate run when no cases are given
func DefaultSuite() []ha.SuiteCase {
	return []ha.SuiteCase{
		{Name: "primary failure", Scenario: ha.ScenarioPrimaryFailure, ExpectSuccess: true},
		{Name: "single random failure", Scenario: ha.ScenarioRandomFailures, Count: 1, ExpectSuccess: true},
	}
}

// RunSuite runs cases against the declared topology and reports the gate
func (e *Engine) RunSuite(ctx context.Context, cases []ha.SuiteCase) (ha.SuiteReport, error) {
	if len(cases) == 0 {
		cases = DefaultSuite()
	}
	for _, c := range cases {
		req := SimulationRequest{Scenario: c.Scenario, Count: c.Count, Region: c.Region}
		if err := req.Validate(); err != nil {
			return ha.SuiteReport{}, fmt.Errorf("case %q: %w", c.Name, err)
		}
	}

	sim := ha.NewSimulator(e.seed,
		ha.WithSimulationTuning(e.tuning),
		ha.WithSimulationLogger(e.logger),
		ha.WithSimulationMetrics(e.metrics),
	)
	top := e.Topology()
	suite := ha.NewScenarioSuite(sim, top.Cluster, top.Policy, e.clock)
	for _, c := range cases {
		suite.AddCase(c)
	}
	suite.RunAll(ctx)
	return suite.GenerateReport(), nil
}

// ExecutionReport is everything one Execute call produced
type ExecutionReport struct {
	ClusterID     string                `json:"cluster_id"`
	Plan          *ha.ContinuityPlan    `json:"plan,omitempty"`
	PlanningError string                `json:"planning_error,omitempty"`
	Result        ha.FailoverResult     `json:"failover_result"`
	Verification  ha.VerificationReport `json:"verification_report"`
	PostCluster   *ha.Cluster           `json:"post_cluster,omitempty"`
	Audit         audit.AuditPack       `json:"audit"`
}

// Success reports whether the failover ran and verified
func (r ExecutionReport) Success() bool {
	return r.Plan != nil && r.Result.Success && r.Verification.Passed()
}

// Execute plans and runs a failover, verifies it and seals an audit pack.
// A planning failure still produces a failed audit pack and is returned
// as the error alongside the report.
func (e *Engine) Execute(ctx context.Context, reason string, dryRun bool) (ExecutionReport, error) {
	if !dryRun {
		e.execMu.Lock()
		defer e.execMu.Unlock()
	}

	cluster, _ := e.Refresh(ctx)
	top := e.Topology()

	plan, planErr := e.planner.BuildPlan(cluster, top.Policy, reason)
	if planErr != nil {
		e.logger.Warn("failover planning failed",
			zap.String("cluster_id", cluster.ID),
			zap.Bool("dry_run", dryRun),
			zap.Error(planErr))
		report := ExecutionReport{ClusterID: cluster.ID}
		now := e.clock.Now()
		msg := planErr.Error()
		report.PlanningError = msg
		report.Result = ha.FailoverResult{
			ExecutionID: uuid.NewString(),
			DryRun:      dryRun,
			Errors:      []string{msg},
			StartedAt:   now,
			CompletedAt: now,
		}
		report.Verification = ha.VerificationReport{Errors: []string{msg}, Warnings: []string{}}
		if err := e.seal(ctx, &report, top, cluster); err != nil {
			return report, errors.Join(planErr, err)
		}
		return report, planErr
	}
	return e.run(ctx, top, cluster, plan, dryRun)
}

// ExecutePlan runs a previously emitted plan. The plan must belong to the
// managed cluster and its primary must still be the current one.
func (e *Engine) ExecutePlan(ctx context.Context, plan ha.ContinuityPlan, dryRun bool) (ExecutionReport, error) {
	if !dryRun {
		e.execMu.Lock()
		defer e.execMu.Unlock()
	}

	if err := plan.Validate(); err != nil {
		return ExecutionReport{}, err
	}
	cluster, _ := e.Refresh(ctx)
	if plan.ClusterID != cluster.ID {
		return ExecutionReport{}, &ha.ConfigError{Field: "plan", Msg: fmt.Sprintf("plan is for cluster %q, not %q", plan.ClusterID, cluster.ID)}
	}
	primaries := cluster.Primaries()
	if len(primaries) != 1 || primaries[0].ID != plan.PrimaryNodeID {
		return ExecutionReport{}, &ha.ConfigError{Field: "plan", Msg: fmt.Sprintf("plan is stale: primary %s is no longer the current primary", plan.PrimaryNodeID)}
	}
	if len(plan.Actions) == 0 {
		return ExecutionReport{}, &ha.ConfigError{Field: "plan", Msg: "plan has no actions"}
	}
	return e.run(ctx, e.Topology(), cluster, plan, dryRun)
}

// run executes plan against the observed cluster, verifies and seals it
func (e *Engine) run(ctx context.Context, top config.Topology, cluster ha.Cluster, plan ha.ContinuityPlan, dryRun bool) (ExecutionReport, error) {
	report := ExecutionReport{ClusterID: cluster.ID, Plan: &plan}

	execClock := e.clock
	if dryRun {
		execClock = ha.NewManualClock(e.clock.Now())
	}
	executor := ha.NewExecutor(e.handlers,
		ha.WithClock(execClock),
		ha.WithLogger(e.logger),
		ha.WithMetrics(e.metrics),
	)
	report.Result = executor.Execute(ctx, plan, dryRun)

	post := cluster
	if report.Result.Success {
		post = ha.ProjectFailover(cluster, plan)
	}
	if !dryRun {
		e.monitor.Poll(ctx, post.Nodes)
		post = e.monitor.Apply(ctx, post)
	}
	report.PostCluster = &post

	verifier := ha.NewVerifier(e.tuning, e.clock, ha.StoreLookup(ctx, e.monitor.Store()))
	report.Verification = verifier.Verify(report.Result, post, top.Policy)
	e.metrics.ObserveVerification(report.Verification)

	if !dryRun && report.Result.Success {
		e.mu.Lock()
		e.topology.Cluster = post
		e.mu.Unlock()
	}

	if err := e.seal(ctx, &report, top, cluster); err != nil {
		return report, err
	}
	e.logger.Info("failover finished",
		zap.String("cluster_id", cluster.ID),
		zap.String("plan_id", plan.ID),
		zap.String("audit_id", report.Audit.AuditID),
		zap.Bool("dry_run", dryRun),
		zap.Bool("success", report.Success()))
	return report, nil
}

// seal generates, stores and records the audit pack of report
func (e *Engine) seal(ctx context.Context, report *ExecutionReport, top config.Topology, observed ha.Cluster) error {
	citations, err := e.citations(ctx, top, observed)
	if err != nil {
		return err
	}
	pack, err := e.auditor.GenerateAuditPack(report.Plan, report.Result, report.Verification, citations...)
	if err != nil {
		return fmt.Errorf("generate audit pack: %w", err)
	}
	if err := e.audits.Save(ctx, pack); err != nil {
		return fmt.Errorf("save audit pack: %w", err)
	}
	report.Audit = pack

	if e.history != nil {
		if err := e.history.RecordExecution(ctx, report.ClusterID, pack.AuditID, report.Result); err != nil {
			e.logger.Warn("failed to record execution history",
				zap.String("execution_id", report.Result.ExecutionID),
				zap.Error(err))
		}
	}
	return nil
}

// citations digest the inputs that fed a decision
func (e *Engine) citations(ctx context.Context, top config.Topology, observed ha.Cluster) ([]audit.Citation, error) {
	digest := func(v any) (string, error) {
		canonical, err := audit.Canonicalize(v)
		if err != nil {
			return "", fmt.Errorf("digest citation: %w", err)
		}
		return audit.Hash(canonical), nil
	}

	source := func(file, fallback string) string {
		if file != "" {
			return file
		}
		return fallback
	}

	clusterDigest, err := digest(observed)
	if err != nil {
		return nil, err
	}
	policyDigest, err := digest(top.Policy)
	if err != nil {
		return nil, err
	}
	heartbeats, err := e.monitor.Store().LatestAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read heartbeats: %w", err)
	}
	heartbeatDigest, err := digest(heartbeats)
	if err != nil {
		return nil, err
	}

	return []audit.Citation{
		{Source: source(top.ClusterFile, "cluster:"+observed.ID), Kind: "cluster", Digest: clusterDigest},
		{Source: source(top.PolicyFile, "policy:"+top.Policy.ID), Kind: "policy", Digest: policyDigest},
		{Source: "heartbeat-monitor", Kind: "heartbeats", Digest: heartbeatDigest},
	}, nil
}
