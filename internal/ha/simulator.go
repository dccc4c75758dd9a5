package ha

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"
)

// Scenario names a simulated failure mode
type Scenario string

const (
	ScenarioPrimaryFailure Scenario = "primary_failure"
	ScenarioRandomFailures Scenario = "random_failures"
	ScenarioRegionFailure  Scenario = "region_failure"
)

// SimulationResult is the full record of one simulated failover
type SimulationResult struct {
	Scenario           Scenario           `json:"scenario"`
	Seed               int64              `json:"seed"`
	InjectedFailures   []string           `json:"injected_failures"`
	Cluster            Cluster            `json:"cluster"`
	PostCluster        *Cluster           `json:"post_cluster,omitempty"`
	PreQuorum          QuorumStatus       `json:"pre_quorum"`
	Plan               *ContinuityPlan    `json:"plan,omitempty"`
	PlanningError      string             `json:"planning_error,omitempty"`
	FailoverResult     FailoverResult     `json:"failover_result"`
	VerificationReport VerificationReport `json:"verification_report"`
	Success            bool               `json:"success"`
}

// Simulator runs the monitor, planner, executor and verifier against
// seeded failure projections. Runs never share generators or clocks.
type Simulator struct {
	seed    int64
	tuning  Tuning
	logger  *zap.Logger
	metrics *Metrics
}

// SimulatorOption configures a Simulator
type SimulatorOption func(*Simulator)

// WithSimulationTuning overrides the default tuning
func WithSimulationTuning(t Tuning) SimulatorOption {
	return func(s *Simulator) { s.tuning = t }
}

// WithSimulationLogger sets the logger
func WithSimulationLogger(l *zap.Logger) SimulatorOption {
	return func(s *Simulator) { s.logger = l }
}

// WithSimulationMetrics records simulation outcomes
func WithSimulationMetrics(m *Metrics) SimulatorOption {
	return func(s *Simulator) { s.metrics = m }
}

// NewSimulator creates a simulator for seed
func NewSimulator(seed int64, opts ...SimulatorOption) *Simulator {
	s := &Simulator{seed: seed, tuning: DefaultTuning(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// SimulatePrimaryFailure fails the current primary and fails over
func (s *Simulator) SimulatePrimaryFailure(ctx context.Context, c Cluster, p FailoverPolicy) SimulationResult {
	run := s.newRun(ScenarioPrimaryFailure, "")
	var failed []string
	for _, n := range c.Primaries() {
		failed = append(failed, n.ID)
	}
	sort.Strings(failed)
	return s.execute(ctx, run, c, p, failed, "primary failure")
}

// SimulateRandomFailures fails count randomly chosen non-primary nodes.
// count is capped at the number of such nodes.
func (s *Simulator) SimulateRandomFailures(ctx context.Context, c Cluster, p FailoverPolicy, count int) SimulationResult {
	run := s.newRun(ScenarioRandomFailures, fmt.Sprint(count))

	var eligible []string
	for _, n := range c.Nodes {
		if n.Role != RolePrimary {
			eligible = append(eligible, n.ID)
		}
	}
	sort.Strings(eligible)
	if count < 0 {
		count = 0
	}
	if count > len(eligible) {
		count = len(eligible)
	}

	perm := run.rng.Perm(len(eligible))
	failed := make([]string, 0, count)
	for _, i := range perm[:count] {
		failed = append(failed, eligible[i])
	}
	sort.Strings(failed)
	return s.execute(ctx, run, c, p, failed, fmt.Sprintf("random failure of %d node(s)", count))
}

// SimulateRegionFailure fails every node located in region
func (s *Simulator) SimulateRegionFailure(ctx context.Context, c Cluster, p FailoverPolicy, region string) SimulationResult {
	run := s.newRun(ScenarioRegionFailure, region)
	failed := c.NodesInRegion(region)
	if len(failed) == 0 {
		res := s.planningFailure(run, c, ClusterQuorum(c), fmt.Errorf("region %q has no nodes", region))
		res.Seed = s.seed
		s.finish(res)
		return res
	}
	return s.execute(ctx, run, c, p, failed, "region failure: "+region)
}

// simulationRun owns the generator and clock of exactly one run
type simulationRun struct {
	scenario Scenario
	src      *rand.ChaCha8
	rng      *rand.Rand
	clock    *ManualClock
}

func (s *Simulator) newRun(scenario Scenario, param string) *simulationRun {
	h := sha256.New()
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], uint64(s.seed))
	h.Write(seed[:])
	h.Write([]byte(scenario))
	h.Write([]byte{0})
	h.Write([]byte(param))
	var key [32]byte
	copy(key[:], h.Sum(nil))

	src := rand.NewChaCha8(key)
	return &simulationRun{
		scenario: scenario,
		src:      src,
		rng:      rand.New(src),
		clock:    NewManualClock(SimulationEpoch),
	}
}

func (s *Simulator) execute(ctx context.Context, run *simulationRun, c Cluster, p FailoverPolicy, failed []string, reason string) SimulationResult {
	if failed == nil {
		failed = []string{}
	}
	projected := c.WithNodeStatus(StatusFailed, failed...)

	monitor := NewHeartbeatMonitor(MonitorConfig{}, MonitorDeps{Clock: run.clock, Logger: s.logger})
	heartbeats := monitor.Emit(ctx, projected.Nodes)
	pre := ComputeQuorum(projected, heartbeats)

	plan, err := NewPlanner(s.tuning).BuildPlan(projected, p, reason)
	if err != nil {
		res := s.planningFailure(run, projected, pre, err)
		res.InjectedFailures = failed
		s.finish(res)
		return res
	}

	executor := NewExecutor(nil, WithClock(run.clock), WithLogger(s.logger), WithMetrics(s.metrics), WithIDSource(run.src))
	result := executor.Execute(ctx, plan, true)

	post := ProjectFailover(projected, plan)
	monitor.Emit(ctx, post.Nodes)

	verifier := NewVerifier(s.tuning, run.clock, StoreLookup(ctx, monitor.Store()))
	report := verifier.Verify(result, post, p)
	s.metrics.ObserveVerification(report)

	res := SimulationResult{
		Scenario:           run.scenario,
		Seed:               s.seed,
		InjectedFailures:   failed,
		Cluster:            projected,
		PostCluster:        &post,
		PreQuorum:          pre,
		Plan:               &plan,
		FailoverResult:     result,
		VerificationReport: report,
		Success:            result.Success && report.Passed(),
	}
	s.finish(res)
	return res
}

// planningFailure builds the fully populated failed result of a run whose
// plan could not be built
func (s *Simulator) planningFailure(run *simulationRun, c Cluster, pre QuorumStatus, err error) SimulationResult {
	now := run.clock.Now()
	executor := NewExecutor(nil, WithIDSource(run.src))
	msg := err.Error()
	return SimulationResult{
		Scenario:         run.scenario,
		Seed:             s.seed,
		InjectedFailures: []string{},
		Cluster:          c,
		PreQuorum:        pre,
		PlanningError:    msg,
		FailoverResult: FailoverResult{
			ExecutionID: executor.newID(),
			DryRun:      true,
			Errors:      []string{msg},
			StartedAt:   now,
			CompletedAt: now,
		},
		VerificationReport: VerificationReport{
			Errors:   []string{msg},
			Warnings: []string{},
		},
	}
}

func (s *Simulator) finish(res SimulationResult) {
	s.metrics.observeSimulation(res)
	s.logger.Debug("simulation finished",
		zap.String("scenario", string(res.Scenario)),
		zap.Int64("seed", res.Seed),
		zap.Strings("injected_failures", res.InjectedFailures),
		zap.Bool("success", res.Success),
	)
}

// ProjectFailover applies a completed plan: the target becomes a healthy
// primary and the old primary a secondary that keeps a failed status.
func ProjectFailover(c Cluster, plan ContinuityPlan) Cluster {
	post := c
	if old, ok := c.Node(plan.PrimaryNodeID); ok {
		post = post.WithNode(old.WithRole(RoleSecondary))
	}
	if target, ok := c.Node(plan.FailoverTargetID); ok {
		post = post.WithNode(target.WithRole(RolePrimary).WithStatus(StatusHealthy))
	}
	return post
}
