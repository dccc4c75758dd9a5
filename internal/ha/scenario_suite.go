package ha

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// SuiteCase is one scenario run by a ScenarioSuite
type SuiteCase struct {
	Name          string   `json:"name" yaml:"name"`
	Scenario      Scenario `json:"scenario" yaml:"scenario"`
	Count         int      `json:"count,omitempty" yaml:"count,omitempty"`
	Region        string   `json:"region,omitempty" yaml:"region,omitempty"`
	ExpectSuccess bool     `json:"expect_success" yaml:"expect_success"`
}

// CaseResult contains the outcome of a case
type CaseResult struct {
	Case         SuiteCase        `json:"case"`
	Passed       bool             `json:"passed"`
	Simulation   SimulationResult `json:"simulation"`
	FailoverTime time.Duration    `json:"failover_time"`
	Latency      time.Duration    `json:"latency"`
	RTOMet       bool             `json:"rto_met"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// SuiteReport summarizes a suite run
type SuiteReport struct {
	GeneratedAt     time.Time     `json:"generated_at"`
	TotalCases      int           `json:"total_cases"`
	PassedCases     int           `json:"passed_cases"`
	FailedCases     int           `json:"failed_cases"`
	AverageFailover time.Duration `json:"average_failover"`
	RTOCompliance   float64       `json:"rto_compliance"`
	P95Latency      time.Duration `json:"p95_latency"`
	Results         []CaseResult  `json:"results"`
}

// ScenarioSuite runs simulation cases against one cluster and policy and
// gates on the expected outcome of each
type ScenarioSuite struct {
	simulator *Simulator
	cluster   Cluster
	policy    FailoverPolicy
	clock     Clock

	mu      sync.Mutex
	cases   []SuiteCase
	results []CaseResult
}

// NewScenarioSuite creates a suite
func NewScenarioSuite(sim *Simulator, cluster Cluster, policy FailoverPolicy, clock Clock) *ScenarioSuite {
	if clock == nil {
		clock = RealClock{}
	}
	return &ScenarioSuite{simulator: sim, cluster: cluster, policy: policy, clock: clock}
}

// AddCase adds a case
func (s *ScenarioSuite) AddCase(c SuiteCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases = append(s.cases, c)
}

// Cases returns all cases
func (s *ScenarioSuite) Cases() []SuiteCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SuiteCase(nil), s.cases...)
}

// RunCase runs a single case and stores its result
func (s *ScenarioSuite) RunCase(ctx context.Context, c SuiteCase) CaseResult {
	started := time.Now()
	var sim SimulationResult
	switch c.Scenario {
	case ScenarioRandomFailures:
		sim = s.simulator.SimulateRandomFailures(ctx, s.cluster, s.policy, c.Count)
	case ScenarioRegionFailure:
		sim = s.simulator.SimulateRegionFailure(ctx, s.cluster, s.policy, c.Region)
	default:
		sim = s.simulator.SimulatePrimaryFailure(ctx, s.cluster, s.policy)
	}

	result := CaseResult{
		Case:         c,
		Simulation:   sim,
		Latency:      time.Since(started),
		FailoverTime: time.Duration(sim.FailoverResult.TotalDurationMs) * time.Millisecond,
	}
	result.RTOMet = sim.FailoverResult.Success && result.FailoverTime <= s.policy.MaxFailoverTime()
	result.Passed = sim.Success == c.ExpectSuccess
	if !result.Passed {
		result.ErrorMessage = fmt.Sprintf("expected success=%t, got %t", c.ExpectSuccess, sim.Success)
		if sim.PlanningError != "" {
			result.ErrorMessage += ": " + sim.PlanningError
		}
	}

	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()
	return result
}

// RunAll runs every registered case in order
func (s *ScenarioSuite) RunAll(ctx context.Context) {
	for _, c := range s.Cases() {
		select {
		case <-ctx.Done():
			return
		default:
			s.RunCase(ctx, c)
		}
	}
}

// GenerateReport summarizes the results gathered so far
func (s *ScenarioSuite) GenerateReport() SuiteReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := SuiteReport{
		GeneratedAt: s.clock.Now(),
		TotalCases:  len(s.results),
		Results:     append([]CaseResult(nil), s.results...),
	}

	var total time.Duration
	rtoMet := 0
	latencies := make([]time.Duration, 0, len(s.results))
	for _, r := range s.results {
		if r.Passed {
			report.PassedCases++
		} else {
			report.FailedCases++
		}
		total += r.FailoverTime
		if r.RTOMet {
			rtoMet++
		}
		latencies = append(latencies, r.Latency)
	}

	if report.TotalCases > 0 {
		report.AverageFailover = total / time.Duration(report.TotalCases)
		report.RTOCompliance = float64(rtoMet) / float64(report.TotalCases) * 100
		report.P95Latency = Percentile(latencies, 95)
	}
	return report
}

// Reset clears stored results
func (s *ScenarioSuite) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = nil
}

// Percentile returns the nearest-rank percentile of ds
func Percentile(ds []time.Duration, pct float64) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
