package ha

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	quorumHealthy   *prometheus.GaugeVec
	quorumSize      *prometheus.GaugeVec
	hasQuorum       *prometheus.GaugeVec
	probeFailures   *prometheus.CounterVec
	executions      *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	executionMillis prometheus.Histogram
	verifications   *prometheus.CounterVec
	simulations     *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		quorumHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "continuity_quorum_healthy_nodes",
			Help: "Healthy nodes per cluster at the last monitoring tick",
		}, []string{"cluster"}),
		quorumSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "continuity_quorum_size",
			Help: "Effective quorum size per cluster",
		}, []string{"cluster"}),
		hasQuorum: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "continuity_quorum_ok",
			Help: "1 when the cluster has quorum",
		}, []string{"cluster"}),
		probeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "continuity_probe_failures_total",
			Help: "Heartbeat probes that failed or timed out",
		}, []string{"node"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "continuity_executions_total",
			Help: "Plan executions by mode and outcome",
		}, []string{"dry_run", "success"}),
		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "continuity_action_duration_milliseconds",
			Help:    "Duration of failover actions",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}, []string{"action_type"}),
		executionMillis: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "continuity_execution_duration_milliseconds",
			Help:    "Total duration of plan executions",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12),
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "continuity_verifications_total",
			Help: "Verification reports by outcome",
		}, []string{"passed"}),
		simulations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "continuity_simulations_total",
			Help: "Simulation runs by scenario and outcome",
		}, []string{"scenario", "success"}),
	}
}

func (m *Metrics) observeQuorum(cluster string, q QuorumStatus) {
	if m == nil {
		return
	}
	m.quorumHealthy.WithLabelValues(cluster).Set(float64(q.HealthyNodes))
	m.quorumSize.WithLabelValues(cluster).Set(float64(q.QuorumSize))
	ok := 0.0
	if q.HasQuorum {
		ok = 1
	}
	m.hasQuorum.WithLabelValues(cluster).Set(ok)
}

func (m *Metrics) probeFailed(node string) {
	if m == nil {
		return
	}
	m.probeFailures.WithLabelValues(node).Inc()
}

func (m *Metrics) observeAction(t ActionType, ms int64) {
	if m == nil {
		return
	}
	m.actionDuration.WithLabelValues(string(t)).Observe(float64(ms))
}

func (m *Metrics) observeExecution(r FailoverResult) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(strconv.FormatBool(r.DryRun), strconv.FormatBool(r.Success)).Inc()
	m.executionMillis.Observe(float64(r.TotalDurationMs))
}

// ObserveVerification counts a verification outcome
func (m *Metrics) ObserveVerification(r VerificationReport) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(strconv.FormatBool(r.Passed())).Inc()
}

func (m *Metrics) observeSimulation(s SimulationResult) {
	if m == nil {
		return
	}
	m.simulations.WithLabelValues(string(s.Scenario), strconv.FormatBool(s.Success)).Inc()
}
