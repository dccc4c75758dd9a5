package ha

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MonitorConfig configures polling
type MonitorConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Interval     time.Duration `yaml:"interval"`
}

// HeartbeatMonitor produces heartbeats and derives cluster quorum
type HeartbeatMonitor struct {
	cfg     MonitorConfig
	clock   Clock
	probe   Probe
	store   HeartbeatStore
	tracker *HealthTracker
	metrics *Metrics
	logger  *zap.Logger
}

// MonitorDeps are the collaborators of a monitor. Only Clock and Store are
// needed for Emit.
type MonitorDeps struct {
	Clock   Clock
	Probe   Probe
	Store   HeartbeatStore
	Tracker *HealthTracker
	Metrics *Metrics
	Logger  *zap.Logger
}

// NewHeartbeatMonitor creates a monitor
func NewHeartbeatMonitor(cfg MonitorConfig, deps MonitorDeps) *HeartbeatMonitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	m := &HeartbeatMonitor{
		cfg:     cfg,
		clock:   deps.Clock,
		probe:   deps.Probe,
		store:   deps.Store,
		tracker: deps.Tracker,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	if m.clock == nil {
		m.clock = RealClock{}
	}
	if m.store == nil {
		m.store = NewMemoryHeartbeatStore(0)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Store returns the heartbeat store the monitor records into
func (m *HeartbeatMonitor) Store() HeartbeatStore { return m.store }

// Tracker returns the health tracker, nil when polls are not tracked
func (m *HeartbeatMonitor) Tracker() *HealthTracker { return m.tracker }

// Emit produces one heartbeat per node from its recorded status
func (m *HeartbeatMonitor) Emit(ctx context.Context, nodes []Node) []Heartbeat {
	now := m.clock.Now()
	out := make([]Heartbeat, 0, len(nodes))
	for _, n := range nodes {
		hb := Heartbeat{NodeID: n.ID, Timestamp: now, Status: n.Status}
		m.record(ctx, hb)
		out = append(out, hb)
	}
	return out
}

// Poll probes every node concurrently. An unreachable node is reported as
// unknown or failed, so Poll itself never fails.
func (m *HeartbeatMonitor) Poll(ctx context.Context, nodes []Node) []Heartbeat {
	out := make([]Heartbeat, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, n := range nodes {
		g.Go(func() error {
			out[i] = m.pollNode(gctx, n)
			return nil
		})
	}
	_ = g.Wait()

	for _, hb := range out {
		m.record(ctx, hb)
	}
	return out
}

func (m *HeartbeatMonitor) pollNode(ctx context.Context, n Node) Heartbeat {
	hb := Heartbeat{NodeID: n.ID, Status: StatusUnknown}

	var (
		status NodeStatus
		err    error
	)
	started := time.Now()
	if m.probe == nil {
		status = n.Status
	} else {
		pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		status, err = m.probe.Probe(pctx, n)
		cancel()
	}
	hb.LatencyMs = float64(time.Since(started).Microseconds()) / 1000
	hb.Timestamp = m.clock.Now()

	if err != nil {
		m.metrics.probeFailed(n.ID)
		m.logger.Warn("heartbeat probe failed", zap.String("node_id", n.ID), zap.Error(err))
	}

	switch {
	case m.tracker != nil:
		hb.Status = m.tracker.Observe(n.ID, status, err)
	case err != nil:
		hb.Status = StatusUnknown
	default:
		hb.Status = status
	}
	if !hb.Status.Valid() {
		hb.Status = StatusUnknown
	}
	return hb
}

func (m *HeartbeatMonitor) record(ctx context.Context, hb Heartbeat) {
	if err := m.store.Record(ctx, hb); err != nil {
		m.logger.Warn("failed to record heartbeat", zap.String("node_id", hb.NodeID), zap.Error(err))
	}
}

// Quorum computes quorum for c from the heartbeats currently stored
func (m *HeartbeatMonitor) Quorum(ctx context.Context, c Cluster) QuorumStatus {
	heartbeats, err := m.store.LatestAll(ctx)
	if err != nil {
		m.logger.Warn("failed to read heartbeats", zap.Error(err))
	}
	q := ComputeQuorum(c, heartbeats)
	m.metrics.observeQuorum(c.ID, q)
	return q
}

// Apply returns a copy of c whose node statuses follow the latest stored heartbeats
func (m *HeartbeatMonitor) Apply(ctx context.Context, c Cluster) Cluster {
	out := c
	for _, n := range c.Nodes {
		hb, ok, err := m.store.Latest(ctx, n.ID)
		if err != nil || !ok {
			continue
		}
		out = out.WithNode(n.WithStatus(hb.Status))
	}
	return out
}

// Run polls the cluster returned by current on every interval until ctx is done
func (m *HeartbeatMonitor) Run(ctx context.Context, current func() Cluster, onTick func(Cluster, QuorumStatus)) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	tick := func() {
		c := current()
		m.Poll(ctx, c.Nodes)
		q := m.Quorum(ctx, c)
		if onTick != nil {
			onTick(m.Apply(ctx, c), q)
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
