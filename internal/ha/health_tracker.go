package ha

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// HealthState is the tracked health of a node between probes
type HealthState int

const (
	StateHealthy HealthState = iota
	StateDegraded
	StateFailed
	StateRecovering
	StateUnknown
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// NodeStatus maps the tracked state onto the status reported in heartbeats.
// Recovering nodes report degraded until the recovery threshold is met.
func (s HealthState) NodeStatus() NodeStatus {
	switch s {
	case StateHealthy:
		return StatusHealthy
	case StateDegraded, StateRecovering:
		return StatusDegraded
	case StateFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// HealthEventType represents tracker event types
type HealthEventType int

const (
	EventNodeUnreachable HealthEventType = iota
	EventNodeFailed
	EventNodeRecovering
	EventNodeRecovered
)

func (t HealthEventType) String() string {
	switch t {
	case EventNodeUnreachable:
		return "unreachable"
	case EventNodeFailed:
		return "failed"
	case EventNodeRecovering:
		return "recovering"
	case EventNodeRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// HealthEvent is published when a node changes tracked state
type HealthEvent struct {
	Type      HealthEventType
	NodeID    string
	From      HealthState
	To        HealthState
	Timestamp time.Time
	Message   string
}

// TrackerConfig sets the transition thresholds
type TrackerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold"`  // consecutive failures before failed
	RecoveryThreshold int `yaml:"recovery_threshold"` // consecutive successes before healthy
}

// NodeHealth is the tracked record of one node
type NodeHealth struct {
	State            HealthState
	ConsecutiveFails int
	ConsecutiveOK    int
	LastCheck        time.Time
	LastError        string
}

// HealthTracker turns raw probe outcomes into node statuses
type HealthTracker struct {
	mu          sync.RWMutex
	cfg         TrackerConfig
	clock       Clock
	nodes       map[string]*NodeHealth
	subscribers []func(HealthEvent)
	eventChan   chan HealthEvent
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewHealthTracker creates a tracker. Zero thresholds default to 3 and 2.
func NewHealthTracker(cfg TrackerConfig, clock Clock) *HealthTracker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 2
	}
	if clock == nil {
		clock = RealClock{}
	}
	t := &HealthTracker{
		cfg:       cfg,
		clock:     clock,
		nodes:     make(map[string]*NodeHealth),
		eventChan: make(chan HealthEvent, 100),
		stopChan:  make(chan struct{}),
	}

	go t.eventDispatcher()

	return t
}

// Observe records a probe outcome and returns the status to report.
// reported is the status the node claimed when the probe succeeded.
func (t *HealthTracker) Observe(nodeID string, reported NodeStatus, probeErr error) NodeStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.nodes[nodeID]
	if !ok {
		h = &NodeHealth{State: StateHealthy}
		t.nodes[nodeID] = h
	}
	h.LastCheck = t.clock.Now()
	previous := h.State

	if probeErr != nil {
		h.LastError = probeErr.Error()
		h.ConsecutiveOK = 0
		h.ConsecutiveFails++
		if h.ConsecutiveFails >= t.cfg.FailureThreshold {
			h.State = StateFailed
		} else if previous != StateFailed {
			h.State = StateUnknown
		}
		switch {
		case previous != StateFailed && h.State == StateFailed:
			t.emit(HealthEvent{Type: EventNodeFailed, NodeID: nodeID, From: previous, To: h.State, Message: "node failed"})
		case previous != StateUnknown && h.State == StateUnknown:
			t.emit(HealthEvent{Type: EventNodeUnreachable, NodeID: nodeID, From: previous, To: h.State, Message: "node unreachable"})
		}
		return h.State.NodeStatus()
	}

	h.LastError = ""
	h.ConsecutiveFails = 0

	// a reachable node that reports itself failed is not recovering
	if reported != StatusHealthy && reported != StatusDegraded {
		h.ConsecutiveOK = 0
		h.State = stateFor(reported)
		return reported
	}
	h.ConsecutiveOK++

	switch previous {
	case StateFailed, StateUnknown:
		h.State = StateRecovering
		t.emit(HealthEvent{Type: EventNodeRecovering, NodeID: nodeID, From: previous, To: h.State, Message: "node entering recovery"})
		if h.ConsecutiveOK >= t.cfg.RecoveryThreshold {
			t.recovered(nodeID, h, reported)
		}
	case StateRecovering:
		if h.ConsecutiveOK >= t.cfg.RecoveryThreshold {
			t.recovered(nodeID, h, reported)
		}
	default:
		h.State = stateFor(reported)
	}

	if h.State == StateRecovering {
		return StatusDegraded
	}
	return reported
}

func (t *HealthTracker) recovered(nodeID string, h *NodeHealth, reported NodeStatus) {
	from := h.State
	h.State = stateFor(reported)
	t.emit(HealthEvent{Type: EventNodeRecovered, NodeID: nodeID, From: from, To: h.State, Message: "node recovered"})
}

func stateFor(s NodeStatus) HealthState {
	switch s {
	case StatusHealthy:
		return StateHealthy
	case StatusDegraded:
		return StateDegraded
	case StatusFailed:
		return StateFailed
	default:
		return StateUnknown
	}
}

// Health returns a copy of the tracked record
func (t *HealthTracker) Health(nodeID string) NodeHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, ok := t.nodes[nodeID]; ok {
		return *h
	}
	return NodeHealth{State: StateUnknown}
}

// Unhealthy returns ids of nodes currently failed or unknown, sorted
func (t *HealthTracker) Unhealthy() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0)
	for id, h := range t.nodes {
		if h.State == StateFailed || h.State == StateUnknown {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Subscribe registers an event listener
func (t *HealthTracker) Subscribe(handler func(HealthEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, handler)
}

// emit must be called with t.mu held
func (t *HealthTracker) emit(event HealthEvent) {
	event.Timestamp = t.clock.Now()
	select {
	case t.eventChan <- event:
	default:
		// channel full, drop
	}
}

func (t *HealthTracker) eventDispatcher() {
	for {
		select {
		case event := <-t.eventChan:
			t.mu.RLock()
			handlers := slices.Clone(t.subscribers)
			t.mu.RUnlock()
			for _, handler := range handlers {
				handler(event)
			}
		case <-t.stopChan:
			return
		}
	}
}

// Stop shuts down event dispatch
func (t *HealthTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}
