package ha

import (
	"context"
	"sort"
	"sync"
)

// HeartbeatStore records heartbeats and serves the latest one per node
type HeartbeatStore interface {
	Record(ctx context.Context, hb Heartbeat) error
	Latest(ctx context.Context, nodeID string) (Heartbeat, bool, error)
	LatestAll(ctx context.Context) ([]Heartbeat, error)
}

// MemoryHeartbeatStore keeps a bounded history per node in memory
type MemoryHeartbeatStore struct {
	mu      sync.RWMutex
	history map[string][]Heartbeat
	limit   int
}

// NewMemoryHeartbeatStore keeps up to limit heartbeats per node (default 16)
func NewMemoryHeartbeatStore(limit int) *MemoryHeartbeatStore {
	if limit <= 0 {
		limit = 16
	}
	return &MemoryHeartbeatStore{history: make(map[string][]Heartbeat), limit: limit}
}

func (s *MemoryHeartbeatStore) Record(_ context.Context, hb Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[hb.NodeID], hb)
	if len(h) > s.limit {
		h = h[len(h)-s.limit:]
	}
	s.history[hb.NodeID] = h
	return nil
}

func (s *MemoryHeartbeatStore) Latest(_ context.Context, nodeID string) (Heartbeat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest, ok := LatestHeartbeats(s.history[nodeID])[nodeID]
	return latest, ok, nil
}

func (s *MemoryHeartbeatStore) LatestAll(_ context.Context) ([]Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Heartbeat, 0, len(s.history))
	for _, h := range s.history {
		for _, hb := range LatestHeartbeats(h) {
			out = append(out, hb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// History returns the recorded heartbeats of a node, oldest first
func (s *MemoryHeartbeatStore) History(nodeID string) []Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Heartbeat(nil), s.history[nodeID]...)
}

// StoreLookup adapts a store for the verifier. Store errors count as missing data.
func StoreLookup(ctx context.Context, store HeartbeatStore) HeartbeatLookup {
	return func(nodeID string) (Heartbeat, bool) {
		hb, ok, err := store.Latest(ctx, nodeID)
		if err != nil {
			return Heartbeat{}, false
		}
		return hb, ok
	}
}
