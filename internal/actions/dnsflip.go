package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/ha"
)

const defaultRecordPrefix = "/continuity/services"

// ServiceRecord is the value stored under <prefix>/<cluster_id>/primary.
// Service discovery resolves the cluster endpoint from it.
type ServiceRecord struct {
	NodeID    string    `json:"node_id"`
	Hostname  string    `json:"hostname,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DNSFlipHandler points the cluster service record at the new primary
type DNSFlipHandler struct {
	kv     clientv3.KV
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

func NewDNSFlipHandler(kv clientv3.KV, prefix string, logger *zap.Logger) *DNSFlipHandler {
	if prefix == "" {
		prefix = defaultRecordPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DNSFlipHandler{kv: kv, prefix: prefix, logger: logger, now: time.Now}
}

// RecordKey returns the etcd key of a cluster's primary record
func (h *DNSFlipHandler) RecordKey(clusterID string) string {
	return path.Join(h.prefix, clusterID, "primary")
}

func (h *DNSFlipHandler) Handle(ctx context.Context, action ha.FailoverAction) error {
	ex, ok := ha.ExecutionFromContext(ctx)
	if !ok || ex.Plan.ClusterID == "" {
		return fmt.Errorf("dns flip %s: no cluster in execution context", action.ID)
	}

	record := ServiceRecord{
		NodeID:    action.TargetNodeID,
		Hostname:  action.TargetHostname,
		PlanID:    ex.Plan.ID,
		UpdatedAt: h.now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode service record: %w", err)
	}

	key := h.RecordKey(ex.Plan.ClusterID)
	if _, err := h.kv.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	h.logger.Info("service record flipped",
		zap.String("key", key),
		zap.String("node_id", record.NodeID))
	return nil
}
