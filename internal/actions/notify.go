package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/ha"
)

const defaultSubject = "continuity.failover"

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// FailoverEvent announces a failover to subscribers
type FailoverEvent struct {
	Event        string    `json:"event"`
	ActionID     string    `json:"action_id"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	PlanID       string    `json:"plan_id,omitempty"`
	ClusterID    string    `json:"cluster_id,omitempty"`
	PrimaryNode  string    `json:"primary_node_id,omitempty"`
	TargetNodeID string    `json:"target_node_id"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NotifyHandler publishes a FailoverEvent for the notify action
type NotifyHandler struct {
	publisher Publisher
	subject   string
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotifyHandler publishes on subject.<cluster_id>. A nil publisher only logs.
func NewNotifyHandler(publisher Publisher, subject string, logger *zap.Logger) *NotifyHandler {
	if subject == "" {
		subject = defaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyHandler{publisher: publisher, subject: subject, logger: logger, now: time.Now}
}

func (h *NotifyHandler) Handle(ctx context.Context, action ha.FailoverAction) error {
	event := FailoverEvent{
		Event:        "failover_started",
		ActionID:     action.ID,
		TargetNodeID: action.TargetNodeID,
		Timestamp:    h.now().UTC(),
	}
	subject := h.subject
	if ex, ok := ha.ExecutionFromContext(ctx); ok {
		event.ExecutionID = ex.ID
		event.PlanID = ex.Plan.ID
		event.ClusterID = ex.Plan.ClusterID
		event.PrimaryNode = ex.Plan.PrimaryNodeID
		event.Reason = ex.Plan.TriggerReason
		if ex.Plan.ClusterID != "" {
			subject += "." + ex.Plan.ClusterID
		}
	}

	h.logger.Info("failover notification",
		zap.String("subject", subject),
		zap.String("plan_id", event.PlanID),
		zap.String("target_node_id", event.TargetNodeID))

	if h.publisher == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := h.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
