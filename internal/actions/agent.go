package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/ha"
)

// AgentOptions locates the node agent
type AgentOptions struct {
	Port    int
	Scheme  string
	Timeout time.Duration
	Token   string
}

// AgentRequest is the body sent to the node agent
type AgentRequest struct {
	ActionID    string `json:"action_id"`
	Action      string `json:"action"`
	NodeID      string `json:"node_id"`
	PlanID      string `json:"plan_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	ClusterID   string `json:"cluster_id,omitempty"`
}

// AgentHandler asks the agent on the target node to perform the action via
// POST /v1/agent/<action_type>. Any non-2xx answer fails the action.
type AgentHandler struct {
	client *http.Client
	port   int
	scheme string
	token  string
	logger *zap.Logger
}

func NewAgentHandler(opts AgentOptions, logger *zap.Logger) *AgentHandler {
	if opts.Port == 0 {
		opts.Port = 9100
	}
	if opts.Scheme == "" {
		opts.Scheme = "http"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		client: &http.Client{Timeout: opts.Timeout},
		port:   opts.Port,
		scheme: opts.Scheme,
		token:  opts.Token,
		logger: logger,
	}
}

// URL returns the agent endpoint for action
func (h *AgentHandler) URL(action ha.FailoverAction) string {
	host := action.TargetHostname
	if host == "" {
		host = action.TargetNodeID
	}
	return fmt.Sprintf("%s://%s/v1/agent/%s", h.scheme, net.JoinHostPort(host, strconv.Itoa(h.port)), action.Type)
}

func (h *AgentHandler) Handle(ctx context.Context, action ha.FailoverAction) error {
	body := AgentRequest{
		ActionID: action.ID,
		Action:   string(action.Type),
		NodeID:   action.TargetNodeID,
	}
	if ex, ok := ha.ExecutionFromContext(ctx); ok {
		body.PlanID = ex.Plan.ID
		body.ExecutionID = ex.ID
		body.ClusterID = ex.Plan.ClusterID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode agent request: %w", err)
	}

	url := h.URL(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent %s: %w", action.TargetNodeID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent %s: %s returned %d: %s", action.TargetNodeID, action.Type, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	h.logger.Debug("agent action completed",
		zap.String("action_id", action.ID),
		zap.String("url", url),
		zap.Duration("latency", time.Since(start)))
	return nil
}
