package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Probe checks one node and returns the status it reports
type Probe interface {
	Probe(ctx context.Context, node Node) (NodeStatus, error)
}

// ProbeFunc adapts a function to Probe
type ProbeFunc func(ctx context.Context, node Node) (NodeStatus, error)

func (f ProbeFunc) Probe(ctx context.Context, node Node) (NodeStatus, error) {
	return f(ctx, node)
}

// HTTPProbe polls GET http://<hostname>:<port><path> on each node agent.
// A 2xx answer is healthy unless the body carries {"status": "..."}.
type HTTPProbe struct {
	Client *http.Client
	Port   int
	Path   string
	Scheme string
}

// NewHTTPProbe creates a probe for agents listening on port
func NewHTTPProbe(port int, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		Client: &http.Client{Timeout: timeout},
		Port:   port,
		Path:   "/health",
		Scheme: "http",
	}
}

func (p *HTTPProbe) Probe(ctx context.Context, node Node) (NodeStatus, error) {
	host := node.Hostname
	if host == "" {
		host = node.ID
	}
	url := fmt.Sprintf("%s://%s:%d%s", p.Scheme, host, p.Port, p.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusUnknown, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return StatusUnknown, fmt.Errorf("probe %s: %w", node.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusUnknown, fmt.Errorf("probe %s: unexpected status %d", node.ID, resp.StatusCode)
	}

	var body struct {
		Status NodeStatus `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.Status.Valid() {
		return StatusHealthy, nil
	}
	return body.Status, nil
}
