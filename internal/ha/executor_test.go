package ha

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler records every action it is asked to perform
type recordingHandler struct {
	mu     sync.Mutex
	calls  []string
	failOn int // 1-based call number that fails, 0 never
}

func (h *recordingHandler) Handle(_ context.Context, a FailoverAction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, a.ID)
	if h.failOn > 0 && len(h.calls) == h.failOn {
		return errors.New("agent refused")
	}
	return nil
}

func allHandlers(h ActionHandler) map[ActionType]ActionHandler {
	out := make(map[ActionType]ActionHandler)
	for _, t := range ActionTypes {
		out[t] = h
	}
	return out
}

func fiveActionPlan(t *testing.T) ContinuityPlan {
	t.Helper()
	c := threeNodeCluster().WithNodeStatus(StatusDegraded, "node-a")
	plan, err := NewPlanner(DefaultTuning()).BuildPlan(c, quorumPolicy(), "drill")
	require.NoError(t, err)
	require.Len(t, plan.Actions, 5)
	return plan
}

func TestExecutor_AbortOnFirstFailure(t *testing.T) {
	plan := fiveActionPlan(t)
	handler := &recordingHandler{failOn: 3}
	executor := NewExecutor(allHandlers(handler))

	result := executor.Execute(context.Background(), plan, false)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.ActionsExecuted)
	assert.Equal(t, 1, result.ActionsFailed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "agent refused")

	// the last two actions were never attempted
	assert.Equal(t, []string{plan.Actions[0].ID, plan.Actions[1].ID, plan.Actions[2].ID}, handler.calls)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, ActionFailed, result.Outcomes[2].Status)
	assert.LessOrEqual(t, result.ActionsExecuted+result.ActionsFailed, len(plan.Actions))
}

func TestExecutor_RealRunSuccess(t *testing.T) {
	plan := fiveActionPlan(t)
	handler := &recordingHandler{}
	executor := NewExecutor(allHandlers(handler))

	// shuffle the stored order; sequence decides
	plan.Actions[0], plan.Actions[4] = plan.Actions[4], plan.Actions[0]

	result := executor.Execute(context.Background(), plan, false)
	require.True(t, result.Success, result.Errors)
	assert.Equal(t, 5, result.ActionsExecuted)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "node-b", result.TargetNodeID)
	assert.Equal(t, "node-a", result.PreviousPrimary)
	assert.Equal(t, ActionNotify, result.Outcomes[0].Type)
	assert.Equal(t, ActionVerify, result.Outcomes[4].Type)
}

func TestExecutor_DryRun(t *testing.T) {
	plan := fiveActionPlan(t)
	clock := NewManualClock(SimulationEpoch)
	handler := &recordingHandler{}
	executor := NewExecutor(allHandlers(handler), WithClock(clock))

	result := executor.Execute(context.Background(), plan, true)

	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.Empty(t, handler.calls)
	assert.Equal(t, plan.EstimatedTotalMs, result.TotalDurationMs)
	assert.Equal(t, SimulationEpoch, result.StartedAt)
	assert.Equal(t, SimulationEpoch.Add(time.Duration(plan.EstimatedTotalMs)*time.Millisecond), result.CompletedAt)
	for _, o := range result.Outcomes {
		assert.Equal(t, ActionSimulated, o.Status)
	}
}

func TestExecutor_MissingHandler(t *testing.T) {
	plan := fiveActionPlan(t)
	handlers := allHandlers(&recordingHandler{})
	delete(handlers, ActionPromote)

	result := NewExecutor(handlers).Execute(context.Background(), plan, false)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.ActionsExecuted)
	assert.Equal(t, 1, result.ActionsFailed)
	assert.Contains(t, result.Errors[0], ErrNoHandler.Error())
}

func TestExecutor_HandlerPanicIsRecorded(t *testing.T) {
	plan := fiveActionPlan(t)
	handlers := allHandlers(&recordingHandler{})
	handlers[ActionNotify] = ActionHandlerFunc(func(context.Context, FailoverAction) error {
		panic("boom")
	})

	result := NewExecutor(handlers).Execute(context.Background(), plan, false)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ActionsFailed)
	assert.Contains(t, result.Errors[0], "boom")
}

func TestExecutor_Deadline(t *testing.T) {
	t.Run("clock based", func(t *testing.T) {
		plan := fiveActionPlan(t)
		plan.MaxFailoverTimeS = 5

		result := NewExecutor(nil, WithClock(NewManualClock(SimulationEpoch))).Execute(context.Background(), plan, true)
		assert.False(t, result.Success)
		// notify + demote + promote reach 7.1s
		assert.Equal(t, 3, result.ActionsExecuted)
		assert.Equal(t, 0, result.ActionsFailed)
		require.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[len(result.Errors)-1], ErrDeadlineExceeded.Error())
	})

	t.Run("blocking handler", func(t *testing.T) {
		plan := fiveActionPlan(t)
		plan.MaxFailoverTimeS = 1
		handlers := allHandlers(&recordingHandler{})
		handlers[ActionDemote] = ActionHandlerFunc(func(ctx context.Context, _ FailoverAction) error {
			<-ctx.Done()
			return ctx.Err()
		})

		done := make(chan FailoverResult, 1)
		go func() { done <- NewExecutor(handlers).Execute(context.Background(), plan, false) }()

		select {
		case result := <-done:
			assert.False(t, result.Success)
			assert.Equal(t, 1, result.ActionsExecuted)
			assert.Equal(t, 1, result.ActionsFailed)
		case <-time.After(5 * time.Second):
			t.Fatal("executor did not honour its deadline")
		}
	})
}

func TestExecutor_ExecutionIDFromSource(t *testing.T) {
	plan := fiveActionPlan(t)
	seed := bytes.Repeat([]byte{7}, 64)

	a := NewExecutor(nil, WithIDSource(bytes.NewReader(seed))).Execute(context.Background(), plan, true)
	b := NewExecutor(nil, WithIDSource(bytes.NewReader(seed))).Execute(context.Background(), plan, true)
	assert.Equal(t, a.ExecutionID, b.ExecutionID)
}

func TestExecutor_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	plan := fiveActionPlan(t)

	NewExecutor(nil, WithMetrics(m), WithClock(NewManualClock(SimulationEpoch))).Execute(context.Background(), plan, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("true", "true")))
	assert.Equal(t, 5, testutil.CollectAndCount(m.actionDuration))
}

func TestExecutor_HandlersSeeExecution(t *testing.T) {
	plan := fiveActionPlan(t)
	var seen []Execution
	var mu sync.Mutex
	h := ActionHandlerFunc(func(ctx context.Context, a FailoverAction) error {
		ex, ok := ExecutionFromContext(ctx)
		if !ok {
			return errors.New("no execution in context")
		}
		mu.Lock()
		seen = append(seen, ex)
		mu.Unlock()
		return nil
	})

	result := NewExecutor(allHandlers(h)).Execute(context.Background(), plan, false)
	require.True(t, result.Success, result.Errors)
	require.Len(t, seen, 5)
	assert.Equal(t, result.ExecutionID, seen[0].ID)
	assert.Equal(t, plan.ClusterID, seen[4].Plan.ClusterID)

	_, ok := ExecutionFromContext(context.Background())
	assert.False(t, ok)
}
