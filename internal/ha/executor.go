package ha

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActionHandler performs the side effect of one action type
type ActionHandler interface {
	Handle(ctx context.Context, action FailoverAction) error
}

// ActionHandlerFunc adapts a function to ActionHandler
type ActionHandlerFunc func(ctx context.Context, action FailoverAction) error

func (f ActionHandlerFunc) Handle(ctx context.Context, action FailoverAction) error {
	return f(ctx, action)
}

type executionKey struct{}

// Execution identifies the run an action belongs to
type Execution struct {
	ID   string
	Plan ContinuityPlan
}

// ExecutionFromContext returns the run that dispatched the current action
func ExecutionFromContext(ctx context.Context) (Execution, bool) {
	ex, ok := ctx.Value(executionKey{}).(Execution)
	return ex, ok
}

// Executor runs plans one action at a time, aborting on the first failure
type Executor struct {
	handlers map[ActionType]ActionHandler
	clock    Clock
	logger   *zap.Logger
	metrics  *Metrics
	ids      io.Reader
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithClock sets the clock used for timestamps, durations and the deadline
func WithClock(c Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the executor logger
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics records execution metrics
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithIDSource makes execution ids come from r
func WithIDSource(r io.Reader) ExecutorOption {
	return func(e *Executor) { e.ids = r }
}

// NewExecutor creates an executor dispatching through handlers. Action types
// without a handler fail when a real run reaches them.
func NewExecutor(handlers map[ActionType]ActionHandler, opts ...ExecutorOption) *Executor {
	e := &Executor{
		handlers: make(map[ActionType]ActionHandler, len(handlers)),
		clock:    RealClock{},
		logger:   zap.NewNop(),
	}
	for t, h := range handlers {
		if t.Valid() && h != nil {
			e.handlers[t] = h
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Execute runs plan. Errors are recorded in the result; Execute never fails.
// In dry-run mode no handler is called and the clock advances by each
// action's estimate instead.
func (e *Executor) Execute(ctx context.Context, plan ContinuityPlan, dryRun bool) FailoverResult {
	start := e.clock.Now()
	result := FailoverResult{
		ExecutionID:     e.newID(),
		PlanID:          plan.ID,
		TargetNodeID:    plan.FailoverTargetID,
		PreviousPrimary: plan.PrimaryNodeID,
		DryRun:          dryRun,
		Errors:          []string{},
		StartedAt:       start,
	}

	deadline := time.Duration(plan.MaxFailoverTimeS) * time.Second
	if deadline <= 0 {
		deadline = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ctx = context.WithValue(ctx, executionKey{}, Execution{ID: result.ExecutionID, Plan: plan})

	actions := append([]FailoverAction(nil), plan.Actions...)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Sequence < actions[j].Sequence })

	log := e.logger.With(zap.String("plan_id", plan.ID), zap.String("execution_id", result.ExecutionID), zap.Bool("dry_run", dryRun))
	log.Info("failover execution started", zap.Int("actions", len(actions)), zap.Duration("deadline", deadline))

	timedOut := false
	expired := func() bool {
		return ctx.Err() != nil || e.clock.Now().Sub(start) > deadline
	}

	for _, action := range actions {
		if expired() {
			timedOut = true
			break
		}

		actionStart := e.clock.Now()
		outcome := ActionOutcome{ActionID: action.ID, Type: action.Type, TargetNodeID: action.TargetNodeID}

		var err error
		if dryRun {
			e.clock.Advance(time.Duration(action.EstimatedDurationMs) * time.Millisecond)
			outcome.Status = ActionSimulated
		} else {
			err = e.run(ctx, action)
			outcome.Status = ActionSucceeded
		}
		outcome.DurationMs = e.clock.Now().Sub(actionStart).Milliseconds()
		e.metrics.observeAction(action.Type, outcome.DurationMs)

		if err != nil {
			outcome.Status = ActionFailed
			outcome.Error = err.Error()
			result.Outcomes = append(result.Outcomes, outcome)
			result.ActionsFailed++
			execErr := &ExecutionError{ActionID: action.ID, Type: action.Type, Err: err}
			result.Errors = append(result.Errors, execErr.Error())
			log.Warn("failover action failed", zap.String("action_id", action.ID), zap.String("action_type", string(action.Type)), zap.Error(err))
			break
		}

		result.Outcomes = append(result.Outcomes, outcome)
		result.ActionsExecuted++
		log.Debug("failover action completed", zap.String("action_id", action.ID), zap.Int64("duration_ms", outcome.DurationMs))

		if expired() {
			timedOut = true
			break
		}
	}

	if timedOut {
		result.Errors = append(result.Errors, fmt.Sprintf("%v: %ds elapsed budget", ErrDeadlineExceeded, plan.MaxFailoverTimeS))
	}

	result.CompletedAt = e.clock.Now()
	result.TotalDurationMs = result.CompletedAt.Sub(start).Milliseconds()
	result.Success = result.ActionsFailed == 0 && result.ActionsExecuted == len(actions) && !timedOut

	e.metrics.observeExecution(result)
	log.Info("failover execution finished",
		zap.Bool("success", result.Success),
		zap.Int("executed", result.ActionsExecuted),
		zap.Int("failed", result.ActionsFailed),
		zap.Int64("total_duration_ms", result.TotalDurationMs),
		zap.Bool("timed_out", timedOut),
	)
	return result
}

// run dispatches one action and waits for it or for the deadline
func (e *Executor) run(ctx context.Context, action FailoverAction) error {
	h, ok := e.handlers[action.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, action.Type)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h.Handle(ctx, action)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeadlineExceeded, ctx.Err())
	}
}

func (e *Executor) newID() string {
	if e.ids != nil {
		if id, err := uuid.NewRandomFromReader(e.ids); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}
