package ha

import (
	"errors"
	"fmt"
)

// ConfigError reports malformed cluster, policy or plan input
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Msg
	}
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Msg)
}

// PlanningReason classifies why no plan could be built
type PlanningReason string

const (
	ReasonNoPrimary         PlanningReason = "no_primary"
	ReasonMultiplePrimaries PlanningReason = "multiple_primaries"
	ReasonNoEligibleTarget  PlanningReason = "no_eligible_target"
	ReasonQuorumViolation   PlanningReason = "quorum_violation"
)

var planningMessages = map[PlanningReason]string{
	ReasonNoPrimary:         "no primary present",
	ReasonMultiplePrimaries: "multiple primaries present",
	ReasonNoEligibleTarget:  "no eligible failover target",
	ReasonQuorumViolation:   "failover would violate quorum/min-healthy constraint",
}

// PlanningError is returned by the planner. It is never retried.
type PlanningError struct {
	Reason    PlanningReason
	ClusterID string
	Detail    string
}

func (e *PlanningError) Error() string {
	msg := planningMessages[e.Reason]
	if msg == "" {
		msg = string(e.Reason)
	}
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	return msg
}

// ExecutionError describes a failed action. The executor records it in the
// result instead of returning it.
type ExecutionError struct {
	ActionID string
	Type     ActionType
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %s (%s) failed: %v", e.ActionID, e.Type, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

var (
	// ErrNoHandler is returned when no handler is registered for an action type
	ErrNoHandler = errors.New("no handler registered for action type")
	// ErrDeadlineExceeded marks an execution that ran past max_failover_time_s
	ErrDeadlineExceeded = errors.New("failover deadline exceeded")
)

// IsPlanningReason reports whether err is a PlanningError with the given reason
func IsPlanningReason(err error, reason PlanningReason) bool {
	var pe *PlanningError
	return errors.As(err, &pe) && pe.Reason == reason
}
