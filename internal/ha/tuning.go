package ha

import (
	"fmt"
	"time"
)

// Tuning holds the engine constants that are not part of a policy
type Tuning struct {
	// ActionDurations are the estimated durations per action type
	ActionDurations map[ActionType]time.Duration `yaml:"action_durations"`
	// HeartbeatStaleness is used when the policy sets no staleness bound
	HeartbeatStaleness time.Duration `yaml:"heartbeat_staleness"`
}

// DefaultTuning returns the stock durations
func DefaultTuning() Tuning {
	return Tuning{
		ActionDurations: map[ActionType]time.Duration{
			ActionNotify:  100 * time.Millisecond,
			ActionDemote:  2 * time.Second,
			ActionPromote: 5 * time.Second,
			ActionDNSFlip: 3 * time.Second,
			ActionVerify:  1 * time.Second,
			ActionRestart: 10 * time.Second,
		},
		HeartbeatStaleness: 5 * time.Second,
	}
}

// Duration returns the estimate for t, falling back to the default table
func (t Tuning) Duration(a ActionType) time.Duration {
	if d, ok := t.ActionDurations[a]; ok {
		return d
	}
	return DefaultTuning().ActionDurations[a]
}

// Staleness returns the policy bound or the tuning default
func (t Tuning) Staleness(p FailoverPolicy) time.Duration {
	if p.MaxHeartbeatStalenessS > 0 {
		return time.Duration(p.MaxHeartbeatStalenessS * float64(time.Second))
	}
	if t.HeartbeatStaleness > 0 {
		return t.HeartbeatStaleness
	}
	return DefaultTuning().HeartbeatStaleness
}

// Validate rejects negative durations and unknown action types
func (t Tuning) Validate() error {
	for a, d := range t.ActionDurations {
		if !a.Valid() {
			return &ConfigError{Field: "tuning.action_durations", Msg: fmt.Sprintf("unknown action type %q", a)}
		}
		if d < 0 {
			return &ConfigError{Field: "tuning.action_durations." + string(a), Msg: "must be >= 0"}
		}
	}
	if t.HeartbeatStaleness < 0 {
		return &ConfigError{Field: "tuning.heartbeat_staleness", Msg: "must be >= 0"}
	}
	return nil
}
