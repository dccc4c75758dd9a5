package ha

import (
	"sync"
	"time"
)

// Clock is the time source of the engine
type Clock interface {
	Now() time.Time
	// Advance moves simulated time forward. Real clocks ignore it.
	Advance(d time.Duration)
}

// RealClock reads the wall clock
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

func (RealClock) Advance(time.Duration) {}

// SimulationEpoch is the fixed start time of every simulation run
var SimulationEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualClock only moves when Advance or Set is called
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock starting at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}
