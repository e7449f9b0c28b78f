package risk

import (
	"sync"
	"time"
)

// ConsecutiveLossTracker counts consecutive losing trades and opens a
// cooldown window once the configured limit is hit (spec.md §4.8).
// Grounded on DailyLock's reset-on-rollover idiom in this same package;
// the teacher has no equivalent tracker.
type ConsecutiveLossTracker struct {
	mu              sync.Mutex
	consecutive     int
	maxLosses       int
	cooldownMinutes int
	cooldownUntil   time.Time
}

// NewConsecutiveLossTracker constructs a tracker with the given limit
// and cooldown window (spec.md §6: MAX_CONSECUTIVE_LOSSES,
// COOLDOWN_MINUTES).
func NewConsecutiveLossTracker(maxLosses, cooldownMinutes int) *ConsecutiveLossTracker {
	return &ConsecutiveLossTracker{maxLosses: maxLosses, cooldownMinutes: cooldownMinutes}
}

// RecordResult updates the streak: a loss (pnlPct < 0) increments the
// counter and may open a cooldown; a win resets it.
func (c *ConsecutiveLossTracker) RecordResult(now time.Time, pnlPct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pnlPct < 0 {
		c.consecutive++
		if c.consecutive >= c.maxLosses {
			c.cooldownUntil = now.Add(time.Duration(c.cooldownMinutes) * time.Minute)
		}
	} else {
		c.consecutive = 0
	}
}

// InCooldown reports whether a cooldown window is currently active.
func (c *ConsecutiveLossTracker) InCooldown(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.cooldownUntil.IsZero() && now.Before(c.cooldownUntil)
}

// Consecutive returns the current consecutive-loss count.
func (c *ConsecutiveLossTracker) Consecutive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutive
}

// Reset clears the streak and cooldown, used by the Engine's daily
// reset job (spec.md §4.9 step 4).
func (c *ConsecutiveLossTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive = 0
	c.cooldownUntil = time.Time{}
}
