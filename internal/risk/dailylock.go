package risk

import (
	"sync"
	"time"
)

// DailyLock is spec.md §3's DailyLock state: accumulates daily PnL and
// trade count, locking out further trading once a profit target, a max
// drawdown, or a max signal count is hit. Resets on date rollover.
// Grounded on the teacher's checkDailyReset/dailyPnL fields in
// internal/risk/manager.go, generalized from a single drawdown check
// into the full three-way lock of spec.md §4.8.
type DailyLock struct {
	mu sync.RWMutex

	currentDate  time.Time
	dailyPnLPct  float64
	dailyTrades  int
	wins         int
	losses       int
	isLocked     bool
	lockReason   string
	lockTime     time.Time

	profitTarget  float64
	maxDrawdown   float64
	maxSignals    int
}

// NewDailyLock constructs a DailyLock with the given limits (spec.md §6:
// DAILY_PROFIT_TARGET, MAX_DAILY_DRAWDOWN_PCT, MAX_SIGNALS_PER_DAY).
func NewDailyLock(now time.Time, profitTarget, maxDrawdownPct float64, maxSignals int) *DailyLock {
	return &DailyLock{
		currentDate:  now.Truncate(24 * time.Hour),
		profitTarget: profitTarget,
		maxDrawdown:  maxDrawdownPct,
		maxSignals:   maxSignals,
	}
}

func (d *DailyLock) rolloverIfNeeded(now time.Time) {
	today := now.Truncate(24 * time.Hour)
	if today.After(d.currentDate) {
		d.currentDate = today
		d.dailyPnLPct = 0
		d.dailyTrades = 0
		d.wins = 0
		d.losses = 0
		d.isLocked = false
		d.lockReason = ""
	}
}

// IsLocked reports whether trading is currently locked for the day.
func (d *DailyLock) IsLocked(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverIfNeeded(now)
	return d.isLocked
}

// RecordTrade folds a closed trade's PnL percentage into the day's
// totals and re-evaluates the lock condition.
func (d *DailyLock) RecordTrade(now time.Time, pnlPct float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverIfNeeded(now)

	d.dailyPnLPct += pnlPct
	d.dailyTrades++
	if pnlPct >= 0 {
		d.wins++
	} else {
		d.losses++
	}

	switch {
	case d.dailyPnLPct >= d.profitTarget:
		d.lock(now, "daily profit target reached")
	case d.dailyPnLPct <= -d.maxDrawdown:
		d.lock(now, "daily drawdown limit reached")
	case d.maxSignals > 0 && d.dailyTrades >= d.maxSignals:
		d.lock(now, "max daily signals reached")
	}
}

func (d *DailyLock) lock(now time.Time, reason string) {
	if d.isLocked {
		return
	}
	d.isLocked = true
	d.lockReason = reason
	d.lockTime = now
}

// DailyLockSnapshot is a read-only copy of the lock's current state.
type DailyLockSnapshot struct {
	DailyPnLPct float64
	DailyTrades int
	Wins        int
	Losses      int
	IsLocked    bool
	LockReason  string
}

// Snapshot returns the lock's current state without exposing the lock
// itself for mutation (spec.md §5's "external read-only accessors
// return copies").
func (d *DailyLock) Snapshot(now time.Time) DailyLockSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverIfNeeded(now)
	return DailyLockSnapshot{
		DailyPnLPct: d.dailyPnLPct,
		DailyTrades: d.dailyTrades,
		Wins:        d.wins,
		Losses:      d.losses,
		IsLocked:    d.isLocked,
		LockReason:  d.lockReason,
	}
}

// Reset clears the lock unconditionally; called by the Engine's daily
// reset job (spec.md §4.9 step 4).
func (d *DailyLock) Reset(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentDate = now.Truncate(24 * time.Hour)
	d.dailyPnLPct = 0
	d.dailyTrades = 0
	d.wins = 0
	d.losses = 0
	d.isLocked = false
	d.lockReason = ""
}
