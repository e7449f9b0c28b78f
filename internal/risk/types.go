// Package risk implements the RiskManager of spec.md §4.8: position
// sizing, the daily profit/loss lock, drawdown control, consecutive-loss
// cooldown, and active-trade lifecycle management. Adapted in place from
// the teacher's internal/risk/manager.go and trailing_stop.go: their
// sync.RWMutex-guarded struct shape and dispatch-by-config-method
// position sizer are kept, but the contracts themselves are replaced
// with the spec's DailyLock/Drawdown/ConsecutiveLossTracker/ActiveTrade
// state machine, which the teacher's simpler "daily PnL + max positions"
// gate did not have.
package risk

import (
	"time"

	"futures-signal-engine/internal/signal"
)

// LifecycleAction is one of the trade lifecycle transitions of
// spec.md §4.8.
type LifecycleAction string

const (
	PartialExit LifecycleAction = "PARTIAL_EXIT"
	BreakEven   LifecycleAction = "BREAK_EVEN"
	SLHit       LifecycleAction = "SL_HIT"
	TPHit       LifecycleAction = "TP_HIT"
	Timeout     LifecycleAction = "TIMEOUT"
)

// LifecycleEvent is emitted by Update/CheckTimeouts when an active
// trade crosses one of its lifecycle boundaries.
type LifecycleEvent struct {
	Symbol    string
	Action    LifecycleAction
	Price     float64
	RMultiple float64
}

// TradeState is one state in ActiveTrade's lifecycle (spec.md §3).
type TradeState string

const (
	StatePending     TradeState = "PENDING"
	StateOpen        TradeState = "OPEN"
	StatePartialExit TradeState = "PARTIAL_EXIT"
	StateBreakEven   TradeState = "BREAK_EVEN"
	StateClosedTP    TradeState = "CLOSED_TP"
	StateClosedSL    TradeState = "CLOSED_SL"
	StateClosedOut   TradeState = "CLOSED_TIMEOUT"
)

// ActiveTrade is spec.md §3's ActiveTrade: a Signal plus lifecycle
// bookkeeping. Only RiskManager mutates it; StopLoss may only move in
// the trade's favor.
type ActiveTrade struct {
	Signal            signal.Signal
	State             TradeState
	OpenedAt          time.Time
	MaxHoldingMinutes int
	PartialExitDone   bool
	BETriggered       bool
	StopLoss          float64
}

// rMultiple returns the current unrealized profit expressed in units of
// the trade's original stop distance.
func rMultiple(t *ActiveTrade, currentPrice float64) float64 {
	entry := t.Signal.Entry
	stopDist := entry - t.Signal.StopLoss
	if stopDist < 0 {
		stopDist = -stopDist
	}
	if stopDist == 0 {
		return 0
	}
	var profit float64
	if t.Signal.Direction == signal.Long {
		profit = currentPrice - entry
	} else {
		profit = entry - currentPrice
	}
	return profit / stopDist
}
