package risk

import (
	"testing"
	"time"

	"futures-signal-engine/internal/clock"
	"futures-signal-engine/internal/filters"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/signal"
)

func testSignal(symbol string, entry, stop, target float64) signal.Signal {
	return signal.Signal{
		Symbol:     symbol,
		Direction:  signal.Long,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: target,
		RRRatio:    (target - entry) / (entry - stop),
		Score:      75,
		Grade:      filters.GradeB,
		MarketType: regime.MarketTrending,
	}
}

func TestPositionSizerIsPureAndBoundaryChecked(t *testing.T) {
	sizer := NewPositionSizer(PositionSizeConfig{
		RiskPerTradePct: 1.0,
		MaxPositionPct:  0.2,
		MinPosition:     10,
		MaxATRPct:       3.0,
		Leverage:        15,
	})

	// Same inputs must yield identical results (spec.md §8: "pure
	// function of its inputs").
	a := sizer.Calculate(100000, 100, 98, 1.0, 50, regime.MarketTrending)
	b := sizer.Calculate(100000, 100, 98, 1.0, 50, regime.MarketTrending)
	if a != b {
		t.Fatalf("Calculate is not pure: %+v != %+v", a, b)
	}

	// entry == stop is always blocked.
	if r := sizer.Calculate(100000, 100, 100, 1.0, 50, regime.MarketTrending); !r.Blocked {
		t.Fatal("expected block when entry equals stop")
	}

	// Stop distance below 0.1% is blocked; at/above passes.
	if r := sizer.Calculate(100000, 100, 99.95, 1.0, 50, regime.MarketTrending); !r.Blocked {
		t.Fatalf("expected block for stop distance < 0.1%%, got %+v", r)
	}
	if r := sizer.Calculate(100000, 100, 99.9, 1.0, 50, regime.MarketTrending); r.Blocked {
		t.Fatalf("expected pass for stop distance == 0.1%%, got %+v", r)
	}

	// Stop distance above 5% is blocked; at/below passes.
	if r := sizer.Calculate(100000, 100, 94.9, 1.0, 50, regime.MarketTrending); !r.Blocked {
		t.Fatalf("expected block for stop distance > 5%%, got %+v", r)
	}
	if r := sizer.Calculate(100000, 100, 95, 1.0, 50, regime.MarketTrending); r.Blocked {
		t.Fatalf("expected pass for stop distance == 5%%, got %+v", r)
	}

	// ATR% above MaxATRPct blocks.
	if r := sizer.Calculate(100000, 100, 98, 3.1, 50, regime.MarketTrending); !r.Blocked {
		t.Fatal("expected block when atr% exceeds MaxATRPct")
	}

	// Position is capped at MaxPositionPct*account and floored at MinPosition.
	r := sizer.Calculate(100000, 100, 99.95-0.05, 0.1, 50, regime.MarketTrending)
	if r.Blocked {
		t.Fatalf("unexpected block: %+v", r)
	}
	if r.PositionUSD != 20000 {
		t.Fatalf("expected position capped at 0.2*100000=20000, got %v", r.PositionUSD)
	}
	// account 100: risk 1 / 5% stop = 20, * fear 0.5 * high_vol 0.5 = 5 -> floored to 10.
	floored := sizer.Calculate(100, 100, 95, 1.0, 10, regime.MarketHighVol)
	if floored.Blocked || floored.PositionUSD != 10 {
		t.Fatalf("expected position floored at MinPosition (10), got %+v", floored)
	}
}

func TestDailyLockLocksAndResetsOnRollover(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	lock := NewDailyLock(day1, 5, 2.0, 10)

	lock.RecordTrade(day1, -1.1)
	lock.RecordTrade(day1.Add(time.Hour), -1.1)
	if !lock.IsLocked(day1.Add(2 * time.Hour)) {
		t.Fatal("expected lock after cumulative daily drawdown breach")
	}
	snap := lock.Snapshot(day1.Add(2 * time.Hour))
	if snap.DailyTrades != 2 || snap.Losses != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	day2 := day1.Add(24 * time.Hour)
	if lock.IsLocked(day2) {
		t.Fatal("expected lock to clear on date rollover")
	}
	snap2 := lock.Snapshot(day2)
	if snap2.DailyTrades != 0 || snap2.DailyPnLPct != 0 {
		t.Fatalf("expected daily counters reset after rollover, got %+v", snap2)
	}
}

func TestDailyLockProfitTargetAndMaxSignals(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	profitLock := NewDailyLock(now, 5, 2.0, 10)
	profitLock.RecordTrade(now, 5.5)
	if !profitLock.IsLocked(now) {
		t.Fatal("expected lock once daily profit target is reached")
	}

	signalsLock := NewDailyLock(now, 50, 50, 2)
	signalsLock.RecordTrade(now, 0.1)
	signalsLock.RecordTrade(now, 0.1)
	if !signalsLock.IsLocked(now) {
		t.Fatal("expected lock once max daily signal count is reached")
	}
}

func TestDrawdownControllerLevelsAndMultipliers(t *testing.T) {
	d := NewDrawdownController(100000, 2.0)

	if lvl := d.Level(); lvl != DrawdownNone {
		t.Fatalf("expected NONE at peak equity, got %s", lvl)
	}

	d.Update(99500) // 0.5% drawdown -> LOW (> 0, < 0.4*2.0)
	if lvl := d.Level(); lvl != DrawdownLow {
		t.Fatalf("expected LOW at 0.5%% drawdown, got %s", lvl)
	}

	d2 := NewDrawdownController(100000, 2.0)
	d2.Update(99200) // 0.8% >= 0.4*2.0=0.8 -> MODERATE
	if lvl := d2.Level(); lvl != DrawdownModerate {
		t.Fatalf("expected MODERATE at exactly 0.4*max drawdown, got %s", lvl)
	}

	d3 := NewDrawdownController(100000, 2.0)
	d3.Update(97900) // 2.1% drawdown -> CRITICAL
	if !d3.MaxReached() {
		t.Fatal("expected MaxReached once drawdown exceeds the configured max")
	}
	if mult := d3.SizeMultiplier(); mult != 0 {
		t.Fatalf("expected a 0 size multiplier at CRITICAL, got %v", mult)
	}

	d3.ResetDaily(100000)
	if d3.MaxReached() {
		t.Fatal("expected drawdown to clear after ResetDaily")
	}
}

func TestConsecutiveLossTrackerCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tracker := NewConsecutiveLossTracker(2, 15)

	tracker.RecordResult(now, -1.1)
	if tracker.InCooldown(now) {
		t.Fatal("expected no cooldown after a single loss")
	}
	tracker.RecordResult(now, -1.1)
	if tracker.Consecutive() != 2 {
		t.Fatalf("expected consecutive count of 2, got %d", tracker.Consecutive())
	}
	if !tracker.InCooldown(now) {
		t.Fatal("expected cooldown active immediately after hitting max consecutive losses")
	}
	if tracker.InCooldown(now.Add(16 * time.Minute)) {
		t.Fatal("expected cooldown to have expired after COOLDOWN_MINUTES")
	}

	tracker.RecordResult(now, 0.5)
	if tracker.Consecutive() != 0 {
		t.Fatal("expected a win to reset the consecutive-loss streak")
	}
}

func TestManagerCanTradeBlocksOnConsecutiveLossCooldown(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFrozen(start)
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 2
	cfg.CooldownMinutes = 15
	// Two -2% losses must not trip the daily lock or the drawdown limit
	// first, so the cooldown is the only rule left to block.
	cfg.MaxDailyDrawdownPct = 10
	mgr := NewManager(cfg, clk, nil)

	sig1 := testSignal("ETHUSDT", 100, 98, 106)
	trade1, reason := mgr.Approve(sig1, 100000, 1.0, 50, regime.MarketTrending)
	if trade1 == nil {
		t.Fatalf("Approve rejected first trade: %s", reason)
	}
	if _, err := mgr.Close("ETHUSDT", 98, "SL_HIT"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sig2 := testSignal("ETHUSDT", 100, 98, 106)
	trade2, reason := mgr.Approve(sig2, 100000, 1.0, 50, regime.MarketTrending)
	if trade2 == nil {
		t.Fatalf("Approve rejected second trade: %s", reason)
	}
	if _, err := mgr.Close("ETHUSDT", 98, "SL_HIT"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sig3 := testSignal("ETHUSDT", 100, 98, 106)
	if trade3, reason := mgr.Approve(sig3, 100000, 1.0, 50, regime.MarketTrending); trade3 != nil {
		t.Fatalf("expected third signal to be blocked by consecutive-loss cooldown, got %+v", trade3)
	} else if reason != "consecutive loss cooldown active" {
		t.Fatalf("expected the consecutive-loss cooldown rejection reason, got %q", reason)
	}
}

func TestManagerApproveScalesPositionSizeByDrawdownMultiplierNotLeverage(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFrozen(start)
	cfg := DefaultConfig()
	cfg.MaxDailyDrawdownPct = 2.0
	mgr := NewManager(cfg, clk, nil)

	baseline := mgr.sizer.Calculate(cfg.AccountSize, 100, 98, 1.0, 50, regime.MarketTrending)

	// Drive the controller to MODERATE (>= 0.4*max drawdown -> 0.6x size).
	mgr.drawdown.Update(cfg.AccountSize * 0.992)
	if lvl := mgr.drawdown.Level(); lvl != DrawdownModerate {
		t.Fatalf("expected MODERATE drawdown for this setup, got %s", lvl)
	}

	sig := testSignal("ETHUSDT", 100, 98, 106)
	trade, reason := mgr.Approve(sig, cfg.AccountSize, 1.0, 50, regime.MarketTrending)
	if trade == nil {
		t.Fatalf("Approve rejected trade: %s", reason)
	}

	wantPositionUSD := baseline.PositionUSD * 0.6
	if got := trade.Signal.Position.PositionUSD; got != wantPositionUSD {
		t.Fatalf("expected PositionUSD scaled to %v by the MODERATE multiplier, got %v", wantPositionUSD, got)
	}
	wantContracts := baseline.Contracts * 0.6
	if got := trade.Signal.Position.Contracts; got != wantContracts {
		t.Fatalf("expected Contracts scaled to %v by the MODERATE multiplier, got %v", wantContracts, got)
	}
	if got := trade.Signal.Position.Leverage; got != baseline.Leverage {
		t.Fatalf("expected Leverage to remain the sizer's unscaled value %v, got %v", baseline.Leverage, got)
	}
}

func TestManagerUpdateEmitsPartialExitThenBreakEvenOnSameTick(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFrozen(start)
	cfg := DefaultConfig()
	cfg.BreakEvenAtR = 0.5
	cfg.PartialExitAtR = 1.0
	mgr := NewManager(cfg, clk, nil)

	sig := testSignal("ETHUSDT", 100, 98, 106)
	if trade, reason := mgr.Approve(sig, 100000, 1.0, 50, regime.MarketTrending); trade == nil {
		t.Fatalf("Approve rejected test trade: %s", reason)
	}

	// price=102 -> R = (102-100)/(100-98) = 1.0, crossing both thresholds
	// in the same tick (spec.md §8 scenario 4).
	events := mgr.Update("ETHUSDT", 102)
	if len(events) != 2 {
		t.Fatalf("expected 2 lifecycle events on the same tick, got %d: %+v", len(events), events)
	}
	if events[0].Action != PartialExit {
		t.Fatalf("expected PARTIAL_EXIT first, got %s", events[0].Action)
	}
	if events[1].Action != BreakEven {
		t.Fatalf("expected BREAK_EVEN second, got %s", events[1].Action)
	}

	// Stop must have advanced to entry (100), never backward.
	trade, ok := mgr.Trade("ETHUSDT")
	if !ok {
		t.Fatal("expected trade still open after partial-exit/break-even")
	}
	if trade.StopLoss != 100 {
		t.Fatalf("expected stop loss moved to entry (100), got %v", trade.StopLoss)
	}

	// A dip back to break-even must now close at 0%% PnL (spec.md §8
	// scenario 4: "Subsequent dip to 100.0 -> SL_HIT, pnl 0%%").
	events = mgr.Update("ETHUSDT", 100.0)
	if len(events) != 1 || events[0].Action != SLHit {
		t.Fatalf("expected a single SL_HIT after dipping to the break-even stop, got %+v", events)
	}
	pnlPct, err := mgr.Close("ETHUSDT", 100.0, string(SLHit))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pnlPct != 0 {
		t.Fatalf("expected 0%% pnl on a break-even stop-out, got %v", pnlPct)
	}
}

func TestManagerStopNeverMovesAgainstTradeDirection(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFrozen(start)
	mgr := NewManager(DefaultConfig(), clk, nil)

	sig := testSignal("ETHUSDT", 100, 98, 106)
	if trade, reason := mgr.Approve(sig, 100000, 1.0, 50, regime.MarketTrending); trade == nil {
		t.Fatalf("Approve rejected test trade: %s", reason)
	}

	mgr.Update("ETHUSDT", 102) // triggers break-even, stop -> 100
	trade, _ := mgr.Trade("ETHUSDT")
	firstStop := trade.StopLoss

	// A pullback that doesn't cross any further threshold must not move
	// the stop backward toward the original 98.
	mgr.Update("ETHUSDT", 100.5)
	trade, _ = mgr.Trade("ETHUSDT")
	if trade.StopLoss < firstStop {
		t.Fatalf("stop moved against trade favor: %v -> %v", firstStop, trade.StopLoss)
	}
}

func TestManagerCheckTimeoutsClosesExpiredTrades(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFrozen(start)
	cfg := DefaultConfig()
	cfg.TrendingMaxHoldingMin = 90
	mgr := NewManager(cfg, clk, nil)

	sig := testSignal("ETHUSDT", 100, 98, 106)
	if trade, reason := mgr.Approve(sig, 100000, 1.0, 50, regime.MarketTrending); trade == nil {
		t.Fatalf("Approve rejected test trade: %s", reason)
	}

	clk.Advance(91 * time.Minute)
	events := mgr.CheckTimeouts(func(symbol string) (float64, bool) { return 101, true })
	if len(events) != 1 || events[0].Action != Timeout {
		t.Fatalf("expected a single TIMEOUT event, got %+v", events)
	}
	if mgr.HasOpenTrade("ETHUSDT") {
		t.Fatal("expected the timed-out trade to be closed")
	}
}
