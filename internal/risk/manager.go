package risk

import (
	"fmt"
	"sync"
	"time"

	"futures-signal-engine/internal/clock"
	"futures-signal-engine/internal/logging"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/signal"
)

// Config bundles every tunable RiskManager needs (spec.md §6).
type Config struct {
	AccountSize          float64
	MaxConcurrent        int
	DailyProfitTargetPct float64
	MaxDailyDrawdownPct  float64
	MaxSignalsPerDay     int
	MaxConsecutiveLosses int
	CooldownMinutes      int
	BreakEvenAtR         float64
	PartialExitAtR       float64
	TrendingMaxHoldingMin int
	ChoppyMaxHoldingMin   int
	Sizing               PositionSizeConfig
}

// DefaultConfig returns spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		AccountSize:           100000,
		MaxConcurrent:         1,
		DailyProfitTargetPct:  5,
		MaxDailyDrawdownPct:   2.0,
		MaxSignalsPerDay:      10,
		MaxConsecutiveLosses:  2,
		CooldownMinutes:       15,
		BreakEvenAtR:          0.5,
		PartialExitAtR:        1.0,
		TrendingMaxHoldingMin: 90,
		ChoppyMaxHoldingMin:   60,
		Sizing: PositionSizeConfig{
			RiskPerTradePct: 1.0,
			MaxPositionPct:  0.2,
			MinPosition:     10,
			MaxATRPct:       3.0,
			Leverage:        15,
		},
	}
}

// Manager is spec.md §4.8's RiskManager: the sole owner of the
// active-trades map, DailyLock, DrawdownController, and
// ConsecutiveLossTracker. Grounded on the teacher's
// sync.RWMutex-guarded single-struct shape in the deleted
// internal/risk/manager.go, generalized to the spec's richer contract.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	log    *logging.Logger

	dailyLock    *DailyLock
	drawdown     *DrawdownController
	lossTracker  *ConsecutiveLossTracker
	sizer        *PositionSizer
	activeTrades map[string]*ActiveTrade
}

// NewManager constructs a Manager. clk is the injected Clock used for
// every time-dependent decision (spec.md §9 Design Notes).
func NewManager(cfg Config, clk clock.Clock, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	now := clk.Now()
	return &Manager{
		cfg:          cfg,
		clock:        clk,
		log:          log.WithComponent("risk_manager"),
		dailyLock:    NewDailyLock(now, cfg.DailyProfitTargetPct, cfg.MaxDailyDrawdownPct, cfg.MaxSignalsPerDay),
		drawdown:     NewDrawdownController(cfg.AccountSize, cfg.MaxDailyDrawdownPct),
		lossTracker:  NewConsecutiveLossTracker(cfg.MaxConsecutiveLosses, cfg.CooldownMinutes),
		sizer:        NewPositionSizer(cfg.Sizing),
		activeTrades: make(map[string]*ActiveTrade),
	}
}

// CanTrade implements spec.md §4.8's can_trade.
func (m *Manager) CanTrade(symbol string, marketType regime.MarketType) (bool, string) {
	now := m.clock.Now()
	if m.dailyLock.IsLocked(now) {
		return false, "daily lock active"
	}
	if m.drawdown.MaxReached() {
		return false, "max drawdown reached"
	}
	if m.lossTracker.Consecutive() >= m.cfg.MaxConsecutiveLosses && m.lossTracker.InCooldown(now) {
		return false, "consecutive loss cooldown active"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.activeTrades) >= m.cfg.MaxConcurrent {
		return false, "max concurrent trades reached"
	}
	if _, exists := m.activeTrades[symbol]; exists {
		return false, "symbol already has an open trade"
	}
	return true, ""
}

// Approve implements spec.md §4.8's approve: it re-checks can_trade,
// sizes the position, and — on acceptance — stores an ActiveTrade.
func (m *Manager) Approve(sig signal.Signal, accountSize, atrPct float64, fearIndex int, marketType regime.MarketType) (*ActiveTrade, string) {
	if ok, reason := m.CanTrade(sig.Symbol, marketType); !ok {
		return nil, reason
	}

	sizing := m.sizer.Calculate(accountSize, sig.Entry, sig.StopLoss, atrPct, fearIndex, marketType)
	if sizing.Blocked {
		return nil, sizing.Reason
	}

	if mult := m.drawdown.SizeMultiplier(); mult != 1.0 {
		sizing.PositionUSD *= mult
		sizing.Contracts *= mult
		sizing.RiskUSD *= mult
	}

	sig.Position = signal.PositionSize{
		PositionUSD:     sizing.PositionUSD,
		Contracts:       sizing.Contracts,
		RiskUSD:         sizing.RiskUSD,
		RiskPct:         sizing.RiskPct,
		StopDistancePct: sizing.StopDistancePct,
		Leverage:        sizing.Leverage,
	}

	maxHolding := m.cfg.ChoppyMaxHoldingMin
	if marketType == regime.MarketTrending {
		maxHolding = m.cfg.TrendingMaxHoldingMin
	}

	trade := &ActiveTrade{
		Signal:            sig,
		State:             StateOpen,
		OpenedAt:          m.clock.Now(),
		MaxHoldingMinutes: maxHolding,
		StopLoss:          sig.StopLoss,
	}

	m.mu.Lock()
	m.activeTrades[sig.Symbol] = trade
	m.mu.Unlock()

	m.log.WithField("symbol", sig.Symbol).WithField("direction", string(sig.Direction)).Info("trade approved")
	return trade, ""
}

// Update implements spec.md §4.8's update: called on every
// primary-timeframe tick for an open symbol, it advances the stop on
// favorable moves and emits every lifecycle event the tick crosses.
// Per spec.md §8 scenario 4, a single tick that crosses both the
// partial-exit and break-even R-multiple thresholds at once emits both
// events (partial-exit first, then break-even), not just the first one
// checked — so the return is a slice, not a single optional event.
func (m *Manager) Update(symbol string, currentPrice float64) []LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.activeTrades[symbol]
	if !ok {
		return nil
	}

	r := rMultiple(trade, currentPrice)

	if trade.Signal.Direction == signal.Long && currentPrice <= trade.StopLoss {
		return []LifecycleEvent{{Symbol: symbol, Action: SLHit, Price: currentPrice, RMultiple: r}}
	}
	if trade.Signal.Direction == signal.Short && currentPrice >= trade.StopLoss {
		return []LifecycleEvent{{Symbol: symbol, Action: SLHit, Price: currentPrice, RMultiple: r}}
	}
	if trade.Signal.Direction == signal.Long && currentPrice >= trade.Signal.TakeProfit {
		return []LifecycleEvent{{Symbol: symbol, Action: TPHit, Price: currentPrice, RMultiple: r}}
	}
	if trade.Signal.Direction == signal.Short && currentPrice <= trade.Signal.TakeProfit {
		return []LifecycleEvent{{Symbol: symbol, Action: TPHit, Price: currentPrice, RMultiple: r}}
	}

	var events []LifecycleEvent

	if !trade.PartialExitDone && r >= m.cfg.PartialExitAtR {
		trade.PartialExitDone = true
		trade.State = StatePartialExit
		events = append(events, LifecycleEvent{Symbol: symbol, Action: PartialExit, Price: currentPrice, RMultiple: r})
	}

	if !trade.BETriggered && r >= m.cfg.BreakEvenAtR {
		trade.BETriggered = true
		trade.State = StateBreakEven
		if trade.Signal.Direction == signal.Long && trade.Signal.Entry > trade.StopLoss {
			trade.StopLoss = trade.Signal.Entry
		}
		if trade.Signal.Direction == signal.Short && trade.Signal.Entry < trade.StopLoss {
			trade.StopLoss = trade.Signal.Entry
		}
		events = append(events, LifecycleEvent{Symbol: symbol, Action: BreakEven, Price: currentPrice, RMultiple: r})
	}

	return events
}

// Close implements spec.md §4.8's close: removes the trade and folds
// its result into DailyLock, DrawdownController, and
// ConsecutiveLossTracker.
func (m *Manager) Close(symbol string, exitPrice float64, reason string) (float64, error) {
	m.mu.Lock()
	trade, ok := m.activeTrades[symbol]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("risk: no active trade for %s", symbol)
	}
	delete(m.activeTrades, symbol)
	m.mu.Unlock()

	entry := trade.Signal.Entry
	var pnlPct float64
	if entry != 0 {
		if trade.Signal.Direction == signal.Long {
			pnlPct = (exitPrice - entry) / entry * 100
		} else {
			pnlPct = (entry - exitPrice) / entry * 100
		}
	}

	now := m.clock.Now()
	m.dailyLock.RecordTrade(now, pnlPct)
	m.lossTracker.RecordResult(now, pnlPct)
	newEquity := m.cfg.AccountSize * (1 + m.dailyLock.Snapshot(now).DailyPnLPct/100)
	m.drawdown.Update(newEquity)

	m.log.WithField("symbol", symbol).WithField("pnl_pct", pnlPct).WithField("reason", reason).Info("trade closed")
	return pnlPct, nil
}

// CheckTimeouts closes any active trade whose age exceeds its
// max_holding_minutes (spec.md §4.8).
func (m *Manager) CheckTimeouts(priceFor func(symbol string) (float64, bool)) []LifecycleEvent {
	now := m.clock.Now()
	m.mu.Lock()
	var expired []string
	for symbol, trade := range m.activeTrades {
		if now.Sub(trade.OpenedAt) > time.Duration(trade.MaxHoldingMinutes)*time.Minute {
			expired = append(expired, symbol)
		}
	}
	m.mu.Unlock()

	var events []LifecycleEvent
	for _, symbol := range expired {
		price, ok := priceFor(symbol)
		if !ok {
			continue
		}
		if _, err := m.Close(symbol, price, "timeout"); err == nil {
			events = append(events, LifecycleEvent{Symbol: symbol, Action: Timeout, Price: price})
		}
	}
	return events
}

// ActiveTradeCount returns the number of currently open trades.
func (m *Manager) ActiveTradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeTrades)
}

// HasOpenTrade reports whether symbol currently has an active trade.
func (m *Manager) HasOpenTrade(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.activeTrades[symbol]
	return ok
}

// Trade returns a copy of the active trade for symbol, if any, so
// callers (the journal, in particular) can capture its full signal
// context before it is closed.
func (m *Manager) Trade(symbol string) (ActiveTrade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.activeTrades[symbol]
	if !ok {
		return ActiveTrade{}, false
	}
	return *trade, true
}

// DailyReset runs the Engine's daily reset job (spec.md §4.9 step 4).
func (m *Manager) DailyReset() {
	now := m.clock.Now()
	m.dailyLock.Reset(now)
	m.lossTracker.Reset()
	m.drawdown.ResetDaily(m.cfg.AccountSize)
}

// DailyLockStatus exposes the lock's state without allowing mutation.
func (m *Manager) DailyLockStatus() DailyLockSnapshot {
	return m.dailyLock.Snapshot(m.clock.Now())
}
