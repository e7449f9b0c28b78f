// Package engine implements the control loop of spec.md §4.9: it owns
// every other component, drives the startup sequence, evaluates each
// closed candle through Structure -> Regime -> FilterOrchestrator ->
// SignalGenerator -> RiskManager, advances open trades on every tick,
// and runs the daily reset job. Grounded on the teacher's
// cmd/bot/main.go and internal/scanner wiring for the "single struct
// owns every component, one goroutine per external feed, shared state
// behind an injected Clock" shape, generalized from the teacher's
// HTTP-triggered scan cycle to this engine's candle-close-triggered one.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/clock"
	"futures-signal-engine/internal/datacache"
	"futures-signal-engine/internal/exchange"
	"futures-signal-engine/internal/filters"
	"futures-signal-engine/internal/indicators"
	"futures-signal-engine/internal/journal"
	"futures-signal-engine/internal/logging"
	"futures-signal-engine/internal/metrics"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/risk"
	"futures-signal-engine/internal/signal"
	"futures-signal-engine/internal/structure"
)

// Config bundles the symbols and timing parameters the Engine needs
// beyond what risk.Config and the component constructors already take.
type Config struct {
	BTCSymbol           string
	Symbols             []string
	AccountSize         float64
	BTCRegimeRefreshMin time.Duration
	TickInterval        time.Duration
	NotifierQueueSize   int
}

// DefaultConfig returns spec.md §4.9's stated defaults: a 60-second BTC
// regime refresh interval and a 5-second tick.
func DefaultConfig() Config {
	return Config{
		BTCRegimeRefreshMin: 60 * time.Second,
		TickInterval:        5 * time.Second,
		NotifierQueueSize:   256,
	}
}

// Engine is spec.md §4.9's control loop. It implements
// feed.CandleCloseSink so the FeedManager can deliver closed candles
// without the two packages importing each other.
type Engine struct {
	cfg Config

	cache        *candle.Cache
	rest         exchange.RESTClient
	dcache       *datacache.Cache
	orchestrator *filters.Orchestrator
	generator    *signal.Generator
	riskMgr      *risk.Manager
	journal      *journal.Journal
	metrics      *metrics.Collector
	notifier     *queuedNotifier
	clk          clock.Clock
	log          *logging.Logger

	mu               sync.Mutex
	btcRegime        regime.Result
	btcMarketType    regime.MarketType
	lastBTCRefresh   time.Time
	lastResetDate    string
	lastCandleClose  time.Time

	degraded sync.Map // map[string]struct{} populated with "ws" when feed is degraded

	reconnects atomic.Int64
}

// HealthStatus is the payload the engine exposes for an external health
// check (spec.md §5: "the HTTP surface remains up" answering health
// during a degraded feed). Grounded on
// original_source/monitoring/health_check.py, a feature the spec.md
// distillation dropped but the original implementation has (spec.md
// §10).
type HealthStatus struct {
	Healthy          bool
	Degraded         bool
	LastCandleAgeSec float64
	FeedReconnects   int64
}

// Health reports the engine's current health (spec.md §10 supplement).
// It never blocks: it only reads already-maintained counters/timestamps.
func (e *Engine) Health() HealthStatus {
	e.mu.Lock()
	last := e.lastCandleClose
	e.mu.Unlock()

	age := 0.0
	if !last.IsZero() {
		age = e.clk.Now().Sub(last).Seconds()
	}
	degraded := e.Degraded()
	return HealthStatus{
		Healthy:          !degraded,
		Degraded:         degraded,
		LastCandleAgeSec: age,
		FeedReconnects:   e.reconnects.Load(),
	}
}

// RecordReconnect increments the feed-reconnect counter Health reports.
// The FeedManager's onFatal callback (wired in main) calls this before
// invoking SetDegraded.
func (e *Engine) RecordReconnect() {
	e.reconnects.Add(1)
}

// New constructs an Engine. notifier may be nil, in which case outbound
// events are silently dropped (useful for tests and for a first
// deployment with no downstream notification channel wired yet).
func New(
	cfg Config,
	cache *candle.Cache,
	rest exchange.RESTClient,
	dcache *datacache.Cache,
	orchestrator *filters.Orchestrator,
	generator *signal.Generator,
	riskMgr *risk.Manager,
	j *journal.Journal,
	coll *metrics.Collector,
	notifier Notifier,
	clk clock.Clock,
) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	var qn *queuedNotifier
	if notifier != nil {
		qn = newQueuedNotifier(notifier, cfg.NotifierQueueSize)
	}
	return &Engine{
		cfg:          cfg,
		cache:        cache,
		rest:         rest,
		dcache:       dcache,
		orchestrator: orchestrator,
		generator:    generator,
		riskMgr:      riskMgr,
		journal:      j,
		metrics:      coll,
		notifier:     qn,
		clk:          clk,
		log:          logging.WithComponent("engine"),
	}
}

// Bootstrap runs spec.md §4.9 step 1: REST backfill is the caller's
// responsibility via feed.Manager.Seed before Start is invoked; here we
// only verify the btc_data_ready latch and compute the first BTC regime
// read so the engine never evaluates a candle close against a zero
// regime.
func (e *Engine) Bootstrap(btcReady bool) error {
	if !btcReady {
		return fmt.Errorf("engine: btc_data_ready latch not set, refusing to start")
	}
	e.refreshBTCRegime(true)
	e.log.Info("engine bootstrap complete")
	return nil
}

// SetDegraded flags the engine's health as degraded (spec.md §4.9 step
// 5: set when FeedManager exhausts MAX_RETRIES) or clears it.
func (e *Engine) SetDegraded(source string, degraded bool) {
	if degraded {
		e.degraded.Store(source, struct{}{})
	} else {
		e.degraded.Delete(source)
	}
	isDegraded := false
	e.degraded.Range(func(_, _ interface{}) bool { isDegraded = true; return false })
	if e.metrics != nil {
		if isDegraded {
			e.metrics.EngineDegraded.Set(1)
		} else {
			e.metrics.EngineDegraded.Set(0)
		}
	}
	if degraded {
		e.emitAlert(AlertCritical, "feed degraded", fmt.Sprintf("%s exhausted reconnect attempts", source))
	}
}

// Degraded reports the engine's current health state.
func (e *Engine) Degraded() bool {
	isDegraded := false
	e.degraded.Range(func(_, _ interface{}) bool { isDegraded = true; return false })
	return isDegraded
}

func (e *Engine) refreshBTCRegime(force bool) {
	e.mu.Lock()
	elapsed := e.clk.Now().Sub(e.lastBTCRefresh)
	needsRefresh := force || elapsed >= e.cfg.BTCRegimeRefreshMin
	e.mu.Unlock()
	if !needsRefresh {
		return
	}

	c15m := e.cache.GetSeries(e.cfg.BTCSymbol, candle.TF15m, 0)
	c1h := e.cache.GetSeries(e.cfg.BTCSymbol, candle.TF1h, 0)
	c4h := e.cache.GetSeries(e.cfg.BTCSymbol, candle.TF4h, 0)

	res := regime.DetectBTCRegime(c15m, c1h, c4h, regime.DefaultThresholds())
	mt := regime.DetectMarketType(c15m, c1h)

	e.mu.Lock()
	e.btcRegime = res
	e.btcMarketType = mt
	e.lastBTCRefresh = e.clk.Now()
	e.mu.Unlock()
}

func (e *Engine) currentBTCRegime() (regime.Result, regime.MarketType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.btcRegime, e.btcMarketType
}

// OnCandleClose implements feed.CandleCloseSink. Only the primary 15m
// timeframe drives evaluation (spec.md §4.9 step 2); other timeframes
// only update the cache, which OnCandleClose's callers already did
// before invoking this sink.
func (e *Engine) OnCandleClose(symbol string, tf candle.Timeframe, series []candle.Candle) {
	if symbol == e.cfg.BTCSymbol || tf != candle.TF15m {
		e.refreshBTCRegime(symbol == e.cfg.BTCSymbol)
	}
	if tf != candle.TF15m {
		return
	}
	e.mu.Lock()
	e.lastCandleClose = e.clk.Now()
	e.mu.Unlock()
	if len(series) > 0 {
		e.OnTickPrice(symbol, series[len(series)-1].Close)
	}
	if err := e.evaluate(symbol, series); err != nil {
		e.log.WithError(err).WithField("symbol", symbol).Warn("evaluation failed")
	}
}

func (e *Engine) evaluate(symbol string, primary []candle.Candle) error {
	btc, marketType := e.currentBTCRegime()
	if !btc.CanTrade {
		return nil
	}

	series5m := e.cache.GetSeries(symbol, candle.TF5m, 0)
	series15m := primary
	series1h := e.cache.GetSeries(symbol, candle.TF1h, 0)
	series4h := e.cache.GetSeries(symbol, candle.TF4h, 0)
	if len(series15m) < 20 {
		return nil
	}

	st := structure.Detect(series15m, 2, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bundle := filters.Bundle{
		Symbol:     symbol,
		MarketType: marketType,
		BTC:        btc,
		Direction:  st.Direction,
		Primary:    series15m,
		Series5m:   series5m,
		Series15m:  series15m,
		Series1h:   series1h,
		Series4h:   series4h,
		Structure:  st,
	}
	e.enrichBundle(ctx, &bundle, symbol)

	fr := e.orchestrator.Evaluate(bundle)
	if e.metrics != nil {
		e.metrics.FilterScore.WithLabelValues(symbol).Set(fr.Score)
	}
	if !fr.Passed {
		if e.metrics != nil {
			e.metrics.SignalsRejected.WithLabelValues(fr.Reason).Inc()
		}
		return nil
	}

	sig, err := e.generator.Generate(fr, bundle, e.clk.Now())
	if err != nil {
		if e.metrics != nil {
			e.metrics.SignalsRejected.WithLabelValues(err.Error()).Inc()
		}
		return nil
	}

	atrPct := 0.0
	if len(series15m) >= 15 {
		atrPct = indicators.ATRPercent(series15m, 14)
	}
	fearIdx, ok := e.dcache.FearGreed(ctx)
	if !ok {
		fearIdx = 50
	}

	trade, reason := e.riskMgr.Approve(sig, e.cfg.AccountSize, atrPct, fearIdx, marketType)
	if trade == nil {
		if e.metrics != nil {
			e.metrics.SignalsRejected.WithLabelValues(reason).Inc()
		}
		return nil
	}

	if e.metrics != nil {
		e.metrics.SignalsGenerated.WithLabelValues(symbol, string(marketType)).Inc()
		e.metrics.ActiveTrades.Set(float64(e.riskMgr.ActiveTradeCount()))
	}
	e.emitSignal(trade.Signal)
	return nil
}

// enrichBundle fills in the REST/datacache-backed fields of a Bundle
// (spec.md §4.9 step 2): order book, funding rate, open interest, fear
// index, and the IST session hour. A fetch failure degrades the
// corresponding field to its zero value rather than aborting
// evaluation, matching the orchestrator's own fail-open contract.
func (e *Engine) enrichBundle(ctx context.Context, b *filters.Bundle, symbol string) {
	if rate, ok := e.dcache.FundingRate(ctx, symbol); ok {
		b.FundingRate = rate
	} else if v, err := e.rest.FetchFundingRate(symbol); err == nil {
		b.FundingRate = v
		e.dcache.SetFundingRate(ctx, symbol, v)
	}

	if oi, ok := e.dcache.OpenInterest(ctx, symbol); ok {
		b.OpenInterest = oi
	} else if v, err := e.rest.FetchOpenInterest(symbol); err == nil {
		b.OpenInterest = v
		e.dcache.SetOpenInterest(ctx, symbol, v)
	}

	if fg, ok := e.dcache.FearGreed(ctx); ok {
		b.FearGreed = fg
	} else if v, err := e.rest.FetchFearGreed(); err == nil {
		b.FearGreed = v
		e.dcache.SetFearGreed(ctx, v)
	} else {
		b.FearGreed = 50
	}

	if ob, err := e.rest.FetchOrderBook(symbol, 10); err == nil {
		levels := filters.OrderBook{}
		for _, l := range ob.Bids {
			levels.Bids = append(levels.Bids, filters.OrderBookLevel{Price: l.Price, Size: l.Size})
		}
		for _, l := range ob.Asks {
			levels.Asks = append(levels.Asks, filters.OrderBookLevel{Price: l.Price, Size: l.Size})
		}
		b.OrderBook = &levels
	}

	hourIST := e.clk.Now().UTC().Add(5*time.Hour + 30*time.Minute).Hour()
	b.SessionHourIST = hourIST
}

// Tick runs spec.md §4.9 step 3 (advance every open trade) and step 4
// (daily reset at local midnight). It is driven by a caller-owned
// ticker at cfg.TickInterval; the Engine never starts its own timer so
// tests can drive it deterministically via a Frozen clock.
func (e *Engine) Tick() {
	e.maybeDailyReset()

	// Advance open trades against the latest 15m price in the cache, which
	// the feed updates in place while the candle is still forming.
	for _, symbol := range append([]string{e.cfg.BTCSymbol}, e.cfg.Symbols...) {
		if series := e.cache.GetSeries(symbol, candle.TF15m, 1); len(series) > 0 {
			e.OnTickPrice(symbol, series[len(series)-1].Close)
		}
	}

	pending := make(map[string]risk.ActiveTrade)
	events := e.riskMgr.CheckTimeouts(func(symbol string) (float64, bool) {
		series := e.cache.GetSeries(symbol, candle.TF15m, 1)
		if len(series) == 0 {
			return 0, false
		}
		if trade, ok := e.riskMgr.Trade(symbol); ok {
			pending[symbol] = trade
		}
		return series[len(series)-1].Close, true
	})
	for _, ev := range events {
		e.recordLifecycle(ev)
		if trade, ok := pending[ev.Symbol]; ok {
			e.recordJournal(trade, ev.Price, rMultipleToPnLPct(trade, ev.Price), string(ev.Action))
		}
	}
	if e.metrics != nil && len(events) > 0 {
		e.metrics.ActiveTrades.Set(float64(e.riskMgr.ActiveTradeCount()))
	}
}

// rMultipleToPnLPct recomputes the percentage move of a now-closed
// timeout trade, mirroring risk.Manager.Close's own pnlPct formula
// (unexported there, so the journal entry is derived the same way here).
func rMultipleToPnLPct(trade risk.ActiveTrade, exitPrice float64) float64 {
	entry := trade.Signal.Entry
	if entry == 0 {
		return 0
	}
	if trade.Signal.Direction == signal.Long {
		return (exitPrice - entry) / entry * 100
	}
	return (entry - exitPrice) / entry * 100
}

// OnTickPrice updates the open trade for symbol (if any) against the
// latest price. OnCandleClose calls it with each closed 15m candle's
// close before evaluating that candle, and Tick calls it with the latest
// cached 15m price.
func (e *Engine) OnTickPrice(symbol string, price float64) {
	if !e.riskMgr.HasOpenTrade(symbol) {
		return
	}
	events := e.riskMgr.Update(symbol, price)
	for _, ev := range events {
		e.recordLifecycle(ev)

		switch ev.Action {
		case risk.SLHit, risk.TPHit:
			closing, hadTrade := e.riskMgr.Trade(symbol)
			pnlPct, err := e.riskMgr.Close(symbol, price, string(ev.Action))
			if err != nil {
				e.log.WithError(err).Warn("closing trade after terminal lifecycle event failed")
				return
			}
			if hadTrade {
				e.recordJournal(closing, price, pnlPct, string(ev.Action))
			}
			if e.metrics != nil {
				e.metrics.ActiveTrades.Set(float64(e.riskMgr.ActiveTradeCount()))
			}
		}
	}
}

// recordJournal writes a closed trade's result to the journal. Failures
// are logged, not propagated: a journal write failure must never block
// the control loop from continuing to trade.
func (e *Engine) recordJournal(trade risk.ActiveTrade, exitPrice, pnlPct float64, reason string) {
	if e.journal == nil {
		return
	}
	sig := trade.Signal
	entry := journal.Entry{
		Timestamp:     sig.Timestamp,
		Symbol:        sig.Symbol,
		Direction:     sig.Direction,
		Entry:         sig.Entry,
		Exit:          exitPrice,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		PositionUSD:   sig.Position.PositionUSD,
		PnLPct:        pnlPct,
		PnLUSD:        sig.Position.PositionUSD * pnlPct / 100,
		RRRatio:       sig.RRRatio,
		MarketType:    sig.MarketType,
		Grade:         sig.Grade,
		FiltersPassed: sig.FiltersPassed,
		Score:         sig.Score,
		Reason:        reason,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.journal.Record(ctx, entry); err != nil {
		e.log.WithError(err).WithField("symbol", sig.Symbol).Warn("journal record failed")
		return
	}
	e.refreshJournalMetrics()
}

// refreshJournalMetrics recomputes the current day's journal stats and
// publishes win rate, profit factor, and Sharpe ratio to the collector.
func (e *Engine) refreshJournalMetrics() {
	if e.metrics == nil || e.journal == nil {
		return
	}
	stats, err := e.journal.ComputeStats(e.clk.Now())
	if err != nil {
		e.log.WithError(err).Warn("computing journal stats failed")
		return
	}
	e.metrics.WinRatePct.Set(stats.WinRatePct)
	e.metrics.ProfitFactor.Set(stats.ProfitFactor)
	e.metrics.SharpeRatio.Set(stats.SharpeRatio)
}

func (e *Engine) recordLifecycle(ev risk.LifecycleEvent) {
	if e.metrics != nil {
		e.metrics.LifecycleEvents.WithLabelValues(string(ev.Action)).Inc()
	}
	e.emitTradeUpdate(ev)

	status := e.riskMgr.DailyLockStatus()
	if e.metrics != nil {
		e.metrics.DailyPnLPct.Set(status.DailyPnLPct)
	}
}

func (e *Engine) maybeDailyReset() {
	today := e.clk.Now().Format("2006-01-02")
	e.mu.Lock()
	needsReset := e.lastResetDate != "" && e.lastResetDate != today
	e.lastResetDate = today
	e.mu.Unlock()
	if needsReset {
		e.riskMgr.DailyReset()
		e.emitAlert(AlertInfo, "daily reset", "risk counters reset for "+today)
	}
}

func (e *Engine) emitSignal(s signal.Signal) {
	if e.notifier == nil {
		return
	}
	e.notifier.EmitSignal(s)
}

func (e *Engine) emitTradeUpdate(ev risk.LifecycleEvent) {
	if e.notifier == nil {
		return
	}
	e.notifier.EmitTradeUpdate(TradeUpdate{
		Symbol:    ev.Symbol,
		Action:    TradeUpdateAction(ev.Action),
		Price:     ev.Price,
		RMultiple: ev.RMultiple,
	})
}

func (e *Engine) emitAlert(level AlertLevel, title, msg string) {
	if e.notifier == nil {
		return
	}
	e.notifier.EmitAlert(Alert{Level: level, Title: title, Message: msg})
}
