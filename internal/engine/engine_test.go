package engine

import (
	"testing"
	"time"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/clock"
	"futures-signal-engine/internal/datacache"
	"futures-signal-engine/internal/exchange"
	"futures-signal-engine/internal/filters"
	"futures-signal-engine/internal/journal"
	"futures-signal-engine/internal/metrics"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/risk"
	"futures-signal-engine/internal/signal"

	"github.com/prometheus/client_golang/prometheus"
)

type stubRESTClient struct{}

func (stubRESTClient) FetchOHLCV(symbol string, tf candle.Timeframe, limit int, sinceMs int64) ([]candle.Candle, error) {
	return nil, nil
}
func (stubRESTClient) FetchOrderBook(symbol string, depth int) (exchange.OrderBook, error) {
	return exchange.OrderBook{}, nil
}
func (stubRESTClient) FetchFundingRate(symbol string) (float64, error) { return 0, nil }
func (stubRESTClient) FetchOpenInterest(symbol string) (float64, error) { return 0, nil }
func (stubRESTClient) FetchFearGreed() (int, error) { return 50, nil }

type recordingNotifier struct {
	signals      []signal.Signal
	tradeUpdates []TradeUpdate
	alerts       []Alert
}

func (r *recordingNotifier) EmitSignal(s signal.Signal)       { r.signals = append(r.signals, s) }
func (r *recordingNotifier) EmitTradeUpdate(u TradeUpdate)    { r.tradeUpdates = append(r.tradeUpdates, u) }
func (r *recordingNotifier) EmitAlert(a Alert)                { r.alerts = append(r.alerts, a) }

func newTestEngine(t *testing.T, clk clock.Clock, notif Notifier) (*Engine, *risk.Manager, *journal.Journal) {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.NewJournal(dir, nil)
	if err != nil {
		t.Fatalf("journal.NewJournal: %v", err)
	}

	riskCfg := risk.DefaultConfig()
	riskMgr := risk.NewManager(riskCfg, clk, nil)

	reg := prometheus.NewRegistry()
	coll := metrics.NewCollector(reg)

	eng := New(
		Config{
			BTCSymbol:           "BTCUSDT",
			AccountSize:         riskCfg.AccountSize,
			BTCRegimeRefreshMin: time.Minute,
			TickInterval:        time.Second,
			NotifierQueueSize:   16,
		},
		candle.NewCache(100),
		stubRESTClient{},
		datacache.NewCache(datacache.Config{Enabled: false}),
		filters.NewOrchestrator(),
		signal.NewGenerator(nil),
		riskMgr,
		j,
		coll,
		notif,
		clk,
	)
	return eng, riskMgr, j
}

func approveTestTrade(t *testing.T, riskMgr *risk.Manager, now time.Time) signal.Signal {
	t.Helper()
	sig := signal.Signal{
		Symbol:     "ETHUSDT",
		Direction:  signal.Long,
		Entry:      100,
		StopLoss:   98,
		TakeProfit: 106,
		RRRatio:    3,
		Score:      75,
		Grade:      filters.GradeB,
		MarketType: regime.MarketTrending,
		Timestamp:  now,
	}
	trade, reason := riskMgr.Approve(sig, 100000, 1.0, 50, regime.MarketTrending)
	if trade == nil {
		t.Fatalf("Approve rejected test trade: %s", reason)
	}
	return trade.Signal
}

func TestBootstrapRequiresBTCReady(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng, _, _ := newTestEngine(t, clk, nil)
	if err := eng.Bootstrap(false); err == nil {
		t.Fatal("expected error when btc_data_ready is false")
	}
	if err := eng.Bootstrap(true); err != nil {
		t.Fatalf("Bootstrap(true): %v", err)
	}
}

func TestOnTickPriceClosesOnStopLossAndJournals(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	notif := &recordingNotifier{}
	eng, riskMgr, j := newTestEngine(t, clk, notif)

	sig := approveTestTrade(t, riskMgr, clk.Now())
	if !riskMgr.HasOpenTrade(sig.Symbol) {
		t.Fatal("expected open trade after approval")
	}

	eng.OnTickPrice(sig.Symbol, 97.5) // below stop loss of 98

	if riskMgr.HasOpenTrade(sig.Symbol) {
		t.Fatal("expected trade to close on stop-loss hit")
	}
	if len(notif.tradeUpdates) != 1 || notif.tradeUpdates[0].Action != TradeUpdateSLHit {
		t.Fatalf("expected one SL_HIT trade update, got %+v", notif.tradeUpdates)
	}

	stats, err := j.ComputeStats(clk.Now())
	if err != nil {
		t.Fatalf("ComputeStats: %v", err)
	}
	if stats.TotalTrades != 1 {
		t.Fatalf("expected 1 journaled trade, got %d", stats.TotalTrades)
	}
	if stats.Losses != 1 {
		t.Fatalf("expected the journaled trade to be a loss, got %+v", stats)
	}
}

func TestOnTickPriceIgnoresSymbolsWithoutOpenTrades(t *testing.T) {
	clk := clock.NewFrozen(time.Now())
	notif := &recordingNotifier{}
	eng, _, _ := newTestEngine(t, clk, notif)

	eng.OnTickPrice("NOSUCHSYMBOL", 123.45)

	if len(notif.tradeUpdates) != 0 {
		t.Fatalf("expected no trade updates, got %+v", notif.tradeUpdates)
	}
}

func TestMaybeDailyResetOnDateRollover(t *testing.T) {
	start := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	clk := clock.NewFrozen(start)
	notif := &recordingNotifier{}
	eng, riskMgr, _ := newTestEngine(t, clk, notif)

	eng.Tick() // first tick only seeds lastResetDate, no reset fires
	riskMgr.DailyLockStatus()

	clk.Advance(2 * time.Hour) // crosses into 2026-01-02
	eng.Tick()

	found := false
	for _, a := range notif.alerts {
		if a.Title == "daily reset" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a daily reset alert after date rollover, got %+v", notif.alerts)
	}
}

func TestSetDegradedTracksMultipleSources(t *testing.T) {
	clk := clock.NewFrozen(time.Now())
	eng, _, _ := newTestEngine(t, clk, &recordingNotifier{})

	eng.SetDegraded("ws", true)
	if !eng.Degraded() {
		t.Fatal("expected engine to report degraded after SetDegraded(ws, true)")
	}
	eng.SetDegraded("rest", true)
	eng.SetDegraded("ws", false)
	if !eng.Degraded() {
		t.Fatal("expected engine to remain degraded while rest is still flagged")
	}
	eng.SetDegraded("rest", false)
	if eng.Degraded() {
		t.Fatal("expected engine to recover once all sources clear")
	}
}

func TestEvaluateSkipsWhenBTCRegimeNotTradable(t *testing.T) {
	clk := clock.NewFrozen(time.Now())
	eng, _, _ := newTestEngine(t, clk, &recordingNotifier{})

	series := make([]candle.Candle, 25)
	for i := range series {
		series[i] = candle.Candle{OpenTimeMs: int64(i) * 900000, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	// btcRegime defaults to the zero Result, whose CanTrade is false, so
	// evaluate must return without generating a signal or panicking.
	if err := eng.evaluate("ETHUSDT", series); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
}
