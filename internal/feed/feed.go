// Package feed implements the FeedManager of spec.md §4.3: seeds the
// candle cache via REST backfill, maintains the live WebSocket
// subscription, and invokes a CandleCloseSink exactly once per closed
// candle. Grounded on the teacher's
// internal/binance/kline_subscription_manager.go for the
// symbol/timeframe subscription bookkeeping (SubscribeSymbol,
// GetSubscribedSymbols, BuildStreamList), generalized from Binance-spot
// spot-only subscriptions to the spec's exchange-agnostic
// (symbol, timeframe) pair model.
package feed

import (
	"fmt"
	"sync"
	"sync/atomic"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/exchange"
	"futures-signal-engine/internal/logging"
)

// CandleCloseSink receives exactly one notification per closed candle
// (spec.md §9 Design Notes: this interface replaces a raw
// FeedManager->Engine callback to avoid an ownership cycle between the
// two).
type CandleCloseSink interface {
	OnCandleClose(symbol string, tf candle.Timeframe, series []candle.Candle)
}

// Pair is one (symbol, timeframe) the manager subscribes to.
type Pair struct {
	Symbol string
	TF     candle.Timeframe
}

// Manager is spec.md §4.3's FeedManager.
type Manager struct {
	rest      exchange.RESTClient
	cache     *candle.Cache
	sink      CandleCloseSink
	pairs     []Pair
	cacheSize int
	log       *logging.Logger

	ws *exchange.WSClient

	btcReady atomic.Bool

	// dedupMu guards lastClosed, which tracks the most recent closed
	// open_time per (symbol, timeframe) pair. A closed candle's open_time
	// only ever increases for a given pair, so remembering the single
	// latest one is enough to dedup a reconnect replay without the set
	// growing for the life of the process.
	dedupMu    sync.Mutex
	lastClosed map[string]int64
}

// NewManager constructs a Manager over the given pairs. cacheSize is the
// number of candles Seed backfills per pair; the btc_data_ready latch
// always gates on BTC's 15m series (see Seed).
func NewManager(rest exchange.RESTClient, cache *candle.Cache, sink CandleCloseSink, pairs []Pair, cacheSize int) *Manager {
	return &Manager{
		rest:       rest,
		cache:      cache,
		sink:       sink,
		pairs:      pairs,
		cacheSize:  cacheSize,
		log:        logging.WithComponent("feed_manager"),
		lastClosed: make(map[string]int64),
	}
}

// Seed performs the REST backfill of every (symbol, tf) pair to
// cacheSize candles, then sets the btc_data_ready latch once BTC's 15m
// series holds at least 50 candles (spec.md §4.3).
func (m *Manager) Seed(btcSymbol string) error {
	for _, p := range m.pairs {
		candles, err := m.rest.FetchOHLCV(p.Symbol, p.TF, m.cacheSize, 0)
		if err != nil {
			return fmt.Errorf("feed: seeding %s@%s: %w", p.Symbol, p.TF, err)
		}
		m.cache.SetSeries(p.Symbol, p.TF, candles)
	}

	btc15m := m.cache.GetSeries(btcSymbol, candle.TF15m, 0)
	if len(btc15m) >= 50 {
		m.btcReady.Store(true)
	}
	return nil
}

// BTCDataReady reports whether the btc_data_ready latch is set.
func (m *Manager) BTCDataReady() bool {
	return m.btcReady.Load()
}

// Start connects the WebSocket and begins delivering candle events.
func (m *Manager) Start(wsBaseURL string, onFatal exchange.FatalErrHandler) {
	wsPairs := make([]struct {
		Symbol string
		TF     candle.Timeframe
	}, 0, len(m.pairs))
	for _, p := range m.pairs {
		wsPairs = append(wsPairs, struct {
			Symbol string
			TF     candle.Timeframe
		}{p.Symbol, p.TF})
	}
	m.ws = exchange.NewWSClient(wsBaseURL, wsPairs, m.handleEvent, onFatal)
	m.ws.Start()
}

// Stop tears down the WebSocket connection.
func (m *Manager) Stop() {
	if m.ws != nil {
		m.ws.Stop()
	}
}

func (m *Manager) handleEvent(ev exchange.KlineEvent) {
	c := candle.Candle{
		OpenTimeMs: ev.OpenTimeMs,
		Open:       ev.Open,
		High:       ev.High,
		Low:        ev.Low,
		Close:      ev.Close,
		Volume:     ev.Volume,
	}
	m.cache.Update(ev.Symbol, ev.Timeframe, c)

	if !ev.IsClosed {
		return
	}

	pairKey := ev.Symbol + "|" + string(ev.Timeframe)
	m.dedupMu.Lock()
	if last, seen := m.lastClosed[pairKey]; seen && ev.OpenTimeMs <= last {
		m.dedupMu.Unlock()
		return
	}
	m.lastClosed[pairKey] = ev.OpenTimeMs
	m.dedupMu.Unlock()

	if m.sink == nil {
		return
	}
	snapshot := m.cache.GetSeries(ev.Symbol, ev.Timeframe, 0)
	m.sink.OnCandleClose(ev.Symbol, ev.Timeframe, snapshot)
}
