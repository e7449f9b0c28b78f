package feed

import (
	"errors"
	"testing"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/exchange"
)

type fakeREST struct {
	ohlcv map[string][]candle.Candle
	err   error
}

func (f *fakeREST) FetchOHLCV(symbol string, tf candle.Timeframe, limit int, sinceMs int64) ([]candle.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ohlcv[symbol+"|"+string(tf)], nil
}
func (f *fakeREST) FetchOrderBook(symbol string, depth int) (exchange.OrderBook, error) { return exchange.OrderBook{}, nil }
func (f *fakeREST) FetchFundingRate(symbol string) (float64, error)                     { return 0, nil }
func (f *fakeREST) FetchOpenInterest(symbol string) (float64, error)                    { return 0, nil }
func (f *fakeREST) FetchFearGreed() (int, error)                                        { return 50, nil }

type fakeSink struct {
	calls []struct {
		symbol string
		tf     candle.Timeframe
	}
}

func (s *fakeSink) OnCandleClose(symbol string, tf candle.Timeframe, series []candle.Candle) {
	s.calls = append(s.calls, struct {
		symbol string
		tf     candle.Timeframe
	}{symbol, tf})
}

func fiftyCandles() []candle.Candle {
	out := make([]candle.Candle, 50)
	for i := range out {
		out[i] = candle.Candle{OpenTimeMs: int64(i) * 900000, Close: 100}
	}
	return out
}

func TestSeedSetsBTCReadyLatchAtFifty(t *testing.T) {
	rest := &fakeREST{ohlcv: map[string][]candle.Candle{
		"BTCUSDT|15m": fiftyCandles(),
	}}
	cache := candle.NewCache(100)
	mgr := NewManager(rest, cache, nil, []Pair{{Symbol: "BTCUSDT", TF: candle.TF15m}}, 100)

	if err := mgr.Seed("BTCUSDT"); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	if !mgr.BTCDataReady() {
		t.Fatal("expected btc_data_ready latch set once BTC 15m has >= 50 candles")
	}
}

func TestSeedLatchNotSetBelowFifty(t *testing.T) {
	rest := &fakeREST{ohlcv: map[string][]candle.Candle{
		"BTCUSDT|15m": fiftyCandles()[:40],
	}}
	cache := candle.NewCache(100)
	mgr := NewManager(rest, cache, nil, []Pair{{Symbol: "BTCUSDT", TF: candle.TF15m}}, 100)

	if err := mgr.Seed("BTCUSDT"); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	if mgr.BTCDataReady() {
		t.Fatal("expected btc_data_ready latch to remain unset below 50 candles")
	}
}

func TestSeedPropagatesRESTError(t *testing.T) {
	rest := &fakeREST{err: errors.New("rate limited")}
	cache := candle.NewCache(100)
	mgr := NewManager(rest, cache, nil, []Pair{{Symbol: "BTCUSDT", TF: candle.TF15m}}, 100)

	if err := mgr.Seed("BTCUSDT"); err == nil {
		t.Fatal("expected Seed to propagate a REST backfill error")
	}
}

func TestHandleEventFiresOnCandleCloseExactlyOnce(t *testing.T) {
	cache := candle.NewCache(100)
	sink := &fakeSink{}
	mgr := NewManager(&fakeREST{}, cache, sink, nil, 100)

	ev := exchange.KlineEvent{Symbol: "ETHUSDT", Timeframe: candle.TF15m, OpenTimeMs: 1000, Close: 100, IsClosed: true}
	mgr.handleEvent(ev)
	mgr.handleEvent(ev) // reconnect replay of the same closed candle

	if len(sink.calls) != 1 {
		t.Fatalf("expected on_candle_close exactly once for a repeated closed candle, got %d calls", len(sink.calls))
	}
}

func TestHandleEventUpdatesCacheWithoutSinkOnOpenCandle(t *testing.T) {
	cache := candle.NewCache(100)
	sink := &fakeSink{}
	mgr := NewManager(&fakeREST{}, cache, sink, nil, 100)

	ev := exchange.KlineEvent{Symbol: "ETHUSDT", Timeframe: candle.TF15m, OpenTimeMs: 1000, Close: 100, IsClosed: false}
	mgr.handleEvent(ev)

	if len(sink.calls) != 0 {
		t.Fatal("expected no on_candle_close call for an open (not yet closed) candle")
	}
	if cache.Len("ETHUSDT", candle.TF15m) != 1 {
		t.Fatal("expected the cache to still be updated for an open candle")
	}
}

func TestHandleEventDedupIsKeyedByTriple(t *testing.T) {
	cache := candle.NewCache(100)
	sink := &fakeSink{}
	mgr := NewManager(&fakeREST{}, cache, sink, nil, 100)

	mgr.handleEvent(exchange.KlineEvent{Symbol: "ETHUSDT", Timeframe: candle.TF15m, OpenTimeMs: 1000, IsClosed: true})
	mgr.handleEvent(exchange.KlineEvent{Symbol: "ETHUSDT", Timeframe: candle.TF15m, OpenTimeMs: 2000, IsClosed: true})
	mgr.handleEvent(exchange.KlineEvent{Symbol: "BTCUSDT", Timeframe: candle.TF15m, OpenTimeMs: 1000, IsClosed: true})

	if len(sink.calls) != 3 {
		t.Fatalf("expected 3 distinct (symbol,tf,open_time) triples to each fire once, got %d", len(sink.calls))
	}
}
