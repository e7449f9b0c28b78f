package exchange

import (
	"testing"

	"futures-signal-engine/internal/candle"
)

func TestStreamKeyLowercasesSymbol(t *testing.T) {
	if got := streamKey("BTCUSDT", candle.TF15m); got != "btcusdt@kline_15m" {
		t.Fatalf("expected a lowercased, kline-prefixed stream key, got %q", got)
	}
}

func TestPowComputesExponentialBackoffMultiplier(t *testing.T) {
	cases := []struct{ base, exp, want int }{
		{2, 0, 1},
		{2, 1, 2},
		{2, 2, 4},
		{2, 3, 8},
	}
	for _, c := range cases {
		if got := pow(c.base, c.exp); got != c.want {
			t.Fatalf("pow(%d,%d): expected %d, got %d", c.base, c.exp, c.want, got)
		}
	}
}

func TestHandleMessageDeliversParsedKlineEvent(t *testing.T) {
	var got KlineEvent
	w := &WSClient{
		handler: func(ev KlineEvent) { got = ev },
		seen:    make(map[string]struct{}),
	}
	msg := []byte(`{"stream":"btcusdt@kline_15m","data":{"s":"BTCUSDT","k":{"t":1000,"o":"100.5","h":"101.5","l":"99.5","c":"100.9","v":"1234.5","i":"15m","x":true}}}`)
	w.handleMessage(msg)

	if got.Symbol != "BTCUSDT" || got.Timeframe != candle.TF15m {
		t.Fatalf("expected parsed symbol/timeframe, got %+v", got)
	}
	if got.Open != 100.5 || got.Close != 100.9 {
		t.Fatalf("expected parsed OHLC floats, got %+v", got)
	}
	if !got.IsClosed {
		t.Fatal("expected IsClosed=true to propagate")
	}
}

func TestHandleMessageDedupsClosedCandlesAcrossCalls(t *testing.T) {
	calls := 0
	w := &WSClient{
		handler: func(ev KlineEvent) { calls++ },
		seen:    make(map[string]struct{}),
	}
	msg := []byte(`{"stream":"btcusdt@kline_15m","data":{"s":"BTCUSDT","k":{"t":1000,"o":"100","h":"101","l":"99","c":"100","v":"10","i":"15m","x":true}}}`)
	w.handleMessage(msg)
	w.handleMessage(msg)

	if calls != 1 {
		t.Fatalf("expected a closed candle replay to be deduped, handler invoked %d times", calls)
	}
}

func TestHandleMessageIgnoresMalformedPayload(t *testing.T) {
	calls := 0
	w := &WSClient{
		handler: func(ev KlineEvent) { calls++ },
		seen:    make(map[string]struct{}),
	}
	w.handleMessage([]byte(`not json`))
	if calls != 0 {
		t.Fatal("expected a malformed payload to be silently dropped, not delivered")
	}
}

func TestParseFloatAnyHandlesStringAndFloatAndOther(t *testing.T) {
	if got := parseFloatAny("12.5"); got != 12.5 {
		t.Fatalf("expected string parse, got %v", got)
	}
	if got := parseFloatAny(7.25); got != 7.25 {
		t.Fatalf("expected float64 passthrough, got %v", got)
	}
	if got := parseFloatAny(nil); got != 0 {
		t.Fatalf("expected unrecognized type to default to 0, got %v", got)
	}
}
