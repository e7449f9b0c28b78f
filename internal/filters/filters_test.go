package filters

import (
	"testing"
	"time"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/structure"
)

func TestGradeFromScoreBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Grade
	}{
		{90, GradeAPlus},
		{89.99, GradeA},
		{80, GradeA},
		{79.99, GradeBPlus},
		{70, GradeBPlus},
		{69.99, GradeB},
		{60, GradeB},
		{59.99, GradeC},
		{50, GradeC},
		{49.99, GradeD},
	}
	for _, c := range cases {
		if got := GradeFromScore(c.score); got != c.want {
			t.Fatalf("score %v: expected grade %v, got %v", c.score, c.want, got)
		}
	}
}

func TestGradeEligibleIsBOrBetter(t *testing.T) {
	if !GradeB.Eligible() || !GradeBPlus.Eligible() || !GradeA.Eligible() || !GradeAPlus.Eligible() {
		t.Fatal("expected B, B+, A, A+ to be eligible")
	}
	if GradeC.Eligible() || GradeD.Eligible() {
		t.Fatal("expected C and D to be ineligible")
	}
}

func flatSeries(n int, price float64) []candle.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = candle.Candle{
			OpenTimeMs: base + int64(i)*15*60*1000,
			Open:       price,
			High:       price + 1,
			Low:        price - 1,
			Close:      price,
			Volume:     1000,
		}
	}
	return out
}

func TestGateBTCRegimeFailsWhenNotTradable(t *testing.T) {
	g := gateBTCRegime(Bundle{BTC: regime.Result{CanTrade: false}})
	if g.Passed {
		t.Fatal("expected the btc regime gate to fail when BTC.CanTrade is false")
	}
}

func TestGateBTCRegimeFailsOnOpposingDirection(t *testing.T) {
	b := Bundle{
		BTC:       regime.Result{CanTrade: true, Confidence: 50, Direction: structure.DirDown},
		Direction: structure.DirUp,
	}
	g := gateBTCRegime(b)
	if g.Passed {
		t.Fatal("expected the btc regime gate to fail when signal direction opposes btc direction")
	}
}

func TestGateBTCRegimeFailsOnLowConfidence(t *testing.T) {
	b := Bundle{BTC: regime.Result{CanTrade: true, Confidence: 19}}
	g := gateBTCRegime(b)
	if g.Passed {
		t.Fatal("expected the btc regime gate to fail below confidence 20")
	}
}

func TestGateVolumeInsufficientData(t *testing.T) {
	g := gateVolume(Bundle{Primary: flatSeries(2, 100)})
	if g.Passed {
		t.Fatal("expected the volume gate to fail closed on insufficient data")
	}
}

func TestGateLiquidityPassesWithoutOrderBook(t *testing.T) {
	g := gateLiquidity(Bundle{})
	if !g.Passed {
		t.Fatal("expected a missing orderbook to pass the liquidity gate by policy")
	}
}

func TestGateLiquidityFailsOnWideSpread(t *testing.T) {
	b := Bundle{OrderBook: &OrderBook{
		Bids: []OrderBookLevel{{Price: 99, Size: 1000}},
		Asks: []OrderBookLevel{{Price: 101, Size: 1000}},
	}}
	g := gateLiquidity(b)
	if g.Passed {
		t.Fatal("expected a 2% spread to fail the liquidity gate (max 0.1%)")
	}
}

func TestGateLiquidityFailsOnShallowDepth(t *testing.T) {
	b := Bundle{OrderBook: &OrderBook{
		Bids: []OrderBookLevel{{Price: 100, Size: 1}},
		Asks: []OrderBookLevel{{Price: 100.05, Size: 1}},
	}}
	g := gateLiquidity(b)
	if g.Passed {
		t.Fatal("expected shallow top-5 depth to fail the liquidity gate")
	}
}

func TestGateSessionInsideWindow(t *testing.T) {
	g := gateSession(Bundle{SessionHourIST: 14})
	if !g.Passed {
		t.Fatal("expected hour 14 IST (London window) to pass the session gate")
	}
}

func TestGateSessionOutsideWindow(t *testing.T) {
	g := gateSession(Bundle{SessionHourIST: 12})
	if g.Passed {
		t.Fatal("expected hour 12 IST (between Asia and London) to fail the session gate")
	}
}

func TestGateSessionAvoidWindowOverrides(t *testing.T) {
	g := gateSession(Bundle{SessionHourIST: 14, AvoidSession: true})
	if g.Passed {
		t.Fatal("expected an explicit avoid window to fail the session gate even inside a named session")
	}
}

func TestEvaluateFailsClosedOnTier1Failure(t *testing.T) {
	o := NewOrchestrator()
	b := Bundle{
		MarketType: regime.MarketTrending,
		BTC:        regime.Result{CanTrade: false},
		Primary:    flatSeries(25, 100),
	}
	res := o.Evaluate(b)
	if res.Passed {
		t.Fatal("expected Evaluate to fail when a tier1 gate fails")
	}
	if res.Grade != GradeD {
		t.Fatalf("expected grade D on tier1 failure, got %v", res.Grade)
	}
}

func TestEvaluateIsPureFunctionOfInput(t *testing.T) {
	o := NewOrchestrator()
	b := Bundle{
		MarketType:     regime.MarketTrending,
		BTC:            regime.Result{CanTrade: true, Confidence: 50, Direction: structure.DirUp},
		Direction:      structure.DirUp,
		Primary:        flatSeries(30, 100),
		Series15m:      flatSeries(30, 100),
		Series1h:       flatSeries(30, 100),
		SessionHourIST: 14,
		Structure:      structure.Result{Strength: structure.StrengthModerate, BOS: true},
	}
	first := o.Evaluate(b)
	second := o.Evaluate(b)
	if first.Score != second.Score || first.Passed != second.Passed || first.Grade != second.Grade {
		t.Fatalf("expected identical results for identical input, got %+v vs %+v", first, second)
	}
}

func TestEvaluateTier1AbsentOrderbookPassesByPolicy(t *testing.T) {
	o := NewOrchestrator()
	b := Bundle{
		MarketType:     regime.MarketTrending,
		BTC:            regime.Result{CanTrade: true, Confidence: 50, Direction: structure.DirUp},
		Primary:        flatSeries(30, 100),
		SessionHourIST: 14,
		Structure:      structure.Result{Strength: structure.StrengthModerate, BOS: true},
	}
	res := o.Evaluate(b)
	if gate, ok := res.Tier1["liquidity"]; !ok || !gate.Passed {
		t.Fatalf("expected the liquidity gate to pass by policy absent an orderbook, got %+v", res.Tier1["liquidity"])
	}
}

func TestTier2WeightsSumToHundred(t *testing.T) {
	total := 0.0
	for _, w := range Tier2Weight {
		total += w
	}
	if total != 100 {
		t.Fatalf("expected tier2 weights to sum to 100, got %v", total)
	}
}

func TestThresholdForByMarketType(t *testing.T) {
	if thresholdFor(regime.MarketTrending) != 60 {
		t.Fatal("expected trending threshold 60")
	}
	if thresholdFor(regime.MarketChoppy) != 55 {
		t.Fatal("expected choppy threshold 55")
	}
	if thresholdFor(regime.MarketHighVol) != 65 {
		t.Fatal("expected high_vol threshold 65")
	}
}
