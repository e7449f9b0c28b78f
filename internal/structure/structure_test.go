package structure

import (
	"testing"
	"time"

	"futures-signal-engine/internal/candle"
)

func makeCandles(highs, lows, closes []float64) []candle.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	out := make([]candle.Candle, len(highs))
	for i := range highs {
		out[i] = candle.Candle{
			OpenTimeMs: base + int64(i)*15*60*1000,
			Open:       closes[i],
			High:       highs[i],
			Low:        lows[i],
			Close:      closes[i],
			Volume:     1000,
		}
	}
	return out
}

func TestFindSwingsDetectsSymmetricPivot(t *testing.T) {
	// A clean single peak at index 3 with 2 bars on each side lower.
	highs := []float64{100, 101, 102, 110, 102, 101, 100}
	lows := []float64{95, 96, 97, 98, 97, 96, 95}
	closes := highs
	c := makeCandles(highs, lows, closes)
	swings := findSwings(c, 2, 2)

	foundHighAt3 := false
	for _, s := range swings {
		if s.Index == 3 && s.High {
			foundHighAt3 = true
		}
	}
	if !foundHighAt3 {
		t.Fatalf("expected a swing high detected at index 3, got %+v", swings)
	}
}

func TestDetectUptrendStructure(t *testing.T) {
	// Higher highs and higher lows across two swing cycles.
	highs := []float64{100, 95, 90, 105, 100, 95, 115, 110, 105, 98}
	lows := []float64{90, 85, 80, 95, 90, 85, 100, 95, 90, 80}
	closes := make([]float64, len(highs))
	for i := range closes {
		closes[i] = (highs[i] + lows[i]) / 2
	}
	c := makeCandles(highs, lows, closes)
	res := Detect(c, 2, 2)
	if len(res.Swings) == 0 {
		t.Fatal("expected swings to be detected")
	}
	if res.Strength == "" {
		t.Fatal("expected a non-empty strength classification")
	}
	if res.Direction != DirUp {
		t.Fatalf("expected UP direction for higher highs and higher lows, got %v", res.Direction)
	}
}

func TestSupportResistanceOrdering(t *testing.T) {
	swings := []Swing{
		{Index: 0, Price: 100, High: true},
		{Index: 1, Price: 110, High: true},
		{Index: 2, Price: 90, High: false},
		{Index: 3, Price: 80, High: false},
	}
	res, sup := supportResistance(swings, 5)
	if len(res) != 2 || res[0].Price != 110 || res[1].Price != 100 {
		t.Fatalf("expected resistances sorted descending, got %+v", res)
	}
	if len(sup) != 2 || sup[0].Price != 80 || sup[1].Price != 90 {
		t.Fatalf("expected supports sorted ascending, got %+v", sup)
	}
}

func TestSupportResistanceCapsAtTopN(t *testing.T) {
	var swings []Swing
	for i := 0; i < 10; i++ {
		swings = append(swings, Swing{Index: i, Price: float64(100 + i), High: true})
	}
	res, _ := supportResistance(swings, 3)
	if len(res) != 3 {
		t.Fatalf("expected resistances capped at topN=3, got %d", len(res))
	}
}

func TestDetectBullishDivergenceComparesEarliestSwing(t *testing.T) {
	// Construct a price series that makes a lower low on closes while
	// the earlier swing low sits at a depressed RSI and the later one
	// recovers - i.e. price LL, RSI HL.
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}
	// First swing low (down move then up) around index 10.
	for i := 5; i <= 15; i++ {
		closes[i] = 100 - float64(10-abs(i-10))
		lows[i] = closes[i] - 1
		highs[i] = closes[i] + 1
	}
	// Second, deeper swing low around index 30 but with improving momentum
	// built in via a shallower preceding decline (higher RSI at the pivot).
	for i := 25; i <= 35; i++ {
		closes[i] = 100 - float64(20-abs(i-30)) - 5
		lows[i] = closes[i] - 1
		highs[i] = closes[i] + 1
	}
	c := makeCandles(highs, lows, closes)
	res := Detect(c, 2, 2)
	// We don't assert the boolean outcome (depends on exact RSI values);
	// we assert the function runs deterministically against real swing
	// indices rather than panicking or indexing out of range.
	_ = res.BullishDivergence
	_ = res.BearishDivergence
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestDetectLiquidityEmptyOnShortSeries(t *testing.T) {
	c := makeCandles([]float64{100, 101}, []float64{99, 100}, []float64{100, 100})
	events := DetectLiquidity(c, nil)
	if len(events) != 0 {
		t.Fatalf("expected no liquidity events on a series shorter than 3 bars, got %+v", events)
	}
}

func TestDetectLiquiditySweepAgainstSwingLevel(t *testing.T) {
	highs := []float64{100, 101, 102, 103, 108}
	lows := []float64{95, 96, 97, 98, 99}
	closes := []float64{99, 100, 101, 102, 100}
	c := makeCandles(highs, lows, closes)
	swings := []Swing{{Index: 2, Price: 102, High: true}}
	events := DetectLiquidity(c, swings)

	foundSweep := false
	for _, e := range events {
		if e.Kind == "sweep" {
			foundSweep = true
		}
	}
	if !foundSweep {
		t.Fatalf("expected a sweep event when the last bar's high crosses a swing high but closes beneath it, got %+v", events)
	}
}
