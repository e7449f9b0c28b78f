package signal

import (
	"testing"
	"time"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/filters"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/structure"
)

func TestSignalValidateInvariants(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := Signal{
		Symbol:     "ETHUSDT",
		Direction:  Long,
		Entry:      100,
		StopLoss:   98,
		TakeProfit: 106,
		RRRatio:    3,
		MarketType: regime.MarketTrending,
		Timestamp:  now,
	}

	if err := base.Validate(now); err != nil {
		t.Fatalf("expected a valid signal, got %v", err)
	}

	stopEqualsEntry := base
	stopEqualsEntry.StopLoss = 100
	if err := stopEqualsEntry.Validate(now); err != ErrStopEqualsEntry {
		t.Fatalf("expected ErrStopEqualsEntry, got %v", err)
	}

	targetEqualsEntry := base
	targetEqualsEntry.TakeProfit = 100
	if err := targetEqualsEntry.Validate(now); err != ErrTargetEqualsEntry {
		t.Fatalf("expected ErrTargetEqualsEntry, got %v", err)
	}

	inverted := base
	inverted.StopLoss = 106
	inverted.TakeProfit = 98
	if err := inverted.Validate(now); err != ErrSideInconsistent {
		t.Fatalf("expected ErrSideInconsistent for a long with sides swapped, got %v", err)
	}

	lowRR := base
	lowRR.RRRatio = 0.5
	if err := lowRR.Validate(now); err != ErrRRTooLow {
		t.Fatalf("expected ErrRRTooLow, got %v", err)
	}

	stale := base
	stale.Timestamp = now.Add(-6 * time.Minute)
	if err := stale.Validate(now); err != ErrStale {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestSignalValidateShortDirection(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	short := Signal{
		Direction:  Short,
		Entry:      100,
		StopLoss:   102,
		TakeProfit: 94,
		RRRatio:    3,
		MarketType: regime.MarketChoppy,
		Timestamp:  now,
	}
	if err := short.Validate(now); err != nil {
		t.Fatalf("expected a valid short signal, got %v", err)
	}

	short.StopLoss = 98 // now on the wrong side of entry for a short
	if err := short.Validate(now); err != ErrSideInconsistent {
		t.Fatalf("expected ErrSideInconsistent, got %v", err)
	}
}

func buildUptrendCandles(n int, start, step float64) []candle.Candle {
	out := make([]candle.Candle, n)
	price := start
	baseMs := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i := range out {
		out[i] = candle.Candle{
			OpenTimeMs: baseMs + int64(i)*15*60*1000,
			Open:       price,
			High:       price + step,
			Low:        price - step/2,
			Close:      price + step/2,
			Volume:     1000,
		}
		price += step
	}
	return out
}

func TestGeneratorProducesValidatedLongSignal(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	primary := buildUptrendCandles(30, 100, 1)

	gen := NewGenerator(nil)
	fr := filters.Result{
		Passed: true,
		Tier2: map[string]filters.Tier2Filter{
			"mtf_confirmation": {Passed: true, Score: 20},
			"rsi_divergence":   {Passed: true, Score: 15},
		},
		Tier3: map[string]filters.Tier3Bonus{},
		Score: 75,
		Grade: filters.GradeB,
	}
	b := filters.Bundle{
		Symbol:     "ETHUSDT",
		MarketType: regime.MarketTrending,
		Primary:    primary,
		Structure: structure.Result{
			Direction: structure.DirUp,
			Strength:  structure.StrengthStrong,
		},
	}

	sig, err := gen.Generate(fr, b, now)
	if err != nil {
		t.Fatalf("Generate returned an error: %v", err)
	}
	if sig.Direction != Long {
		t.Fatalf("expected a LONG signal for an uptrend structure, got %s", sig.Direction)
	}
	if sig.StopLoss >= sig.Entry {
		t.Fatalf("expected stop below entry for a long, got entry=%v stop=%v", sig.Entry, sig.StopLoss)
	}
	if sig.TakeProfit <= sig.Entry {
		t.Fatalf("expected target above entry for a long, got entry=%v target=%v", sig.Entry, sig.TakeProfit)
	}
	if err := sig.Validate(now); err != nil {
		t.Fatalf("generated signal failed its own invariants: %v", err)
	}
	if len(sig.FiltersPassed) != 2 {
		t.Fatalf("expected 2 passed tier2 filter names, got %v", sig.FiltersPassed)
	}
}

func TestGenerateRejectsFailingFilterResult(t *testing.T) {
	gen := NewGenerator(nil)
	_, err := gen.Generate(filters.Result{Passed: false}, filters.Bundle{Primary: buildUptrendCandles(5, 100, 1)}, time.Now())
	if err == nil {
		t.Fatal("expected an error when generating from a failing filter result")
	}
}

func TestGenerateRejectsEmptyPrimarySeries(t *testing.T) {
	gen := NewGenerator(nil)
	_, err := gen.Generate(filters.Result{Passed: true}, filters.Bundle{}, time.Now())
	if err == nil {
		t.Fatal("expected an error when the primary series is empty")
	}
}
