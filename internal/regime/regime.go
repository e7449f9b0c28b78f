// Package regime implements the two-tier market regime classification
// of spec.md §4.5: a coarse market-type read used by the filter/signal
// profiles, and a detailed weighted BTC regime score used to gate all
// trading. Grounded on the teacher's internal/strategy/indicators.go
// DetectTrend (the "derive a qualitative label from ADX/EMA stack" idiom)
// generalized into the spec's specific weighted-factor formula.
package regime

import (
	"math"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/indicators"
	"futures-signal-engine/internal/structure"
)

// MarketType is the coarse regime used to pick filter/signal profiles.
type MarketType string

const (
	MarketTrending MarketType = "trending"
	MarketChoppy   MarketType = "choppy"
	MarketHighVol  MarketType = "high_vol"
	MarketUnknown  MarketType = "unknown"
)

// DetectMarketType classifies the coarse regime from BTC 15m and 1h
// OHLCV (spec.md §4.5). First match wins: ATR% on 1h > 3.0 -> high_vol;
// ADX(15m) > 25 -> trending; else choppy. Fewer than 30 15m candles
// yields unknown.
func DetectMarketType(btc15m, btc1h []candle.Candle) MarketType {
	if len(btc15m) < 30 {
		return MarketUnknown
	}
	if indicators.ATRPercent(btc1h, 14) > 3.0 {
		return MarketHighVol
	}
	if indicators.ADX(btc15m, 14) > 25 {
		return MarketTrending
	}
	return MarketChoppy
}

// BTCRegime is the classification label of the detailed scorer.
type BTCRegime string

const (
	RegimeStrongBull BTCRegime = "strong_bull"
	RegimeBull       BTCRegime = "bull"
	RegimeChoppy     BTCRegime = "choppy"
	RegimeBear       BTCRegime = "bear"
	RegimeStrongBear BTCRegime = "strong_bear"
	RegimeUnknown    BTCRegime = "unknown"
)

// TradeMode is the tradability verdict derived from regime + confidence.
type TradeMode string

const (
	ModeTrend TradeMode = "TREND"
	ModeRange TradeMode = "RANGE"
	ModeBlock TradeMode = "BLOCK"
)

// Result is the detailed BTC regime read (spec.md §3 BTCRegimeResult).
type Result struct {
	Regime     BTCRegime
	Confidence float64
	Direction  structure.Direction
	Strength   structure.Strength
	CanTrade   bool
	TradeMode  TradeMode
	Reason     string
	Score      float64
}

// Thresholds bundles the tunable constants of §4.5's tradability gate.
type Thresholds struct {
	HardBlock      float64
	ChoppyMinConf  float64
	ChoppyADXMin   float64
	TrendMinConf   float64
	TrendADXMin    float64
}

// DefaultThresholds returns spec.md §4.5's stated constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HardBlock:     8,
		ChoppyMinConf: 15,
		ChoppyADXMin:  18,
		TrendMinConf:  20,
		TrendADXMin:   20,
	}
}

func emaAlignmentScore(c []candle.Candle, weight float64) float64 {
	if len(c) < 200 {
		return 0
	}
	ema9 := indicators.EMA(c, 9)
	ema21 := indicators.EMA(c, 21)
	ema200 := indicators.EMA(c, 200)
	switch {
	case ema9 > ema21 && ema21 > ema200:
		return 8 * weight
	case ema9 < ema21 && ema21 < ema200:
		return -8 * weight
	case ema9 > ema200:
		return 3 * weight
	case ema9 < ema200:
		return -3 * weight
	default:
		return 0
	}
}

func structureScore4h(c []candle.Candle) float64 {
	res := structure.Detect(c, 2, 2)
	hh := res.Direction == structure.DirUp
	ll := res.Direction == structure.DirDown
	switch {
	case hh && res.BOS:
		return 15
	case ll && res.BOS:
		return -15
	case hh:
		return 8
	case ll:
		return -8
	case len(res.Swings) > 0:
		return 3
	default:
		return 0
	}
}

func momentumScore15m(c []candle.Candle) float64 {
	rsi := indicators.RSI(c, 14)
	score := 0.0
	switch {
	case rsi > 60:
		score = (rsi - 60) / 40 * 10
	case rsi < 40:
		score = (rsi - 40) / 40 * 10
	}
	volRatio := indicators.VolumeRatio(c, 4)
	switch {
	case volRatio > 1.2:
		score *= 1.2
	case volRatio < 0.8:
		score *= 0.8
	}
	if score > 10 {
		score = 10
	}
	if score < -10 {
		score = -10
	}
	return score
}

func confidenceFromADX(adx float64) float64 {
	c := adx*2.5 + 15
	if c > 100 {
		c = 100
	}
	return c
}

// DetectBTCRegime runs the full weighted-score BTC regime read of
// spec.md §4.5 over 15m/1h/4h OHLCV.
func DetectBTCRegime(c15m, c1h, c4h []candle.Candle, th Thresholds) Result {
	if len(c15m) < 30 {
		return Result{Regime: RegimeUnknown, TradeMode: ModeBlock, Reason: "insufficient data"}
	}

	emaScore := 0.40 * (emaAlignmentScore(c15m, 0.6) + emaAlignmentScore(c1h, 1.0) + emaAlignmentScore(c4h, 1.4))
	structScore := 0.35 * structureScore4h(c4h)
	momScore := 0.25 * momentumScore15m(c15m)

	total := emaScore + structScore + momScore
	if total > 20 {
		total = 20
	}
	if total < -20 {
		total = -20
	}

	adx := indicators.ADX(c15m, 14)
	res := Result{Score: total}

	switch {
	case total >= 15:
		res.Regime = RegimeStrongBull
		res.Direction = structure.DirUp
		res.Confidence = math.Min(100, adx*2.5+15)
	case total >= 5:
		res.Regime = RegimeBull
		res.Direction = structure.DirUp
		res.Confidence = adx * 2.5
	case total > -5:
		res.Regime = RegimeChoppy
		res.Direction = structure.DirSideways
		res.Confidence = math.Min(70, adx*2.5)
	case total > -15:
		res.Regime = RegimeBear
		res.Direction = structure.DirDown
		res.Confidence = adx * 2.5
	default:
		res.Regime = RegimeStrongBear
		res.Direction = structure.DirDown
		res.Confidence = math.Min(100, adx*2.5+15)
	}

	switch {
	case total >= 15 || total <= -15:
		res.Strength = structure.StrengthStrong
	case total >= 5 || total <= -5:
		res.Strength = structure.StrengthModerate
	default:
		res.Strength = structure.StrengthWeak
	}

	res.CanTrade, res.TradeMode, res.Reason = tradability(res, adx, th)
	return res
}

func tradability(res Result, adx float64, th Thresholds) (bool, TradeMode, string) {
	if res.Regime == RegimeUnknown {
		return false, ModeBlock, "unknown regime"
	}
	if res.Confidence < th.HardBlock {
		return false, ModeBlock, "confidence below hard block"
	}
	if res.Regime == RegimeChoppy {
		if res.Confidence >= th.ChoppyMinConf && adx >= th.ChoppyADXMin {
			return true, ModeRange, ""
		}
		return false, ModeBlock, "choppy regime below range thresholds"
	}
	if res.Confidence >= th.TrendMinConf && adx >= th.TrendADXMin {
		return true, ModeTrend, ""
	}
	return false, ModeBlock, "trend regime below trade thresholds"
}
