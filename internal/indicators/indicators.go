// Package indicators implements the pure, side-effect-free indicator
// functions of spec.md §4.1. Ported from the teacher's
// internal/strategy/indicators.go (free functions over a candle slice,
// small result structs) but corrected to the contracts spec.md states:
// Wilder's smoothing for RSI/ATR/ADX, a real +DM/-DM ADX instead of the
// teacher's ATR-ratio approximation, and a real EMA-of-MACD signal line
// instead of the `0.8 * macd` placeholder the Python ancestor used (see
// spec.md §9 Open Questions).
package indicators

import (
	"math"

	"futures-signal-engine/internal/candle"
)

func closes(c []candle.Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		out[i] = k.Close
	}
	return out
}

// SMA returns the simple moving average of the last period closes.
// Insufficient data returns the mean of everything available.
func SMA(c []candle.Candle, period int) float64 {
	if len(c) == 0 {
		return 0
	}
	if period <= 0 || period > len(c) {
		period = len(c)
	}
	sum := 0.0
	for _, k := range c[len(c)-period:] {
		sum += k.Close
	}
	return sum / float64(period)
}

// EMA computes the exponential moving average with weight k = 2/(period+1).
// Per spec.md §4.1, insufficient data returns the arithmetic mean of the
// input (there is no "undefined" EMA).
func EMA(c []candle.Candle, period int) float64 {
	if len(c) == 0 {
		return 0
	}
	if len(c) < period {
		return SMA(c, len(c))
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := SMA(c[:period], period)
	for _, candleBar := range c[period:] {
		ema = candleBar.Close*k + ema*(1-k)
	}
	return ema
}

// emaSeries returns the EMA value at every index >= period-1, used to
// derive the MACD signal line (an EMA of the MACD line itself).
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// RSI computes the Relative Strength Index with Wilder's smoothing.
// Insufficient data returns the neutral value 50.0; zero average loss
// returns 100.0 (spec.md §4.1).
func RSI(c []candle.Candle, period int) float64 {
	if len(c) < period+1 {
		return 50.0
	}
	cl := closes(c)
	gain, loss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		d := cl[i] - cl[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(cl); i++ {
		d := cl[i] - cl[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func trueRange(prev, cur candle.Candle) float64 {
	return math.Max(cur.High-cur.Low,
		math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATR computes Wilder-smoothed Average True Range. Insufficient data
// returns 0.0 (spec.md §4.1).
func ATR(c []candle.Candle, period int) float64 {
	if len(c) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(c)-1)
	for i := 1; i < len(c); i++ {
		trs = append(trs, trueRange(c[i-1], c[i]))
	}
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr
}

// ATRPercent returns ATR as a percentage of the latest close.
func ATRPercent(c []candle.Candle, period int) float64 {
	if len(c) == 0 {
		return 0
	}
	last := c[len(c)-1].Close
	if last == 0 {
		return 0
	}
	return ATR(c, period) / last * 100
}

// ADX computes the Average Directional Index via Wilder-smoothed +DM/-DM
// and TR, then DX = 100*|+DI - -DI| / (+DI + -DI). Insufficient data
// returns the neutral value 20.0 (spec.md §4.1).
func ADX(c []candle.Candle, period int) float64 {
	if len(c) < period+1 {
		return 20.0
	}
	n := len(c)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := c[i].High - c[i-1].High
		downMove := c[i-1].Low - c[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(c[i-1], c[i])
	}

	smooth := func(series []float64) float64 {
		sum := 0.0
		for i := 1; i <= period; i++ {
			sum += series[i]
		}
		s := sum
		for i := period + 1; i < n; i++ {
			s = s - s/float64(period) + series[i]
		}
		return s
	}

	smTR := smooth(tr)
	smPlusDM := smooth(plusDM)
	smMinusDM := smooth(minusDM)
	if smTR == 0 {
		return 20.0
	}
	plusDI := 100 * smPlusDM / smTR
	minusDI := 100 * smMinusDM / smTR
	if plusDI+minusDI == 0 {
		return 20.0
	}
	dx := 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	return dx
}

// VWAP computes Sigma(typical_price*volume)/Sigma(volume). Empty input
// returns 0; zero total volume returns the last close (spec.md §4.1).
func VWAP(c []candle.Candle) float64 {
	if len(c) == 0 {
		return 0
	}
	var pv, v float64
	for _, k := range c {
		typical := (k.High + k.Low + k.Close) / 3
		pv += typical * k.Volume
		v += k.Volume
	}
	if v == 0 {
		return c[len(c)-1].Close
	}
	return pv / v
}

// BollingerBands holds Middle/Upper/Lower band values.
type BollingerBands struct {
	Upper, Middle, Lower float64
}

// Bollinger computes Bollinger Bands: middle = SMA(period), bands =
// middle +/- k*stdev.
func Bollinger(c []candle.Candle, period int, k float64) BollingerBands {
	if len(c) == 0 {
		return BollingerBands{}
	}
	if period > len(c) {
		period = len(c)
	}
	window := c[len(c)-period:]
	middle := SMA(window, period)
	variance := 0.0
	for _, candleBar := range window {
		d := candleBar.Close - middle
		variance += d * d
	}
	stdev := math.Sqrt(variance / float64(period))
	return BollingerBands{
		Upper:  middle + k*stdev,
		Middle: middle,
		Lower:  middle - k*stdev,
	}
}

// MACDResult holds the MACD line, its signal line (an EMA of the MACD
// line), and the histogram (MACD - signal).
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes MACD/Signal/Histogram. The signal line is a true EMA of
// the MACD line over signalPeriod bars, not the source's
// `signal_line = macd_line` placeholder (spec.md §9).
func MACD(c []candle.Candle, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(c) < slowPeriod+signalPeriod {
		return MACDResult{}
	}
	macdSeries := make([]float64, 0, len(c)-slowPeriod+1)
	for i := slowPeriod; i <= len(c); i++ {
		window := c[:i]
		macdSeries = append(macdSeries, EMA(window, fastPeriod)-EMA(window, slowPeriod))
	}
	signalSeries := emaSeries(macdSeries, signalPeriod)
	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := macdLine
	if len(signalSeries) > 0 {
		signalLine = signalSeries[len(signalSeries)-1]
	}
	return MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

// VolumeBin is one bin of a volume profile.
type VolumeBin struct {
	PriceLow, PriceHigh, Volume float64
}

// VolumeProfile is the histogram of traded volume by price, with the
// point-of-control and value-area boundaries derived from it.
type VolumeProfile struct {
	Bins []VolumeBin
	POC  float64 // price of the highest-volume bin's midpoint
	VAH  float64 // value-area high
	VAL  float64 // value-area low
}

// BuildVolumeProfile bins the price range [min_low, max_high] uniformly
// into numBins bins and distributes each candle's volume to overlapping
// bins proportional to the overlap of the bin range with the candle's
// [low, high] range (spec.md §4.1). POC is the bin with the most volume;
// VAH/VAL bound the densest contiguous region accumulating 70% of total
// volume, expanding outward from the POC bin — not the source's
// `vah=max_price, val=min_price` placeholder (spec.md §9).
func BuildVolumeProfile(c []candle.Candle, numBins int) VolumeProfile {
	if len(c) == 0 || numBins <= 0 {
		return VolumeProfile{}
	}
	lo, hi := c[0].Low, c[0].High
	for _, k := range c {
		if k.Low < lo {
			lo = k.Low
		}
		if k.High > hi {
			hi = k.High
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	binWidth := (hi - lo) / float64(numBins)
	bins := make([]VolumeBin, numBins)
	for i := range bins {
		bins[i] = VolumeBin{PriceLow: lo + float64(i)*binWidth, PriceHigh: lo + float64(i+1)*binWidth}
	}

	for _, k := range c {
		candleRange := k.High - k.Low
		if candleRange <= 0 {
			idx := int((k.Close - lo) / binWidth)
			if idx < 0 {
				idx = 0
			}
			if idx >= numBins {
				idx = numBins - 1
			}
			bins[idx].Volume += k.Volume
			continue
		}
		for i := range bins {
			overlapLow := math.Max(bins[i].PriceLow, k.Low)
			overlapHigh := math.Min(bins[i].PriceHigh, k.High)
			overlap := overlapHigh - overlapLow
			if overlap <= 0 {
				continue
			}
			bins[i].Volume += k.Volume * (overlap / candleRange)
		}
	}

	total := 0.0
	pocIdx := 0
	for i, b := range bins {
		total += b.Volume
		if b.Volume > bins[pocIdx].Volume {
			pocIdx = i
		}
	}

	vah, val := bins[pocIdx].PriceHigh, bins[pocIdx].PriceLow
	acc := bins[pocIdx].Volume
	lowIdx, highIdx := pocIdx, pocIdx
	target := total * 0.70
	for acc < target && (lowIdx > 0 || highIdx < numBins-1) {
		lowVol, highVol := -1.0, -1.0
		if lowIdx > 0 {
			lowVol = bins[lowIdx-1].Volume
		}
		if highIdx < numBins-1 {
			highVol = bins[highIdx+1].Volume
		}
		if highVol >= lowVol {
			highIdx++
			acc += bins[highIdx].Volume
			vah = bins[highIdx].PriceHigh
		} else {
			lowIdx--
			acc += bins[lowIdx].Volume
			val = bins[lowIdx].PriceLow
		}
	}

	return VolumeProfile{
		Bins: bins,
		POC:  (bins[pocIdx].PriceLow + bins[pocIdx].PriceHigh) / 2,
		VAH:  vah,
		VAL:  val,
	}
}

// AverageVolume returns the mean volume of the last period candles
// (or of all candles if fewer than period are available).
func AverageVolume(c []candle.Candle, period int) float64 {
	if len(c) == 0 {
		return 0
	}
	if period > len(c) || period <= 0 {
		period = len(c)
	}
	sum := 0.0
	for _, k := range c[len(c)-period:] {
		sum += k.Volume
	}
	return sum / float64(period)
}

// VolumeRatio is the current bar's volume divided by the mean of the
// previous n bars (used by Tier-1's volume gate, spec.md §4.6).
func VolumeRatio(c []candle.Candle, lookback int) float64 {
	if len(c) < lookback+1 {
		return 1.0
	}
	cur := c[len(c)-1].Volume
	avg := AverageVolume(c[:len(c)-1], lookback)
	if avg == 0 {
		return 1.0
	}
	return cur / avg
}
