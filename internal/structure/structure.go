// Package structure implements the pure market-structure analysis of
// spec.md §4.4: swing points, break-of-structure/change-of-character
// detection, support/resistance, divergence, and liquidity analysis.
// Grounded on the teacher's internal/strategy/indicators.go (DetectTrend,
// FindSupportResistance) for the "scan candles for local extrema" idiom,
// generalized into a dedicated analyzer since the teacher keeps these
// concerns inline in the strategy package rather than as a component of
// their own.
package structure

import (
	"math"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/indicators"
)

// Direction is the structural bias implied by recent swings.
type Direction string

const (
	DirUp      Direction = "UP"
	DirDown    Direction = "DOWN"
	DirSideways Direction = "SIDEWAYS"
)

// Strength classifies how decisively the structure supports Direction.
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
)

const (
	defaultLeftBars  = 2
	defaultRightBars = 2
)

// Swing is a single confirmed swing high or low.
type Swing struct {
	Index int
	Price float64
	High  bool // true for a swing high, false for a swing low
}

// Level is a support or resistance price derived from local extrema.
type Level struct {
	Price   float64
	Index   int
	IsHigh  bool
}

// Result is the full structural read of one OHLCV series.
type Result struct {
	Direction       Direction
	Strength        Strength
	BOS             bool
	CHoCH           bool
	Swings          []Swing
	Resistances     []Level
	Supports        []Level
	BullishDivergence bool
	BearishDivergence bool
}

// findSwings returns every swing high and swing low, using the symmetric
// left_bars/right_bars comparison of spec.md §4.4.
func findSwings(c []candle.Candle, leftBars, rightBars int) []Swing {
	var swings []Swing
	n := len(c)
	for i := leftBars; i < n-rightBars; i++ {
		isHigh, isLow := true, true
		for l := 1; l <= leftBars; l++ {
			if c[i-l].High >= c[i].High {
				isHigh = false
			}
			if c[i-l].Low <= c[i].Low {
				isLow = false
			}
		}
		for r := 1; r <= rightBars; r++ {
			if c[i+r].High >= c[i].High {
				isHigh = false
			}
			if c[i+r].Low <= c[i].Low {
				isLow = false
			}
		}
		if isHigh {
			swings = append(swings, Swing{Index: i, Price: c[i].High, High: true})
		}
		if isLow {
			swings = append(swings, Swing{Index: i, Price: c[i].Low, High: false})
		}
	}
	return swings
}

func lastTwo(swings []Swing, high bool) (prev, last *Swing) {
	var matched []Swing
	for _, s := range swings {
		if s.High == high {
			matched = append(matched, s)
		}
	}
	n := len(matched)
	if n == 0 {
		return nil, nil
	}
	if n == 1 {
		return nil, &matched[0]
	}
	return &matched[n-2], &matched[n-1]
}

// Detect runs the full structure analysis on one timeframe's OHLCV
// series (spec.md §4.4). leftBars/rightBars default to 2 when <= 0.
func Detect(c []candle.Candle, leftBars, rightBars int) Result {
	if leftBars <= 0 {
		leftBars = defaultLeftBars
	}
	if rightBars <= 0 {
		rightBars = defaultRightBars
	}
	res := Result{Direction: DirSideways, Strength: StrengthWeak}
	swings := findSwings(c, leftBars, rightBars)
	res.Swings = swings

	prevHigh, lastHigh := lastTwo(swings, true)
	prevLow, lastLow := lastTwo(swings, false)

	higherHigh := prevHigh != nil && lastHigh != nil && lastHigh.Price > prevHigh.Price
	lowerHigh := prevHigh != nil && lastHigh != nil && lastHigh.Price < prevHigh.Price
	higherLow := prevLow != nil && lastLow != nil && lastLow.Price > prevLow.Price
	lowerLow := prevLow != nil && lastLow != nil && lastLow.Price < prevLow.Price

	switch {
	case higherHigh && higherLow:
		res.Direction = DirUp
	case lowerHigh && lowerLow:
		res.Direction = DirDown
	default:
		res.Direction = DirSideways
	}

	if len(c) > 0 {
		lastClose := c[len(c)-1].Close
		if lastHigh != nil && lastClose > lastHigh.Price {
			res.BOS = true
		}
		if lastLow != nil && lastClose < lastLow.Price {
			res.BOS = true
		}
		// CHoCH: the most recent swing reverses the prior established
		// direction (a lower high after an uptrend, or a higher low
		// after a downtrend).
		if prevHigh != nil && lastHigh != nil && higherLow && lowerHigh {
			res.CHoCH = true
		}
		if prevLow != nil && lastLow != nil && lowerHigh && higherLow {
			res.CHoCH = true
		}
	}

	switch {
	case res.CHoCH:
		res.Strength = StrengthStrong
	case res.BOS:
		res.Strength = StrengthModerate
	default:
		res.Strength = StrengthWeak
	}

	res.Resistances, res.Supports = supportResistance(swings, 5)
	res.BullishDivergence, res.BearishDivergence = detectDivergence(c, swings)

	return res
}

// supportResistance buckets swing highs/lows into sorted levels: top N
// resistances (highest first), top N supports (lowest first).
func supportResistance(swings []Swing, topN int) (resistances, supports []Level) {
	for _, s := range swings {
		lvl := Level{Price: s.Price, Index: s.Index, IsHigh: s.High}
		if s.High {
			resistances = append(resistances, lvl)
		} else {
			supports = append(supports, lvl)
		}
	}
	sortDesc(resistances)
	sortAsc(supports)
	if len(resistances) > topN {
		resistances = resistances[:topN]
	}
	if len(supports) > topN {
		supports = supports[:topN]
	}
	return resistances, supports
}

func sortDesc(levels []Level) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Price > levels[j-1].Price; j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

func sortAsc(levels []Level) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Price < levels[j-1].Price; j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

// detectDivergence compares price against RSI across the swing window:
// bullish when price makes a lower low while RSI makes a higher low at
// the latest point, symmetric for bearish. The comparison point is the
// earliest swing low/high in the lookback window, not index 0 of the raw
// closes slice — a bug in the Python ancestor's divergence routine that
// spec.md §9 explicitly calls out and requires correcting.
func detectDivergence(c []candle.Candle, swings []Swing) (bullish, bearish bool) {
	var lows, highs []Swing
	for _, s := range swings {
		if s.High {
			highs = append(highs, s)
		} else {
			lows = append(lows, s)
		}
	}
	if len(lows) >= 2 {
		earliest := lows[0]
		latest := lows[len(lows)-1]
		if latest.Price < earliest.Price {
			rsiEarliest := indicators.RSI(c[:earliest.Index+1], 14)
			rsiLatest := indicators.RSI(c[:latest.Index+1], 14)
			if rsiLatest > rsiEarliest {
				bullish = true
			}
		}
	}
	if len(highs) >= 2 {
		earliest := highs[0]
		latest := highs[len(highs)-1]
		if latest.Price > earliest.Price {
			rsiEarliest := indicators.RSI(c[:earliest.Index+1], 14)
			rsiLatest := indicators.RSI(c[:latest.Index+1], 14)
			if rsiLatest < rsiEarliest {
				bearish = true
			}
		}
	}
	return bullish, bearish
}

// LiquidityEvent is one detected sweep, grab, or order-block event.
type LiquidityEvent struct {
	Kind  string // "sweep", "grab", "order_block"
	Index int
	Price float64
	Fade  Direction
}

// DetectLiquidity scans the tail of the series for sweeps, grabs, and
// order blocks against the already-computed swing levels (spec.md §4.4).
func DetectLiquidity(c []candle.Candle, swings []Swing) []LiquidityEvent {
	var events []LiquidityEvent
	if len(c) < 3 {
		return events
	}

	avgBody, avgMove := averageBodyAndMove(c)

	last := c[len(c)-1]
	for _, s := range swings {
		if s.High && last.High > s.Price && last.Close < s.Price {
			events = append(events, LiquidityEvent{Kind: "sweep", Index: len(c) - 1, Price: s.Price, Fade: DirDown})
		}
		if !s.High && last.Low < s.Price && last.Close > s.Price {
			events = append(events, LiquidityEvent{Kind: "sweep", Index: len(c) - 1, Price: s.Price, Fade: DirUp})
		}
	}

	upperWick := last.High - math.Max(last.Open, last.Close)
	lowerWick := math.Min(last.Open, last.Close) - last.Low
	body := math.Abs(last.Close - last.Open)
	if avgBody > 0 {
		// A liquidity grab is a rejection wick, not a trend candle: the
		// body must stay small relative to the wick doing the rejecting.
		if upperWick >= 0.5*avgBody && body < upperWick && last.Close < last.Open {
			events = append(events, LiquidityEvent{Kind: "grab", Index: len(c) - 1, Price: last.High, Fade: DirDown})
		}
		if lowerWick >= 0.5*avgBody && body < lowerWick && last.Close > last.Open {
			events = append(events, LiquidityEvent{Kind: "grab", Index: len(c) - 1, Price: last.Low, Fade: DirUp})
		}
	}

	if len(c) >= 2 && avgMove > 0 {
		prev := c[len(c)-2]
		move := math.Abs(prev.Close - prev.Open)
		if move >= 1.5*avgMove {
			dir := DirUp
			if prev.Close < prev.Open {
				dir = DirDown
			}
			events = append(events, LiquidityEvent{Kind: "order_block", Index: len(c) - 2, Price: prev.Open, Fade: dir})
		}
	}

	return events
}

func averageBodyAndMove(c []candle.Candle) (avgBody, avgMove float64) {
	n := len(c)
	if n == 0 {
		return 0, 0
	}
	var bodySum, moveSum float64
	for _, k := range c {
		bodySum += math.Abs(k.Close - k.Open)
	}
	for i := 1; i < n; i++ {
		moveSum += math.Abs(c[i].Close - c[i-1].Close)
	}
	avgBody = bodySum / float64(n)
	if n > 1 {
		avgMove = moveSum / float64(n-1)
	}
	return avgBody, avgMove
}
