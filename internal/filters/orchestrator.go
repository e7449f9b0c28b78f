package filters

import (
	"math"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/indicators"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/structure"
)

// OrderBookLevel is one side's price/size pair.
type OrderBookLevel struct {
	Price, Size float64
}

// OrderBook holds both sides, best price first.
type OrderBook struct {
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

// Bundle is the full data snapshot the orchestrator needs for one
// evaluation, assembled by the Engine from the candle cache and REST
// calls (spec.md §4.9 step 2).
type Bundle struct {
	Symbol           string
	MarketType       regime.MarketType
	BTC              regime.Result
	Direction        structure.Direction
	Primary          []candle.Candle // the signal's primary timeframe (15m)
	Series5m         []candle.Candle
	Series15m        []candle.Candle
	Series1h         []candle.Candle
	Series4h         []candle.Candle
	Structure        structure.Result
	OrderBook        *OrderBook
	FundingRate      float64
	OpenInterest     float64
	FearGreed        int
	SessionHourIST   int
	AvoidSession     bool
	BTCCorrelation1h float64
}

// Tier1Gate is one mandatory boolean gate's result.
type Tier1Gate struct {
	Passed  bool
	Message string
}

// Tier2Filter is one weighted quality filter's result.
type Tier2Filter struct {
	Passed  bool
	Score   float64
	Weight  float64
	Message string
}

// Tier3Bonus is one additive bonus's result.
type Tier3Bonus struct {
	Bonus   float64
	Message string
}

// Result is the full FilterResult of spec.md §3/§4.6.
type Result struct {
	Passed bool
	Tier1  map[string]Tier1Gate
	Tier2  map[string]Tier2Filter
	Tier3  map[string]Tier3Bonus
	Score  float64
	Grade  Grade
	Reason string
}

// Tier2Weight is the declared max score for one Tier-2 filter; the nine
// weights sum to 100 (spec.md §4.6).
var Tier2Weight = map[string]float64{
	"mtf_confirmation":   20,
	"volume_profile":     15,
	"funding_rate":       10,
	"open_interest":      10,
	"rsi_divergence":     15,
	"ema_stack":          10,
	"atr_percent":        10,
	"vwap_position":      5,
	"support_resistance": 5,
}

func thresholdFor(mt regime.MarketType) float64 {
	switch mt {
	case regime.MarketTrending:
		return 60
	case regime.MarketChoppy:
		return 55
	case regime.MarketHighVol:
		return 65
	default:
		return 60
	}
}

// Orchestrator runs the three-tier sieve of spec.md §4.6.
type Orchestrator struct{}

// NewOrchestrator constructs an Orchestrator. It holds no state: every
// evaluation is a pure function of its Bundle.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

// Evaluate runs Tier1, then (only if Tier1 passes) Tier2 and Tier3,
// and assembles the final FilterResult. The orchestrator never panics;
// missing data degrades individual filters to a failed/neutral result
// rather than aborting the evaluation (spec.md §4.6 Error conditions).
func (o *Orchestrator) Evaluate(b Bundle) Result {
	res := Result{
		Tier1: make(map[string]Tier1Gate),
		Tier2: make(map[string]Tier2Filter),
		Tier3: make(map[string]Tier3Bonus),
	}

	res.Tier1["btc_regime"] = gateBTCRegime(b)
	res.Tier1["structure"] = gateStructure(b)
	res.Tier1["volume"] = gateVolume(b)
	res.Tier1["liquidity"] = gateLiquidity(b)
	res.Tier1["session"] = gateSession(b)

	allTier1 := true
	for _, g := range res.Tier1 {
		if !g.Passed {
			allTier1 = false
		}
	}
	if !allTier1 {
		res.Passed = false
		res.Grade = GradeD
		res.Reason = "tier1 gate failed"
		return res
	}

	maxScore := 0.0
	rawScore := 0.0
	for name, weight := range Tier2Weight {
		f := evaluateTier2(name, weight, b)
		res.Tier2[name] = f
		rawScore += f.Score
		maxScore += weight
	}
	pct := 0.0
	if maxScore > 0 {
		pct = rawScore / maxScore * 100
	}

	res.Tier3["whale_movement"] = bonusWhaleMovement(b)
	res.Tier3["liquidity_grab"] = bonusLiquidityGrab(b)
	res.Tier3["iceberg_detection"] = bonusIceberg(b)
	res.Tier3["news_sentiment"] = bonusNewsSentiment(b)
	res.Tier3["correlation_break"] = bonusCorrelationBreak(b)
	res.Tier3["fibonacci_level"] = bonusFibonacciLevel(b)
	for _, t3 := range res.Tier3 {
		pct += t3.Bonus
	}
	if pct > 100 {
		pct = 100
	}

	res.Score = pct
	res.Grade = GradeFromScore(pct)

	threshold := thresholdFor(b.MarketType)
	res.Passed = pct >= threshold && res.Grade.Eligible()
	if !res.Passed {
		res.Reason = "score below threshold or grade below B"
	}
	return res
}

func gateBTCRegime(b Bundle) Tier1Gate {
	if !b.BTC.CanTrade {
		return Tier1Gate{Passed: false, Message: "btc regime not tradable"}
	}
	if b.Direction != "" && b.Direction != structure.DirSideways {
		opposite := (b.Direction == structure.DirUp && b.BTC.Direction == structure.DirDown) ||
			(b.Direction == structure.DirDown && b.BTC.Direction == structure.DirUp)
		if opposite {
			return Tier1Gate{Passed: false, Message: "direction opposes btc regime"}
		}
	}
	if b.BTC.Confidence < 20 {
		return Tier1Gate{Passed: false, Message: "btc confidence below 20"}
	}
	return Tier1Gate{Passed: true}
}

func gateStructure(b Bundle) Tier1Gate {
	if len(b.Primary) < 20 {
		return Tier1Gate{Passed: false, Message: "insufficient data"}
	}
	if b.Structure.Strength != structure.StrengthWeak || b.Structure.BOS {
		return Tier1Gate{Passed: true}
	}
	return Tier1Gate{Passed: false, Message: "weak structure without bos"}
}

func gateVolume(b Bundle) Tier1Gate {
	if len(b.Primary) < 5 {
		return Tier1Gate{Passed: false, Message: "insufficient data"}
	}
	ratio := indicators.VolumeRatio(b.Primary, 4)
	if ratio >= 0.7 {
		return Tier1Gate{Passed: true}
	}
	return Tier1Gate{Passed: false, Message: "volume below 0.7x average"}
}

func gateLiquidity(b Bundle) Tier1Gate {
	if b.OrderBook == nil || len(b.OrderBook.Bids) == 0 || len(b.OrderBook.Asks) == 0 {
		return Tier1Gate{Passed: true, Message: "orderbook unavailable, passed by policy"}
	}
	bestBid := b.OrderBook.Bids[0].Price
	bestAsk := b.OrderBook.Asks[0].Price
	if bestBid <= 0 || bestAsk <= 0 {
		return Tier1Gate{Passed: true, Message: "orderbook unavailable, passed by policy"}
	}
	spreadPct := (bestAsk - bestBid) / bestAsk * 100
	if spreadPct > 0.1 {
		return Tier1Gate{Passed: false, Message: "spread exceeds 0.1%"}
	}
	bidDepth := depthUSD(b.OrderBook.Bids, 5)
	askDepth := depthUSD(b.OrderBook.Asks, 5)
	if bidDepth < 10000 || askDepth < 10000 {
		return Tier1Gate{Passed: false, Message: "top-5 depth below $10k"}
	}
	return Tier1Gate{Passed: true}
}

func depthUSD(levels []OrderBookLevel, topN int) float64 {
	if topN > len(levels) {
		topN = len(levels)
	}
	sum := 0.0
	for _, l := range levels[:topN] {
		sum += l.Price * l.Size
	}
	return sum
}

// sessionWindow is an inclusive-start, exclusive-end IST hour range.
type sessionWindow struct {
	start, end int
}

var istSessions = []sessionWindow{
	{7, 11},  // Asia
	{13, 17}, // London
	{17, 22}, // NY
	{22, 24}, // Overlap
}

func gateSession(b Bundle) Tier1Gate {
	if b.AvoidSession {
		return Tier1Gate{Passed: false, Message: "inside avoid window"}
	}
	for _, w := range istSessions {
		if b.SessionHourIST >= w.start && b.SessionHourIST < w.end {
			return Tier1Gate{Passed: true}
		}
	}
	return Tier1Gate{Passed: false, Message: "outside trading session"}
}

func evaluateTier2(name string, weight float64, b Bundle) Tier2Filter {
	switch name {
	case "mtf_confirmation":
		return mtfConfirmation(b, weight)
	case "volume_profile":
		return volumeProfileFilter(b, weight)
	case "funding_rate":
		return fundingRateFilter(b, weight)
	case "open_interest":
		return openInterestFilter(b, weight)
	case "rsi_divergence":
		return rsiDivergenceFilter(b, weight)
	case "ema_stack":
		return emaStackFilter(b, weight)
	case "atr_percent":
		return atrPercentFilter(b, weight)
	case "vwap_position":
		return vwapPositionFilter(b, weight)
	case "support_resistance":
		return supportResistanceFilter(b, weight)
	default:
		return Tier2Filter{Weight: weight, Message: "unknown filter"}
	}
}

func mtfConfirmation(b Bundle, weight float64) Tier2Filter {
	if len(b.Series1h) < 20 || len(b.Series15m) < 20 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	s15 := structure.Detect(b.Series15m, 2, 2)
	s1h := structure.Detect(b.Series1h, 2, 2)
	if s15.Direction == s1h.Direction && s15.Direction != structure.DirSideways {
		return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "15m/1h aligned"}
	}
	return Tier2Filter{Weight: weight, Message: "timeframes not aligned"}
}

func volumeProfileFilter(b Bundle, weight float64) Tier2Filter {
	if len(b.Primary) < 20 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	vp := indicators.BuildVolumeProfile(b.Primary, 20)
	last := b.Primary[len(b.Primary)-1].Close
	if last >= vp.VAL && last <= vp.VAH {
		return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "price within value area"}
	}
	half := weight / 2
	return Tier2Filter{Passed: false, Score: half, Weight: weight, Message: "price outside value area"}
}

func fundingRateFilter(b Bundle, weight float64) Tier2Filter {
	abs := math.Abs(b.FundingRate)
	if abs <= 0.0003 {
		return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "funding neutral"}
	}
	if abs <= 0.0008 {
		return Tier2Filter{Passed: true, Score: weight * 0.5, Weight: weight, Message: "funding elevated"}
	}
	return Tier2Filter{Passed: false, Weight: weight, Message: "funding extreme"}
}

func openInterestFilter(b Bundle, weight float64) Tier2Filter {
	if b.OpenInterest <= 0 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "open interest present"}
}

func rsiDivergenceFilter(b Bundle, weight float64) Tier2Filter {
	if b.Structure.BullishDivergence || b.Structure.BearishDivergence {
		return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "divergence detected"}
	}
	return Tier2Filter{Weight: weight, Message: "no divergence"}
}

func emaStackFilter(b Bundle, weight float64) Tier2Filter {
	if len(b.Primary) < 200 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	ema9 := indicators.EMA(b.Primary, 9)
	ema21 := indicators.EMA(b.Primary, 21)
	ema200 := indicators.EMA(b.Primary, 200)
	if (ema9 > ema21 && ema21 > ema200) || (ema9 < ema21 && ema21 < ema200) {
		return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "ema stack aligned"}
	}
	return Tier2Filter{Weight: weight, Message: "ema stack not aligned"}
}

func atrPercentFilter(b Bundle, weight float64) Tier2Filter {
	if len(b.Primary) < 15 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	pct := indicators.ATRPercent(b.Primary, 14)
	if pct >= 0.4 && pct <= 3.0 {
		return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "atr% within range"}
	}
	return Tier2Filter{Weight: weight, Message: "atr% out of range"}
}

func vwapPositionFilter(b Bundle, weight float64) Tier2Filter {
	if len(b.Primary) == 0 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	vwap := indicators.VWAP(b.Primary)
	last := b.Primary[len(b.Primary)-1].Close
	if vwap == 0 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	diffPct := math.Abs(last-vwap) / vwap * 100
	if diffPct <= 1.0 {
		return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "near vwap"}
	}
	return Tier2Filter{Weight: weight, Message: "far from vwap"}
}

func supportResistanceFilter(b Bundle, weight float64) Tier2Filter {
	if len(b.Primary) == 0 {
		return Tier2Filter{Weight: weight, Message: "insufficient data"}
	}
	last := b.Primary[len(b.Primary)-1].Close
	for _, lvl := range append(append([]structure.Level{}, b.Structure.Supports...), b.Structure.Resistances...) {
		if lvl.Price == 0 {
			continue
		}
		if math.Abs(last-lvl.Price)/lvl.Price*100 <= 0.5 {
			return Tier2Filter{Passed: true, Score: weight, Weight: weight, Message: "near key level"}
		}
	}
	return Tier2Filter{Weight: weight, Message: "no nearby level"}
}

func bonusWhaleMovement(b Bundle) Tier3Bonus {
	if b.OrderBook == nil {
		return Tier3Bonus{}
	}
	threshold := 50000.0
	for _, l := range b.OrderBook.Bids {
		if l.Price*l.Size >= threshold {
			return Tier3Bonus{Bonus: 5, Message: "large resting bid"}
		}
	}
	for _, l := range b.OrderBook.Asks {
		if l.Price*l.Size >= threshold {
			return Tier3Bonus{Bonus: 5, Message: "large resting ask"}
		}
	}
	return Tier3Bonus{}
}

func bonusLiquidityGrab(b Bundle) Tier3Bonus {
	events := structure.DetectLiquidity(b.Primary, b.Structure.Swings)
	for _, e := range events {
		if e.Kind == "grab" {
			return Tier3Bonus{Bonus: 8, Message: "liquidity grab"}
		}
	}
	return Tier3Bonus{}
}

func bonusIceberg(b Bundle) Tier3Bonus {
	if b.OrderBook == nil || len(b.OrderBook.Bids) < 3 {
		return Tier3Bonus{}
	}
	refSize := b.OrderBook.Bids[0].Size
	repeats := 0
	for _, l := range b.OrderBook.Bids[:3] {
		if refSize > 0 && math.Abs(l.Size-refSize)/refSize < 0.05 {
			repeats++
		}
	}
	if repeats >= 3 {
		return Tier3Bonus{Bonus: 5, Message: "iceberg pattern on bids"}
	}
	return Tier3Bonus{}
}

func bonusNewsSentiment(b Bundle) Tier3Bonus {
	// Stub per spec.md §4.6: no sentiment feed wired yet.
	return Tier3Bonus{}
}

func bonusCorrelationBreak(b Bundle) Tier3Bonus {
	if b.BTCCorrelation1h < 0.3 && b.Structure.Direction != b.BTC.Direction {
		return Tier3Bonus{Bonus: 4, Message: "correlation break"}
	}
	return Tier3Bonus{}
}

func bonusFibonacciLevel(b Bundle) Tier3Bonus {
	if len(b.Primary) < 2 {
		return Tier3Bonus{}
	}
	hi, lo := b.Primary[0].High, b.Primary[0].Low
	for _, k := range b.Primary {
		if k.High > hi {
			hi = k.High
		}
		if k.Low < lo {
			lo = k.Low
		}
	}
	if hi <= lo {
		return Tier3Bonus{}
	}
	last := b.Primary[len(b.Primary)-1].Close
	levels := []float64{0.236, 0.382, 0.5, 0.618, 0.786}
	for _, lvl := range levels {
		price := hi - (hi-lo)*lvl
		if math.Abs(last-price)/price*100 <= 0.3 {
			return Tier3Bonus{Bonus: 2, Message: "near fibonacci level"}
		}
	}
	return Tier3Bonus{}
}
