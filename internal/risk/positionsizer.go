package risk

import (
	"math"

	"futures-signal-engine/internal/regime"
)

// PositionSizeConfig bundles the tunables spec.md §6 enumerates for
// position sizing.
type PositionSizeConfig struct {
	RiskPerTradePct float64 // RISK_PER_TRADE
	MaxPositionPct  float64 // MAX_POSITION_PCT
	MinPosition     float64 // MIN_POSITION
	MaxATRPct       float64 // MAX_ATR_PCT
	Leverage        float64 // MAX_LEVERAGE
}

// PositionSizeResult is spec.md §3's PositionSize record.
type PositionSizeResult struct {
	PositionUSD     float64
	Contracts       float64
	RiskUSD         float64
	RiskPct         float64
	StopDistancePct float64
	Leverage        float64
	Blocked         bool
	Reason          string
}

// PositionSizer implements spec.md §4.8's sizing formula: a base risk
// amount scaled down sequentially by ATR, fear-greed, and market-type
// multipliers, then capped/floored. Grounded on the teacher's
// calculatePercentSize in the deleted manager.go for the base
// risk-amount/stop-distance formula; the multiplier chain itself is new,
// since the teacher applies no ATR/fear/market scaling at all.
type PositionSizer struct {
	cfg PositionSizeConfig
}

// NewPositionSizer constructs a PositionSizer with the given config.
func NewPositionSizer(cfg PositionSizeConfig) *PositionSizer {
	return &PositionSizer{cfg: cfg}
}

// Calculate implements spec.md §4.8's PositionSizer.calculate.
func (p *PositionSizer) Calculate(accountSize, entry, stopLoss, atrPct float64, fearIndex int, marketType regime.MarketType) PositionSizeResult {
	if entry == stopLoss {
		return PositionSizeResult{Blocked: true, Reason: "entry equals stop"}
	}
	stopDistancePct := math.Abs(entry-stopLoss) / entry * 100
	// Both bounds are inclusive; the tolerance keeps a stop placed exactly
	// 0.1% or 5% away in decimal prices from failing on binary rounding.
	const boundTolerance = 1e-9
	if stopDistancePct < 0.1-boundTolerance {
		return PositionSizeResult{Blocked: true, Reason: "stop too tight"}
	}
	if stopDistancePct > 5+boundTolerance {
		return PositionSizeResult{Blocked: true, Reason: "stop too wide"}
	}
	if p.cfg.MaxATRPct > 0 && atrPct > p.cfg.MaxATRPct {
		return PositionSizeResult{Blocked: true, Reason: "atr% above max"}
	}

	riskAmount := accountSize * (p.cfg.RiskPerTradePct / 100)
	positionUSD := riskAmount / (stopDistancePct / 100)

	mult := atrMultiplier(atrPct, p.cfg.MaxATRPct) * fearMultiplier(fearIndex) * marketMultiplier(marketType)
	positionUSD *= mult

	maxPosition := p.cfg.MaxPositionPct * accountSize
	if positionUSD > maxPosition {
		positionUSD = maxPosition
	}
	if positionUSD < p.cfg.MinPosition {
		positionUSD = p.cfg.MinPosition
	}

	leverage := p.cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	contracts := 0.0
	if entry > 0 {
		contracts = positionUSD / entry
	}

	return PositionSizeResult{
		PositionUSD:     positionUSD,
		Contracts:       contracts,
		RiskUSD:         riskAmount,
		RiskPct:         p.cfg.RiskPerTradePct,
		StopDistancePct: stopDistancePct,
		Leverage:        leverage,
	}
}

func atrMultiplier(atrPct, maxATRPct float64) float64 {
	switch {
	case maxATRPct > 0 && atrPct > maxATRPct:
		return 0 // caller already blocks this case before Calculate reaches here
	case atrPct > 2.5:
		return 0.5
	case atrPct < 0.5:
		return 0.7
	default:
		return 1.0
	}
}

func fearMultiplier(fearIndex int) float64 {
	switch {
	case fearIndex < 20:
		return 0.5
	case fearIndex < 40:
		return 0.8
	case fearIndex > 75:
		return 0.3
	case fearIndex > 60:
		return 0.7
	default:
		return 1.0
	}
}

func marketMultiplier(mt regime.MarketType) float64 {
	switch mt {
	case regime.MarketTrending:
		return 1.0
	case regime.MarketChoppy:
		return 0.8
	case regime.MarketHighVol:
		return 0.5
	default:
		return 0.9
	}
}
