// Package signal implements the SignalGenerator of spec.md §4.7: turns a
// passing FilterResult and data bundle into a validated Signal with
// entry/stop/target levels and an R:R check. Grounded on the teacher's
// internal/confluence/scorer.go for the "key factors" summary idiom
// (its Reasoning []string field) and internal/strategy/indicators.go's
// CalculateATR for the stop-distance math.
package signal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"futures-signal-engine/internal/filters"
	"futures-signal-engine/internal/indicators"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/structure"
)

// Direction is the trade side.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Profile is the per-market-type ATR multiplier and R:R floor of
// spec.md §4.7.
type Profile struct {
	SLMult float64
	TPMult float64
	MinRR  float64
}

// DefaultProfiles returns spec.md §4.7's stated multipliers per market
// type.
func DefaultProfiles() map[regime.MarketType]Profile {
	return map[regime.MarketType]Profile{
		regime.MarketTrending: {SLMult: 1.5, TPMult: 3.0, MinRR: 2.0},
		regime.MarketChoppy:   {SLMult: 1.2, TPMult: 1.8, MinRR: 1.5},
		regime.MarketHighVol:  {SLMult: 1.0, TPMult: 2.5, MinRR: 2.5},
		regime.MarketUnknown:  {SLMult: 1.5, TPMult: 3.0, MinRR: 2.0},
	}
}

// PositionSize is filled in later by the risk manager; SignalGenerator
// emits a zero value here.
type PositionSize struct {
	PositionUSD     float64
	Contracts       float64
	RiskUSD         float64
	RiskPct         float64
	StopDistancePct float64
	Leverage        float64
	Blocked         bool
	Reason          string
}

// Signal is spec.md §3's Signal record.
type Signal struct {
	Symbol           string
	Direction        Direction
	Entry            float64
	StopLoss         float64
	TakeProfit       float64
	RRRatio          float64
	Score            float64
	Grade            filters.Grade
	Confidence       float64
	MarketType       regime.MarketType
	BTCRegime        regime.BTCRegime
	StructureStrength structure.Strength
	Levels           []structure.Level
	FiltersPassed    []string
	KeyFactors       []string
	Timestamp        time.Time
	Position         PositionSize
}

var (
	// ErrStopEqualsEntry is returned when stop_loss == entry, violating
	// spec.md §3's Signal invariant.
	ErrStopEqualsEntry = errors.New("signal: stop_loss equals entry")
	// ErrTargetEqualsEntry is returned when take_profit == entry.
	ErrTargetEqualsEntry = errors.New("signal: take_profit equals entry")
	// ErrSideInconsistent is returned when direction and SL/TP sides
	// disagree.
	ErrSideInconsistent = errors.New("signal: stop/target inconsistent with direction")
	// ErrRRTooLow is returned when rr_ratio is below the market
	// profile's min_rr.
	ErrRRTooLow = errors.New("signal: rr_ratio below minimum")
	// ErrStale is returned when the signal's age at validation exceeds
	// five minutes.
	ErrStale = errors.New("signal: age exceeds 5 minutes")
)

// Validate enforces spec.md §3's Signal invariants against wall-clock
// now.
func (s Signal) Validate(now time.Time) error {
	if s.StopLoss == s.Entry {
		return ErrStopEqualsEntry
	}
	if s.TakeProfit == s.Entry {
		return ErrTargetEqualsEntry
	}
	switch s.Direction {
	case Long:
		if !(s.StopLoss < s.Entry && s.Entry < s.TakeProfit) {
			return ErrSideInconsistent
		}
	case Short:
		if !(s.TakeProfit < s.Entry && s.Entry < s.StopLoss) {
			return ErrSideInconsistent
		}
	default:
		return fmt.Errorf("signal: unknown direction %q", s.Direction)
	}
	profiles := DefaultProfiles()
	if p, ok := profiles[s.MarketType]; ok && s.RRRatio < p.MinRR {
		return ErrRRTooLow
	}
	if now.Sub(s.Timestamp) > 5*time.Minute {
		return ErrStale
	}
	return nil
}

// Generator turns a passing FilterResult into a Signal.
type Generator struct {
	profiles map[regime.MarketType]Profile
}

// NewGenerator constructs a Generator with the default ATR-multiplier
// profiles; pass nil to use DefaultProfiles().
func NewGenerator(profiles map[regime.MarketType]Profile) *Generator {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Generator{profiles: profiles}
}

// Generate builds a Signal from a passing FilterResult and the same
// Bundle the orchestrator evaluated (spec.md §4.7). now is the
// injected clock reading used as the signal's timestamp.
func (g *Generator) Generate(fr filters.Result, b filters.Bundle, now time.Time) (Signal, error) {
	if !fr.Passed {
		return Signal{}, errors.New("signal: cannot generate from a failing filter result")
	}
	if len(b.Primary) == 0 {
		return Signal{}, errors.New("signal: empty primary series")
	}

	dir := Long
	if b.Structure.Direction == structure.DirDown {
		dir = Short
	}

	entry := b.Primary[len(b.Primary)-1].Close
	atr := indicators.ATR(b.Primary, 14)
	profile, ok := g.profiles[b.MarketType]
	if !ok {
		profile = g.profiles[regime.MarketUnknown]
	}

	var stopLoss, takeProfit float64
	if dir == Long {
		stopLoss = entry - profile.SLMult*atr
		takeProfit = entry + profile.TPMult*atr
	} else {
		stopLoss = entry + profile.SLMult*atr
		takeProfit = entry - profile.TPMult*atr
	}

	rr := 0.0
	stopDist := entry - stopLoss
	if stopDist < 0 {
		stopDist = -stopDist
	}
	targetDist := takeProfit - entry
	if targetDist < 0 {
		targetDist = -targetDist
	}
	if stopDist > 0 {
		rr = targetDist / stopDist
	}

	sig := Signal{
		Symbol:            b.Symbol,
		Direction:         dir,
		Entry:             entry,
		StopLoss:          stopLoss,
		TakeProfit:        takeProfit,
		RRRatio:           rr,
		Score:             fr.Score,
		Grade:             fr.Grade,
		Confidence:        b.BTC.Confidence,
		MarketType:        b.MarketType,
		BTCRegime:         b.BTC.Regime,
		StructureStrength: b.Structure.Strength,
		Levels:            append(append([]structure.Level{}, b.Structure.Supports...), b.Structure.Resistances...),
		FiltersPassed:     passedTier2Names(fr),
		KeyFactors:        keyFactors(fr, b),
		Timestamp:         now,
	}
	if rr < profile.MinRR {
		return Signal{}, ErrRRTooLow
	}
	if err := sig.Validate(now); err != nil {
		return Signal{}, err
	}
	return sig, nil
}

func passedTier2Names(fr filters.Result) []string {
	var names []string
	for name, f := range fr.Tier2 {
		if f.Passed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// keyFactors lists the top-2 Tier-2 passes by score, plus Tier-3 hits,
// plus the structure strength label (spec.md §4.7 step 5).
func keyFactors(fr filters.Result, b filters.Bundle) []string {
	type scored struct {
		name  string
		score float64
	}
	var passes []scored
	for name, f := range fr.Tier2 {
		if f.Passed {
			passes = append(passes, scored{name, f.Score})
		}
	}
	sort.Slice(passes, func(i, j int) bool { return passes[i].score > passes[j].score })
	var out []string
	for i := 0; i < len(passes) && i < 2; i++ {
		out = append(out, passes[i].name)
	}
	var t3names []string
	for name, bonus := range fr.Tier3 {
		if bonus.Bonus > 0 {
			t3names = append(t3names, name)
		}
	}
	sort.Strings(t3names)
	out = append(out, t3names...)
	out = append(out, string(b.Structure.Strength))
	return out
}
