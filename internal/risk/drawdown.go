package risk

import "sync"

// DrawdownLevel buckets the current drawdown into a severity used to
// scale position size.
type DrawdownLevel string

const (
	DrawdownNone     DrawdownLevel = "NONE"
	DrawdownLow      DrawdownLevel = "LOW"
	DrawdownModerate DrawdownLevel = "MODERATE"
	DrawdownHigh     DrawdownLevel = "HIGH"
	DrawdownCritical DrawdownLevel = "CRITICAL"
)

// DrawdownController tracks peak equity and derives a drawdown level
// and size multiplier from it (spec.md §4.8). Grounded on the teacher's
// accountBalance field in internal/risk/manager.go, extended with the
// peak-tracking the spec requires (the teacher only compares current
// balance to a fixed daily baseline, not to a running peak).
type DrawdownController struct {
	mu       sync.RWMutex
	peak     float64
	current  float64
	maxLevel float64 // MAX_DAILY_DRAWDOWN_PCT magnitude, used as the CRITICAL threshold
}

// NewDrawdownController constructs a controller with the given starting
// equity and the max-drawdown percentage that defines CRITICAL.
func NewDrawdownController(startEquity, maxDrawdownPct float64) *DrawdownController {
	return &DrawdownController{peak: startEquity, current: startEquity, maxLevel: maxDrawdownPct}
}

// Update records new equity and returns the resulting drawdown
// percentage (positive number, 0 at or above the peak).
func (d *DrawdownController) Update(equity float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = equity
	if equity > d.peak {
		d.peak = equity
	}
	return d.drawdownPct()
}

func (d *DrawdownController) drawdownPct() float64 {
	if d.peak <= 0 {
		return 0
	}
	dd := (d.peak - d.current) / d.peak * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// Level returns the current drawdown severity.
func (d *DrawdownController) Level() DrawdownLevel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dd := d.drawdownPct()
	switch {
	case dd >= d.maxLevel:
		return DrawdownCritical
	case dd >= 0.7*d.maxLevel:
		return DrawdownHigh
	case dd >= 0.4*d.maxLevel:
		return DrawdownModerate
	case dd > 0:
		return DrawdownLow
	default:
		return DrawdownNone
	}
}

// SizeMultiplier maps the current drawdown level to a position-size
// multiplier (spec.md §4.8).
func (d *DrawdownController) SizeMultiplier() float64 {
	switch d.Level() {
	case DrawdownCritical:
		return 0
	case DrawdownHigh:
		return 0.3
	case DrawdownModerate:
		return 0.6
	case DrawdownLow:
		return 0.8
	default:
		return 1.0
	}
}

// MaxReached reports whether the drawdown level is CRITICAL.
func (d *DrawdownController) MaxReached() bool {
	return d.Level() == DrawdownCritical
}

// ResetDaily re-anchors the peak to the given equity, used by the
// Engine's daily reset job (spec.md §4.9 step 4).
func (d *DrawdownController) ResetDaily(peak float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peak = peak
	d.current = peak
}
