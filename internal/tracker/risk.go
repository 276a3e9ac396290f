package tracker

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/engine/internal/store"
)

// UpdateThreshold is the relative size change above which a tracked
// position counts as updated.
var UpdateThreshold = decimal.NewFromFloat(0.1)

// SignificantChange reports whether |cur - prev| / |prev| exceeds
// UpdateThreshold. The ratio is computed in decimal so that a change of
// exactly 10% never qualifies.
func SignificantChange(prev, cur float64) bool {
	p := decimal.NewFromFloat(prev)
	c := decimal.NewFromFloat(cur)
	if p.IsZero() {
		return !c.IsZero()
	}
	return c.Sub(p).Abs().Div(p.Abs()).GreaterThan(UpdateThreshold)
}

// PercentOfOI returns |size| / openInterest × 100, or 0 when open interest is unknown.
func PercentOfOI(size, openInterest float64) float64 {
	if openInterest <= 0 {
		return 0
	}
	return math.Abs(size) / openInterest * 100
}

// RiskLevel scores leverage and open-interest share into 0..5.
func RiskLevel(leverage, pctOI float64) int {
	score := math.Min(leverage/10, 1)*2.5 + math.Min(pctOI/5, 1)*2.5
	level := int(math.Round(score))
	if level < 0 {
		return 0
	}
	if level > 5 {
		return 5
	}
	return level
}

// MarketImpact estimates price impact as min(pctOI × 2, 100).
func MarketImpact(pctOI float64) float64 {
	return math.Min(pctOI*2, 100)
}

// LiquidationRisk returns 100 minus the percentage move from current price
// to the liquidation price, clamped to [0, 100]. It is 0 when the
// liquidation price is unknown or on the wrong side of the entry price.
func LiquidationRisk(p store.Position, current float64) float64 {
	if p.LiquidationPrice <= 0 || current <= 0 || !p.LiquidationConsistent() {
		return 0
	}

	var distance float64
	if p.IsLong() {
		distance = (current - p.LiquidationPrice) / current * 100
	} else {
		distance = (p.LiquidationPrice - current) / current * 100
	}
	return clamp(100-distance, 0, 100)
}

// Analyze computes the derived risk fields of a position.
func Analyze(p store.Position, market store.MarketStats) store.Risk {
	current := market.Price
	if current <= 0 {
		current = p.EntryPrice
	}

	pctOI := PercentOfOI(p.Size, market.OpenInterest)
	return store.Risk{
		PercentOfOI:     pctOI,
		RiskLevel:       RiskLevel(p.Leverage, pctOI),
		MarketImpact:    MarketImpact(pctOI),
		LiquidationRisk: LiquidationRisk(p, current),
	}
}

// RealizedPnL is (exit-entry)×|size| for longs and (entry-exit)×|size| for shorts.
func RealizedPnL(p store.Position, exit float64) float64 {
	e := decimal.NewFromFloat(exit)
	entry := decimal.NewFromFloat(p.EntryPrice)
	size := decimal.NewFromFloat(p.AbsSize())

	if p.IsLong() {
		return e.Sub(entry).Mul(size).InexactFloat64()
	}
	return entry.Sub(e).Mul(size).InexactFloat64()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
