package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whalewatch/engine/internal/store"
)

func TestSignificantChange(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur float64
		want      bool
	}{
		{"exactly ten percent up", 10, 11, false},
		{"exactly ten percent down", 100, 90, false},
		{"just over ten percent", 100, 110.01, true},
		{"just over ten percent down", 100, 89.99, true},
		{"short grows", -10, -12, true},
		{"flip", 10, -10, true},
		{"unchanged", 5, 5, false},
		{"from zero", 0, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SignificantChange(tt.prev, tt.cur))
		})
	}
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, 0, RiskLevel(0, 0))
	assert.Equal(t, 2, RiskLevel(5, 1))    // 1.25 + 0.5
	assert.Equal(t, 3, RiskLevel(10, 0))   // 2.5 rounds half away from zero
	assert.Equal(t, 5, RiskLevel(50, 40))  // both capped
	assert.Equal(t, 0, RiskLevel(-20, -5)) // clamped
}

func TestMarketImpactAndPercentOfOI(t *testing.T) {
	assert.InDelta(t, 10.0, PercentOfOI(-10, 100), 1e-12)
	assert.Zero(t, PercentOfOI(10, 0))
	assert.InDelta(t, 20.0, MarketImpact(10), 1e-12)
	assert.InDelta(t, 100.0, MarketImpact(80), 1e-12)
}

func TestLiquidationRisk(t *testing.T) {
	long := store.Position{Size: 10, EntryPrice: 100, LiquidationPrice: 80}
	assert.InDelta(t, 80.0, LiquidationRisk(long, 100), 1e-9)
	assert.InDelta(t, 100.0, LiquidationRisk(long, 79), 1e-9, "past liquidation clamps to 100")

	short := store.Position{Size: -10, EntryPrice: 100, LiquidationPrice: 110}
	assert.InDelta(t, 90.0, LiquidationRisk(short, 100), 1e-9)
	assert.Zero(t, LiquidationRisk(short, 50), "far away floors at 0")

	badLong := store.Position{Size: 10, EntryPrice: 100, LiquidationPrice: 100}
	assert.Zero(t, LiquidationRisk(badLong, 100))

	badShort := store.Position{Size: -10, EntryPrice: 100, LiquidationPrice: 95}
	assert.Zero(t, LiquidationRisk(badShort, 100))

	unknown := store.Position{Size: 10, EntryPrice: 100}
	assert.Zero(t, LiquidationRisk(unknown, 100))
}

func TestRealizedPnL(t *testing.T) {
	long := store.Position{Size: 10, EntryPrice: 100}
	assert.InDelta(t, 200.0, RealizedPnL(long, 120), 1e-9)

	short := store.Position{Size: -10, EntryPrice: 120}
	assert.InDelta(t, 200.0, RealizedPnL(short, 100), 1e-9)

	assert.InDelta(t, -200.0, RealizedPnL(long, 80), 1e-9)
}

func TestAnalyze(t *testing.T) {
	pos := store.Position{Size: 10, EntryPrice: 100, LiquidationPrice: 80, Leverage: 20}
	risk := Analyze(pos, store.MarketStats{Price: 100, OpenInterest: 100})

	assert.InDelta(t, 10.0, risk.PercentOfOI, 1e-12)
	assert.Equal(t, 5, risk.RiskLevel)
	assert.InDelta(t, 20.0, risk.MarketImpact, 1e-12)
	assert.InDelta(t, 80.0, risk.LiquidationRisk, 1e-9)

	// No market data: entry price stands in for the current price.
	risk = Analyze(pos, store.MarketStats{})
	assert.Zero(t, risk.PercentOfOI)
	assert.InDelta(t, 80.0, risk.LiquidationRisk, 1e-9)
}
