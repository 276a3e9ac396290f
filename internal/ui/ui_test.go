package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalewatch/engine/internal/metrics"
	"github.com/whalewatch/engine/internal/store"
)

func TestFormatAlert(t *testing.T) {
	a := store.Alert{
		Kind:      store.AlertNewPosition,
		Asset:     "ETH",
		Wallet:    "0x1234567890abcdef1234",
		Notional:  4_200_000,
		Text:      "🆕 NEW LONG ETH\nSize: 1,200 ETH",
		CreatedAt: time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC),
	}

	main, secondary := formatAlert(a)
	assert.Equal(t, "09:30:00 🆕 NEW_POSITION ETH $4.2M", main)
	assert.Equal(t, "Wallet: 0x1234...1234 | 🆕 NEW LONG ETH", secondary)
}

func TestLiveTradesView_KeepsNewestFirst(t *testing.T) {
	v := NewLiveTradesView()
	v.maxRows = 2

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.AddTrade(store.NewTrade("1", "BTC", store.SideBuy, 50000, 40, ts))
	v.AddTrade(store.NewTrade("2", "ETH", store.SideSell, 3000, 500, ts))
	v.AddTrade(store.NewTrade("3", "SOL", store.SideBuy, 150, 10000, ts))

	require.Len(t, v.trades, 2)
	assert.Equal(t, "SOL", v.table.GetCell(1, 1).Text)
	assert.Equal(t, "ETH", v.table.GetCell(2, 1).Text)
	assert.Equal(t, "unknown", v.table.GetCell(1, 5).Text)
}

func TestPositionsView_Update(t *testing.T) {
	v := NewPositionsView()

	v.Update(nil)
	assert.Equal(t, "No positions tracked yet...", v.table.GetCell(1, 0).Text)

	v.Update([]store.Position{{
		Wallet:           "0xabcdef0123456789abcd",
		Asset:            "BTC",
		Size:             -20,
		EntryPrice:       50000,
		LiquidationPrice: 60000,
		Leverage:         10,
		Risk:             store.Risk{RiskLevel: 3, PercentOfOI: 1.5},
	}})
	assert.Equal(t, "SHORT", v.table.GetCell(1, 2).Text)
	assert.Equal(t, "■■■", v.table.GetCell(1, 9).Text)
	assert.Equal(t, "1.50", v.table.GetCell(1, 10).Text)
}

func TestRenderStats(t *testing.T) {
	out := renderStats(metrics.Snapshot{
		StreamState:  "OPEN",
		TradesTotal:  42,
		WhaleTrades:  3,
		AlertsByKind: map[string]int64{store.AlertPositionClosed: 2},
		PublishFailures: map[string]int64{
			"telegram": 1,
			"webhook":  2,
		},
	})

	assert.Contains(t, out, "[green]OPEN[-]")
	assert.Contains(t, out, "Total: 42")
	assert.Contains(t, out, "Closed: 2")
	assert.Contains(t, out, "Failed: 3")
	assert.Contains(t, out, "Reconcile: never")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 15m", formatDuration(2*time.Hour+15*time.Minute))
}
