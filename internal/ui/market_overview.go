package ui

import (
	"fmt"
	"sort"

	"github.com/rivo/tview"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/metrics"
	"github.com/whalewatch/engine/internal/store"
)

var marketHeaders = []string{"Asset", "Price", "Open Interest", "Whales", "Whale Vol", "Updated"}

// MarketOverviewView displays monitored assets with market stats and whale activity.
type MarketOverviewView struct {
	table *tview.Table
}

// NewMarketOverviewView creates a new market overview view.
func NewMarketOverviewView() *MarketOverviewView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)
	table.SetTitle(" Markets ").SetBorder(true)
	setHeader(table, marketHeaders)

	return &MarketOverviewView{table: table}
}

// Widget returns the tview primitive.
func (v *MarketOverviewView) Widget() tview.Primitive {
	return v.table
}

// Update refreshes the view. Assets are ordered by open interest in USD.
func (v *MarketOverviewView) Update(markets []store.MarketStats, snapshot metrics.Snapshot) {
	v.table.Clear()
	setHeader(v.table, marketHeaders)

	rows := make([]store.MarketStats, len(markets))
	copy(rows, markets)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].OpenInterest*rows[i].Price > rows[j].OpenInterest*rows[j].Price
	})

	for i, m := range rows {
		activity := snapshot.Assets[m.Asset]
		cells := []string{
			m.Asset,
			alert.Price(m.Price),
			alert.CompactUSD(m.OpenInterest * m.Price),
			fmt.Sprintf("%d", activity.WhaleTrades),
			alert.CompactUSD(activity.WhaleVolume),
			formatTimeAgo(m.UpdatedAt),
		}
		for col, text := range cells {
			v.table.SetCell(i+1, col, tview.NewTableCell(text).SetAlign(tview.AlignLeft).SetExpansion(1))
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Markets (%d) ", len(rows)))
}
