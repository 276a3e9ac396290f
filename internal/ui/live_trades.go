package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/store"
)

var tradeHeaders = []string{"Time", "Asset", "Side", "Price", "Value", "Buyer", "Seller"}

// LiveTradesView displays a scrolling feed of whale trades.
type LiveTradesView struct {
	table   *tview.Table
	trades  []store.Trade
	maxRows int
}

// NewLiveTradesView creates a new whale trade feed.
func NewLiveTradesView() *LiveTradesView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)
	table.SetTitle(" Whale Trades ").SetBorder(true)

	v := &LiveTradesView{
		table:   table,
		trades:  make([]store.Trade, 0, 100),
		maxRows: 100,
	}
	setHeader(table, tradeHeaders)
	return v
}

// Widget returns the tview primitive.
func (v *LiveTradesView) Widget() tview.Primitive {
	return v.table
}

// AddTrade prepends a trade, keeping at most maxRows.
func (v *LiveTradesView) AddTrade(trade store.Trade) {
	v.trades = append([]store.Trade{trade}, v.trades...)
	if len(v.trades) > v.maxRows {
		v.trades = v.trades[:v.maxRows]
	}
	v.updateTable()
}

func (v *LiveTradesView) updateTable() {
	v.table.Clear()
	setHeader(v.table, tradeHeaders)

	for i, t := range v.trades {
		row := i + 1
		sideColor := tcell.ColorGreen
		if t.Side == store.SideSell {
			sideColor = tcell.ColorRed
		}

		cells := []string{
			t.Timestamp.Format("15:04:05"),
			t.Asset,
			t.Side,
			alert.Price(t.Price),
			alert.CompactUSD(t.Notional),
			orUnknown(alert.TruncateAddress(t.Buyer)),
			orUnknown(alert.TruncateAddress(t.Seller)),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetAlign(tview.AlignLeft)
			if col == 2 {
				cell.SetTextColor(sideColor)
			}
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Whale Trades (%d) ", len(v.trades)))
}

func setHeader(table *tview.Table, headers []string) {
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false).
			SetExpansion(1)
		table.SetCell(0, col, cell)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
