package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/store"
)

var positionHeaders = []string{"Wallet", "Asset", "Side", "Size", "Notional", "Entry", "Liq", "Lev", "uPnL", "Risk", "%OI"}

// PositionsView displays tracked whale positions, largest first.
type PositionsView struct {
	table   *tview.Table
	maxRows int
}

// NewPositionsView creates a new positions table.
func NewPositionsView() *PositionsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)
	table.SetTitle(" Tracked Positions ").SetBorder(true)
	setHeader(table, positionHeaders)

	return &PositionsView{table: table, maxRows: 50}
}

// Widget returns the tview primitive.
func (v *PositionsView) Widget() tview.Primitive {
	return v.table
}

// Update redraws the table. positions are expected sorted by notional.
func (v *PositionsView) Update(positions []store.Position) {
	v.table.Clear()
	setHeader(v.table, positionHeaders)

	if len(positions) == 0 {
		v.table.SetCell(1, 0, tview.NewTableCell("No positions tracked yet...").
			SetAlign(tview.AlignCenter).
			SetExpansion(1))
		v.table.SetTitle(" Tracked Positions ")
		return
	}

	shown := positions
	if len(shown) > v.maxRows {
		shown = shown[:v.maxRows]
	}

	for i, p := range shown {
		row := i + 1

		sideColor := tcell.ColorGreen
		if !p.IsLong() {
			sideColor = tcell.ColorRed
		}
		pnlColor := tcell.ColorWhite
		if p.UnrealizedPnL > 0 {
			pnlColor = tcell.ColorGreen
		} else if p.UnrealizedPnL < 0 {
			pnlColor = tcell.ColorRed
		}

		liq := "-"
		if p.LiquidationPrice > 0 {
			liq = alert.Price(p.LiquidationPrice)
			if p.DataWarning {
				liq += "!"
			}
		}

		cells := []struct {
			text  string
			color tcell.Color
		}{
			{alert.TruncateAddress(p.Wallet), tcell.ColorWhite},
			{p.Asset, tcell.ColorWhite},
			{p.Direction(), sideColor},
			{alert.Amount(p.AbsSize()), tcell.ColorWhite},
			{alert.CompactUSD(p.Notional()), tcell.ColorWhite},
			{alert.Price(p.EntryPrice), tcell.ColorWhite},
			{liq, tcell.ColorWhite},
			{fmt.Sprintf("%.0fx", p.Leverage), tcell.ColorWhite},
			{alert.CompactUSD(p.UnrealizedPnL), pnlColor},
			{riskBar(p.Risk.RiskLevel), riskColor(p.Risk.RiskLevel)},
			{fmt.Sprintf("%.2f", p.Risk.PercentOfOI), tcell.ColorWhite},
		}
		for col, c := range cells {
			v.table.SetCell(row, col, tview.NewTableCell(c.text).
				SetAlign(tview.AlignLeft).
				SetTextColor(c.color))
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Tracked Positions (%d) ", len(positions)))
}

func riskBar(level int) string {
	if level <= 0 {
		return "-"
	}
	bar := ""
	for i := 0; i < level; i++ {
		bar += "■"
	}
	return bar
}

func riskColor(level int) tcell.Color {
	switch {
	case level >= 4:
		return tcell.ColorRed
	case level >= 2:
		return tcell.ColorYellow
	default:
		return tcell.ColorWhite
	}
}
