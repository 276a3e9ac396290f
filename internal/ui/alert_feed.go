package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/store"
)

// AlertFeedView displays alerts as they are handed to publishers.
type AlertFeedView struct {
	list     *tview.List
	alerts   []store.Alert
	maxItems int
}

// NewAlertFeedView creates a new alert feed.
func NewAlertFeedView() *AlertFeedView {
	list := tview.NewList().ShowSecondaryText(true)
	list.SetTitle(" 🚨 Alerts ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	v := &AlertFeedView{
		list:     list,
		alerts:   make([]store.Alert, 0, 50),
		maxItems: 50,
	}
	v.rebuildList()
	return v
}

// Widget returns the tview primitive.
func (v *AlertFeedView) Widget() tview.Primitive {
	return v.list
}

// AddAlert prepends an alert, keeping at most maxItems.
func (v *AlertFeedView) AddAlert(a store.Alert) {
	v.alerts = append([]store.Alert{a}, v.alerts...)
	if len(v.alerts) > v.maxItems {
		v.alerts = v.alerts[:v.maxItems]
	}
	v.rebuildList()
}

func (v *AlertFeedView) rebuildList() {
	v.list.Clear()

	if len(v.alerts) == 0 {
		v.list.AddItem("No alerts yet", "", 0, nil)
		return
	}

	for _, a := range v.alerts {
		main, secondary := formatAlert(a)
		v.list.AddItem(main, secondary, 0, nil)
	}
	v.list.SetTitle(fmt.Sprintf(" 🚨 Alerts (%d) ", len(v.alerts)))
}

// formatAlert renders the list lines for an alert.
func formatAlert(a store.Alert) (string, string) {
	var icon string
	switch a.Kind {
	case store.AlertTrade:
		icon = "🐋"
	case store.AlertNewPosition:
		icon = "🆕"
	case store.AlertPositionUpdate:
		icon = "🔄"
	case store.AlertPositionClosed:
		icon = "🏁"
	default:
		icon = "❓"
	}

	main := fmt.Sprintf("%s %s %s %s %s",
		a.CreatedAt.Format("15:04:05"), icon, a.Kind, a.Asset, alert.CompactUSD(a.Notional))

	// first line of the alert body carries the headline
	headline := a.Text
	if i := strings.IndexByte(headline, '\n'); i >= 0 {
		headline = headline[:i]
	}
	secondary := alert.Truncate(headline, 80)
	if a.Wallet != "" {
		secondary = "Wallet: " + alert.TruncateAddress(a.Wallet) + " | " + secondary
	}
	return main, secondary
}
