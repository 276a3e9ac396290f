package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/whalewatch/engine/internal/metrics"
	"github.com/whalewatch/engine/internal/store"
)

// StatsDashboardView displays system health and detection counters.
type StatsDashboardView struct {
	textView *tview.TextView
}

// NewStatsDashboardView creates a new stats dashboard view.
func NewStatsDashboardView() *StatsDashboardView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	textView.SetTitle(" Stats ").SetBorder(true)

	return &StatsDashboardView{textView: textView}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the stats display.
func (v *StatsDashboardView) Update(snapshot metrics.Snapshot) {
	v.textView.Clear()
	fmt.Fprint(v.textView, renderStats(snapshot))
}

func renderStats(s metrics.Snapshot) string {
	streamColor := "red"
	switch s.StreamState {
	case "OPEN":
		streamColor = "green"
	case "CONNECTING", "RECONNECTING":
		streamColor = "yellow"
	}

	failures := int64(0)
	for _, n := range s.PublishFailures {
		failures += n
	}

	return fmt.Sprintf(`[yellow]System[-]
Uptime: %s
Stream: [%s]%s[-] (%d reconnects)
Reconcile: %s (%s)

[yellow]Trades[-]
Total: %d
Whales: %d
Duplicates: %d
Rate: %.2f/sec

[yellow]Tracking[-]
Positions: %d
Wallets: %d

[yellow]Alerts[-]
Trades: %d  New: %d
Updates: %d  Closed: %d
Queued: %d  Failed: %d
`,
		formatDuration(s.Uptime),
		streamColor, s.StreamState, s.Reconnects,
		formatTimeAgo(s.LastReconcile), s.ReconcileDuration.Round(time.Millisecond),
		s.TradesTotal,
		s.WhaleTrades,
		s.Duplicates,
		s.TradeRate,
		s.TrackedPositions,
		s.WatchedWallets,
		s.AlertsByKind[store.AlertTrade], s.AlertsByKind[store.AlertNewPosition],
		s.AlertsByKind[store.AlertPositionUpdate], s.AlertsByKind[store.AlertPositionClosed],
		s.QueuePending, failures,
	)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatTimeAgo formats a time as "X ago".
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	elapsed := time.Since(t)
	if elapsed < time.Minute {
		return fmt.Sprintf("%.0fs ago", elapsed.Seconds())
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%.0fm ago", elapsed.Minutes())
	}
	if elapsed < 24*time.Hour {
		return fmt.Sprintf("%.0fh ago", elapsed.Hours())
	}
	return fmt.Sprintf("%.0fd ago", elapsed.Hours()/24)
}
