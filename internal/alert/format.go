// Package alert turns trades and position events into short notification text.
package alert

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/whalewatch/engine/internal/store"
)

// DefaultMaxChars bounds the length of a formatted alert.
const DefaultMaxChars = 280

// Formatter renders alert text. The zero value uses DefaultMaxChars.
type Formatter struct {
	MaxChars int
}

// NewFormatter creates a formatter bounding output to maxChars runes.
func NewFormatter(maxChars int) Formatter {
	return Formatter{MaxChars: maxChars}
}

// FormatTrade renders a whale trade. stats may be nil.
func (f Formatter) FormatTrade(t store.Trade, stats *store.WalletStats) string {
	icon := "🟢"
	if t.Side == store.SideSell {
		icon = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🐋 %s WHALE %s %s %s @ %s\n", icon, t.Side, CompactUSD(t.Notional), t.Asset, Price(t.Price))
	fmt.Fprintf(&b, "Size: %s %s", Amount(t.Size), t.Asset)

	if wallet := t.Aggressor(); wallet != "" {
		fmt.Fprintf(&b, "\nWallet: %s", TruncateAddress(wallet))
	}
	writeStats(&b, stats)
	return f.bound(b.String())
}

// FormatNewPosition renders a newly opened whale position.
func (f Formatter) FormatNewPosition(ev store.PositionEvent, stats *store.WalletStats) string {
	p := ev.Position

	var b strings.Builder
	fmt.Fprintf(&b, "🚨 NEW WHALE %s %s %s\n", p.Direction(), CompactUSD(p.Notional()), p.Asset)
	writePositionDetails(&b, p)
	writeWallet(&b, p.Wallet, stats)
	return f.bound(b.String())
}

// FormatUpdate renders a significant size change of a tracked position.
func (f Formatter) FormatUpdate(ev store.PositionEvent, stats *store.WalletStats) string {
	p := ev.Position

	verb, icon := "INCREASED", "📈"
	if math.Abs(p.Size) < math.Abs(p.Size-ev.SizeDelta) {
		verb, icon = "REDUCED", "📉"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s WHALE %s %s %s to %s\n", icon, verb, p.Asset, p.Direction(), CompactUSD(p.Notional()))
	fmt.Fprintf(&b, "Change: %s%s %s\n", sign(ev.SizeDelta), Amount(math.Abs(ev.SizeDelta)), p.Asset)
	writePositionDetails(&b, p)
	writeWallet(&b, p.Wallet, stats)
	return f.bound(b.String())
}

// FormatClosure renders a closed position with its realized PnL.
func (f Formatter) FormatClosure(ev store.PositionEvent, stats *store.WalletStats) string {
	p := ev.Position

	icon := "✅"
	if ev.RealizedPnL < 0 {
		icon = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s WHALE CLOSED %s %s %s\n", icon, p.Asset, p.Direction(), CompactUSD(p.Notional()))
	fmt.Fprintf(&b, "Entry %s → Exit %s\n", Price(p.EntryPrice), Price(ev.ExitPrice))
	fmt.Fprintf(&b, "PnL: %s%s", sign(ev.RealizedPnL), CompactUSD(math.Abs(ev.RealizedPnL)))
	if !p.OpenedAt.IsZero() && !ev.At.IsZero() {
		fmt.Fprintf(&b, " | Held %s", FormatDuration(ev.At.Sub(p.OpenedAt)))
	}
	b.WriteString("\n")
	writeWallet(&b, p.Wallet, stats)
	return f.bound(b.String())
}

// FormatEvent dispatches on the event type.
func (f Formatter) FormatEvent(ev store.PositionEvent, stats *store.WalletStats) string {
	switch ev.Type {
	case store.EventNew:
		return f.FormatNewPosition(ev, stats)
	case store.EventUpdated:
		return f.FormatUpdate(ev, stats)
	case store.EventClosed:
		return f.FormatClosure(ev, stats)
	default:
		return f.bound(fmt.Sprintf("%s %s %s", ev.Type, ev.Position.Asset, TruncateAddress(ev.Position.Wallet)))
	}
}

// TradeAlert builds the publishable alert for a whale trade.
func (f Formatter) TradeAlert(t store.Trade, stats *store.WalletStats) store.Alert {
	return NewAlert(store.AlertTrade, t.Asset, t.Aggressor(), t.Notional, f.FormatTrade(t, stats), t.Timestamp)
}

// EventAlert builds the publishable alert for a lifecycle event.
func (f Formatter) EventAlert(ev store.PositionEvent, stats *store.WalletStats) store.Alert {
	kind := store.AlertNewPosition
	switch ev.Type {
	case store.EventUpdated:
		kind = store.AlertPositionUpdate
	case store.EventClosed:
		kind = store.AlertPositionClosed
	}
	p := ev.Position
	return NewAlert(kind, p.Asset, p.Wallet, p.Notional(), f.FormatEvent(ev, stats), ev.At)
}

// NewAlert creates an alert with a fresh ID.
func NewAlert(kind, asset, wallet string, notional float64, text string, at time.Time) store.Alert {
	if at.IsZero() {
		at = time.Now()
	}
	return store.Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Asset:     asset,
		Wallet:    wallet,
		Notional:  notional,
		Text:      text,
		CreatedAt: at,
	}
}

func writePositionDetails(b *strings.Builder, p store.Position) {
	fmt.Fprintf(b, "Entry %s", Price(p.EntryPrice))
	if p.Leverage > 0 {
		fmt.Fprintf(b, " | %.0fx", p.Leverage)
	}
	if p.LiquidationPrice > 0 {
		fmt.Fprintf(b, " | Liq %s", Price(p.LiquidationPrice))
	}
	fmt.Fprintf(b, "\nRisk %d/5", p.Risk.RiskLevel)
	if p.Risk.PercentOfOI > 0 {
		fmt.Fprintf(b, " | %.2f%% of OI", p.Risk.PercentOfOI)
	}
	if p.DataWarning {
		b.WriteString(" | ⚠️ liq data")
	} else if p.Risk.LiquidationRisk > 0 {
		fmt.Fprintf(b, " | Liq risk %.0f%%", p.Risk.LiquidationRisk)
	}
	b.WriteString("\n")
}

func writeWallet(b *strings.Builder, wallet string, stats *store.WalletStats) {
	if wallet != "" {
		fmt.Fprintf(b, "Wallet: %s", TruncateAddress(wallet))
	}
	writeStats(b, stats)
}

func writeStats(b *strings.Builder, stats *store.WalletStats) {
	if stats == nil || stats.Trades == 0 {
		return
	}
	fmt.Fprintf(b, "\nRecord: %.0f%% win (%d) | PnL %s%s",
		stats.WinRate()*100, stats.Trades, sign(stats.CumulativePnL), CompactUSD(math.Abs(stats.CumulativePnL)))
}

// bound truncates s to MaxChars runes, ending with an ellipsis when cut.
func (f Formatter) bound(s string) string {
	s = strings.TrimRight(s, "\n")
	limit := f.MaxChars
	if limit <= 0 {
		limit = DefaultMaxChars
	}
	return Truncate(s, limit)
}

// Truncate shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 1 {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-1]) + "…"
}

func sign(v float64) string {
	if v < 0 {
		return "-"
	}
	return "+"
}
