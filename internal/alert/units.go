package alert

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// CompactUSD renders a dollar amount as $1.2B, $3.4M, $350K or $900.
func CompactUSD(v float64) string {
	neg := v < 0
	v = math.Abs(v)

	var s string
	switch {
	case v >= 1e9:
		s = trimZero(fmt.Sprintf("%.2f", v/1e9)) + "B"
	case v >= 1e6:
		s = trimZero(fmt.Sprintf("%.2f", v/1e6)) + "M"
	case v >= 1e3:
		s = trimZero(fmt.Sprintf("%.1f", v/1e3)) + "K"
	default:
		s = fmt.Sprintf("%.0f", v)
	}

	if neg {
		return "-$" + s
	}
	return "$" + s
}

// Price renders a price with thousands separators and precision scaled to magnitude.
func Price(v float64) string {
	switch {
	case v >= 1000:
		return "$" + thousands(fmt.Sprintf("%.0f", v))
	case v >= 1:
		return fmt.Sprintf("$%.2f", v)
	default:
		return fmt.Sprintf("$%.5f", v)
	}
}

// Amount renders a coin amount without trailing zeros.
func Amount(v float64) string {
	if v >= 1000 {
		return thousands(fmt.Sprintf("%.0f", v))
	}
	return trimZero(fmt.Sprintf("%.4f", v))
}

// TruncateAddress shortens a wallet address for display.
func TruncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

func trimZero(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func thousands(digits string) string {
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
