// Package detector filters the trade stream for whale activity.
package detector

import (
	"github.com/whalewatch/engine/internal/store"
)

// Verdict is the outcome of inspecting one trade.
type Verdict struct {
	// Duplicate is set when the trade ID was already admitted
	Duplicate bool

	// Whale is set when notional met the whale threshold
	Whale bool

	// NewWallets lists counterparties added to the watch set by this trade
	NewWallets []string
}

// Detector applies deduplication and the whale threshold to incoming trades.
type Detector struct {
	whaleUSD float64
	dedup    *Deduplicator
	watch    *WalletWatch
}

// NewDetector creates a new Detector. watch may be nil to disable wallet discovery.
func NewDetector(whaleUSD float64, dedup *Deduplicator, watch *WalletWatch) *Detector {
	return &Detector{
		whaleUSD: whaleUSD,
		dedup:    dedup,
		watch:    watch,
	}
}

// Inspect admits a trade through the deduplicator and classifies it.
func (d *Detector) Inspect(trade store.Trade) Verdict {
	if !d.dedup.Admit(trade.TradeID) {
		return Verdict{Duplicate: true}
	}

	if !trade.IsWhale(d.whaleUSD) {
		return Verdict{}
	}

	v := Verdict{Whale: true}
	if d.watch != nil {
		for _, wallet := range trade.Wallets() {
			if d.watch.Record(wallet) {
				v.NewWallets = append(v.NewWallets, wallet)
			}
		}
	}
	return v
}

// Threshold returns the whale notional threshold in USD.
func (d *Detector) Threshold() float64 {
	return d.whaleUSD
}
