// Package store provides data models and the flat-file persistence sink.
package store

import (
	"math"
	"strings"
	"time"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position directions.
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Trade represents a single fill from the exchange trade feed.
type Trade struct {
	// TradeID is the exchange trade identifier used for deduplication
	TradeID string `json:"trade_id"`

	// Asset is the perpetual symbol (BTC, ETH, ...)
	Asset string `json:"asset"`

	// Side is BUY or SELL from the aggressor's point of view
	Side string `json:"side"`

	Price float64 `json:"price"`
	Size  float64 `json:"size"`

	// Notional is Price × Size in USD
	Notional float64 `json:"notional"`

	Timestamp time.Time `json:"timestamp"`

	// Buyer and Seller are the counterparty wallets (may be empty)
	Buyer  string `json:"buyer,omitempty"`
	Seller string `json:"seller,omitempty"`

	// TxHash is the on-chain transaction hash (if available)
	TxHash string `json:"tx_hash,omitempty"`
}

// NewTrade builds a trade and computes its notional value.
func NewTrade(id, asset, side string, price, size float64, ts time.Time) Trade {
	return Trade{
		TradeID:   id,
		Asset:     asset,
		Side:      side,
		Price:     price,
		Size:      size,
		Notional:  price * size,
		Timestamp: ts,
	}
}

// IsWhale reports whether the trade notional meets the threshold.
func (t Trade) IsWhale(threshold float64) bool {
	return t.Notional >= threshold
}

// Aggressor returns the wallet on the taking side of the trade.
func (t Trade) Aggressor() string {
	if t.Side == SideSell {
		return t.Seller
	}
	return t.Buyer
}

// Wallets returns the non-empty counterparty addresses.
func (t Trade) Wallets() []string {
	var out []string
	for _, w := range []string{t.Buyer, t.Seller} {
		if w != "" {
			out = append(out, strings.ToLower(w))
		}
	}
	return out
}

// Risk holds the derived analytics of a position.
type Risk struct {
	// PercentOfOI is |size| / open interest × 100
	PercentOfOI float64 `json:"percent_of_oi"`

	// RiskLevel is 0 (none) to 5 (extreme)
	RiskLevel int `json:"risk_level"`

	// MarketImpact is an estimate from 0 to 100
	MarketImpact float64 `json:"market_impact"`

	// LiquidationRisk is 0 to 100, higher means closer to liquidation
	LiquidationRisk float64 `json:"liquidation_risk"`
}

// PositionKey identifies a position by wallet and asset.
type PositionKey struct {
	Wallet string
	Asset  string
}

func (k PositionKey) String() string {
	return k.Wallet + ":" + k.Asset
}

// Position is an open perpetual position held by a wallet.
type Position struct {
	Wallet string `json:"wallet"`
	Asset  string `json:"asset"`

	// Size is signed: positive for LONG, negative for SHORT
	Size float64 `json:"size"`

	EntryPrice       float64 `json:"entry_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	Leverage         float64 `json:"leverage"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`

	Risk Risk `json:"risk"`

	// OpenNotional is the notional at first observation
	OpenNotional float64 `json:"open_notional"`

	// DataWarning is set when the liquidation price contradicts the direction
	DataWarning bool `json:"data_warning,omitempty"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the tracking key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Wallet: p.Wallet, Asset: p.Asset}
}

// Direction returns LONG or SHORT from the sign of the size.
func (p Position) Direction() string {
	if p.Size < 0 {
		return DirectionShort
	}
	return DirectionLong
}

// IsLong reports whether the position is long.
func (p Position) IsLong() bool {
	return p.Size >= 0
}

// AbsSize returns the unsigned size.
func (p Position) AbsSize() float64 {
	return math.Abs(p.Size)
}

// Notional returns |size| × entry price.
func (p Position) Notional() float64 {
	return math.Abs(p.Size) * p.EntryPrice
}

// LiquidationConsistent reports whether the liquidation price sits on the
// losing side of the entry price for the position's direction. An unknown
// (zero) liquidation price is treated as consistent.
func (p Position) LiquidationConsistent() bool {
	if p.LiquidationPrice <= 0 {
		return true
	}
	if p.IsLong() {
		return p.LiquidationPrice < p.EntryPrice
	}
	return p.LiquidationPrice > p.EntryPrice
}

// MarketStats is the per-asset market snapshot used as the price oracle.
type MarketStats struct {
	Asset        string    `json:"asset"`
	Price        float64   `json:"price"`
	OpenInterest float64   `json:"open_interest"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WalletStats accumulates closed-position results for one wallet.
type WalletStats struct {
	Wallet           string    `json:"wallet"`
	Trades           int       `json:"trades"`
	Wins             int       `json:"wins"`
	CumulativePnL    float64   `json:"cumulative_pnl"`
	CumulativeVolume float64   `json:"cumulative_volume"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// WinRate returns the fraction of winning closes, 0 when nothing closed yet.
func (s WalletStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Record folds one closed position into the stats.
func (s *WalletStats) Record(pnl, volume float64, at time.Time) {
	s.Trades++
	if pnl > 0 {
		s.Wins++
	}
	s.CumulativePnL += pnl
	s.CumulativeVolume += volume
	s.UpdatedAt = at
}

// Position lifecycle event types.
const (
	EventNew     = "NEW"
	EventUpdated = "UPDATED"
	EventClosed  = "CLOSED"
)

// PositionEvent is emitted by the tracker for every lifecycle transition.
type PositionEvent struct {
	Type     string   `json:"type"`
	Position Position `json:"position"`

	// SizeDelta is the signed size change for UPDATED events
	SizeDelta float64 `json:"size_delta,omitempty"`

	// ExitPrice and RealizedPnL are set for CLOSED events
	ExitPrice   float64 `json:"exit_price,omitempty"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`

	// Alert is true when the event met the alerting thresholds
	Alert bool `json:"alert"`

	At time.Time `json:"at"`
}

// Alert kinds.
const (
	AlertTrade          = "TRADE"
	AlertNewPosition    = "NEW_POSITION"
	AlertPositionUpdate = "POSITION_UPDATE"
	AlertPositionClosed = "POSITION_CLOSED"
)

// Alert represents a formatted notification handed to publishers.
type Alert struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Asset     string    `json:"asset"`
	Wallet    string    `json:"wallet,omitempty"`
	Notional  float64   `json:"notional"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
