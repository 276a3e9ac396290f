// Package tracker reconciles polled position snapshots into position
// lifecycle events (new, updated, closed) with risk analytics.
package tracker

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whalewatch/engine/internal/store"
)

// ErrCycleInProgress is returned when Reconcile is called while another cycle runs.
var ErrCycleInProgress = errors.New("reconcile cycle already in progress")

// PositionSource returns the open positions of one wallet.
type PositionSource interface {
	FetchPositions(ctx context.Context, wallet string) ([]store.Position, error)
}

// WalletLister supplies the wallets to scan each cycle.
type WalletLister interface {
	Wallets() []string
}

// Sink persists lifecycle state.
type Sink interface {
	SavePosition(pos store.Position) error
	SaveClosed(event store.PositionEvent) error
	SaveWalletStats(stats store.WalletStats) error
}

// Config holds the tracker thresholds.
type Config struct {
	Assets []string

	// PositionMinUSD is the notional a position needs to be tracked
	PositionMinUSD float64

	// PositionAlertUSD is the notional that makes a lifecycle event alert-worthy
	PositionAlertUSD float64

	// UpdateMinChangeUSD is the dollar value of a size change required for an update alert
	UpdateMinChangeUSD float64
}

// CycleResult summarizes one reconciliation pass.
type CycleResult struct {
	Events         []store.PositionEvent
	WalletsScanned int
	WalletsFailed  int
	Duration       time.Duration
}

// Tracker owns the live position map, market stats and wallet statistics.
type Tracker struct {
	cfg     Config
	assets  map[string]struct{}
	source  PositionSource
	wallets WalletLister
	sink    Sink
	log     *zap.Logger
	now     func() time.Time

	cycle sync.Mutex

	mu        sync.RWMutex
	positions map[store.PositionKey]store.Position
	markets   map[string]store.MarketStats
	stats     map[string]store.WalletStats
}

// New creates a tracker. sink may be nil.
func New(cfg Config, source PositionSource, wallets WalletLister, sink Sink, log *zap.Logger) *Tracker {
	assets := make(map[string]struct{}, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets[strings.ToUpper(a)] = struct{}{}
	}
	return &Tracker{
		cfg:       cfg,
		assets:    assets,
		source:    source,
		wallets:   wallets,
		sink:      sink,
		log:       log,
		now:       time.Now,
		positions: make(map[store.PositionKey]store.Position),
		markets:   make(map[string]store.MarketStats),
		stats:     make(map[string]store.WalletStats),
	}
}

// Reconcile runs one scan and classifies every tracked key. Cycles never
// overlap: a concurrent call returns ErrCycleInProgress. No cycle starts
// once ctx is done, and a cycle already running finishes its scan when ctx
// is cancelled.
func (t *Tracker) Reconcile(ctx context.Context) (CycleResult, error) {
	if err := ctx.Err(); err != nil {
		return CycleResult{}, err
	}
	if !t.cycle.TryLock() {
		return CycleResult{}, ErrCycleInProgress
	}
	defer t.cycle.Unlock()

	start := t.now()
	current, scanned, failed := t.scan(context.WithoutCancel(ctx))

	t.mu.Lock()
	events := t.apply(current, scanned)
	t.mu.Unlock()

	result := CycleResult{
		Events:         events,
		WalletsScanned: len(scanned),
		WalletsFailed:  failed,
		Duration:       t.now().Sub(start),
	}

	t.log.Info("reconcile_complete",
		zap.Int("wallets_scanned", result.WalletsScanned),
		zap.Int("wallets_failed", result.WalletsFailed),
		zap.Int("events", len(events)),
		zap.Int("tracked", t.Len()),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// scan fetches positions for every wallet to scan. A failed wallet is
// logged and left out of scanned so its tracked positions stay open.
func (t *Tracker) scan(ctx context.Context) (map[store.PositionKey]store.Position, map[string]bool, int) {
	current := make(map[store.PositionKey]store.Position)
	scanned := make(map[string]bool)
	failed := 0

	for _, wallet := range t.scanList() {
		positions, err := t.source.FetchPositions(ctx, wallet)
		if err != nil {
			failed++
			t.log.Warn("wallet_fetch_failed", zap.String("wallet", wallet), zap.Error(err))
			continue
		}
		scanned[wallet] = true

		for _, p := range positions {
			if p.Wallet == "" {
				p.Wallet = wallet
			}
			p.Wallet = strings.ToLower(p.Wallet)
			p.Asset = strings.ToUpper(p.Asset)
			if _, ok := t.assets[p.Asset]; !ok {
				continue
			}
			if p.Notional() < t.cfg.PositionMinUSD {
				continue
			}
			current[p.Key()] = p
		}
	}
	return current, scanned, failed
}

// scanList is the configured wallets plus every wallet with a tracked position.
func (t *Tracker) scanList() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(w string) {
		w = strings.ToLower(w)
		if _, ok := seen[w]; ok || w == "" {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	if t.wallets != nil {
		for _, w := range t.wallets.Wallets() {
			add(w)
		}
	}

	t.mu.RLock()
	for key := range t.positions {
		add(key.Wallet)
	}
	t.mu.RUnlock()

	sort.Strings(out)
	return out
}

// apply diffs the snapshot against tracked state. Must be called with mu held.
func (t *Tracker) apply(current map[store.PositionKey]store.Position, scanned map[string]bool) []store.PositionEvent {
	now := t.now()
	var events []store.PositionEvent

	for _, key := range sortedKeys(current) {
		pos := current[key]
		prev, tracked := t.positions[key]

		switch {
		case !tracked:
			pos.OpenedAt = now
			pos.OpenNotional = pos.Notional()
			t.enrich(&pos, now)
			t.positions[key] = pos
			t.persist(pos)

			events = append(events, store.PositionEvent{
				Type:     store.EventNew,
				Position: pos,
				Alert:    pos.Notional() >= t.cfg.PositionAlertUSD,
				At:       now,
			})

		case SignificantChange(prev.Size, pos.Size):
			pos.OpenedAt = prev.OpenedAt
			pos.OpenNotional = prev.OpenNotional
			t.enrich(&pos, now)
			t.positions[key] = pos
			t.persist(pos)

			delta := pos.Size - prev.Size
			changeUSD := math.Abs(delta) * t.priceOr(key.Asset, pos.EntryPrice)
			events = append(events, store.PositionEvent{
				Type:      store.EventUpdated,
				Position:  pos,
				SizeDelta: delta,
				Alert:     pos.Notional() >= t.cfg.PositionAlertUSD && changeUSD >= t.cfg.UpdateMinChangeUSD,
				At:        now,
			})
		}
	}

	for _, key := range sortedKeys(t.positions) {
		if _, open := current[key]; open || !scanned[key.Wallet] {
			continue
		}
		events = append(events, t.close(t.positions[key], now))
		delete(t.positions, key)
	}

	return events
}

// enrich computes risk analytics and flags inconsistent liquidation prices.
func (t *Tracker) enrich(pos *store.Position, now time.Time) {
	pos.UpdatedAt = now
	pos.Risk = Analyze(*pos, t.markets[pos.Asset])
	pos.DataWarning = !pos.LiquidationConsistent()
	if pos.DataWarning {
		t.log.Warn("liquidation_price_inconsistent",
			zap.String("position", pos.Key().String()),
			zap.String("direction", pos.Direction()),
			zap.Float64("entry_price", pos.EntryPrice),
			zap.Float64("liquidation_price", pos.LiquidationPrice),
		)
	}
}

// close builds the closed event and folds the result into wallet stats.
func (t *Tracker) close(pos store.Position, now time.Time) store.PositionEvent {
	exit, ok := t.marketPrice(pos.Asset)
	if !ok {
		exit = pos.EntryPrice
		t.log.Warn("exit_price_fallback", zap.String("position", pos.Key().String()), zap.Float64("entry_price", pos.EntryPrice))
	}

	pnl := RealizedPnL(pos, exit)

	stats := t.stats[pos.Wallet]
	stats.Wallet = pos.Wallet
	stats.Record(pnl, pos.Notional(), now)
	t.stats[pos.Wallet] = stats

	event := store.PositionEvent{
		Type:        store.EventClosed,
		Position:    pos,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		Alert:       pos.OpenNotional >= t.cfg.PositionAlertUSD,
		At:          now,
	}

	if t.sink != nil {
		if err := t.sink.SaveClosed(event); err != nil {
			t.log.Warn("persist_closed_failed", zap.String("position", pos.Key().String()), zap.Error(err))
		}
		if err := t.sink.SaveWalletStats(stats); err != nil {
			t.log.Warn("persist_wallet_stats_failed", zap.String("wallet", pos.Wallet), zap.Error(err))
		}
	}
	return event
}

func (t *Tracker) persist(pos store.Position) {
	if t.sink == nil {
		return
	}
	if err := t.sink.SavePosition(pos); err != nil {
		t.log.Warn("persist_position_failed", zap.String("position", pos.Key().String()), zap.Error(err))
	}
}

// marketPrice returns the last known price. Must be called with mu held.
func (t *Tracker) marketPrice(asset string) (float64, bool) {
	m, ok := t.markets[asset]
	if !ok || m.Price <= 0 {
		return 0, false
	}
	return m.Price, true
}

func (t *Tracker) priceOr(asset string, fallback float64) float64 {
	if p, ok := t.marketPrice(asset); ok {
		return p
	}
	return fallback
}

// UpdateMarketStats replaces the market snapshot for the given assets.
func (t *Tracker) UpdateMarketStats(stats []store.MarketStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range stats {
		s.Asset = strings.ToUpper(s.Asset)
		prev := t.markets[s.Asset]
		if s.Price <= 0 {
			s.Price = prev.Price
		}
		if s.OpenInterest <= 0 {
			s.OpenInterest = prev.OpenInterest
		}
		t.markets[s.Asset] = s
	}
}

// UpdatePrices sets the last known price of each asset.
func (t *Tracker) UpdatePrices(prices map[string]float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for asset, price := range prices {
		if price <= 0 {
			continue
		}
		asset = strings.ToUpper(asset)
		m := t.markets[asset]
		m.Asset = asset
		m.Price = price
		m.UpdatedAt = at
		t.markets[asset] = m
	}
}

// MarketPrice returns the last known price of an asset.
func (t *Tracker) MarketPrice(asset string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.marketPrice(strings.ToUpper(asset))
}

// Markets returns the market snapshot sorted by asset.
func (t *Tracker) Markets() []store.MarketStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]store.MarketStats, 0, len(t.markets))
	for _, m := range t.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Positions returns the tracked positions ordered by notional, largest first.
func (t *Tracker) Positions() []store.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]store.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Notional() == out[j].Notional() {
			return out[i].Key().String() < out[j].Key().String()
		}
		return out[i].Notional() > out[j].Notional()
	})
	return out
}

// Len returns the number of tracked positions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// WalletStats returns the cumulative stats of a wallet.
func (t *Tracker) WalletStats(wallet string) (store.WalletStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[strings.ToLower(wallet)]
	return s, ok
}

// RestoreWalletStats seeds wallet stats loaded from the sink.
func (t *Tracker) RestoreWalletStats(stats map[string]store.WalletStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for wallet, s := range stats {
		t.stats[strings.ToLower(wallet)] = s
	}
}

func sortedKeys(m map[store.PositionKey]store.Position) []store.PositionKey {
	keys := make([]store.PositionKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
