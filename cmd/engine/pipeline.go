package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/detector"
	"github.com/whalewatch/engine/internal/ingest"
	"github.com/whalewatch/engine/internal/metrics"
	"github.com/whalewatch/engine/internal/store"
	"github.com/whalewatch/engine/internal/tracker"
)

const (
	// walletIdleTimeout drops discovered wallets not seen in a whale trade for this long
	walletIdleTimeout = 24 * time.Hour
	// assetIdleTimeout drops per-asset activity with no trades for this long
	assetIdleTimeout = time.Hour
)

type normalizer interface {
	NormalizeTrade(t store.Trade) (store.Trade, error)
}

type marketSource interface {
	FetchAssetMetadata(ctx context.Context) ([]store.MarketStats, error)
	FetchPrices(ctx context.Context) (map[string]float64, error)
}

type tradeSink interface {
	SaveTrade(t store.Trade) error
}

type alertQueue interface {
	Enqueue(a store.Alert) int
	Pending() int
}

// pipeline connects the stream, detector, tracker and publishers.
type pipeline struct {
	log       *zap.Logger
	assets    map[string]struct{}
	normalize normalizer
	markets   marketSource
	detect    *detector.Detector
	watch     *detector.WalletWatch
	tracker   *tracker.Tracker
	sink      tradeSink
	format    alert.Formatter
	queue     alertQueue
	metrics   *metrics.Tracker

	// optional TUI feeds
	tradeFeed chan store.Trade
	alertFeed chan store.Alert
}

func (p *pipeline) monitored(asset string) bool {
	_, ok := p.assets[strings.ToUpper(asset)]
	return ok
}

// handleMessage is the stream handler.
func (p *pipeline) handleMessage(msg ingest.Message) {
	if msg.Channel != ingest.ChannelTrades {
		p.log.Debug("ws_message_ignored", zap.String("channel", msg.Channel))
		return
	}

	trades, err := ingest.ParseTrades(msg.Data)
	if err != nil {
		p.log.Warn("trade_parse_failed", zap.Error(err))
		return
	}
	for _, t := range trades {
		p.handleTrade(t)
	}
}

func (p *pipeline) handleTrade(raw store.Trade) {
	if !p.monitored(raw.Asset) {
		return
	}

	t, err := p.normalize.NormalizeTrade(raw)
	if err != nil {
		p.log.Debug("trade_skipped", zap.String("trade_id", raw.TradeID), zap.Error(err))
		return
	}

	p.tracker.UpdatePrices(map[string]float64{t.Asset: t.Price}, t.Timestamp)

	v := p.detect.Inspect(t)
	if v.Duplicate {
		p.metrics.RecordDuplicate()
		return
	}
	p.metrics.RecordTrade(t)
	if !v.Whale {
		return
	}

	p.metrics.RecordWhale(t)
	p.log.Info("whale_trade",
		zap.String("asset", t.Asset),
		zap.String("side", t.Side),
		zap.Float64("notional", t.Notional),
		zap.String("trade_id", t.TradeID),
	)
	if len(v.NewWallets) > 0 {
		p.log.Debug("wallets_discovered", zap.Strings("wallets", v.NewWallets))
	}
	if p.watch != nil {
		p.metrics.SetWatchedWallets(p.watch.Len())
	}

	if p.sink != nil {
		if err := p.sink.SaveTrade(t); err != nil {
			p.log.Warn("trade_persist_failed", zap.String("trade_id", t.TradeID), zap.Error(err))
		}
	}

	p.emit(p.format.TradeAlert(t, p.statsFor(t.Aggressor())))

	if p.tradeFeed != nil {
		select {
		case p.tradeFeed <- t:
		default:
		}
	}
}

// reconcile runs one tracker cycle and publishes alert-worthy events.
// A panic is logged and the next tick proceeds.
func (p *pipeline) reconcile(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("reconcile_panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	res, err := p.tracker.Reconcile(ctx)
	switch {
	case errors.Is(err, tracker.ErrCycleInProgress):
		p.log.Warn("reconcile_skipped", zap.Error(err))
		return
	case err != nil:
		if ctx.Err() == nil {
			p.log.Warn("reconcile_failed", zap.Error(err))
			p.metrics.RecordReconcile(metrics.ReconcileStats{Err: err})
		}
		return
	}

	p.metrics.RecordReconcile(metrics.ReconcileStats{
		Duration:       res.Duration,
		Events:         len(res.Events),
		WalletsScanned: res.WalletsScanned,
		WalletsFailed:  res.WalletsFailed,
	})
	p.metrics.SetTrackedPositions(p.tracker.Len())

	for _, ev := range res.Events {
		if !ev.Alert {
			continue
		}
		p.emit(p.format.EventAlert(ev, p.statsFor(ev.Position.Wallet)))
	}
}

// refreshMarkets pulls market metadata and mid prices for the monitored assets.
func (p *pipeline) refreshMarkets(ctx context.Context) {
	stats, err := p.markets.FetchAssetMetadata(ctx)
	if err != nil {
		p.log.Warn("market_refresh_failed", zap.Error(err))
	} else {
		kept := stats[:0]
		for _, s := range stats {
			if p.monitored(s.Asset) {
				kept = append(kept, s)
			}
		}
		p.tracker.UpdateMarketStats(kept)
	}

	prices, err := p.markets.FetchPrices(ctx)
	if err != nil {
		p.log.Warn("price_refresh_failed", zap.Error(err))
	}
	monitored := make(map[string]float64, len(p.assets))
	for asset, px := range prices {
		if p.monitored(asset) {
			monitored[asset] = px
		}
	}
	p.tracker.UpdatePrices(monitored, time.Now())

	if p.watch != nil {
		if n := p.watch.Cleanup(walletIdleTimeout); n > 0 {
			p.log.Debug("wallets_expired", zap.Int("count", n))
		}
		p.metrics.SetWatchedWallets(p.watch.Len())
	}
	p.metrics.Cleanup(assetIdleTimeout)
}

func (p *pipeline) emit(a store.Alert) {
	p.metrics.RecordAlert(a.Kind)
	p.queue.Enqueue(a)
	p.metrics.SetQueuePending(p.queue.Pending())

	if p.alertFeed != nil {
		select {
		case p.alertFeed <- a:
		default:
		}
	}
}

func (p *pipeline) statsFor(wallet string) *store.WalletStats {
	if wallet == "" {
		return nil
	}
	s, ok := p.tracker.WalletStats(wallet)
	if !ok {
		return nil
	}
	return &s
}

// runEvery calls fn immediately and then on every tick until ctx is done.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
