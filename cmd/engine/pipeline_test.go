package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/detector"
	"github.com/whalewatch/engine/internal/ingest"
	"github.com/whalewatch/engine/internal/metrics"
	"github.com/whalewatch/engine/internal/store"
	"github.com/whalewatch/engine/internal/tracker"
)

type passThrough struct{}

func (passThrough) NormalizeTrade(t store.Trade) (store.Trade, error) { return t, nil }

type fakeMarkets struct {
	stats  []store.MarketStats
	prices map[string]float64
	err    error
}

func (f fakeMarkets) FetchAssetMetadata(ctx context.Context) ([]store.MarketStats, error) {
	return f.stats, f.err
}

func (f fakeMarkets) FetchPrices(ctx context.Context) (map[string]float64, error) {
	return f.prices, f.err
}

type memorySink struct {
	mu     sync.Mutex
	trades []store.Trade
}

func (m *memorySink) SaveTrade(t store.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

type memoryQueue struct {
	mu     sync.Mutex
	alerts []store.Alert
}

func (q *memoryQueue) Enqueue(a store.Alert) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.alerts = append(q.alerts, a)
	return 1
}

func (q *memoryQueue) Pending() int { return 0 }

type positionSource struct {
	mu        sync.Mutex
	positions map[string][]store.Position
	err       error
}

func (s *positionSource) FetchPositions(ctx context.Context, wallet string) ([]store.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.positions[wallet], nil
}

func (s *positionSource) set(wallet string, ps ...store.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[wallet] = ps
}

type harness struct {
	p       *pipeline
	sink    *memorySink
	queue   *memoryQueue
	source  *positionSource
	metrics *metrics.Tracker
	watch   *detector.WalletWatch
}

func newHarness(t *testing.T, pinned ...string) *harness {
	log := zaptest.NewLogger(t)
	watch := detector.NewWalletWatch(pinned, 100)
	source := &positionSource{positions: map[string][]store.Position{}}
	tr := tracker.New(tracker.Config{
		Assets:             []string{"BTC", "ETH"},
		PositionMinUSD:     100_000,
		PositionAlertUSD:   1_000_000,
		UpdateMinChangeUSD: 100_000,
	}, source, watch, nil, log)

	h := &harness{
		sink:    &memorySink{},
		queue:   &memoryQueue{},
		source:  source,
		metrics: metrics.NewTracker(nil),
		watch:   watch,
	}
	h.p = &pipeline{
		log:       log,
		assets:    assetSet([]string{"BTC", "ETH"}),
		normalize: passThrough{},
		markets:   fakeMarkets{},
		detect:    detector.NewDetector(100_000, detector.NewDeduplicator(100), watch),
		watch:     watch,
		tracker:   tr,
		sink:      h.sink,
		format:    alert.NewFormatter(alert.DefaultMaxChars),
		queue:     h.queue,
		metrics:   h.metrics,
		tradeFeed: make(chan store.Trade, 10),
		alertFeed: make(chan store.Alert, 10),
	}
	return h
}

func message(t *testing.T, raw string) ingest.Message {
	msg, err := ingest.ParseMessage([]byte(raw))
	require.NoError(t, err)
	return msg
}

const whaleTrades = `{"channel":"trades","data":[
	{"coin":"BTC","side":"B","px":"50000","sz":"30","time":1767225600000,"hash":"0xaa","tid":1,"users":["0xBuyer","0xSeller"]},
	{"coin":"BTC","side":"A","px":"50000","sz":"0.5","time":1767225600000,"hash":"0xbb","tid":2,"users":["0xsmall","0xfish"]},
	{"coin":"DOGE","side":"B","px":"1","sz":"9000000","time":1767225600000,"hash":"0xcc","tid":3,"users":["0xd1","0xd2"]}
]}`

func TestPipeline_WhaleTradeAlerts(t *testing.T) {
	h := newHarness(t)

	h.p.handleMessage(message(t, whaleTrades))
	h.p.handleMessage(message(t, whaleTrades))

	require.Len(t, h.queue.alerts, 1)
	a := h.queue.alerts[0]
	assert.Equal(t, store.AlertTrade, a.Kind)
	assert.Equal(t, "BTC", a.Asset)
	assert.Equal(t, "0xbuyer", a.Wallet)
	assert.InDelta(t, 1_500_000, a.Notional, 1e-6)
	assert.NotEmpty(t, a.ID)

	require.Len(t, h.sink.trades, 1)
	assert.Equal(t, []string{"0xbuyer", "0xseller"}, h.watch.Wallets())

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.TradesTotal)
	assert.Equal(t, int64(1), snap.WhaleTrades)
	assert.Equal(t, int64(2), snap.Duplicates)
	assert.Equal(t, int64(1), snap.AlertsByKind[store.AlertTrade])

	price, ok := h.p.tracker.MarketPrice("BTC")
	require.True(t, ok)
	assert.Equal(t, 50000.0, price)
	_, ok = h.p.tracker.MarketPrice("DOGE")
	assert.False(t, ok)

	assert.Len(t, h.p.tradeFeed, 1)
	assert.Len(t, h.p.alertFeed, 1)
}

func TestPipeline_IgnoresControlAndMalformed(t *testing.T) {
	h := newHarness(t)

	h.p.handleMessage(ingest.Message{Channel: ingest.ChannelSubscriptionResponse})
	h.p.handleMessage(ingest.Message{Channel: ingest.ChannelTrades, Data: []byte(`{"not":"a list"}`)})

	assert.Empty(t, h.queue.alerts)
	assert.Equal(t, int64(0), h.metrics.Snapshot().TradesTotal)
}

func TestPipeline_ReconcileLifecycle(t *testing.T) {
	wallet := "0xwhale"
	h := newHarness(t, wallet)
	ctx := context.Background()

	h.source.set(wallet, store.Position{Wallet: wallet, Asset: "BTC", Size: 40, EntryPrice: 50000, Leverage: 10})
	h.p.reconcile(ctx)

	require.Len(t, h.queue.alerts, 1)
	assert.Equal(t, store.AlertNewPosition, h.queue.alerts[0].Kind)
	assert.Equal(t, 1, h.metrics.Snapshot().TrackedPositions)

	h.p.tracker.UpdatePrices(map[string]float64{"BTC": 52000}, time.Now())
	h.source.set(wallet)
	h.p.reconcile(ctx)

	require.Len(t, h.queue.alerts, 2)
	closed := h.queue.alerts[1]
	assert.Equal(t, store.AlertPositionClosed, closed.Kind)
	assert.Contains(t, closed.Text, "+$80K")
	assert.Equal(t, 0, h.metrics.Snapshot().TrackedPositions)

	stats, ok := h.p.tracker.WalletStats(wallet)
	require.True(t, ok)
	assert.Equal(t, 1, stats.Wins)
}

func TestPipeline_ReconcileBelowAlertThreshold(t *testing.T) {
	wallet := "0xmid"
	h := newHarness(t, wallet)

	h.source.set(wallet, store.Position{Wallet: wallet, Asset: "ETH", Size: 100, EntryPrice: 3000})
	h.p.reconcile(context.Background())

	assert.Empty(t, h.queue.alerts)
	assert.Equal(t, 1, h.p.tracker.Len())
}

func TestPipeline_ReconcileCancelled(t *testing.T) {
	h := newHarness(t, "0xw")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.p.reconcile(ctx)
	assert.True(t, h.metrics.Snapshot().LastReconcile.IsZero())
}

func TestPipeline_RefreshMarkets(t *testing.T) {
	h := newHarness(t)
	h.p.markets = fakeMarkets{
		stats: []store.MarketStats{
			{Asset: "BTC", Price: 60000, OpenInterest: 20000},
			{Asset: "DOGE", Price: 0.1, OpenInterest: 1e9},
		},
		prices: map[string]float64{"BTC": 60100, "ETH": 3100, "DOGE": 0.11},
	}

	h.p.refreshMarkets(context.Background())

	markets := h.p.tracker.Markets()
	require.Len(t, markets, 2)
	assert.Equal(t, "BTC", markets[0].Asset)
	assert.Equal(t, 60100.0, markets[0].Price)
	assert.Equal(t, 20000.0, markets[0].OpenInterest)
	assert.Equal(t, "ETH", markets[1].Asset)
}

func TestPipeline_RefreshMarketsFailure(t *testing.T) {
	h := newHarness(t)
	h.p.markets = fakeMarkets{err: errors.New("api down"), prices: map[string]float64{}}

	h.p.refreshMarkets(context.Background())
	assert.Empty(t, h.p.tracker.Markets())
}

func TestRunEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	calls := 0

	done := make(chan struct{})
	go func() {
		runEvery(ctx, 10*time.Millisecond, func(context.Context) {
			mu.Lock()
			calls++
			mu.Unlock()
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
