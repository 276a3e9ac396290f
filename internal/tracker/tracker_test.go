package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/whalewatch/engine/internal/store"
)

type fakeSource struct {
	mu        sync.Mutex
	positions map[string][]store.Position
	errs      map[string]error
	calls     int

	entered chan struct{}
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		positions: make(map[string][]store.Position),
		errs:      make(map[string]error),
	}
}

func (f *fakeSource) set(wallet string, positions ...store.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[wallet] = positions
}

func (f *fakeSource) fail(wallet string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[wallet] = err
}

func (f *fakeSource) FetchPositions(ctx context.Context, wallet string) ([]store.Position, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[wallet]; err != nil {
		return nil, err
	}
	return append([]store.Position(nil), f.positions[wallet]...), nil
}

type staticWallets []string

func (s staticWallets) Wallets() []string { return s }

type fakeSink struct {
	mu     sync.Mutex
	saved  []store.Position
	closed []store.PositionEvent
	stats  []store.WalletStats
}

func (f *fakeSink) SavePosition(pos store.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, pos)
	return nil
}

func (f *fakeSink) SaveClosed(event store.PositionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, event)
	return nil
}

func (f *fakeSink) SaveWalletStats(stats store.WalletStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, stats)
	return nil
}

func testConfig() Config {
	return Config{
		Assets:             []string{"BTC", "ETH"},
		PositionMinUSD:     100000,
		PositionAlertUSD:   400000,
		UpdateMinChangeUSD: 100000,
	}
}

func btc(wallet string, size, entry float64) store.Position {
	return store.Position{Wallet: wallet, Asset: "BTC", Size: size, EntryPrice: entry, Leverage: 10}
}

func TestTracker_LifecycleNewUpdatedClosed(t *testing.T) {
	src := newFakeSource()
	sink := &fakeSink{}
	tr := New(testConfig(), src, staticWallets{"0xw"}, sink, zaptest.NewLogger(t))
	ctx := context.Background()

	// Cycle 1: new position
	src.set("0xw", btc("0xw", 10, 50000))
	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, store.EventNew, res.Events[0].Type)
	assert.True(t, res.Events[0].Alert, "500K notional meets the alert threshold")
	assert.InDelta(t, 500000.0, res.Events[0].Position.OpenNotional, 1e-6)

	// Cycle 2: size 10 -> 15
	tr.UpdatePrices(map[string]float64{"BTC": 52000}, time.Now())
	src.set("0xw", btc("0xw", 15, 50000))
	res, err = tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, store.EventUpdated, ev.Type)
	assert.InDelta(t, 5.0, ev.SizeDelta, 1e-12)
	assert.True(t, ev.Alert, "5 BTC × 52000 exceeds the change threshold")

	// Cycle 3: position gone
	src.set("0xw")
	res, err = tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	ev = res.Events[0]
	assert.Equal(t, store.EventClosed, ev.Type)
	assert.InDelta(t, 52000.0, ev.ExitPrice, 1e-9)
	assert.InDelta(t, 30000.0, ev.RealizedPnL, 1e-6)
	assert.True(t, ev.Alert)
	assert.Zero(t, tr.Len())

	stats, ok := tr.WalletStats("0xW")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Trades)
	assert.Equal(t, 1, stats.Wins)
	assert.InDelta(t, 30000.0, stats.CumulativePnL, 1e-6)
	assert.InDelta(t, 750000.0, stats.CumulativeVolume, 1e-6)

	assert.Len(t, sink.saved, 2)
	assert.Len(t, sink.closed, 1)
	assert.Len(t, sink.stats, 1)
}

func TestTracker_SubThresholdChangeIsNoise(t *testing.T) {
	src := newFakeSource()
	tr := New(testConfig(), src, staticWallets{"0xw"}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	src.set("0xw", btc("0xw", 10, 50000))
	_, err := tr.Reconcile(ctx)
	require.NoError(t, err)

	// Exactly 10% does not count.
	src.set("0xw", btc("0xw", 11, 50000))
	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.InDelta(t, 10.0, tr.Positions()[0].Size, 1e-12, "tracked size unchanged")

	// 10.01% does.
	src.set("0xw", btc("0xw", 11.001, 50000))
	res, err = tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, store.EventUpdated, res.Events[0].Type)
}

func TestTracker_UpdateAlertNeedsDollarChange(t *testing.T) {
	src := newFakeSource()
	tr := New(testConfig(), src, staticWallets{"0xw"}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	src.set("0xw", btc("0xw", 10, 50000))
	_, err := tr.Reconcile(ctx)
	require.NoError(t, err)

	// 15% change but only 1.5 BTC × 50000 = 75K
	src.set("0xw", btc("0xw", 11.5, 50000))
	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, store.EventUpdated, res.Events[0].Type)
	assert.False(t, res.Events[0].Alert)
}

func TestTracker_FailedWalletIsSkippedNotClosed(t *testing.T) {
	src := newFakeSource()
	tr := New(testConfig(), src, staticWallets{"0xa", "0xb"}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	src.set("0xa", btc("0xa", 10, 50000))
	src.set("0xb", btc("0xb", 20, 50000))
	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	src.fail("0xa", errors.New("timeout"))
	src.set("0xb")
	res, err = tr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WalletsFailed)
	assert.Equal(t, 1, res.WalletsScanned)
	require.Len(t, res.Events, 1)
	assert.Equal(t, store.EventClosed, res.Events[0].Type)
	assert.Equal(t, "0xb", res.Events[0].Position.Wallet)

	positions := tr.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "0xa", positions[0].Wallet)
}

func TestTracker_FiltersSmallAndUnmonitored(t *testing.T) {
	src := newFakeSource()
	tr := New(testConfig(), src, staticWallets{"0xw"}, nil, zaptest.NewLogger(t))

	src.set("0xw",
		btc("0xw", 1, 50000), // 50K, below minimum
		store.Position{Wallet: "0xw", Asset: "DOGE", Size: 1e7, EntryPrice: 0.1},
		store.Position{Wallet: "0xw", Asset: "eth", Size: -100, EntryPrice: 3000, LiquidationPrice: 3500},
	)

	res, err := tr.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "ETH", res.Events[0].Position.Asset)
	assert.Equal(t, store.DirectionShort, res.Events[0].Position.Direction())
	assert.False(t, res.Events[0].Alert, "300K notional stays below the alert threshold")
}

func TestTracker_TrackedWalletsKeepBeingScanned(t *testing.T) {
	src := newFakeSource()
	wallets := &mutableWallets{list: []string{"0xw"}}
	tr := New(testConfig(), src, wallets, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	src.set("0xw", btc("0xw", 10, 50000))
	_, err := tr.Reconcile(ctx)
	require.NoError(t, err)

	// Wallet dropped from the watch list; its position still reconciles.
	wallets.set(nil)
	src.set("0xw")
	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, store.EventClosed, res.Events[0].Type)
}

type mutableWallets struct {
	mu   sync.Mutex
	list []string
}

func (m *mutableWallets) set(list []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = list
}

func (m *mutableWallets) Wallets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.list...)
}

func TestTracker_ExitPriceFallsBackToEntry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := newFakeSource()
	tr := New(testConfig(), src, staticWallets{"0xw"}, nil, zap.New(core))
	ctx := context.Background()

	src.set("0xw", btc("0xw", 10, 50000))
	_, err := tr.Reconcile(ctx)
	require.NoError(t, err)

	src.set("0xw")
	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.InDelta(t, 50000.0, res.Events[0].ExitPrice, 1e-9)
	assert.Zero(t, res.Events[0].RealizedPnL)
	assert.Equal(t, 1, logs.FilterMessage("exit_price_fallback").Len())

	stats, _ := tr.WalletStats("0xw")
	assert.Equal(t, 0, stats.Wins)
}

func TestTracker_InconsistentLiquidationWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := newFakeSource()
	tr := New(testConfig(), src, staticWallets{"0xw"}, nil, zap.New(core))
	tr.UpdateMarketStats([]store.MarketStats{{Asset: "BTC", Price: 50000, OpenInterest: 1000}})

	pos := btc("0xw", 10, 50000)
	pos.LiquidationPrice = 55000 // above entry for a long
	src.set("0xw", pos)

	res, err := tr.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	got := res.Events[0].Position
	assert.True(t, got.DataWarning)
	assert.Zero(t, got.Risk.LiquidationRisk)
	assert.InDelta(t, 1.0, got.Risk.PercentOfOI, 1e-9)
	assert.Equal(t, 1, logs.FilterMessage("liquidation_price_inconsistent").Len())
}

func TestTracker_CycleInProgress(t *testing.T) {
	src := newFakeSource()
	src.entered = make(chan struct{})
	src.release = make(chan struct{})
	tr := New(testConfig(), src, staticWallets{"0xw"}, nil, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		_, err := tr.Reconcile(context.Background())
		done <- err
	}()

	<-src.entered
	_, err := tr.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(src.release)
	require.NoError(t, <-done)
}

func TestTracker_NoCycleAfterShutdown(t *testing.T) {
	src := newFakeSource()
	tr := New(testConfig(), src, staticWallets{"0xw"}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Reconcile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
}

// cancelOnFirstFetch cancels the caller's context on its first call and
// fails any fetch whose context is done.
type cancelOnFirstFetch struct {
	*fakeSource
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnFirstFetch) FetchPositions(ctx context.Context, wallet string) ([]store.Position, error) {
	c.once.Do(c.cancel)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeSource.FetchPositions(ctx, wallet)
}

func TestTracker_InFlightCycleCompletesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &cancelOnFirstFetch{fakeSource: newFakeSource(), cancel: cancel}
	src.set("0xb", store.Position{Wallet: "0xb", Asset: "BTC", Size: 40, EntryPrice: 50000})
	tr := New(testConfig(), src, staticWallets{"0xa", "0xb", "0xc"}, nil, zaptest.NewLogger(t))

	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.WalletsScanned)
	assert.Zero(t, res.WalletsFailed)
	require.Len(t, res.Events, 1)
	assert.Equal(t, store.EventNew, res.Events[0].Type)
	assert.Equal(t, 3, src.calls)

	_, err = tr.Reconcile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, src.calls)
}

func TestTracker_RestoreWalletStats(t *testing.T) {
	tr := New(testConfig(), newFakeSource(), nil, nil, zap.NewNop())
	tr.RestoreWalletStats(map[string]store.WalletStats{"0xABC": {Wallet: "0xabc", Trades: 3, Wins: 2}})

	stats, ok := tr.WalletStats("0xabc")
	require.True(t, ok)
	assert.Equal(t, 3, stats.Trades)
}

func TestTracker_MarketStatsKeepLastKnownValues(t *testing.T) {
	tr := New(testConfig(), newFakeSource(), nil, nil, zap.NewNop())
	tr.UpdateMarketStats([]store.MarketStats{{Asset: "btc", Price: 50000, OpenInterest: 900}})
	tr.UpdateMarketStats([]store.MarketStats{{Asset: "BTC", Price: 0, OpenInterest: 1000}})

	price, ok := tr.MarketPrice("BTC")
	require.True(t, ok)
	assert.InDelta(t, 50000.0, price, 1e-9)

	markets := tr.Markets()
	require.Len(t, markets, 1)
	assert.InDelta(t, 1000.0, markets[0].OpenInterest, 1e-9)
}
