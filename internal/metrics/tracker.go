// Package metrics provides real-time metrics tracking for the system.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/whalewatch/engine/internal/store"
)

const rateWindow = 60 * time.Second

// AssetActivity tracks whale activity for a single asset.
type AssetActivity struct {
	Asset       string    `json:"asset"`
	TradeCount  int64     `json:"trade_count"`
	WhaleTrades int64     `json:"whale_trades"`
	WhaleVolume float64   `json:"whale_volume"`
	WhaleBuys   int64     `json:"whale_buys"`
	WhaleSells  int64     `json:"whale_sells"`
	LastPrice   float64   `json:"last_price"`
	LastWhale   time.Time `json:"last_whale,omitempty"`
	LastUpdate  time.Time `json:"last_update"`
}

// NetFlow returns whale buys minus sells.
func (a AssetActivity) NetFlow() int64 {
	return a.WhaleBuys - a.WhaleSells
}

// Snapshot is a point-in-time view of metrics.
type Snapshot struct {
	TradesTotal       int64                    `json:"trades_total"`
	WhaleTrades       int64                    `json:"whale_trades"`
	Duplicates        int64                    `json:"duplicates"`
	TradeRate         float64                  `json:"trade_rate"` // trades per second
	AlertsByKind      map[string]int64         `json:"alerts_by_kind"`
	PublishFailures   map[string]int64         `json:"publish_failures"`
	Assets            map[string]AssetActivity `json:"assets"`
	TopAssets         []AssetActivity          `json:"top_assets"`
	Uptime            time.Duration            `json:"uptime"`
	StreamState       string                   `json:"stream_state"`
	Reconnects        int64                    `json:"reconnects"`
	LastReconcile     time.Time                `json:"last_reconcile"`
	ReconcileDuration time.Duration            `json:"reconcile_duration"`
	ReconcileFailures int64                    `json:"reconcile_failures"`
	TrackedPositions  int                      `json:"tracked_positions"`
	WatchedWallets    int                      `json:"watched_wallets"`
	QueuePending      int                      `json:"queue_pending"`
}

// ReconcileStats summarizes one reconciliation cycle.
type ReconcileStats struct {
	Duration       time.Duration
	Events         int
	WalletsScanned int
	WalletsFailed  int
	Err            error
}

// Tracker provides thread-safe metrics tracking. Counters are mirrored into
// Prometheus collectors when configured.
type Tracker struct {
	mu              sync.RWMutex
	tradesTotal     int64
	whaleTrades     int64
	duplicates      int64
	alertsByKind    map[string]int64
	publishFailures map[string]int64
	assets          map[string]*AssetActivity
	tradeTimestamps []time.Time
	startTime       time.Time

	streamState       string
	reconnects        int64
	lastReconcile     time.Time
	reconcileDuration time.Duration
	reconcileFailures int64
	trackedPositions  int
	watchedWallets    int
	queuePending      int

	prom *Collectors
	now  func() time.Time
}

// NewTracker creates a Tracker. prom may be nil.
func NewTracker(prom *Collectors) *Tracker {
	return &Tracker{
		alertsByKind:    make(map[string]int64),
		publishFailures: make(map[string]int64),
		assets:          make(map[string]*AssetActivity),
		tradeTimestamps: make([]time.Time, 0, 1024),
		startTime:       time.Now(),
		streamState:     "CONNECTING",
		prom:            prom,
		now:             time.Now,
	}
}

// RecordTrade counts a parsed trade and updates the asset's last price.
func (m *Tracker) RecordTrade(t store.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.tradesTotal++
	m.tradeTimestamps = append(m.tradeTimestamps, now)

	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(m.tradeTimestamps) && !m.tradeTimestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.tradeTimestamps = m.tradeTimestamps[i:]
	}

	a := m.asset(t.Asset)
	a.TradeCount++
	a.LastPrice = t.Price
	a.LastUpdate = now

	if m.prom != nil {
		m.prom.Trades.WithLabelValues(t.Asset).Inc()
	}
}

// RecordWhale counts a whale trade against its asset.
func (m *Tracker) RecordWhale(t store.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.whaleTrades++
	a := m.asset(t.Asset)
	a.WhaleTrades++
	a.WhaleVolume += t.Notional
	a.LastWhale = t.Timestamp
	if t.Side == store.SideBuy {
		a.WhaleBuys++
	} else {
		a.WhaleSells++
	}

	if m.prom != nil {
		m.prom.WhaleTrades.WithLabelValues(t.Asset, t.Side).Inc()
		m.prom.WhaleVolume.WithLabelValues(t.Asset).Add(t.Notional)
	}
}

// RecordDuplicate counts a trade dropped by deduplication.
func (m *Tracker) RecordDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
	if m.prom != nil {
		m.prom.Duplicates.Inc()
	}
}

// RecordAlert counts an alert handed to the dispatcher.
func (m *Tracker) RecordAlert(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertsByKind[kind]++
	if m.prom != nil {
		m.prom.Alerts.WithLabelValues(kind).Inc()
	}
}

// RecordPublish records the outcome of one publish attempt.
func (m *Tracker) RecordPublish(publisher string, err error, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
		m.publishFailures[publisher]++
	}
	if m.prom != nil {
		m.prom.Publishes.WithLabelValues(publisher, result).Inc()
		m.prom.PublishLatency.WithLabelValues(publisher).Observe(took.Seconds())
	}
}

// SetStreamState records the stream client state.
func (m *Tracker) SetStreamState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamState = state
	if m.prom != nil {
		up := 0.0
		if state == "OPEN" {
			up = 1
		}
		m.prom.StreamUp.Set(up)
	}
}

// RecordReconnect counts a scheduled reconnection attempt.
func (m *Tracker) RecordReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	if m.prom != nil {
		m.prom.Reconnects.Inc()
	}
}

// RecordReconcile records a finished reconciliation cycle.
func (m *Tracker) RecordReconcile(s ReconcileStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastReconcile = m.now()
	m.reconcileDuration = s.Duration
	if s.Err != nil {
		m.reconcileFailures++
	}
	if m.prom != nil {
		m.prom.ReconcileDuration.Observe(s.Duration.Seconds())
		m.prom.WalletErrors.Add(float64(s.WalletsFailed))
		if s.Err != nil {
			m.prom.ReconcileFailures.Inc()
		}
	}
}

// SetTrackedPositions records the tracked position count.
func (m *Tracker) SetTrackedPositions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackedPositions = n
	if m.prom != nil {
		m.prom.TrackedPositions.Set(float64(n))
	}
}

// SetWatchedWallets records the number of wallets in the scan list.
func (m *Tracker) SetWatchedWallets(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchedWallets = n
	if m.prom != nil {
		m.prom.WatchedWallets.Set(float64(n))
	}
}

// SetQueuePending records the number of alerts waiting for publishers.
func (m *Tracker) SetQueuePending(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queuePending = n
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *Tracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tradeRate := 0.0
	if len(m.tradeTimestamps) > 0 {
		elapsed := m.now().Sub(m.tradeTimestamps[0]).Seconds()
		if elapsed < 1 {
			elapsed = 1
		}
		tradeRate = float64(len(m.tradeTimestamps)) / elapsed
	}

	assets := make(map[string]AssetActivity, len(m.assets))
	for k, v := range m.assets {
		assets[k] = *v
	}

	return Snapshot{
		TradesTotal:       m.tradesTotal,
		WhaleTrades:       m.whaleTrades,
		Duplicates:        m.duplicates,
		TradeRate:         tradeRate,
		AlertsByKind:      copyCounts(m.alertsByKind),
		PublishFailures:   copyCounts(m.publishFailures),
		Assets:            assets,
		TopAssets:         m.topAssets(5),
		Uptime:            m.now().Sub(m.startTime),
		StreamState:       m.streamState,
		Reconnects:        m.reconnects,
		LastReconcile:     m.lastReconcile,
		ReconcileDuration: m.reconcileDuration,
		ReconcileFailures: m.reconcileFailures,
		TrackedPositions:  m.trackedPositions,
		WatchedWallets:    m.watchedWallets,
		QueuePending:      m.queuePending,
	}
}

// topAssets returns the assets with the most whale volume.
// Must be called with lock held.
func (m *Tracker) topAssets(n int) []AssetActivity {
	out := make([]AssetActivity, 0, len(m.assets))
	for _, a := range m.assets {
		if a.WhaleTrades > 0 {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WhaleVolume != out[j].WhaleVolume {
			return out[i].WhaleVolume > out[j].WhaleVolume
		}
		return out[i].Asset < out[j].Asset
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Cleanup removes assets with no activity within maxAge.
func (m *Tracker) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for name, a := range m.assets {
		if a.LastUpdate.Before(cutoff) {
			delete(m.assets, name)
			removed++
		}
	}
	return removed
}

func (m *Tracker) asset(name string) *AssetActivity {
	a, ok := m.assets[name]
	if !ok {
		a = &AssetActivity{Asset: name}
		m.assets[name] = a
	}
	return a
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
