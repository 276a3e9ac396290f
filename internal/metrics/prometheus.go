package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whalewatch"

// Collectors holds the Prometheus series exported on /metrics.
type Collectors struct {
	Registry *prometheus.Registry

	Trades            *prometheus.CounterVec
	WhaleTrades       *prometheus.CounterVec
	WhaleVolume       *prometheus.CounterVec
	Duplicates        prometheus.Counter
	Alerts            *prometheus.CounterVec
	Publishes         *prometheus.CounterVec
	PublishLatency    *prometheus.HistogramVec
	Reconnects        prometheus.Counter
	StreamUp          prometheus.Gauge
	ReconcileDuration prometheus.Histogram
	ReconcileFailures prometheus.Counter
	WalletErrors      prometheus.Counter
	TrackedPositions  prometheus.Gauge
	WatchedWallets    prometheus.Gauge
}

// NewCollectors creates the collectors on a dedicated registry.
func NewCollectors() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total", Help: "Trades received from the stream.",
		}, []string{"asset"}),
		WhaleTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "whale_trades_total", Help: "Trades at or above the whale threshold.",
		}, []string{"asset", "side"}),
		WhaleVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "whale_volume_usd_total", Help: "Notional of whale trades in USD.",
		}, []string{"asset"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicate_trades_total", Help: "Trades dropped as duplicates.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total", Help: "Alerts handed to publishers.",
		}, []string{"kind"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_total", Help: "Publish attempts by publisher and result.",
		}, []string{"publisher", "result"}),
		PublishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "publish_duration_seconds", Help: "Publish latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"publisher"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_reconnects_total", Help: "Scheduled stream reconnection attempts.",
		}),
		StreamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_up", Help: "1 when the trade stream is open.",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "reconcile_duration_seconds", Help: "Position reconciliation cycle duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ReconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_failures_total", Help: "Reconciliation cycles that returned an error.",
		}),
		WalletErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "wallet_fetch_errors_total", Help: "Per-wallet position fetch failures.",
		}),
		TrackedPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tracked_positions", Help: "Positions currently tracked.",
		}),
		WatchedWallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "watched_wallets", Help: "Wallets in the reconciliation scan list.",
		}),
	}

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Trades, c.WhaleTrades, c.WhaleVolume, c.Duplicates,
		c.Alerts, c.Publishes, c.PublishLatency,
		c.Reconnects, c.StreamUp,
		c.ReconcileDuration, c.ReconcileFailures, c.WalletErrors,
		c.TrackedPositions, c.WatchedWallets,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}
