// Package main is the entry point for the whalewatch engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/config"
	"github.com/whalewatch/engine/internal/detector"
	"github.com/whalewatch/engine/internal/ingest"
	"github.com/whalewatch/engine/internal/logger"
	"github.com/whalewatch/engine/internal/metrics"
	"github.com/whalewatch/engine/internal/publish"
	"github.com/whalewatch/engine/internal/server"
	"github.com/whalewatch/engine/internal/store"
	"github.com/whalewatch/engine/internal/tracker"
	"github.com/whalewatch/engine/internal/ui"
)

const (
	// FeedBuffer is the size of the buffered TUI feed channels
	FeedBuffer = 100
	// DrainTimeout bounds how long queued alerts may take to publish on shutdown
	DrainTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var logOpts []logger.Option
	if cfg.EnableTUI {
		logOpts = append(logOpts, logger.WithoutConsole())
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDir, logOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("engine_failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("config_loaded",
		zap.String("ws_url", cfg.WSURL),
		zap.String("api_url", cfg.APIURL),
		zap.Strings("assets", cfg.Assets),
		zap.Int("pinned_wallets", len(cfg.Wallets)),
		zap.Float64("whale_trade_usd", cfg.WhaleTradeUSD),
		zap.Float64("position_min_usd", cfg.PositionMinUSD),
		zap.Float64("position_alert_usd", cfg.PositionAlertUSD),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
		zap.Bool("scale_sizes", cfg.ScaleSizes),
		zap.String("telegram_token", cfg.MaskedTelegramToken()),
		zap.String("discord_webhook", cfg.MaskedDiscordWebhook()),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Bool("enable_tui", cfg.EnableTUI),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	files, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return err
	}

	prices, err := ingest.NewPriceCache(cfg.PriceCacheTTL)
	if err != nil {
		return err
	}
	defer prices.Close()

	var fetchOpts []ingest.FetcherOption
	if !cfg.ScaleSizes {
		fetchOpts = append(fetchOpts, ingest.WithRawSizes())
	}
	fetcher := ingest.NewFetcher(cfg.APIURL, prices, logger.Component(log, "fetcher"), fetchOpts...)
	if index, err := fetcher.LoadAssetIndex(ctx); err != nil {
		// the market refresh loop retries the index
		log.Warn("asset_index_unavailable", zap.Error(err))
	} else {
		log.Info("asset_index_loaded", zap.Int("assets", len(index)))
	}

	watch := detector.NewWalletWatch(cfg.Wallets, cfg.MaxTrackedWallets)
	detect := detector.NewDetector(cfg.WhaleTradeUSD, detector.NewDeduplicator(cfg.DedupCapacity), watch)

	positions := tracker.New(tracker.Config{
		Assets:             cfg.Assets,
		PositionMinUSD:     cfg.PositionMinUSD,
		PositionAlertUSD:   cfg.PositionAlertUSD,
		UpdateMinChangeUSD: cfg.UpdateMinChangeUSD,
	}, fetcher, watch, files, logger.Component(log, "tracker"))

	if saved, err := files.LoadWalletStats(); err != nil {
		log.Warn("wallet_stats_load_failed", zap.Error(err))
	} else if len(saved) > 0 {
		positions.RestoreWalletStats(saved)
		log.Info("wallet_stats_restored", zap.Int("wallets", len(saved)))
	}

	prom := metrics.NewCollectors()
	stats := metrics.NewTracker(prom)

	pubs, closers := buildPublishers(ctx, cfg, log)
	dispatcher := publish.NewDispatcher(logger.Component(log, "publish"), publish.DefaultQueueSize, pubs,
		publish.WithResultHook(func(name string, _ store.Alert, err error, took time.Duration) {
			stats.RecordPublish(name, err, took)
		}),
	)
	log.Info("publishers_ready", zap.Strings("publishers", dispatcher.Publishers()))

	p := &pipeline{
		log:       logger.Component(log, "pipeline"),
		assets:    assetSet(cfg.Assets),
		normalize: fetcher,
		markets:   fetcher,
		detect:    detect,
		watch:     watch,
		tracker:   positions,
		sink:      files,
		format:    alert.NewFormatter(cfg.AlertMaxChars),
		queue:     dispatcher,
		metrics:   stats,
	}
	if cfg.EnableTUI {
		p.tradeFeed = make(chan store.Trade, FeedBuffer)
		p.alertFeed = make(chan store.Alert, FeedBuffer)
	}

	stream, err := ingest.Connect(ctx, ingest.StreamConfig{
		URL:               cfg.WSURL,
		Assets:            cfg.Assets,
		HeartbeatInterval: cfg.HeartbeatInterval,
		BaseDelay:         cfg.ReconnectBaseDelay,
		BackoffFactor:     cfg.ReconnectFactor,
		MaxAttempts:       cfg.MaxReconnectAttempts,
	}, p.handleMessage, logger.Component(log, "stream"),
		ingest.WithStateHook(func(s ingest.State) { stats.SetStreamState(s.String()) }),
		ingest.WithReconnectHook(func(int, time.Duration) { stats.RecordReconnect() }),
	)
	if err != nil {
		return err
	}

	srv := server.New(fmt.Sprintf(":%d", cfg.HTTPPort), server.Sources{
		Status:    func() any { return stats.Snapshot() },
		Positions: func() any { return positions.Positions() },
	}, prom.Handler(), logger.Component(log, "http"))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		runEvery(ctx, cfg.MarketRefreshInterval, p.refreshMarkets)
	}()
	go func() {
		defer wg.Done()
		runEvery(ctx, cfg.ReconcileInterval, p.reconcile)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			log.Error("http_server_failed", zap.Error(err))
		}
	}()

	log.Info("engine_started",
		zap.Int("assets", len(cfg.Assets)),
		zap.Int("wallets", watch.Len()),
		zap.Bool("tui_enabled", cfg.EnableTUI),
	)

	var tuiDone chan struct{}
	if cfg.EnableTUI {
		app := ui.NewApp(ctx, p.tradeFeed, p.alertFeed, dashboard{metrics: stats, tracker: positions})
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if err := app.Run(); err != nil {
				log.Error("tui_error", zap.Error(err))
			}
		}()
	}

	streamDone := stream.Done()
wait:
	for {
		select {
		case sig := <-sigChan:
			log.Info("shutdown_signal_received", zap.String("signal", sig.String()))
			break wait
		case <-streamDone:
			// reconciliation keeps running on REST snapshots without the stream
			if err := stream.Err(); errors.Is(err, ingest.ErrReconnectExhausted) {
				log.Error("stream_stopped", zap.Error(err))
			}
			streamDone = nil
		case <-tuiDone:
			log.Info("tui_closed")
			break wait
		}
	}

	// stop new cycles, then drain
	cancel()
	log.Info("shutting_down")

	if err := stream.Close(); err != nil {
		log.Warn("stream_close_failed", zap.Error(err))
	}
	wg.Wait()
	if tuiDone != nil {
		<-tuiDone
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer drainCancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		log.Warn("alert_drain_incomplete", zap.Int("pending", dispatcher.Pending()), zap.Error(err))
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn("publisher_close_failed", zap.Error(err))
		}
	}

	log.Info("shutdown_complete")
	return nil
}

// buildPublishers creates a publisher per configured channel. A channel that
// fails to initialize is logged and skipped. Alerts are always logged.
func buildPublishers(ctx context.Context, cfg *config.Config, log *zap.Logger) ([]publish.Publisher, []io.Closer) {
	pubLog := logger.Component(log, "publish")
	pubs := []publish.Publisher{logPublisher(pubLog)}
	var closers []io.Closer

	if cfg.TelegramBotToken != "" {
		chatID, _ := cfg.TelegramChat()
		limiter := publish.NewLimiter(cfg.SocialRateLimit, cfg.SocialRateWindow)
		tg, err := publish.NewTelegramPoster(cfg.TelegramBotToken, chatID, limiter, cfg.PublishRetryDelay, pubLog)
		if err != nil {
			log.Warn("telegram_disabled", zap.Error(err))
		} else {
			pubs = append(pubs, tg)
		}
	}

	if cfg.DiscordWebhookURL != "" {
		limiter := publish.NewLimiter(cfg.SocialRateLimit, cfg.SocialRateWindow)
		pubs = append(pubs, publish.RateLimited(publish.NewWebhookPoster(cfg.DiscordWebhookURL, cfg.WebhookMaxChars), limiter))
	}

	if cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := publish.NewRedisClient(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			log.Warn("redis_disabled", zap.Error(err))
		} else {
			pubs = append(pubs, publish.NewRedisQueue(client, cfg.RedisAlertKey, publish.DefaultRedisMaxLen))
			closers = append(closers, client)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := publish.NewKafkaProducer(publish.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		pubs = append(pubs, producer)
		closers = append(closers, producer)
	}

	return pubs, closers
}

func logPublisher(log *zap.Logger) publish.Publisher {
	return publish.PublisherFunc{ID: "log", Fn: func(_ context.Context, a store.Alert) error {
		log.Info("alert",
			zap.String("alert_id", a.ID),
			zap.String("kind", a.Kind),
			zap.String("asset", a.Asset),
			zap.String("wallet", alert.TruncateAddress(a.Wallet)),
			zap.Float64("notional", a.Notional),
		)
		return nil
	}}
}

// dashboard adapts the metrics and position trackers to the TUI source.
type dashboard struct {
	metrics *metrics.Tracker
	tracker *tracker.Tracker
}

func (d dashboard) Snapshot() metrics.Snapshot { return d.metrics.Snapshot() }
func (d dashboard) Positions() []store.Position { return d.tracker.Positions() }
func (d dashboard) Markets() []store.MarketStats { return d.tracker.Markets() }

func assetSet(assets []string) map[string]struct{} {
	set := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		set[strings.ToUpper(a)] = struct{}{}
	}
	return set
}
