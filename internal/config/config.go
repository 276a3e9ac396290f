// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the whalewatch engine.
type Config struct {
	// Exchange endpoints
	WSURL  string
	APIURL string

	// Monitored universe
	Assets            []string
	Wallets           []string
	MaxTrackedWallets int

	// Thresholds (USD notional)
	WhaleTradeUSD      float64
	PositionMinUSD     float64
	PositionAlertUSD   float64
	UpdateMinChangeUSD float64

	// Stream
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectFactor      float64
	MaxReconnectAttempts int

	// Timers and caches
	ReconcileInterval     time.Duration
	MarketRefreshInterval time.Duration
	PriceCacheTTL         time.Duration
	DedupCapacity         int

	// ScaleSizes applies 10^-szDecimals to raw exchange sizes
	ScaleSizes bool

	// Publishing
	SocialRateLimit   int
	SocialRateWindow  time.Duration
	PublishRetryDelay time.Duration
	AlertMaxChars     int
	WebhookMaxChars   int

	TelegramBotToken  string
	TelegramChatID    string
	DiscordWebhookURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisAlertKey string

	KafkaBrokers []string
	KafkaTopic   string

	// Storage
	DataDir string
	LogDir  string

	// Health/status server
	HTTPPort int

	// UI
	EnableTUI bool

	// Logging
	LogLevel string
}

// defaults lists every key with its fallback value.
var defaults = map[string]any{
	"HL_WS_URL":                "wss://api.hyperliquid.xyz/ws",
	"HL_API_URL":               "https://api.hyperliquid.xyz/info",
	"ASSETS":                   "BTC,ETH,SOL",
	"WALLETS":                  "",
	"MAX_TRACKED_WALLETS":      500,
	"WHALE_TRADE_USD":          100000.0,
	"POSITION_MIN_USD":         100000.0,
	"POSITION_ALERT_USD":       1000000.0,
	"UPDATE_MIN_CHANGE_USD":    100000.0,
	"HEARTBEAT_INTERVAL":       "30s",
	"RECONNECT_BASE_DELAY":     "5s",
	"RECONNECT_BACKOFF_FACTOR": 1.5,
	"MAX_RECONNECT_ATTEMPTS":   10,
	"RECONCILE_INTERVAL":       "5m",
	"MARKET_REFRESH_INTERVAL":  "1m",
	"PRICE_CACHE_TTL":          "30s",
	"DEDUP_CAPACITY":           10000,
	"SCALE_SIZES":              true,
	"SOCIAL_RATE_LIMIT":        5,
	"SOCIAL_RATE_WINDOW":       "60s",
	"PUBLISH_RETRY_DELAY":      "15s",
	"ALERT_MAX_CHARS":          280,
	"WEBHOOK_MAX_CHARS":        2000,
	"TELEGRAM_BOT_TOKEN":       "",
	"TELEGRAM_CHAT_ID":         "",
	"DISCORD_WEBHOOK_URL":      "",
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"REDIS_ALERT_KEY":          "whalewatch:alerts",
	"KAFKA_BROKERS":            "",
	"KAFKA_TOPIC":              "whale-alerts",
	"DATA_DIR":                 "./data",
	"LOG_DIR":                  "",
	"HTTP_PORT":                8080,
	"ENABLE_TUI":               false,
	"LOG_LEVEL":                "INFO",
}

// Load reads configuration with fallback to a .env file and an optional config file.
// Priority order: Environment variables > CONFIG_FILE > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// FromViper maps a populated viper instance onto Config.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		WSURL:  v.GetString("HL_WS_URL"),
		APIURL: v.GetString("HL_API_URL"),

		Assets:            upperAll(splitList(v.GetString("ASSETS"))),
		Wallets:           lowerAll(splitList(v.GetString("WALLETS"))),
		MaxTrackedWallets: v.GetInt("MAX_TRACKED_WALLETS"),

		WhaleTradeUSD:      v.GetFloat64("WHALE_TRADE_USD"),
		PositionMinUSD:     v.GetFloat64("POSITION_MIN_USD"),
		PositionAlertUSD:   v.GetFloat64("POSITION_ALERT_USD"),
		UpdateMinChangeUSD: v.GetFloat64("UPDATE_MIN_CHANGE_USD"),

		HeartbeatInterval:    v.GetDuration("HEARTBEAT_INTERVAL"),
		ReconnectBaseDelay:   v.GetDuration("RECONNECT_BASE_DELAY"),
		ReconnectFactor:      v.GetFloat64("RECONNECT_BACKOFF_FACTOR"),
		MaxReconnectAttempts: v.GetInt("MAX_RECONNECT_ATTEMPTS"),

		ReconcileInterval:     v.GetDuration("RECONCILE_INTERVAL"),
		MarketRefreshInterval: v.GetDuration("MARKET_REFRESH_INTERVAL"),
		PriceCacheTTL:         v.GetDuration("PRICE_CACHE_TTL"),
		DedupCapacity:         v.GetInt("DEDUP_CAPACITY"),
		ScaleSizes:            v.GetBool("SCALE_SIZES"),

		SocialRateLimit:   v.GetInt("SOCIAL_RATE_LIMIT"),
		SocialRateWindow:  v.GetDuration("SOCIAL_RATE_WINDOW"),
		PublishRetryDelay: v.GetDuration("PUBLISH_RETRY_DELAY"),
		AlertMaxChars:     v.GetInt("ALERT_MAX_CHARS"),
		WebhookMaxChars:   v.GetInt("WEBHOOK_MAX_CHARS"),

		TelegramBotToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    v.GetString("TELEGRAM_CHAT_ID"),
		DiscordWebhookURL: v.GetString("DISCORD_WEBHOOK_URL"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisAlertKey: v.GetString("REDIS_ALERT_KEY"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		DataDir: v.GetString("DATA_DIR"),
		LogDir:  v.GetString("LOG_DIR"),

		HTTPPort: v.GetInt("HTTP_PORT"),

		EnableTUI: v.GetBool("ENABLE_TUI"),

		LogLevel: v.GetString("LOG_LEVEL"),
	}
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.WSURL == "" {
		return fmt.Errorf("HL_WS_URL is required")
	}

	if c.APIURL == "" {
		return fmt.Errorf("HL_API_URL is required")
	}

	if len(c.Assets) == 0 {
		return fmt.Errorf("ASSETS must list at least one asset")
	}

	if c.WhaleTradeUSD <= 0 || c.PositionMinUSD <= 0 || c.PositionAlertUSD <= 0 {
		return fmt.Errorf("whale thresholds must be positive")
	}

	if c.UpdateMinChangeUSD < 0 {
		return fmt.Errorf("UPDATE_MIN_CHANGE_USD must not be negative")
	}

	if c.ReconnectBaseDelay <= 0 || c.ReconnectFactor < 1 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be positive and RECONNECT_BACKOFF_FACTOR at least 1")
	}

	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative")
	}

	if c.HeartbeatInterval <= 0 || c.ReconcileInterval <= 0 || c.MarketRefreshInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}

	if c.DedupCapacity < 1 {
		return fmt.Errorf("DEDUP_CAPACITY must be at least 1")
	}

	if c.SocialRateLimit < 1 || c.SocialRateWindow <= 0 {
		return fmt.Errorf("SOCIAL_RATE_LIMIT and SOCIAL_RATE_WINDOW must be positive")
	}

	if c.TelegramBotToken != "" {
		if _, err := c.TelegramChat(); err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID must be a numeric chat id when TELEGRAM_BOT_TOKEN is set")
		}
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}

	return nil
}

// TelegramChat parses the numeric Telegram chat ID.
func (c *Config) TelegramChat() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(c.TelegramChatID), 10, 64)
}

// MaskedTelegramToken returns the bot token with most characters hidden for logging.
func (c *Config) MaskedTelegramToken() string {
	return maskSecret(c.TelegramBotToken)
}

// MaskedDiscordWebhook returns the webhook URL with most characters hidden for logging.
func (c *Config) MaskedDiscordWebhook() string {
	return maskSecret(c.DiscordWebhookURL)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// splitList splits a comma separated value, dropping blanks.
func splitList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func upperAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToUpper(in[i])
	}
	return in
}

func lowerAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}
