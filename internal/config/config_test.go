package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Assets)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.ReconnectBaseDelay)
	assert.InDelta(t, 1.5, cfg.ReconnectFactor, 1e-9)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 30*time.Second, cfg.PriceCacheTTL)
	assert.Equal(t, 10000, cfg.DedupCapacity)
	assert.Equal(t, 5, cfg.SocialRateLimit)
	assert.Equal(t, 60*time.Second, cfg.SocialRateWindow)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ASSETS", " btc, doge ,,")
	t.Setenv("WALLETS", "0xABC,0xDef")
	t.Setenv("WHALE_TRADE_USD", "250000")
	t.Setenv("RECONCILE_INTERVAL", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "DOGE"}, cfg.Assets)
	assert.Equal(t, []string{"0xabc", "0xdef"}, cfg.Wallets)
	assert.InDelta(t, 250000.0, cfg.WhaleTradeUSD, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ASSETS", " , ")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASSETS")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "abcd****wxyz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestLoad_TelegramChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "@channel")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")

	t.Setenv("TELEGRAM_CHAT_ID", "-1001234")
	cfg, err := Load()
	require.NoError(t, err)
	id, err := cfg.TelegramChat()
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), id)
}
