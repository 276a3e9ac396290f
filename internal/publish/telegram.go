package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/whalewatch/engine/internal/store"
)

// DefaultRetryDelay is the wait before the single retry of a rate-limited post.
const DefaultRetryDelay = 15 * time.Second

// TelegramSender is the part of tgbotapi.BotAPI used for posting.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramPoster posts alerts to a Telegram chat under the social rate limit.
type TelegramPoster struct {
	bot        TelegramSender
	chatID     int64
	limiter    *Limiter
	retryDelay time.Duration
	log        *zap.Logger
}

// NewTelegramPoster authorizes the bot token and returns a poster for chatID.
func NewTelegramPoster(token string, chatID int64, limiter *Limiter, retryDelay time.Duration, log *zap.Logger) (*TelegramPoster, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	log.Info("telegram_authorized", zap.String("account", bot.Self.UserName))
	return NewTelegramPosterWithSender(bot, chatID, limiter, retryDelay, log), nil
}

// NewTelegramPosterWithSender builds a poster around an existing sender.
func NewTelegramPosterWithSender(bot TelegramSender, chatID int64, limiter *Limiter, retryDelay time.Duration, log *zap.Logger) *TelegramPoster {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &TelegramPoster{
		bot:        bot,
		chatID:     chatID,
		limiter:    limiter,
		retryDelay: retryDelay,
		log:        log,
	}
}

func (t *TelegramPoster) Name() string { return "telegram" }

// Publish waits for a slot and posts the alert text. A rate-limited post is
// retried once after the retry delay; any other failure is returned as is.
func (t *TelegramPoster) Publish(ctx context.Context, alert store.Alert) error {
	err := t.send(ctx, alert.Text)
	if !IsRateLimited(err) {
		return err
	}

	t.log.Warn("telegram_rate_limited", zap.String("alert_id", alert.ID), zap.Duration("retry_in", t.retryDelay))

	timer := time.NewTimer(t.retryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	if err := t.send(ctx, alert.Text); err != nil {
		return fmt.Errorf("telegram retry: %w", err)
	}
	return nil
}

func (t *TelegramPoster) send(ctx context.Context, text string) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	_, err := t.bot.Send(msg)
	return err
}

// IsRateLimited reports whether err is a Telegram 429 / retry-after response.
func IsRateLimited(err error) bool {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return false
	}
	return tgErr.Code == http.StatusTooManyRequests || tgErr.RetryAfter > 0
}
