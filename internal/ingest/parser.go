// Package ingest handles the exchange WebSocket stream, REST snapshots and message parsing.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/engine/internal/store"
)

// Inbound channel names.
const (
	ChannelTrades               = "trades"
	ChannelPong                 = "pong"
	ChannelSubscriptionResponse = "subscriptionResponse"
	ChannelError                = "error"
)

// ErrMalformedMessage is returned for payloads that are not a channel envelope.
var ErrMalformedMessage = errors.New("malformed message")

// Message is the envelope of every inbound stream message.
type Message struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// WireTrade is one fill as delivered on the trades channel.
type WireTrade struct {
	Coin  string    `json:"coin"`
	Side  string    `json:"side"` // "B" bid (buy) or "A" ask (sell)
	Px    string    `json:"px"`
	Sz    string    `json:"sz"`
	Time  int64     `json:"time"` // Unix ms
	Hash  string    `json:"hash"`
	TID   int64     `json:"tid"`
	Users [2]string `json:"users"` // [buyer, seller]
}

// ParseMessage decodes the channel envelope of a raw stream message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Channel == "" {
		return Message{}, fmt.Errorf("%w: missing channel", ErrMalformedMessage)
	}
	return msg, nil
}

// ParseTrades converts a trades channel payload into store trades.
// Entries with a non-positive price or size are skipped.
func ParseTrades(data json.RawMessage) ([]store.Trade, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var wire []WireTrade
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse trades: %w", err)
	}

	trades := make([]store.Trade, 0, len(wire))
	for _, wt := range wire {
		trade, ok := convertTrade(wt)
		if !ok {
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// convertTrade maps a wire trade onto store.Trade.
func convertTrade(wt WireTrade) (store.Trade, bool) {
	price, err := decimal.NewFromString(wt.Px)
	if err != nil || !price.IsPositive() {
		return store.Trade{}, false
	}
	size, err := decimal.NewFromString(wt.Sz)
	if err != nil || !size.IsPositive() {
		return store.Trade{}, false
	}

	side := store.SideBuy
	if strings.EqualFold(wt.Side, "A") {
		side = store.SideSell
	}

	trade := store.Trade{
		TradeID:   tradeID(wt),
		Asset:     strings.ToUpper(wt.Coin),
		Side:      side,
		Price:     price.InexactFloat64(),
		Size:      size.InexactFloat64(),
		Notional:  price.Mul(size).InexactFloat64(),
		Timestamp: parseTimestamp(wt.Time),
		Buyer:     strings.ToLower(wt.Users[0]),
		Seller:    strings.ToLower(wt.Users[1]),
		TxHash:    wt.Hash,
	}
	return trade, true
}

// tradeID prefers the exchange trade id and falls back to hash and time.
func tradeID(wt WireTrade) string {
	if wt.TID != 0 {
		return strconv.FormatInt(wt.TID, 10)
	}
	return fmt.Sprintf("%s-%s-%d", wt.Coin, wt.Hash, wt.Time)
}

// parseTimestamp converts Unix milliseconds, defaulting to now when absent.
func parseTimestamp(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// parseDecimal parses an exchange decimal string, returning zero on failure.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
