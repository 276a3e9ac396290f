package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/whalewatch/engine/internal/store"
)

// DefaultInfoURL is the exchange info endpoint.
const DefaultInfoURL = "https://api.hyperliquid.xyz/info"

var (
	// ErrNoPriceData is returned when prices could not be fetched and nothing is cached.
	ErrNoPriceData = errors.New("no price data available")

	// ErrUnknownAsset is returned for assets missing from the asset index.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Info request types.
const (
	RequestAllMids            = "allMids"
	RequestMeta               = "meta"
	RequestMetaAndAssetCtxs   = "metaAndAssetCtxs"
	RequestClearinghouseState = "clearinghouseState"
)

// AssetInfo is one entry of the exchange asset universe.
type AssetInfo struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	Index       int    `json:"-"`
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type metaResponse struct {
	Universe []AssetInfo `json:"universe"`
}

type assetCtx struct {
	OpenInterest string `json:"openInterest"`
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
	Funding      string `json:"funding"`
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position wirePosition `json:"position"`
	} `json:"assetPositions"`
}

type wirePosition struct {
	Coin          string `json:"coin"`
	Szi           string `json:"szi"`
	EntryPx       string `json:"entryPx"`
	LiquidationPx string `json:"liquidationPx"`
	UnrealizedPnl string `json:"unrealizedPnl"`
	Leverage      struct {
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	} `json:"leverage"`
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithRawSizes disables 10^-szDecimals scaling, for endpoints that already
// report sizes in coin units.
func WithRawSizes() FetcherOption {
	return func(f *Fetcher) { f.scaleSizes = false }
}

// Fetcher performs snapshot calls against the info endpoint.
type Fetcher struct {
	url        string
	client     *http.Client
	prices     *PriceCache
	log        *zap.Logger
	scaleSizes bool

	mu     sync.RWMutex
	assets map[string]AssetInfo
}

// NewFetcher creates a new Fetcher.
func NewFetcher(url string, prices *PriceCache, log *zap.Logger, opts ...FetcherOption) *Fetcher {
	if url == "" {
		url = DefaultInfoURL
	}
	f := &Fetcher{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		prices:     prices,
		log:        log,
		scaleSizes: true,
		assets:     make(map[string]AssetInfo),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LoadAssetIndex fetches the asset universe and rebuilds the asset index.
func (f *Fetcher) LoadAssetIndex(ctx context.Context) (map[string]AssetInfo, error) {
	var meta metaResponse
	if err := f.post(ctx, infoRequest{Type: RequestMeta}, &meta); err != nil {
		return nil, fmt.Errorf("fetch meta: %w", err)
	}

	index := f.setUniverse(meta.Universe)
	f.log.Info("asset_index_loaded", zap.Int("asset_count", len(index)))
	return index, nil
}

func (f *Fetcher) setUniverse(universe []AssetInfo) map[string]AssetInfo {
	index := make(map[string]AssetInfo, len(universe))
	for i, a := range universe {
		a.Index = i
		a.Name = strings.ToUpper(a.Name)
		index[a.Name] = a
	}

	f.mu.Lock()
	f.assets = index
	f.mu.Unlock()

	out := make(map[string]AssetInfo, len(index))
	for k, v := range index {
		out[k] = v
	}
	return out
}

// Asset looks up an asset in the index.
func (f *Fetcher) Asset(name string) (AssetInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.assets[strings.ToUpper(name)]
	return a, ok
}

// NormalizeSize scales a raw size by 10^-szDecimals of the asset.
func (f *Fetcher) NormalizeSize(asset string, raw decimal.Decimal) (decimal.Decimal, error) {
	info, ok := f.Asset(asset)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if !f.scaleSizes {
		return raw, nil
	}
	return raw.Shift(int32(-info.SzDecimals)), nil
}

// NormalizeTrade applies size normalization to a parsed trade and recomputes its notional.
func (f *Fetcher) NormalizeTrade(t store.Trade) (store.Trade, error) {
	size, err := f.NormalizeSize(t.Asset, decimal.NewFromFloat(t.Size))
	if err != nil {
		return store.Trade{}, err
	}
	t.Size = size.InexactFloat64()
	t.Notional = size.Mul(decimal.NewFromFloat(t.Price)).InexactFloat64()
	return t, nil
}

// FetchPrices returns mid prices per asset. Fresh cached prices are served
// without a network call. On failure the last cached table is returned even
// when stale; with nothing cached an empty map and ErrNoPriceData are returned.
func (f *Fetcher) FetchPrices(ctx context.Context) (map[string]float64, error) {
	if prices, ok := f.prices.Fresh(); ok {
		return prices, nil
	}

	prices, err := f.fetchMids(ctx)
	if err == nil && len(prices) == 0 {
		err = errors.New("empty price table")
	}
	if err != nil {
		if stale, at, ok := f.prices.Last(); ok {
			f.log.Warn("price_fetch_failed_using_cache", zap.Error(err), zap.Duration("age", time.Since(at)))
			return stale, nil
		}
		f.log.Warn("price_fetch_failed", zap.Error(err))
		return map[string]float64{}, fmt.Errorf("%w: %v", ErrNoPriceData, err)
	}

	f.prices.Store(prices)
	return prices, nil
}

func (f *Fetcher) fetchMids(ctx context.Context) (map[string]float64, error) {
	var mids map[string]string
	if err := f.post(ctx, infoRequest{Type: RequestAllMids}, &mids); err != nil {
		return nil, fmt.Errorf("fetch mids: %w", err)
	}

	prices := make(map[string]float64, len(mids))
	for coin, px := range mids {
		// Spot pairs are keyed "@index"; only perps are monitored.
		if strings.HasPrefix(coin, "@") {
			continue
		}
		if p := parseDecimal(px); p.IsPositive() {
			prices[strings.ToUpper(coin)] = p.InexactFloat64()
		}
	}
	return prices, nil
}

// FetchAssetMetadata returns open interest and mark price per asset and
// refreshes the asset index from the same response.
func (f *Fetcher) FetchAssetMetadata(ctx context.Context) ([]store.MarketStats, error) {
	var raw []json.RawMessage
	if err := f.post(ctx, infoRequest{Type: RequestMetaAndAssetCtxs}, &raw); err != nil {
		return nil, fmt.Errorf("fetch asset contexts: %w", err)
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("fetch asset contexts: expected 2 elements, got %d", len(raw))
	}

	var meta metaResponse
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}

	f.setUniverse(meta.Universe)

	now := time.Now()
	stats := make([]store.MarketStats, 0, len(meta.Universe))
	for i, asset := range meta.Universe {
		if i >= len(ctxs) {
			break
		}
		price := parseDecimal(ctxs[i].MarkPx)
		if price.IsZero() {
			price = parseDecimal(ctxs[i].MidPx)
		}
		stats = append(stats, store.MarketStats{
			Asset:        strings.ToUpper(asset.Name),
			Price:        price.InexactFloat64(),
			OpenInterest: parseDecimal(ctxs[i].OpenInterest).InexactFloat64(),
			UpdatedAt:    now,
		})
	}
	return stats, nil
}

// FetchPositions returns the open positions of one wallet. Positions in
// assets missing from the index are logged and skipped.
func (f *Fetcher) FetchPositions(ctx context.Context, wallet string) ([]store.Position, error) {
	var state clearinghouseState
	if err := f.post(ctx, infoRequest{Type: RequestClearinghouseState, User: wallet}, &state); err != nil {
		return nil, fmt.Errorf("fetch positions for %s: %w", wallet, err)
	}

	now := time.Now()
	positions := make([]store.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		wp := ap.Position
		asset := strings.ToUpper(wp.Coin)

		size, err := f.NormalizeSize(asset, parseDecimal(wp.Szi))
		if err != nil {
			f.log.Warn("position_asset_skipped", zap.String("wallet", wallet), zap.Error(err))
			continue
		}
		if size.IsZero() {
			continue
		}

		positions = append(positions, store.Position{
			Wallet:           strings.ToLower(wallet),
			Asset:            asset,
			Size:             size.InexactFloat64(),
			EntryPrice:       parseDecimal(wp.EntryPx).InexactFloat64(),
			LiquidationPrice: parseDecimal(wp.LiquidationPx).InexactFloat64(),
			Leverage:         wp.Leverage.Value,
			UnrealizedPnL:    parseDecimal(wp.UnrealizedPnl).InexactFloat64(),
			UpdatedAt:        now,
		})
	}
	return positions, nil
}

// post sends one info request and decodes the JSON response into out.
func (f *Fetcher) post(ctx context.Context, req infoRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status code %d for %s: %s", resp.StatusCode, req.Type, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.Type, err)
	}
	return nil
}
