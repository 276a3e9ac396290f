package ingest

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultPriceTTL is how long fetched mid prices are served without refetching.
const DefaultPriceTTL = 30 * time.Second

const midsKey = "allMids"

type priceEntry struct {
	prices    map[string]float64
	fetchedAt time.Time
}

// PriceCache holds the last fetched price table. Entries are stored without
// an expiry so that a stale table stays available as a fallback; freshness is
// decided against the TTL on read.
type PriceCache struct {
	c   *ristretto.Cache
	ttl time.Duration
	now func() time.Time
}

// NewPriceCache creates a cache with the given freshness window.
func NewPriceCache(ttl time.Duration) (*PriceCache, error) {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1e3,
		MaxCost:            1 << 10,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create price cache: %w", err)
	}
	return &PriceCache{c: c, ttl: ttl, now: time.Now}, nil
}

// Fresh returns the cached prices if they were fetched within the TTL.
func (p *PriceCache) Fresh() (map[string]float64, bool) {
	entry, ok := p.entry()
	if !ok || p.now().Sub(entry.fetchedAt) >= p.ttl {
		return nil, false
	}
	return copyPrices(entry.prices), true
}

// Last returns the cached prices regardless of age.
func (p *PriceCache) Last() (map[string]float64, time.Time, bool) {
	entry, ok := p.entry()
	if !ok {
		return nil, time.Time{}, false
	}
	return copyPrices(entry.prices), entry.fetchedAt, true
}

// Store replaces the cached prices.
func (p *PriceCache) Store(prices map[string]float64) {
	p.c.Set(midsKey, priceEntry{prices: copyPrices(prices), fetchedAt: p.now()}, 1)
	p.c.Wait()
}

// Close releases the cache goroutines.
func (p *PriceCache) Close() {
	p.c.Close()
}

func (p *PriceCache) entry() (priceEntry, bool) {
	v, ok := p.c.Get(midsKey)
	if !ok {
		return priceEntry{}, false
	}
	entry, ok := v.(priceEntry)
	return entry, ok
}

func copyPrices(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
