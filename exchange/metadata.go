// exchange/metadata.go
package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const metadataTTL = 5 * time.Minute

// ExchangeInfoSource is the one client method the cache needs.
type ExchangeInfoSource interface {
	GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error)
}

// MarketInfo is the trimmed per-symbol projection handed to callers that
// only need trading rules, not the full venue response.
type MarketInfo struct {
	Symbol            string `json:"symbol"`
	BaseAsset         string `json:"baseAsset"`
	QuoteAsset        string `json:"quoteAsset"`
	PricePrecision    int    `json:"pricePrecision"`
	QuantityPrecision int    `json:"quantityPrecision"`
}

// MetadataCache caches the exchange info response for a short TTL and
// collapses concurrent refreshes into a single upstream request.
type MetadataCache struct {
	source ExchangeInfoSource

	mu        sync.RWMutex
	info      *ExchangeInfo
	fetchedAt time.Time

	group singleflight.Group
}

func NewMetadataCache(source ExchangeInfoSource) *MetadataCache {
	return &MetadataCache{source: source}
}

// ExchangeInfo returns the cached response, refreshing it when the TTL has
// elapsed. Concurrent callers during a refresh share one upstream fetch.
func (c *MetadataCache) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	c.mu.RLock()
	if c.info != nil && time.Since(c.fetchedAt) < metadataTTL {
		info := c.info
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("exchangeInfo", func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the group.
		c.mu.RLock()
		if c.info != nil && time.Since(c.fetchedAt) < metadataTTL {
			info := c.info
			c.mu.RUnlock()
			return info, nil
		}
		c.mu.RUnlock()

		info, err := c.source.GetExchangeInfo(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.info = info
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ExchangeInfo), nil
}

// Symbol returns the trading rules for one symbol, or nil if unknown.
func (c *MetadataCache) Symbol(ctx context.Context, symbol string) (*SymbolInfo, error) {
	info, err := c.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return &info.Symbols[i], nil
		}
	}
	return nil, nil
}

// AvailableMarkets returns all symbols currently open for trading, sorted by
// symbol name.
func (c *MetadataCache) AvailableMarkets(ctx context.Context) ([]MarketInfo, error) {
	info, err := c.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	markets := make([]MarketInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		markets = append(markets, MarketInfo{
			Symbol:            s.Symbol,
			BaseAsset:         s.BaseAsset,
			QuoteAsset:        s.QuoteAsset,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		})
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets, nil
}

// ClearCache drops the cached response so the next read refetches.
func (c *MetadataCache) ClearCache() {
	c.mu.Lock()
	c.info = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
