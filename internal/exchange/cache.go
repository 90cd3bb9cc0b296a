package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// TickerCache memoizes ticker reads for the duration of one scheduling
// tick, so positions sharing a market cost a single quote call. It is
// discarded at the end of the cycle and is not safe for concurrent use.
type TickerCache struct {
	adapter Adapter
	prices  map[string]decimal.Decimal
}

// NewTickerCache creates an empty cache backed by the adapter.
func NewTickerCache(adapter Adapter) *TickerCache {
	return &TickerCache{
		adapter: adapter,
		prices:  make(map[string]decimal.Decimal),
	}
}

// Price returns the last traded price for a market, hitting the venue
// at most once per market per cache lifetime.
func (c *TickerCache) Price(ctx context.Context, market string) (decimal.Decimal, error) {
	if price, ok := c.prices[market]; ok {
		return price, nil
	}

	price, err := c.adapter.GetTicker(ctx, market)
	if err != nil {
		return decimal.Zero, err
	}

	c.prices[market] = price
	return price, nil
}
