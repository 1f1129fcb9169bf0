package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiters bundles the two account-scoped token buckets every broker op
// passes through before it reaches the wire: a fast one for market-data
// reads and a slower one for trading/account operations.
type RateLimiters struct {
	MarketData *rate.Limiter
	Trading    *rate.Limiter
}

// NewRateLimiters builds the gateway's two token buckets at the broker's
// documented sustained rates (burst sized to the same figure, no headroom
// for bursting past the broker's own limit).
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{
		MarketData: rate.NewLimiter(rate.Limit(19), 19),
		Trading:    rate.NewLimiter(rate.Limit(5), 5),
	}
}

func (r *RateLimiters) waitMarketData(ctx context.Context) error {
	return r.MarketData.Wait(ctx)
}

func (r *RateLimiters) waitTrading(ctx context.Context) error {
	return r.Trading.Wait(ctx)
}
