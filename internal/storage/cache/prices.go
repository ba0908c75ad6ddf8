package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeovahfialho/cctool/internal/book"
	"github.com/jeovahfialho/cctool/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the part of RedisCache PriceCache needs.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) error
}

// PriceCache is a read-through cache in front of a price resolver.
// Historical prices never change, so entries only expire by TTL. A failing
// cache never fails a lookup.
type PriceCache struct {
	cache    Store
	resolver book.PriceResolver
	logger   *zap.Logger
}

func NewPriceCache(cache Store, resolver book.PriceResolver, logger *zap.Logger) *PriceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceCache{cache: cache, resolver: resolver, logger: logger}
}

func PriceKey(symbol, quote string, timestamp int64) string {
	return fmt.Sprintf("price:%s:%s:%d", symbol, quote, timestamp)
}

func (p *PriceCache) Price(ctx context.Context, symbol, quote string, timestamp int64) (decimal.Decimal, error) {
	key := PriceKey(symbol, quote, timestamp)

	var cached decimal.Decimal
	err := p.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		metrics.RecordCacheHit()
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
		metrics.RecordCacheMiss()
	default:
		metrics.RecordCacheMiss()
		p.logger.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
	}

	price, err := p.resolver.Price(ctx, symbol, quote, timestamp)
	if err != nil {
		return decimal.Zero, err
	}

	// timestamp zero means "now", which must not be pinned.
	if timestamp != 0 {
		if err := p.cache.Set(ctx, key, price); err != nil {
			p.logger.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return price, nil
}
