// Package cached 提供带 Redis 缓存与限流保护的预言机装饰器。
// 上游价格源通常有调用配额，缓存命中直接返回，未命中经限流后穿透。
package cached

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/pricing/domain"
	"github.com/wyfcoding/ledgercore/pkg/cache"
	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/ratelimit"
)

// Oracle 缓存装饰器。
type Oracle struct {
	upstream domain.Oracle
	client   *redis.Client
	limiter  ratelimit.Limiter
	limit    ratelimit.Limit
	ttl      time.Duration
	logger   *slog.Logger
	latency  prometheus.Observer
}

// NewOracle 包装上游预言机。ttl 为缓存有效期，limit 为上游穿透配额。
func NewOracle(upstream domain.Oracle, client *redis.Client, limiter ratelimit.Limiter, limit ratelimit.Limit, ttl time.Duration, logger *slog.Logger) *Oracle {
	return &Oracle{
		upstream: upstream,
		client:   client,
		limiter:  limiter,
		limit:    limit,
		ttl:      ttl,
		logger:   logger.With("module", "pricing"),
	}
}

// Instrument 挂接上游穿透耗时指标。
func (o *Oracle) Instrument(latency prometheus.Observer) *Oracle {
	o.latency = latency
	return o
}

func cacheKey(asset, currency string) string {
	return fmt.Sprintf("price:%s:%s", asset, currency)
}

// GetPrice 先查缓存；未命中时在限流配额内穿透上游并回填。
// 配额耗尽且缓存为空时报价不可用，调用方按不可用处理而不是拿旧价。
func (o *Oracle) GetPrice(ctx context.Context, asset, currency string) (decimal.Decimal, error) {
	key := cacheKey(asset, currency)

	var quote domain.Quote
	hit, err := cache.GetJSON(ctx, o.client, key, &quote)
	if err != nil {
		o.logger.WarnContext(ctx, "price cache read failed", "asset", asset, "error", err)
	} else if hit {
		return quote.Price, nil
	}

	res, err := o.limiter.Allow(ctx, "oracle:"+asset, o.limit)
	if err != nil {
		o.logger.WarnContext(ctx, "rate limiter unavailable, passing through", "asset", asset, "error", err)
	} else if !res.Allowed {
		return decimal.Zero, errs.Mark(
			fmt.Errorf("%w: upstream quota exhausted, retry after %s", domain.ErrRateUnavailable, res.RetryAfter),
			errs.KindTransient)
	}

	started := time.Now()
	price, err := o.upstream.GetPrice(ctx, asset, currency)
	if o.latency != nil {
		o.latency.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return decimal.Zero, err
	}

	quote = domain.Quote{Asset: asset, Currency: currency, Price: price, Timestamp: time.Now()}
	if err := cache.SetJSON(ctx, o.client, key, quote, o.ttl); err != nil {
		o.logger.WarnContext(ctx, "price cache write failed", "asset", asset, "error", err)
	}
	return price, nil
}

var _ domain.Oracle = (*Oracle)(nil)
