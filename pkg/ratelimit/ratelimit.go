// Package ratelimit 提供基于 Redis 的分布式限流，用于保护外部依赖（价格源等）。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limit 限流规则。
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result 限流判定结果。
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 限流器契约。
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// RedisLimiter 基于 redis_rate 的 GCRA 限流实现。
type RedisLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisLimiter 创建 Redis 限流器。
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{limiter: redis_rate.NewLimiter(client)}
}

// Allow 判定 key 在规则下是否放行。
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}
