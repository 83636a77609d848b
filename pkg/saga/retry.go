package saga

import (
	"context"
	"time"

	"github.com/wyfcoding/ledgercore/pkg/errs"
)

// BackoffKind 退避曲线类型。
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy 单个步骤的重试预算与退避配置。
// 只有 RetryableKinds 中列出的错误类别才会被重试，
// 业务规则与校验类错误显式排除在外。
type RetryPolicy struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	Kind           BackoffKind
	RetryableKinds []errs.Kind
}

// DefaultRetryPolicy 默认策略：指数退避，重试并发冲突与瞬时故障。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 100 * time.Millisecond,
		Kind:        BackoffExponential,
		RetryableKinds: []errs.Kind{
			errs.KindConflict,
			errs.KindTransient,
			errs.KindUnavailable,
		},
	}
}

// NoRetry 不重试策略。
func NoRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

// ShouldRetry 判断第 attempt 次尝试（从 1 计）失败后是否继续。
func (p *RetryPolicy) ShouldRetry(kind errs.Kind, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Backoff 返回第 attempt 次失败后的等待时长。
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	switch p.Kind {
	case BackoffExponential:
		return p.BackoffBase * time.Duration(1<<uint(attempt))
	default:
		return p.BackoffBase * time.Duration(attempt)
	}
}

// wait 挂起当前 saga 直到退避结束或上下文取消。
// 通过定时器让出执行线程，绝不自旋，其他 saga 实例不受影响。
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
