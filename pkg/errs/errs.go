// Package errs 提供错误分类能力，供 Saga 引擎在步骤边界判定重试/补偿策略。
package errs

import (
	"errors"
	"fmt"
)

// Kind 标识错误的处理类别。
type Kind string

const (
	// KindValidation 入参校验失败，永不重试，也无需补偿。
	KindValidation Kind = "validation"
	// KindBusiness 业务规则拒绝（余额不足、滑点超限等），不重试，触发补偿。
	KindBusiness Kind = "business"
	// KindConflict 乐观并发冲突，总是可以通过重新加载聚合后重试。
	KindConflict Kind = "conflict"
	// KindTransient 依赖的瞬时故障（超时、限流），按重试策略重试。
	KindTransient Kind = "transient"
	// KindUnavailable 熔断器打开或依赖不可用。
	KindUnavailable Kind = "unavailable"
	// KindInternal 未分类的内部错误。
	KindInternal Kind = "internal"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// Mark 给错误打上类别标记，保留原始错误链。
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Validation 构造一个校验类错误。
func Validation(format string, args ...any) error {
	return Mark(fmt.Errorf(format, args...), KindValidation)
}

// Business 构造一个业务规则类错误。
func Business(format string, args ...any) error {
	return Mark(fmt.Errorf(format, args...), KindBusiness)
}

// KindOf 返回错误链上最外层的类别标记，未标记返回 KindInternal。
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}

// Retryable 判断某类别在默认策略下是否允许重试。
// 并发冲突与瞬时故障可重试；校验与业务规则错误永不重试。
func Retryable(kind Kind) bool {
	switch kind {
	case KindConflict, KindTransient, KindUnavailable:
		return true
	default:
		return false
	}
}
