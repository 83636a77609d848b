package application

import (
	"context"

	"github.com/wyfcoding/ledgercore/internal/governance/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
)

// ChangeHandler 执行一类参数变更。
type ChangeHandler func(ctx context.Context, change domain.ParameterChange) error

// ParameterRegistry 参数变更的分发表：每类可治理参数注册一个处理函数，
// 未注册的类别按校验错误拒绝，提案执行不会静默丢弃变更。
type ParameterRegistry struct {
	handlers map[domain.ParameterKind]ChangeHandler
}

// NewParameterRegistry 创建空分发表。
func NewParameterRegistry() *ParameterRegistry {
	return &ParameterRegistry{handlers: make(map[domain.ParameterKind]ChangeHandler)}
}

// Register 注册一类参数的处理函数，返回自身以便链式注册。
func (r *ParameterRegistry) Register(kind domain.ParameterKind, handler ChangeHandler) *ParameterRegistry {
	r.handlers[kind] = handler
	return r
}

// ApplyChange 分发一项参数变更。
func (r *ParameterRegistry) ApplyChange(ctx context.Context, change domain.ParameterChange) error {
	handler, ok := r.handlers[change.Kind]
	if !ok {
		return errs.Validation("no handler registered for parameter kind %q", string(change.Kind))
	}
	return handler(ctx, change)
}
