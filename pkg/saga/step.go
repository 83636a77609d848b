// Package saga 实现协作式事务编排引擎：按注册顺序执行步骤，
// 失败时按完成顺序的逆序执行补偿，并产出结构化的补偿日志。
// 每个步骤可独立配置重试策略、超时与熔断依赖。
package saga

import (
	"context"
	"time"
)

// Step 事务步骤契约。Execute 推进正向动作，Compensate 在语义上撤销它。
// 同一步骤在至少一次投递下可能被重复调度，实现必须幂等。
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// BaseStep 步骤公共字段，具体步骤通过内嵌复用。
type BaseStep struct {
	// StepName 步骤名，用于补偿日志与幂等标记。
	StepName string
	// Retry 步骤级重试策略，nil 表示使用协调器默认策略。
	Retry *RetryPolicy
	// Timeout 单次尝试的超时，0 表示不限制。超时按瞬时故障处理，
	// 在重试预算内重试，耗尽后才触发整体补偿。
	Timeout time.Duration
	// Service 非空时，Execute 会包在该依赖的熔断器内执行。
	Service string
}

// Name 返回步骤名。
func (s *BaseStep) Name() string { return s.StepName }

// Compensate 默认无补偿动作。无正向副作用的步骤（纯校验、纯计算）直接复用。
func (s *BaseStep) Compensate(ctx context.Context) error { return nil }

// stepConfig 供协调器读取内嵌的步骤配置。方法未导出，
// 通过内嵌 BaseStep 的提升方法在包内做接口断言。
func (s *BaseStep) stepConfig() *BaseStep { return s }

func stepConfigOf(step Step) (*BaseStep, bool) {
	cfg, ok := step.(interface{ stepConfig() *BaseStep })
	if !ok {
		return nil, false
	}
	return cfg.stepConfig(), true
}

// ManualCompensator 标记补偿无法自动完成的步骤。
// 资金已转入池子等不可干净回退的动作实现该接口后，
// 补偿阶段会在日志中记为需要人工介入，而不是假装撤销成功。
type ManualCompensator interface {
	RequiresManualCompensation() bool
}
