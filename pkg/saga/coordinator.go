package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wyfcoding/ledgercore/pkg/breaker"
	"github.com/wyfcoding/ledgercore/pkg/errs"
)

// Result saga 执行结果。失败时携带完整补偿日志，部分失败绝不被静默吞掉。
type Result struct {
	SagaID          string
	Success         bool
	Err             error
	FailedStep      string
	CompensationLog []CompensationEntry
	// RequiresManualIntervention 存在未能干净撤销的资金动作。
	RequiresManualIntervention bool
}

// Option 协调器可选配置。
type Option func(*Coordinator)

// WithSagaID 指定 saga 实例 ID（重投递恢复时复用原 ID）。
func WithSagaID(id string) Option {
	return func(c *Coordinator) { c.sagaID = id }
}

// WithStateStore 启用状态持久化。
func WithStateStore(store StateStore) Option {
	return func(c *Coordinator) { c.states = store }
}

// WithMarkerStore 启用步骤幂等标记。
func WithMarkerStore(store MarkerStore) Option {
	return func(c *Coordinator) { c.markers = store }
}

// WithBreakers 注入熔断器注册表，声明了 Service 的步骤将受其保护。
func WithBreakers(registry *breaker.Registry) Option {
	return func(c *Coordinator) { c.breakers = registry }
}

// WithDefaultRetry 覆盖默认重试策略。
func WithDefaultRetry(policy *RetryPolicy) Option {
	return func(c *Coordinator) { c.defaultRetry = policy }
}

// WithMetrics 启用指标采集。
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator 按注册顺序驱动步骤执行的协调器。
// 单个实例内步骤严格串行；多个实例可在 worker 池上并发运行，
// 所有挂起点（重试退避、外部调用）都通过 context 让出线程。
type Coordinator struct {
	sagaID       string
	name         string
	steps        []Step
	logger       *slog.Logger
	states       StateStore
	markers      MarkerStore
	breakers     *breaker.Registry
	defaultRetry *RetryPolicy
	metrics      *Metrics
}

// NewCoordinator 创建 saga 协调器。
func NewCoordinator(name string, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		name:         name,
		sagaID:       uuid.NewString(),
		logger:       logger.With("module", "saga", "saga", name),
		defaultRetry: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SagaID 返回实例 ID。
func (c *Coordinator) SagaID() string { return c.sagaID }

// AddStep 追加一个步骤，返回自身以便链式注册。
func (c *Coordinator) AddStep(step Step) *Coordinator {
	c.steps = append(c.steps, step)
	return c
}

// Execute 依序执行全部步骤。任一步骤在重试预算耗尽后仍失败，
// 则对已完成步骤按 LIFO 顺序执行补偿并返回失败结果。
func (c *Coordinator) Execute(ctx context.Context) *Result {
	state := &State{
		SagaID: c.sagaID,
		Name:   c.name,
		Status: StatusRunning,
	}
	c.persist(ctx, state)
	if c.metrics != nil {
		c.metrics.Started(c.name)
	}

	var completed []Step
	for i, step := range c.steps {
		done, err := c.alreadyExecuted(ctx, i)
		if err == nil && done {
			// 队列重投递：该步骤已有执行标记，跳过但仍参与补偿排序。
			completed = append(completed, step)
			state.CurrentStep = i + 1
			continue
		}

		if err := c.runStep(ctx, step); err != nil {
			kind := Classify(err)
			c.logger.ErrorContext(ctx, "saga step failed",
				"saga_id", c.sagaID, "step", step.Name(), "kind", string(kind), "error", err)

			if kind == errs.KindValidation && len(completed) == 0 {
				// 无任何正向进展，直接失败，无需补偿。
				state.Status = StatusFailed
				state.Error = err.Error()
				c.persist(ctx, state)
				if c.metrics != nil {
					c.metrics.Failed(c.name)
				}
				return &Result{SagaID: c.sagaID, Success: false, Err: err, FailedStep: step.Name()}
			}

			return c.compensate(ctx, state, completed, step.Name(), err)
		}

		c.markExecuted(ctx, i)
		completed = append(completed, step)
		state.CurrentStep = i + 1
		c.persist(ctx, state)
	}

	state.Status = StatusCompleted
	c.persist(ctx, state)
	if c.metrics != nil {
		c.metrics.Completed(c.name)
	}
	return &Result{SagaID: c.sagaID, Success: true}
}

// runStep 执行单个步骤：套用超时、熔断与重试策略。
func (c *Coordinator) runStep(ctx context.Context, step Step) error {
	policy := c.defaultRetry
	timeout := time.Duration(0)
	service := ""
	if b, ok := stepConfigOf(step); ok {
		if b.Retry != nil {
			policy = b.Retry
		}
		timeout = b.Timeout
		service = b.Service
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		start := time.Now()
		lastErr = c.invoke(ctx, step, timeout, service)
		if c.metrics != nil {
			c.metrics.StepDuration(c.name, step.Name(), time.Since(start), lastErr == nil)
		}
		if lastErr == nil {
			return nil
		}

		kind := Classify(lastErr)
		if !policy.ShouldRetry(kind, attempt) {
			return lastErr
		}
		c.logger.WarnContext(ctx, "saga step retrying",
			"saga_id", c.sagaID, "step", step.Name(), "attempt", attempt, "kind", string(kind), "error", lastErr)
		if err := wait(ctx, policy.Backoff(attempt)); err != nil {
			return lastErr
		}
	}
}

func (c *Coordinator) invoke(ctx context.Context, step Step, timeout time.Duration, service string) error {
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if service != "" && c.breakers != nil {
		return c.breakers.Call(execCtx, service, step.Execute)
	}
	return step.Execute(execCtx)
}

// compensate 按完成顺序的逆序执行补偿。单条补偿失败不阻断后续补偿，
// 每条结果都进入补偿日志。
func (c *Coordinator) compensate(ctx context.Context, state *State, completed []Step, failedStep string, cause error) *Result {
	state.Status = StatusCompensating
	state.Error = cause.Error()
	c.persist(ctx, state)
	if c.metrics != nil {
		c.metrics.Compensating(c.name)
	}

	manual := false
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		entry := CompensationEntry{Step: step.Name(), At: time.Now()}

		if mc, ok := step.(ManualCompensator); ok && mc.RequiresManualCompensation() {
			entry.Outcome = OutcomeManual
			entry.Detail = "forward action cannot be reversed automatically"
			manual = true
			c.logger.ErrorContext(ctx, "saga compensation requires manual intervention",
				"saga_id", c.sagaID, "step", step.Name())
		} else if err := step.Compensate(ctx); err != nil {
			entry.Outcome = OutcomeFailed
			entry.Detail = err.Error()
			manual = true
			c.logger.ErrorContext(ctx, "saga compensation failed",
				"saga_id", c.sagaID, "step", step.Name(), "error", err)
		} else {
			entry.Outcome = OutcomeReleased
			c.logger.InfoContext(ctx, "saga step compensated",
				"saga_id", c.sagaID, "step", step.Name())
		}
		state.CompensationLog = append(state.CompensationLog, entry)
		c.persist(ctx, state)
	}

	state.Status = StatusFailed
	c.persist(ctx, state)
	if c.metrics != nil {
		c.metrics.Compensated(c.name)
	}

	return &Result{
		SagaID:                     c.sagaID,
		Success:                    false,
		Err:                        fmt.Errorf("saga %s failed at step %s: %w", c.name, failedStep, cause),
		FailedStep:                 failedStep,
		CompensationLog:            state.CompensationLog,
		RequiresManualIntervention: manual,
	}
}

func (c *Coordinator) persist(ctx context.Context, state *State) {
	if c.states == nil {
		return
	}
	state.UpdatedAt = time.Now()
	if err := c.states.Save(ctx, state); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist saga state",
			"saga_id", c.sagaID, "status", string(state.Status), "error", err)
	}
}

func (c *Coordinator) alreadyExecuted(ctx context.Context, stepIndex int) (bool, error) {
	if c.markers == nil {
		return false, nil
	}
	return c.markers.IsExecuted(ctx, c.sagaID, stepIndex)
}

func (c *Coordinator) markExecuted(ctx context.Context, stepIndex int) {
	if c.markers == nil {
		return
	}
	if err := c.markers.MarkExecuted(ctx, c.sagaID, stepIndex); err != nil {
		c.logger.WarnContext(ctx, "failed to mark saga step executed",
			"saga_id", c.sagaID, "step_index", stepIndex, "error", err)
	}
}
