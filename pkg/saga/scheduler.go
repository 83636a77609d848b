package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task saga 延续任务：驱动一次 saga 执行或在 DueAt 之后恢复执行。
// 挂起（定时器、外部等待）表现为调度一条带 DueAt 的任务，
// 而不是占住执行线程等待。
type Task struct {
	SagaID  string          `json:"saga_id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	DueAt   time.Time       `json:"due_at,omitempty"`
}

// Scheduler 延续任务调度契约，由队列实现（至少一次投递）。
type Scheduler interface {
	Schedule(ctx context.Context, task *Task) error
}

// Factory 按任务重建协调器。worker 崩溃后，新 worker 以同一 SagaID
// 重建实例，依靠步骤标记跳过已完成的步骤。
type Factory func(task *Task) (*Coordinator, error)

// Driver 消费延续任务并驱动 saga 执行。
// 每个任务在独立 goroutine 中运行，单实例挂起不阻塞其他实例。
type Driver struct {
	factories map[string]Factory
	logger    *slog.Logger
	group     *errgroup.Group
}

// NewDriver 创建 saga 驱动。maxInFlight 限制同时在飞的 saga 实例数。
func NewDriver(logger *slog.Logger, maxInFlight int) *Driver {
	group := &errgroup.Group{}
	if maxInFlight > 0 {
		group.SetLimit(maxInFlight)
	}
	return &Driver{
		factories: make(map[string]Factory),
		logger:    logger.With("module", "saga_driver"),
		group:     group,
	}
}

// Register 注册 saga 类型的重建工厂。
func (d *Driver) Register(name string, factory Factory) {
	d.factories[name] = factory
}

// Dispatch 处理一条延续任务。DueAt 未到时先挂起（让出线程）。
func (d *Driver) Dispatch(ctx context.Context, task *Task) error {
	factory, ok := d.factories[task.Name]
	if !ok {
		return fmt.Errorf("saga: no factory registered for %q", task.Name)
	}

	d.group.Go(func() error {
		if due := time.Until(task.DueAt); due > 0 {
			if err := wait(ctx, due); err != nil {
				return nil
			}
		}
		coordinator, err := factory(task)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to build saga", "saga", task.Name, "saga_id", task.SagaID, "error", err)
			return nil
		}
		result := coordinator.Execute(ctx)
		if !result.Success {
			d.logger.WarnContext(ctx, "saga finished with failure",
				"saga", task.Name, "saga_id", result.SagaID,
				"failed_step", result.FailedStep,
				"manual_intervention", result.RequiresManualIntervention,
				"error", result.Err)
		}
		return nil
	})
	return nil
}

// Wait 等待所有在飞 saga 结束，用于优雅停机。
func (d *Driver) Wait() error { return d.group.Wait() }
