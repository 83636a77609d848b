// Package kafka 提供 saga 延续队列的 Kafka 实现。
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/wyfcoding/ledgercore/pkg/mq"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

// ContinuationTopic saga 延续任务主题。
const ContinuationTopic = "saga.continuations"

type scheduler struct {
	producer *mq.Producer
}

// NewScheduler 创建基于 Kafka 的延续任务调度器。
// 以 SagaID 作为分区键，同一实例的任务保持相对顺序。
func NewScheduler(producer *mq.Producer) saga.Scheduler {
	return &scheduler{producer: producer}
}

func (s *scheduler) Schedule(ctx context.Context, task *saga.Task) error {
	return s.producer.Publish(ctx, ContinuationTopic, task.SagaID, task)
}

// ContinuationHandler 消费延续任务并交给 Driver 执行。
type ContinuationHandler struct {
	driver *saga.Driver
	logger *slog.Logger
}

// NewContinuationHandler 创建延续任务消费处理器。
func NewContinuationHandler(driver *saga.Driver, logger *slog.Logger) *ContinuationHandler {
	return &ContinuationHandler{driver: driver, logger: logger.With("module", "saga_consumer")}
}

// Handle 解析任务并分发。解析失败的消息无法恢复，记录后丢弃。
func (h *ContinuationHandler) Handle(ctx context.Context, msg kafkago.Message) error {
	var task saga.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		h.logger.ErrorContext(ctx, "malformed saga task, dropping", "offset", msg.Offset, "error", err)
		return nil
	}
	return h.driver.Dispatch(ctx, &task)
}
