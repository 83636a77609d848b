// Package consumer 订阅价格变动消息，驱动头寸健康度重估与清算。
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/ledgercore/internal/position/application"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

// TopicPriceUpdated 价格变动消息主题。
const TopicPriceUpdated = "price.updated"

// PriceUpdateHandler 价格变动处理器：重估持有该资产的在册头寸，
// 对新进入清算状态的头寸投递清算任务。消息至少一次投递，
// 重估幂等，清算任务以头寸号为 SagaID 在队列侧去重。
type PriceUpdateHandler struct {
	positions *application.Manager
	scheduler saga.Scheduler
	logger    *slog.Logger
}

func NewPriceUpdateHandler(positions *application.Manager, scheduler saga.Scheduler, logger *slog.Logger) *PriceUpdateHandler {
	return &PriceUpdateHandler{
		positions: positions,
		scheduler: scheduler,
		logger:    logger.With("module", "position"),
	}
}

func (h *PriceUpdateHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		Asset    string `json:"asset"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.ErrorContext(ctx, "malformed price update, dropping", "offset", msg.Offset, "error", err)
		return nil
	}
	if payload.Asset == "" {
		h.logger.WarnContext(ctx, "price update without asset, skipping")
		return nil
	}

	liquidating, err := h.positions.ReviewPriceUpdate(ctx, payload.Asset)
	if err != nil {
		return err
	}

	for _, positionID := range liquidating {
		task, err := liquidationTask(positionID)
		if err != nil {
			return err
		}
		if err := h.scheduler.Schedule(ctx, task); err != nil {
			// 调度失败让消息重投，重估幂等，漏掉的头寸下一轮会再次命中。
			h.logger.ErrorContext(ctx, "failed to schedule liquidation",
				"position_id", positionID, "error", err)
			return err
		}
		h.logger.InfoContext(ctx, "liquidation scheduled",
			"position_id", positionID, "asset", payload.Asset)
	}
	return nil
}

// liquidationTask 构造清算延续任务。一个头寸一生至多清算一次，
// 用头寸号派生 SagaID，重复投递落到同一实例上由步骤标记吸收。
func liquidationTask(positionID string) (*saga.Task, error) {
	payload, err := json.Marshal(struct {
		PositionID string `json:"position_id"`
	}{PositionID: positionID})
	if err != nil {
		return nil, err
	}
	return &saga.Task{
		SagaID:  "liq-" + positionID,
		Name:    application.SagaLiquidatePosition,
		Payload: payload,
	}, nil
}
