// Package consumer 订阅上游价格源推送，维护进程内报价表。
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/pricing/infrastructure/memory"
)

// TopicPriceUpdated 价格变动消息主题。
const TopicPriceUpdated = "price.updated"

// PriceFeedHandler 把价格消息写入内存报价表。
// 消息乱序到达时后写覆盖先写，报价表只保留最新值。
type PriceFeedHandler struct {
	oracle *memory.Oracle
	logger *slog.Logger
}

func NewPriceFeedHandler(oracle *memory.Oracle, logger *slog.Logger) *PriceFeedHandler {
	return &PriceFeedHandler{oracle: oracle, logger: logger.With("module", "pricing")}
}

func (h *PriceFeedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		Asset    string          `json:"asset"`
		Currency string          `json:"currency"`
		Price    decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.ErrorContext(ctx, "malformed price update, dropping", "offset", msg.Offset, "error", err)
		return nil
	}
	if payload.Asset == "" || payload.Currency == "" || !payload.Price.IsPositive() {
		h.logger.WarnContext(ctx, "invalid price update, dropping",
			"asset", payload.Asset, "currency", payload.Currency, "price", payload.Price.String())
		return nil
	}

	h.oracle.SetPrice(payload.Asset, payload.Currency, payload.Price)
	return nil
}
