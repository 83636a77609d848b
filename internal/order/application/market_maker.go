package application

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/order/domain"
	pricing "github.com/wyfcoding/ledgercore/internal/pricing/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
)

// MarketMakerConfig 做市参数。
type MarketMakerConfig struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	AccountID  string
	// Spread 相对半价差：买价 = 中间价 × (1 - Spread)，卖价 = 中间价 × (1 + Spread)。
	Spread decimal.Decimal
	// QuoteSize 每侧挂单量。
	QuoteSize decimal.Decimal
	// MaxInventory 基础资产净头寸上限，超限的一侧暂停报价。
	MaxInventory decimal.Decimal
	// Interval 报价刷新周期。
	Interval time.Duration
}

// MarketMaker 持续做市工作流：按周期围绕预言机中间价双边挂单，
// 刷新前撤掉上一轮报价，净头寸越界的一侧暂停。
type MarketMaker struct {
	orders *Manager
	oracle pricing.Oracle
	cfg    MarketMakerConfig
	logger *slog.Logger

	stopped atomic.Bool
	// inventory 基础资产净头寸：买入成交为正，卖出成交为负。
	inventory decimal.Decimal
	bid       quoteRef
	ask       quoteRef
}

// quoteRef 在簿报价。recorded 为已计入净头寸的成交量，
// 撤单时只补记增量，避免重复计数。
type quoteRef struct {
	orderID  string
	recorded decimal.Decimal
}

// NewMarketMaker 创建做市工作流。
func NewMarketMaker(orders *Manager, oracle pricing.Oracle, cfg MarketMakerConfig, logger *slog.Logger) (*MarketMaker, error) {
	if !cfg.Spread.IsPositive() {
		return nil, errs.Validation("spread must be positive, got %s", cfg.Spread)
	}
	if !cfg.QuoteSize.IsPositive() {
		return nil, errs.Validation("quote size must be positive, got %s", cfg.QuoteSize)
	}
	if cfg.Interval <= 0 {
		return nil, errs.Validation("interval must be positive, got %s", cfg.Interval)
	}
	return &MarketMaker{
		orders: orders,
		oracle: oracle,
		cfg:    cfg,
		logger: logger.With("module", "market_maker", "symbol", cfg.Symbol),
	}, nil
}

// Stop 请求停止。幂等，可在任意 goroutine 调用；
// 当前周期结束后 Run 撤掉在簿报价并退出。
func (mm *MarketMaker) Stop() {
	mm.stopped.Store(true)
}

// Run 驱动做市循环直到 Stop 被调用或 ctx 取消。
func (mm *MarketMaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(mm.cfg.Interval)
	defer ticker.Stop()

	for {
		if mm.stopped.Load() {
			mm.withdraw(ctx)
			return nil
		}
		if err := mm.refreshQuotes(ctx); err != nil {
			mm.logger.WarnContext(ctx, "quote refresh skipped", "error", err)
		}

		select {
		case <-ctx.Done():
			mm.withdraw(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// refreshQuotes 撤掉上一轮报价并按当前中间价重新双边挂单。
func (mm *MarketMaker) refreshQuotes(ctx context.Context) error {
	mm.withdraw(ctx)

	mid, err := mm.oracle.GetPrice(ctx, mm.cfg.BaseAsset, mm.cfg.QuoteAsset)
	if err != nil {
		return err
	}
	bidPrice := mid.Mul(decimal.NewFromInt(1).Sub(mm.cfg.Spread))
	askPrice := mid.Mul(decimal.NewFromInt(1).Add(mm.cfg.Spread))

	if mm.inventory.LessThan(mm.cfg.MaxInventory) {
		mm.bid = mm.quote(ctx, domain.SideBuy, bidPrice)
	}
	if mm.inventory.GreaterThan(mm.cfg.MaxInventory.Neg()) {
		mm.ask = mm.quote(ctx, domain.SideSell, askPrice)
	}
	return nil
}

// quote 挂出一侧报价；挂单即成交的部分立刻计入净头寸。
func (mm *MarketMaker) quote(ctx context.Context, side domain.Side, price decimal.Decimal) quoteRef {
	result, outcome, err := mm.orders.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID: mm.cfg.AccountID,
		Symbol:    mm.cfg.Symbol,
		Side:      side,
		Price:     price,
		Amount:    mm.cfg.QuoteSize,
	})
	if err != nil || !result.Success {
		if err == nil {
			err = result.Err
		}
		mm.logger.WarnContext(ctx, "quote placement failed",
			"side", string(side), "price", price.String(), "error", err)
		return quoteRef{}
	}

	mm.recordFill(side, outcome.Filled)
	if outcome.Status == domain.StatusFilled {
		return quoteRef{}
	}
	return quoteRef{orderID: outcome.OrderID, recorded: outcome.Filled}
}

// withdraw 撤掉在簿报价，撤单前新结算的成交补记进净头寸。
func (mm *MarketMaker) withdraw(ctx context.Context) {
	for _, ref := range []struct {
		quote *quoteRef
		side  domain.Side
	}{
		{&mm.bid, domain.SideBuy},
		{&mm.ask, domain.SideSell},
	} {
		if ref.quote.orderID == "" {
			continue
		}
		orderID := ref.quote.orderID
		recorded := ref.quote.recorded
		*ref.quote = quoteRef{}

		before, err := mm.orders.Get(ctx, orderID)
		if err != nil {
			mm.logger.ErrorContext(ctx, "failed to load quote for withdrawal", "order_id", orderID, "error", err)
			continue
		}
		mm.recordFill(ref.side, before.Filled().Sub(recorded))

		err = mm.orders.CancelOrder(ctx, orderID, "quote refresh")
		if err != nil && !errors.Is(err, domain.ErrOrderClosed) {
			mm.logger.ErrorContext(ctx, "failed to withdraw quote", "order_id", orderID, "error", err)
		}
	}
}

func (mm *MarketMaker) recordFill(side domain.Side, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	if side == domain.SideBuy {
		mm.inventory = mm.inventory.Add(amount)
	} else {
		mm.inventory = mm.inventory.Sub(amount)
	}
}
