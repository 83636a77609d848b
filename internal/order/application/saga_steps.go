package application

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/internal/order/domain"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

// maxMatchIterations 单次撮合检视的对手挂单数上限，保证撮合必然终止。
const maxMatchIterations = 32

// placeOrderRun 下单撮合工作流的运行态，步骤之间显式传递。
type placeOrderRun struct {
	orderID   string
	accountID string
	side      domain.Side
	price     decimal.Decimal
	amount    decimal.Decimal
	market    *market

	// lockID 当前持有的资金锁，随部分成交后的重锁而更新。
	lockID string
	// lockConsumed 锁已被成交完全消耗，补偿时无需解锁。
	lockConsumed bool
	filled       decimal.Decimal
	trades       []string
}

// lockSpec 给定方向与挂单量，返回需锁定的资产与数量。
// 买单锁定报价资产（量 × 限价），卖单锁定基础资产。
func lockSpec(mkt *market, side domain.Side, price, amount decimal.Decimal) (string, decimal.Decimal) {
	if side == domain.SideBuy {
		return mkt.quoteAsset, amount.Mul(price)
	}
	return mkt.baseAsset, amount
}

// placeOrderStep 创建订单聚合。补偿为撤单。
type placeOrderStep struct {
	saga.BaseStep
	orders *Manager
	run    *placeOrderRun
}

func (s *placeOrderStep) Execute(ctx context.Context) error {
	order, err := domain.PlaceOrder(s.run.orderID, s.run.accountID, s.run.market.symbol, s.run.side, s.run.price, s.run.amount)
	if err != nil {
		return err
	}
	return s.orders.repo.Save(ctx, order)
}

func (s *placeOrderStep) Compensate(ctx context.Context) error {
	err := s.orders.withOrder(ctx, s.run.orderID, func(o *domain.Order) error {
		return o.Cancel("placement rolled back")
	})
	if errors.Is(err, domain.ErrOrderClosed) {
		return nil
	}
	return err
}

// lockFundsStep 锁定下单所需资金。补偿为解锁（锁已被成交消耗时跳过）。
type lockFundsStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *placeOrderRun
}

func (s *lockFundsStep) Execute(ctx context.Context) error {
	asset, amount := lockSpec(s.run.market, s.run.side, s.run.price, s.run.amount)
	lockID, err := s.ledger.Lock(ctx, s.run.accountID, asset, amount, "order:"+s.run.orderID)
	if err != nil {
		return err
	}
	s.run.lockID = lockID
	return nil
}

func (s *lockFundsStep) Compensate(ctx context.Context) error {
	if s.run.lockConsumed || s.run.lockID == "" {
		return nil
	}
	_, err := s.ledger.Unlock(ctx, s.run.lockID)
	return err
}

// insertBookStep 把挂单放入订单簿。补偿为出簿。
type insertBookStep struct {
	saga.BaseStep
	run *placeOrderRun
}

func (s *insertBookStep) Execute(ctx context.Context) error {
	return s.run.market.book.Insert(&domain.BookEntry{
		OrderID:   s.run.orderID,
		AccountID: s.run.accountID,
		Side:      s.run.side,
		Price:     s.run.price,
		Remaining: s.run.amount,
		LockID:    s.run.lockID,
	})
}

func (s *insertBookStep) Compensate(ctx context.Context) error {
	s.run.market.book.Remove(s.run.orderID)
	return nil
}

// matchOrdersStep 对新挂单执行一轮撮合。单笔成交结算失败只记录日志，
// 不回滚已结算的成交，也不导致整个工作流失败。
type matchOrdersStep struct {
	saga.BaseStep
	orders *Manager
	run    *placeOrderRun
}

func (s *matchOrdersStep) Execute(ctx context.Context) error {
	mkt := s.run.market
	mkt.mu.Lock()
	defer mkt.mu.Unlock()

	for _, proposal := range mkt.book.Propose(s.run.orderID, maxMatchIterations) {
		tradeID, err := s.orders.settle(ctx, mkt, s.run, proposal)
		if err != nil {
			s.orders.logger.ErrorContext(ctx, "trade settlement failed",
				"taker_order", s.run.orderID, "maker_order", proposal.MakerOrderID,
				"amount", proposal.Amount.String(), "error", err)
			continue
		}
		s.run.filled = s.run.filled.Add(proposal.Amount)
		s.run.trades = append(s.run.trades, tradeID)
	}
	return nil
}
