// Package application 实现限价单的下单撮合工作流与持续做市。
// 撮合按交易对串行：同一市场的撮合与结算持同一把锁，
// 提案、落账与簿内扣减之间不存在竞态窗口。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/internal/order/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
	"github.com/wyfcoding/ledgercore/pkg/idgen"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

const conflictRetries = 3

// market 单交易对的撮合上下文。mu 串行化该交易对的撮合与结算。
type market struct {
	symbol     string
	baseAsset  string
	quoteAsset string
	book       *domain.OrderBook
	mu         sync.Mutex
}

// PlaceOrderCommand 下单请求。
type PlaceOrderCommand struct {
	AccountID string
	Symbol    string
	Side      domain.Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
}

// PlacementOutcome 下单结果：撮合后订单的最终状态与成交明细。
type PlacementOutcome struct {
	OrderID  string
	Status   domain.Status
	Filled   decimal.Decimal
	TradeIDs []string
}

// Manager 订单命令服务。
type Manager struct {
	repo     *eventsourcing.Repository
	ledger   ledger.Service
	logger   *slog.Logger
	sagaOpts []saga.Option
	matches  prometheus.Counter

	mu      sync.RWMutex
	markets map[string]*market
}

// NewManager 创建订单命令服务。
func NewManager(repo *eventsourcing.Repository, ledgerSvc ledger.Service, logger *slog.Logger, sagaOpts ...saga.Option) *Manager {
	return &Manager{
		repo:     repo,
		ledger:   ledgerSvc,
		logger:   logger.With("module", "order"),
		sagaOpts: sagaOpts,
		markets:  make(map[string]*market),
	}
}

// Instrument 挂接成交笔数指标。
func (m *Manager) Instrument(matches prometheus.Counter) *Manager {
	m.matches = matches
	return m
}

// RegisterMarket 注册交易对。重复注册幂等。
func (m *Manager) RegisterMarket(symbol, baseAsset, quoteAsset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markets[symbol]; ok {
		return
	}
	m.markets[symbol] = &market{
		symbol:     symbol,
		baseAsset:  baseAsset,
		quoteAsset: quoteAsset,
		book:       domain.NewOrderBook(symbol),
	}
}

func (m *Manager) marketOf(symbol string) (*market, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mkt, ok := m.markets[symbol]
	return mkt, ok
}

// PlaceOrder 下单并撮合：创建聚合 → 锁定资金 → 入簿 → 撮合结算。
// 撮合中的单笔结算失败不回滚已完成的成交。
func (m *Manager) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*saga.Result, *PlacementOutcome, error) {
	mkt, ok := m.marketOf(cmd.Symbol)
	if !ok {
		return nil, nil, errs.Validation("unknown symbol %q", cmd.Symbol)
	}

	run := &placeOrderRun{
		orderID:   fmt.Sprintf("ORD-%d", idgen.GenID()),
		accountID: cmd.AccountID,
		side:      cmd.Side,
		price:     cmd.Price,
		amount:    cmd.Amount,
		market:    mkt,
	}

	coordinator := saga.NewCoordinator("place_order", m.logger, m.sagaOpts...).
		AddStep(&placeOrderStep{
			BaseStep: saga.BaseStep{StepName: "place_order"},
			orders:   m,
			run:      run,
		}).
		AddStep(&lockFundsStep{
			BaseStep: saga.BaseStep{StepName: "lock_funds", Service: "ledger"},
			ledger:   m.ledger,
			run:      run,
		}).
		AddStep(&insertBookStep{
			BaseStep: saga.BaseStep{StepName: "insert_book"},
			run:      run,
		}).
		AddStep(&matchOrdersStep{
			BaseStep: saga.BaseStep{StepName: "match_orders"},
			orders:   m,
			run:      run,
		})

	result := coordinator.Execute(ctx)
	if !result.Success {
		return result, nil, nil
	}

	order, err := m.Get(ctx, run.orderID)
	if err != nil {
		return result, nil, err
	}
	m.logger.InfoContext(ctx, "order placed",
		"order_id", run.orderID, "symbol", cmd.Symbol, "side", string(cmd.Side),
		"filled", run.filled.String(), "trades", len(run.trades))
	return result, &PlacementOutcome{
		OrderID:  run.orderID,
		Status:   order.Status,
		Filled:   run.filled,
		TradeIDs: run.trades,
	}, nil
}

// CancelOrder 撤单：出簿、释放剩余资金锁、关闭聚合。
func (m *Manager) CancelOrder(ctx context.Context, orderID, reason string) error {
	order, err := m.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if mkt, ok := m.marketOf(order.Symbol); ok {
		mkt.mu.Lock()
		entry, inBook := mkt.book.Remove(orderID)
		mkt.mu.Unlock()
		if inBook && entry.LockID != "" {
			if _, err := m.ledger.Unlock(ctx, entry.LockID); err != nil {
				m.logger.ErrorContext(ctx, "failed to release lock on cancel",
					"order_id", orderID, "lock_id", entry.LockID, "error", err)
			}
		}
	}

	if err := m.withOrder(ctx, orderID, func(o *domain.Order) error {
		return o.Cancel(reason)
	}); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "order cancelled", "order_id", orderID, "reason", reason)
	return nil
}

// Get 重建并返回订单当前状态。
func (m *Manager) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	order := domain.NewOrder(orderID)
	if err := m.repo.Load(ctx, orderID, order); err != nil {
		return nil, err
	}
	return order, nil
}

// BestQuotes 返回交易对的买一卖一价，供做市与行情查询。
func (m *Manager) BestQuotes(symbol string) (bid, ask decimal.Decimal, hasBid, hasAsk bool, err error) {
	mkt, ok := m.marketOf(symbol)
	if !ok {
		return decimal.Zero, decimal.Zero, false, false, errs.Validation("unknown symbol %q", symbol)
	}
	bid, hasBid = mkt.book.BestBid()
	ask, hasAsk = mkt.book.BestAsk()
	return bid, ask, hasBid, hasAsk, nil
}

// settle 结算一笔撮合提案：释放双方资金锁，换成两腿实际划转，
// 重锁双方剩余挂单量，再把成交写回双方订单聚合与订单簿。
// 调用方必须持有市场锁。
func (m *Manager) settle(ctx context.Context, mkt *market, run *placeOrderRun, p domain.Match) (string, error) {
	tradeID := fmt.Sprintf("TRD-%d", idgen.GenID())
	maker := p.Maker

	buyAccount, sellAccount := maker.AccountID, run.accountID
	if run.side == domain.SideBuy {
		buyAccount, sellAccount = run.accountID, maker.AccountID
	}
	quoteAmount := p.Amount.Mul(p.Price)

	if _, err := m.ledger.Unlock(ctx, maker.LockID); err != nil {
		return "", fmt.Errorf("unlock maker %s: %w", p.MakerOrderID, err)
	}
	if _, err := m.ledger.Unlock(ctx, run.lockID); err != nil {
		m.restoreMakerLock(ctx, mkt, p)
		return "", fmt.Errorf("unlock taker %s: %w", run.orderID, err)
	}
	if _, err := m.ledger.Transfer(ctx, buyAccount, sellAccount, mkt.quoteAsset, quoteAmount, "trade:"+tradeID); err != nil {
		m.restoreLocks(ctx, mkt, run, p)
		return "", fmt.Errorf("settle quote leg: %w", err)
	}
	if _, err := m.ledger.Transfer(ctx, sellAccount, buyAccount, mkt.baseAsset, p.Amount, "trade:"+tradeID); err != nil {
		// 报价腿已入账，先原路冲正，再恢复双方资金锁。
		if _, rerr := m.ledger.Transfer(ctx, sellAccount, buyAccount, mkt.quoteAsset, quoteAmount, "reversal:"+tradeID); rerr != nil {
			m.logger.ErrorContext(ctx, "quote leg reversal failed, manual reconciliation required",
				"trade_id", tradeID, "amount", quoteAmount.String(), "error", rerr)
		}
		m.restoreLocks(ctx, mkt, run, p)
		return "", fmt.Errorf("settle base leg: %w", err)
	}

	makerRemaining := maker.Remaining.Sub(p.Amount)
	if makerRemaining.IsPositive() {
		asset, amount := lockSpec(mkt, maker.Side, maker.Price, makerRemaining)
		lockID, err := m.ledger.Lock(ctx, maker.AccountID, asset, amount, "order:"+p.MakerOrderID)
		if err != nil {
			return "", fmt.Errorf("relock maker %s: %w", p.MakerOrderID, err)
		}
		mkt.book.SetLock(p.MakerOrderID, lockID)
	}

	takerRemaining := run.amount.Sub(run.filled).Sub(p.Amount)
	if takerRemaining.IsPositive() {
		asset, amount := lockSpec(mkt, run.side, run.price, takerRemaining)
		lockID, err := m.ledger.Lock(ctx, run.accountID, asset, amount, "order:"+run.orderID)
		if err != nil {
			return "", fmt.Errorf("relock taker %s: %w", run.orderID, err)
		}
		run.lockID = lockID
		mkt.book.SetLock(run.orderID, lockID)
	} else {
		run.lockConsumed = true
	}

	if err := m.withOrder(ctx, p.MakerOrderID, func(o *domain.Order) error {
		return o.Match(tradeID, run.orderID, p.Price, p.Amount)
	}); err != nil {
		return "", fmt.Errorf("record maker fill: %w", err)
	}
	if err := m.withOrder(ctx, run.orderID, func(o *domain.Order) error {
		return o.Match(tradeID, p.MakerOrderID, p.Price, p.Amount)
	}); err != nil {
		return "", fmt.Errorf("record taker fill: %w", err)
	}

	if err := mkt.book.Fill(p.MakerOrderID, p.Amount); err != nil {
		return "", err
	}
	if err := mkt.book.Fill(run.orderID, p.Amount); err != nil {
		return "", err
	}

	if m.matches != nil {
		m.matches.Inc()
	}
	m.logger.InfoContext(ctx, "trade settled",
		"trade_id", tradeID, "symbol", mkt.symbol,
		"maker_order", p.MakerOrderID, "taker_order", run.orderID,
		"price", p.Price.String(), "amount", p.Amount.String())
	return tradeID, nil
}

// restoreMakerLock 结算中途失败后按剩余挂单量重建 maker 的资金锁，
// 簿上的挂单量保持可兑付。
func (m *Manager) restoreMakerLock(ctx context.Context, mkt *market, p domain.Match) {
	maker := p.Maker
	asset, amount := lockSpec(mkt, maker.Side, maker.Price, maker.Remaining)
	lockID, err := m.ledger.Lock(ctx, maker.AccountID, asset, amount, "order:"+p.MakerOrderID)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to restore maker lock after settle failure",
			"maker_order", p.MakerOrderID, "amount", amount.String(), "error", err)
		return
	}
	mkt.book.SetLock(p.MakerOrderID, lockID)
}

// restoreLocks 结算失败后重建双方资金锁。
func (m *Manager) restoreLocks(ctx context.Context, mkt *market, run *placeOrderRun, p domain.Match) {
	m.restoreMakerLock(ctx, mkt, p)

	remaining := run.amount.Sub(run.filled)
	asset, amount := lockSpec(mkt, run.side, run.price, remaining)
	lockID, err := m.ledger.Lock(ctx, run.accountID, asset, amount, "order:"+run.orderID)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to restore taker lock after settle failure",
			"taker_order", run.orderID, "amount", amount.String(), "error", err)
		return
	}
	run.lockID = lockID
	mkt.book.SetLock(run.orderID, lockID)
}

// withOrder 加载、执行业务方法并持久化；并发冲突时从最新状态重试。
func (m *Manager) withOrder(ctx context.Context, orderID string, fn func(o *domain.Order) error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		order := domain.NewOrder(orderID)
		if err := m.repo.Load(ctx, orderID, order); err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}

		err := m.repo.Save(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, eventsourcing.ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		m.logger.WarnContext(ctx, "order save conflicted, reloading",
			"order_id", orderID, "attempt", attempt+1)
	}
	return lastErr
}
