package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/internal/position/domain"
	pricing "github.com/wyfcoding/ledgercore/internal/pricing/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

// 清算涉及的账本账户。抵押物托管在头寸专属账户，
// 处置通过清算台账户过手，回款进入借贷资金池。
const (
	DeskAccount        = "liquidation:desk"
	LendingPoolAccount = "lending:pool"
)

// SagaLiquidatePosition 清算 saga 的注册名。
const SagaLiquidatePosition = "liquidate_position"

// CustodyAccount 头寸的抵押物托管账户。
func CustodyAccount(positionID string) string {
	return "collateral:" + positionID
}

// ShortfallCoverer 坏账兜底方。清算回款不足以覆盖债务时，
// 由储备金池按余额上限补足。
type ShortfallCoverer interface {
	Cover(ctx context.Context, reference string, amount decimal.Decimal) (covered decimal.Decimal, err error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal) error
}

// Liquidator 清算工作流：锁定抵押物 → 估值 → 处置 → 还债 → 储备金兜底 → 关闭头寸。
type Liquidator struct {
	positions *Manager
	ledger    ledger.Service
	oracle    pricing.Oracle
	reserve   ShortfallCoverer
	quote     string
	logger    *slog.Logger
	sagaOpts  []saga.Option
}

// NewLiquidator 创建清算工作流。sagaOpts 注入状态持久化、幂等标记、熔断与指标。
func NewLiquidator(positions *Manager, ledgerSvc ledger.Service, oracle pricing.Oracle, reserve ShortfallCoverer, quote string, logger *slog.Logger, sagaOpts ...saga.Option) *Liquidator {
	return &Liquidator{
		positions: positions,
		ledger:    ledgerSvc,
		oracle:    oracle,
		reserve:   reserve,
		quote:     quote,
		logger:    logger.With("module", "position"),
		sagaOpts:  sagaOpts,
	}
}

// liquidationRun 单次清算的运行时状态，在步骤之间显式传递。
type liquidationRun struct {
	positionID string
	collateral map[string]decimal.Decimal
	debt       decimal.Decimal
	quote      string

	lockIDs  map[string]string
	proceeds decimal.Decimal
	repaid   decimal.Decimal
	covered  decimal.Decimal
	// remaining 兜底之后仍未覆盖的债务，写回聚合。
	remaining  decimal.Decimal
	seized     bool
	repaidDone bool
}

// Liquidate 对一个已进入 liquidating 状态的头寸执行清算。
func (l *Liquidator) Liquidate(ctx context.Context, positionID string) (*saga.Result, error) {
	coordinator, run, err := l.build(ctx, positionID)
	if err != nil {
		return nil, err
	}

	result := coordinator.Execute(ctx)
	if result.Success {
		l.logger.InfoContext(ctx, "position liquidated",
			"position_id", positionID, "proceeds", run.proceeds.String(),
			"repaid", run.repaid.String(), "covered", run.covered.String(),
			"bad_debt", run.remaining.String())
	}
	return result, nil
}

// ContinuationFactory 供 saga.Driver 从延续任务重建清算协调器，
// worker 崩溃或延时恢复时沿用原 SagaID，已完成步骤由幂等标记跳过。
func (l *Liquidator) ContinuationFactory() saga.Factory {
	return func(task *saga.Task) (*saga.Coordinator, error) {
		var payload struct {
			PositionID string `json:"position_id"`
		}
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode liquidation task: %w", err)
		}
		coordinator, _, err := l.build(context.Background(), payload.PositionID, saga.WithSagaID(task.SagaID))
		return coordinator, err
	}
}

func (l *Liquidator) build(ctx context.Context, positionID string, extra ...saga.Option) (*saga.Coordinator, *liquidationRun, error) {
	p, err := l.positions.Get(ctx, positionID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != domain.StatusLiquidating {
		return nil, nil, errs.Business("position %s is %s, not liquidating", positionID, p.Status)
	}

	run := &liquidationRun{
		positionID: positionID,
		collateral: p.Collateral,
		debt:       p.Debt,
		quote:      l.quote,
		lockIDs:    make(map[string]string),
	}

	opts := append(append([]saga.Option{}, l.sagaOpts...), extra...)
	coordinator := saga.NewCoordinator(SagaLiquidatePosition, l.logger, opts...).
		AddStep(&lockCollateralStep{
			BaseStep: saga.BaseStep{StepName: "lock_collateral", Service: "ledger"},
			ledger:   l.ledger,
			run:      run,
		}).
		AddStep(&priceCollateralStep{
			BaseStep: saga.BaseStep{StepName: "price_collateral", Service: "oracle"},
			oracle:   l.oracle,
			run:      run,
		}).
		AddStep(&seizeCollateralStep{
			BaseStep: saga.BaseStep{StepName: "seize_collateral", Service: "ledger"},
			ledger:   l.ledger,
			run:      run,
		}).
		AddStep(&repayDebtStep{
			BaseStep: saga.BaseStep{StepName: "repay_debt", Service: "ledger"},
			ledger:   l.ledger,
			run:      run,
		}).
		AddStep(&coverShortfallStep{
			BaseStep: saga.BaseStep{StepName: "cover_shortfall"},
			reserve:  l.reserve,
			run:      run,
		}).
		AddStep(&completeLiquidationStep{
			BaseStep:  saga.BaseStep{StepName: "complete_liquidation"},
			positions: l.positions,
			run:       run,
		})
	return coordinator, run, nil
}

// lockCollateralStep 逐资产锁定托管账户中的抵押物。
type lockCollateralStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *liquidationRun
}

func (s *lockCollateralStep) Execute(ctx context.Context) error {
	custody := CustodyAccount(s.run.positionID)
	for asset, amount := range s.run.collateral {
		if _, ok := s.run.lockIDs[asset]; ok {
			continue
		}
		lockID, err := s.ledger.Lock(ctx, custody, asset, amount, "liquidation "+s.run.positionID)
		if err != nil {
			return fmt.Errorf("lock %s collateral: %w", asset, err)
		}
		s.run.lockIDs[asset] = lockID
	}
	return nil
}

// Compensate 释放尚未执行的锁。锁已被处置步骤消费时无可释放。
func (s *lockCollateralStep) Compensate(ctx context.Context) error {
	if s.run.seized {
		return nil
	}
	for asset, lockID := range s.run.lockIDs {
		if _, err := s.ledger.Unlock(ctx, lockID); err != nil {
			return fmt.Errorf("unlock %s collateral: %w", asset, err)
		}
	}
	return nil
}

// priceCollateralStep 按预言机价格估算处置回款。纯计算，无补偿。
type priceCollateralStep struct {
	saga.BaseStep
	oracle pricing.Oracle
	run    *liquidationRun
}

func (s *priceCollateralStep) Execute(ctx context.Context) error {
	proceeds := decimal.Zero
	for asset, amount := range s.run.collateral {
		price, err := s.oracle.GetPrice(ctx, asset, s.run.quote)
		if err != nil {
			return err
		}
		proceeds = proceeds.Add(amount.Mul(price))
	}
	s.run.proceeds = proceeds
	return nil
}

// seizeCollateralStep 把锁定的抵押物原子划入清算台账户。
// 资金一旦划出即无法自动回退，补偿只能转人工。
type seizeCollateralStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *liquidationRun
}

func (s *seizeCollateralStep) Execute(ctx context.Context) error {
	for asset, lockID := range s.run.lockIDs {
		if _, err := s.ledger.ExecuteLock(ctx, lockID, DeskAccount); err != nil {
			return fmt.Errorf("seize %s collateral: %w", asset, err)
		}
	}
	s.run.seized = true
	return nil
}

func (s *seizeCollateralStep) RequiresManualCompensation() bool { return s.run.seized }

// repayDebtStep 用处置回款偿还借贷资金池，以债务为上限。
type repayDebtStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *liquidationRun
}

func (s *repayDebtStep) Execute(ctx context.Context) error {
	repaid := decimal.Min(s.run.proceeds, s.run.debt)
	if repaid.IsPositive() {
		ref := "liquidation-repay " + s.run.positionID
		if _, err := s.ledger.Transfer(ctx, DeskAccount, LendingPoolAccount, s.run.quote, repaid, ref); err != nil {
			return fmt.Errorf("repay debt: %w", err)
		}
	}
	s.run.repaid = repaid
	s.run.repaidDone = true
	return nil
}

func (s *repayDebtStep) RequiresManualCompensation() bool { return s.run.repaidDone }

// coverShortfallStep 回款不足时由储备金池兜底，补足额以储备金余额为上限。
type coverShortfallStep struct {
	saga.BaseStep
	reserve ShortfallCoverer
	run     *liquidationRun
}

func (s *coverShortfallStep) Execute(ctx context.Context) error {
	shortfall := s.run.debt.Sub(s.run.repaid)
	if !shortfall.IsPositive() {
		s.run.remaining = decimal.Zero
		return nil
	}
	covered, err := s.reserve.Cover(ctx, s.run.positionID, shortfall)
	if err != nil {
		return fmt.Errorf("cover shortfall: %w", err)
	}
	s.run.covered = covered
	s.run.remaining = shortfall.Sub(covered)
	return nil
}

func (s *coverShortfallStep) Compensate(ctx context.Context) error {
	if !s.run.covered.IsPositive() {
		return nil
	}
	return s.reserve.Refund(ctx, s.run.positionID, s.run.covered)
}

// completeLiquidationStep 把清算结果写回聚合。并发冲突由重试策略吸收。
type completeLiquidationStep struct {
	saga.BaseStep
	positions *Manager
	run       *liquidationRun
}

func (s *completeLiquidationStep) Execute(ctx context.Context) error {
	return s.positions.CompleteLiquidation(ctx, s.run.positionID, s.run.proceeds, s.run.remaining)
}
