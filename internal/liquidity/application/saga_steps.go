package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/internal/liquidity/domain"
	pricing "github.com/wyfcoding/ledgercore/internal/pricing/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

// TreasuryDeskAccount 再平衡时与池子互为对手方的司库账户。
const TreasuryDeskAccount = "treasury:desk"

// PoolAccount 资金池的托管账户。
func PoolAccount(poolID string) string {
	return "pool:" + poolID
}

// addLiquidityRun 单次注入流动性的运行时状态，在步骤之间显式传递。
type addLiquidityRun struct {
	poolID    string
	provider  string
	accountID string
	base      decimal.Decimal
	quote     decimal.Decimal
	minShares decimal.Decimal

	pool        *domain.LiquidityPool
	baseLockID  string
	quoteLockID string
	minted      decimal.Decimal
	transferred bool
}

// validateAddLiquidityStep 校验入参并加载池子。纯校验，失败无需补偿。
type validateAddLiquidityStep struct {
	saga.BaseStep
	pools *Manager
	run   *addLiquidityRun
}

func (s *validateAddLiquidityStep) Execute(ctx context.Context) error {
	if !s.run.base.IsPositive() || !s.run.quote.IsPositive() {
		return errs.Validation("liquidity amounts must be positive, got base=%s quote=%s", s.run.base, s.run.quote)
	}
	if s.run.minShares.IsNegative() {
		return errs.Validation("min shares must not be negative, got %s", s.run.minShares)
	}

	pool, err := s.pools.Get(ctx, s.run.poolID)
	if err != nil {
		return err
	}
	if !pool.IsActive {
		return errs.Mark(domain.ErrPoolInactive, errs.KindValidation)
	}
	s.run.pool = pool
	return nil
}

// lockBaseFundsStep 锁定提供者的 base 资产。
type lockBaseFundsStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *addLiquidityRun
}

func (s *lockBaseFundsStep) Execute(ctx context.Context) error {
	if s.run.baseLockID != "" {
		return nil
	}
	lockID, err := s.ledger.Lock(ctx, s.run.accountID, s.run.pool.BaseAsset, s.run.base, "add-liquidity "+s.run.poolID)
	if err != nil {
		return fmt.Errorf("lock base funds: %w", err)
	}
	s.run.baseLockID = lockID
	return nil
}

func (s *lockBaseFundsStep) Compensate(ctx context.Context) error {
	if s.run.transferred || s.run.baseLockID == "" {
		return nil
	}
	_, err := s.ledger.Unlock(ctx, s.run.baseLockID)
	return err
}

// lockQuoteFundsStep 锁定提供者的 quote 资产。
type lockQuoteFundsStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *addLiquidityRun
}

func (s *lockQuoteFundsStep) Execute(ctx context.Context) error {
	if s.run.quoteLockID != "" {
		return nil
	}
	lockID, err := s.ledger.Lock(ctx, s.run.accountID, s.run.pool.QuoteAsset, s.run.quote, "add-liquidity "+s.run.poolID)
	if err != nil {
		return fmt.Errorf("lock quote funds: %w", err)
	}
	s.run.quoteLockID = lockID
	return nil
}

func (s *lockQuoteFundsStep) Compensate(ctx context.Context) error {
	if s.run.transferred || s.run.quoteLockID == "" {
		return nil
	}
	_, err := s.ledger.Unlock(ctx, s.run.quoteLockID)
	return err
}

// calculateSharesStep 按当前储备比例计算应铸份额，低于滑点下限即拒绝。
type calculateSharesStep struct {
	saga.BaseStep
	run *addLiquidityRun
}

func (s *calculateSharesStep) Execute(ctx context.Context) error {
	minted := s.run.pool.SharesForContribution(s.run.base, s.run.quote)
	if minted.LessThan(s.run.minShares) {
		return errs.Mark(
			fmt.Errorf("%w: would mint %s, caller requires at least %s", domain.ErrSlippageExceeded, minted, s.run.minShares),
			errs.KindBusiness)
	}
	s.run.minted = minted
	return nil
}

// transferToPoolStep 把两侧锁定资金原子划入池子托管账户。
// 划转完成后锁已消费，资金进池无法自动回退，补偿只能转人工。
type transferToPoolStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *addLiquidityRun
}

func (s *transferToPoolStep) Execute(ctx context.Context) error {
	poolAccount := PoolAccount(s.run.poolID)
	if _, err := s.ledger.ExecuteLock(ctx, s.run.baseLockID, poolAccount); err != nil {
		return fmt.Errorf("transfer base into pool: %w", err)
	}
	if _, err := s.ledger.ExecuteLock(ctx, s.run.quoteLockID, poolAccount); err != nil {
		// base 侧已进池，从这里起只能人工处理。
		s.run.transferred = true
		return fmt.Errorf("transfer quote into pool: %w", err)
	}
	s.run.transferred = true
	return nil
}

func (s *transferToPoolStep) RequiresManualCompensation() bool { return s.run.transferred }

// updatePoolStep 把新储备与铸造份额写回聚合。并发冲突由重试策略吸收。
type updatePoolStep struct {
	saga.BaseStep
	pools *Manager
	run   *addLiquidityRun
}

func (s *updatePoolStep) Execute(ctx context.Context) error {
	return s.pools.withPool(ctx, s.run.poolID, func(pool *domain.LiquidityPool) error {
		return pool.AddLiquidity(s.run.provider, s.run.base, s.run.quote, s.run.minted)
	})
}

// removeLiquidityRun 单次退出流动性的运行时状态。
type removeLiquidityRun struct {
	poolID    string
	provider  string
	accountID string
	shares    decimal.Decimal
	minBase   decimal.Decimal
	minQuote  decimal.Decimal

	pool     *domain.LiquidityPool
	baseOut  decimal.Decimal
	quoteOut decimal.Decimal
	burned   bool
	paidOut  bool
}

// validateRemoveLiquidityStep 校验份额与最小到账量。
type validateRemoveLiquidityStep struct {
	saga.BaseStep
	pools *Manager
	run   *removeLiquidityRun
}

func (s *validateRemoveLiquidityStep) Execute(ctx context.Context) error {
	if !s.run.shares.IsPositive() {
		return errs.Validation("shares to burn must be positive, got %s", s.run.shares)
	}

	pool, err := s.pools.Get(ctx, s.run.poolID)
	if err != nil {
		return err
	}
	if !pool.IsActive {
		return errs.Mark(domain.ErrPoolInactive, errs.KindValidation)
	}
	if pool.Holdings[s.run.provider].LessThan(s.run.shares) {
		return errs.Mark(
			fmt.Errorf("%w: provider %s holds %s, burning %s",
				domain.ErrInsufficientShares, s.run.provider, pool.Holdings[s.run.provider], s.run.shares),
			errs.KindValidation)
	}

	base, quote := pool.AmountsForShares(s.run.shares)
	if base.LessThan(s.run.minBase) || quote.LessThan(s.run.minQuote) {
		return errs.Mark(
			fmt.Errorf("%w: would return %s/%s, caller requires at least %s/%s",
				domain.ErrSlippageExceeded, base, quote, s.run.minBase, s.run.minQuote),
			errs.KindValidation)
	}
	s.run.pool = pool
	s.run.baseOut = base
	s.run.quoteOut = quote
	return nil
}

// burnSharesStep 先销毁份额再转出资金，避免份额与储备双花。
// 补偿为等量回铸。
type burnSharesStep struct {
	saga.BaseStep
	pools *Manager
	run   *removeLiquidityRun
}

func (s *burnSharesStep) Execute(ctx context.Context) error {
	err := s.pools.withPool(ctx, s.run.poolID, func(pool *domain.LiquidityPool) error {
		return pool.RemoveLiquidity(s.run.provider, s.run.shares, s.run.baseOut, s.run.quoteOut)
	})
	if err != nil {
		return err
	}
	s.run.burned = true
	return nil
}

func (s *burnSharesStep) Compensate(ctx context.Context) error {
	if !s.run.burned {
		return nil
	}
	return s.pools.withPool(ctx, s.run.poolID, func(pool *domain.LiquidityPool) error {
		return pool.AddLiquidity(s.run.provider, s.run.baseOut, s.run.quoteOut, s.run.shares)
	})
}

// transferOutStep 把退出的储备划给提供者。资金离池后补偿转人工。
type transferOutStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *removeLiquidityRun
}

func (s *transferOutStep) Execute(ctx context.Context) error {
	poolAccount := PoolAccount(s.run.poolID)
	ref := "remove-liquidity " + s.run.poolID
	if _, err := s.ledger.Transfer(ctx, poolAccount, s.run.accountID, s.run.pool.BaseAsset, s.run.baseOut, ref); err != nil {
		return fmt.Errorf("transfer base out of pool: %w", err)
	}
	s.run.paidOut = true
	if _, err := s.ledger.Transfer(ctx, poolAccount, s.run.accountID, s.run.pool.QuoteAsset, s.run.quoteOut, ref); err != nil {
		return fmt.Errorf("transfer quote out of pool: %w", err)
	}
	return nil
}

func (s *transferOutStep) RequiresManualCompensation() bool { return s.run.paidOut }

// rebalanceRun 单次再平衡的运行时状态。
type rebalanceRun struct {
	poolID    string
	tolerance decimal.Decimal

	pool     *domain.LiquidityPool
	price    decimal.Decimal
	newBase  decimal.Decimal
	newQuote decimal.Decimal
	swapped  bool
}

// planRebalanceStep 取市场价并计算保值的目标储备：两侧价值各占一半。
type planRebalanceStep struct {
	saga.BaseStep
	pools  *Manager
	oracle pricing.Oracle
	run    *rebalanceRun
}

func (s *planRebalanceStep) Execute(ctx context.Context) error {
	pool, err := s.pools.Get(ctx, s.run.poolID)
	if err != nil {
		return err
	}
	if !pool.IsActive {
		return errs.Mark(domain.ErrPoolInactive, errs.KindValidation)
	}

	price, err := s.oracle.GetPrice(ctx, pool.BaseAsset, pool.QuoteAsset)
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return errs.Business("oracle returned non-positive price %s for %s/%s", price, pool.BaseAsset, pool.QuoteAsset)
	}

	// 总价值 V = base×P + quote；目标 base = V/(2P)，quote 取差值保证总值精确不变。
	total := pool.BaseReserve.Mul(price).Add(pool.QuoteReserve)
	newBase := total.Div(price.Mul(decimal.NewFromInt(2))).RoundDown(18)
	newQuote := total.Sub(newBase.Mul(price))

	s.run.pool = pool
	s.run.price = price
	s.run.newBase = newBase
	s.run.newQuote = newQuote
	return nil
}

// executeSwapStep 与司库账户互换两侧差额。资金过手后补偿转人工。
type executeSwapStep struct {
	saga.BaseStep
	ledger ledger.Service
	run    *rebalanceRun
}

func (s *executeSwapStep) Execute(ctx context.Context) error {
	pool := s.run.pool
	poolAccount := PoolAccount(s.run.poolID)
	ref := "rebalance " + s.run.poolID

	deltaBase := s.run.newBase.Sub(pool.BaseReserve)
	deltaQuote := s.run.newQuote.Sub(pool.QuoteReserve)

	switch {
	case deltaBase.IsPositive():
		// 池子买入 base：司库付 base，池子付 quote。
		if _, err := s.ledger.Transfer(ctx, TreasuryDeskAccount, poolAccount, pool.BaseAsset, deltaBase, ref); err != nil {
			return fmt.Errorf("swap base into pool: %w", err)
		}
		s.run.swapped = true
		if _, err := s.ledger.Transfer(ctx, poolAccount, TreasuryDeskAccount, pool.QuoteAsset, deltaQuote.Neg(), ref); err != nil {
			return fmt.Errorf("swap quote out of pool: %w", err)
		}
	case deltaBase.IsNegative():
		// 池子卖出 base：池子付 base，司库付 quote。
		if _, err := s.ledger.Transfer(ctx, poolAccount, TreasuryDeskAccount, pool.BaseAsset, deltaBase.Neg(), ref); err != nil {
			return fmt.Errorf("swap base out of pool: %w", err)
		}
		s.run.swapped = true
		if _, err := s.ledger.Transfer(ctx, TreasuryDeskAccount, poolAccount, pool.QuoteAsset, deltaQuote, ref); err != nil {
			return fmt.Errorf("swap quote into pool: %w", err)
		}
	}
	return nil
}

func (s *executeSwapStep) RequiresManualCompensation() bool { return s.run.swapped }

// applyRebalanceStep 把新储备写回聚合，聚合内再次校验总值不变。
type applyRebalanceStep struct {
	saga.BaseStep
	pools *Manager
	run   *rebalanceRun
}

func (s *applyRebalanceStep) Execute(ctx context.Context) error {
	return s.pools.withPool(ctx, s.run.poolID, func(pool *domain.LiquidityPool) error {
		return pool.Rebalance(s.run.newBase, s.run.newQuote, s.run.price, s.run.tolerance)
	})
}
