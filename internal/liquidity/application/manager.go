// Package application 实现流动性资金池的命令服务与注入/退出/再平衡工作流。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/internal/liquidity/domain"
	pricing "github.com/wyfcoding/ledgercore/internal/pricing/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
	"github.com/wyfcoding/ledgercore/pkg/idgen"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

// DefaultRebalanceSlippageTolerance 再平衡的默认价值漂移容忍度。
// 调用方可显式传入自定义容忍度，该常量只是缺省值。
var DefaultRebalanceSlippageTolerance = decimal.NewFromFloat(0.01)

const conflictRetries = 3

// AddLiquidityCommand 注入流动性请求。
type AddLiquidityCommand struct {
	PoolID      string
	Provider    string
	AccountID   string
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	// MinShares 滑点下限：实际铸造份额低于该值时整体回退。
	MinShares decimal.Decimal
}

// RemoveLiquidityCommand 退出流动性请求。
type RemoveLiquidityCommand struct {
	PoolID    string
	Provider  string
	AccountID string
	Shares    decimal.Decimal
	// MinBase / MinQuote 最小到账量，低于即拒绝。
	MinBase  decimal.Decimal
	MinQuote decimal.Decimal
}

// Manager 资金池命令服务。
type Manager struct {
	repo     *eventsourcing.Repository
	ledger   ledger.Service
	oracle   pricing.Oracle
	logger   *slog.Logger
	sagaOpts []saga.Option
}

// NewManager 创建资金池命令服务。sagaOpts 注入状态持久化、幂等标记、熔断与指标。
func NewManager(repo *eventsourcing.Repository, ledgerSvc ledger.Service, oracle pricing.Oracle, logger *slog.Logger, sagaOpts ...saga.Option) *Manager {
	return &Manager{
		repo:     repo,
		ledger:   ledgerSvc,
		oracle:   oracle,
		logger:   logger.With("module", "liquidity"),
		sagaOpts: sagaOpts,
	}
}

// CreatePool 创建资金池。
func (m *Manager) CreatePool(ctx context.Context, baseAsset, quoteAsset string, feeRate decimal.Decimal) (string, error) {
	poolID := fmt.Sprintf("POOL-%d", idgen.GenID())
	pool, err := domain.CreatePool(poolID, baseAsset, quoteAsset, feeRate)
	if err != nil {
		return "", err
	}
	if err := m.repo.Save(ctx, pool); err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "pool created",
		"pool_id", poolID, "base_asset", baseAsset, "quote_asset", quoteAsset)
	return poolID, nil
}

// AddLiquidity 注入流动性：锁定两侧资金 → 计算份额 → 划入池子 → 更新聚合。
// 返回协调器结果与成功时铸造的份额。
func (m *Manager) AddLiquidity(ctx context.Context, cmd AddLiquidityCommand) (*saga.Result, decimal.Decimal, error) {
	run := &addLiquidityRun{
		poolID:    cmd.PoolID,
		provider:  cmd.Provider,
		accountID: cmd.AccountID,
		base:      cmd.BaseAmount,
		quote:     cmd.QuoteAmount,
		minShares: cmd.MinShares,
	}

	coordinator := saga.NewCoordinator("add_liquidity", m.logger, m.sagaOpts...).
		AddStep(&validateAddLiquidityStep{
			BaseStep: saga.BaseStep{StepName: "validate"},
			pools:    m,
			run:      run,
		}).
		AddStep(&lockBaseFundsStep{
			BaseStep: saga.BaseStep{StepName: "lock_base_funds", Service: "ledger"},
			ledger:   m.ledger,
			run:      run,
		}).
		AddStep(&lockQuoteFundsStep{
			BaseStep: saga.BaseStep{StepName: "lock_quote_funds", Service: "ledger"},
			ledger:   m.ledger,
			run:      run,
		}).
		AddStep(&calculateSharesStep{
			BaseStep: saga.BaseStep{StepName: "calculate_shares"},
			run:      run,
		}).
		AddStep(&transferToPoolStep{
			BaseStep: saga.BaseStep{StepName: "transfer_to_pool", Service: "ledger"},
			ledger:   m.ledger,
			run:      run,
		}).
		AddStep(&updatePoolStep{
			BaseStep: saga.BaseStep{StepName: "update_pool"},
			pools:    m,
			run:      run,
		})

	result := coordinator.Execute(ctx)
	if result.Success {
		m.logger.InfoContext(ctx, "liquidity added",
			"pool_id", cmd.PoolID, "provider", cmd.Provider, "shares_minted", run.minted.String())
	}
	return result, run.minted, nil
}

// RemoveLiquidity 退出流动性：先销份额再转出资金。
func (m *Manager) RemoveLiquidity(ctx context.Context, cmd RemoveLiquidityCommand) (*saga.Result, error) {
	run := &removeLiquidityRun{
		poolID:    cmd.PoolID,
		provider:  cmd.Provider,
		accountID: cmd.AccountID,
		shares:    cmd.Shares,
		minBase:   cmd.MinBase,
		minQuote:  cmd.MinQuote,
	}

	coordinator := saga.NewCoordinator("remove_liquidity", m.logger, m.sagaOpts...).
		AddStep(&validateRemoveLiquidityStep{
			BaseStep: saga.BaseStep{StepName: "validate"},
			pools:    m,
			run:      run,
		}).
		AddStep(&burnSharesStep{
			BaseStep: saga.BaseStep{StepName: "burn_shares"},
			pools:    m,
			run:      run,
		}).
		AddStep(&transferOutStep{
			BaseStep: saga.BaseStep{StepName: "transfer_out", Service: "ledger"},
			ledger:   m.ledger,
			run:      run,
		})

	result := coordinator.Execute(ctx)
	if result.Success {
		m.logger.InfoContext(ctx, "liquidity removed",
			"pool_id", cmd.PoolID, "provider", cmd.Provider,
			"base_out", run.baseOut.String(), "quote_out", run.quoteOut.String())
	}
	return result, nil
}

// RebalancePool 把储备调整到市场价下两侧价值各半。tolerance 为零值时采用默认容忍度。
func (m *Manager) RebalancePool(ctx context.Context, poolID string, tolerance decimal.Decimal) (*saga.Result, error) {
	if tolerance.IsZero() {
		tolerance = DefaultRebalanceSlippageTolerance
	}
	if tolerance.IsNegative() {
		return nil, errs.Validation("tolerance must not be negative, got %s", tolerance)
	}

	run := &rebalanceRun{poolID: poolID, tolerance: tolerance}
	coordinator := saga.NewCoordinator("rebalance_pool", m.logger, m.sagaOpts...).
		AddStep(&planRebalanceStep{
			BaseStep: saga.BaseStep{StepName: "plan_rebalance", Service: "oracle"},
			pools:    m,
			oracle:   m.oracle,
			run:      run,
		}).
		AddStep(&executeSwapStep{
			BaseStep: saga.BaseStep{StepName: "execute_swap", Service: "ledger"},
			ledger:   m.ledger,
			run:      run,
		}).
		AddStep(&applyRebalanceStep{
			BaseStep: saga.BaseStep{StepName: "apply_rebalance"},
			pools:    m,
			run:      run,
		})

	result := coordinator.Execute(ctx)
	if result.Success {
		m.logger.InfoContext(ctx, "pool rebalanced",
			"pool_id", poolID, "new_base", run.newBase.String(), "new_quote", run.newQuote.String())
	}
	return result, nil
}

// AccrueFee 把手续费滚入储备。
func (m *Manager) AccrueFee(ctx context.Context, poolID string, baseAmount, quoteAmount decimal.Decimal) error {
	return m.withPool(ctx, poolID, func(pool *domain.LiquidityPool) error {
		return pool.AccrueFee(baseAmount, quoteAmount)
	})
}

// SetFeeRate 调整手续费率。
func (m *Manager) SetFeeRate(ctx context.Context, poolID string, rate decimal.Decimal) error {
	return m.withPool(ctx, poolID, func(pool *domain.LiquidityPool) error {
		return pool.SetFeeRate(rate)
	})
}

// SetActive 启停资金池。
func (m *Manager) SetActive(ctx context.Context, poolID string, active bool) error {
	return m.withPool(ctx, poolID, func(pool *domain.LiquidityPool) error {
		if active {
			return pool.Activate()
		}
		return pool.Deactivate()
	})
}

// Get 重建并返回资金池当前状态。
func (m *Manager) Get(ctx context.Context, poolID string) (*domain.LiquidityPool, error) {
	pool := domain.NewLiquidityPool(poolID)
	if err := m.repo.Load(ctx, poolID, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// withPool 加载、执行业务方法并持久化；并发冲突时从最新状态重试。
func (m *Manager) withPool(ctx context.Context, poolID string, fn func(pool *domain.LiquidityPool) error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		pool := domain.NewLiquidityPool(poolID)
		if err := m.repo.Load(ctx, poolID, pool); err != nil {
			return err
		}
		if err := fn(pool); err != nil {
			return err
		}

		err := m.repo.Save(ctx, pool)
		if err == nil {
			return nil
		}
		if !errors.Is(err, eventsourcing.ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		m.logger.WarnContext(ctx, "pool save conflicted, reloading",
			"pool_id", poolID, "attempt", attempt+1)
	}
	return lastErr
}
