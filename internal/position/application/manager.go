// Package application 实现抵押头寸的命令服务与清算工作流。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/position/domain"
	pricing "github.com/wyfcoding/ledgercore/internal/pricing/domain"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
	"github.com/wyfcoding/ledgercore/pkg/idgen"
)

// conflictRetries 乐观并发冲突的重载重试预算。冲突总是可以通过
// 从最新事件流重新加载后重试解决。
const conflictRetries = 3

// Manager 头寸命令服务。
type Manager struct {
	repo         *eventsourcing.Repository
	index        domain.Index
	oracle       pricing.Oracle
	quote        string
	logger       *slog.Logger
	liquidations prometheus.Counter
}

// NewManager 创建头寸命令服务。quote 为估值计价币种。
func NewManager(repo *eventsourcing.Repository, index domain.Index, oracle pricing.Oracle, quote string, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		index:  index,
		oracle: oracle,
		quote:  quote,
		logger: logger.With("module", "position"),
	}
}

// Instrument 挂接清算触发计数指标。
func (m *Manager) Instrument(liquidations prometheus.Counter) *Manager {
	m.liquidations = liquidations
	return m
}

// Open 开立头寸。
func (m *Manager) Open(ctx context.Context, ownerID string, marginCallRatio, liquidationRatio decimal.Decimal) (string, error) {
	positionID := fmt.Sprintf("POS-%d", idgen.GenID())
	p, err := domain.OpenPosition(positionID, ownerID, marginCallRatio, liquidationRatio)
	if err != nil {
		return "", err
	}
	if err := m.repo.Save(ctx, p); err != nil {
		return "", err
	}
	m.syncIndex(ctx, p)
	m.logger.InfoContext(ctx, "position opened", "position_id", positionID, "owner_id", ownerID)
	return positionID, nil
}

// AddCollateral 追加抵押物。
func (m *Manager) AddCollateral(ctx context.Context, positionID string, amounts map[string]decimal.Decimal) error {
	return m.withPosition(ctx, positionID, func(p *domain.CollateralPosition) error {
		return p.AddCollateral(amounts)
	})
}

// WithdrawCollateral 提取抵押物，按当前价格校验提取后的健康度。
func (m *Manager) WithdrawCollateral(ctx context.Context, positionID string, amounts map[string]decimal.Decimal) error {
	return m.withPosition(ctx, positionID, func(p *domain.CollateralPosition) error {
		prices, err := m.pricesFor(ctx, p)
		if err != nil {
			return err
		}
		return p.WithdrawCollateral(amounts, prices)
	})
}

// Borrow 借入，增加头寸债务。
func (m *Manager) Borrow(ctx context.Context, positionID string, amount decimal.Decimal) error {
	return m.withPosition(ctx, positionID, func(p *domain.CollateralPosition) error {
		prices, err := m.pricesFor(ctx, p)
		if err != nil {
			return err
		}
		return p.Borrow(amount, prices)
	})
}

// Repay 偿还头寸债务。
func (m *Manager) Repay(ctx context.Context, positionID string, amount decimal.Decimal) error {
	return m.withPosition(ctx, positionID, func(p *domain.CollateralPosition) error {
		return p.Repay(amount)
	})
}

// Close 主动关闭无债务头寸。
func (m *Manager) Close(ctx context.Context, positionID string) error {
	return m.withPosition(ctx, positionID, func(p *domain.CollateralPosition) error {
		return p.Close()
	})
}

// CompleteLiquidation 结束清算，由清算工作流的最后一步调用。
func (m *Manager) CompleteLiquidation(ctx context.Context, positionID string, liquidatedAmount, remainingDebt decimal.Decimal) error {
	return m.withPosition(ctx, positionID, func(p *domain.CollateralPosition) error {
		return p.CompleteLiquidation(liquidatedAmount, remainingDebt)
	})
}

// Get 重建并返回头寸当前状态。
func (m *Manager) Get(ctx context.Context, positionID string) (*domain.CollateralPosition, error) {
	p := domain.NewCollateralPosition(positionID)
	if err := m.repo.Load(ctx, positionID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReviewPriceUpdate 在某资产价格变动后重估持有该资产的全部在册头寸，
// 返回本次进入清算状态的头寸。
func (m *Manager) ReviewPriceUpdate(ctx context.Context, asset string) ([]string, error) {
	ids, err := m.index.ListOpenByAsset(ctx, asset)
	if err != nil {
		return nil, err
	}

	var liquidating []string
	for _, id := range ids {
		started, err := m.reviewOne(ctx, id)
		if err != nil {
			// 单个头寸重估失败不阻断其余头寸。
			m.logger.ErrorContext(ctx, "position health review failed",
				"position_id", id, "asset", asset, "error", err)
			continue
		}
		if started {
			liquidating = append(liquidating, id)
			if m.liquidations != nil {
				m.liquidations.Inc()
			}
		}
	}
	return liquidating, nil
}

func (m *Manager) reviewOne(ctx context.Context, positionID string) (bool, error) {
	started := false
	err := m.withPosition(ctx, positionID, func(p *domain.CollateralPosition) error {
		wasLiquidating := p.Status == domain.StatusLiquidating
		prices, err := m.pricesFor(ctx, p)
		if err != nil {
			return err
		}
		if err := p.UpdatePrices(prices); err != nil {
			return err
		}
		started = !wasLiquidating && p.Status == domain.StatusLiquidating
		return nil
	})
	return started, err
}

// withPosition 加载、执行业务方法并持久化；并发冲突时从最新状态重试。
func (m *Manager) withPosition(ctx context.Context, positionID string, fn func(p *domain.CollateralPosition) error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		p := domain.NewCollateralPosition(positionID)
		if err := m.repo.Load(ctx, positionID, p); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}

		err := m.repo.Save(ctx, p)
		if err == nil {
			m.syncIndex(ctx, p)
			return nil
		}
		if !errors.Is(err, eventsourcing.ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		m.logger.WarnContext(ctx, "position save conflicted, reloading",
			"position_id", positionID, "attempt", attempt+1)
	}
	return lastErr
}

// pricesFor 取头寸全部抵押资产的报价。任一资产无报价整体失败，
// 绝不用陈旧或缺省价格做健康度判定。
func (m *Manager) pricesFor(ctx context.Context, p *domain.CollateralPosition) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(p.Collateral))
	for asset := range p.Collateral {
		price, err := m.oracle.GetPrice(ctx, asset, m.quote)
		if err != nil {
			return nil, err
		}
		prices[asset] = price
	}
	return prices, nil
}

// syncIndex 刷新读模型索引。索引只用于圈定待重估头寸，落后不影响正确性。
func (m *Manager) syncIndex(ctx context.Context, p *domain.CollateralPosition) {
	if m.index == nil {
		return
	}
	assets := make([]string, 0, len(p.Collateral))
	for asset := range p.Collateral {
		assets = append(assets, asset)
	}
	err := m.index.Save(ctx, domain.Summary{
		PositionID: p.AggregateID(),
		OwnerID:    p.OwnerID,
		Status:     p.Status,
		Assets:     assets,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "position index update failed",
			"position_id", p.AggregateID(), "error", err)
	}
}
