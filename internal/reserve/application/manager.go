// Package application 实现储备金池的命令服务与清算坏账兜底。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/internal/reserve/domain"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
	"github.com/wyfcoding/ledgercore/pkg/idgen"
)

const conflictRetries = 3

// ReserveAccount 储备金池的账本账户。
func ReserveAccount(reserveID string) string {
	return "reserve:" + reserveID
}

// Manager 储备金池命令服务。
type Manager struct {
	repo   *eventsourcing.Repository
	ledger ledger.Service
	logger *slog.Logger
}

// NewManager 创建储备金池命令服务。
func NewManager(repo *eventsourcing.Repository, ledgerSvc ledger.Service, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		ledger: ledgerSvc,
		logger: logger.With("module", "reserve"),
	}
}

// CreateReserve 建立储备金池。
func (m *Manager) CreateReserve(ctx context.Context, asset string, targetRatio decimal.Decimal) (string, error) {
	reserveID := fmt.Sprintf("RES-%d", idgen.GenID())
	reserve, err := domain.CreateReserve(reserveID, asset, targetRatio)
	if err != nil {
		return "", err
	}
	if err := m.repo.Save(ctx, reserve); err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "reserve created", "reserve_id", reserveID, "asset", asset)
	return reserveID, nil
}

// Fund 从指定账户注资入池，账本划转与聚合记账一并完成。
func (m *Manager) Fund(ctx context.Context, reserveID, fromAccount string, amount decimal.Decimal) error {
	reserve, err := m.Get(ctx, reserveID)
	if err != nil {
		return err
	}
	if _, err := m.ledger.Transfer(ctx, fromAccount, ReserveAccount(reserveID), reserve.Asset, amount, "reserve-fund:"+reserveID); err != nil {
		return err
	}
	if err := m.withReserve(ctx, reserveID, func(r *domain.ReservePool) error {
		return r.Fund(amount, fromAccount)
	}); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "reserve funded",
		"reserve_id", reserveID, "from", fromAccount, "amount", amount.String())
	return nil
}

// Draw 一般性支取到指定账户，以余额为上限，返回实际支取额。
func (m *Manager) Draw(ctx context.Context, reserveID, toAccount string, amount decimal.Decimal, reason string) (decimal.Decimal, error) {
	var drawn decimal.Decimal
	var asset string
	if err := m.withReserve(ctx, reserveID, func(r *domain.ReservePool) error {
		asset = r.Asset
		var err error
		drawn, err = r.Draw(amount, reason)
		return err
	}); err != nil {
		return decimal.Zero, err
	}
	if !drawn.IsPositive() {
		return decimal.Zero, nil
	}

	if _, err := m.ledger.Transfer(ctx, ReserveAccount(reserveID), toAccount, asset, drawn, "reserve-draw:"+reason); err != nil {
		m.rollbackDraw(ctx, reserveID, drawn, reason)
		return decimal.Zero, err
	}
	m.logger.InfoContext(ctx, "reserve drawn",
		"reserve_id", reserveID, "to", toAccount, "amount", drawn.String(), "reason", reason)
	return drawn, nil
}

// SetTargetRatio 调整目标覆盖率。
func (m *Manager) SetTargetRatio(ctx context.Context, reserveID string, ratio decimal.Decimal) error {
	return m.withReserve(ctx, reserveID, func(r *domain.ReservePool) error {
		return r.SetTargetRatio(ratio)
	})
}

// Get 重建并返回储备金池当前状态。
func (m *Manager) Get(ctx context.Context, reserveID string) (*domain.ReservePool, error) {
	reserve := domain.NewReservePool(reserveID)
	if err := m.repo.Load(ctx, reserveID, reserve); err != nil {
		return nil, err
	}
	return reserve, nil
}

// rollbackDraw 账本划转失败后回冲聚合侧的支取记录。
func (m *Manager) rollbackDraw(ctx context.Context, reserveID string, amount decimal.Decimal, reason string) {
	if err := m.withReserve(ctx, reserveID, func(r *domain.ReservePool) error {
		return r.Fund(amount, "rollback:"+reason)
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to roll back reserve draw",
			"reserve_id", reserveID, "amount", amount.String(), "error", err)
	}
}

// withReserve 加载、执行业务方法并持久化；并发冲突时从最新状态重试。
func (m *Manager) withReserve(ctx context.Context, reserveID string, fn func(r *domain.ReservePool) error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		reserve := domain.NewReservePool(reserveID)
		if err := m.repo.Load(ctx, reserveID, reserve); err != nil {
			return err
		}
		if err := fn(reserve); err != nil {
			return err
		}
		if len(reserve.Uncommitted()) == 0 {
			return nil
		}

		err := m.repo.Save(ctx, reserve)
		if err == nil {
			return nil
		}
		if !errors.Is(err, eventsourcing.ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		m.logger.WarnContext(ctx, "reserve save conflicted, reloading",
			"reserve_id", reserveID, "attempt", attempt+1)
	}
	return lastErr
}

// Coverer 把单个储备金池适配成清算工作流的坏账兜底方。
// 兜底资金划往 payoutAccount（通常是借贷资金池账户）。
type Coverer struct {
	manager       *Manager
	reserveID     string
	payoutAccount string
}

// NewCoverer 创建兜底适配器。
func NewCoverer(manager *Manager, reserveID, payoutAccount string) *Coverer {
	return &Coverer{manager: manager, reserveID: reserveID, payoutAccount: payoutAccount}
}

// Cover 按余额上限兜底一笔坏账：聚合先记账，再把资金划往 payoutAccount。
// 划转失败时回冲记账并返回错误。
func (c *Coverer) Cover(ctx context.Context, reference string, amount decimal.Decimal) (decimal.Decimal, error) {
	var covered decimal.Decimal
	var asset string
	if err := c.manager.withReserve(ctx, c.reserveID, func(r *domain.ReservePool) error {
		asset = r.Asset
		var err error
		covered, err = r.CoverShortfall(reference, amount)
		return err
	}); err != nil {
		return decimal.Zero, err
	}
	if !covered.IsPositive() {
		return decimal.Zero, nil
	}

	if _, err := c.manager.ledger.Transfer(ctx, ReserveAccount(c.reserveID), c.payoutAccount, asset, covered, "cover:"+reference); err != nil {
		if rbErr := c.manager.withReserve(ctx, c.reserveID, func(r *domain.ReservePool) error {
			return r.RefundCover(reference, covered)
		}); rbErr != nil {
			c.manager.logger.ErrorContext(ctx, "failed to roll back shortfall cover",
				"reserve_id", c.reserveID, "reference", reference, "error", rbErr)
		}
		return decimal.Zero, err
	}

	c.manager.logger.InfoContext(ctx, "shortfall covered",
		"reserve_id", c.reserveID, "reference", reference, "amount", covered.String())
	return covered, nil
}

// Refund 回冲一笔兜底（清算工作流的补偿路径），资金原路退回储备金池。
func (c *Coverer) Refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	reserve, err := c.manager.Get(ctx, c.reserveID)
	if err != nil {
		return err
	}
	if _, err := c.manager.ledger.Transfer(ctx, c.payoutAccount, ReserveAccount(c.reserveID), reserve.Asset, amount, "cover-refund:"+reference); err != nil {
		return err
	}
	if err := c.manager.withReserve(ctx, c.reserveID, func(r *domain.ReservePool) error {
		return r.RefundCover(reference, amount)
	}); err != nil {
		return err
	}
	c.manager.logger.InfoContext(ctx, "shortfall cover refunded",
		"reserve_id", c.reserveID, "reference", reference, "amount", amount.String())
	return nil
}
