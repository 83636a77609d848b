// Package application 提供账本服务门面：给底层实现套上熔断保护，
// 并在划转之上叠加手续费拆分。
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/pkg/breaker"
)

// serviceName 熔断器注册表中账本依赖的名字。
const serviceName = "ledger"

// LedgerService 账本门面。所有资金动作经同一个熔断器，
// 账本故障时上游 saga 快速失败而不是挂死在重试里。
type LedgerService struct {
	inner    domain.Service
	breakers *breaker.Registry
	logger   *slog.Logger

	transfers prometheus.Counter
	locks     prometheus.Gauge
}

// NewLedgerService 创建账本门面。breakers 为 nil 时直通底层实现。
func NewLedgerService(inner domain.Service, breakers *breaker.Registry, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		inner:    inner,
		breakers: breakers,
		logger:   logger.With("module", "ledger"),
	}
}

// Instrument 挂接划转计数与在途资金锁数量指标。
func (s *LedgerService) Instrument(transfers prometheus.Counter, locks prometheus.Gauge) *LedgerService {
	s.transfers = transfers
	s.locks = locks
	return s
}

func (s *LedgerService) call(ctx context.Context, op func(ctx context.Context) error) error {
	if s.breakers == nil {
		return op(ctx)
	}
	return s.breakers.Call(ctx, serviceName, op)
}

// Transfer 划转。
func (s *LedgerService) Transfer(ctx context.Context, fromAccount, toAccount, asset string, amount decimal.Decimal, reference string) (string, error) {
	var txID string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		txID, err = s.inner.Transfer(ctx, fromAccount, toAccount, asset, amount, reference)
		return err
	})
	if err == nil && s.transfers != nil {
		s.transfers.Inc()
	}
	return txID, err
}

// Lock 锁定资金。
func (s *LedgerService) Lock(ctx context.Context, accountID, asset string, amount decimal.Decimal, reason string) (string, error) {
	var lockID string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		lockID, err = s.inner.Lock(ctx, accountID, asset, amount, reason)
		return err
	})
	if err == nil && s.locks != nil {
		s.locks.Inc()
	}
	return lockID, err
}

// Unlock 释放资金锁。
func (s *LedgerService) Unlock(ctx context.Context, lockID string) (bool, error) {
	var released bool
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		released, err = s.inner.Unlock(ctx, lockID)
		return err
	})
	if err == nil && released && s.locks != nil {
		s.locks.Dec()
	}
	return released, err
}

// ExecuteLock 执行资金锁。
func (s *LedgerService) ExecuteLock(ctx context.Context, lockID, destinationAccount string) (string, error) {
	var txID string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		txID, err = s.inner.ExecuteLock(ctx, lockID, destinationAccount)
		return err
	})
	if err == nil && s.locks != nil {
		s.locks.Dec()
	}
	if err == nil && s.transfers != nil {
		s.transfers.Inc()
	}
	return txID, err
}

// TransferWithFee 按手续费模式拆分并完成一笔划转：
// 接收方入账 Credit，手续费入 feeAccount，发送方总支出恰为 Debit。
func (s *LedgerService) TransferWithFee(ctx context.Context, fromAccount, toAccount, feeAccount, asset string, amount, feeRate decimal.Decimal, mode domain.FeeMode, reference string) (domain.FeeBreakdown, error) {
	breakdown, err := domain.SplitFee(amount, feeRate, mode)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}

	if _, err := s.Transfer(ctx, fromAccount, toAccount, asset, breakdown.Credit, reference); err != nil {
		return domain.FeeBreakdown{}, err
	}
	if breakdown.Fee.IsPositive() {
		if _, err := s.Transfer(ctx, fromAccount, feeAccount, asset, breakdown.Fee, "fee:"+reference); err != nil {
			// 主腿已入账，手续费腿失败需要人工对账。
			s.logger.ErrorContext(ctx, "fee leg failed after principal transfer",
				"from", fromAccount, "fee_account", feeAccount, "fee", breakdown.Fee.String(), "error", err)
			return domain.FeeBreakdown{}, fmt.Errorf("fee leg: %w", err)
		}
	}
	return breakdown, nil
}

var _ domain.Service = (*LedgerService)(nil)
