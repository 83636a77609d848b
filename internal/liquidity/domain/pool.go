// Package domain 实现流动性资金池聚合：份额按注入价值比例铸造与销毁，
// 储备永不为负，再平衡不改变池内总价值。
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

var (
	ErrPoolInactive       = errors.New("pool is not active")
	ErrInsufficientShares = errors.New("insufficient pool shares")
	ErrSlippageExceeded   = errors.New("slippage tolerance exceeded")
	ErrValueNotPreserved  = errors.New("rebalance would change total pool value")
)

// sharePrecision 份额计算的小数位，比例换算一律向下取整，
// 宁可少铸/少付尘埃也不凭空创造价值。
const sharePrecision = 18

// LiquidityPool 流动性资金池聚合根。
type LiquidityPool struct {
	eventsourcing.AggregateBase

	BaseAsset    string
	QuoteAsset   string
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	TotalShares  decimal.Decimal
	FeeRate      decimal.Decimal
	// Holdings 各提供者持有的份额。
	Holdings map[string]decimal.Decimal
	IsActive bool
}

// NewLiquidityPool 创建零值聚合，供仓储重放历史。
func NewLiquidityPool(poolID string) *LiquidityPool {
	p := &LiquidityPool{
		BaseReserve:  decimal.Zero,
		QuoteReserve: decimal.Zero,
		TotalShares:  decimal.Zero,
		Holdings:     make(map[string]decimal.Decimal),
	}
	p.ID = poolID
	return p
}

// CreatePool 创建资金池，初始为启用状态。
func CreatePool(poolID, baseAsset, quoteAsset string, feeRate decimal.Decimal) (*LiquidityPool, error) {
	if baseAsset == "" || quoteAsset == "" || baseAsset == quoteAsset {
		return nil, errs.Validation("pool assets must be two distinct symbols, got %q/%q", baseAsset, quoteAsset)
	}
	if feeRate.IsNegative() {
		return nil, errs.Validation("fee rate must not be negative, got %s", feeRate)
	}

	p := NewLiquidityPool(poolID)
	err := p.Record(p, &PoolCreated{
		PoolID:     poolID,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		FeeRate:    feeRate,
		At:         time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SharesForContribution 计算注入 (base, quote) 应铸造的份额。
// 空池按注入总量起算；否则取两侧占比中较小者，多出的一侧不参与铸造。
func (p *LiquidityPool) SharesForContribution(baseAmount, quoteAmount decimal.Decimal) decimal.Decimal {
	if p.TotalShares.IsZero() {
		return baseAmount.Add(quoteAmount)
	}
	byBase := p.TotalShares.Mul(baseAmount).Div(p.BaseReserve)
	byQuote := p.TotalShares.Mul(quoteAmount).Div(p.QuoteReserve)
	return decimal.Min(byBase, byQuote).RoundDown(sharePrecision)
}

// AmountsForShares 计算销毁 shares 份额可退出的储备量。
func (p *LiquidityPool) AmountsForShares(shares decimal.Decimal) (base, quote decimal.Decimal) {
	if p.TotalShares.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	base = p.BaseReserve.Mul(shares).Div(p.TotalShares).RoundDown(sharePrecision)
	quote = p.QuoteReserve.Mul(shares).Div(p.TotalShares).RoundDown(sharePrecision)
	return base, quote
}

// AddLiquidity 记录一次流动性注入。sharesMinted 由调用方按当时储备比例算出。
func (p *LiquidityPool) AddLiquidity(provider string, baseAmount, quoteAmount, sharesMinted decimal.Decimal) error {
	if !p.IsActive {
		return errs.Mark(ErrPoolInactive, errs.KindBusiness)
	}
	if !baseAmount.IsPositive() || !quoteAmount.IsPositive() {
		return errs.Validation("liquidity amounts must be positive, got base=%s quote=%s", baseAmount, quoteAmount)
	}
	if !sharesMinted.IsPositive() {
		return errs.Validation("shares minted must be positive, got %s", sharesMinted)
	}
	return p.Record(p, &LiquidityAdded{
		PoolID:       p.ID,
		Provider:     provider,
		BaseAmount:   baseAmount,
		QuoteAmount:  quoteAmount,
		SharesMinted: sharesMinted,
		At:           time.Now(),
	})
}

// RemoveLiquidity 销毁份额并记录按比例退出的储备量。
func (p *LiquidityPool) RemoveLiquidity(provider string, shares, baseAmount, quoteAmount decimal.Decimal) error {
	if !p.IsActive {
		return errs.Mark(ErrPoolInactive, errs.KindBusiness)
	}
	if !shares.IsPositive() {
		return errs.Validation("shares to burn must be positive, got %s", shares)
	}
	if p.Holdings[provider].LessThan(shares) {
		return errs.Mark(
			fmt.Errorf("%w: provider %s holds %s, burning %s", ErrInsufficientShares, provider, p.Holdings[provider], shares),
			errs.KindBusiness)
	}
	if p.BaseReserve.LessThan(baseAmount) || p.QuoteReserve.LessThan(quoteAmount) {
		return errs.Business("withdrawal %s/%s exceeds reserves %s/%s",
			baseAmount, quoteAmount, p.BaseReserve, p.QuoteReserve)
	}
	return p.Record(p, &LiquidityRemoved{
		PoolID:       p.ID,
		Provider:     provider,
		SharesBurned: shares,
		BaseAmount:   baseAmount,
		QuoteAmount:  quoteAmount,
		At:           time.Now(),
	})
}

// Rebalance 把储备调整为 (newBase, newQuote)。price 为 base 的 quote 计价，
// 新旧总价值之差超出 tolerance 比例时拒绝。
func (p *LiquidityPool) Rebalance(newBase, newQuote, price, tolerance decimal.Decimal) error {
	if !p.IsActive {
		return errs.Mark(ErrPoolInactive, errs.KindBusiness)
	}
	if newBase.IsNegative() || newQuote.IsNegative() {
		return errs.Validation("reserves must not be negative, got %s/%s", newBase, newQuote)
	}

	oldValue := p.BaseReserve.Mul(price).Add(p.QuoteReserve)
	newValue := newBase.Mul(price).Add(newQuote)
	if oldValue.IsPositive() {
		drift := newValue.Sub(oldValue).Abs().Div(oldValue)
		if drift.GreaterThan(tolerance) {
			return errs.Mark(
				fmt.Errorf("%w: value drift %s exceeds tolerance %s", ErrValueNotPreserved, drift, tolerance),
				errs.KindBusiness)
		}
	}
	return p.Record(p, &PoolRebalanced{
		PoolID:          p.ID,
		NewBaseReserve:  newBase,
		NewQuoteReserve: newQuote,
		At:              time.Now(),
	})
}

// AccrueFee 把手续费滚入储备。
func (p *LiquidityPool) AccrueFee(baseAmount, quoteAmount decimal.Decimal) error {
	if baseAmount.IsNegative() || quoteAmount.IsNegative() {
		return errs.Validation("fee amounts must not be negative, got %s/%s", baseAmount, quoteAmount)
	}
	if baseAmount.IsZero() && quoteAmount.IsZero() {
		return nil
	}
	return p.Record(p, &FeeAccrued{PoolID: p.ID, BaseAmount: baseAmount, QuoteAmount: quoteAmount, At: time.Now()})
}

// SetFeeRate 调整手续费率（治理参数变更）。费率不变时为幂等空操作。
func (p *LiquidityPool) SetFeeRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return errs.Validation("fee rate must not be negative, got %s", rate)
	}
	if rate.Equal(p.FeeRate) {
		return nil
	}
	return p.Record(p, &FeeRateChanged{PoolID: p.ID, NewRate: rate, At: time.Now()})
}

// Activate 启用资金池。已启用时为幂等空操作。
func (p *LiquidityPool) Activate() error {
	if p.IsActive {
		return nil
	}
	return p.Record(p, &PoolActivated{PoolID: p.ID, At: time.Now()})
}

// Deactivate 停用资金池。已停用时为幂等空操作。
func (p *LiquidityPool) Deactivate() error {
	if !p.IsActive {
		return nil
	}
	return p.Record(p, &PoolDeactivated{PoolID: p.ID, At: time.Now()})
}

// Apply 按事件类型查表推进状态。
func (p *LiquidityPool) Apply(event eventsourcing.DomainEvent) error {
	switch e := event.(type) {
	case *PoolCreated:
		p.ID = e.PoolID
		p.BaseAsset = e.BaseAsset
		p.QuoteAsset = e.QuoteAsset
		p.FeeRate = e.FeeRate
		p.IsActive = true
	case *LiquidityAdded:
		p.BaseReserve = p.BaseReserve.Add(e.BaseAmount)
		p.QuoteReserve = p.QuoteReserve.Add(e.QuoteAmount)
		p.TotalShares = p.TotalShares.Add(e.SharesMinted)
		p.Holdings[e.Provider] = p.Holdings[e.Provider].Add(e.SharesMinted)
	case *LiquidityRemoved:
		p.BaseReserve = p.BaseReserve.Sub(e.BaseAmount)
		p.QuoteReserve = p.QuoteReserve.Sub(e.QuoteAmount)
		p.TotalShares = p.TotalShares.Sub(e.SharesBurned)
		remaining := p.Holdings[e.Provider].Sub(e.SharesBurned)
		if remaining.IsZero() {
			delete(p.Holdings, e.Provider)
		} else {
			p.Holdings[e.Provider] = remaining
		}
	case *PoolRebalanced:
		p.BaseReserve = e.NewBaseReserve
		p.QuoteReserve = e.NewQuoteReserve
	case *PoolActivated:
		p.IsActive = true
	case *PoolDeactivated:
		p.IsActive = false
	case *FeeAccrued:
		p.BaseReserve = p.BaseReserve.Add(e.BaseAmount)
		p.QuoteReserve = p.QuoteReserve.Add(e.QuoteAmount)
	case *FeeRateChanged:
		p.FeeRate = e.NewRate
	default:
		return fmt.Errorf("liquidity pool: unexpected event %T", event)
	}
	return nil
}

type poolSnapshot struct {
	BaseAsset    string                     `json:"base_asset"`
	QuoteAsset   string                     `json:"quote_asset"`
	BaseReserve  decimal.Decimal            `json:"base_reserve"`
	QuoteReserve decimal.Decimal            `json:"quote_reserve"`
	TotalShares  decimal.Decimal            `json:"total_shares"`
	FeeRate      decimal.Decimal            `json:"fee_rate"`
	Holdings     map[string]decimal.Decimal `json:"holdings"`
	IsActive     bool                       `json:"is_active"`
}

// SnapshotState 序列化物化状态。
func (p *LiquidityPool) SnapshotState() ([]byte, error) {
	return json.Marshal(poolSnapshot{
		BaseAsset:    p.BaseAsset,
		QuoteAsset:   p.QuoteAsset,
		BaseReserve:  p.BaseReserve,
		QuoteReserve: p.QuoteReserve,
		TotalShares:  p.TotalShares,
		FeeRate:      p.FeeRate,
		Holdings:     p.Holdings,
		IsActive:     p.IsActive,
	})
}

// RestoreSnapshot 从物化状态恢复。
func (p *LiquidityPool) RestoreSnapshot(version int64, state []byte) error {
	var snap poolSnapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return err
	}
	p.BaseAsset = snap.BaseAsset
	p.QuoteAsset = snap.QuoteAsset
	p.BaseReserve = snap.BaseReserve
	p.QuoteReserve = snap.QuoteReserve
	p.TotalShares = snap.TotalShares
	p.FeeRate = snap.FeeRate
	p.Holdings = snap.Holdings
	if p.Holdings == nil {
		p.Holdings = make(map[string]decimal.Decimal)
	}
	p.IsActive = snap.IsActive
	p.Ver = version
	return nil
}

var (
	_ eventsourcing.Aggregate   = (*LiquidityPool)(nil)
	_ eventsourcing.Snapshotter = (*LiquidityPool)(nil)
)
