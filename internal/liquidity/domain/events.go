package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

const (
	EventPoolCreated      = "pool.created"
	EventLiquidityAdded   = "pool.liquidity_added"
	EventLiquidityRemoved = "pool.liquidity_removed"
	EventPoolRebalanced   = "pool.rebalanced"
	EventPoolActivated    = "pool.activated"
	EventPoolDeactivated  = "pool.deactivated"
	EventFeeAccrued       = "pool.fee_accrued"
	EventFeeRateChanged   = "pool.fee_rate_changed"
)

// PoolCreated 资金池创建。
type PoolCreated struct {
	eventsourcing.BaseEvent
	PoolID     string          `json:"pool_id"`
	BaseAsset  string          `json:"base_asset"`
	QuoteAsset string          `json:"quote_asset"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
	At         time.Time       `json:"at"`
}

func (e *PoolCreated) EventType() string     { return EventPoolCreated }
func (e *PoolCreated) AggregateID() string   { return e.PoolID }
func (e *PoolCreated) OccurredAt() time.Time { return e.At }

// LiquidityAdded 注入流动性并按比例铸造份额。
type LiquidityAdded struct {
	eventsourcing.BaseEvent
	PoolID       string          `json:"pool_id"`
	Provider     string          `json:"provider"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	QuoteAmount  decimal.Decimal `json:"quote_amount"`
	SharesMinted decimal.Decimal `json:"shares_minted"`
	At           time.Time       `json:"at"`
}

func (e *LiquidityAdded) EventType() string     { return EventLiquidityAdded }
func (e *LiquidityAdded) AggregateID() string   { return e.PoolID }
func (e *LiquidityAdded) OccurredAt() time.Time { return e.At }

// LiquidityRemoved 销毁份额并按比例退出流动性。
type LiquidityRemoved struct {
	eventsourcing.BaseEvent
	PoolID       string          `json:"pool_id"`
	Provider     string          `json:"provider"`
	SharesBurned decimal.Decimal `json:"shares_burned"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	QuoteAmount  decimal.Decimal `json:"quote_amount"`
	At           time.Time       `json:"at"`
}

func (e *LiquidityRemoved) EventType() string     { return EventLiquidityRemoved }
func (e *LiquidityRemoved) AggregateID() string   { return e.PoolID }
func (e *LiquidityRemoved) OccurredAt() time.Time { return e.At }

// PoolRebalanced 储备调整到新比例，总价值保持不变。
type PoolRebalanced struct {
	eventsourcing.BaseEvent
	PoolID          string          `json:"pool_id"`
	NewBaseReserve  decimal.Decimal `json:"new_base_reserve"`
	NewQuoteReserve decimal.Decimal `json:"new_quote_reserve"`
	At              time.Time       `json:"at"`
}

func (e *PoolRebalanced) EventType() string     { return EventPoolRebalanced }
func (e *PoolRebalanced) AggregateID() string   { return e.PoolID }
func (e *PoolRebalanced) OccurredAt() time.Time { return e.At }

// PoolActivated 资金池启用。
type PoolActivated struct {
	eventsourcing.BaseEvent
	PoolID string    `json:"pool_id"`
	At     time.Time `json:"at"`
}

func (e *PoolActivated) EventType() string     { return EventPoolActivated }
func (e *PoolActivated) AggregateID() string   { return e.PoolID }
func (e *PoolActivated) OccurredAt() time.Time { return e.At }

// PoolDeactivated 资金池停用，拒绝新的流动性操作。
type PoolDeactivated struct {
	eventsourcing.BaseEvent
	PoolID string    `json:"pool_id"`
	At     time.Time `json:"at"`
}

func (e *PoolDeactivated) EventType() string     { return EventPoolDeactivated }
func (e *PoolDeactivated) AggregateID() string   { return e.PoolID }
func (e *PoolDeactivated) OccurredAt() time.Time { return e.At }

// FeeAccrued 手续费滚入储备。
type FeeAccrued struct {
	eventsourcing.BaseEvent
	PoolID      string          `json:"pool_id"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	At          time.Time       `json:"at"`
}

func (e *FeeAccrued) EventType() string     { return EventFeeAccrued }
func (e *FeeAccrued) AggregateID() string   { return e.PoolID }
func (e *FeeAccrued) OccurredAt() time.Time { return e.At }

// FeeRateChanged 手续费率调整（治理参数变更）。
type FeeRateChanged struct {
	eventsourcing.BaseEvent
	PoolID  string          `json:"pool_id"`
	NewRate decimal.Decimal `json:"new_rate"`
	At      time.Time       `json:"at"`
}

func (e *FeeRateChanged) EventType() string     { return EventFeeRateChanged }
func (e *FeeRateChanged) AggregateID() string   { return e.PoolID }
func (e *FeeRateChanged) OccurredAt() time.Time { return e.At }

// EventRegistry 返回本聚合的事件注册表。
func EventRegistry() *eventsourcing.EventRegistry {
	return eventsourcing.NewEventRegistry().
		Register(EventPoolCreated, func() eventsourcing.DomainEvent { return &PoolCreated{} }).
		Register(EventLiquidityAdded, func() eventsourcing.DomainEvent { return &LiquidityAdded{} }).
		Register(EventLiquidityRemoved, func() eventsourcing.DomainEvent { return &LiquidityRemoved{} }).
		Register(EventPoolRebalanced, func() eventsourcing.DomainEvent { return &PoolRebalanced{} }).
		Register(EventPoolActivated, func() eventsourcing.DomainEvent { return &PoolActivated{} }).
		Register(EventPoolDeactivated, func() eventsourcing.DomainEvent { return &PoolDeactivated{} }).
		Register(EventFeeAccrued, func() eventsourcing.DomainEvent { return &FeeAccrued{} }).
		Register(EventFeeRateChanged, func() eventsourcing.DomainEvent { return &FeeRateChanged{} })
}
