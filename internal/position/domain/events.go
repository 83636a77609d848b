package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

// 事件类型常量。事件通过显式注册表反序列化，不做反射派发。
const (
	EventPositionOpened       = "position.opened"
	EventCollateralAdded      = "position.collateral_added"
	EventCollateralWithdrawn  = "position.collateral_withdrawn"
	EventDebtIncreased        = "position.debt_increased"
	EventDebtRepaid           = "position.debt_repaid"
	EventMarginCallIssued     = "position.margin_call_issued"
	EventMarginCallLifted     = "position.margin_call_lifted"
	EventLiquidationStarted   = "position.liquidation_started"
	EventLiquidationCompleted = "position.liquidation_completed"
	EventPositionClosed       = "position.closed"
)

// PositionOpened 头寸开立。
type PositionOpened struct {
	eventsourcing.BaseEvent
	PositionID       string          `json:"position_id"`
	OwnerID          string          `json:"owner_id"`
	MarginCallRatio  decimal.Decimal `json:"margin_call_ratio"`
	LiquidationRatio decimal.Decimal `json:"liquidation_ratio"`
	At               time.Time       `json:"at"`
}

func (e *PositionOpened) EventType() string     { return EventPositionOpened }
func (e *PositionOpened) AggregateID() string   { return e.PositionID }
func (e *PositionOpened) OccurredAt() time.Time { return e.At }

// CollateralAdded 追加抵押物。
type CollateralAdded struct {
	eventsourcing.BaseEvent
	PositionID string                     `json:"position_id"`
	Amounts    map[string]decimal.Decimal `json:"amounts"`
	At         time.Time                  `json:"at"`
}

func (e *CollateralAdded) EventType() string     { return EventCollateralAdded }
func (e *CollateralAdded) AggregateID() string   { return e.PositionID }
func (e *CollateralAdded) OccurredAt() time.Time { return e.At }

// CollateralWithdrawn 提取抵押物。
type CollateralWithdrawn struct {
	eventsourcing.BaseEvent
	PositionID string                     `json:"position_id"`
	Amounts    map[string]decimal.Decimal `json:"amounts"`
	At         time.Time                  `json:"at"`
}

func (e *CollateralWithdrawn) EventType() string     { return EventCollateralWithdrawn }
func (e *CollateralWithdrawn) AggregateID() string   { return e.PositionID }
func (e *CollateralWithdrawn) OccurredAt() time.Time { return e.At }

// DebtIncreased 借入，债务增加。
type DebtIncreased struct {
	eventsourcing.BaseEvent
	PositionID string          `json:"position_id"`
	Amount     decimal.Decimal `json:"amount"`
	At         time.Time       `json:"at"`
}

func (e *DebtIncreased) EventType() string     { return EventDebtIncreased }
func (e *DebtIncreased) AggregateID() string   { return e.PositionID }
func (e *DebtIncreased) OccurredAt() time.Time { return e.At }

// DebtRepaid 偿还，债务减少。
type DebtRepaid struct {
	eventsourcing.BaseEvent
	PositionID string          `json:"position_id"`
	Amount     decimal.Decimal `json:"amount"`
	At         time.Time       `json:"at"`
}

func (e *DebtRepaid) EventType() string     { return EventDebtRepaid }
func (e *DebtRepaid) AggregateID() string   { return e.PositionID }
func (e *DebtRepaid) OccurredAt() time.Time { return e.At }

// MarginCallIssued 健康度跌破追保线，进入追保状态。
type MarginCallIssued struct {
	eventsourcing.BaseEvent
	PositionID string          `json:"position_id"`
	Ratio      decimal.Decimal `json:"ratio"`
	At         time.Time       `json:"at"`
}

func (e *MarginCallIssued) EventType() string     { return EventMarginCallIssued }
func (e *MarginCallIssued) AggregateID() string   { return e.PositionID }
func (e *MarginCallIssued) OccurredAt() time.Time { return e.At }

// MarginCallLifted 健康度回到追保线之上，恢复正常状态。
type MarginCallLifted struct {
	eventsourcing.BaseEvent
	PositionID string          `json:"position_id"`
	Ratio      decimal.Decimal `json:"ratio"`
	At         time.Time       `json:"at"`
}

func (e *MarginCallLifted) EventType() string     { return EventMarginCallLifted }
func (e *MarginCallLifted) AggregateID() string   { return e.PositionID }
func (e *MarginCallLifted) OccurredAt() time.Time { return e.At }

// LiquidationStarted 健康度跌破清算线，头寸进入清算。
type LiquidationStarted struct {
	eventsourcing.BaseEvent
	PositionID string          `json:"position_id"`
	Ratio      decimal.Decimal `json:"ratio"`
	At         time.Time       `json:"at"`
}

func (e *LiquidationStarted) EventType() string     { return EventLiquidationStarted }
func (e *LiquidationStarted) AggregateID() string   { return e.PositionID }
func (e *LiquidationStarted) OccurredAt() time.Time { return e.At }

// LiquidationCompleted 清算完成，抵押物全部处置，债务更新为剩余值。
type LiquidationCompleted struct {
	eventsourcing.BaseEvent
	PositionID       string          `json:"position_id"`
	LiquidatedAmount decimal.Decimal `json:"liquidated_amount"`
	RemainingDebt    decimal.Decimal `json:"remaining_debt"`
	At               time.Time       `json:"at"`
}

func (e *LiquidationCompleted) EventType() string     { return EventLiquidationCompleted }
func (e *LiquidationCompleted) AggregateID() string   { return e.PositionID }
func (e *LiquidationCompleted) OccurredAt() time.Time { return e.At }

// PositionClosed 头寸关闭。
type PositionClosed struct {
	eventsourcing.BaseEvent
	PositionID string    `json:"position_id"`
	At         time.Time `json:"at"`
}

func (e *PositionClosed) EventType() string     { return EventPositionClosed }
func (e *PositionClosed) AggregateID() string   { return e.PositionID }
func (e *PositionClosed) OccurredAt() time.Time { return e.At }

// EventRegistry 返回本聚合的事件注册表，供事件存储反序列化。
func EventRegistry() *eventsourcing.EventRegistry {
	return eventsourcing.NewEventRegistry().
		Register(EventPositionOpened, func() eventsourcing.DomainEvent { return &PositionOpened{} }).
		Register(EventCollateralAdded, func() eventsourcing.DomainEvent { return &CollateralAdded{} }).
		Register(EventCollateralWithdrawn, func() eventsourcing.DomainEvent { return &CollateralWithdrawn{} }).
		Register(EventDebtIncreased, func() eventsourcing.DomainEvent { return &DebtIncreased{} }).
		Register(EventDebtRepaid, func() eventsourcing.DomainEvent { return &DebtRepaid{} }).
		Register(EventMarginCallIssued, func() eventsourcing.DomainEvent { return &MarginCallIssued{} }).
		Register(EventMarginCallLifted, func() eventsourcing.DomainEvent { return &MarginCallLifted{} }).
		Register(EventLiquidationStarted, func() eventsourcing.DomainEvent { return &LiquidationStarted{} }).
		Register(EventLiquidationCompleted, func() eventsourcing.DomainEvent { return &LiquidationCompleted{} }).
		Register(EventPositionClosed, func() eventsourcing.DomainEvent { return &PositionClosed{} })
}
