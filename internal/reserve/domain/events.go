package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

const (
	EventReserveCreated     = "reserve.created"
	EventReserveFunded      = "reserve.funded"
	EventReserveDrawn       = "reserve.drawn"
	EventTargetRatioChanged = "reserve.target_ratio_changed"
	EventShortfallCovered   = "reserve.shortfall_covered"
	EventCoverRefunded      = "reserve.cover_refunded"
)

// ReserveCreated 储备金池建立。
type ReserveCreated struct {
	eventsourcing.BaseEvent
	ReserveID   string          `json:"reserve_id"`
	Asset       string          `json:"asset"`
	TargetRatio decimal.Decimal `json:"target_ratio"`
	At          time.Time       `json:"at"`
}

func (e *ReserveCreated) EventType() string     { return EventReserveCreated }
func (e *ReserveCreated) AggregateID() string   { return e.ReserveID }
func (e *ReserveCreated) OccurredAt() time.Time { return e.At }

// ReserveFunded 注资入池。
type ReserveFunded struct {
	eventsourcing.BaseEvent
	ReserveID string          `json:"reserve_id"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
}

func (e *ReserveFunded) EventType() string     { return EventReserveFunded }
func (e *ReserveFunded) AggregateID() string   { return e.ReserveID }
func (e *ReserveFunded) OccurredAt() time.Time { return e.At }

// ReserveDrawn 一般性支取。
type ReserveDrawn struct {
	eventsourcing.BaseEvent
	ReserveID string          `json:"reserve_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	At        time.Time       `json:"at"`
}

func (e *ReserveDrawn) EventType() string     { return EventReserveDrawn }
func (e *ReserveDrawn) AggregateID() string   { return e.ReserveID }
func (e *ReserveDrawn) OccurredAt() time.Time { return e.At }

// TargetRatioChanged 目标覆盖率调整。
type TargetRatioChanged struct {
	eventsourcing.BaseEvent
	ReserveID string          `json:"reserve_id"`
	NewRatio  decimal.Decimal `json:"new_ratio"`
	At        time.Time       `json:"at"`
}

func (e *TargetRatioChanged) EventType() string     { return EventTargetRatioChanged }
func (e *TargetRatioChanged) AggregateID() string   { return e.ReserveID }
func (e *TargetRatioChanged) OccurredAt() time.Time { return e.At }

// ShortfallCovered 为一次清算坏账兜底。Reference 指向被清算头寸。
type ShortfallCovered struct {
	eventsourcing.BaseEvent
	ReserveID string          `json:"reserve_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"at"`
}

func (e *ShortfallCovered) EventType() string     { return EventShortfallCovered }
func (e *ShortfallCovered) AggregateID() string   { return e.ReserveID }
func (e *ShortfallCovered) OccurredAt() time.Time { return e.At }

// CoverRefunded 兜底回冲（清算补偿路径）。
type CoverRefunded struct {
	eventsourcing.BaseEvent
	ReserveID string          `json:"reserve_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"at"`
}

func (e *CoverRefunded) EventType() string     { return EventCoverRefunded }
func (e *CoverRefunded) AggregateID() string   { return e.ReserveID }
func (e *CoverRefunded) OccurredAt() time.Time { return e.At }

// EventRegistry 返回本聚合的事件注册表。
func EventRegistry() *eventsourcing.EventRegistry {
	return eventsourcing.NewEventRegistry().
		Register(EventReserveCreated, func() eventsourcing.DomainEvent { return &ReserveCreated{} }).
		Register(EventReserveFunded, func() eventsourcing.DomainEvent { return &ReserveFunded{} }).
		Register(EventReserveDrawn, func() eventsourcing.DomainEvent { return &ReserveDrawn{} }).
		Register(EventTargetRatioChanged, func() eventsourcing.DomainEvent { return &TargetRatioChanged{} }).
		Register(EventShortfallCovered, func() eventsourcing.DomainEvent { return &ShortfallCovered{} }).
		Register(EventCoverRefunded, func() eventsourcing.DomainEvent { return &CoverRefunded{} })
}
