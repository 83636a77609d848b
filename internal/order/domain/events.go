package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

const (
	EventOrderPlaced    = "order.placed"
	EventOrderMatched   = "order.matched"
	EventOrderCancelled = "order.cancelled"
)

// OrderPlaced 订单提交。
type OrderPlaced struct {
	eventsourcing.BaseEvent
	OrderID   string          `json:"order_id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"at"`
}

func (e *OrderPlaced) EventType() string     { return EventOrderPlaced }
func (e *OrderPlaced) AggregateID() string   { return e.OrderID }
func (e *OrderPlaced) OccurredAt() time.Time { return e.At }

// OrderMatched 一笔成交。Amount 为本笔成交量，Price 为实际成交价。
type OrderMatched struct {
	eventsourcing.BaseEvent
	OrderID        string          `json:"order_id"`
	TradeID        string          `json:"trade_id"`
	CounterOrderID string          `json:"counter_order_id"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	At             time.Time       `json:"at"`
}

func (e *OrderMatched) EventType() string     { return EventOrderMatched }
func (e *OrderMatched) AggregateID() string   { return e.OrderID }
func (e *OrderMatched) OccurredAt() time.Time { return e.At }

// OrderCancelled 订单撤销。
type OrderCancelled struct {
	eventsourcing.BaseEvent
	OrderID string    `json:"order_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

func (e *OrderCancelled) EventType() string     { return EventOrderCancelled }
func (e *OrderCancelled) AggregateID() string   { return e.OrderID }
func (e *OrderCancelled) OccurredAt() time.Time { return e.At }

// EventRegistry 返回本聚合的事件注册表。
func EventRegistry() *eventsourcing.EventRegistry {
	return eventsourcing.NewEventRegistry().
		Register(EventOrderPlaced, func() eventsourcing.DomainEvent { return &OrderPlaced{} }).
		Register(EventOrderMatched, func() eventsourcing.DomainEvent { return &OrderMatched{} }).
		Register(EventOrderCancelled, func() eventsourcing.DomainEvent { return &OrderCancelled{} })
}
