// Package domain 实现订单聚合与内存订单簿。
// 订单状态机：open → partially_filled → filled，或 open/partially_filled → cancelled；
// 剩余量永不为负，filled 与 cancelled 为终态。
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
	ErrOrderClosed = errors.New("order is in a terminal status")
	ErrOverfill    = errors.New("match amount exceeds remaining")
)

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回对手方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status 订单状态。
type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
)

// Order 限价单聚合根。
type Order struct {
	eventsourcing.AggregateBase

	AccountID string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Status    Status
}

// NewOrder 创建零值聚合，供仓储重放历史。
func NewOrder(orderID string) *Order {
	o := &Order{}
	o.ID = orderID
	return o
}

// PlaceOrder 提交限价单。
func PlaceOrder(orderID, accountID, symbol string, side Side, price, amount decimal.Decimal) (*Order, error) {
	if side != SideBuy && side != SideSell {
		return nil, errs.Validation("side must be buy or sell, got %q", string(side))
	}
	if !price.IsPositive() {
		return nil, errs.Validation("price must be positive, got %s", price)
	}
	if !amount.IsPositive() {
		return nil, errs.Validation("amount must be positive, got %s", amount)
	}

	o := NewOrder(orderID)
	err := o.Record(o, &OrderPlaced{
		OrderID:   orderID,
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		At:        time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Match 记录一笔成交。终态订单拒绝，超量成交拒绝。
func (o *Order) Match(tradeID, counterOrderID string, price, amount decimal.Decimal) error {
	if o.Status == StatusFilled || o.Status == StatusCancelled {
		return errs.Mark(fmt.Errorf("%w: %s is %s", ErrOrderClosed, o.ID, o.Status), errs.KindBusiness)
	}
	if !amount.IsPositive() {
		return errs.Validation("match amount must be positive, got %s", amount)
	}
	if amount.GreaterThan(o.Remaining) {
		return errs.Mark(
			fmt.Errorf("%w: matching %s with %s remaining", ErrOverfill, amount, o.Remaining),
			errs.KindBusiness)
	}
	return o.Record(o, &OrderMatched{
		OrderID:        o.ID,
		TradeID:        tradeID,
		CounterOrderID: counterOrderID,
		Price:          price,
		Amount:         amount,
		At:             time.Now(),
	})
}

// Cancel 撤销订单。终态订单拒绝。
func (o *Order) Cancel(reason string) error {
	if o.Status == StatusFilled || o.Status == StatusCancelled {
		return errs.Mark(fmt.Errorf("%w: %s is %s", ErrOrderClosed, o.ID, o.Status), errs.KindBusiness)
	}
	return o.Record(o, &OrderCancelled{OrderID: o.ID, Reason: reason, At: time.Now()})
}

// Filled 已成交量。
func (o *Order) Filled() decimal.Decimal {
	return o.Amount.Sub(o.Remaining)
}

// Apply 按事件类型查表推进状态。
func (o *Order) Apply(event eventsourcing.DomainEvent) error {
	switch e := event.(type) {
	case *OrderPlaced:
		o.ID = e.OrderID
		o.AccountID = e.AccountID
		o.Symbol = e.Symbol
		o.Side = e.Side
		o.Price = e.Price
		o.Amount = e.Amount
		o.Remaining = e.Amount
		o.Status = StatusOpen
	case *OrderMatched:
		o.Remaining = o.Remaining.Sub(e.Amount)
		if o.Remaining.IsZero() {
			o.Status = StatusFilled
		} else {
			o.Status = StatusPartiallyFilled
		}
	case *OrderCancelled:
		o.Status = StatusCancelled
	default:
		return fmt.Errorf("order: unexpected event %T", event)
	}
	return nil
}

type orderSnapshot struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    Status          `json:"status"`
}

// SnapshotState 序列化物化状态。
func (o *Order) SnapshotState() ([]byte, error) {
	return json.Marshal(orderSnapshot{
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Price:     o.Price,
		Amount:    o.Amount,
		Remaining: o.Remaining,
		Status:    o.Status,
	})
}

// RestoreSnapshot 从物化状态恢复。
func (o *Order) RestoreSnapshot(version int64, state []byte) error {
	var snap orderSnapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return err
	}
	o.AccountID = snap.AccountID
	o.Symbol = snap.Symbol
	o.Side = snap.Side
	o.Price = snap.Price
	o.Amount = snap.Amount
	o.Remaining = snap.Remaining
	o.Status = snap.Status
	o.Ver = version
	return nil
}

var (
	_ eventsourcing.Aggregate   = (*Order)(nil)
	_ eventsourcing.Snapshotter = (*Order)(nil)
)
