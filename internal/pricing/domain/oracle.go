// Package domain 定义价格预言机边界契约。
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable 价格源无法给出报价。调用方不得回退到陈旧价格做清算判定。
var ErrRateUnavailable = errors.New("price rate unavailable")

// Quote 一次报价。
type Quote struct {
	Asset     string          `json:"asset"`
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Oracle 价格预言机契约。实现必须在无法报价时返回 ErrRateUnavailable，
// 而不是返回零值或上一次的价格。
type Oracle interface {
	GetPrice(ctx context.Context, asset, currency string) (decimal.Decimal, error)
}
