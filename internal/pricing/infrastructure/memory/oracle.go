// Package memory 提供进程内价格表，用于测试与本地运行。
package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/pricing/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
)

type pairKey struct {
	asset    string
	currency string
}

// Oracle 内存价格表。
type Oracle struct {
	mu     sync.RWMutex
	prices map[pairKey]decimal.Decimal
}

// NewOracle 创建空价格表。
func NewOracle() *Oracle {
	return &Oracle{prices: make(map[pairKey]decimal.Decimal)}
}

// SetPrice 写入一条报价。
func (o *Oracle) SetPrice(asset, currency string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[pairKey{asset, currency}] = price
}

// GetPrice 查询报价，未知币对返回 ErrRateUnavailable。
func (o *Oracle) GetPrice(ctx context.Context, asset, currency string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[pairKey{asset, currency}]
	if !ok {
		return decimal.Zero, errs.Mark(domain.ErrRateUnavailable, errs.KindUnavailable)
	}
	return price, nil
}

var _ domain.Oracle = (*Oracle)(nil)
