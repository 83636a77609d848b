// Package domain 定义账本边界契约：资金划转、锁定/解锁/锁定执行。
// 核心所有改变余额的动作都必须先持有资金锁，锁是并发 saga 之间唯一的互斥手段。
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrLockNotFound        = errors.New("lock not found")
	ErrLockNotActive       = errors.New("lock is not active")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// LockStatus 资金锁状态。
type LockStatus string

const (
	// LockStatusActive 锁定中，余额被预留。
	LockStatusActive LockStatus = "ACTIVE"
	// LockStatusReleased 已释放（补偿路径）。
	LockStatusReleased LockStatus = "RELEASED"
	// LockStatusExecuted 已执行，锁原子转化为一笔划转。
	LockStatusExecuted LockStatus = "EXECUTED"
)

// Lock 资金锁（预留）。一把锁最多被一个在飞 saga 步骤引用，
// 且必须被 Unlock 或 ExecuteLock 恰好消费一次。
type Lock struct {
	LockID    string
	AccountID string
	Asset     string
	Amount    decimal.Decimal
	Reason    string
	Status    LockStatus
	CreatedAt time.Time
}

// Account 账本内的单资产账户。Available = Balance - Locked。
type Account struct {
	AccountID string
	Asset     string
	Balance   decimal.Decimal
	Locked    decimal.Decimal
}

// Available 可用余额。
func (a *Account) Available() decimal.Decimal {
	return a.Balance.Sub(a.Locked)
}

// Service 账本服务契约。实现必须保证：
//   - Lock 的余额检查与预留是原子的，不足返回 ErrInsufficientBalance；
//   - Transfer / ExecuteLock 的借贷两侧在同一事务内完成；
//   - 所有金额为任意精度十进制，不做浮点运算。
type Service interface {
	Transfer(ctx context.Context, fromAccount, toAccount, asset string, amount decimal.Decimal, reference string) (txID string, err error)
	Lock(ctx context.Context, accountID, asset string, amount decimal.Decimal, reason string) (lockID string, err error)
	Unlock(ctx context.Context, lockID string) (bool, error)
	ExecuteLock(ctx context.Context, lockID, destinationAccount string) (txID string, err error)
}

// Transaction 划转流水。
type Transaction struct {
	TxID        string
	FromAccount string
	ToAccount   string
	Asset       string
	Amount      decimal.Decimal
	Reference   string
	CreatedAt   time.Time
}
