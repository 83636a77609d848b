// Package memory 提供账本服务的进程内实现，用于测试与本地运行。
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
)

type accountKey struct {
	accountID string
	asset     string
}

// Ledger 内存账本。所有操作持同一把锁，检查与变更天然原子。
type Ledger struct {
	mu       sync.Mutex
	accounts map[accountKey]*domain.Account
	locks    map[string]*domain.Lock
	txs      []domain.Transaction
}

// NewLedger 创建空账本。
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[accountKey]*domain.Account),
		locks:    make(map[string]*domain.Lock),
	}
}

// Deposit 直接入账，测试构造初始余额用。
func (l *Ledger) Deposit(accountID, asset string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.getOrCreate(accountID, asset)
	acc.Balance = acc.Balance.Add(amount)
}

// BalanceOf 返回账户余额（含锁定部分）。
func (l *Ledger) BalanceOf(accountID, asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[accountKey{accountID, asset}]; ok {
		return acc.Balance
	}
	return decimal.Zero
}

// LockOf 返回锁详情，测试断言用。
func (l *Ledger) LockOf(lockID string) (domain.Lock, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lock, ok := l.locks[lockID]; ok {
		return *lock, true
	}
	return domain.Lock{}, false
}

func (l *Ledger) getOrCreate(accountID, asset string) *domain.Account {
	key := accountKey{accountID, asset}
	acc, ok := l.accounts[key]
	if !ok {
		acc = &domain.Account{
			AccountID: accountID,
			Asset:     asset,
			Balance:   decimal.Zero,
			Locked:    decimal.Zero,
		}
		l.accounts[key] = acc
	}
	return acc
}

func (l *Ledger) Transfer(ctx context.Context, fromAccount, toAccount, asset string, amount decimal.Decimal, reference string) (string, error) {
	if !amount.IsPositive() {
		return "", errs.Mark(domain.ErrInvalidAmount, errs.KindValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.getOrCreate(fromAccount, asset)
	if from.Available().LessThan(amount) {
		return "", errs.Mark(domain.ErrInsufficientBalance, errs.KindBusiness)
	}
	to := l.getOrCreate(toAccount, asset)
	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)

	txID := fmt.Sprintf("TX-%s", uuid.NewString())
	l.txs = append(l.txs, domain.Transaction{
		TxID:        txID,
		FromAccount: fromAccount,
		ToAccount:   toAccount,
		Asset:       asset,
		Amount:      amount,
		Reference:   reference,
		CreatedAt:   time.Now(),
	})
	return txID, nil
}

func (l *Ledger) Lock(ctx context.Context, accountID, asset string, amount decimal.Decimal, reason string) (string, error) {
	if !amount.IsPositive() {
		return "", errs.Mark(domain.ErrInvalidAmount, errs.KindValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getOrCreate(accountID, asset)
	if acc.Available().LessThan(amount) {
		return "", errs.Mark(domain.ErrInsufficientBalance, errs.KindBusiness)
	}
	acc.Locked = acc.Locked.Add(amount)

	lockID := fmt.Sprintf("LOCK-%s", uuid.NewString())
	l.locks[lockID] = &domain.Lock{
		LockID:    lockID,
		AccountID: accountID,
		Asset:     asset,
		Amount:    amount,
		Reason:    reason,
		Status:    domain.LockStatusActive,
		CreatedAt: time.Now(),
	}
	return lockID, nil
}

func (l *Ledger) Unlock(ctx context.Context, lockID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[lockID]
	if !ok {
		return false, errs.Mark(domain.ErrLockNotFound, errs.KindValidation)
	}
	if lock.Status != domain.LockStatusActive {
		// 重复解锁按幂等处理：已释放返回成功，已执行才是错误。
		if lock.Status == domain.LockStatusReleased {
			return true, nil
		}
		return false, errs.Mark(domain.ErrLockNotActive, errs.KindBusiness)
	}

	acc := l.getOrCreate(lock.AccountID, lock.Asset)
	acc.Locked = acc.Locked.Sub(lock.Amount)
	lock.Status = domain.LockStatusReleased
	return true, nil
}

func (l *Ledger) ExecuteLock(ctx context.Context, lockID, destinationAccount string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[lockID]
	if !ok {
		return "", errs.Mark(domain.ErrLockNotFound, errs.KindValidation)
	}
	if lock.Status != domain.LockStatusActive {
		return "", errs.Mark(domain.ErrLockNotActive, errs.KindBusiness)
	}

	from := l.getOrCreate(lock.AccountID, lock.Asset)
	to := l.getOrCreate(destinationAccount, lock.Asset)
	from.Balance = from.Balance.Sub(lock.Amount)
	from.Locked = from.Locked.Sub(lock.Amount)
	to.Balance = to.Balance.Add(lock.Amount)
	lock.Status = domain.LockStatusExecuted

	txID := fmt.Sprintf("TX-%s", uuid.NewString())
	l.txs = append(l.txs, domain.Transaction{
		TxID:        txID,
		FromAccount: lock.AccountID,
		ToAccount:   destinationAccount,
		Asset:       lock.Asset,
		Amount:      lock.Amount,
		Reference:   fmt.Sprintf("execute-lock:%s", lockID),
		CreatedAt:   time.Now(),
	})
	return txID, nil
}

var _ domain.Service = (*Ledger)(nil)
