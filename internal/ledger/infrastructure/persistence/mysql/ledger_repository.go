// Package mysql 提供账本服务的 GORM 实现。
// 余额检查与资金锁定通过行级锁（SELECT ... FOR UPDATE）保证原子。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/ledgercore/internal/ledger/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
)

// AccountPO 账户持久化对象。
type AccountPO struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	AccountID string          `gorm:"column:account_id;type:varchar(64);uniqueIndex:uk_account_asset,priority:1;not null"`
	Asset     string          `gorm:"column:asset;type:varchar(16);uniqueIndex:uk_account_asset,priority:2;not null"`
	Balance   decimal.Decimal `gorm:"column:balance;type:decimal(36,18);not null"`
	Locked    decimal.Decimal `gorm:"column:locked;type:decimal(36,18);not null"`
	UpdatedAt time.Time
}

func (AccountPO) TableName() string { return "ledger_accounts" }

// LockPO 资金锁持久化对象。
type LockPO struct {
	LockID    string          `gorm:"column:lock_id;type:varchar(64);primaryKey"`
	AccountID string          `gorm:"column:account_id;type:varchar(64);index;not null"`
	Asset     string          `gorm:"column:asset;type:varchar(16);not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null"`
	Reason    string          `gorm:"column:reason;type:varchar(255)"`
	Status    string          `gorm:"column:status;type:varchar(16);index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LockPO) TableName() string { return "ledger_locks" }

// TransactionPO 划转流水持久化对象。
type TransactionPO struct {
	TxID        string          `gorm:"column:tx_id;type:varchar(64);primaryKey"`
	FromAccount string          `gorm:"column:from_account;type:varchar(64);index;not null"`
	ToAccount   string          `gorm:"column:to_account;type:varchar(64);index;not null"`
	Asset       string          `gorm:"column:asset;type:varchar(16);not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null"`
	Reference   string          `gorm:"column:reference;type:varchar(255)"`
	CreatedAt   time.Time
}

func (TransactionPO) TableName() string { return "ledger_transactions" }

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedger 创建基于 MySQL 的账本服务。
func NewLedger(db *gorm.DB) domain.Service {
	return &ledgerRepository{db: db}
}

// lockAccount 行级锁定账户行，不存在时创建零余额账户后再锁定。
func (r *ledgerRepository) lockAccount(tx *gorm.DB, accountID, asset string) (*AccountPO, error) {
	var acc AccountPO
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND asset = ?", accountID, asset).
		First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acc = AccountPO{AccountID: accountID, Asset: asset, Balance: decimal.Zero, Locked: decimal.Zero}
		if err := tx.Create(&acc).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ? AND asset = ?", accountID, asset).
			First(&acc).Error
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *ledgerRepository) Transfer(ctx context.Context, fromAccount, toAccount, asset string, amount decimal.Decimal, reference string) (string, error) {
	if !amount.IsPositive() {
		return "", errs.Mark(domain.ErrInvalidAmount, errs.KindValidation)
	}
	txID := fmt.Sprintf("TX-%s", uuid.NewString())
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		from, err := r.lockAccount(tx, fromAccount, asset)
		if err != nil {
			return err
		}
		if from.Balance.Sub(from.Locked).LessThan(amount) {
			return errs.Mark(domain.ErrInsufficientBalance, errs.KindBusiness)
		}
		to, err := r.lockAccount(tx, toAccount, asset)
		if err != nil {
			return err
		}

		if err := tx.Model(&AccountPO{}).Where("id = ?", from.ID).
			Update("balance", from.Balance.Sub(amount)).Error; err != nil {
			return err
		}
		if err := tx.Model(&AccountPO{}).Where("id = ?", to.ID).
			Update("balance", to.Balance.Add(amount)).Error; err != nil {
			return err
		}
		return tx.Create(&TransactionPO{
			TxID:        txID,
			FromAccount: fromAccount,
			ToAccount:   toAccount,
			Asset:       asset,
			Amount:      amount,
			Reference:   reference,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

func (r *ledgerRepository) Lock(ctx context.Context, accountID, asset string, amount decimal.Decimal, reason string) (string, error) {
	if !amount.IsPositive() {
		return "", errs.Mark(domain.ErrInvalidAmount, errs.KindValidation)
	}
	lockID := fmt.Sprintf("LOCK-%s", uuid.NewString())
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := r.lockAccount(tx, accountID, asset)
		if err != nil {
			return err
		}
		if acc.Balance.Sub(acc.Locked).LessThan(amount) {
			return errs.Mark(domain.ErrInsufficientBalance, errs.KindBusiness)
		}
		if err := tx.Model(&AccountPO{}).Where("id = ?", acc.ID).
			Update("locked", acc.Locked.Add(amount)).Error; err != nil {
			return err
		}
		return tx.Create(&LockPO{
			LockID:    lockID,
			AccountID: accountID,
			Asset:     asset,
			Amount:    amount,
			Reason:    reason,
			Status:    string(domain.LockStatusActive),
		}).Error
	})
	if err != nil {
		return "", err
	}
	return lockID, nil
}

func (r *ledgerRepository) Unlock(ctx context.Context, lockID string) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lock LockPO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lock_id = ?", lockID).First(&lock).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Mark(domain.ErrLockNotFound, errs.KindValidation)
		}
		if err != nil {
			return err
		}
		if lock.Status == string(domain.LockStatusReleased) {
			return nil // 幂等
		}
		if lock.Status != string(domain.LockStatusActive) {
			return errs.Mark(domain.ErrLockNotActive, errs.KindBusiness)
		}

		acc, err := r.lockAccount(tx, lock.AccountID, lock.Asset)
		if err != nil {
			return err
		}
		if err := tx.Model(&AccountPO{}).Where("id = ?", acc.ID).
			Update("locked", acc.Locked.Sub(lock.Amount)).Error; err != nil {
			return err
		}
		return tx.Model(&LockPO{}).Where("lock_id = ?", lockID).
			Update("status", string(domain.LockStatusReleased)).Error
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ledgerRepository) ExecuteLock(ctx context.Context, lockID, destinationAccount string) (string, error) {
	txID := fmt.Sprintf("TX-%s", uuid.NewString())
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lock LockPO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lock_id = ?", lockID).First(&lock).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Mark(domain.ErrLockNotFound, errs.KindValidation)
		}
		if err != nil {
			return err
		}
		if lock.Status != string(domain.LockStatusActive) {
			return errs.Mark(domain.ErrLockNotActive, errs.KindBusiness)
		}

		from, err := r.lockAccount(tx, lock.AccountID, lock.Asset)
		if err != nil {
			return err
		}
		to, err := r.lockAccount(tx, destinationAccount, lock.Asset)
		if err != nil {
			return err
		}

		if err := tx.Model(&AccountPO{}).Where("id = ?", from.ID).Updates(map[string]any{
			"balance": from.Balance.Sub(lock.Amount),
			"locked":  from.Locked.Sub(lock.Amount),
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&AccountPO{}).Where("id = ?", to.ID).
			Update("balance", to.Balance.Add(lock.Amount)).Error; err != nil {
			return err
		}
		if err := tx.Model(&LockPO{}).Where("lock_id = ?", lockID).
			Update("status", string(domain.LockStatusExecuted)).Error; err != nil {
			return err
		}
		return tx.Create(&TransactionPO{
			TxID:        txID,
			FromAccount: lock.AccountID,
			ToAccount:   destinationAccount,
			Asset:       lock.Asset,
			Amount:      lock.Amount,
			Reference:   fmt.Sprintf("execute-lock:%s", lockID),
		}).Error
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}
