package domain

import (
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/errs"
)

// FeeMode 手续费承担方式。三种模式显式穷举，
// 未知模式是校验错误而不是隐式落入某个默认分支。
type FeeMode string

const (
	// FeeModeShared 双方均摊。
	FeeModeShared FeeMode = "shared"
	// FeeModeSender 发送方承担，到账金额即名义金额。
	FeeModeSender FeeMode = "sender"
	// FeeModeRecipient 接收方承担，手续费从到账金额中扣除。
	FeeModeRecipient FeeMode = "recipient"
)

// FeeBreakdown 手续费拆分结果。
type FeeBreakdown struct {
	// Debit 发送方账户实际扣减金额。
	Debit decimal.Decimal
	// Credit 接收方账户实际入账金额。
	Credit decimal.Decimal
	// Fee 手续费总额。
	Fee decimal.Decimal
}

// SplitFee 按模式计算一笔名义金额 amount、费率 feeRate 的划转拆分。
func SplitFee(amount, feeRate decimal.Decimal, mode FeeMode) (FeeBreakdown, error) {
	if !amount.IsPositive() {
		return FeeBreakdown{}, errs.Validation("transfer amount must be positive, got %s", amount)
	}
	if feeRate.IsNegative() {
		return FeeBreakdown{}, errs.Validation("fee rate must not be negative, got %s", feeRate)
	}

	fee := amount.Mul(feeRate)
	switch mode {
	case FeeModeShared:
		half := fee.Div(decimal.NewFromInt(2))
		return FeeBreakdown{
			Debit:  amount.Add(half),
			Credit: amount.Sub(fee.Sub(half)),
			Fee:    fee,
		}, nil
	case FeeModeSender:
		return FeeBreakdown{Debit: amount.Add(fee), Credit: amount, Fee: fee}, nil
	case FeeModeRecipient:
		return FeeBreakdown{Debit: amount, Credit: amount.Sub(fee), Fee: fee}, nil
	default:
		return FeeBreakdown{}, errs.Validation("unknown fee mode %q", string(mode))
	}
}
