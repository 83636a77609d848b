// Package domain 实现抵押头寸聚合：状态机 active → margin_call → liquidating → closed，
// 健康度 = 抵押物总价值 / 债务，驱动追保与清算转换。
// 状态只能通过重放自身事件得到。
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
	ErrInvalidState      = errors.New("operation not allowed in current position status")
	ErrWouldBreachHealth = errors.New("operation would breach position health")
	ErrPriceMissing      = errors.New("no price for collateral asset")
	ErrInvalidThresholds = errors.New("thresholds must satisfy margin_call > liquidation > 1")
	ErrDebtOutstanding   = errors.New("position still has outstanding debt")
)

// Status 头寸状态。
type Status string

const (
	StatusActive      Status = "active"
	StatusMarginCall  Status = "margin_call"
	StatusLiquidating Status = "liquidating"
	StatusClosed      Status = "closed"
)

// CollateralPosition 抵押头寸聚合根。
// 清算中禁止任何抵押物进出；债务永不为负。
type CollateralPosition struct {
	eventsourcing.AggregateBase

	OwnerID          string
	Collateral       map[string]decimal.Decimal
	Debt             decimal.Decimal
	MarginCallRatio  decimal.Decimal
	LiquidationRatio decimal.Decimal
	Status           Status
}

// NewCollateralPosition 创建零值聚合，供仓储重放历史。
func NewCollateralPosition(positionID string) *CollateralPosition {
	p := &CollateralPosition{
		Collateral: make(map[string]decimal.Decimal),
		Debt:       decimal.Zero,
	}
	p.ID = positionID
	return p
}

// OpenPosition 开立头寸。追保线与清算线必须严格有序：margin_call > liquidation > 1。
func OpenPosition(positionID, ownerID string, marginCallRatio, liquidationRatio decimal.Decimal) (*CollateralPosition, error) {
	one := decimal.NewFromInt(1)
	if !marginCallRatio.GreaterThan(liquidationRatio) || !liquidationRatio.GreaterThan(one) {
		return nil, errs.Mark(
			fmt.Errorf("%w: margin_call=%s liquidation=%s", ErrInvalidThresholds, marginCallRatio, liquidationRatio),
			errs.KindValidation)
	}

	p := NewCollateralPosition(positionID)
	err := p.Record(p, &PositionOpened{
		PositionID:       positionID,
		OwnerID:          ownerID,
		MarginCallRatio:  marginCallRatio,
		LiquidationRatio: liquidationRatio,
		At:               time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddCollateral 追加抵押物。清算中与已关闭的头寸拒绝。
func (p *CollateralPosition) AddCollateral(amounts map[string]decimal.Decimal) error {
	if p.Status == StatusLiquidating || p.Status == StatusClosed {
		return errs.Mark(fmt.Errorf("%w: add collateral while %s", ErrInvalidState, p.Status), errs.KindBusiness)
	}
	if err := validateAmounts(amounts); err != nil {
		return err
	}
	return p.Record(p, &CollateralAdded{PositionID: p.ID, Amounts: amounts, At: time.Now()})
}

// WithdrawCollateral 提取抵押物。清算中与追保中拒绝；
// 提取后健康度跌破追保线的请求以 ErrWouldBreachHealth 拒绝。
func (p *CollateralPosition) WithdrawCollateral(amounts map[string]decimal.Decimal, prices map[string]decimal.Decimal) error {
	if p.Status != StatusActive {
		return errs.Mark(fmt.Errorf("%w: withdraw collateral while %s", ErrInvalidState, p.Status), errs.KindBusiness)
	}
	if err := validateAmounts(amounts); err != nil {
		return err
	}
	for asset, amount := range amounts {
		if p.Collateral[asset].LessThan(amount) {
			return errs.Validation("withdraw %s %s exceeds held %s", amount, asset, p.Collateral[asset])
		}
	}

	if !p.Debt.IsZero() {
		value, err := p.collateralValueAfter(amounts, prices)
		if err != nil {
			return err
		}
		ratio := value.Div(p.Debt)
		if ratio.LessThan(p.MarginCallRatio) {
			return errs.Mark(
				fmt.Errorf("%w: post-withdrawal ratio %s below %s", ErrWouldBreachHealth, ratio, p.MarginCallRatio),
				errs.KindBusiness)
		}
	}
	return p.Record(p, &CollateralWithdrawn{PositionID: p.ID, Amounts: amounts, At: time.Now()})
}

// Borrow 借入，增加债务。借入后健康度必须仍在追保线之上。
func (p *CollateralPosition) Borrow(amount decimal.Decimal, prices map[string]decimal.Decimal) error {
	if p.Status != StatusActive {
		return errs.Mark(fmt.Errorf("%w: borrow while %s", ErrInvalidState, p.Status), errs.KindBusiness)
	}
	if !amount.IsPositive() {
		return errs.Validation("borrow amount must be positive, got %s", amount)
	}

	value, err := p.collateralValue(prices)
	if err != nil {
		return err
	}
	newDebt := p.Debt.Add(amount)
	if value.Div(newDebt).LessThan(p.MarginCallRatio) {
		return errs.Mark(
			fmt.Errorf("%w: post-borrow ratio %s below %s", ErrWouldBreachHealth, value.Div(newDebt), p.MarginCallRatio),
			errs.KindBusiness)
	}
	return p.Record(p, &DebtIncreased{PositionID: p.ID, Amount: amount, At: time.Now()})
}

// Repay 偿还债务。多还视为校验错误，债务永不为负。
func (p *CollateralPosition) Repay(amount decimal.Decimal) error {
	if p.Status == StatusClosed {
		return errs.Mark(fmt.Errorf("%w: repay while closed", ErrInvalidState), errs.KindBusiness)
	}
	if !amount.IsPositive() {
		return errs.Validation("repay amount must be positive, got %s", amount)
	}
	if amount.GreaterThan(p.Debt) {
		return errs.Validation("repay %s exceeds outstanding debt %s", amount, p.Debt)
	}
	return p.Record(p, &DebtRepaid{PositionID: p.ID, Amount: amount, At: time.Now()})
}

// UpdatePrices 按最新价格重估健康度并驱动状态转换：
// 跌破清算线进入 liquidating；跌破追保线发出追保（已在追保中不重复发出）；
// 回到追保线之上解除追保。清算中与已关闭的头寸不再响应价格。
func (p *CollateralPosition) UpdatePrices(prices map[string]decimal.Decimal) error {
	if p.Status == StatusLiquidating || p.Status == StatusClosed {
		return nil
	}
	if p.Debt.IsZero() {
		if p.Status == StatusMarginCall {
			return p.Record(p, &MarginCallLifted{PositionID: p.ID, Ratio: decimal.Zero, At: time.Now()})
		}
		return nil
	}

	value, err := p.collateralValue(prices)
	if err != nil {
		return err
	}
	ratio := value.Div(p.Debt)

	switch {
	case ratio.LessThan(p.LiquidationRatio):
		return p.Record(p, &LiquidationStarted{PositionID: p.ID, Ratio: ratio, At: time.Now()})
	case ratio.LessThan(p.MarginCallRatio):
		if p.Status == StatusMarginCall {
			return nil
		}
		return p.Record(p, &MarginCallIssued{PositionID: p.ID, Ratio: ratio, At: time.Now()})
	default:
		if p.Status == StatusMarginCall {
			return p.Record(p, &MarginCallLifted{PositionID: p.ID, Ratio: ratio, At: time.Now()})
		}
		return nil
	}
}

// CompleteLiquidation 结束清算。抵押物已全部处置，债务更新为剩余值；
// 剩余债务为零时头寸关闭。
func (p *CollateralPosition) CompleteLiquidation(liquidatedAmount, remainingDebt decimal.Decimal) error {
	if p.Status != StatusLiquidating {
		return errs.Mark(fmt.Errorf("%w: complete liquidation while %s", ErrInvalidState, p.Status), errs.KindBusiness)
	}
	if remainingDebt.IsNegative() {
		return errs.Validation("remaining debt must not be negative, got %s", remainingDebt)
	}
	return p.Record(p, &LiquidationCompleted{
		PositionID:       p.ID,
		LiquidatedAmount: liquidatedAmount,
		RemainingDebt:    remainingDebt,
		At:               time.Now(),
	})
}

// Close 主动关闭。仅允许无债务的正常头寸。
func (p *CollateralPosition) Close() error {
	if p.Status != StatusActive {
		return errs.Mark(fmt.Errorf("%w: close while %s", ErrInvalidState, p.Status), errs.KindBusiness)
	}
	if !p.Debt.IsZero() {
		return errs.Mark(fmt.Errorf("%w: debt %s", ErrDebtOutstanding, p.Debt), errs.KindBusiness)
	}
	return p.Record(p, &PositionClosed{PositionID: p.ID, At: time.Now()})
}

// HealthRatio 健康度 = Σ(数量×价格) / 债务。债务为零时返回 infinite=true。
func (p *CollateralPosition) HealthRatio(prices map[string]decimal.Decimal) (ratio decimal.Decimal, infinite bool, err error) {
	if p.Debt.IsZero() {
		return decimal.Zero, true, nil
	}
	value, err := p.collateralValue(prices)
	if err != nil {
		return decimal.Zero, false, err
	}
	return value.Div(p.Debt), false, nil
}

func (p *CollateralPosition) collateralValue(prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	return p.collateralValueAfter(nil, prices)
}

func (p *CollateralPosition) collateralValueAfter(withdrawals, prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	value := decimal.Zero
	for asset, amount := range p.Collateral {
		remaining := amount.Sub(withdrawals[asset])
		if remaining.IsZero() {
			continue
		}
		price, ok := prices[asset]
		if !ok {
			return decimal.Zero, errs.Mark(fmt.Errorf("%w: %s", ErrPriceMissing, asset), errs.KindUnavailable)
		}
		value = value.Add(remaining.Mul(price))
	}
	return value, nil
}

func validateAmounts(amounts map[string]decimal.Decimal) error {
	if len(amounts) == 0 {
		return errs.Validation("amounts must not be empty")
	}
	for asset, amount := range amounts {
		if !amount.IsPositive() {
			return errs.Validation("amount for %s must be positive, got %s", asset, amount)
		}
	}
	return nil
}

// Apply 按事件类型查表推进状态，未知事件类型是编程错误。
func (p *CollateralPosition) Apply(event eventsourcing.DomainEvent) error {
	switch e := event.(type) {
	case *PositionOpened:
		p.ID = e.PositionID
		p.OwnerID = e.OwnerID
		p.MarginCallRatio = e.MarginCallRatio
		p.LiquidationRatio = e.LiquidationRatio
		p.Status = StatusActive
	case *CollateralAdded:
		for asset, amount := range e.Amounts {
			p.Collateral[asset] = p.Collateral[asset].Add(amount)
		}
	case *CollateralWithdrawn:
		for asset, amount := range e.Amounts {
			remaining := p.Collateral[asset].Sub(amount)
			if remaining.IsZero() {
				delete(p.Collateral, asset)
			} else {
				p.Collateral[asset] = remaining
			}
		}
	case *DebtIncreased:
		p.Debt = p.Debt.Add(e.Amount)
	case *DebtRepaid:
		p.Debt = p.Debt.Sub(e.Amount)
	case *MarginCallIssued:
		p.Status = StatusMarginCall
	case *MarginCallLifted:
		p.Status = StatusActive
	case *LiquidationStarted:
		p.Status = StatusLiquidating
	case *LiquidationCompleted:
		p.Collateral = make(map[string]decimal.Decimal)
		p.Debt = e.RemainingDebt
		if e.RemainingDebt.IsZero() {
			p.Status = StatusClosed
		}
	case *PositionClosed:
		p.Status = StatusClosed
	default:
		return fmt.Errorf("collateral position: unexpected event %T", event)
	}
	return nil
}

type positionSnapshot struct {
	OwnerID          string                     `json:"owner_id"`
	Collateral       map[string]decimal.Decimal `json:"collateral"`
	Debt             decimal.Decimal            `json:"debt"`
	MarginCallRatio  decimal.Decimal            `json:"margin_call_ratio"`
	LiquidationRatio decimal.Decimal            `json:"liquidation_ratio"`
	Status           Status                     `json:"status"`
}

// SnapshotState 序列化物化状态。
func (p *CollateralPosition) SnapshotState() ([]byte, error) {
	return json.Marshal(positionSnapshot{
		OwnerID:          p.OwnerID,
		Collateral:       p.Collateral,
		Debt:             p.Debt,
		MarginCallRatio:  p.MarginCallRatio,
		LiquidationRatio: p.LiquidationRatio,
		Status:           p.Status,
	})
}

// RestoreSnapshot 从物化状态恢复。
func (p *CollateralPosition) RestoreSnapshot(version int64, state []byte) error {
	var snap positionSnapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return err
	}
	p.OwnerID = snap.OwnerID
	p.Collateral = snap.Collateral
	if p.Collateral == nil {
		p.Collateral = make(map[string]decimal.Decimal)
	}
	p.Debt = snap.Debt
	p.MarginCallRatio = snap.MarginCallRatio
	p.LiquidationRatio = snap.LiquidationRatio
	p.Status = snap.Status
	p.Ver = version
	return nil
}

var (
	_ eventsourcing.Aggregate   = (*CollateralPosition)(nil)
	_ eventsourcing.Snapshotter = (*CollateralPosition)(nil)
)
