// Package domain 实现储备金池聚合：清算坏账的兜底资金，
// 支取以当前余额为硬上限，余额永不为负。
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

var ErrInvalidRatio = errors.New("target ratio must not be negative")

// ReservePool 储备金池聚合根。TargetRatio 为储备金相对在险敞口的目标覆盖率，
// 仅作运营参考，不参与支取上限判断。
type ReservePool struct {
	eventsourcing.AggregateBase

	Asset       string
	Balance     decimal.Decimal
	TargetRatio decimal.Decimal
	// TotalCovered 累计兜底支出，减去已回冲部分。
	TotalCovered decimal.Decimal
}

// NewReservePool 创建零值聚合，供仓储重放历史。
func NewReservePool(reserveID string) *ReservePool {
	r := &ReservePool{}
	r.ID = reserveID
	return r
}

// CreateReserve 建立储备金池。
func CreateReserve(reserveID, asset string, targetRatio decimal.Decimal) (*ReservePool, error) {
	if asset == "" {
		return nil, errs.Validation("asset must not be empty")
	}
	if targetRatio.IsNegative() {
		return nil, errs.Mark(ErrInvalidRatio, errs.KindValidation)
	}

	r := NewReservePool(reserveID)
	err := r.Record(r, &ReserveCreated{
		ReserveID:   reserveID,
		Asset:       asset,
		TargetRatio: targetRatio,
		At:          time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Fund 注资。
func (r *ReservePool) Fund(amount decimal.Decimal, source string) error {
	if !amount.IsPositive() {
		return errs.Validation("fund amount must be positive, got %s", amount)
	}
	return r.Record(r, &ReserveFunded{ReserveID: r.ID, Amount: amount, Source: source, At: time.Now()})
}

// Draw 一般性支取，以余额为上限。返回实际支取额；余额为零时返回零且不产生事件。
func (r *ReservePool) Draw(amount decimal.Decimal, reason string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errs.Validation("draw amount must be positive, got %s", amount)
	}
	drawn := decimal.Min(amount, r.Balance)
	if !drawn.IsPositive() {
		return decimal.Zero, nil
	}
	err := r.Record(r, &ReserveDrawn{ReserveID: r.ID, Amount: drawn, Reason: reason, At: time.Now()})
	if err != nil {
		return decimal.Zero, err
	}
	return drawn, nil
}

// CoverShortfall 为清算坏账兜底，以余额为上限。返回实际兜底额；
// 余额为零时返回零且不产生事件。
func (r *ReservePool) CoverShortfall(reference string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errs.Validation("shortfall must be positive, got %s", amount)
	}
	covered := decimal.Min(amount, r.Balance)
	if !covered.IsPositive() {
		return decimal.Zero, nil
	}
	err := r.Record(r, &ShortfallCovered{ReserveID: r.ID, Reference: reference, Amount: covered, At: time.Now()})
	if err != nil {
		return decimal.Zero, err
	}
	return covered, nil
}

// RefundCover 回冲一笔兜底（清算工作流的补偿路径）。
func (r *ReservePool) RefundCover(reference string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errs.Validation("refund amount must be positive, got %s", amount)
	}
	if amount.GreaterThan(r.TotalCovered) {
		return errs.Validation("refund %s exceeds outstanding covered %s", amount, r.TotalCovered)
	}
	return r.Record(r, &CoverRefunded{ReserveID: r.ID, Reference: reference, Amount: amount, At: time.Now()})
}

// SetTargetRatio 调整目标覆盖率。
func (r *ReservePool) SetTargetRatio(ratio decimal.Decimal) error {
	if ratio.IsNegative() {
		return errs.Mark(ErrInvalidRatio, errs.KindValidation)
	}
	if ratio.Equal(r.TargetRatio) {
		return nil
	}
	return r.Record(r, &TargetRatioChanged{ReserveID: r.ID, NewRatio: ratio, At: time.Now()})
}

// Apply 按事件类型查表推进状态。
func (r *ReservePool) Apply(event eventsourcing.DomainEvent) error {
	switch e := event.(type) {
	case *ReserveCreated:
		r.ID = e.ReserveID
		r.Asset = e.Asset
		r.Balance = decimal.Zero
		r.TargetRatio = e.TargetRatio
		r.TotalCovered = decimal.Zero
	case *ReserveFunded:
		r.Balance = r.Balance.Add(e.Amount)
	case *ReserveDrawn:
		r.Balance = r.Balance.Sub(e.Amount)
	case *ShortfallCovered:
		r.Balance = r.Balance.Sub(e.Amount)
		r.TotalCovered = r.TotalCovered.Add(e.Amount)
	case *CoverRefunded:
		r.Balance = r.Balance.Add(e.Amount)
		r.TotalCovered = r.TotalCovered.Sub(e.Amount)
	case *TargetRatioChanged:
		r.TargetRatio = e.NewRatio
	default:
		return fmt.Errorf("reserve: unexpected event %T", event)
	}
	return nil
}

type reserveSnapshot struct {
	Asset        string          `json:"asset"`
	Balance      decimal.Decimal `json:"balance"`
	TargetRatio  decimal.Decimal `json:"target_ratio"`
	TotalCovered decimal.Decimal `json:"total_covered"`
}

// SnapshotState 序列化物化状态。
func (r *ReservePool) SnapshotState() ([]byte, error) {
	return json.Marshal(reserveSnapshot{
		Asset:        r.Asset,
		Balance:      r.Balance,
		TargetRatio:  r.TargetRatio,
		TotalCovered: r.TotalCovered,
	})
}

// RestoreSnapshot 从物化状态恢复。
func (r *ReservePool) RestoreSnapshot(version int64, state []byte) error {
	var snap reserveSnapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return err
	}
	r.Asset = snap.Asset
	r.Balance = snap.Balance
	r.TargetRatio = snap.TargetRatio
	r.TotalCovered = snap.TotalCovered
	r.Ver = version
	return nil
}

var (
	_ eventsourcing.Aggregate   = (*ReservePool)(nil)
	_ eventsourcing.Snapshotter = (*ReservePool)(nil)
)
