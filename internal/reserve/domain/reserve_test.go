package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func fundedReserve(t *testing.T) *ReservePool {
	t.Helper()
	r, err := CreateReserve("RES-1", "USD", d("0.05"))
	require.NoError(t, err)
	require.NoError(t, r.Fund(d("1000"), "fees:desk"))
	return r
}

func TestCreateReserveValidation(t *testing.T) {
	_, err := CreateReserve("RES-1", "", d("0.05"))
	require.Error(t, err)
	_, err = CreateReserve("RES-1", "USD", d("-0.05"))
	require.ErrorIs(t, err, ErrInvalidRatio)
}

func TestDrawCappedAtBalance(t *testing.T) {
	r := fundedReserve(t)

	drawn, err := r.Draw(d("400"), "ops")
	require.NoError(t, err)
	require.True(t, drawn.Equal(d("400")))
	require.True(t, r.Balance.Equal(d("600")))

	// 超额支取被截到余额。
	drawn, err = r.Draw(d("900"), "ops")
	require.NoError(t, err)
	require.True(t, drawn.Equal(d("600")))
	require.True(t, r.Balance.IsZero())

	// 余额为零时支取为零且不产生事件。
	before := len(r.Uncommitted())
	drawn, err = r.Draw(d("1"), "ops")
	require.NoError(t, err)
	require.True(t, drawn.IsZero())
	require.Len(t, r.Uncommitted(), before)
}

func TestCoverShortfallAndRefund(t *testing.T) {
	r := fundedReserve(t)

	covered, err := r.CoverShortfall("POS-9", d("1500"))
	require.NoError(t, err)
	require.True(t, covered.Equal(d("1000")))
	require.True(t, r.Balance.IsZero())
	require.True(t, r.TotalCovered.Equal(d("1000")))

	require.NoError(t, r.RefundCover("POS-9", d("1000")))
	require.True(t, r.Balance.Equal(d("1000")))
	require.True(t, r.TotalCovered.IsZero())

	// 回冲不能超过在外兜底额。
	require.Error(t, r.RefundCover("POS-9", d("1")))
}

func TestSetTargetRatioIdempotent(t *testing.T) {
	r := fundedReserve(t)
	before := len(r.Uncommitted())
	require.NoError(t, r.SetTargetRatio(d("0.05")))
	require.Len(t, r.Uncommitted(), before)

	require.NoError(t, r.SetTargetRatio(d("0.1")))
	require.True(t, r.TargetRatio.Equal(d("0.1")))
}

func TestReserveReplayDeterminism(t *testing.T) {
	r := fundedReserve(t)
	_, err := r.Draw(d("100"), "ops")
	require.NoError(t, err)
	_, err = r.CoverShortfall("POS-1", d("300"))
	require.NoError(t, err)
	require.NoError(t, r.RefundCover("POS-1", d("200")))

	replayed := NewReservePool("RES-1")
	require.NoError(t, replayed.Replay(replayed, r.Uncommitted()))
	require.True(t, replayed.Balance.Equal(r.Balance))
	require.True(t, replayed.TotalCovered.Equal(r.TotalCovered))
	require.Equal(t, r.CurrentVersion(), replayed.CurrentVersion())
}

func TestReserveSnapshotRoundTrip(t *testing.T) {
	r := fundedReserve(t)
	_, err := r.CoverShortfall("POS-1", d("250"))
	require.NoError(t, err)

	state, err := r.SnapshotState()
	require.NoError(t, err)

	restored := NewReservePool("RES-1")
	require.NoError(t, restored.RestoreSnapshot(r.CurrentVersion(), state))
	require.True(t, restored.Balance.Equal(d("750")))
	require.True(t, restored.TotalCovered.Equal(d("250")))
	require.Equal(t, "USD", restored.Asset)
}
