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

func TestPlaceOrderValidation(t *testing.T) {
	_, err := PlaceOrder("ORD-1", "user:a", "ETH/USD", Side("hold"), d("10"), d("1"))
	require.Error(t, err)
	_, err = PlaceOrder("ORD-1", "user:a", "ETH/USD", SideBuy, decimal.Zero, d("1"))
	require.Error(t, err)
	_, err = PlaceOrder("ORD-1", "user:a", "ETH/USD", SideBuy, d("10"), d("-1"))
	require.Error(t, err)

	o, err := PlaceOrder("ORD-1", "user:a", "ETH/USD", SideBuy, d("10"), d("5"))
	require.NoError(t, err)
	require.Equal(t, StatusOpen, o.Status)
	require.True(t, o.Remaining.Equal(d("5")))
}

func TestMatchLifecycle(t *testing.T) {
	o, err := PlaceOrder("ORD-1", "user:a", "ETH/USD", SideBuy, d("10"), d("5"))
	require.NoError(t, err)

	require.NoError(t, o.Match("TRD-1", "ORD-2", d("9.5"), d("2")))
	require.Equal(t, StatusPartiallyFilled, o.Status)
	require.True(t, o.Remaining.Equal(d("3")))
	require.True(t, o.Filled().Equal(d("2")))

	// 超量成交被拒绝。
	require.ErrorIs(t, o.Match("TRD-2", "ORD-3", d("9.5"), d("4")), ErrOverfill)

	require.NoError(t, o.Match("TRD-2", "ORD-3", d("10"), d("3")))
	require.Equal(t, StatusFilled, o.Status)
	require.True(t, o.Remaining.IsZero())

	// 终态拒绝一切变更。
	require.ErrorIs(t, o.Match("TRD-3", "ORD-4", d("10"), d("1")), ErrOrderClosed)
	require.ErrorIs(t, o.Cancel("late"), ErrOrderClosed)
}

func TestCancelOpenOrder(t *testing.T) {
	o, err := PlaceOrder("ORD-1", "user:a", "ETH/USD", SideSell, d("10"), d("5"))
	require.NoError(t, err)
	require.NoError(t, o.Match("TRD-1", "ORD-2", d("10"), d("1")))
	require.NoError(t, o.Cancel("user requested"))
	require.Equal(t, StatusCancelled, o.Status)
	// 已成交部分保留。
	require.True(t, o.Filled().Equal(d("1")))
}

func TestOrderReplayDeterminism(t *testing.T) {
	o, err := PlaceOrder("ORD-1", "user:a", "ETH/USD", SideBuy, d("10"), d("5"))
	require.NoError(t, err)
	require.NoError(t, o.Match("TRD-1", "ORD-2", d("9"), d("2")))
	require.NoError(t, o.Match("TRD-2", "ORD-3", d("10"), d("1.5")))

	replayed := NewOrder("ORD-1")
	require.NoError(t, replayed.Replay(replayed, o.Uncommitted()))
	require.Equal(t, o.Status, replayed.Status)
	require.True(t, replayed.Remaining.Equal(o.Remaining))
	require.Equal(t, o.CurrentVersion(), replayed.CurrentVersion())
}

func TestOrderSnapshotRoundTrip(t *testing.T) {
	o, err := PlaceOrder("ORD-1", "user:a", "ETH/USD", SideBuy, d("10"), d("5"))
	require.NoError(t, err)
	require.NoError(t, o.Match("TRD-1", "ORD-2", d("10"), d("2")))

	state, err := o.SnapshotState()
	require.NoError(t, err)

	restored := NewOrder("ORD-1")
	require.NoError(t, restored.RestoreSnapshot(o.CurrentVersion(), state))
	require.Equal(t, StatusPartiallyFilled, restored.Status)
	require.True(t, restored.Remaining.Equal(d("3")))
	require.Equal(t, SideBuy, restored.Side)
}
