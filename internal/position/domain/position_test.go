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

func newTestPosition(t *testing.T) *CollateralPosition {
	t.Helper()
	p, err := OpenPosition("POS-1", "user-1", d("1.3"), d("1.2"))
	require.NoError(t, err)
	return p
}

func TestOpenPositionRejectsUnorderedThresholds(t *testing.T) {
	cases := []struct {
		name       string
		marginCall string
		liq        string
	}{
		{"margin call below liquidation", "1.1", "1.2"},
		{"equal thresholds", "1.2", "1.2"},
		{"liquidation not above one", "1.3", "1.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := OpenPosition("POS-1", "user-1", d(tc.marginCall), d(tc.liq))
			require.ErrorIs(t, err, ErrInvalidThresholds)
		})
	}
}

func TestHealthDrivenTransitions(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))

	prices := map[string]decimal.Decimal{"ETH": d("2000")}
	require.NoError(t, p.Borrow(d("15000"), prices))

	// 价值 20000 债务 15000 比率 1.333，在追保线 1.3 之上。
	require.NoError(t, p.UpdatePrices(prices))
	require.Equal(t, StatusActive, p.Status)

	ratio, infinite, err := p.HealthRatio(prices)
	require.NoError(t, err)
	require.False(t, infinite)
	require.True(t, ratio.Sub(d("1.3333")).Abs().LessThan(d("0.001")))

	// 价值 17000 比率 1.133，跌破清算线 1.2。
	require.NoError(t, p.UpdatePrices(map[string]decimal.Decimal{"ETH": d("1700")}))
	require.Equal(t, StatusLiquidating, p.Status)
}

func TestMarginCallIssuedOnce(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, p.Borrow(d("15000"), map[string]decimal.Decimal{"ETH": d("2000")}))

	countMarginCalls := func() int {
		n := 0
		for _, event := range p.Uncommitted() {
			if event.EventType() == EventMarginCallIssued {
				n++
			}
		}
		return n
	}

	// 比率 19000/15000 = 1.267，落在追保区间 [1.2, 1.3)。
	marginPrices := map[string]decimal.Decimal{"ETH": d("1900")}
	require.NoError(t, p.UpdatePrices(marginPrices))
	require.Equal(t, StatusMarginCall, p.Status)
	require.Equal(t, 1, countMarginCalls())

	// 仍在追保区间的第二次价格更新不重复发出追保。
	require.NoError(t, p.UpdatePrices(marginPrices))
	require.Equal(t, StatusMarginCall, p.Status)
	require.Equal(t, 1, countMarginCalls())

	// 价格恢复，追保解除。
	require.NoError(t, p.UpdatePrices(map[string]decimal.Decimal{"ETH": d("2000")}))
	require.Equal(t, StatusActive, p.Status)
}

func TestWithdrawGuards(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	prices := map[string]decimal.Decimal{"ETH": d("2000")}
	require.NoError(t, p.Borrow(d("15000"), prices))

	// 提取 3 ETH 后价值 14000，比率 0.933 跌破追保线。
	err := p.WithdrawCollateral(map[string]decimal.Decimal{"ETH": d("3")}, prices)
	require.ErrorIs(t, err, ErrWouldBreachHealth)

	// 小额提取保持健康度在追保线之上：价值 19600/15000 = 1.307。
	require.NoError(t, p.WithdrawCollateral(map[string]decimal.Decimal{"ETH": d("0.2")}, prices))
	require.True(t, p.Collateral["ETH"].Equal(d("9.8")))

	// 追保中禁止提取。
	require.NoError(t, p.UpdatePrices(map[string]decimal.Decimal{"ETH": d("1950")}))
	require.Equal(t, StatusMarginCall, p.Status)
	err = p.WithdrawCollateral(map[string]decimal.Decimal{"ETH": d("0.1")}, prices)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestLiquidatingBlocksCollateralMoves(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, p.Borrow(d("15000"), map[string]decimal.Decimal{"ETH": d("2000")}))
	require.NoError(t, p.UpdatePrices(map[string]decimal.Decimal{"ETH": d("1700")}))
	require.Equal(t, StatusLiquidating, p.Status)

	err := p.AddCollateral(map[string]decimal.Decimal{"ETH": d("1")})
	require.ErrorIs(t, err, ErrInvalidState)
	err = p.WithdrawCollateral(map[string]decimal.Decimal{"ETH": d("1")}, map[string]decimal.Decimal{"ETH": d("1700")})
	require.ErrorIs(t, err, ErrInvalidState)

	// 清算中的头寸不再响应价格更新。
	require.NoError(t, p.UpdatePrices(map[string]decimal.Decimal{"ETH": d("5000")}))
	require.Equal(t, StatusLiquidating, p.Status)
}

func TestCompleteLiquidation(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, p.Borrow(d("15000"), map[string]decimal.Decimal{"ETH": d("2000")}))
	require.NoError(t, p.UpdatePrices(map[string]decimal.Decimal{"ETH": d("1700")}))

	require.NoError(t, p.CompleteLiquidation(d("17000"), decimal.Zero))
	require.Equal(t, StatusClosed, p.Status)
	require.True(t, p.Debt.IsZero())
	require.Empty(t, p.Collateral)
}

func TestCompleteLiquidationWithBadDebt(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, p.Borrow(d("15000"), map[string]decimal.Decimal{"ETH": d("2000")}))
	require.NoError(t, p.UpdatePrices(map[string]decimal.Decimal{"ETH": d("1400")}))
	require.Equal(t, StatusLiquidating, p.Status)

	require.NoError(t, p.CompleteLiquidation(d("14000"), d("400")))
	require.Equal(t, StatusLiquidating, p.Status)
	require.True(t, p.Debt.Equal(d("400")))
}

func TestVoluntaryClose(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, p.Close())
	require.Equal(t, StatusClosed, p.Status)

	p2 := newTestPosition(t)
	require.NoError(t, p2.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, p2.Borrow(d("1000"), map[string]decimal.Decimal{"ETH": d("2000")}))
	require.ErrorIs(t, p2.Close(), ErrDebtOutstanding)
}

func TestReplayDeterminism(t *testing.T) {
	p := newTestPosition(t)
	prices := map[string]decimal.Decimal{"ETH": d("2000"), "BTC": d("60000")}
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10"), "BTC": d("0.5")}))
	require.NoError(t, p.Borrow(d("20000"), prices))
	require.NoError(t, p.WithdrawCollateral(map[string]decimal.Decimal{"ETH": d("2")}, prices))
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("1.5")}))
	require.NoError(t, p.Repay(d("5000")))

	replayed := NewCollateralPosition("POS-1")
	require.NoError(t, replayed.Replay(replayed, p.Uncommitted()))

	// 最终抵押量等于增减的代数和。
	require.True(t, replayed.Collateral["ETH"].Equal(d("9.5")))
	require.True(t, replayed.Collateral["BTC"].Equal(d("0.5")))
	require.True(t, replayed.Debt.Equal(d("15000")))
	require.Equal(t, p.Status, replayed.Status)
	require.Equal(t, p.CurrentVersion(), replayed.CurrentVersion())
}

func TestHealthInfiniteWhenNoDebt(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	_, infinite, err := p.HealthRatio(map[string]decimal.Decimal{"ETH": d("2000")})
	require.NoError(t, err)
	require.True(t, infinite)
}

func TestSnapshotRoundTrip(t *testing.T) {
	p := newTestPosition(t)
	require.NoError(t, p.AddCollateral(map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, p.Borrow(d("15000"), map[string]decimal.Decimal{"ETH": d("2000")}))

	state, err := p.SnapshotState()
	require.NoError(t, err)

	restored := NewCollateralPosition("POS-1")
	require.NoError(t, restored.RestoreSnapshot(p.CurrentVersion(), state))
	require.True(t, restored.Debt.Equal(p.Debt))
	require.True(t, restored.Collateral["ETH"].Equal(d("10")))
	require.Equal(t, p.Status, restored.Status)
	require.Equal(t, p.CurrentVersion(), restored.CurrentVersion())
}
