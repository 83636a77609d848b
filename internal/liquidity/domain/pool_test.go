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

func seededPool(t *testing.T) *LiquidityPool {
	t.Helper()
	pool, err := CreatePool("POOL-1", "ETH", "USD", d("0.003"))
	require.NoError(t, err)
	minted := pool.SharesForContribution(d("1000"), d("2000"))
	require.NoError(t, pool.AddLiquidity("lp-0", d("1000"), d("2000"), minted))
	return pool
}

func TestCreatePoolValidation(t *testing.T) {
	_, err := CreatePool("POOL-1", "ETH", "ETH", decimal.Zero)
	require.Error(t, err)
	_, err = CreatePool("POOL-1", "", "USD", decimal.Zero)
	require.Error(t, err)
	_, err = CreatePool("POOL-1", "ETH", "USD", d("-0.01"))
	require.Error(t, err)
}

func TestProportionalMint(t *testing.T) {
	pool := seededPool(t)
	totalBefore := pool.TotalShares

	// 按既有 1:2 比例注入 100/200，应铸出现有份额的 10%。
	minted := pool.SharesForContribution(d("100"), d("200"))
	require.True(t, minted.Equal(totalBefore.Div(d("10"))), "minted %s, want %s", minted, totalBefore.Div(d("10")))

	require.NoError(t, pool.AddLiquidity("lp-1", d("100"), d("200"), minted))
	require.True(t, pool.BaseReserve.Equal(d("1100")))
	require.True(t, pool.QuoteReserve.Equal(d("2200")))

	// 注入前后储备比例不变。
	ratioBefore := d("2000").Div(d("1000"))
	ratioAfter := pool.QuoteReserve.Div(pool.BaseReserve)
	require.True(t, ratioAfter.Equal(ratioBefore))
}

func TestLopsidedContributionMintsBySmallerSide(t *testing.T) {
	pool := seededPool(t)
	total := pool.TotalShares

	// quote 侧只占 5%，铸造以较小一侧为准。
	minted := pool.SharesForContribution(d("100"), d("100"))
	require.True(t, minted.Equal(total.Mul(d("0.05"))))
}

func TestBurnProportions(t *testing.T) {
	pool := seededPool(t)
	shares := pool.Holdings["lp-0"]

	// 销毁一半份额退回一半储备。
	half := shares.Div(d("2"))
	base, quote := pool.AmountsForShares(half)
	require.True(t, base.Equal(d("500")))
	require.True(t, quote.Equal(d("1000")))

	require.NoError(t, pool.RemoveLiquidity("lp-0", half, base, quote))
	require.True(t, pool.BaseReserve.Equal(d("500")))
	require.True(t, pool.QuoteReserve.Equal(d("1000")))
	require.True(t, pool.TotalShares.Equal(half))
	require.True(t, pool.Holdings["lp-0"].Equal(half))
}

func TestRemoveLiquidityGuards(t *testing.T) {
	pool := seededPool(t)

	err := pool.RemoveLiquidity("stranger", d("1"), d("0.1"), d("0.2"))
	require.ErrorIs(t, err, ErrInsufficientShares)

	require.NoError(t, pool.Deactivate())
	err = pool.RemoveLiquidity("lp-0", d("1"), d("0.1"), d("0.2"))
	require.ErrorIs(t, err, ErrPoolInactive)
}

func TestRebalancePreservesValue(t *testing.T) {
	pool := seededPool(t)
	price := d("4")
	tolerance := d("0.01")

	// V = 1000×4 + 2000 = 6000；目标 base=750, quote=3000。
	require.NoError(t, pool.Rebalance(d("750"), d("3000"), price, tolerance))
	require.True(t, pool.BaseReserve.Equal(d("750")))
	require.True(t, pool.QuoteReserve.Equal(d("3000")))

	// 总值漂移超出容忍度被拒绝。
	err := pool.Rebalance(d("750"), d("3500"), price, tolerance)
	require.ErrorIs(t, err, ErrValueNotPreserved)
}

func TestFeeAccrual(t *testing.T) {
	pool := seededPool(t)
	require.NoError(t, pool.AccrueFee(decimal.Zero, d("6")))
	require.True(t, pool.QuoteReserve.Equal(d("2006")))
	require.True(t, pool.BaseReserve.Equal(d("1000")))

	// 手续费不稀释份额。
	require.True(t, pool.TotalShares.Equal(d("3000")))
}

func TestSetFeeRate(t *testing.T) {
	pool := seededPool(t)
	require.Error(t, pool.SetFeeRate(d("-0.01")))

	// 费率不变不产生事件。
	before := len(pool.Uncommitted())
	require.NoError(t, pool.SetFeeRate(d("0.003")))
	require.Len(t, pool.Uncommitted(), before)

	require.NoError(t, pool.SetFeeRate(d("0.005")))
	require.True(t, pool.FeeRate.Equal(d("0.005")))
}

func TestPoolReplayDeterminism(t *testing.T) {
	pool := seededPool(t)
	minted := pool.SharesForContribution(d("100"), d("200"))
	require.NoError(t, pool.AddLiquidity("lp-1", d("100"), d("200"), minted))
	base, quote := pool.AmountsForShares(d("300"))
	require.NoError(t, pool.RemoveLiquidity("lp-0", d("300"), base, quote))
	require.NoError(t, pool.AccrueFee(d("1"), d("2")))

	replayed := NewLiquidityPool("POOL-1")
	require.NoError(t, replayed.Replay(replayed, pool.Uncommitted()))

	require.True(t, replayed.BaseReserve.Equal(pool.BaseReserve))
	require.True(t, replayed.QuoteReserve.Equal(pool.QuoteReserve))
	require.True(t, replayed.TotalShares.Equal(pool.TotalShares))
	require.True(t, replayed.Holdings["lp-0"].Equal(pool.Holdings["lp-0"]))
	require.True(t, replayed.Holdings["lp-1"].Equal(pool.Holdings["lp-1"]))
	require.Equal(t, pool.CurrentVersion(), replayed.CurrentVersion())
}

func TestPoolSnapshotRoundTrip(t *testing.T) {
	pool := seededPool(t)
	state, err := pool.SnapshotState()
	require.NoError(t, err)

	restored := NewLiquidityPool("POOL-1")
	require.NoError(t, restored.RestoreSnapshot(pool.CurrentVersion(), state))
	require.True(t, restored.BaseReserve.Equal(d("1000")))
	require.True(t, restored.QuoteReserve.Equal(d("2000")))
	require.True(t, restored.TotalShares.Equal(d("3000")))
	require.True(t, restored.IsActive)
}
