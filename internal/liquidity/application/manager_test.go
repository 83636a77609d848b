package application

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	ledgermem "github.com/wyfcoding/ledgercore/internal/ledger/infrastructure/persistence/memory"
	"github.com/wyfcoding/ledgercore/internal/liquidity/domain"
	oraclemem "github.com/wyfcoding/ledgercore/internal/pricing/infrastructure/memory"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
	"github.com/wyfcoding/ledgercore/pkg/saga"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	manager *Manager
	ledger  *ledgermem.Ledger
	oracle  *oraclemem.Oracle
	poolID  string
}

// newFixture 创建一个已注入 1000 ETH / 2000 USD 初始流动性的池子。
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	led := ledgermem.NewLedger()
	oracle := oraclemem.NewOracle()
	repo := eventsourcing.NewRepository(eventsourcing.NewMemoryEventStore(), nil, 0)
	manager := NewManager(repo, led, oracle, testLogger())

	poolID, err := manager.CreatePool(ctx, "ETH", "USD", d("0.003"))
	require.NoError(t, err)

	led.Deposit("user:lp0", "ETH", d("1000"))
	led.Deposit("user:lp0", "USD", d("2000"))
	result, minted, err := manager.AddLiquidity(ctx, AddLiquidityCommand{
		PoolID:      poolID,
		Provider:    "lp-0",
		AccountID:   "user:lp0",
		BaseAmount:  d("1000"),
		QuoteAmount: d("2000"),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, minted.Equal(d("3000")))

	return &fixture{manager: manager, ledger: led, oracle: oracle, poolID: poolID}
}

func TestAddLiquidityProportional(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.ledger.Deposit("user:lp1", "ETH", d("100"))
	f.ledger.Deposit("user:lp1", "USD", d("200"))

	result, minted, err := f.manager.AddLiquidity(ctx, AddLiquidityCommand{
		PoolID:      f.poolID,
		Provider:    "lp-1",
		AccountID:   "user:lp1",
		BaseAmount:  d("100"),
		QuoteAmount: d("200"),
		MinShares:   d("300"),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, minted.Equal(d("300")))

	pool, err := f.manager.Get(ctx, f.poolID)
	require.NoError(t, err)
	require.True(t, pool.BaseReserve.Equal(d("1100")))
	require.True(t, pool.QuoteReserve.Equal(d("2200")))
	require.True(t, pool.Holdings["lp-1"].Equal(d("300")))

	// 资金已实际进池，提供者账户清零。
	require.True(t, f.ledger.BalanceOf(PoolAccount(f.poolID), "ETH").Equal(d("1100")))
	require.True(t, f.ledger.BalanceOf(PoolAccount(f.poolID), "USD").Equal(d("2200")))
	require.True(t, f.ledger.BalanceOf("user:lp1", "ETH").IsZero())
	require.True(t, f.ledger.BalanceOf("user:lp1", "USD").IsZero())
}

func TestAddLiquiditySlippageUnlocksFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.ledger.Deposit("user:lp1", "ETH", d("100"))
	f.ledger.Deposit("user:lp1", "USD", d("200"))

	result, _, err := f.manager.AddLiquidity(ctx, AddLiquidityCommand{
		PoolID:      f.poolID,
		Provider:    "lp-1",
		AccountID:   "user:lp1",
		BaseAmount:  d("100"),
		QuoteAmount: d("200"),
		MinShares:   d("301"),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.ErrorIs(t, result.Err, domain.ErrSlippageExceeded)
	require.Equal(t, "calculate_shares", result.FailedStep)
	require.False(t, result.RequiresManualIntervention)

	// 补偿按完成顺序的逆序执行：先解锁 quote，再解锁 base。
	require.Len(t, result.CompensationLog, 3)
	require.Equal(t, "lock_quote_funds", result.CompensationLog[0].Step)
	require.Equal(t, saga.OutcomeReleased, result.CompensationLog[0].Outcome)
	require.Equal(t, "lock_base_funds", result.CompensationLog[1].Step)
	require.Equal(t, saga.OutcomeReleased, result.CompensationLog[1].Outcome)
	require.Equal(t, "validate", result.CompensationLog[2].Step)

	// 锁已释放，全额资金可再次动用。
	_, err = f.ledger.Transfer(ctx, "user:lp1", "user:other", "ETH", d("100"), "sanity")
	require.NoError(t, err)
	_, err = f.ledger.Transfer(ctx, "user:lp1", "user:other", "USD", d("200"), "sanity")
	require.NoError(t, err)

	// 池子状态未被污染。
	pool, err := f.manager.Get(ctx, f.poolID)
	require.NoError(t, err)
	require.True(t, pool.BaseReserve.Equal(d("1000")))
	require.True(t, pool.TotalShares.Equal(d("3000")))
}

func TestAddLiquidityValidationFailsFast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.manager.SetActive(ctx, f.poolID, false))

	result, _, err := f.manager.AddLiquidity(ctx, AddLiquidityCommand{
		PoolID:      f.poolID,
		Provider:    "lp-1",
		AccountID:   "user:lp1",
		BaseAmount:  d("100"),
		QuoteAmount: d("200"),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.ErrorIs(t, result.Err, domain.ErrPoolInactive)
	// 无任何正向进展，无需补偿。
	require.Empty(t, result.CompensationLog)
}

func TestRemoveLiquidity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.manager.RemoveLiquidity(ctx, RemoveLiquidityCommand{
		PoolID:    f.poolID,
		Provider:  "lp-0",
		AccountID: "user:lp0",
		Shares:    d("1500"),
		MinBase:   d("500"),
		MinQuote:  d("1000"),
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	pool, err := f.manager.Get(ctx, f.poolID)
	require.NoError(t, err)
	require.True(t, pool.BaseReserve.Equal(d("500")))
	require.True(t, pool.QuoteReserve.Equal(d("1000")))
	require.True(t, pool.TotalShares.Equal(d("1500")))

	require.True(t, f.ledger.BalanceOf("user:lp0", "ETH").Equal(d("500")))
	require.True(t, f.ledger.BalanceOf("user:lp0", "USD").Equal(d("1000")))
}

func TestRemoveLiquidityBelowMinimumRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.manager.RemoveLiquidity(ctx, RemoveLiquidityCommand{
		PoolID:    f.poolID,
		Provider:  "lp-0",
		AccountID: "user:lp0",
		Shares:    d("1500"),
		MinBase:   d("600"),
		MinQuote:  d("1000"),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.ErrorIs(t, result.Err, domain.ErrSlippageExceeded)

	pool, err := f.manager.Get(ctx, f.poolID)
	require.NoError(t, err)
	require.True(t, pool.TotalShares.Equal(d("3000")))
}

func TestRebalancePool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.oracle.SetPrice("ETH", "USD", d("4"))
	f.ledger.Deposit(TreasuryDeskAccount, "USD", d("1000"))

	result, err := f.manager.RebalancePool(ctx, f.poolID, decimal.Zero)
	require.NoError(t, err)
	require.True(t, result.Success)

	// V = 1000×4 + 2000 = 6000 → base 750, quote 3000。
	pool, err := f.manager.Get(ctx, f.poolID)
	require.NoError(t, err)
	require.True(t, pool.BaseReserve.Equal(d("750")))
	require.True(t, pool.QuoteReserve.Equal(d("3000")))

	// 账本侧同步：池子卖出 250 ETH，收入 1000 USD。
	require.True(t, f.ledger.BalanceOf(PoolAccount(f.poolID), "ETH").Equal(d("750")))
	require.True(t, f.ledger.BalanceOf(PoolAccount(f.poolID), "USD").Equal(d("3000")))
	require.True(t, f.ledger.BalanceOf(TreasuryDeskAccount, "ETH").Equal(d("250")))
	require.True(t, f.ledger.BalanceOf(TreasuryDeskAccount, "USD").IsZero())
}
