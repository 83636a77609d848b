package application

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	ledgermem "github.com/wyfcoding/ledgercore/internal/ledger/infrastructure/persistence/memory"
	indexmem "github.com/wyfcoding/ledgercore/internal/position/infrastructure/persistence/memory"
	pricing "github.com/wyfcoding/ledgercore/internal/pricing/domain"
	oraclemem "github.com/wyfcoding/ledgercore/internal/pricing/infrastructure/memory"
	"github.com/wyfcoding/ledgercore/internal/position/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
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

type fakeReserve struct {
	capacity decimal.Decimal
	covered  decimal.Decimal
	refunded decimal.Decimal
}

func (f *fakeReserve) Cover(ctx context.Context, reference string, amount decimal.Decimal) (decimal.Decimal, error) {
	covered := decimal.Min(amount, f.capacity)
	f.capacity = f.capacity.Sub(covered)
	f.covered = f.covered.Add(covered)
	return covered, nil
}

func (f *fakeReserve) Refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	f.refunded = f.refunded.Add(amount)
	return nil
}

type failingOracle struct{}

func (failingOracle) GetPrice(ctx context.Context, asset, currency string) (decimal.Decimal, error) {
	return decimal.Zero, errs.Mark(pricing.ErrRateUnavailable, errs.KindUnavailable)
}

// liquidatingPosition 构造一个已进入清算状态的头寸。
func liquidatingPosition(t *testing.T, oracle *oraclemem.Oracle, crashPrice string) (*Manager, string) {
	t.Helper()
	ctx := context.Background()

	repo := eventsourcing.NewRepository(eventsourcing.NewMemoryEventStore(), nil, 0)
	manager := NewManager(repo, indexmem.NewIndex(), oracle, "USD", testLogger())

	oracle.SetPrice("ETH", "USD", d("2000"))
	positionID, err := manager.Open(ctx, "user-1", d("1.3"), d("1.2"))
	require.NoError(t, err)
	require.NoError(t, manager.AddCollateral(ctx, positionID, map[string]decimal.Decimal{"ETH": d("10")}))
	require.NoError(t, manager.Borrow(ctx, positionID, d("15000")))

	oracle.SetPrice("ETH", "USD", d(crashPrice))
	started, err := manager.ReviewPriceUpdate(ctx, "ETH")
	require.NoError(t, err)
	require.Equal(t, []string{positionID}, started)
	return manager, positionID
}

func TestLiquidateRepaysDebtInFull(t *testing.T) {
	ctx := context.Background()
	oracle := oraclemem.NewOracle()
	manager, positionID := liquidatingPosition(t, oracle, "1700")

	led := ledgermem.NewLedger()
	led.Deposit(CustodyAccount(positionID), "ETH", d("10"))
	led.Deposit(DeskAccount, "USD", d("17000"))

	reserve := &fakeReserve{capacity: d("5000")}
	liquidator := NewLiquidator(manager, led, oracle, reserve, "USD", testLogger())

	result, err := liquidator.Liquidate(ctx, positionID)
	require.NoError(t, err)
	require.True(t, result.Success)

	// 回款 17000 覆盖全部债务 15000，储备金未动用。
	require.True(t, led.BalanceOf(LendingPoolAccount, "USD").Equal(d("15000")))
	require.True(t, led.BalanceOf(DeskAccount, "ETH").Equal(d("10")))
	require.True(t, led.BalanceOf(CustodyAccount(positionID), "ETH").IsZero())
	require.True(t, reserve.covered.IsZero())

	p, err := manager.Get(ctx, positionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, p.Status)
	require.True(t, p.Debt.IsZero())
}

func TestLiquidateCoversShortfallFromReserve(t *testing.T) {
	ctx := context.Background()
	oracle := oraclemem.NewOracle()
	manager, positionID := liquidatingPosition(t, oracle, "1400")

	led := ledgermem.NewLedger()
	led.Deposit(CustodyAccount(positionID), "ETH", d("10"))
	led.Deposit(DeskAccount, "USD", d("14000"))

	// 缺口 1000，储备金只够 600，剩余 400 作为坏账留在聚合上。
	reserve := &fakeReserve{capacity: d("600")}
	liquidator := NewLiquidator(manager, led, oracle, reserve, "USD", testLogger())

	result, err := liquidator.Liquidate(ctx, positionID)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, reserve.covered.Equal(d("600")))

	p, err := manager.Get(ctx, positionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLiquidating, p.Status)
	require.True(t, p.Debt.Equal(d("400")))
}

func TestLiquidateReleasesLocksWhenPricingFails(t *testing.T) {
	ctx := context.Background()
	oracle := oraclemem.NewOracle()
	manager, positionID := liquidatingPosition(t, oracle, "1700")

	led := ledgermem.NewLedger()
	led.Deposit(CustodyAccount(positionID), "ETH", d("10"))

	reserve := &fakeReserve{capacity: d("5000")}
	liquidator := NewLiquidator(manager, led, oracle, reserve, "USD", testLogger(),
		saga.WithDefaultRetry(saga.NoRetry()))
	liquidator.oracle = failingOracle{}

	result, err := liquidator.Liquidate(ctx, positionID)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "price_collateral", result.FailedStep)
	require.False(t, result.RequiresManualIntervention)

	require.Len(t, result.CompensationLog, 1)
	require.Equal(t, "lock_collateral", result.CompensationLog[0].Step)
	require.Equal(t, saga.OutcomeReleased, result.CompensationLog[0].Outcome)

	// 锁已释放：全额抵押物可以重新锁定。
	_, err = led.Lock(ctx, CustodyAccount(positionID), "ETH", d("10"), "again")
	require.NoError(t, err)

	p, err := manager.Get(ctx, positionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLiquidating, p.Status)
}

func TestContinuationFactoryRebuildsLiquidation(t *testing.T) {
	ctx := context.Background()
	oracle := oraclemem.NewOracle()
	manager, positionID := liquidatingPosition(t, oracle, "1700")

	led := ledgermem.NewLedger()
	led.Deposit(CustodyAccount(positionID), "ETH", d("10"))
	led.Deposit(DeskAccount, "USD", d("17000"))

	reserve := &fakeReserve{capacity: d("5000")}
	liquidator := NewLiquidator(manager, led, oracle, reserve, "USD", testLogger())

	payload, err := json.Marshal(map[string]string{"position_id": positionID})
	require.NoError(t, err)
	task := &saga.Task{
		SagaID:  "liq-" + positionID,
		Name:    SagaLiquidatePosition,
		Payload: payload,
	}

	// 从延续任务重建协调器，沿用任务携带的 SagaID。
	coordinator, err := liquidator.ContinuationFactory()(task)
	require.NoError(t, err)

	result := coordinator.Execute(ctx)
	require.True(t, result.Success)
	require.Equal(t, task.SagaID, result.SagaID)
	require.True(t, led.BalanceOf(LendingPoolAccount, "USD").Equal(d("15000")))

	p, err := manager.Get(ctx, positionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, p.Status)

	// 头寸已关闭，迟到的重投递在重建阶段即被拒绝。
	_, err = liquidator.ContinuationFactory()(task)
	require.Error(t, err)
	require.Equal(t, errs.KindBusiness, errs.KindOf(err))
}

func TestContinuationFactoryRejectsMalformedPayload(t *testing.T) {
	oracle := oraclemem.NewOracle()
	manager, _ := liquidatingPosition(t, oracle, "1700")

	liquidator := NewLiquidator(manager, ledgermem.NewLedger(), oracle,
		&fakeReserve{}, "USD", testLogger())

	_, err := liquidator.ContinuationFactory()(&saga.Task{
		SagaID:  "liq-bad",
		Name:    SagaLiquidatePosition,
		Payload: []byte("{not json"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode liquidation task")
}
