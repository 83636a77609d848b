package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/ledgercore/internal/order/domain"
	oraclemem "github.com/wyfcoding/ledgercore/internal/pricing/infrastructure/memory"
)

func newMarketMaker(t *testing.T, f *fixture, oracle *oraclemem.Oracle) *MarketMaker {
	t.Helper()
	mm, err := NewMarketMaker(f.manager, oracle, MarketMakerConfig{
		Symbol:       "ETH/USD",
		BaseAsset:    "ETH",
		QuoteAsset:   "USD",
		AccountID:    "user:mm",
		Spread:       d("0.01"),
		QuoteSize:    d("1"),
		MaxInventory: d("3"),
		Interval:     time.Hour,
	}, testLogger())
	require.NoError(t, err)
	return mm
}

func TestMarketMakerConfigValidation(t *testing.T) {
	f := newFixture(t)
	oracle := oraclemem.NewOracle()
	_, err := NewMarketMaker(f.manager, oracle, MarketMakerConfig{
		Symbol: "ETH/USD", BaseAsset: "ETH", QuoteAsset: "USD", AccountID: "user:mm",
		Spread: decimal.Zero, QuoteSize: d("1"), Interval: time.Second,
	}, testLogger())
	require.Error(t, err)
}

func TestMarketMakerQuotesAroundMid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oracle := oraclemem.NewOracle()
	oracle.SetPrice("ETH", "USD", d("100"))

	f.ledger.Deposit("user:mm", "ETH", d("10"))
	f.ledger.Deposit("user:mm", "USD", d("1000"))

	mm := newMarketMaker(t, f, oracle)
	require.NoError(t, mm.refreshQuotes(ctx))

	bid, ask, hasBid, hasAsk, err := f.manager.BestQuotes("ETH/USD")
	require.NoError(t, err)
	require.True(t, hasBid)
	require.True(t, hasAsk)
	require.True(t, bid.Equal(d("99")))
	require.True(t, ask.Equal(d("101")))

	// 刷新撤旧挂新，簿上始终只有一组报价。
	oracle.SetPrice("ETH", "USD", d("200"))
	require.NoError(t, mm.refreshQuotes(ctx))
	bid, ask, _, _, err = f.manager.BestQuotes("ETH/USD")
	require.NoError(t, err)
	require.True(t, bid.Equal(d("198")))
	require.True(t, ask.Equal(d("202")))
}

func TestMarketMakerTracksInventoryFromFills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oracle := oraclemem.NewOracle()
	oracle.SetPrice("ETH", "USD", d("100"))

	f.ledger.Deposit("user:mm", "ETH", d("10"))
	f.ledger.Deposit("user:mm", "USD", d("1000"))
	f.ledger.Deposit("user:taker", "ETH", d("10"))

	mm := newMarketMaker(t, f, oracle)
	require.NoError(t, mm.refreshQuotes(ctx))

	// 对手方砸穿做市买单。
	out := f.place(t, "user:taker", domain.SideSell, "99", "1")
	require.Equal(t, domain.StatusFilled, out.Status)

	require.NoError(t, mm.refreshQuotes(ctx))
	require.True(t, mm.inventory.Equal(d("1")))
}

func TestMarketMakerStopsQuotingAtInventoryBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oracle := oraclemem.NewOracle()
	oracle.SetPrice("ETH", "USD", d("100"))

	f.ledger.Deposit("user:mm", "ETH", d("10"))
	f.ledger.Deposit("user:mm", "USD", d("1000"))

	mm := newMarketMaker(t, f, oracle)
	mm.inventory = d("3")
	require.NoError(t, mm.refreshQuotes(ctx))

	// 多头头寸已到上限，只挂卖单。
	_, ask, hasBid, hasAsk, err := f.manager.BestQuotes("ETH/USD")
	require.NoError(t, err)
	require.False(t, hasBid)
	require.True(t, hasAsk)
	require.True(t, ask.Equal(d("101")))
}

func TestMarketMakerStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	oracle := oraclemem.NewOracle()
	oracle.SetPrice("ETH", "USD", d("100"))
	f.ledger.Deposit("user:mm", "ETH", d("10"))
	f.ledger.Deposit("user:mm", "USD", d("1000"))

	mm := newMarketMaker(t, f, oracle)
	mm.Stop()
	mm.Stop()

	done := make(chan error, 1)
	go func() { done <- mm.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("market maker did not stop")
	}

	// 退出后簿上无残留报价。
	_, _, hasBid, hasAsk, err := f.manager.BestQuotes("ETH/USD")
	require.NoError(t, err)
	require.False(t, hasBid)
	require.False(t, hasAsk)
}
