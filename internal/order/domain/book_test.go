package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func entry(orderID string, side Side, price, remaining string) *BookEntry {
	return &BookEntry{
		OrderID:   orderID,
		AccountID: "user:" + orderID,
		Side:      side,
		Price:     d(price),
		Remaining: d(remaining),
	}
}

func TestBookPricePriority(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	require.NoError(t, book.Insert(entry("S1", SideSell, "101", "1")))
	require.NoError(t, book.Insert(entry("S2", SideSell, "99", "1")))
	require.NoError(t, book.Insert(entry("B1", SideBuy, "98", "1")))
	require.NoError(t, book.Insert(entry("B2", SideBuy, "100", "1")))

	bid, ok := book.BestBid()
	require.True(t, ok)
	require.True(t, bid.Equal(d("100")))
	ask, ok := book.BestAsk()
	require.True(t, ok)
	require.True(t, ask.Equal(d("99")))
}

func TestBookTimePriorityWithinLevel(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	require.NoError(t, book.Insert(entry("S1", SideSell, "100", "2")))
	require.NoError(t, book.Insert(entry("S2", SideSell, "100", "2")))
	require.NoError(t, book.Insert(entry("B1", SideBuy, "100", "3")))

	matches := book.Propose("B1", 16)
	require.Len(t, matches, 2)
	// 同价位先到先撮合。
	require.Equal(t, "S1", matches[0].MakerOrderID)
	require.True(t, matches[0].Amount.Equal(d("2")))
	require.Equal(t, "S2", matches[1].MakerOrderID)
	require.True(t, matches[1].Amount.Equal(d("1")))
}

func TestProposeMatchesAtMakerPrice(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	require.NoError(t, book.Insert(entry("S1", SideSell, "99", "1")))
	require.NoError(t, book.Insert(entry("S2", SideSell, "100", "1")))
	require.NoError(t, book.Insert(entry("S3", SideSell, "102", "1")))
	require.NoError(t, book.Insert(entry("B1", SideBuy, "100", "3")))

	matches := book.Propose("B1", 16)
	require.Len(t, matches, 2)
	// 价格优先，且按 maker 价格成交；102 不交叉。
	require.True(t, matches[0].Price.Equal(d("99")))
	require.True(t, matches[1].Price.Equal(d("100")))
}

func TestProposeDoesNotMutate(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	require.NoError(t, book.Insert(entry("S1", SideSell, "100", "2")))
	require.NoError(t, book.Insert(entry("B1", SideBuy, "100", "2")))

	first := book.Propose("B1", 16)
	second := book.Propose("B1", 16)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.True(t, first[0].Amount.Equal(second[0].Amount))

	got, ok := book.Entry("S1")
	require.True(t, ok)
	require.True(t, got.Remaining.Equal(d("2")))
}

func TestProposeBoundedIterations(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	for i := 0; i < 10; i++ {
		require.NoError(t, book.Insert(entry(fmt.Sprintf("S%d", i), SideSell, "100", "1")))
	}
	require.NoError(t, book.Insert(entry("B1", SideBuy, "100", "100")))

	matches := book.Propose("B1", 4)
	require.Len(t, matches, 4)
}

func TestFillRemovesExhaustedEntries(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	require.NoError(t, book.Insert(entry("S1", SideSell, "100", "2")))

	require.NoError(t, book.Fill("S1", d("1.5")))
	got, ok := book.Entry("S1")
	require.True(t, ok)
	require.True(t, got.Remaining.Equal(d("0.5")))

	require.ErrorIs(t, book.Fill("S1", d("0.6")), ErrOverfill)

	require.NoError(t, book.Fill("S1", d("0.5")))
	_, ok = book.Entry("S1")
	require.False(t, ok)
	_, ok = book.BestAsk()
	require.False(t, ok)
}

func TestRemoveDropsEmptyLevel(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	require.NoError(t, book.Insert(entry("B1", SideBuy, "100", "1")))
	require.NoError(t, book.Insert(entry("B2", SideBuy, "99", "1")))

	removed, ok := book.Remove("B1")
	require.True(t, ok)
	require.Equal(t, "B1", removed.OrderID)

	bid, ok := book.BestBid()
	require.True(t, ok)
	require.True(t, bid.Equal(d("99")))

	_, ok = book.Remove("B1")
	require.False(t, ok)
}

func TestInsertDuplicateRejected(t *testing.T) {
	book := NewOrderBook("ETH/USD")
	require.NoError(t, book.Insert(entry("B1", SideBuy, "100", "1")))
	require.Error(t, book.Insert(entry("B1", SideBuy, "100", "1")))
}
