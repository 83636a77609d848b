package domain

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/errs"
)

// BookEntry 订单簿中的一条挂单。LockID 为该挂单占用的资金锁，
// 随部分成交后的重新锁定而更新。
type BookEntry struct {
	OrderID   string
	AccountID string
	Side      Side
	Price     decimal.Decimal
	Remaining decimal.Decimal
	LockID    string
	seq       uint64
}

// Match 一笔撮合提案：taker 吃掉 maker 的挂单量，按 maker 价格成交。
type Match struct {
	MakerOrderID string
	TakerOrderID string
	Maker        *BookEntry
	Price        decimal.Decimal
	Amount       decimal.Decimal
}

// priceLevel 同一价格档位的挂单队列，先到先撮合。
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List
}

type entryRef struct {
	level *priceLevel
	elem  *list.Element
}

// OrderBook 单交易对的内存订单簿，价格优先、同价时间优先。
// 撮合提案与簿内更新分离：Propose 只读，成交落账后由调用方 Fill 回写。
type OrderBook struct {
	mu     sync.Mutex
	symbol string
	// bids 按价格降序，asks 按价格升序。
	bids  []*priceLevel
	asks  []*priceLevel
	index map[string]*entryRef
	seq   uint64
}

// NewOrderBook 创建空订单簿。
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		index:  make(map[string]*entryRef),
	}
}

// Insert 把挂单加入订单簿。重复订单号拒绝。
func (b *OrderBook) Insert(entry *BookEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[entry.OrderID]; ok {
		return errs.Validation("order %s already in book", entry.OrderID)
	}
	b.seq++
	entry.seq = b.seq

	level := b.levelFor(entry.Side, entry.Price)
	elem := level.orders.PushBack(entry)
	b.index[entry.OrderID] = &entryRef{level: level, elem: elem}
	return nil
}

// Remove 把挂单移出订单簿，返回被移除的挂单。
func (b *OrderBook) Remove(orderID string) (*BookEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(orderID)
}

func (b *OrderBook) removeLocked(orderID string) (*BookEntry, bool) {
	ref, ok := b.index[orderID]
	if !ok {
		return nil, false
	}
	entry := ref.elem.Value.(*BookEntry)
	ref.level.orders.Remove(ref.elem)
	delete(b.index, orderID)
	if ref.level.orders.Len() == 0 {
		b.dropLevel(entry.Side, entry.Price)
	}
	return entry, true
}

// Fill 在一笔成交落账后扣减挂单剩余量，扣到零自动出簿。
func (b *OrderBook) Fill(orderID string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref, ok := b.index[orderID]
	if !ok {
		return errs.Validation("order %s not in book", orderID)
	}
	entry := ref.elem.Value.(*BookEntry)
	if amount.GreaterThan(entry.Remaining) {
		return errs.Mark(
			fmt.Errorf("%w: filling %s of %s with %s in book", ErrOverfill, amount, orderID, entry.Remaining),
			errs.KindInternal)
	}
	entry.Remaining = entry.Remaining.Sub(amount)
	if entry.Remaining.IsZero() {
		b.removeLocked(orderID)
	}
	return nil
}

// SetLock 更新挂单占用的资金锁。
func (b *OrderBook) SetLock(orderID, lockID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ref, ok := b.index[orderID]; ok {
		ref.elem.Value.(*BookEntry).LockID = lockID
	}
}

// Entry 返回挂单的当前快照。
func (b *OrderBook) Entry(orderID string) (BookEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.index[orderID]
	if !ok {
		return BookEntry{}, false
	}
	return *ref.elem.Value.(*BookEntry), true
}

// BestBid 返回买一价。
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].price, true
}

// BestAsk 返回卖一价。
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.asks) == 0 {
		return decimal.Zero, false
	}
	return b.asks[0].price, true
}

// Propose 为 taker 生成撮合提案：价格交叉的对手档位按价格优先、
// 同价先到先撮合，以 maker 价格成交。maxIterations 限制检视的挂单数，
// 保证撮合必然终止。Propose 不修改订单簿。
func (b *OrderBook) Propose(takerOrderID string, maxIterations int) []Match {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref, ok := b.index[takerOrderID]
	if !ok {
		return nil
	}
	taker := ref.elem.Value.(*BookEntry)
	remaining := taker.Remaining

	opposite := b.asks
	crosses := func(makerPrice decimal.Decimal) bool { return makerPrice.LessThanOrEqual(taker.Price) }
	if taker.Side == SideSell {
		opposite = b.bids
		crosses = func(makerPrice decimal.Decimal) bool { return makerPrice.GreaterThanOrEqual(taker.Price) }
	}

	var matches []Match
	iterations := 0
	for _, level := range opposite {
		if !crosses(level.price) || !remaining.IsPositive() || iterations >= maxIterations {
			break
		}
		for elem := level.orders.Front(); elem != nil; elem = elem.Next() {
			if !remaining.IsPositive() || iterations >= maxIterations {
				break
			}
			iterations++
			maker := elem.Value.(*BookEntry)
			amount := decimal.Min(remaining, maker.Remaining)
			if !amount.IsPositive() {
				continue
			}
			makerCopy := *maker
			matches = append(matches, Match{
				MakerOrderID: maker.OrderID,
				TakerOrderID: takerOrderID,
				Maker:        &makerCopy,
				Price:        maker.Price,
				Amount:       amount,
			})
			remaining = remaining.Sub(amount)
		}
	}
	return matches
}

func (b *OrderBook) levelFor(side Side, price decimal.Decimal) *priceLevel {
	levels := &b.asks
	less := func(i int) bool { return (*levels)[i].price.GreaterThanOrEqual(price) }
	if side == SideBuy {
		levels = &b.bids
		less = func(i int) bool { return (*levels)[i].price.LessThanOrEqual(price) }
	}

	i := sort.Search(len(*levels), less)
	if i < len(*levels) && (*levels)[i].price.Equal(price) {
		return (*levels)[i]
	}
	level := &priceLevel{price: price, orders: list.New()}
	*levels = append(*levels, nil)
	copy((*levels)[i+1:], (*levels)[i:])
	(*levels)[i] = level
	return level
}

func (b *OrderBook) dropLevel(side Side, price decimal.Decimal) {
	levels := &b.asks
	if side == SideBuy {
		levels = &b.bids
	}
	for i, level := range *levels {
		if level.price.Equal(price) {
			*levels = append((*levels)[:i], (*levels)[i+1:]...)
			return
		}
	}
}
