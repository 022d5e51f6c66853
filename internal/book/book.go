// Package book implements the per-symbol price-time priority limit order
// book. A Book is owned by exactly one matching worker; every exported
// method assumes single-writer access and is not itself safe for
// concurrent mutation from multiple goroutines.
package book

import (
	"container/heap"

	"exchange-core/internal/errs"
)

type locatorEntry struct {
	side  Side
	price int64
}

// Book is a single symbol's limit order book.
type Book struct {
	symbol              string
	selfTradePrevention bool

	bidHeap maxPriceHeap
	askHeap minPriceHeap
	bids    map[int64][]*Order
	asks    map[int64][]*Order
	locator map[int64]locatorEntry

	nextTradeID func() int64
}

// New creates an empty book for symbol. nextTradeID allocates trade IDs
// (ordinarily clock.IDAllocator.Next); selfTradePrevention is a per-book
// setting.
func New(symbol string, selfTradePrevention bool, nextTradeID func() int64) *Book {
	return &Book{
		symbol:              symbol,
		selfTradePrevention: selfTradePrevention,
		bids:                make(map[int64][]*Order),
		asks:                make(map[int64][]*Order),
		locator:             make(map[int64]locatorEntry),
		nextTradeID:         nextTradeID,
	}
}

// Add inserts or matches a new order. o must already have its ID,
// CreatedAt, and Status=StatusOpen set by the caller (Matching Engine);
// the book assigns no order identifiers (trade IDs come from nextTradeID).
func (b *Book) Add(o *Order) ([]Trade, []CancelNotice, error) {
	if o.Type == PostOnly && b.wouldCross(o) {
		o.Status = StatusRejected
		return nil, nil, errs.ErrWouldCross
	}

	var trades []Trade
	var cancels []CancelNotice

	for o.RemainingQty > 0 {
		bestPrice, ok := b.bestOpposing(o.Side)
		if !ok {
			break
		}
		if o.Type != Market && !b.crosses(o, bestPrice) {
			break
		}

		level := b.levelFor(o.Side.Opposite(), bestPrice)
		if len(level) == 0 {
			b.dropEmptyLevel(o.Side.Opposite(), bestPrice)
			continue
		}
		maker := level[0]

		if b.selfTradePrevention && maker.UserID == o.UserID {
			b.popFront(o.Side.Opposite(), bestPrice)
			maker.Status = StatusCancelled
			delete(b.locator, maker.ID)
			cancels = append(cancels, CancelNotice{OrderID: maker.ID, UserID: maker.UserID, Reason: "self_trade_prevention"})
			continue
		}

		matchQty := minInt64(o.RemainingQty, maker.RemainingQty)
		price := maker.Price

		o.RemainingQty -= matchQty
		maker.RemainingQty -= matchQty

		trades = append(trades, Trade{
			ID:           b.nextTradeID(),
			Symbol:       b.symbol,
			Price:        price,
			Qty:          matchQty,
			MakerOrderID: maker.ID,
			TakerOrderID: o.ID,
			MakerUserID:  maker.UserID,
			TakerUserID:  o.UserID,
			TakerSide:    o.Side,
			Timestamp:    o.CreatedAt,
		})

		if maker.RemainingQty == 0 {
			maker.Status = StatusFilled
			b.popFront(o.Side.Opposite(), bestPrice)
			delete(b.locator, maker.ID)
		} else {
			maker.Status = StatusPartial
		}
	}

	if o.RemainingQty == 0 {
		o.Status = StatusFilled
		return trades, cancels, nil
	}

	switch o.Type {
	case Market, IOC:
		o.Status = StatusCancelled
		return trades, cancels, errs.ErrUnfilled
	default: // Limit, PostOnly
		if len(trades) > 0 {
			o.Status = StatusPartial
		} else {
			o.Status = StatusOpen
		}
		b.rest(o)
		return trades, cancels, nil
	}
}

// Cancel removes a resting order. Idempotent at the observable level: a
// second cancel of the same order returns ErrNotFound.
func (b *Book) Cancel(orderID int64) (*Order, error) {
	loc, ok := b.locator[orderID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	level := b.levelFor(loc.side, loc.price)
	for i, o := range level {
		if o.ID == orderID {
			level = append(level[:i], level[i+1:]...)
			b.setLevel(loc.side, loc.price, level)
			if len(level) == 0 {
				b.dropEmptyLevel(loc.side, loc.price)
			}
			delete(b.locator, orderID)
			o.Status = StatusCancelled
			return o, nil
		}
	}
	return nil, errs.ErrNotFound
}

// Modify implements cancel+re-add semantics, except a strict decrease in
// remaining quantity is applied in place to preserve queue priority. A
// price change or quantity increase loses time priority.
func (b *Book) Modify(orderID int64, newPrice *int64, newQty *int64) (*Order, error) {
	loc, ok := b.locator[orderID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	level := b.levelFor(loc.side, loc.price)
	var resting *Order
	idx := -1
	for i, o := range level {
		if o.ID == orderID {
			resting = o
			idx = i
			break
		}
	}
	if resting == nil {
		return nil, errs.ErrNotFound
	}
	if resting.IsTerminal() {
		return nil, errs.ErrTerminal
	}

	priceChanged := newPrice != nil && *newPrice != resting.Price
	qtyDecreaseOnly := newQty != nil && *newQty < resting.RemainingQty && !priceChanged
	qtyIncrease := newQty != nil && *newQty > resting.RemainingQty

	if qtyDecreaseOnly {
		resting.RemainingQty = *newQty
		resting.Status = StatusPartial
		return resting, nil
	}

	if newPrice == nil && newQty == nil {
		return nil, errs.ErrInvalidModify
	}

	// price change or quantity increase: cancel + re-add, losing priority.
	level = append(level[:idx], level[idx+1:]...)
	b.setLevel(loc.side, loc.price, level)
	if len(level) == 0 {
		b.dropEmptyLevel(loc.side, loc.price)
	}
	delete(b.locator, orderID)

	if priceChanged {
		resting.Price = *newPrice
	}
	if newQty != nil && (qtyIncrease || priceChanged) {
		resting.OrigQty += *newQty - resting.RemainingQty
		resting.RemainingQty = *newQty
	}
	resting.Status = StatusOpen
	b.rest(resting)
	return resting, nil
}

// BBO returns the best bid and best ask, each with an ok flag.
func (b *Book) BBO() (bid int64, bidOK bool, ask int64, askOK bool) {
	bid, bidOK = b.bidHeap.Peek()
	ask, askOK = b.askHeap.Peek()
	return
}

// Depth returns the top N aggregated levels per side, best-first.
func (b *Book) Depth(n int) (bids, asks []PriceLevel) {
	bids = aggregateTop(b.bids, n, true)
	asks = aggregateTop(b.asks, n, false)
	return
}

func aggregateTop(levels map[int64][]*Order, n int, descending bool) []PriceLevel {
	prices := make([]int64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	sortInt64s(prices, descending)
	if len(prices) > n {
		prices = prices[:n]
	}
	out := make([]PriceLevel, 0, len(prices))
	for _, p := range prices {
		var qty int64
		for _, o := range levels[p] {
			qty += o.RemainingQty
		}
		out = append(out, PriceLevel{Price: p, Qty: qty})
	}
	return out
}

func sortInt64s(s []int64, descending bool) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0; j-- {
			less := s[j] < s[j-1]
			if descending {
				less = s[j] > s[j-1]
			}
			if less {
				s[j], s[j-1] = s[j-1], s[j]
			} else {
				break
			}
		}
	}
}

func (b *Book) wouldCross(o *Order) bool {
	price, ok := b.bestOpposing(o.Side)
	if !ok {
		return false
	}
	return b.crosses(o, price)
}

func (b *Book) crosses(o *Order, bestOpposingPrice int64) bool {
	if o.Side == Buy {
		return o.Price >= bestOpposingPrice
	}
	return o.Price <= bestOpposingPrice
}

func (b *Book) bestOpposing(takerSide Side) (int64, bool) {
	if takerSide == Buy {
		return b.askHeap.Peek()
	}
	return b.bidHeap.Peek()
}

func (b *Book) levelFor(side Side, price int64) []*Order {
	if side == Buy {
		return b.bids[price]
	}
	return b.asks[price]
}

func (b *Book) setLevel(side Side, price int64, level []*Order) {
	if side == Buy {
		b.bids[price] = level
	} else {
		b.asks[price] = level
	}
}

func (b *Book) popFront(side Side, price int64) {
	level := b.levelFor(side, price)
	if len(level) == 0 {
		return
	}
	level = level[1:]
	b.setLevel(side, price, level)
	if len(level) == 0 {
		b.dropEmptyLevel(side, price)
	}
}

func (b *Book) dropEmptyLevel(side Side, price int64) {
	if side == Buy {
		delete(b.bids, price)
		b.removeFromHeap(&b.bidHeap, price)
	} else {
		delete(b.asks, price)
		b.removeFromHeap(&b.askHeap, price)
	}
}

func (b *Book) removeFromHeap(h heap.Interface, price int64) {
	switch typed := h.(type) {
	case *maxPriceHeap:
		for i, p := range *typed {
			if p == price {
				heap.Remove(typed, i)
				return
			}
		}
	case *minPriceHeap:
		for i, p := range *typed {
			if p == price {
				heap.Remove(typed, i)
				return
			}
		}
	}
}

// rest appends o to its level's FIFO queue, creating the level (and its
// heap entry) if this is the first order at that price.
func (b *Book) rest(o *Order) {
	if o.Side == Buy {
		if _, ok := b.bids[o.Price]; !ok {
			heap.Push(&b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if _, ok := b.asks[o.Price]; !ok {
			heap.Push(&b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.locator[o.ID] = locatorEntry{side: o.Side, price: o.Price}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
