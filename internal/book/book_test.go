package book

import "testing"

func newIDSeq() func() int64 {
	var next int64
	return func() int64 {
		next++
		return next
	}
}

func TestPriceTimePriority(t *testing.T) {
	b := New("XAU-PERP", true, newIDSeq())

	o1 := &Order{ID: 1, UserID: "user1", Side: Buy, Type: Limit, Price: 100, OrigQty: 2, RemainingQty: 2, Status: StatusOpen}
	o2 := &Order{ID: 2, UserID: "user2", Side: Buy, Type: Limit, Price: 100, OrigQty: 3, RemainingQty: 3, Status: StatusOpen}
	o3 := &Order{ID: 3, UserID: "user3", Side: Sell, Type: Market, OrigQty: 4, RemainingQty: 4, Status: StatusOpen}

	if _, _, err := b.Add(o1); err != nil {
		t.Fatalf("resting o1: %v", err)
	}
	if _, _, err := b.Add(o2); err != nil {
		t.Fatalf("resting o2: %v", err)
	}

	trades, _, err := b.Add(o3)
	if err != nil {
		t.Fatalf("market sell: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].MakerOrderID != 1 || trades[0].Qty != 2 {
		t.Fatalf("expected first trade to fill o1 for qty 2, got %+v", trades[0])
	}
	if trades[1].MakerOrderID != 2 || trades[1].Qty != 2 {
		t.Fatalf("expected second trade to fill o2 for qty 2, got %+v", trades[1])
	}
	if o2.RemainingQty != 1 || o2.Status != StatusPartial {
		t.Fatalf("expected o2 to rest with remaining 1, got qty=%d status=%v", o2.RemainingQty, o2.Status)
	}
	if o1.Status != StatusFilled {
		t.Fatalf("expected o1 fully filled")
	}
	if o3.Status != StatusFilled {
		t.Fatalf("expected market order fully filled")
	}
}

func TestSelfTradePreventionCancelsResting(t *testing.T) {
	b := New("XAU-PERP", true, newIDSeq())

	resting := &Order{ID: 1, UserID: "user1", Side: Buy, Type: Limit, Price: 100, OrigQty: 1, RemainingQty: 1, Status: StatusOpen}
	if _, _, err := b.Add(resting); err != nil {
		t.Fatalf("resting: %v", err)
	}

	taker := &Order{ID: 2, UserID: "user1", Side: Sell, Type: Market, OrigQty: 1, RemainingQty: 1, Status: StatusOpen}
	trades, cancels, err := b.Add(taker)
	if err == nil {
		t.Fatalf("expected ErrUnfilled, got nil")
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trade recorded, got %d", len(trades))
	}
	if len(cancels) != 1 || cancels[0].OrderID != 1 {
		t.Fatalf("expected resting order 1 to be cancelled, got %+v", cancels)
	}
	if resting.Status != StatusCancelled {
		t.Fatalf("expected resting order status cancelled, got %v", resting.Status)
	}
	if taker.Status != StatusCancelled {
		t.Fatalf("expected taker market order status cancelled (unfilled), got %v", taker.Status)
	}
}

func TestPostOnlyRejectsWhenCrossing(t *testing.T) {
	b := New("XAU-PERP", true, newIDSeq())

	resting := &Order{ID: 1, UserID: "user1", Side: Sell, Type: Limit, Price: 100, OrigQty: 1, RemainingQty: 1, Status: StatusOpen}
	if _, _, err := b.Add(resting); err != nil {
		t.Fatalf("resting: %v", err)
	}

	po := &Order{ID: 2, UserID: "user2", Side: Buy, Type: PostOnly, Price: 100, OrigQty: 1, RemainingQty: 1, Status: StatusOpen}
	_, _, err := b.Add(po)
	if err == nil {
		t.Fatalf("expected would-cross rejection")
	}
	if po.Status != StatusRejected {
		t.Fatalf("expected rejected status, got %v", po.Status)
	}
}

func TestCancelThenCancelAgainNotFound(t *testing.T) {
	b := New("XAU-PERP", true, newIDSeq())
	o := &Order{ID: 1, UserID: "user1", Side: Buy, Type: Limit, Price: 100, OrigQty: 1, RemainingQty: 1, Status: StatusOpen}
	if _, _, err := b.Add(o); err != nil {
		t.Fatalf("resting: %v", err)
	}
	if _, err := b.Cancel(1); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := b.Cancel(1); err == nil {
		t.Fatalf("expected second cancel to fail")
	}
}

func TestModifyQtyDecreaseKeepsPriority(t *testing.T) {
	b := New("XAU-PERP", true, newIDSeq())
	o := &Order{ID: 1, UserID: "user1", Side: Buy, Type: Limit, Price: 100, OrigQty: 5, RemainingQty: 5, Status: StatusOpen}
	if _, _, err := b.Add(o); err != nil {
		t.Fatalf("resting: %v", err)
	}
	newQty := int64(2)
	modified, err := b.Modify(1, nil, &newQty)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if modified.RemainingQty != 2 {
		t.Fatalf("expected remaining qty 2, got %d", modified.RemainingQty)
	}
	if modified.OrigQty != 5 {
		t.Fatalf("in-place quantity decrease must not touch OrigQty, got %d", modified.OrigQty)
	}
}

func TestBBOAndDepth(t *testing.T) {
	b := New("XAU-PERP", true, newIDSeq())
	b.Add(&Order{ID: 1, UserID: "u1", Side: Buy, Type: Limit, Price: 99, OrigQty: 1, RemainingQty: 1, Status: StatusOpen})
	b.Add(&Order{ID: 2, UserID: "u2", Side: Buy, Type: Limit, Price: 100, OrigQty: 1, RemainingQty: 1, Status: StatusOpen})
	b.Add(&Order{ID: 3, UserID: "u3", Side: Sell, Type: Limit, Price: 105, OrigQty: 2, RemainingQty: 2, Status: StatusOpen})

	bid, bidOK, ask, askOK := b.BBO()
	if !bidOK || bid != 100 {
		t.Fatalf("expected best bid 100, got %d ok=%v", bid, bidOK)
	}
	if !askOK || ask != 105 {
		t.Fatalf("expected best ask 105, got %d ok=%v", ask, askOK)
	}

	bids, asks := b.Depth(10)
	if len(bids) != 2 || bids[0].Price != 100 {
		t.Fatalf("expected bids sorted descending starting at 100, got %+v", bids)
	}
	if len(asks) != 1 || asks[0].Qty != 2 {
		t.Fatalf("expected single ask level qty 2, got %+v", asks)
	}
}
