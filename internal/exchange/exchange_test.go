package exchange

import (
	"testing"
	"time"

	"exchange-core/internal/book"
	"exchange-core/internal/catalog"
	"exchange-core/internal/clock"
	"exchange-core/internal/journal"
	"exchange-core/internal/matching"
	"exchange-core/internal/oracle"
	"exchange-core/internal/position"
	"exchange-core/internal/streamhub"
)

func testExchange(t *testing.T) *Exchange {
	t.Helper()
	cat := catalog.New()
	cat.Put(catalog.Product{
		Symbol:                "BTC-PERP",
		ExternalSymbol:        "BTCUSDT",
		ExternalIsQuoteNative: true,
		TickSize:              1,
		LotSize:               1,
		LeverageCap:           20,
		MaintenanceMarginBps:  50,
		InitialMarginBps:      500,
		MinOrderQty:           1,
		MaxOrderQty:           1_000_000,
		Active:                true,
	})

	orc := oracle.New(cat, 5*time.Second)
	if err := orc.ApplyTick(oracle.Tick{ExternalSymbol: "BTCUSDT", Bid: 99, Ask: 101, Timestamp: time.Now()}); err != nil {
		t.Fatalf("seed mark: %v", err)
	}

	positions := position.New(cat, 0)
	positions.Deposit("user1", 10_000_000)
	positions.Deposit("user2", 10_000_000)

	dir := t.TempDir()
	j, err := journal.Open(dir, 64, 0)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	hub := streamhub.New(64)
	clk := clock.New(0)
	ids := clock.NewIDAllocator(0)

	return New(cat, clk, ids, orc, positions, j, hub, nil, nil, Config{SelfTradePrevention: true})
}

func TestSubmitCancelQueryRoundTrip(t *testing.T) {
	ex := testExchange(t)

	order, _, err := ex.Submit(submitRequestFor("user1", book.Buy, book.Limit, 100, 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	bid, bidOK, _, _ := ex.GetBBO("BTC-PERP")
	if !bidOK || bid != 100 {
		t.Fatalf("expected best bid 100, got %d ok=%v", bid, bidOK)
	}

	open := ex.GetOrdersOpen("BTC-PERP", "user1")
	if len(open) != 1 || open[0].ID != order.ID {
		t.Fatalf("expected the resting order in get_orders_open, got %+v", open)
	}

	if _, err := ex.Cancel("BTC-PERP", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	open = ex.GetOrdersOpen("BTC-PERP", "user1")
	if len(open) != 0 {
		t.Fatalf("expected no open orders after cancel, got %+v", open)
	}
}

func TestSubmitMatchUpdatesAccountsAndMark(t *testing.T) {
	ex := testExchange(t)

	if _, _, err := ex.Submit(submitRequestFor("user1", book.Sell, book.Limit, 100, 2)); err != nil {
		t.Fatalf("resting sell: %v", err)
	}
	if _, trades, err := ex.Submit(submitRequestFor("user2", book.Buy, book.Market, 0, 2)); err != nil || len(trades) != 1 {
		t.Fatalf("market buy: trades=%d err=%v", len(trades), err)
	}

	pos := ex.GetPosition("user2", "BTC-PERP")
	if pos.Size != 2 {
		t.Fatalf("expected buyer long 2, got %d", pos.Size)
	}

	mark, err := ex.GetMark("BTC-PERP")
	if err != nil {
		t.Fatalf("get mark: %v", err)
	}
	if mark.Price <= 0 {
		t.Fatalf("expected a published mark price, got %v", mark.Price)
	}
}

func submitRequestFor(userID string, side book.Side, typ book.OrderType, price, qty int64) matching.SubmitRequest {
	return matching.SubmitRequest{UserID: userID, Symbol: "BTC-PERP", Side: side, Type: typ, Price: price, Qty: qty}
}
