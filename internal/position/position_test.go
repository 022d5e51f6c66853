package position

import (
	"testing"

	"exchange-core/internal/catalog"
)

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Put(catalog.Product{
		Symbol:               "XAU-PERP",
		LeverageCap:          10,
		MaintenanceMarginBps: 100,
		InitialMarginBps:     1000,
		MinOrderQty:          1,
		MaxOrderQty:          1000000,
		Active:               true,
	})
	return c
}

func TestApplyFillWeightedAverageEntry(t *testing.T) {
	m := New(testCatalog(), 0)
	m.Deposit("user1", 1_000_000)

	if _, err := m.ApplyFill("user1", "XAU-PERP", 1, 10000, 10000); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	result, err := m.ApplyFill("user1", "XAU-PERP", 2, 11500, 11500)
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if result.Position.Size != 3 {
		t.Fatalf("expected size 3, got %d", result.Position.Size)
	}
	if result.Position.Entry != 11000 {
		t.Fatalf("expected weighted-average entry 11000, got %d", result.Position.Entry)
	}
}

func TestApplyFillReversalRealizesPnL(t *testing.T) {
	m := New(testCatalog(), 0)
	m.Deposit("user1", 1_000_000)

	if _, err := m.ApplyFill("user1", "XAU-PERP", 2, 10000, 10000); err != nil {
		t.Fatalf("open long: %v", err)
	}
	result, err := m.ApplyFill("user1", "XAU-PERP", -3, 12000, 12000)
	if err != nil {
		t.Fatalf("reversing sell: %v", err)
	}
	if result.RealizedDelta != 4000 {
		t.Fatalf("expected realized P&L 4000, got %d", result.RealizedDelta)
	}
	if result.Position.Size != -1 {
		t.Fatalf("expected resulting short position of 1, got %d", result.Position.Size)
	}
	if result.Position.Entry != 12000 {
		t.Fatalf("expected new short entry 12000, got %d", result.Position.Entry)
	}
}

func TestApplyFillFlattenIsExactZero(t *testing.T) {
	m := New(testCatalog(), 0)
	m.Deposit("user1", 1_000_000)

	if _, err := m.ApplyFill("user1", "XAU-PERP", 5, 10000, 10000); err != nil {
		t.Fatalf("open: %v", err)
	}
	result, err := m.ApplyFill("user1", "XAU-PERP", -5, 11000, 11000)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.Position.Size != 0 || result.Position.Entry != 0 || result.Position.MarginReserved != 0 {
		t.Fatalf("expected exact-zero flattened position, got %+v", result.Position)
	}
}

func TestAvailableMarginNonNegativeInvariant(t *testing.T) {
	m := New(testCatalog(), 0)
	m.Deposit("user1", 10_000)

	// Required initial margin for qty 100 @ price 10000 at 1000bps = 100000.
	err := m.CheckMarginForOrder("user1", map[string]int64{"XAU-PERP": 10000}, 100_000)
	if err == nil {
		t.Fatalf("expected insufficient margin rejection")
	}
}

func TestMarkToMarketFlagsAtRiskPosition(t *testing.T) {
	m := New(testCatalog(), 0)
	m.Deposit("user1", 1000)

	if _, err := m.ApplyFill("user1", "XAU-PERP", 10, 10000, 10000); err != nil {
		t.Fatalf("open: %v", err)
	}
	// Mark collapses hard against the long; equity should fall below
	// maintenance margin.
	atRisk, risky := m.MarkToMarket("user1", map[string]int64{"XAU-PERP": 100})
	if !risky || atRisk == nil {
		t.Fatalf("expected position to be flagged at risk")
	}
}

func TestMarkToMarketBoundaryIsInclusive(t *testing.T) {
	m := New(testCatalog(), 0)
	m.Deposit("user1", 100)

	if _, err := m.ApplyFill("user1", "XAU-PERP", 1, 10000, 10000); err != nil {
		t.Fatalf("open: %v", err)
	}

	// At mark 10000, equity (100 + upl 0 = 100) lands exactly on
	// maintenance margin (ceil(10000*1*100/10000) = 100): must liquidate.
	if _, risky := m.MarkToMarket("user1", map[string]int64{"XAU-PERP": 10000}); !risky {
		t.Fatalf("expected liquidation at exact equity == maintenance margin")
	}

	// At mark 10050, equity (150) clears maintenance margin (101):
	// must not liquidate.
	if _, risky := m.MarkToMarket("user1", map[string]int64{"XAU-PERP": 10050}); risky {
		t.Fatalf("expected no liquidation once equity exceeds maintenance margin")
	}
}
