package oracle

import (
	"testing"
	"time"

	"exchange-core/internal/catalog"
)

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Put(catalog.Product{
		Symbol:                "BTC-PERP",
		ExternalSymbol:        "BTCUSDT",
		ExternalIsQuoteNative: true,
		Active:                true,
	})
	return c
}

func TestApplyTickPublishesMid(t *testing.T) {
	o := New(testCatalog(), 5*time.Second)
	now := time.Now()
	if err := o.ApplyTick(Tick{ExternalSymbol: "BTCUSDT", Bid: 99, Ask: 101, Timestamp: now}); err != nil {
		t.Fatalf("apply tick: %v", err)
	}
	mark, err := o.Get("BTC-PERP", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if mark.Price != 100 {
		t.Fatalf("expected mid price 100, got %v", mark.Price)
	}
	if mark.Source != SourceOracle {
		t.Fatalf("expected fresh mark sourced from oracle, got %v", mark.Source)
	}
}

func TestApplyTickDropsOutOfOrder(t *testing.T) {
	o := New(testCatalog(), 5*time.Second)
	now := time.Now()
	o.ApplyTick(Tick{ExternalSymbol: "BTCUSDT", Bid: 99, Ask: 101, Timestamp: now})
	// an older tick must not overwrite the newer published mark.
	o.ApplyTick(Tick{ExternalSymbol: "BTCUSDT", Bid: 1, Ask: 1, Timestamp: now.Add(-time.Minute)})

	mark, _ := o.Get("BTC-PERP", now)
	if mark.Price != 100 {
		t.Fatalf("expected out-of-order tick to be dropped, mark still 100, got %v", mark.Price)
	}
}

func TestStalenessTagging(t *testing.T) {
	o := New(testCatalog(), 5*time.Second)
	now := time.Now()
	o.ApplyTick(Tick{ExternalSymbol: "BTCUSDT", Bid: 99, Ask: 101, Timestamp: now})

	future := now.Add(10 * time.Second)
	if !o.IsStale("BTC-PERP", future) {
		t.Fatalf("expected mark to be stale after feed gap exceeding threshold")
	}
}

func TestOnDisconnectTagsStaleButRetainsValue(t *testing.T) {
	o := New(testCatalog(), 5*time.Second)
	now := time.Now()
	o.ApplyTick(Tick{ExternalSymbol: "BTCUSDT", Bid: 99, Ask: 101, Timestamp: now})

	o.OnDisconnect()
	mark, err := o.Get("BTC-PERP", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if mark.Source != SourceStale {
		t.Fatalf("expected stale source after disconnect, got %v", mark.Source)
	}
	if mark.Price != 100 {
		t.Fatalf("expected last-known price retained, got %v", mark.Price)
	}
}
