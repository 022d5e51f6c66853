package hedge

import (
	"context"
	"testing"
	"time"

	"exchange-core/internal/catalog"
	"exchange-core/internal/streamhub"
)

type recordingBroker struct {
	calls   chan Intent
	proceed chan struct{} // if non-nil, Hedge blocks until a signal arrives
}

func (r *recordingBroker) Hedge(ctx context.Context, intent Intent) error {
	if r.proceed != nil {
		<-r.proceed
	}
	r.calls <- intent
	return nil
}

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Put(catalog.Product{
		Symbol:               "BTC-PERP",
		Active:               true,
		Hedgeable:            true,
		HedgeDeadband:        10,
		HedgeThrottleSeconds: 5,
	})
	return c
}

func TestDeadbandSuppressesSmallImbalance(t *testing.T) {
	broker := &recordingBroker{calls: make(chan Intent, 1)}
	hub := streamhub.New(8)
	e := New(testCatalog(), hub, broker, LogAlerter{}, 3, 10, 5*time.Second)

	e.OnFill(context.Background(), "BTC-PERP", 8)

	select {
	case intent := <-broker.calls:
		t.Fatalf("expected no hedge dispatch under the deadband, got %+v", intent)
	case <-time.After(100 * time.Millisecond):
	}
	if got := e.NetExposure("BTC-PERP"); got != 8 {
		t.Fatalf("expected tracked net exposure 8, got %d", got)
	}
}

func TestCrossingDeadbandDispatchesHedge(t *testing.T) {
	broker := &recordingBroker{calls: make(chan Intent, 1)}
	hub := streamhub.New(8)
	e := New(testCatalog(), hub, broker, LogAlerter{}, 3, 10, 5*time.Second)

	e.OnFill(context.Background(), "BTC-PERP", 8)
	e.OnFill(context.Background(), "BTC-PERP", 4) // net now 12, crosses deadband of 10

	select {
	case intent := <-broker.calls:
		if intent.Symbol != "BTC-PERP" {
			t.Fatalf("expected BTC-PERP intent, got %+v", intent)
		}
		if intent.SignedQty != -12 {
			t.Fatalf("expected hedge intent to trade -12 (flattening +12 exposure), got %d", intent.SignedQty)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for hedge dispatch")
	}
}

func TestAtMostOneInFlightPerSymbol(t *testing.T) {
	broker := &recordingBroker{calls: make(chan Intent, 8), proceed: make(chan struct{})}
	hub := streamhub.New(8)
	e := New(testCatalog(), hub, broker, LogAlerter{}, 3, 10, 5*time.Second)

	// The first fill crosses the deadband and starts an in-flight dispatch
	// that blocks on broker.proceed. While it's blocked, a second fill
	// crossing the deadband again must NOT start a second dispatch.
	e.OnFill(context.Background(), "BTC-PERP", 20)
	time.Sleep(50 * time.Millisecond) // let the first dispatch goroutine set inFlight
	e.OnFill(context.Background(), "BTC-PERP", 20)

	close(broker.proceed)

	select {
	case <-broker.calls:
	case <-time.After(time.Second):
		t.Fatalf("expected exactly one hedge dispatch")
	}

	select {
	case extra := <-broker.calls:
		t.Fatalf("expected at most one in-flight intent, got a second dispatch %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
