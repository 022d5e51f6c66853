package streamhub

import (
	"testing"
	"time"
)

func TestNeverDropDeliversInOrder(t *testing.T) {
	h := New(4)
	sub := h.Subscribe(ChannelTrade, "BTC-PERP")
	defer sub.Close()

	for i := 0; i < 3; i++ {
		h.Publish(Event{Channel: ChannelTrade, Symbol: "BTC-PERP", Seq: int64(i)})
	}

	for i := 0; i < 3; i++ {
		select {
		case e := <-sub.C:
			if e.Seq != int64(i) {
				t.Fatalf("expected seq %d, got %d", i, e.Seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestCoalesceKeepsOnlyLatest(t *testing.T) {
	h := New(1)
	sub := h.Subscribe(ChannelQuote, "BTC-PERP")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		h.Publish(Event{Channel: ChannelQuote, Symbol: "BTC-PERP", Seq: int64(i)})
	}

	select {
	case e := <-sub.C:
		if e.Seq != 4 {
			t.Fatalf("expected coalesced delivery to report the latest seq 4, got %d", e.Seq)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for coalesced event")
	}

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("expected no further buffered events after coalescing")
		}
	default:
	}
}

func TestNeverDropDisconnectsOnBackpressure(t *testing.T) {
	h := New(1)
	sub := h.Subscribe(ChannelTrade, "BTC-PERP")

	h.Publish(Event{Channel: ChannelTrade, Symbol: "BTC-PERP", Seq: 1})
	// second publish finds the queue full and must disconnect rather than block.
	h.Publish(Event{Channel: ChannelTrade, Symbol: "BTC-PERP", Seq: 2})

	<-sub.C // drain the first buffered event

	_, ok := <-sub.C
	if ok {
		t.Fatalf("expected subscriber channel to be closed after backpressure disconnect")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(4)
	sub := h.Subscribe(ChannelTrade, "BTC-PERP")
	sub.Close()

	h.Publish(Event{Channel: ChannelTrade, Symbol: "BTC-PERP", Seq: 1})

	_, ok := <-sub.C
	if ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}
