package monitor

import "testing"

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(10)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		h.Record(v)
	}
	stats := h.Stats()
	if stats.Count != 5 {
		t.Fatalf("expected 5 samples, got %d", stats.Count)
	}
	if stats.Min != 1 || stats.Max != 5 {
		t.Fatalf("expected min=1 max=5, got min=%v max=%v", stats.Min, stats.Max)
	}
	if stats.Avg != 3 {
		t.Fatalf("expected avg 3, got %v", stats.Avg)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{1, 2, 3, 4} {
		h.Record(v)
	}
	stats := h.Stats()
	if stats.Count != 3 {
		t.Fatalf("expected window capped at 3 samples, got %d", stats.Count)
	}
	if stats.Min != 2 {
		t.Fatalf("expected oldest sample evicted, min should be 2, got %v", stats.Min)
	}
}

func TestSystemMetricsSnapshotCounters(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementOrders()
	m.IncrementOrders()
	m.IncrementTrades()
	m.IncrementErrors()

	snap := m.GetSnapshot()
	if snap.OrdersProcessed != 2 {
		t.Fatalf("expected 2 orders processed, got %d", snap.OrdersProcessed)
	}
	if snap.TradesProcessed != 1 {
		t.Fatalf("expected 1 trade processed, got %d", snap.TradesProcessed)
	}
	if snap.ErrorsCount != 1 {
		t.Fatalf("expected 1 error, got %d", snap.ErrorsCount)
	}
}
