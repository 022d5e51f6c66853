// Package oracle implements the Mark-price Oracle: it fuses an external
// streaming bid/ask feed with a reference rate into a published mark
// price per symbol, publishing each update via an atomic pointer swap
// so readers (Position Manager, Stream Hub) never block on a lock.
package oracle

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"exchange-core/internal/catalog"
	"exchange-core/internal/errs"
	"exchange-core/internal/monitor"
	"exchange-core/internal/streamhub"
)

// Source tags where a mark price came from.
type Source int8

const (
	SourceOracle Source = iota
	SourceFallback
	SourceStale
)

// Mark is an immutable per-symbol record. New marks replace old ones by
// atomic pointer swap; a reader that captures a *Mark never observes a
// partially-updated record.
type Mark struct {
	Symbol    string
	Price     float64
	UpdatedAt time.Time
	Source    Source
}

// Tick is a push record from the external feed: {external_symbol, bid, ask, ts}.
type Tick struct {
	ExternalSymbol string
	Bid            float64
	Ask            float64
	Timestamp      time.Time
}

// Oracle holds the latest published Mark per symbol behind atomic.Pointer,
// plus the staleness bookkeeping needed to tag marks "stale" on feed gaps.
type Oracle struct {
	catalog            *catalog.Catalog
	stalenessThreshold time.Duration

	mu     sync.RWMutex
	marks  map[string]*atomic.Pointer[Mark]
	extIdx map[string]string // external_symbol -> catalog symbol

	connected atomic.Bool

	hub      *streamhub.Hub
	onUpdate func(symbol string, mark Mark)
	metrics  *monitor.SystemMetrics
}

// SetMetrics wires a metrics sink so ApplyTick records ingestion latency
// and tick counters. Optional: a nil sink (the default) just skips
// recording.
func (o *Oracle) SetMetrics(m *monitor.SystemMetrics) {
	o.metrics = m
}

// SetHub wires the Stream Hub so every accepted tick republishes a quote
// event. Optional: a nil hub (the default) just skips publish.
func (o *Oracle) SetHub(hub *streamhub.Hub) {
	o.hub = hub
}

// SetOnUpdate registers a callback invoked after every accepted mark
// update, used to drive the Position Manager's mark-to-market sweep.
// Optional.
func (o *Oracle) SetOnUpdate(fn func(symbol string, mark Mark)) {
	o.onUpdate = fn
}

// New creates an Oracle bound to the product catalog.
func New(cat *catalog.Catalog, stalenessThreshold time.Duration) *Oracle {
	o := &Oracle{
		catalog:            cat,
		stalenessThreshold: stalenessThreshold,
		marks:              make(map[string]*atomic.Pointer[Mark]),
		extIdx:             make(map[string]string),
	}
	o.connected.Store(true)
	for _, sym := range cat.ActiveSymbols() {
		p, err := cat.Get(sym)
		if err != nil {
			continue
		}
		o.extIdx[p.ExternalSymbol] = sym
		ptr := &atomic.Pointer[Mark]{}
		ptr.Store(&Mark{Symbol: sym})
		o.marks[sym] = ptr
	}
	return o
}

// OnDisconnect marks every symbol's mark stale without destroying the
// last-known value. Reconnection republishes last-known marks before
// applying fresh ticks, so readers never see a gap where no mark exists.
func (o *Oracle) OnDisconnect() {
	o.connected.Store(false)
	log.Printf("oracle: feed disconnected, tagging marks stale")
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ptr := range o.marks {
		old := ptr.Load()
		stale := *old
		stale.Source = SourceStale
		ptr.Store(&stale)
	}
}

// OnReconnect clears the disconnected flag and republishes every
// last-known mark (still tagged stale) as a quote event; subsequent ticks
// resume publishing fresh marks.
func (o *Oracle) OnReconnect() {
	o.connected.Store(true)
	log.Printf("oracle: feed reconnected")
	if o.hub == nil {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for sym, ptr := range o.marks {
		if m := ptr.Load(); !m.UpdatedAt.IsZero() {
			o.hub.Publish(streamhub.Event{Channel: streamhub.ChannelQuote, Symbol: sym, Payload: *m})
		}
	}
}

// ApplyTick converts an external bid/ask tick into a quote-currency mark
// and publishes it. Guarantees per-symbol monotonic publish order: a tick
// older than the last published tick for its symbol is dropped.
func (o *Oracle) ApplyTick(tick Tick) error {
	if o.metrics != nil {
		timer := monitor.NewTimer(o.metrics.OracleLatency)
		defer timer.Stop()
		o.metrics.IncrementTicks()
	}

	o.mu.RLock()
	symbol, ok := o.extIdx[tick.ExternalSymbol]
	o.mu.RUnlock()
	if !ok {
		if o.metrics != nil {
			o.metrics.IncrementErrors()
		}
		return errs.ErrSymbolUnknown
	}

	ptr := o.marks[symbol]
	prev := ptr.Load()
	if !prev.UpdatedAt.IsZero() && tick.Timestamp.Before(prev.UpdatedAt) {
		return nil // out-of-order tick, drop to preserve monotonicity
	}

	mid := midOf(tick.Bid, tick.Ask)
	converted, stale, err := o.catalog.ConvertExternalPrice(symbol, mid, tick.Timestamp, o.stalenessThreshold)
	if err != nil {
		if o.metrics != nil {
			o.metrics.IncrementErrors()
		}
		return err
	}

	src := SourceOracle
	if stale {
		src = SourceFallback
	}
	mark := Mark{Symbol: symbol, Price: converted, UpdatedAt: tick.Timestamp, Source: src}
	ptr.Store(&mark)

	if o.hub != nil {
		o.hub.Publish(streamhub.Event{Channel: streamhub.ChannelQuote, Symbol: symbol, Payload: mark})
	}
	if o.onUpdate != nil {
		o.onUpdate(symbol, mark)
	}
	return nil
}

func midOf(bid, ask float64) float64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

// Get returns the current mark for symbol, with staleness recomputed
// against now. A lock-free read: Load on the atomic pointer only.
func (o *Oracle) Get(symbol string, now time.Time) (Mark, error) {
	ptr, ok := o.marks[symbol]
	if !ok {
		return Mark{}, errs.ErrSymbolUnknown
	}
	m := *ptr.Load()
	if !o.connected.Load() || (!m.UpdatedAt.IsZero() && now.Sub(m.UpdatedAt) >= o.stalenessThreshold) {
		m.Source = SourceStale
	}
	return m, nil
}

// IsStale is a convenience check used by the Matching Engine's pre-trade
// validation to reject new orders when the mark is stale.
func (o *Oracle) IsStale(symbol string, now time.Time) bool {
	m, err := o.Get(symbol, now)
	if err != nil {
		return true
	}
	return m.Source == SourceStale
}

// ApplyReferenceRate updates the external->quote-currency conversion
// scalar used by symbols whose feed is not quote-native.
func (o *Oracle) ApplyReferenceRate(rate float64, ts time.Time) {
	o.catalog.SetReferenceRate(rate, ts)
}
