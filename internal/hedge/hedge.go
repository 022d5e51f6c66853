// Package hedge implements the Hedge Engine: it aggregates net customer
// exposure per symbol, and when the imbalance exceeds a deadband
// and the throttle interval has elapsed, emits at most one in-flight hedge
// intent per symbol to an external broker adapter, retrying with backoff
// and alerting on repeated failure.
package hedge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"exchange-core/internal/catalog"
	"exchange-core/internal/monitor"
	"exchange-core/internal/streamhub"
)

// Intent is a request to trade signedQty of symbol on the external venue to
// flatten net exposure.
type Intent struct {
	Symbol     string
	SignedQty  int64
	Generation int64
	Key        string // idempotency key: "<symbol>:<generation>"
}

// Broker is the venue-agnostic adapter the hedge engine drives. Production
// wiring supplies a real execution adapter; tests and demos may supply a
// no-op or simulated one.
type Broker interface {
	Hedge(ctx context.Context, intent Intent) error
}

// Alerter receives a notice when a symbol's hedge has failed repeatedly and
// needs human attention.
type Alerter interface {
	Alert(symbol string, intent Intent, err error)
}

// LogAlerter is the reference Alerter: it logs, nothing more.
type LogAlerter struct{}

func (LogAlerter) Alert(symbol string, intent Intent, err error) {
	log.Printf("hedge: ALERT symbol=%s intent=%+v exhausted retries: %v", symbol, intent, err)
}

type symbolState struct {
	mu         sync.Mutex
	netQty     int64
	generation int64
	inFlight   bool
	limiter    *rate.Limiter
}

// Engine owns per-symbol exposure tracking and hedge dispatch.
type Engine struct {
	catalog         *catalog.Catalog
	hub             *streamhub.Hub
	broker          Broker
	alerter         Alerter
	maxRetry        int
	defaultDeadband int64
	defaultThrottle time.Duration

	mu      sync.Mutex
	state   map[string]*symbolState
	metrics *monitor.SystemMetrics
}

// SetMetrics wires a metrics sink so dispatch records hedge-dispatch
// latency and counters. Optional: a nil sink (the default) just skips
// recording.
func (e *Engine) SetMetrics(m *monitor.SystemMetrics) {
	e.metrics = m
}

// New creates a Hedge Engine. Per-symbol deadband and throttle come from
// catalog.Product.HedgeDeadband and HedgeThrottleSeconds; defaultDeadband
// and defaultThrottle apply to any product that doesn't carry its own
// (HedgeDeadband <= 0 or HedgeThrottleSeconds <= 0).
func New(cat *catalog.Catalog, hub *streamhub.Hub, broker Broker, alerter Alerter, maxRetry int, defaultDeadband int64, defaultThrottle time.Duration) *Engine {
	if alerter == nil {
		alerter = LogAlerter{}
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	if defaultThrottle <= 0 {
		defaultThrottle = 5 * time.Second
	}
	return &Engine{
		catalog:         cat,
		hub:             hub,
		broker:          broker,
		alerter:         alerter,
		maxRetry:        maxRetry,
		defaultDeadband: defaultDeadband,
		defaultThrottle: defaultThrottle,
		state:           make(map[string]*symbolState),
	}
}

func (e *Engine) stateFor(symbol string) *symbolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[symbol]
	if ok {
		return st
	}
	prod, err := e.catalog.Get(symbol)
	throttle := prod.HedgeThrottle()
	if err != nil || throttle <= 0 {
		throttle = e.defaultThrottle
	}
	st = &symbolState{limiter: rate.NewLimiter(rate.Every(throttle), 1)}
	e.state[symbol] = st
	return st
}

// OnFill updates net exposure for symbol by signedDelta (the matching
// engine reports the taker's signed fill quantity, positive when the taker
// bought) and, if the resulting
// imbalance clears the deadband and the throttle allows it, dispatches a
// hedge intent asynchronously. At most one intent is ever in flight per
// symbol; a fill arriving mid-dispatch only updates netQty and is picked
// up by the next eligible tick.
func (e *Engine) OnFill(ctx context.Context, symbol string, signedDelta int64) {
	st := e.stateFor(symbol)

	st.mu.Lock()
	st.netQty += signedDelta
	prod, err := e.catalog.Get(symbol)
	if err != nil {
		st.mu.Unlock()
		return
	}
	deadband := prod.HedgeDeadband
	if deadband <= 0 {
		deadband = e.defaultDeadband
	}
	if abs64(st.netQty) < deadband {
		st.mu.Unlock()
		return
	}
	if st.inFlight {
		st.mu.Unlock()
		return
	}
	if !st.limiter.Allow() {
		st.mu.Unlock()
		return
	}

	st.generation++
	intent := Intent{
		Symbol:     symbol,
		SignedQty:  -st.netQty, // trade opposite to the tracked exposure to flatten it
		Generation: st.generation,
	}
	intent.Key = fmt.Sprintf("%s:%d", symbol, intent.Generation)
	st.inFlight = true
	st.mu.Unlock()

	go e.dispatch(ctx, st, intent)
}

func (e *Engine) dispatch(ctx context.Context, st *symbolState, intent Intent) {
	if e.metrics != nil {
		timer := monitor.NewTimer(e.metrics.HedgeLatency)
		defer timer.Stop()
	}
	defer func() {
		st.mu.Lock()
		st.inFlight = false
		st.mu.Unlock()
	}()

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < e.maxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := e.broker.Hedge(ctx, intent); err != nil {
			lastErr = err
			continue
		}

		st.mu.Lock()
		st.netQty += intent.SignedQty
		st.mu.Unlock()

		e.hub.Publish(streamhub.Event{
			Channel: streamhub.ChannelPosition,
			Symbol:  intent.Symbol,
			Payload: intent,
		})
		if e.metrics != nil {
			e.metrics.IncrementHedges()
		}
		return
	}

	if e.metrics != nil {
		e.metrics.IncrementErrors()
	}
	e.alerter.Alert(intent.Symbol, intent, lastErr)
}

// NetExposure returns the current tracked net exposure for symbol.
func (e *Engine) NetExposure(symbol string) int64 {
	st := e.stateFor(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.netQty
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
