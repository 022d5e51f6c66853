// Package exchange wires the domain packages into one constructor-injected
// object: no process-global singletons, every
// dependency is passed in explicitly so tests can assemble a minimal
// exchange without touching package-level state.
package exchange

import (
	"time"

	"exchange-core/internal/book"
	"exchange-core/internal/catalog"
	"exchange-core/internal/clock"
	"exchange-core/internal/hedge"
	"exchange-core/internal/journal"
	"exchange-core/internal/matching"
	"exchange-core/internal/monitor"
	"exchange-core/internal/oracle"
	"exchange-core/internal/position"
	"exchange-core/internal/streamhub"
)

// Exchange is the single Go-level interface adapters (HTTP, websocket, CLI)
// embed to reach the trading surface. It exposes exactly the submission and
// query operations the trading surface exposes.
type Exchange struct {
	Catalog   *catalog.Catalog
	Clock     *clock.Clock
	IDs       *clock.IDAllocator
	Oracle    *oracle.Oracle
	Positions *position.Manager
	Journal   *journal.Journal
	Hub       *streamhub.Hub
	Hedge     *hedge.Engine
	Matching  *matching.Engine
}

// Config bundles the constructor parameters that aren't themselves
// sub-components (i.e. don't already come with their own constructor).
type Config struct {
	SelfTradePrevention  bool
	LiquidationBufferBps int64
}

// New assembles an Exchange from already-constructed sub-components. Callers
// (main.go) build each component bottom-up — catalog, clock, journal, hub,
// oracle, positions, hedge — then call New to wire the matching engine on
// top, since matching is the only component that depends on all the others.
// metrics may be nil, in which case every component simply skips recording.
func New(cat *catalog.Catalog, clk *clock.Clock, ids *clock.IDAllocator, orc *oracle.Oracle, positions *position.Manager, j *journal.Journal, hub *streamhub.Hub, hedgeEngine *hedge.Engine, metrics *monitor.SystemMetrics, cfg Config) *Exchange {
	var sink matching.HedgeSink
	if hedgeEngine != nil {
		sink = hedgeEngine
		hedgeEngine.SetMetrics(metrics)
	}
	m := matching.New(cat, orc, positions, j, hub, clk, ids, sink, cfg.SelfTradePrevention)
	m.SetMetrics(metrics)

	orc.SetMetrics(metrics)
	orc.SetHub(hub)
	orc.SetOnUpdate(m.OnMarkUpdate)

	return &Exchange{
		Catalog:   cat,
		Clock:     clk,
		IDs:       ids,
		Oracle:    orc,
		Positions: positions,
		Journal:   j,
		Hub:       hub,
		Hedge:     hedgeEngine,
		Matching:  m,
	}
}

// Submit places a new order.
func (x *Exchange) Submit(req matching.SubmitRequest) (*book.Order, []book.Trade, error) {
	return x.Matching.Submit(req)
}

// Cancel cancels a resting order.
func (x *Exchange) Cancel(symbol string, orderID int64) (*book.Order, error) {
	return x.Matching.Cancel(symbol, orderID)
}

// Modify amends a resting order's price and/or quantity.
func (x *Exchange) Modify(symbol string, orderID int64, newPrice, newQty *int64) (*book.Order, error) {
	return x.Matching.Modify(symbol, orderID, newPrice, newQty)
}

// GetBBO returns the best bid/ask for symbol.
func (x *Exchange) GetBBO(symbol string) (bid int64, bidOK bool, ask int64, askOK bool) {
	return x.Matching.GetBBO(symbol)
}

// GetDepth returns the top n aggregated book levels per side.
func (x *Exchange) GetDepth(symbol string, n int) (bids, asks []book.PriceLevel) {
	return x.Matching.GetDepth(symbol, n)
}

// GetMark returns the current published mark price.
func (x *Exchange) GetMark(symbol string) (oracle.Mark, error) {
	return x.Oracle.Get(symbol, time.Now())
}

// GetPosition returns a user's position snapshot for symbol.
func (x *Exchange) GetPosition(userID, symbol string) position.Position {
	return x.Positions.GetPosition(userID, symbol)
}

// GetAccount returns a user's account snapshot.
func (x *Exchange) GetAccount(userID string) (position.Account, error) {
	return x.Positions.GetAccount(userID)
}

// GetOrdersOpen returns a user's resting orders for symbol.
func (x *Exchange) GetOrdersOpen(symbol, userID string) []*book.Order {
	return x.Matching.GetOrdersOpen(symbol, userID)
}
