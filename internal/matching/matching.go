// Package matching implements the Matching Engine: the pre-trade
// validation gate in front of each symbol's order book, wiring accepted
// fills into the Position Manager, the journal, and the Stream Hub in a
// fixed publish order.
package matching

import (
	"context"
	"log"
	"sync"
	"time"

	"exchange-core/internal/book"
	"exchange-core/internal/catalog"
	"exchange-core/internal/clock"
	"exchange-core/internal/errs"
	"exchange-core/internal/journal"
	"exchange-core/internal/monitor"
	"exchange-core/internal/oracle"
	"exchange-core/internal/position"
	"exchange-core/internal/streamhub"
)

// SubmitRequest is the validated-at-the-door shape of a new order.
type SubmitRequest struct {
	UserID string
	Symbol string
	Side   book.Side
	Type   book.OrderType
	Price  int64 // ignored for Market
	Qty    int64
}

// HedgeSink receives fill notifications for net-exposure tracking. The
// concrete implementation is internal/hedge.Engine; this interface exists
// so matching doesn't import hedge directly (hedge subscribes to position
// updates, matching only needs to report fills).
type HedgeSink interface {
	OnFill(ctx context.Context, symbol string, signedDelta int64)
}

type bookState struct {
	mu   sync.Mutex
	book *book.Book
	// byID indexes every order the engine has ever accepted for this symbol,
	// for cancel/modify/get_orders_open lookups; terminal orders are pruned
	// lazily on the next index walk rather than eagerly, since an eager
	// prune would require a second lock acquisition per fill.
	byID map[int64]*book.Order
}

// Engine owns one book.Book per symbol behind a per-symbol mutex, giving
// each symbol a single writer without a separate actor/goroutine-mailbox
// layer.
type Engine struct {
	catalog             *catalog.Catalog
	oracle              *oracle.Oracle
	positions           *position.Manager
	journalW            *journal.Journal
	hub                 *streamhub.Hub
	clk                 *clock.Clock
	ids                 *clock.IDAllocator
	hedge               HedgeSink
	selfTradePrevention bool
	metrics             *monitor.SystemMetrics

	mu    sync.RWMutex
	books map[string]*bookState
}

// SetMetrics wires a metrics sink so Submit records match latency and order
// counters. Optional: a nil sink (the default) just skips recording.
func (e *Engine) SetMetrics(m *monitor.SystemMetrics) {
	e.metrics = m
}

// New creates a Matching Engine. hedge may be nil when no hedge engine is
// wired (e.g. a symbol with Hedgeable=false everywhere, or test harnesses).
func New(cat *catalog.Catalog, orc *oracle.Oracle, positions *position.Manager, j *journal.Journal, hub *streamhub.Hub, clk *clock.Clock, ids *clock.IDAllocator, hedge HedgeSink, selfTradePrevention bool) *Engine {
	return &Engine{
		catalog:             cat,
		oracle:              orc,
		positions:           positions,
		journalW:            j,
		hub:                 hub,
		clk:                 clk,
		ids:                 ids,
		hedge:               hedge,
		selfTradePrevention: selfTradePrevention,
		books:               make(map[string]*bookState),
	}
}

func (e *Engine) bookFor(symbol string) *bookState {
	e.mu.RLock()
	bs, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return bs
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if bs, ok = e.books[symbol]; ok {
		return bs
	}
	bs = &bookState{
		book: book.New(symbol, e.selfTradePrevention, e.ids.Next),
		byID: make(map[int64]*book.Order),
	}
	e.books[symbol] = bs
	return bs
}

// validate runs the full pre-trade gate: symbol known/active, within
// trading hours, mark not stale, price on tick, quantity in bounds, and
// sufficient margin for the worst-case fill.
func (e *Engine) validate(req SubmitRequest) (catalog.Product, int64, error) {
	prod, err := e.catalog.Get(req.Symbol)
	if err != nil {
		return prod, 0, err
	}
	if !prod.Active {
		return prod, 0, errs.ErrSymbolInactive
	}
	now := e.clk.Now()
	nowTime := nanosToTime(now)
	if !prod.WithinTradingHours(nowTime) {
		return prod, 0, errs.ErrOutsideHours
	}
	if e.oracle.IsStale(req.Symbol, nowTime) {
		return prod, 0, errs.ErrMarkStale
	}
	if req.Type != book.Market && !prod.OnTick(req.Price) {
		return prod, 0, errs.ErrTickViolation
	}
	if !prod.WithinQtyBounds(req.Qty) {
		return prod, 0, errs.ErrQtyBounds
	}

	mark, err := e.oracle.Get(req.Symbol, nowTime)
	if err != nil {
		return prod, 0, err
	}
	refPrice := req.Price
	if req.Type == book.Market || refPrice == 0 {
		refPrice = int64(mark.Price)
	}
	requiredMargin := prod.RequiredInitialMargin(refPrice, req.Qty)

	marks := map[string]int64{req.Symbol: int64(mark.Price)}
	if err := e.positions.CheckMarginForOrder(req.UserID, marks, requiredMargin); err != nil {
		return prod, 0, err
	}
	return prod, now, nil
}

// Submit validates and submits a new order, applying every resulting fill
// to the Position Manager and publishing events in this order:
// order-accepted, trade* (one per fill), order-terminal for each resting
// maker cancelled by self-trade prevention, position-update (one per
// affected account), book-depth-change, order-terminal (if the order
// reached a terminal state synchronously).
func (e *Engine) Submit(req SubmitRequest) (*book.Order, []book.Trade, error) {
	if e.metrics != nil {
		timer := monitor.NewTimer(e.metrics.MatchLatency)
		defer timer.Stop()
	}

	_, now, err := e.validate(req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.IncrementErrors()
		}
		return nil, nil, err
	}

	order, trades, addErr := e.submitOrder(req, now, false)
	if addErr != nil && addErr != errs.ErrUnfilled && e.metrics != nil {
		e.metrics.IncrementErrors()
	}
	return order, trades, addErr
}

// SubmitLiquidation force-closes qty of userID's position in symbol at
// market, bypassing the margin check (the account is already at or below
// maintenance) but still routing through the book so the close prints as
// an ordinary trade. Called by the mark-update sweep once a position
// breaches maintenance margin.
func (e *Engine) SubmitLiquidation(userID, symbol string, side book.Side, qty int64) (*book.Order, []book.Trade, error) {
	prod, err := e.catalog.Get(symbol)
	if err != nil {
		return nil, nil, err
	}
	if !prod.Active {
		return nil, nil, errs.ErrSymbolInactive
	}
	req := SubmitRequest{UserID: userID, Symbol: symbol, Side: side, Type: book.Market, Qty: qty}
	return e.submitOrder(req, e.clk.Now(), true)
}

func (e *Engine) submitOrder(req SubmitRequest, now int64, liquidation bool) (*book.Order, []book.Trade, error) {
	bs := e.bookFor(req.Symbol)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	order := &book.Order{
		ID:           e.ids.Next(),
		Symbol:       req.Symbol,
		UserID:       req.UserID,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		OrigQty:      req.Qty,
		RemainingQty: req.Qty,
		CreatedAt:    now,
		Status:       book.StatusOpen,
		Liquidation:  liquidation,
	}
	bs.byID[order.ID] = order

	trades, cancels, addErr := bs.book.Add(order)

	if addErr == errs.ErrWouldCross {
		// rejected at the book, never accepted: no order-accepted event.
		delete(bs.byID, order.ID)
		e.journalW.Append(journal.KindOrderTerminal, req.Symbol, now, order)
		e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelOrder, Symbol: req.Symbol, Payload: order})
		return order, nil, addErr
	}

	e.journalW.Append(journal.KindOrderAccepted, req.Symbol, now, order)
	e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelOrder, Symbol: req.Symbol, Payload: order})
	if e.metrics != nil {
		e.metrics.IncrementOrders()
	}

	touched := make(map[string]struct{})
	for _, t := range trades {
		e.applyTrade(req.Symbol, t, touched)
		e.journalW.Append(journal.KindTrade, req.Symbol, now, t)
		e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelTrade, Symbol: req.Symbol, Payload: t})
		if e.metrics != nil {
			e.metrics.IncrementTrades()
		}
	}
	for _, c := range cancels {
		if o, ok := bs.byID[c.OrderID]; ok {
			e.journalW.Append(journal.KindOrderTerminal, req.Symbol, now, o)
			e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelOrder, Symbol: req.Symbol, Payload: o})
		}
	}
	for userID := range touched {
		pos := e.positions.GetPosition(userID, req.Symbol)
		e.journalW.Append(journal.KindPositionUpdate, req.Symbol, now, pos)
		e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelPosition, Symbol: req.Symbol, Payload: pos})
	}

	bids, asks := bs.book.Depth(10)
	e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelDepth, Symbol: req.Symbol, Payload: struct {
		Bids []book.PriceLevel
		Asks []book.PriceLevel
	}{bids, asks}})

	if order.IsTerminal() {
		e.journalW.Append(journal.KindOrderTerminal, req.Symbol, now, order)
		e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelOrder, Symbol: req.Symbol, Payload: order})
	}

	if addErr != nil && addErr != errs.ErrUnfilled {
		return order, trades, addErr
	}
	return order, trades, addErr
}

// OnMarkUpdate runs on every oracle mark update for symbol. It sweeps each
// account currently holding a position in symbol, recomputes equity and
// maintenance margin against the fresh mark (and every other symbol the
// account is exposed to), and for any account at or below maintenance
// margin, synthesizes a liquidation order that closes the most-at-risk
// position. Registered with the oracle via SetOnUpdate once every
// component is constructed.
func (e *Engine) OnMarkUpdate(symbol string, mark oracle.Mark) {
	nowTime := nanosToTime(e.clk.Now())
	for _, userID := range e.positions.UsersForSymbol(symbol) {
		marks := map[string]int64{symbol: int64(mark.Price)}
		for _, p := range e.positions.PositionsOf(userID) {
			if p.Symbol == symbol {
				continue
			}
			m, err := e.oracle.Get(p.Symbol, nowTime)
			if err != nil {
				continue
			}
			marks[p.Symbol] = int64(m.Price)
		}

		atRisk, risky := e.positions.MarkToMarket(userID, marks)
		if !risky || atRisk == nil {
			continue
		}

		side := book.Sell
		qty := atRisk.Size
		if qty < 0 {
			side = book.Buy
			qty = -qty
		}
		if _, _, err := e.SubmitLiquidation(userID, atRisk.Symbol, side, qty); err != nil {
			log.Printf("matching: liquidation failed user=%s symbol=%s: %v", userID, atRisk.Symbol, err)
			if e.metrics != nil {
				e.metrics.IncrementErrors()
			}
		}
	}
}

func (e *Engine) applyTrade(symbol string, t book.Trade, touched map[string]struct{}) {
	nowTime := nanosToTime(e.clk.Now())
	mark, _ := e.oracle.Get(symbol, nowTime)
	markPx := int64(mark.Price)

	takerDelta := t.Qty
	if t.TakerSide == book.Sell {
		takerDelta = -t.Qty
	}
	makerDelta := -takerDelta

	if _, err := e.positions.ApplyFill(t.TakerUserID, symbol, takerDelta, t.Price, markPx); err == nil {
		touched[t.TakerUserID] = struct{}{}
	}
	if _, err := e.positions.ApplyFill(t.MakerUserID, symbol, makerDelta, t.Price, markPx); err == nil {
		touched[t.MakerUserID] = struct{}{}
	}

	if e.hedge != nil {
		e.hedge.OnFill(context.Background(), symbol, takerDelta)
	}
}

// Cancel cancels a resting order.
func (e *Engine) Cancel(symbol string, orderID int64) (*book.Order, error) {
	bs := e.bookFor(symbol)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	o, err := bs.book.Cancel(orderID)
	if err != nil {
		return nil, err
	}
	now := e.clk.Now()
	e.journalW.Append(journal.KindOrderTerminal, symbol, now, o)
	e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelOrder, Symbol: symbol, Payload: o})
	return o, nil
}

// Modify applies an in-place or cancel+re-add modification.
func (e *Engine) Modify(symbol string, orderID int64, newPrice, newQty *int64) (*book.Order, error) {
	bs := e.bookFor(symbol)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	o, err := bs.book.Modify(orderID, newPrice, newQty)
	if err != nil {
		return nil, err
	}
	now := e.clk.Now()
	e.journalW.Append(journal.KindOrderAccepted, symbol, now, o)
	e.hub.Publish(streamhub.Event{Channel: streamhub.ChannelOrder, Symbol: symbol, Payload: o})
	return o, nil
}

// GetBBO returns the best bid/ask for symbol.
func (e *Engine) GetBBO(symbol string) (bid int64, bidOK bool, ask int64, askOK bool) {
	bs := e.bookFor(symbol)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.book.BBO()
}

// GetDepth returns the top n aggregated levels per side for symbol.
func (e *Engine) GetDepth(symbol string, n int) (bids, asks []book.PriceLevel) {
	bs := e.bookFor(symbol)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.book.Depth(n)
}

// GetOrdersOpen returns every non-terminal order userID has resting on symbol.
func (e *Engine) GetOrdersOpen(symbol, userID string) []*book.Order {
	bs := e.bookFor(symbol)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	var out []*book.Order
	for id, o := range bs.byID {
		if o.IsTerminal() {
			delete(bs.byID, id)
			continue
		}
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

func nanosToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
